// Package bench — pipeline-latency/main.go
//
// Per-tick latency measurement tool.
//
// Measures the wall-clock time of one full Watchdog-less tick (Fusion ->
// Structure -> Chaos -> Decision) using clock readings around each stage,
// repeated for a configurable number of synthetic ticks with mildly varying
// inputs (so the temporal engine's ring buffers do real work rather than
// short-circuiting on identical repeats).
//
// Output CSV columns: iteration, fusion_us, structure_us, chaos_us,
// decision_us, total_us
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/emberwatch/emberwatch/internal/chaos"
	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/structure"
	"github.com/emberwatch/emberwatch/internal/temporal"
)

// tickBudgetUs is the §7 per-tick latency budget (<10ms), in microseconds.
const tickBudgetUs = 10000

func main() {
	iterations := flag.Int("iterations", 5000, "Number of ticks to measure")
	outputFile := flag.String("output", "pipeline_latency_raw.csv", "Output CSV file path")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "fusion_us", "structure_us", "chaos_us", "decision_us", "total_us"})

	fz := fusion.New(fusion.DefaultWeights(), temporal.NewLightweight())
	sg := structure.New()
	ck := chaos.New()
	dc := decision.New(decision.DefaultConfig(), nil)

	totalHist := make([]int, tickBudgetUs*4+1)
	now := time.Now()

	for i := 0; i < *iterations; i++ {
		voc := 50 + 100*math.Sin(float64(i)/37)
		validated := []domain.ValidatedReading{
			{SensorID: "voc-1", Kind: domain.KindVOC, Present: true, Reliability: 0.9, Value: domain.ScalarValue(voc)},
			{SensorID: "soil-1", Kind: domain.KindSoilMoisture, Present: true, Reliability: 0.9, Value: domain.ScalarValue(40)},
			{SensorID: "temp-1", Kind: domain.KindTemperature, Present: true, Reliability: 0.9, Value: domain.ScalarValue(28)},
		}
		now = now.Add(time.Second)

		t0 := time.Now()
		env := fz.Fuse(validated, 0, now)
		t1 := time.Now()
		structResult := sg.Observe(env.FireRiskScore, 0, now)
		t2 := time.Now()
		trend := 0.0
		if env.Temporal != nil {
			trend = env.Temporal.ChemicalTrend
		}
		chaosResult := ck.Observe(env.FireRiskScore, trend, now)
		t3 := time.Now()
		input := decision.FromStages(env, structResult, chaosResult, nil)
		_ = dc.Classify(input)
		t4 := time.Now()

		fusionUs := t1.Sub(t0).Microseconds()
		structureUs := t2.Sub(t1).Microseconds()
		chaosUs := t3.Sub(t2).Microseconds()
		decisionUs := t4.Sub(t3).Microseconds()
		totalUs := t4.Sub(t0).Microseconds()

		if int(totalUs) < len(totalHist) {
			totalHist[totalUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.FormatInt(fusionUs, 10),
			strconv.FormatInt(structureUs, 10),
			strconv.FormatInt(chaosUs, 10),
			strconv.FormatInt(decisionUs, 10),
			strconv.FormatInt(totalUs, 10),
		})
	}

	p50, p95, p99 := computePercentiles(totalHist, *iterations)

	fmt.Printf("Per-tick Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Budget: %dus\n", tickBudgetUs)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > tickBudgetUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds the %dus per-tick budget\n", p99, tickBudgetUs)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}

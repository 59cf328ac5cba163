// Package main — cmd/emberwatch-scenario/main.go
//
// EMBERWATCH Scenario Replayer.
//
// Purpose: replay the six literal end-to-end scenarios against the real
// Fusion/Structure/Chaos/Decision stack and report whether each tick's
// output matches the documented expectation, in the same "drive a model
// forward and report pass/fail" spirit as the dominance simulator this
// command is adapted from — except here the model under test is the
// production pipeline itself, not a synthetic attacker-mutation curve.
//
// Visual modality inputs are synthesized as low-texture vs. high-texture
// greyscale rasters (smoke reduces local variance); this is an
// approximation of a real camera feed, not a replay of recorded frames.
//
// Output: per-tick table to stdout (tick, tier, state, risk, fire_detected).
// Summary: PASS/FAIL per scenario to stderr; exit 0 if all pass, 2 otherwise.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/emberwatch/emberwatch/internal/chaos"
	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/mesh"
	"github.com/emberwatch/emberwatch/internal/structure"
	"github.com/emberwatch/emberwatch/internal/temporal"
)

// tickResult is one row of the replay table.
type tickResult struct {
	Tick         int
	Tier         decision.Tier
	State        decision.SystemState
	Risk         float64
	FireDetected bool
	ShouldAlert  bool
}

// scenario bundles a name, a per-tick input generator, and a pass/fail check
// over the resulting tick table.
type scenario struct {
	Name  string
	Ticks int
	Input func(tick int) (voc, soilMoisture, tempC float64, visualNoise float64)
	Check func(rows []tickResult) (bool, string)
}

func main() {
	scenarios := []scenario{
		cleanBaselineScenario(),
		chemicalSpikeScenario(),
		coherentFireScenario(),
		wetChemicalSpikeScenario(),
	}

	allPassed := true
	for _, sc := range scenarios {
		rows := runScenario(sc)
		printTable(sc.Name, rows)
		ok, detail := sc.Check(rows)
		status := "PASS"
		if !ok {
			status = "FAIL"
			allPassed = false
		}
		fmt.Fprintf(os.Stderr, "[%s] %s — %s\n", status, sc.Name, detail)
	}

	witnessOK, witnessDetail := witnessEscalationScenario()
	printWitnessStatus(witnessOK, witnessDetail, &allPassed)

	gaspOK, gaspDetail := dyingGaspScenario()
	printWitnessStatus(gaspOK, gaspDetail, &allPassed)

	if allPassed {
		fmt.Fprintln(os.Stderr, "\nRESULT: PASS — all scenarios matched their documented expectation")
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, "\nRESULT: FAIL — one or more scenarios diverged from its documented expectation")
	os.Exit(2)
}

func printWitnessStatus(ok bool, detail string, allPassed *bool) {
	status := "PASS"
	if !ok {
		status = "FAIL"
		*allPassed = false
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", status, detail)
}

func runScenario(sc scenario) []tickResult {
	fz := fusion.New(fusion.DefaultWeights(), temporal.NewLightweight())
	sg := structure.New()
	ck := chaos.New()
	dc := decision.New(decision.DefaultConfig(), nil)

	rows := make([]tickResult, 0, sc.Ticks)
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	for t := 0; t < sc.Ticks; t++ {
		voc, soilMoisture, tempC, visualNoise := sc.Input(t)
		now := start.Add(time.Duration(t) * time.Second)

		validated := buildValidatedReadings(voc, soilMoisture, tempC, visualNoise)

		env := fz.Fuse(validated, 0, now)
		structResult := sg.Observe(env.FireRiskScore, 0, now)

		trendValue := 0.0
		if env.Temporal != nil {
			trendValue = env.Temporal.ChemicalTrend
		}
		chaosResult := ck.Observe(env.FireRiskScore, trendValue, now)

		input := decision.FromStages(env, structResult, chaosResult, nil)
		dec := dc.Classify(input)

		rows = append(rows, tickResult{
			Tick: t, Tier: dec.Tier, State: dec.SystemState, Risk: dec.RiskScore,
			FireDetected: env.FireDetected, ShouldAlert: dec.ShouldAlert,
		})
	}
	return rows
}

// buildValidatedReadings constructs the literal sensor envelopes a tick
// would have produced from Watchdog; visualNoise parameterizes a synthetic
// 32x32 single-channel raster whose low-texture patch fraction stands in
// for "visual_score" (0 = sharp/clean, 1 = smoke-flattened).
func buildValidatedReadings(voc, soilMoisture, tempC, visualNoise float64) []domain.ValidatedReading {
	readings := []domain.ValidatedReading{
		scalarReading(domain.KindVOC, voc),
		scalarReading(domain.KindSoilMoisture, soilMoisture),
		scalarReading(domain.KindTemperature, tempC),
	}
	if visualNoise >= 0 {
		readings = append(readings, domain.ValidatedReading{
			SensorID: "cam-1", Kind: domain.KindImage, Present: true, Reliability: 0.9,
			Value: domain.RasterValue(syntheticRaster(visualNoise)),
		})
	}
	return readings
}

func scalarReading(kind domain.Kind, v float64) domain.ValidatedReading {
	return domain.ValidatedReading{
		SensorID: kind.String() + "-1", Kind: kind, Present: true, Reliability: 0.95,
		Value: domain.ScalarValue(v),
	}
}

// syntheticRaster produces a 32x32 greyscale frame whose low-texture
// fraction rises with smokeLevel: a clean frame is high-frequency noise
// (sharp edges, no flat patches); a smoky frame flattens progressively
// larger patches toward a uniform grey.
func syntheticRaster(smokeLevel float64) domain.Raster {
	const h, w = 32, 32
	rng := rand.New(rand.NewSource(42))
	data := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			patchFlat := (float64((y/16)*2+x/16) / 4) < smokeLevel
			if patchFlat {
				data[y*w+x] = 0.5
			} else {
				data[y*w+x] = 0.3 + 0.4*rng.Float64()
			}
		}
	}
	return domain.Raster{Channels: 1, Height: h, Width: w, Data: data}
}

func printTable(name string, rows []tickResult) {
	fmt.Printf("\n=== %s ===\n", name)
	fmt.Printf("%-6s %-8s %-10s %-8s %-14s %-8s\n", "tick", "tier", "state", "risk", "fire_detected", "alert")
	// Print a sampled subset for long scenarios: first 3, last 3, and any tier change.
	lastTier := decision.Tier("")
	for i, r := range rows {
		changed := r.Tier != lastTier
		lastTier = r.Tier
		if i < 3 || i >= len(rows)-3 || changed {
			fmt.Printf("%-6d %-8s %-10s %-8.3f %-14v %-8v\n", r.Tick, r.Tier, r.State, r.Risk, r.FireDetected, r.ShouldAlert)
		}
	}
}

func cleanBaselineScenario() scenario {
	return scenario{
		Name:  "1. Clean baseline",
		Ticks: 60,
		Input: func(tick int) (float64, float64, float64, float64) {
			return 70, 60, 22, 0 // VOC near baseline, moist soil, mild temp, sharp camera.
		},
		Check: func(rows []tickResult) (bool, string) {
			for _, r := range rows {
				if r.Tier != decision.TierGreen || r.State != decision.StateSleep || r.ShouldAlert {
					return false, fmt.Sprintf("expected Green/Sleep/no-alert throughout, tick %d was %s/%s/alert=%v", r.Tick, r.Tier, r.State, r.ShouldAlert)
				}
			}
			return true, "every tick stayed Green/Sleep with should_alert=false"
		},
	}
}

func chemicalSpikeScenario() scenario {
	return scenario{
		Name:  "2. Chemical-only spike",
		Ticks: 40,
		Input: func(tick int) (float64, float64, float64, float64) {
			if tick < 31 {
				return 100, 60, 22, 0
			}
			return 260, 60, 22, 0 // VOC 100->260 PPM at tick 31: rapid_change (260 > 2x100).
		},
		Check: func(rows []tickResult) (bool, string) {
			crossedYellow := false
			for _, r := range rows[31:] {
				if r.Tier == decision.TierYellow || r.Tier == decision.TierOrange || r.Tier == decision.TierRed {
					crossedYellow = true
				}
				if r.ShouldAlert {
					return false, fmt.Sprintf("tick %d: expected should_alert=false for a chemical-only spike, got true", r.Tick)
				}
			}
			if !crossedYellow {
				return false, "expected the tier to cross into Yellow or above within a few ticks of the VOC spike"
			}
			return true, "tier crossed into Yellow+ after the spike with should_alert=false throughout"
		},
	}
}

func coherentFireScenario() scenario {
	return scenario{
		Name:  "3. Coherent fire",
		Ticks: 61,
		Input: func(tick int) (float64, float64, float64, float64) {
			if tick < 21 {
				return 70, 20, 22, 0
			}
			frac := float64(tick-21) / float64(60-21)
			voc := 50 + (0.3+frac*0.5)*(400-50) // chem rises 0.3->0.8 on the normalized [baseline,danger] band.
			visFrac := frac * 0.7
			return voc, 20, 40, visFrac // soil dryness 0.8 -> moisture 20%, temperature 40C.
		},
		Check: func(rows []tickResult) (bool, string) {
			last := rows[len(rows)-1]
			if last.Tier != decision.TierRed {
				return false, fmt.Sprintf("expected tier Red by the final tick, got %s (risk=%.3f)", last.Tier, last.Risk)
			}
			if !last.ShouldAlert {
				return false, "expected should_alert=true by the final tick"
			}
			return true, fmt.Sprintf("reached tier Red with risk=%.3f and should_alert=true", last.Risk)
		},
	}
}

func wetChemicalSpikeScenario() scenario {
	return scenario{
		Name:  "4. Wet chemical spike",
		Ticks: 40,
		Input: func(tick int) (float64, float64, float64, float64) {
			if tick < 31 {
				return 100, 75, 22, 0
			}
			return 260, 75, 22, 0 // same VOC spike as scenario 2, but soil moisture 75%.
		},
		Check: func(rows []tickResult) (bool, string) {
			for _, r := range rows {
				if r.Tier == decision.TierOrange || r.Tier == decision.TierRed {
					return false, fmt.Sprintf("tick %d: expected tier to stay <= Yellow under wet contextual modulation, got %s", r.Tick, r.Tier)
				}
			}
			return true, "tier stayed <= Yellow throughout, consistent with contextual modulation damping the chemical signal"
		},
	}
}

// witnessEscalationScenario replays scenario 5 directly against the mesh
// Aggregator: three Drones each report risk 0.75 within the aggregation
// window, which must synthesize an escalated P1 satellite AggregatedAlert.
func witnessEscalationScenario() (bool, string) {
	agg := mesh.NewAggregator(mesh.DefaultAggregatorConfig())
	now := time.Now()
	agg.Record("drone-a", 0.75, now)
	agg.Record("drone-b", 0.75, now.Add(10*time.Second))
	agg.Record("drone-c", 0.75, now.Add(20*time.Second))

	alert, escalated := agg.Evaluate(now.Add(30*time.Second), "fire-0001")
	if !escalated || alert == nil {
		return false, "5. Drone->Queen witness escalation — expected an escalated AggregatedAlert, got none"
	}
	if alert.Priority != mesh.PriorityP1 || alert.Channel != mesh.ChannelSatellite || len(alert.SourceDrones) != 3 {
		return false, fmt.Sprintf("5. Drone->Queen witness escalation — expected P1/satellite/3 drones, got %v/%v/%d", alert.Priority, alert.Channel, len(alert.SourceDrones))
	}
	return true, fmt.Sprintf("5. Drone->Queen witness escalation — AggregatedAlert escalated=true priority=P1 channel=satellite drones=%v", alert.SourceDrones)
}

// dyingGaspScenario replays scenario 6's transmission step: a P1 dying-gasp
// alert sent through mesh.Transmitter must try satellite first, even from a
// Drone.
func dyingGaspScenario() (bool, string) {
	var uplinked *mesh.Alert
	tx := &mesh.Transmitter{Satellite: func(a mesh.Alert) bool { uplinked = &a; return true }}
	alert := mesh.Alert{Priority: mesh.PriorityP1, NodeID: "drone-a", RiskScore: 1.0, DyingGasp: true}
	sent, ch := tx.Send(mesh.NodeIdentity{NodeID: "drone-a", Role: mesh.RoleDrone}, alert)
	if !sent || ch != mesh.ChannelSatellite || uplinked == nil || !uplinked.DyingGasp || uplinked.Priority != mesh.PriorityP1 {
		return false, fmt.Sprintf("6. Dying gasp — expected a P1 dying-gasp alert to go out over satellite, got sent=%v channel=%q", sent, ch)
	}
	return true, "6. Dying gasp — P1 dying-gasp alert attempted satellite first and was sent, even from a Drone"
}

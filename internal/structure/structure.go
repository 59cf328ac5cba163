// Package structure implements Stage S: a Hurst-exponent fractal gate
// distinguishing structured signals from noise, and the trauma-adaptive
// threshold that gates Stage V (§4.5). Structure owns its own bounded risk
// ring (cap 120, min 30) — no other stage mutates it (§3).
package structure

import (
	"math"
	"time"

	"github.com/emberwatch/emberwatch/internal/ring"
	"github.com/emberwatch/emberwatch/internal/stats"
)

const (
	ringCap  = 120
	minWindow = 30
	baseHurst = 1.1
)

// Result is StructureResult (§3).
type Result struct {
	Hurst             float64
	HasStructure      bool
	Persistence       float64
	Confidence        float64
	AdaptiveThreshold float64
	BaseThreshold     float64
	TraumaLevel       float64
	QualityScore      float64
}

// Gate is Stage S, maintaining the bounded risk-scalar ring.
type Gate struct {
	history *ring.Float
	base    float64
}

// New creates a Gate with the default base Hurst threshold (1.1).
func New() *Gate {
	return &Gate{history: ring.NewFloat(ringCap), base: baseHurst}
}

// SetBaseThreshold overrides the default base (config structure.base_hurst_threshold).
func (g *Gate) SetBaseThreshold(b float64) { g.base = b }

// Observe pushes a new risk scalar and recomputes the Hurst exponent (§4.5).
func (g *Gate) Observe(risk float64, trauma float64, ts time.Time) Result {
	g.history.Push(risk, ts)
	series := g.history.Values()
	n := len(series)

	if n < minWindow {
		return Result{
			Hurst: 0.5, HasStructure: false, Confidence: 0,
			BaseThreshold: g.base, TraumaLevel: trauma,
			AdaptiveThreshold: adaptiveThreshold(g.base, trauma),
		}
	}

	h := hurstExponent(series)
	confidence := float64(n) / 60
	if confidence > 1 {
		confidence = 1
	}

	adaptive := adaptiveThreshold(g.base, trauma)
	hasStructure := h > adaptive && confidence > 0.6

	return Result{
		Hurst: h, HasStructure: hasStructure, Persistence: persistenceOf(series),
		Confidence: confidence, AdaptiveThreshold: adaptive, BaseThreshold: g.base,
		TraumaLevel: trauma, QualityScore: confidence * clamp01(h/2),
	}
}

// ShouldActivateVision implements should_activate_vision() (§4.5): the sole
// mechanism turning Stage V on.
func (r Result) ShouldActivateVision() bool {
	return r.HasStructure && r.Confidence > 0.7
}

// adaptiveThreshold implements clamp(base*(1.1-trauma), 0.05, base*1.1) (§4.5).
func adaptiveThreshold(base, trauma float64) float64 {
	return stats.Clamp(base*(1.1-trauma), 0.05, base*1.1)
}

// hurstExponent implements the rescaled-range estimator: detrend, cumulative
// sum, R = max-min of cumsum, S = stdev(series), H = ln(R/S)/ln(n).
// Guards against degenerate cases (S=0 or R=0 -> H=0.5).
func hurstExponent(series []float64) float64 {
	n := len(series)
	mean := stats.Mean(series)
	detrended := make([]float64, n)
	for i, v := range series {
		detrended[i] = v - mean
	}
	cumsum := make([]float64, n)
	running := 0.0
	for i, v := range detrended {
		running += v
		cumsum[i] = running
	}
	maxC, minC := cumsum[0], cumsum[0]
	for _, v := range cumsum {
		if v > maxC {
			maxC = v
		}
		if v < minC {
			minC = v
		}
	}
	r := maxC - minC
	s := stats.StdDev(series)
	if s == 0 || r == 0 {
		return 0.5
	}
	return math.Log(r/s) / math.Log(float64(n))
}

// persistenceOf derives a bounded [0,1] persistence estimate from the recent
// share of above-median samples, independent of the temporal package's own
// persistence accumulator (distinct owners per §3).
func persistenceOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	m := stats.Mean(series)
	above := 0
	for _, v := range series {
		if v > m {
			above++
		}
	}
	return clamp01(float64(above) / float64(len(series)))
}

func clamp01(v float64) float64 { return stats.Clamp(v, 0, 1) }

// Package temporal implements Stage T: a streaming state-space model that
// augments the fusion risk scalar with trend, persistence, and cross-modal
// lag (§4.4). Two interchangeable implementations satisfy the Engine
// capability interface, selected once at construction (§9 "Polymorphic Mamba
// backends") — no subclassing, no runtime type switches elsewhere.
package temporal

import (
	"math"
	"time"

	"github.com/emberwatch/emberwatch/internal/ring"
)

// Trend classifies the short-term direction of the fused risk signal.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Perceptual is the query result exposed by perceptual() (§4.4).
type Perceptual struct {
	FusedScore        float64
	Trend             Trend
	Confidence        float64
	ModalityAgreement float64
	ChemicalTrend     float64
	VisualTrend       float64
	Persistence       float64
	CrossModalLag     int
}

// State is TemporalState, owned exclusively by the active TemporalEngine (§3).
type State struct {
	Hidden            []float64 // fixed-dim vector, len=8 for the lightweight SSM
	ChemicalTrend     float64
	VisualTrend       float64
	EnvironmentalTrend float64
	Persistence       float64
	CrossModalLag     int
	TemporalConfidence float64
	LastTS            time.Time
}

// Stats is a small diagnostic bundle returned by stats(), mirroring the
// window sizes and sample counts used internally.
type Stats struct {
	WindowLen int
	HiddenDim int
}

// Engine is the capability interface both SSM implementations satisfy (§9).
type Engine interface {
	Update(chem, vis, env float64, ts time.Time) State
	Perceptual() Perceptual
	Stats() Stats
	Reset()
}

const (
	historyCap  = 60
	hiddenDim   = 8
	trendAlpha  = 0.1
	persistenceGrow  = 0.05
	persistenceDecay = 0.95
)

// window holds the shared ring-buffer bookkeeping used by both engine
// implementations to derive trend/persistence/lag (§4.4 "Derived quantities
// from the sliding ring buffer").
type window struct {
	chem *ring.Float
	vis  *ring.Float
	env  *ring.Float

	chemTrend float64
	visTrend  float64
	envTrend  float64
	persistence float64
	hasPrevChem bool
	prevChem    float64
	hasPrevVis  bool
	prevVis     float64
	hasPrevEnv  bool
	prevEnv     float64
}

func newWindow() *window {
	return &window{
		chem: ring.NewFloat(historyCap),
		vis:  ring.NewFloat(historyCap),
		env:  ring.NewFloat(historyCap),
	}
}

func (w *window) push(chem, vis, env float64, ts time.Time) {
	w.chemTrend = ema(w.chemTrend, diffOrZero(w.hasPrevChem, w.prevChem, chem), trendAlpha, w.chem.Len() == 0)
	w.visTrend = ema(w.visTrend, diffOrZero(w.hasPrevVis, w.prevVis, vis), trendAlpha, w.vis.Len() == 0)
	w.envTrend = ema(w.envTrend, diffOrZero(w.hasPrevEnv, w.prevEnv, env), trendAlpha, w.env.Len() == 0)
	w.prevChem, w.hasPrevChem = chem, true
	w.prevVis, w.hasPrevVis = vis, true
	w.prevEnv, w.hasPrevEnv = env, true

	w.chem.Push(chem, ts)
	w.vis.Push(vis, ts)
	w.env.Push(env, ts)

	fused := 0.5*chem + 0.3*vis + 0.2*env
	if fused > 0.5 {
		w.persistence += persistenceGrow
		if w.persistence > 1 {
			w.persistence = 1
		}
	} else {
		w.persistence *= persistenceDecay
	}
}

func ema(prev, sample, alpha float64, first bool) float64 {
	if first {
		return sample
	}
	return alpha*sample + (1-alpha)*prev
}

func diffOrZero(has bool, prev, cur float64) float64 {
	if !has {
		return 0
	}
	return cur - prev
}

func (w *window) trendOf(diff float64) Trend {
	switch {
	case diff > 0.01:
		return TrendRising
	case diff < -0.01:
		return TrendFalling
	default:
		return TrendStable
	}
}

// crossModalLag finds the first 1-sigma-above-mean spike index for the
// chemical and visual channels and returns visual_index - chemical_index.
// Returns 0 when fewer than 20 samples are available (§4.4).
func (w *window) crossModalLag() int {
	chemVals := w.chem.Values()
	visVals := w.vis.Values()
	if len(chemVals) < 20 || len(visVals) < 20 {
		return 0
	}
	ci := firstSpikeIndex(chemVals)
	vi := firstSpikeIndex(visVals)
	if ci < 0 || vi < 0 {
		return 0
	}
	return vi - ci
}

func firstSpikeIndex(xs []float64) int {
	m, sd := meanStd(xs)
	threshold := m + sd
	for i, x := range xs {
		if x > threshold {
			return i
		}
	}
	return -1
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return m, math.Sqrt(sq / float64(len(xs)))
}

// temporalConfidence computes the 0.4/0.4/0.2 blend of history, stability,
// and clarity factors (§4.4).
func (w *window) temporalConfidence(hiddenEnergyVar float64) float64 {
	n := w.chem.Len()
	historyFactor := float64(n) / 30
	if historyFactor > 1 {
		historyFactor = 1
	}
	stabilityFactor := 1 / (1 + hiddenEnergyVar)
	clarity := absf(w.chemTrend) + absf(w.visTrend)
	if clarity > 1 {
		clarity = 1
	}
	return 0.4*historyFactor + 0.4*stabilityFactor + 0.2*clarity
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

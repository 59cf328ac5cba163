// Package fusion implements Stage F: multi-modal weighted fusion producing
// a unified risk scalar with cross-modal agreement (§4.3), composed with
// Stage T's temporal augmentation (§4.4).
package fusion

import (
	"time"

	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/modality"
	"github.com/emberwatch/emberwatch/internal/ring"
	"github.com/emberwatch/emberwatch/internal/temporal"
)

// EnvState is Fusion's output (§3).
type EnvState struct {
	TS                  time.Time
	Chemical            modality.ChemicalFeatures
	Visual              modality.VisualFeatures
	Environmental       modality.EnvironmentalFeatures
	CrossModalAgreement float64
	OverallConfidence   float64
	DisagreementFlags   []string
	FireRiskScore       float64
	FireDetected        bool
	RawCount            int
	ValidCount          int
	ImputedCount        int
	PhaseOneTrauma      float64
	Temporal            *temporal.Perceptual
}

const historyCap = 100

// Weights are the fusion weights (config §6 fusion.weights).
type Weights struct {
	Chemical      float64
	Visual        float64
	Environmental float64
}

// DefaultWeights returns the spec default {0.5, 0.3, 0.2}.
func DefaultWeights() Weights { return Weights{Chemical: 0.5, Visual: 0.3, Environmental: 0.2} }

// Fusion owns the modality-processor baselines, the temporal engine, and
// the bounded EnvState history (§3, §4.3).
type Fusion struct {
	weights     Weights
	smoothingAlpha float64
	enableSmoothing bool
	enableContextualModulation bool

	chemBaseline *modality.ChemicalBaseline
	visBaseline  *modality.VisualBaseline
	envTracker   *modality.EnvironmentalTracker

	engine temporal.Engine

	history *ring.Float // fire_risk_score history, cap 100
	prev    *EnvState
}

// New creates a Fusion stage with the given weights and temporal engine.
func New(weights Weights, engine temporal.Engine) *Fusion {
	return &Fusion{
		weights:                    weights,
		smoothingAlpha:             0.7,
		enableSmoothing:            true,
		enableContextualModulation: true,
		chemBaseline:               &modality.ChemicalBaseline{},
		visBaseline:                &modality.VisualBaseline{},
		envTracker:                 &modality.EnvironmentalTracker{},
		engine:                     engine,
		history:                    ring.NewFloat(historyCap),
	}
}

// SetSmoothingAlpha overrides the default EMA alpha (0.7).
func (f *Fusion) SetSmoothingAlpha(a float64) { f.smoothingAlpha = a }

// SetEnableSmoothing toggles temporal smoothing (config fusion.temporal_smoothing).
func (f *Fusion) SetEnableSmoothing(b bool) { f.enableSmoothing = b }

// SetEnableContextualModulation toggles step 2 (config fusion.enable_contextual_modulation).
func (f *Fusion) SetEnableContextualModulation(b bool) { f.enableContextualModulation = b }

// Fuse implements the Fusion contract (§4.3): fuse(validated, trauma) -> EnvState.
func (f *Fusion) Fuse(validated []domain.ValidatedReading, trauma float64, now time.Time) EnvState {
	raw := len(validated)
	valid := 0
	imputed := 0
	for _, v := range validated {
		if v.Present {
			valid++
			if v.Imputed {
				imputed++
			}
		}
	}

	chem := modality.Chemical(validated, f.chemBaseline)
	vis := modality.Visual(validated, f.visBaseline)
	env := modality.Environmental(validated, f.envTracker)

	// Step 2: contextual modulation.
	if f.enableContextualModulation {
		factor := contextualFactor(env.SoilDryness)
		chem.VOCLevel *= factor
		chem.CombustionByproducts *= factor
	}

	// Step 3: cross-modal agreement.
	chemIndicator := chemicalIndicator(chem)
	visIndicator := visualIndicator(vis)
	envIndicator := environmentalIndicator(env)
	indicators := []float64{chemIndicator, visIndicator, envIndicator}
	agreement := agreementOf(indicators)

	// Step 4: disagreement flags.
	flags := disagreementFlags(chemIndicator, visIndicator, envIndicator)

	// Step 5: overall confidence.
	confidence := overallConfidence(validated, float64(imputed)/maxf(float64(raw), 1))

	// Step 6: risk.
	base := f.weights.Chemical*chemIndicator + f.weights.Visual*visIndicator + f.weights.Environmental*envIndicator
	if chem.RapidChangeDetected {
		base *= 1.2
	}
	risk := clamp01(base * (0.5 + 0.5*agreement))

	var temporalMeta *temporal.Perceptual
	if f.engine != nil {
		f.engine.Update(chemIndicator, visIndicator, envIndicator, now)
		p := f.engine.Perceptual()
		temporalMeta = &p
		risk = f.applyTemporal(risk, p)
	}

	// Step 7: temporal smoothing across ticks.
	if f.enableSmoothing && f.prev != nil {
		risk = f.smoothingAlpha*risk + (1-f.smoothingAlpha)*f.prev.FireRiskScore
	}
	risk = clamp01(risk)

	// Step 8: fire decision.
	fireDetected := f.fireDecision(risk, agreement, confidence, temporalMeta, chemIndicator, visIndicator)

	state := EnvState{
		TS: now, Chemical: chem, Visual: vis, Environmental: env,
		CrossModalAgreement: agreement, OverallConfidence: confidence,
		DisagreementFlags: flags, FireRiskScore: risk, FireDetected: fireDetected,
		RawCount: raw, ValidCount: valid, ImputedCount: imputed,
		PhaseOneTrauma: trauma, Temporal: temporalMeta,
	}

	f.history.Push(risk, now)
	f.prev = &state
	return state
}

func (f *Fusion) applyTemporal(risk float64, p temporal.Perceptual) float64 {
	trendMul := 1.0
	switch p.Trend {
	case temporal.TrendFalling:
		trendMul = 0.8
	case temporal.TrendRising:
		trendMul = 1.2
	}
	persistenceMul := 1 + 0.3*p.Persistence
	lagMul := 1.0
	if p.CrossModalLag > 10 && p.CrossModalLag < 30 {
		lagMul = 1.3
	}
	return clamp01(risk * trendMul * persistenceMul * lagMul)
}

func (f *Fusion) fireDecision(risk, agreement, confidence float64, t *temporal.Perceptual, chem, vis float64) bool {
	if confidence < 0.5 {
		return false
	}
	if risk > 0.85 {
		return true
	}
	if risk > 0.70 && agreement > 0.6 {
		return true
	}
	if t != nil {
		if t.Trend == temporal.TrendRising && t.Persistence > 0.6 && risk > 0.6 {
			return true
		}
		if t.CrossModalLag > 15 && chem > 0.7 && vis > 0.5 {
			return true
		}
	}
	return false
}

func contextualFactor(dryness float64) float64 {
	// Wet (low dryness) discounts toward 0.5; dry (high dryness) amplifies
	// toward 1.3 (§4.3 step 2).
	f := 0.5 + dryness*0.8
	if f < 0.5 {
		f = 0.5
	}
	if f > 1.3 {
		f = 1.3
	}
	return f
}

func chemicalIndicator(c modality.ChemicalFeatures) float64 {
	return mean(c.VOCLevel, c.TerpeneLevel, c.CombustionByproducts)
}

func visualIndicator(v modality.VisualFeatures) float64 {
	return mean(v.SmokePresence, v.ColorShift, v.BrightnessAnomaly, v.SpatialDiffusion)
}

func environmentalIndicator(e modality.EnvironmentalFeatures) float64 {
	return mean(e.IgnitionSusceptibility, e.LatentRisk)
}

func mean(xs ...float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// agreementOf implements agreement = max(0, 1 - var(indicators)/0.25).
func agreementOf(indicators []float64) float64 {
	m := mean(indicators...)
	var sq float64
	for _, x := range indicators {
		d := x - m
		sq += d * d
	}
	v := sq / float64(len(indicators))
	a := 1 - v/0.25
	if a < 0 {
		return 0
	}
	return a
}

func disagreementFlags(chem, vis, env float64) []string {
	var flags []string
	if chem > 0.6 && vis < 0.2 {
		flags = append(flags, "chemical_high_visual_low")
	}
	if (chem > 0.5 || vis > 0.5) && env < 0.2 {
		flags = append(flags, "fire_signals_in_safe_environment")
	}
	disagreeCount := 0
	indicators := []float64{chem, vis, env}
	m := mean(indicators...)
	for _, x := range indicators {
		if absf(x-m) > 0.3 {
			disagreeCount++
		}
	}
	if disagreeCount >= 2 {
		flags = append(flags, "multiple_modality_conflicts")
	}
	return flags
}

// overallConfidence is the mean reliability of valid readings, penalized by
// the fraction of imputed readings up to 20% (§4.3 step 5).
func overallConfidence(validated []domain.ValidatedReading, imputedFrac float64) float64 {
	var sum float64
	n := 0
	for _, v := range validated {
		if v.Present {
			sum += v.Reliability
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	penalty := imputedFrac
	if penalty > 0.2 {
		penalty = 0.2
	}
	return clamp01(mean * (1 - penalty))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

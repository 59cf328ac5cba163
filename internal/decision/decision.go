// Package decision implements Stage D: the tiered risk classifier and
// Sleep/Monitor/Watchman/Witness/Confirmed state machine, including the
// neighbor-consensus witness protocol (§4.8). Decision owns per-node trauma
// memory — distinct from Watchdog's TraumaState (§3) — and accumulates
// human-readable reasoning on every transition.
package decision

import (
	"fmt"

	"github.com/emberwatch/emberwatch/internal/chaos"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/structure"
	"github.com/emberwatch/emberwatch/internal/temporal"
	"github.com/emberwatch/emberwatch/internal/vision"
)

// Tier is the classified risk band (§3).
type Tier string

const (
	TierGreen  Tier = "green"
	TierYellow Tier = "yellow"
	TierOrange Tier = "orange"
	TierRed    Tier = "red"
)

// SystemState is the node's operating state (§3).
type SystemState string

const (
	StateSleep     SystemState = "sleep"
	StateMonitor   SystemState = "monitor"
	StateWatchman  SystemState = "watchman"
	StateWitness   SystemState = "witness"
	StateConfirmed SystemState = "confirmed"
)

// Decision is the per-tick classification result (§3).
type Decision struct {
	Tier               Tier
	RiskScore          float64
	SystemState        SystemState
	ShouldAlert        bool
	Confidence         float64
	Witnesses          uint
	Reasoning          []string
	NextSampleInterval float64
}

// WitnessQuery is the neighbor-consensus callback Decision invokes for the
// Orange-tier witness protocol. It must not import the mesh package — the
// caller supplies an adapter, avoiding cyclic coupling with Mesh (§9).
type WitnessQuery func(radiusMeters float64) (witnessRiskScores []float64, err error)

// Config tunes the Decision stage (config §6 decision).
type Config struct {
	WitnessRadiusMeters float64
	MinWitnesses        int
	TraumaDecay         float64
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{WitnessRadiusMeters: 500, MinWitnesses: 1, TraumaDecay: 0.95}
}

// Classifier is Stage D, owning per-node trauma_local (§3).
type Classifier struct {
	cfg         Config
	traumaLocal float64
	query       WitnessQuery
}

// New creates a Classifier. query may be nil if this node never reaches
// Orange tier (e.g. in tests); a nil query at Orange tier is treated as
// "no witnesses available".
func New(cfg Config, query WitnessQuery) *Classifier {
	return &Classifier{cfg: cfg, query: query}
}

// TraumaLocal returns the current decayed trauma memory.
func (c *Classifier) TraumaLocal() float64 { return c.traumaLocal }

// Input bundles the per-tick signals the composite risk formula reads (§4.8).
type Input struct {
	FireRiskScore   float64
	Agreement       float64
	Trend           temporal.Trend
	Persistence     float64
	HasStructure    bool
	Hurst           float64
	IsUnstable      bool
	Lyapunov        float64
	VisionConfidence float64
	CameraHealthy   bool
	SmokeConfidence float64
}

// FromStages assembles an Input from the upstream stage outputs, applying
// the §3 rule that Vision fields are zero/false when Vision did not run
// this tick (gated off by Structure).
func FromStages(f fusion.EnvState, s structure.Result, ch chaos.Result, v *vision.Output) Input {
	in := Input{
		FireRiskScore: f.FireRiskScore, Agreement: f.CrossModalAgreement,
		HasStructure: s.HasStructure, Hurst: s.Hurst,
		IsUnstable: ch.IsUnstable, Lyapunov: ch.Lyapunov,
	}
	if f.Temporal != nil {
		in.Trend = f.Temporal.Trend
		in.Persistence = f.Temporal.Persistence
	}
	if v != nil {
		in.VisionConfidence = v.Confidence
		in.CameraHealthy = v.CameraHealth.IsHealthy
		if v.SmokeAnalysis != nil {
			in.SmokeConfidence = v.SmokeAnalysis.SmokeConfidence
		}
	}
	return in
}

// Classify implements the composite risk formula, tier thresholds, and
// state machine of §4.8, including the Orange witness protocol.
func (c *Classifier) Classify(in Input) Decision {
	var reasoning []string

	risk := compositeRisk(in, c.traumaLocal)
	reasoning = append(reasoning, fmt.Sprintf("composite_risk=%.3f", risk))

	tier := tierOf(risk)
	var d Decision
	d.RiskScore = risk

	switch tier {
	case TierGreen:
		reasoning = append(reasoning, "tier=green, sleeping")
		d = Decision{
			Tier: TierGreen, RiskScore: risk, SystemState: StateSleep,
			ShouldAlert: false, Confidence: 0.95, NextSampleInterval: 300, Reasoning: reasoning,
		}

	case TierYellow:
		c.traumaLocal = clamp01(c.traumaLocal + 0.1)
		reasoning = append(reasoning, "tier=yellow, alerting neighbors to stay frosty")
		d = Decision{
			Tier: TierYellow, RiskScore: risk, SystemState: StateWatchman,
			ShouldAlert: false, Confidence: in.VisionConfidence, NextSampleInterval: 1, Reasoning: reasoning,
		}

	case TierOrange:
		d = c.witnessProtocol(risk, reasoning)

	case TierRed:
		c.traumaLocal = clamp01(c.traumaLocal + 0.3)
		reasoning = append(reasoning, "tier=red, confirmed, alerting authority")
		d = Decision{
			Tier: TierRed, RiskScore: risk, SystemState: StateConfirmed,
			ShouldAlert: true, Confidence: confidenceFor(in), NextSampleInterval: 1, Reasoning: reasoning,
		}
	}

	c.traumaLocal *= c.cfg.TraumaDecay
	return d
}

// witnessProtocol implements the Orange-tier neighbor-consensus escalation
// (§4.8): query neighbors in radius, count those above 0.4 risk, escalate
// to Red on quorum or mark a local anomaly otherwise.
func (c *Classifier) witnessProtocol(risk float64, reasoning []string) Decision {
	var scores []float64
	if c.query != nil {
		if s, err := c.query(c.cfg.WitnessRadiusMeters); err == nil {
			scores = s
		} else {
			reasoning = append(reasoning, "witness_query_failed:"+err.Error())
		}
	}

	witnesses := 0
	for _, s := range scores {
		if s > 0.4 {
			witnesses++
		}
	}

	if witnesses >= c.cfg.MinWitnesses {
		c.traumaLocal = clamp01(c.traumaLocal + 0.3)
		boosted := clamp01(risk + 0.15)
		reasoning = append(reasoning, fmt.Sprintf("witness quorum met (%d >= %d), escalating to red", witnesses, c.cfg.MinWitnesses))
		return Decision{
			Tier: TierRed, RiskScore: boosted, SystemState: StateConfirmed,
			ShouldAlert: true, Confidence: 0.9, NextSampleInterval: 1,
			Witnesses: uint(witnesses), Reasoning: reasoning,
		}
	}

	c.traumaLocal = clamp01(c.traumaLocal + 0.2)
	reasoning = append(reasoning, fmt.Sprintf("witness quorum not met (%d < %d), marking local anomaly", witnesses, c.cfg.MinWitnesses))
	return Decision{
		Tier: TierOrange, RiskScore: clamp01(risk * 0.7), SystemState: StateMonitor,
		ShouldAlert: false, Confidence: 0.7, NextSampleInterval: 1,
		Witnesses: uint(witnesses), Reasoning: reasoning,
	}
}

// compositeRisk implements the §4.8 weighted sum, clamped to [0,1].
func compositeRisk(in Input, traumaLocal float64) float64 {
	risk := 0.40 * in.FireRiskScore

	if in.HasStructure {
		risk += 0.15 * maxf(0, (in.Hurst-0.5)/1.0)
	}
	if in.IsUnstable {
		risk += 0.15 * maxf(0, in.Lyapunov)
	}
	if in.CameraHealthy {
		risk += 0.20 * in.SmokeConfidence
	}
	if in.Trend == temporal.TrendRising {
		risk += 0.05
	}
	if in.Persistence > 0.6 {
		risk += 0.05
	}
	risk += 0.10 * in.Agreement
	risk += 0.05 * traumaLocal

	return clamp01(risk)
}

func tierOf(risk float64) Tier {
	switch {
	case risk >= 0.80:
		return TierRed
	case risk >= 0.60:
		return TierOrange
	case risk >= 0.30:
		return TierYellow
	default:
		return TierGreen
	}
}

func confidenceFor(in Input) float64 {
	return clamp01(0.5 + 0.5*in.Agreement)
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

// Package pipeline wires the per-node analysis stages — Fusion (with its
// Temporal engine), Structure, Chaos, Vision, Decision — into the single
// cooperative loop described in §5: one tick consumes readings the caller
// has already validated through the Watchdog, plus optional camera frames,
// runs every stage in order, and returns the Decision. Sending alerts over
// Mesh is left to the caller.
//
// Vision only activates when Structure's should_activate_vision() gate
// fires (§4.5); Decision's witness protocol is wired to Mesh through the
// WitnessQuery callback defined in the decision package itself, keeping
// Decision and Mesh mutually unaware of each other's concrete types.
package pipeline

import (
	"time"

	"github.com/emberwatch/emberwatch/internal/chaos"
	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/guard"
	"github.com/emberwatch/emberwatch/internal/mesh"
	"github.com/emberwatch/emberwatch/internal/structure"
	"github.com/emberwatch/emberwatch/internal/temporal"
	"github.com/emberwatch/emberwatch/internal/vision"
	"github.com/emberwatch/emberwatch/internal/watchdog"
)

// Frame bundles the current tick's raw sensor envelopes and, if present,
// the RGB/thermal camera frames for vision-gated analysis.
type Frame struct {
	Readings     map[string]sensorInput // keyed by sensor id
	RGBFrame     domain.Raster
	ThermalFrame domain.Raster
	TimeOfDay    vision.TimeOfDay
	Now          time.Time
}

type sensorInput struct {
	Reading *domain.SensorReading
	Kind    domain.Kind
}

// NewSensorInput constructs a Frame reading entry.
func NewSensorInput(reading *domain.SensorReading, kind domain.Kind) sensorInput {
	return sensorInput{Reading: reading, Kind: kind}
}

// Result is everything a single tick produces: the fused environment state,
// the Structure, Chaos and (when activated) Vision results, and the Decision.
type Result struct {
	Env       fusion.EnvState
	Structure structure.Result
	Chaos     chaos.Result
	Vision    *vision.Output
	Decision  decision.Decision
}

// Node is a fully wired per-node pipeline instance (§5: the single
// cooperative loop; no stage except Mesh's Network holds cross-thread
// shared state).
type Node struct {
	NodeID string

	watchdog  *watchdog.Watchdog
	fusion    *fusion.Fusion
	structure *structure.Gate
	chaos     *chaos.Kernel
	cameras   map[string]*vision.Camera // keyed by camera id
	decision  *decision.Classifier
	network   *mesh.Network
	guard     *guard.Guard

	lastState decision.SystemState
}

// NewNode assembles a Node from its already-constructed stage instances.
// The Decision classifier's neighbor-consensus callback, if any, is set
// when that classifier is constructed, not here.
func NewNode(
	nodeID string,
	wd *watchdog.Watchdog,
	fz *fusion.Fusion,
	sg *structure.Gate,
	ck *chaos.Kernel,
	cameras map[string]*vision.Camera,
	dc *decision.Classifier,
	net *mesh.Network,
	gd *guard.Guard,
) *Node {
	return &Node{
		NodeID: nodeID, watchdog: wd, fusion: fz, structure: sg, chaos: ck,
		cameras: cameras, decision: dc, network: net, guard: gd,
		lastState: decision.StateSleep,
	}
}

// NewEngine constructs the default temporal engine (lightweight SSM), per
// the §9 "Polymorphic Mamba backends" capability interface.
func NewEngine() temporal.Engine { return temporal.NewLightweight() }

// Tick runs one F -> T -> S -> C -> V(gated) -> D pass and returns its
// Result; it sends no Mesh message itself. validated is pre-built by
// the caller from f.Readings via the Watchdog (kept as a caller
// responsibility since co-reading correlation needs the full tick map).
func (n *Node) Tick(validated []domain.ValidatedReading, f Frame) Result {
	traumaLevel := 0.0 // The Watchdog's TraumaState is not consulted: Fusion and Structure always get trauma level 0.

	env := n.fusion.Fuse(validated, traumaLevel, f.Now)

	structResult := n.structure.Observe(env.FireRiskScore, traumaLevel, f.Now)

	trendValue := 0.0
	if env.Temporal != nil {
		trendValue = env.Temporal.ChemicalTrend
	}
	chaosResult := n.chaos.Observe(env.FireRiskScore, trendValue, f.Now)

	var visionOut *vision.Output
	if structResult.ShouldActivateVision() && !f.RGBFrame.Empty() {
		for _, cam := range n.cameras {
			out := cam.Analyze(f.RGBFrame, f.ThermalFrame, f.TimeOfDay)
			visionOut = &out
			break // single-camera node; multi-camera nodes iterate externally.
		}
	}

	input := decision.FromStages(env, structResult, chaosResult, visionOut)
	dec := n.decision.Classify(input)

	return Result{Env: env, Structure: structResult, Chaos: chaosResult, Vision: visionOut, Decision: dec}
}

// RecordLedger validates the tick's Decision transition with the Guard and
// returns the filled guard.Transition for persistence by the caller
// (typically appended to storage.DB.AppendLedger after marshaling).
func (n *Node) RecordLedger(dec decision.Decision, now time.Time) (guard.Transition, error) {
	t := guard.Transition{
		NodeID: n.NodeID, Timestamp: now,
		StateFrom: n.lastState, StateTo: dec.SystemState, Tier: dec.Tier,
		RiskScore: dec.RiskScore, TraumaLocal: n.decision.TraumaLocal(), Reasoning: dec.Reasoning,
	}
	if err := n.guard.ValidateTransition(&t); err != nil {
		return guard.Transition{}, err
	}
	n.lastState = dec.SystemState
	return t, nil
}

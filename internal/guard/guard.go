// Package guard enforces emberwatch's foundational invariants on every
// Decision transition (§8): no NaN/Inf escapes into the audit ledger, every
// numeric parameter stays within its declared bounds, per-node decision
// timestamps are monotonic, and every transition is cryptographically
// chained to its predecessor so the ledger can be verified offline.
//
// Adapted from the constitutional-kernel pattern of validating escalation
// transitions against a fixed axiom set before they are allowed to persist;
// here the axioms are the §8 end-to-end invariants rather than a general
// governance charter.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberwatch/emberwatch/internal/decision"
)

// ViolationType classifies a guard rejection.
type ViolationType string

const (
	ViolationNonMonotonicTime  ViolationType = "non_monotonic_timestamp"
	ViolationUnboundedRisk     ViolationType = "risk_out_of_bounds"
	ViolationUnboundedTrauma   ViolationType = "trauma_out_of_bounds"
	ViolationNaNInf            ViolationType = "nan_inf_detected"
	ViolationMissingReasoning  ViolationType = "missing_reasoning"
)

// Violation is a single guard rejection.
type Violation struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guard violation [%s]: %s", v.Type, v.Message)
}

// Transition is a single Decision-stage ledger entry awaiting validation.
type Transition struct {
	NodeID      string
	Timestamp   time.Time
	StateFrom   decision.SystemState
	StateTo     decision.SystemState
	Tier        decision.Tier
	RiskScore   float64
	TraumaLocal float64
	Reasoning   []string

	// DecisionHash and PrevHash are set by ValidateTransition on success.
	DecisionHash string
	PrevHash     string
}

// Bounds defines the allowed numeric ranges for a Decision transition.
type Bounds struct {
	RiskMin, RiskMax     float64
	TraumaMin, TraumaMax float64
	TimestampSkewTolerance time.Duration
}

// DefaultBounds returns the §4.8/§8 production bounds.
func DefaultBounds() Bounds {
	return Bounds{
		RiskMin: 0.0, RiskMax: 1.0,
		TraumaMin: 0.0, TraumaMax: 1.0,
		TimestampSkewTolerance: 5 * time.Second,
	}
}

// Guard enforces invariants across a node's Decision transitions and
// maintains the SHA256 hash chain used for offline audit verification.
type Guard struct {
	mu             sync.Mutex
	bounds         Bounds
	lastTimestamps map[string]time.Time // per-node last-seen decision timestamp
	lastHashes     map[string]string    // per-node last decision hash
	violationCount int64
	log            *zap.Logger
	strict         bool // panic on violation instead of rejecting (test mode only)
}

// New creates a Guard with default bounds.
func New(log *zap.Logger, strict bool) *Guard {
	return &Guard{
		bounds:         DefaultBounds(),
		lastTimestamps: make(map[string]time.Time),
		lastHashes:     make(map[string]string),
		log:            log,
		strict:         strict,
	}
}

// ValidateTransition enforces bounds, NaN/Inf freedom, timestamp
// monotonicity per node, and hash-chains the transition to its
// predecessor. On success it fills in DecisionHash/PrevHash and returns
// nil. On failure it returns a *Violation and leaves t unmodified.
func (g *Guard) ValidateTransition(t *Transition) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkTimeMonotonicity(t); err != nil {
		return g.reject(err)
	}
	if math.IsNaN(t.RiskScore) || math.IsInf(t.RiskScore, 0) {
		return g.reject(&Violation{Type: ViolationNaNInf, Message: fmt.Sprintf("risk_score is NaN/Inf: %v", t.RiskScore), Timestamp: time.Now()})
	}
	if math.IsNaN(t.TraumaLocal) || math.IsInf(t.TraumaLocal, 0) {
		return g.reject(&Violation{Type: ViolationNaNInf, Message: fmt.Sprintf("trauma_local is NaN/Inf: %v", t.TraumaLocal), Timestamp: time.Now()})
	}
	if t.RiskScore < g.bounds.RiskMin || t.RiskScore > g.bounds.RiskMax {
		return g.reject(&Violation{Type: ViolationUnboundedRisk, Message: fmt.Sprintf("risk_score %.4f outside [%.2f,%.2f]", t.RiskScore, g.bounds.RiskMin, g.bounds.RiskMax), Timestamp: time.Now()})
	}
	if t.TraumaLocal < g.bounds.TraumaMin || t.TraumaLocal > g.bounds.TraumaMax {
		return g.reject(&Violation{Type: ViolationUnboundedTrauma, Message: fmt.Sprintf("trauma_local %.4f outside [%.2f,%.2f]", t.TraumaLocal, g.bounds.TraumaMin, g.bounds.TraumaMax), Timestamp: time.Now()})
	}
	if len(t.Reasoning) == 0 {
		return g.reject(&Violation{Type: ViolationMissingReasoning, Message: "transition recorded with no reasoning trail", Timestamp: time.Now()})
	}

	prevHash := g.lastHashes[t.NodeID]
	hash, err := computeHash(t, prevHash)
	if err != nil {
		return fmt.Errorf("guard: compute decision hash: %w", err)
	}

	t.PrevHash = prevHash
	t.DecisionHash = hash
	g.lastHashes[t.NodeID] = hash
	g.lastTimestamps[t.NodeID] = t.Timestamp

	return nil
}

func (g *Guard) checkTimeMonotonicity(t *Transition) error {
	last, ok := g.lastTimestamps[t.NodeID]
	if !ok {
		return nil
	}
	if t.Timestamp.Before(last) {
		return &Violation{
			Type:      ViolationNonMonotonicTime,
			Message:   fmt.Sprintf("node %s: timestamp went backwards: %v < %v", t.NodeID, t.Timestamp, last),
			Timestamp: time.Now(),
		}
	}
	if skew := t.Timestamp.Sub(last); skew > g.bounds.TimestampSkewTolerance {
		g.log.Warn("large decision timestamp skew", zap.String("node_id", t.NodeID), zap.Duration("skew", skew))
	}
	return nil
}

// computeHash returns SHA256(prevHash || canonical transition fields),
// hex-encoded, giving each ledger entry a tamper-evident link to its
// predecessor.
func computeHash(t *Transition, prevHash string) (string, error) {
	canonical := map[string]interface{}{
		"node_id":      t.NodeID,
		"timestamp":    t.Timestamp.UnixNano(),
		"state_from":   t.StateFrom,
		"state_to":     t.StateTo,
		"tier":         t.Tier,
		"risk_score":   fmt.Sprintf("%.8f", t.RiskScore),
		"trauma_local": fmt.Sprintf("%.8f", t.TraumaLocal),
		"reasoning":    t.Reasoning,
		"prev_hash":    prevHash,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (g *Guard) reject(v *Violation) error {
	g.violationCount++
	g.log.Error("guard rejected decision transition", zap.String("type", string(v.Type)), zap.String("message", v.Message))
	if g.strict {
		panic(fmt.Sprintf("guard violation in strict mode: %v", v))
	}
	return v
}

// Stats summarizes guard activity.
type Stats struct {
	ViolationCount int64
}

// GetStats returns current guard statistics.
func (g *Guard) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{ViolationCount: g.violationCount}
}

// VerifyChain re-derives the hash chain for a sequence of already-persisted
// ledger entries (oldest first) and reports the index of the first entry
// whose hash does not match its recorded value, or -1 if the whole chain
// verifies.
func VerifyChain(entries []Transition) int {
	prev := ""
	for i, e := range entries {
		got, err := computeHash(&e, prev)
		if err != nil || got != e.DecisionHash || e.PrevHash != prev {
			return i
		}
		prev = e.DecisionHash
	}
	return -1
}

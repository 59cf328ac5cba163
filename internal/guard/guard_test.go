package guard_test

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/guard"
)

func TestValidateTransition_ChainsSequentialHashes(t *testing.T) {
	g := guard.New(zap.NewNop(), false)
	now := time.Now()

	first := &guard.Transition{
		NodeID: "drone-1", Timestamp: now, StateFrom: decision.StateSleep, StateTo: decision.StateMonitor,
		Tier: decision.TierYellow, RiskScore: 0.35, TraumaLocal: 0.0, Reasoning: []string{"fire_risk_score rising"},
	}
	if err := g.ValidateTransition(first); err != nil {
		t.Fatalf("unexpected error on first transition: %v", err)
	}
	if first.PrevHash != "" {
		t.Fatalf("expected empty PrevHash for the first transition, got %q", first.PrevHash)
	}
	if first.DecisionHash == "" {
		t.Fatalf("expected a non-empty decision hash")
	}

	second := &guard.Transition{
		NodeID: "drone-1", Timestamp: now.Add(time.Second), StateFrom: decision.StateMonitor, StateTo: decision.StateWatchman,
		Tier: decision.TierOrange, RiskScore: 0.65, TraumaLocal: 0.1, Reasoning: []string{"orange tier escalation"},
	}
	if err := g.ValidateTransition(second); err != nil {
		t.Fatalf("unexpected error on second transition: %v", err)
	}
	if second.PrevHash != first.DecisionHash {
		t.Fatalf("expected second.PrevHash to equal first.DecisionHash")
	}
}

func TestValidateTransition_RejectsBackwardsTimestamp(t *testing.T) {
	g := guard.New(zap.NewNop(), false)
	now := time.Now()

	first := &guard.Transition{NodeID: "drone-2", Timestamp: now, Tier: decision.TierGreen, Reasoning: []string{"baseline"}}
	if err := g.ValidateTransition(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := &guard.Transition{NodeID: "drone-2", Timestamp: now.Add(-time.Minute), Tier: decision.TierGreen, Reasoning: []string{"baseline"}}
	if err := g.ValidateTransition(second); err == nil {
		t.Fatalf("expected a violation for a timestamp that moves backwards")
	}
}

func TestValidateTransition_RejectsNaNRisk(t *testing.T) {
	g := guard.New(zap.NewNop(), false)
	tr := &guard.Transition{NodeID: "drone-3", Timestamp: time.Now(), RiskScore: math.NaN(), Reasoning: []string{"x"}}
	if err := g.ValidateTransition(tr); err == nil {
		t.Fatalf("expected a violation for a NaN risk score")
	}
}

func TestValidateTransition_RejectsOutOfBoundsRisk(t *testing.T) {
	g := guard.New(zap.NewNop(), false)
	tr := &guard.Transition{NodeID: "drone-4", Timestamp: time.Now(), RiskScore: 1.5, Reasoning: []string{"x"}}
	if err := g.ValidateTransition(tr); err == nil {
		t.Fatalf("expected a violation for risk_score > 1.0")
	}
}

func TestVerifyChain_DetectsTamperedEntry(t *testing.T) {
	g := guard.New(zap.NewNop(), false)
	now := time.Now()

	a := &guard.Transition{NodeID: "drone-5", Timestamp: now, Tier: decision.TierGreen, Reasoning: []string{"a"}}
	b := &guard.Transition{NodeID: "drone-5", Timestamp: now.Add(time.Second), Tier: decision.TierYellow, Reasoning: []string{"b"}}
	_ = g.ValidateTransition(a)
	_ = g.ValidateTransition(b)

	chain := []guard.Transition{*a, *b}
	if idx := guard.VerifyChain(chain); idx != -1 {
		t.Fatalf("expected an untampered chain to verify, got first-bad-index %d", idx)
	}

	chain[1].RiskScore = 0.99 // tamper after the fact
	if idx := guard.VerifyChain(chain); idx != 1 {
		t.Fatalf("expected tampering to be detected at index 1, got %d", idx)
	}
}

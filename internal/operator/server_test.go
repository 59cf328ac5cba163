package operator_test

import (
	"testing"

	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/operator"
)

func TestMemRegistry_SetAndResetTraumaLocal(t *testing.T) {
	r := operator.NewMemRegistry()
	r.SetTraumaLocal("drone-1", decision.TierOrange, 0.45)

	tier, ok := r.GetTier("drone-1")
	if !ok || tier != decision.TierOrange {
		t.Fatalf("expected tracked tier Orange, got %v ok=%v", tier, ok)
	}
	if got := r.TraumaLocal("drone-1"); got != 0.45 {
		t.Fatalf("expected trauma_local 0.45, got %v", got)
	}

	prev := r.ResetNode("drone-1")
	if prev != decision.TierOrange {
		t.Fatalf("expected ResetNode to return the prior tier Orange, got %v", prev)
	}
	if got := r.TraumaLocal("drone-1"); got != 0 {
		t.Fatalf("expected trauma_local reset to 0, got %v", got)
	}
}

func TestMemRegistry_PinPreventsTierOverwrite(t *testing.T) {
	r := operator.NewMemRegistry()
	r.PinTier("drone-2", decision.TierRed)

	r.SetTraumaLocal("drone-2", decision.TierGreen, 0.1)

	tier, ok := r.GetTier("drone-2")
	if !ok || tier != decision.TierRed {
		t.Fatalf("expected pin to hold tier at Red despite a Green update, got %v", tier)
	}
	if !r.IsPinned("drone-2") {
		t.Fatalf("expected drone-2 to remain pinned")
	}

	r.UnpinTier("drone-2")
	if r.IsPinned("drone-2") {
		t.Fatalf("expected drone-2 to be unpinned")
	}
}

func TestMemRegistry_ListAllReturnsAllTrackedNodes(t *testing.T) {
	r := operator.NewMemRegistry()
	r.SetTraumaLocal("d1", decision.TierYellow, 0.1)
	r.SetTraumaLocal("d2", decision.TierGreen, 0.0)

	nodes := r.ListAll()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 tracked nodes, got %d", len(nodes))
	}
}

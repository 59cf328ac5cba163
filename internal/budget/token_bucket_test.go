package budget_test

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/budget"
	"github.com/emberwatch/emberwatch/internal/mesh"
)

func TestConsumeForPriority_P1CostsFifty(t *testing.T) {
	b := budget.New(100, time.Hour)
	defer b.Close()

	if !b.ConsumeForPriority(mesh.PriorityP1) {
		t.Fatalf("expected P1 consumption to succeed with full bucket")
	}
	if got := b.Remaining(); got != 50 {
		t.Fatalf("expected 50 tokens remaining after a P1 alert, got %d", got)
	}
}

func TestConsumeForPriority_ExhaustionBlocksFurtherAlerts(t *testing.T) {
	b := budget.New(60, time.Hour)
	defer b.Close()

	if !b.ConsumeForPriority(mesh.PriorityP1) {
		t.Fatalf("expected first P1 consumption to succeed")
	}
	if b.ConsumeForPriority(mesh.PriorityP1) {
		t.Fatalf("expected second P1 consumption to fail: only 10 tokens remain, need 50")
	}
	if !b.ConsumeForPriority(mesh.PriorityP3) {
		t.Fatalf("expected P3 (cost 5) to still succeed with 10 tokens remaining")
	}
}

func TestConsumeForPriority_NoneIsFree(t *testing.T) {
	b := budget.New(10, time.Hour)
	defer b.Close()

	if !b.ConsumeForPriority(mesh.PriorityNone) {
		t.Fatalf("expected PriorityNone to never consume budget")
	}
	if got := b.Remaining(); got != 10 {
		t.Fatalf("expected tokens untouched, got %d", got)
	}
}

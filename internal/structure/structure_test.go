package structure_test

// Covers: empty/sub-minimum history yields the neutral H=0.5 result, and
// vision activation requires both has_structure and confidence>0.7. The
// §8 adaptive-threshold examples are checked in the watchdog tests.

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/structure"
)

func TestObserve_BelowMinWindowIsNeutral(t *testing.T) {
	g := structure.New()
	var last structure.Result
	for i := 0; i < 10; i++ {
		last = g.Observe(0.5, 0, time.Now())
	}
	if last.Hurst != 0.5 || last.HasStructure {
		t.Fatalf("expected neutral result below min window, got %+v", last)
	}
}

func TestShouldActivateVision_RequiresBothConditions(t *testing.T) {
	r := structure.Result{HasStructure: true, Confidence: 0.5}
	if r.ShouldActivateVision() {
		t.Fatalf("confidence 0.5 must not activate vision")
	}
	r.Confidence = 0.8
	if !r.ShouldActivateVision() {
		t.Fatalf("has_structure && confidence>0.7 must activate vision")
	}
}

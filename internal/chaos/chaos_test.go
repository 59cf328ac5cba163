package chaos_test

// Covers: a strictly-constant risk series yields lambda=0 and is_unstable=false
// (§8), and below-min-window observations stay neutral.

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/chaos"
)

func TestObserve_ConstantSeriesIsStable(t *testing.T) {
	k := chaos.New()
	now := time.Now()
	var last chaos.Result
	for i := 0; i < 60; i++ {
		last = k.Observe(0.42, 0, now.Add(time.Duration(i)*time.Second))
	}
	if last.Lyapunov != 0 {
		t.Fatalf("expected lambda=0 for constant series, got %v", last.Lyapunov)
	}
	if last.IsUnstable {
		t.Fatalf("expected is_unstable=false for constant series")
	}
}

func TestObserve_BelowMinWindowIsNeutral(t *testing.T) {
	k := chaos.New()
	now := time.Now()
	last := k.Observe(0.5, 0, now)
	if last.Confidence != 0 {
		t.Fatalf("expected zero confidence below min window, got %v", last.Confidence)
	}
}

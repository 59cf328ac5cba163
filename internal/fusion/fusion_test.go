package fusion_test

// Covers: clean baseline stays low-risk, and low-confidence readings never
// produce a fire decision.

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/temporal"
)

func reading(kind domain.Kind, v, rel float64) domain.ValidatedReading {
	return domain.ValidatedReading{Kind: kind, Value: domain.ScalarValue(v), Present: true, Reliability: rel}
}

func TestFuse_CleanBaselineStaysLow(t *testing.T) {
	f := fusion.New(fusion.DefaultWeights(), temporal.NewLightweight())
	now := time.Now()
	var last fusion.EnvState
	for i := 0; i < 10; i++ {
		readings := []domain.ValidatedReading{
			reading(domain.KindVOC, 50, 0.95),
			reading(domain.KindSoilMoisture, 60, 0.95),
		}
		last = f.Fuse(readings, 0, now.Add(time.Duration(i)*time.Second))
	}
	if last.FireDetected {
		t.Fatalf("expected no fire detection on clean baseline, got %+v", last)
	}
	if last.FireRiskScore > 0.3 {
		t.Fatalf("expected low risk score on clean baseline, got %v", last.FireRiskScore)
	}
}

func TestFuse_LowConfidenceNeverFires(t *testing.T) {
	f := fusion.New(fusion.DefaultWeights(), temporal.NewLightweight())
	readings := []domain.ValidatedReading{
		reading(domain.KindVOC, 400, 0.1),
	}
	state := f.Fuse(readings, 0, time.Now())
	if state.FireDetected {
		t.Fatalf("expected confidence<0.5 to suppress fire_detected regardless of risk")
	}
}

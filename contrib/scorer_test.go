package contrib_test

import (
	"testing"

	"github.com/emberwatch/emberwatch/contrib"
)

func TestGetScorer_WeightedSumRegisteredByDefault(t *testing.T) {
	s, err := contrib.GetScorer("weighted-sum")
	if err != nil {
		t.Fatalf("expected weighted-sum to be registered by default: %v", err)
	}
	if s.Name() != "weighted-sum" {
		t.Fatalf("expected Name() == weighted-sum, got %q", s.Name())
	}
}

func TestGetScorer_UnknownNameErrors(t *testing.T) {
	if _, err := contrib.GetScorer("does-not-exist"); err == nil {
		t.Fatalf("expected an error for an unregistered scorer name")
	}
}

func TestWeightedSumScorer_CleanBaselineIsLowRisk(t *testing.T) {
	s, _ := contrib.GetScorer("weighted-sum")
	risk, _, err := s.Score(contrib.RiskRequest{FireRiskScore: 0.1, Agreement: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if risk >= 0.3 {
		t.Fatalf("expected low risk for a clean baseline input, got %v", risk)
	}
}

func TestWeightedSumScorer_ClampsToOne(t *testing.T) {
	s, _ := contrib.GetScorer("weighted-sum")
	risk, _, err := s.Score(contrib.RiskRequest{
		FireRiskScore: 1.0, Agreement: 1.0, Trend: "rising", Persistence: 1.0,
		HasStructure: true, Hurst: 1.0, IsUnstable: true, Lyapunov: 1.0,
		CameraHealthy: true, SmokeConfidence: 1.0, TraumaLocal: 1.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if risk != 1.0 {
		t.Fatalf("expected risk clamped to 1.0, got %v", risk)
	}
}

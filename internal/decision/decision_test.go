package decision_test

// Covers: tier thresholds match the §8 literal scenarios (clean baseline
// stays Green/Sleep; a coherent-fire input crosses into Red/Confirmed), and
// the Orange witness protocol both escalates on quorum and falls back to a
// local anomaly when neighbors disagree.

import (
	"testing"

	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/temporal"
)

func TestClassify_CleanBaselineIsGreenSleep(t *testing.T) {
	c := decision.New(decision.DefaultConfig(), nil)
	d := c.Classify(decision.Input{FireRiskScore: 0.1, Agreement: 0.9})
	if d.Tier != decision.TierGreen || d.SystemState != decision.StateSleep {
		t.Fatalf("expected green/sleep, got %v/%v", d.Tier, d.SystemState)
	}
	if d.ShouldAlert {
		t.Fatalf("green tier must never alert")
	}
	if d.NextSampleInterval != 300 {
		t.Fatalf("expected 300s next_interval, got %v", d.NextSampleInterval)
	}
}

func TestClassify_CoherentFireReachesRed(t *testing.T) {
	c := decision.New(decision.DefaultConfig(), nil)
	in := decision.Input{
		FireRiskScore: 0.95, Agreement: 0.9, Trend: temporal.TrendRising,
		Persistence: 0.7, HasStructure: true, Hurst: 1.0,
		IsUnstable: true, Lyapunov: 1.0,
		CameraHealthy: true, SmokeConfidence: 0.9,
	}
	d := c.Classify(in)
	if d.Tier != decision.TierRed || d.SystemState != decision.StateConfirmed {
		t.Fatalf("expected red/confirmed for a coherent fire input, got %v/%v (risk=%v)", d.Tier, d.SystemState, d.RiskScore)
	}
	if !d.ShouldAlert {
		t.Fatalf("red tier must alert")
	}
}

func orangeBandInput() decision.Input {
	return decision.Input{
		FireRiskScore: 0.8, Agreement: 0.8, Trend: temporal.TrendRising,
		Persistence: 0.65, HasStructure: true, Hurst: 0.9,
		CameraHealthy: true, SmokeConfidence: 0.5,
	}
}

func TestClassify_OrangeEscalatesOnWitnessQuorum(t *testing.T) {
	query := func(radius float64) ([]float64, error) {
		return []float64{0.5, 0.6}, nil
	}
	c := decision.New(decision.DefaultConfig(), query)
	d := c.Classify(orangeBandInput())
	if d.Tier != decision.TierRed {
		t.Fatalf("expected quorum escalation to red, got %v (risk=%v)", d.Tier, d.RiskScore)
	}
	if d.Witnesses < 1 {
		t.Fatalf("expected at least one counted witness, got %d", d.Witnesses)
	}
}

func TestClassify_OrangeStaysLocalWithoutQuorum(t *testing.T) {
	query := func(radius float64) ([]float64, error) {
		return []float64{0.1}, nil
	}
	c := decision.New(decision.DefaultConfig(), query)
	d := c.Classify(orangeBandInput())
	if d.Tier != decision.TierOrange || d.SystemState != decision.StateMonitor {
		t.Fatalf("expected orange/monitor without quorum, got %v/%v (risk=%v)", d.Tier, d.SystemState, d.RiskScore)
	}
}

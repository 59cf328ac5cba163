package temporal_test

// Covers: lightweight SSM stays in bounded output range, backbone falls back
// permanently on inference error, and trend classification responds to a
// rising input series.

import (
	"errors"
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/temporal"
)

func TestLightweight_OutputBounded(t *testing.T) {
	ssm := temporal.NewLightweight()
	now := time.Now()
	for i := 0; i < 30; i++ {
		st := ssm.Update(0.3, 0.2, 0.4, now.Add(time.Duration(i)*time.Second))
		for _, h := range st.Hidden {
			if h < -1 || h > 1 {
				t.Fatalf("hidden state escaped tanh range: %v", h)
			}
		}
	}
	p := ssm.Perceptual()
	if p.FusedScore < 0 || p.FusedScore > 1 {
		t.Fatalf("fused score out of [0,1]: %v", p.FusedScore)
	}
}

func TestLightweight_RisingTrend(t *testing.T) {
	ssm := temporal.NewLightweight()
	now := time.Now()
	for i := 0; i < 40; i++ {
		v := float64(i) / 40
		ssm.Update(v, v, v, now.Add(time.Duration(i)*time.Second))
	}
	p := ssm.Perceptual()
	if p.Trend != temporal.TrendRising {
		t.Fatalf("expected rising trend for monotonically increasing input, got %v", p.Trend)
	}
}

type failingBackbone struct{}

func (failingBackbone) Infer(window [][3]float64) ([]float64, error) {
	return nil, errors.New("inference unavailable")
}
func (failingBackbone) DModel() int { return 16 }

func TestBackbone_FallsBackOnError(t *testing.T) {
	ssm := temporal.NewBackboneSSM(failingBackbone{}, make([]float64, 16))
	ssm.Update(0.5, 0.5, 0.5, time.Now())
	if !ssm.UsingFallback() {
		t.Fatalf("expected permanent fallback after inference error")
	}
}

func TestBackbone_NilBackboneStartsInFallback(t *testing.T) {
	ssm := temporal.NewBackboneSSM(nil, nil)
	if !ssm.UsingFallback() {
		t.Fatalf("expected nil backbone to start in fallback mode")
	}
}

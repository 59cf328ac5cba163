package pipeline_test

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/chaos"
	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/guard"
	"github.com/emberwatch/emberwatch/internal/pipeline"
	"github.com/emberwatch/emberwatch/internal/structure"
	"go.uber.org/zap"
)

func newTestNode(nodeID string) *pipeline.Node {
	fz := fusion.New(fusion.DefaultWeights(), pipeline.NewEngine())
	sg := structure.New()
	ck := chaos.New()
	dc := decision.New(decision.DefaultConfig(), nil)
	gd := guard.New(zap.NewNop(), false)
	return pipeline.NewNode(nodeID, nil, fz, sg, ck, nil, dc, nil, gd)
}

func TestTick_EmptyReadingsStayGreen(t *testing.T) {
	n := newTestNode("drone-1")
	now := time.Now()

	res := n.Tick(nil, pipeline.Frame{Now: now})

	if res.Decision.Tier != decision.TierGreen {
		t.Fatalf("expected a clean tick to classify green, got %s (risk=%.3f)", res.Decision.Tier, res.Decision.RiskScore)
	}
	if res.Decision.SystemState != decision.StateSleep {
		t.Fatalf("expected system state sleep, got %s", res.Decision.SystemState)
	}
	if res.Vision != nil {
		t.Fatalf("vision must stay gated off when structure never activates it")
	}
}

func TestTick_VisionStaysGatedWithoutStructure(t *testing.T) {
	n := newTestNode("drone-2")
	now := time.Now()

	validated := []domain.ValidatedReading{
		{SensorID: "voc-1", Kind: domain.KindVOC, Present: true, Value: domain.ReadingValue{Scalar: 0.05}},
	}
	res := n.Tick(validated, pipeline.Frame{Now: now})

	if res.Vision != nil {
		t.Fatalf("a single low-risk tick should never meet should_activate_vision()'s confidence bar")
	}
}

func TestRecordLedger_ChainsAcrossTicks(t *testing.T) {
	n := newTestNode("drone-3")
	now := time.Now()

	res1 := n.Tick(nil, pipeline.Frame{Now: now})
	tr1, err := n.RecordLedger(res1.Decision, now)
	if err != nil {
		t.Fatalf("unexpected guard rejection: %v", err)
	}
	if tr1.PrevHash != "" {
		t.Fatalf("expected an empty PrevHash for the first recorded transition")
	}

	later := now.Add(time.Second)
	res2 := n.Tick(nil, pipeline.Frame{Now: later})
	tr2, err := n.RecordLedger(res2.Decision, later)
	if err != nil {
		t.Fatalf("unexpected guard rejection on second transition: %v", err)
	}
	if tr2.PrevHash != tr1.DecisionHash {
		t.Fatalf("expected the second transition to chain onto the first")
	}
}

package vision_test

// Covers: a constant RGB frame yields zero smoke_confidence, and a repeated
// identical frame trips frame_frozen on the following call (§8).

import (
	"testing"

	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/vision"
)

func constantFrame(v float64, h, w, ch int) domain.Raster {
	data := make([]float64, h*w*ch)
	for i := range data {
		data[i] = v
	}
	return domain.Raster{Channels: ch, Height: h, Width: w, Data: data}
}

func TestAnalyzeRGB_ConstantFrameYieldsZeroSmokeConfidence(t *testing.T) {
	c := vision.NewCamera(vision.SpectrumRGB, vision.DefaultThresholds())
	frame := constantFrame(0.5, 120, 120, 3)

	out := c.Analyze(frame, domain.Raster{}, vision.TODDay)
	if !out.CameraHealth.IsHealthy {
		t.Fatalf("expected healthy camera on first frame, got %+v", out.CameraHealth)
	}

	out = c.Analyze(frame, domain.Raster{}, vision.TODDay)
	if out.SmokeAnalysis == nil {
		t.Fatalf("expected a smoke analysis on the second frame")
	}
	if out.SmokeAnalysis.SmokeConfidence != 0 {
		t.Fatalf("expected zero smoke_confidence for a constant frame, got %v", out.SmokeAnalysis.SmokeConfidence)
	}
}

func TestAnalyzeRGB_RepeatedFrameTriggersFrameFrozen(t *testing.T) {
	c := vision.NewCamera(vision.SpectrumRGB, vision.DefaultThresholds())
	frame := constantFrame(0.5, 120, 120, 3)

	first := c.Analyze(frame, domain.Raster{}, vision.TODDay)
	if !first.CameraHealth.IsHealthy {
		t.Fatalf("first frame should be healthy (no prior hash to compare), got %+v", first.CameraHealth)
	}

	second := c.Analyze(frame, domain.Raster{}, vision.TODDay)
	found := false
	for _, r := range second.CameraHealth.FailureReasons {
		if r == "frame_frozen" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected frame_frozen on the repeated frame, got %+v", second.CameraHealth.FailureReasons)
	}
}

func TestAnalyze_InvalidFrameIsBlind(t *testing.T) {
	c := vision.NewCamera(vision.SpectrumRGB, vision.DefaultThresholds())
	out := c.Analyze(domain.Raster{}, domain.Raster{}, vision.TODDay)
	if out.Mode != vision.ModeBlind {
		t.Fatalf("expected blind mode for an empty frame, got %v", out.Mode)
	}
	if out.VisionWeight != 0 {
		t.Fatalf("expected zero vision_weight when blind, got %v", out.VisionWeight)
	}
}

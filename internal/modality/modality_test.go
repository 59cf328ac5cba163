package modality_test

// Covers: chemical rapid-change detection, environmental drought
// accumulation, and the zero value returned when no moisture is present.

import (
	"testing"

	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/modality"
)

func validScalar(kind domain.Kind, v, reliability float64) domain.ValidatedReading {
	return domain.ValidatedReading{Kind: kind, Value: domain.ScalarValue(v), Present: true, Reliability: reliability}
}

func TestChemical_RapidChange(t *testing.T) {
	base := &modality.ChemicalBaseline{}
	modality.Chemical([]domain.ValidatedReading{validScalar(domain.KindVOC, 100, 0.9)}, base)
	feats := modality.Chemical([]domain.ValidatedReading{validScalar(domain.KindVOC, 260, 0.9)}, base)
	if !feats.RapidChangeDetected {
		t.Fatalf("expected rapid_change_detected on VOC jump > 2x")
	}
}

func TestEnvironmental_DroughtStreak(t *testing.T) {
	tracker := &modality.EnvironmentalTracker{}
	var last modality.EnvironmentalFeatures
	for i := 0; i < 7; i++ {
		last = modality.Environmental([]domain.ValidatedReading{validScalar(domain.KindSoilMoisture, 10, 0.9)}, tracker)
	}
	if !last.DroughtDetected {
		t.Fatalf("expected drought after 7 consecutive dry samples, got %+v", last)
	}
}

func TestEnvironmental_NoMoistureReturnsZeroValue(t *testing.T) {
	feats := modality.Environmental(nil, &modality.EnvironmentalTracker{})
	if feats != (modality.EnvironmentalFeatures{}) {
		t.Fatalf("expected zero-value features with no soil moisture reading, got %+v", feats)
	}
}

// Package modality implements the three pure feature processors of §4.2:
// chemical, visual, and environmental. Each maps the current set of
// validated readings to a bounded feature mapping in [0,1]; none hold
// cross-call mutable state except the small bounded baselines documented
// per function.
package modality

import "github.com/emberwatch/emberwatch/internal/domain"

// ChemicalFeatures is the chemical modality's bounded feature mapping (§3).
type ChemicalFeatures struct {
	VOCLevel             float64
	TerpeneLevel         float64
	CombustionByproducts float64
	RapidChangeDetected  bool
	ChemicalConfidence   float64
}

// per-kind thresholds: baseline, elevated, danger.
type chemThresholds struct{ baseline, elevated, danger float64 }

var chemicalThresholds = map[domain.Kind]chemThresholds{
	domain.KindVOC:     {baseline: 50, elevated: 150, danger: 400},
	domain.KindTerpene: {baseline: 0.1, elevated: 0.5, danger: 1.5},
	domain.KindCO:      {baseline: 0.5, elevated: 5, danger: 35},
	domain.KindSmoke:   {baseline: 0, elevated: 0.3, danger: 0.8},
}

// normalizeChem maps a raw value onto [0,1] via the baseline/elevated/danger
// band: 0 at baseline, 1 at danger, linear in between, clamped.
func normalizeChem(v float64, th chemThresholds) float64 {
	if th.danger == th.baseline {
		return 0
	}
	n := (v - th.baseline) / (th.danger - th.baseline)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// ChemicalBaseline keeps the previous VOC reading (only that one value) used
// to detect rapid change (current > 2x previous reading).
type ChemicalBaseline struct {
	lastVOC    float64
	hasLastVOC bool
}

// Chemical computes ChemicalFeatures from the current validated readings.
func Chemical(readings []domain.ValidatedReading, baseline *ChemicalBaseline) ChemicalFeatures {
	var vocVal, terpVal, coVal, smokeVal float64
	var haveVOC, haveTerp, haveCO, haveSmoke bool
	var relSum float64
	var relCount int

	for _, r := range readings {
		if !r.Present {
			continue
		}
		v, ok := scalar(r.Value)
		if !ok {
			continue
		}
		switch r.Kind {
		case domain.KindVOC:
			vocVal, haveVOC = v, true
			relSum += r.Reliability
			relCount++
		case domain.KindTerpene:
			terpVal, haveTerp = v, true
			relSum += r.Reliability
			relCount++
		case domain.KindCO:
			coVal, haveCO = v, true
			relSum += r.Reliability
			relCount++
		case domain.KindSmoke:
			smokeVal, haveSmoke = v, true
			relSum += r.Reliability
			relCount++
		}
	}

	feats := ChemicalFeatures{}
	if haveVOC {
		feats.VOCLevel = normalizeChem(vocVal, chemicalThresholds[domain.KindVOC])
	}
	if haveTerp {
		feats.TerpeneLevel = normalizeChem(terpVal, chemicalThresholds[domain.KindTerpene])
	}
	if haveCO || haveSmoke {
		coFeat := normalizeChem(coVal, chemicalThresholds[domain.KindCO])
		smokeFeat := normalizeChem(smokeVal, chemicalThresholds[domain.KindSmoke])
		feats.CombustionByproducts = (coFeat + smokeFeat) / 2
	}

	if baseline != nil && haveVOC {
		if baseline.hasLastVOC && baseline.lastVOC > 0 && vocVal > 2*baseline.lastVOC {
			feats.RapidChangeDetected = true
		}
		baseline.lastVOC = vocVal
		baseline.hasLastVOC = true
	}

	if relCount > 0 {
		feats.ChemicalConfidence = relSum / float64(relCount)
	}
	return feats
}

func scalar(v domain.ReadingValue) (float64, bool) {
	if v.IsRaster {
		return 0, false
	}
	return v.Scalar, true
}

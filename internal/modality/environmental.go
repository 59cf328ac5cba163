package modality

import (
	"math"

	"github.com/emberwatch/emberwatch/internal/domain"
)

// EnvironmentalFeatures is the environmental modality's bounded feature
// mapping (§3).
type EnvironmentalFeatures struct {
	SoilDryness               float64
	IgnitionSusceptibility    float64
	LatentRisk                float64
	DroughtDetected           bool
	EnvironmentalConfidence   float64
}

const moistureDry = 20.0  // % below which a sample counts toward drought streak
const droughtStreakLen = 7

// EnvironmentalTracker carries the consecutive dry-sample streak across calls.
type EnvironmentalTracker struct {
	drySamples int
}

// Environmental computes EnvironmentalFeatures from the current readings.
func Environmental(readings []domain.ValidatedReading, tracker *EnvironmentalTracker) EnvironmentalFeatures {
	var moisture, temp, humidity float64
	var haveMoisture, haveTemp, haveHumidity bool
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
		case domain.KindSoilMoisture:
			moisture, haveMoisture = v, true
			relSum += r.Reliability
			relCount++
		case domain.KindTemperature:
			temp, haveTemp = v, true
			relSum += r.Reliability
			relCount++
		case domain.KindHumidity:
			humidity, haveHumidity = v, true
			relSum += r.Reliability
			relCount++
		}
	}

	if !haveMoisture {
		return EnvironmentalFeatures{}
	}

	dryness := 1 - moisture/100
	if dryness < 0 {
		dryness = 0
	}

	tempMul := 1.0
	if haveTemp {
		tempMul = piecewiseMultiplier(temp, 25, 0.02, 1.3)
	}
	humidityMul := 1.0
	if haveHumidity {
		humidityMul = piecewiseMultiplier(humidity, 50, -0.01, 1.3)
	}

	ignition := clamp01capped(dryness*tempMul*humidityMul, 1.3)

	if tracker != nil {
		if moisture < moistureDry {
			tracker.drySamples++
		} else {
			tracker.drySamples = 0
		}
	}
	drought := tracker != nil && tracker.drySamples >= droughtStreakLen

	droughtMul := 1.0
	if drought {
		droughtMul = 1.2
	}
	tempContrib := 0.0
	if haveTemp && temp > 25 {
		tempContrib = clamp01((temp - 25) / 30)
	}
	humidityContrib := 0.0
	if haveHumidity && humidity < 50 {
		humidityContrib = clamp01((50 - humidity) / 50)
	}

	latent := clamp01(pow15(dryness)*droughtMul + 0.2*tempContrib + 0.2*humidityContrib)

	feats := EnvironmentalFeatures{
		SoilDryness:            dryness,
		IgnitionSusceptibility: ignition,
		LatentRisk:             latent,
		DroughtDetected:        drought,
	}
	if relCount > 0 {
		feats.EnvironmentalConfidence = relSum / float64(relCount)
	}
	return feats
}

// piecewiseMultiplier: linear multiplier around a nominal value, capped.
func piecewiseMultiplier(v, nominal, slope, cap float64) float64 {
	m := 1.0 + slope*(v-nominal)
	if m < 0.5 {
		m = 0.5
	}
	if m > cap {
		m = cap
	}
	return m
}

func clamp01capped(v, cap float64) float64 {
	if v < 0 {
		return 0
	}
	if v > cap {
		return cap
	}
	return v
}

func pow15(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Pow(v, 1.5)
}

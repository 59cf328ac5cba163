package modality

import "github.com/emberwatch/emberwatch/internal/domain"

// VisualFeatures is the visual modality's bounded feature mapping (§3).
type VisualFeatures struct {
	SmokePresence      float64
	ColorShift         float64
	BrightnessAnomaly  float64
	SpatialDiffusion   float64
	VisualConfidence   float64
}

// VisualBaseline holds the learned-from-first-clean-frame baselines (§4.2).
// Detectors return zero until Initialized.
type VisualBaseline struct {
	Initialized     bool
	MeanBrightness  float64
	MeanSaturation  float64
}

const patchSize = 16
const lowTextureVarThreshold = 0.01

// Visual computes VisualFeatures from the most recent raster reading, if any.
func Visual(readings []domain.ValidatedReading, baseline *VisualBaseline) VisualFeatures {
	var raster domain.Raster
	found := false
	for _, r := range readings {
		if r.Present && r.Kind == domain.KindImage && r.Value.IsRaster {
			raster = r.Value.Raster
			found = true
		}
	}
	if !found || raster.Empty() {
		return VisualFeatures{}
	}

	edgeDensity := edgeDensity(raster)
	brightness := meanBrightness(raster)
	saturation := grayHazeSaturationDrop(raster)
	lowTextureFrac := lowTexturePatchFraction(raster)

	if baseline != nil && !baseline.Initialized {
		baseline.MeanBrightness = brightness
		baseline.MeanSaturation = saturation
		baseline.Initialized = true
		return VisualFeatures{VisualConfidence: 0.5}
	}

	feats := VisualFeatures{
		SmokePresence:     clamp01(edgeDensity*0.4 + lowTextureFrac*0.6),
		ColorShift:        clamp01(baseline.MeanSaturation - saturation),
		SpatialDiffusion:  lowTextureFrac,
		VisualConfidence:  0.7,
	}
	if baseline != nil {
		feats.BrightnessAnomaly = clamp01(absf(brightness-baseline.MeanBrightness) / 128)
	}
	return feats
}

// edgeDensity: fraction of pixels with gradient magnitude above 0.1 (first
// greyscale-like channel approximation via channel 0).
func edgeDensity(r domain.Raster) float64 {
	if r.Height < 2 || r.Width < 2 {
		return 0
	}
	count := 0
	total := 0
	for y := 0; y < r.Height-1; y++ {
		for x := 0; x < r.Width-1; x++ {
			gx := r.At(0, y, x+1) - r.At(0, y, x)
			gy := r.At(0, y+1, x) - r.At(0, y, x)
			mag := absf(gx) + absf(gy)
			if mag > 0.1 {
				count++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

func meanBrightness(r domain.Raster) float64 {
	var sum float64
	n := 0
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			for c := 0; c < r.Channels; c++ {
				sum += r.At(c, y, x)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) * 255
}

// grayHazeSaturationDrop approximates saturation via max-min channel spread
// averaged over the frame (haze reduces color spread toward grey).
func grayHazeSaturationDrop(r domain.Raster) float64 {
	if r.Channels < 3 {
		return 0
	}
	var sum float64
	n := 0
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			mx, mn := r.At(0, y, x), r.At(0, y, x)
			for c := 1; c < r.Channels; c++ {
				v := r.At(c, y, x)
				if v > mx {
					mx = v
				}
				if v < mn {
					mn = v
				}
			}
			sum += mx - mn
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// lowTexturePatchFraction: fraction of 16x16 patches with variance below threshold.
func lowTexturePatchFraction(r domain.Raster) float64 {
	if r.Height < patchSize || r.Width < patchSize {
		return 0
	}
	low := 0
	total := 0
	for py := 0; py+patchSize <= r.Height; py += patchSize {
		for px := 0; px+patchSize <= r.Width; px += patchSize {
			var sum, sumSq float64
			n := 0
			for y := py; y < py+patchSize; y++ {
				for x := px; x < px+patchSize; x++ {
					v := r.At(0, y, x)
					sum += v
					sumSq += v * v
					n++
				}
			}
			mean := sum / float64(n)
			variance := sumSq/float64(n) - mean*mean
			if variance < lowTextureVarThreshold {
				low++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(low) / float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

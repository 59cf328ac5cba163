// Package vision implements Stage V: camera self-diagnostic and classical-CV
// smoke detector, power-gated by Stage S (§4.7). Vision owns per-camera
// baselines; no other stage reads or mutates them (§3).
package vision

import (
	"crypto/sha256"
	"math"

	"github.com/emberwatch/emberwatch/internal/domain"
)

// Spectrum enumerates the camera's sensing band.
type Spectrum string

const (
	SpectrumRGB     Spectrum = "rgb"
	SpectrumThermal Spectrum = "thermal"
	SpectrumDual    Spectrum = "dual"
)

// TimeOfDay enumerates the operational time-of-day axis.
type TimeOfDay string

const (
	TODDay      TimeOfDay = "day"
	TODNight    TimeOfDay = "night"
	TODTwilight TimeOfDay = "twilight"
)

// Mode is VisionOutput.mode (§3).
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeDegraded Mode = "degraded"
	ModeBlind    Mode = "blind"
	ModeNight    Mode = "night"
	ModeDual     Mode = "dual"
)

// CameraHealth is the camera self-diagnostic result (§3).
type CameraHealth struct {
	IsHealthy       bool
	HealthScore     float64
	FailureReasons  []string
}

// SmokeAnalysis is the smoke_analysis sub-record (§3).
type SmokeAnalysis struct {
	SmokeConfidence     float64
	EdgeSharpness       float64
	HistogramVariance   float64
	IsAmbiguous         bool
	RequiresConfirmation bool
}

// Output is VisionOutput (§3).
type Output struct {
	CameraHealth  CameraHealth
	SmokeAnalysis *SmokeAnalysis
	Mode          Mode
	VisionWeight  float64
	Confidence    float64
}

// Thresholds configures the vision stage (config §6 vision).
type Thresholds struct {
	SmokeConfThreshold   float64
	EdgeSharpnessThreshold float64
	BrightnessMin, BrightnessMax float64
	ThermalHotSpotTempC  float64
	ThermalAmbientC      float64
	ThermalAnomalyThreshold float64
}

// DefaultThresholds returns the spec defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SmokeConfThreshold:     0.6,
		EdgeSharpnessThreshold: 0.4,
		BrightnessMin:          10.0 / 255,
		BrightnessMax:          245.0 / 255,
		ThermalHotSpotTempC:    60,
		ThermalAmbientC:        25,
		ThermalAnomalyThreshold: 20,
	}
}

type baseline struct {
	initialized      bool
	sharpness        float64
	histVar          float64
	lastFrameHash    [32]byte
	hasLastFrameHash bool
	hotPixelHistory  []int
}

// Camera is Stage V's per-camera state, keyed by caller outside this package.
type Camera struct {
	th       Thresholds
	spectrum Spectrum
	rgb      baseline
	thermal  baseline
}

// NewCamera creates a per-camera Vision instance for the given spectrum.
func NewCamera(spectrum Spectrum, th Thresholds) *Camera {
	return &Camera{th: th, spectrum: spectrum}
}

// Analyze implements Stage V's per-frame analysis (§4.7). tod selects which
// spectral gate(s) run; frame is the RGB raster, thermalFrame the thermal
// raster — either may be empty depending on tod/spectrum.
func (c *Camera) Analyze(frame, thermalFrame domain.Raster, tod TimeOfDay) Output {
	switch {
	case tod == TODDay:
		return c.analyzeRGB(frame)
	case tod == TODNight:
		return c.analyzeThermal(thermalFrame)
	default: // Twilight: dual.
		return c.analyzeDual(frame, thermalFrame)
	}
}

func (c *Camera) analyzeRGB(frame domain.Raster) Output {
	health := c.diagnose(frame, &c.rgb)
	if isBlind(health) {
		return Output{CameraHealth: health, Mode: ModeBlind, VisionWeight: 0}
	}

	sharpness := laplacianVarianceNormalized(frame)
	histVar := histogramVarianceNormalized(frame)

	if !c.rgb.initialized {
		c.rgb.sharpness = sharpness
		c.rgb.histVar = histVar
		c.rgb.initialized = true
		return Output{CameraHealth: health, Mode: ModeNormal, VisionWeight: 0.3 * health.HealthScore, Confidence: 0.3}
	}

	smokeConf := clamp01(0.6*maxf(0, c.rgb.sharpness-sharpness) + 0.4*maxf(0, histVar-c.rgb.histVar))
	analysis := &SmokeAnalysis{
		SmokeConfidence: smokeConf, EdgeSharpness: sharpness, HistogramVariance: histVar,
	}
	if smokeConf < c.th.SmokeConfThreshold {
		analysis.IsAmbiguous = true
		if smokeConf > 0.3 {
			analysis.RequiresConfirmation = true
		}
	}

	return Output{
		CameraHealth: health, SmokeAnalysis: analysis, Mode: ModeNormal,
		VisionWeight: 0.3 * health.HealthScore, Confidence: smokeConf,
	}
}

func (c *Camera) analyzeThermal(frame domain.Raster) Output {
	health := c.diagnose(frame, &c.thermal)
	if isBlind(health) {
		return Output{CameraHealth: health, Mode: ModeBlind, VisionWeight: 0}
	}

	hotPixels := countHotPixels(frame, c.th.ThermalHotSpotTempC)
	maxTemp := maxTemperature(frame)
	anomaly := clamp01((maxTemp - c.th.ThermalAmbientC) / c.th.ThermalAnomalyThreshold)

	c.thermal.hotPixelHistory = append(c.thermal.hotPixelHistory, hotPixels)
	if len(c.thermal.hotPixelHistory) > 10 {
		c.thermal.hotPixelHistory = c.thermal.hotPixelHistory[len(c.thermal.hotPixelHistory)-10:]
	}
	growth := growthOf(c.thermal.hotPixelHistory)
	gradient := sobelMaxGradient(frame)

	thermalConf := clamp01(0.5*anomaly + 0.3*clamp01(float64(growth)/10) + 0.2*gradient)
	analysis := &SmokeAnalysis{SmokeConfidence: thermalConf, EdgeSharpness: gradient}
	if thermalConf < c.th.SmokeConfThreshold {
		analysis.IsAmbiguous = true
	}

	return Output{
		CameraHealth: health, SmokeAnalysis: analysis, Mode: ModeNight,
		VisionWeight: minf(0.35, 0.35*thermalConf), Confidence: thermalConf,
	}
}

func (c *Camera) analyzeDual(rgbFrame, thermalFrame domain.Raster) Output {
	rgbOut := c.analyzeRGB(rgbFrame)
	thOut := c.analyzeThermal(thermalFrame)

	if rgbOut.Mode == ModeBlind && thOut.Mode == ModeBlind {
		return Output{CameraHealth: rgbOut.CameraHealth, Mode: ModeBlind, VisionWeight: 0}
	}

	rgbConf, thConf := rgbOut.Confidence, thOut.Confidence
	fused := 0.4*rgbConf + 0.6*thConf
	health := rgbOut.CameraHealth
	if !health.IsHealthy {
		health = thOut.CameraHealth
	}

	return Output{
		CameraHealth: health, SmokeAnalysis: mergeSmoke(rgbOut.SmokeAnalysis, thOut.SmokeAnalysis),
		Mode: ModeDual, VisionWeight: minf(0.4, 0.4*mean2(health.HealthScore, thConf)), Confidence: fused,
	}
}

func mergeSmoke(a, b *SmokeAnalysis) *SmokeAnalysis {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &SmokeAnalysis{
		SmokeConfidence: 0.4*a.SmokeConfidence + 0.6*b.SmokeConfidence,
		EdgeSharpness:   a.EdgeSharpness,
		HistogramVariance: a.HistogramVariance,
		IsAmbiguous:     a.IsAmbiguous && b.IsAmbiguous,
	}
}

// diagnose implements the camera self-diagnostic (§4.7): frame validity,
// exposure, brightness band, frozen-frame check.
func (c *Camera) diagnose(frame domain.Raster, bl *baseline) CameraHealth {
	var reasons []string

	if frame.Empty() || (frame.Channels != 2 && frame.Channels != 3) || frame.Height < 100 || frame.Width < 100 {
		return CameraHealth{IsHealthy: false, HealthScore: 0, FailureReasons: []string{"frame_invalid"}}
	}

	mean := meanPixel(frame)
	if mean*255 <= 10 || mean*255 >= 245 {
		reasons = append(reasons, "exposure_out_of_range")
	}
	if mean < c.th.BrightnessMin || mean > c.th.BrightnessMax {
		reasons = append(reasons, "brightness_out_of_band")
	}

	hash := hashFrame(frame)
	if bl.hasLastFrameHash && bl.lastFrameHash == hash {
		reasons = append(reasons, "frame_frozen")
	}
	bl.lastFrameHash = hash
	bl.hasLastFrameHash = true

	healthy := len(reasons) == 0
	score := 1.0
	if !healthy {
		score = maxf(0, 1-0.34*float64(len(reasons)))
	}
	return CameraHealth{IsHealthy: healthy, HealthScore: score, FailureReasons: reasons}
}

// blind reports whether reasons include a condition severe enough that no
// further frame analysis can be trusted — an invalid frame geometry only;
// exposure/brightness/freeze issues degrade the health score but the
// classical-CV gates still run on the data available (§4.7).
func isBlind(h CameraHealth) bool {
	for _, r := range h.FailureReasons {
		if r == "frame_invalid" {
			return true
		}
	}
	return false
}

func hashFrame(r domain.Raster) [32]byte {
	buf := make([]byte, 0, len(r.Data)*8)
	for _, v := range r.Data {
		bits := math.Float64bits(v)
		buf = append(buf,
			byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24),
			byte(bits>>32), byte(bits>>40), byte(bits>>48), byte(bits>>56))
	}
	return sha256.Sum256(buf)
}

func meanPixel(r domain.Raster) float64 {
	if len(r.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Data {
		sum += v
	}
	return sum / float64(len(r.Data))
}

func laplacianVarianceNormalized(r domain.Raster) float64 {
	if r.Height < 3 || r.Width < 3 {
		return 0
	}
	var vals []float64
	for y := 1; y < r.Height-1; y++ {
		for x := 1; x < r.Width-1; x++ {
			lap := -4*r.At(0, y, x) + r.At(0, y-1, x) + r.At(0, y+1, x) + r.At(0, y, x-1) + r.At(0, y, x+1)
			vals = append(vals, lap)
		}
	}
	return clamp01(variance(vals) / 0.25) // empirical max normalizer
}

func histogramVarianceNormalized(r domain.Raster) float64 {
	var bins [256]int
	n := 0
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			v := r.At(0, y, x)
			idx := int(v * 255)
			if idx < 0 {
				idx = 0
			}
			if idx > 255 {
				idx = 255
			}
			bins[idx]++
			n++
		}
	}
	if n == 0 {
		return 0
	}
	var fbins []float64
	for _, c := range bins {
		fbins = append(fbins, float64(c))
	}
	return clamp01(variance(fbins) / (float64(n) * float64(n) / 64))
}

func countHotPixels(r domain.Raster, thresholdC float64) int {
	count := 0
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			tempC := r.At(0, y, x) * 150 // raster normalized [0,1] maps to [0,150]C
			if tempC > thresholdC {
				count++
			}
		}
	}
	return count
}

func maxTemperature(r domain.Raster) float64 {
	max := 0.0
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			t := r.At(0, y, x) * 150
			if t > max {
				max = t
			}
		}
	}
	return max
}

func growthOf(history []int) int {
	if len(history) < 2 {
		return 0
	}
	return history[len(history)-1] - history[0]
}

func sobelMaxGradient(r domain.Raster) float64 {
	if r.Height < 3 || r.Width < 3 {
		return 0
	}
	max := 0.0
	for y := 1; y < r.Height-1; y++ {
		for x := 1; x < r.Width-1; x++ {
			gx := r.At(0, y-1, x+1) + 2*r.At(0, y, x+1) + r.At(0, y+1, x+1) -
				r.At(0, y-1, x-1) - 2*r.At(0, y, x-1) - r.At(0, y+1, x-1)
			gy := r.At(0, y+1, x-1) + 2*r.At(0, y+1, x) + r.At(0, y+1, x+1) -
				r.At(0, y-1, x-1) - 2*r.At(0, y-1, x) - r.At(0, y-1, x+1)
			mag := math.Sqrt(gx*gx + gy*gy)
			if mag > max {
				max = mag
			}
		}
	}
	return clamp01(max / 4)
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return sq / float64(len(xs))
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

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func mean2(a, b float64) float64 { return (a + b) / 2 }

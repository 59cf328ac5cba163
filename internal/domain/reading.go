// Package domain holds the leaf value types shared by every pipeline stage:
// sensor envelopes, validated readings, and the external driver interfaces
// consumed by the core (§6). No stage-owned mutable state lives here —
// see the watchdog, temporal, structure, chaos, vision, decision, and mesh
// packages for the types each stage exclusively owns.
package domain

import "time"

// Kind enumerates the recognized sensor kinds.
type Kind int

const (
	KindTemperature Kind = iota
	KindHumidity
	KindVOC
	KindTerpene
	KindCO
	KindSmoke
	KindFlame
	KindSoilMoisture
	KindImage
	KindThermal
)

func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindHumidity:
		return "humidity"
	case KindVOC:
		return "voc"
	case KindTerpene:
		return "terpene"
	case KindCO:
		return "co"
	case KindSmoke:
		return "smoke"
	case KindFlame:
		return "flame"
	case KindSoilMoisture:
		return "soil_moisture"
	case KindImage:
		return "image"
	case KindThermal:
		return "thermal"
	default:
		return "unknown"
	}
}

// Raster is a 2- or 3-channel numeric matrix, e.g. RGB or thermal frames.
type Raster struct {
	Channels int
	Height   int
	Width    int
	// Data is row-major, channel-interleaved pixel data normalized to [0,1].
	Data []float64
}

// At returns the value at (channel, y, x). Out-of-range access returns 0.
func (r Raster) At(c, y, x int) float64 {
	if r.Height == 0 || r.Width == 0 || r.Channels == 0 {
		return 0
	}
	if c < 0 || c >= r.Channels || y < 0 || y >= r.Height || x < 0 || x >= r.Width {
		return 0
	}
	idx := (y*r.Width+x)*r.Channels + c
	if idx < 0 || idx >= len(r.Data) {
		return 0
	}
	return r.Data[idx]
}

// Empty reports whether the raster carries no pixel data.
func (r Raster) Empty() bool {
	return r.Height == 0 || r.Width == 0 || len(r.Data) == 0
}

// ReadingValue is a tagged union: exactly one of Scalar or Raster is set,
// discriminated by IsRaster. This avoids reflection at the processor
// boundary (dispatch is by Kind).
type ReadingValue struct {
	IsRaster bool
	Scalar   float64
	Raster   Raster
}

// ScalarValue constructs a scalar ReadingValue.
func ScalarValue(v float64) ReadingValue { return ReadingValue{Scalar: v} }

// RasterValue constructs a raster ReadingValue.
func RasterValue(r Raster) ReadingValue { return ReadingValue{IsRaster: true, Raster: r} }

// SensorReading is a single sensor envelope as produced by a SensorDriver.
type SensorReading struct {
	SensorID string
	Kind     Kind
	Value    ReadingValue
	TS       time.Time
}

// Flag names carried on a ValidatedReading.
type Flag string

const (
	FlagRangeOk   Flag = "RangeOk"
	FlagFrozenOk  Flag = "FrozenOk"
	FlagPresentOk Flag = "PresentOk"
)

// ValidatedReading is Watchdog's output: a trust-annotated reading.
// Immutable once constructed.
type ValidatedReading struct {
	SensorID       string
	Kind           Kind
	Value          ReadingValue
	Reliability    float64
	Imputed        bool
	Present        bool
	Flags          map[Flag]bool
	FailureReason  string
	ParanoidMode   bool
}

// HasFlag reports whether f is set.
func (v ValidatedReading) HasFlag(f Flag) bool { return v.Flags[f] }

// SensorDriver is the external collaborator that produces sensor envelopes.
// Implementations are out of scope for the core; only consumed here.
type SensorDriver interface {
	Read() (map[string]SensorReading, error)
}

// Camera is the external collaborator that produces image/thermal frames.
type Camera interface {
	ReadFrame() (Raster, bool, error)
}

// Clock is the external collaborator providing wall-clock time, allowing
// deterministic tests to inject a fake clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// StageErrorKind enumerates the taxonomy of non-fatal stage failures (§7).
type StageErrorKind string

const (
	ErrInsufficientData       StageErrorKind = "insufficient_data"
	ErrModelLoadFailure       StageErrorKind = "model_load_failure"
	ErrCameraUnhealthy        StageErrorKind = "camera_unhealthy"
	ErrLowConfidence          StageErrorKind = "low_confidence"
	ErrRouteFailure           StageErrorKind = "route_failure"
	ErrSatelliteFailure       StageErrorKind = "satellite_failure"
	ErrUnknownSource          StageErrorKind = "unknown_source"
	ErrImputationImpossible   StageErrorKind = "imputation_impossible"
)

// StageError is the typed, non-fatal diagnostic every stage boundary
// returns instead of panicking or propagating past the pipeline (§7, §9).
type StageError struct {
	Kind       StageErrorKind
	Diagnostic string
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Diagnostic
}

// NewStageError constructs a StageError.
func NewStageError(kind StageErrorKind, diagnostic string) *StageError {
	return &StageError{Kind: kind, Diagnostic: diagnostic}
}

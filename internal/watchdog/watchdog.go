package watchdog

import (
	"sync"
	"time"

	"github.com/emberwatch/emberwatch/internal/domain"
)

// Limits holds the per-kind range and dying-gasp thresholds (config §6
// "sensors: per-kind {min, max, dying_gasp}").
type Limits struct {
	Min       float64
	Max       float64
	HasGasp   bool
	DyingGasp float64
}

// PhysicsDefault is the kind-specific ambient fallback used by the physics
// imputation strategy (§4.1).
var PhysicsDefault = map[domain.Kind]float64{
	domain.KindTemperature: 25.0,
	domain.KindHumidity:    50.0,
	domain.KindVOC:         50.0,
	domain.KindTerpene:     0.1,
	domain.KindCO:          0.5,
	domain.KindSmoke:       0.0,
	domain.KindFlame:       0.0,
	domain.KindSoilMoisture: 40.0,
}

// BlackBoxSnapshot is the bounded recent history of a sensor emitted on
// death (§3 glossary "Black-box"), consumed by Mesh's dying-gasp path.
type BlackBoxSnapshot struct {
	SensorID string
	Kind     domain.Kind
	Values   []float64
	Times    []time.Time
}

// Watchdog validates and imputes sensor readings, maintaining per-sensor
// history and the node-global trauma level (§4.1).
type Watchdog struct {
	mu     sync.Mutex
	states map[string]*SensorState
	limits map[domain.Kind]Limits
	trauma *TraumaState
	clock  domain.Clock

	frozenThreshold   time.Duration
	blackBoxWindow    time.Duration

	// lastDyingGasp is set when the most recent Validate call triggered the
	// dying-gasp protocol; TakeDyingGasp returns it once, then clears it.
	// Neither the pipeline nor the node agent calls TakeDyingGasp, so no
	// mesh message is sent for a dying gasp.
	lastDyingGasp *BlackBoxSnapshot
}

// New creates a Watchdog. limits maps each recognized Kind to its range.
func New(limits map[domain.Kind]Limits, trauma *TraumaState, clock domain.Clock) *Watchdog {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Watchdog{
		states:          make(map[string]*SensorState),
		limits:          limits,
		trauma:          trauma,
		clock:           clock,
		frozenThreshold: frozenThresholdDefault,
		blackBoxWindow:  blackBoxSecondsDefault * time.Second,
	}
}

// SetFrozenThreshold overrides the default 5h frozen window (config).
func (w *Watchdog) SetFrozenThreshold(d time.Duration) { w.frozenThreshold = d }

// SetBlackBoxWindow overrides the default 30s black-box window (config).
func (w *Watchdog) SetBlackBoxWindow(d time.Duration) { w.blackBoxWindow = d }

// TakeDyingGasp returns and clears the most recent dying-gasp snapshot, if any.
func (w *Watchdog) TakeDyingGasp() *BlackBoxSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.lastDyingGasp
	w.lastDyingGasp = nil
	return s
}

// Validate implements the Watchdog contract (§4.1):
//
//	validate(reading?, id, kind, coReadings) -> ValidatedReading
//
// reading may be nil (absent envelope, triggers imputation). coReadings is
// the current tick's other readings, used by the correlation imputation
// strategy.
func (w *Watchdog) Validate(reading *domain.SensorReading, id string, kind domain.Kind, coReadings map[domain.Kind]float64) domain.ValidatedReading {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.states[id]
	if !ok {
		state = newSensorState(id)
		w.states[id] = state
	}
	if state.Broken {
		return invalidReading(id, kind, "sensor_broken")
	}

	now := w.clock.Now()

	// Step 1: null check / imputation.
	if reading == nil {
		return w.impute(state, id, kind, coReadings, now)
	}

	value, isScalar := scalarOf(reading.Value)
	if !isScalar {
		// Raster kinds (Image/Thermal) bypass the scalar range/frozen
		// pipeline; Vision handles their own health checks.
		return domain.ValidatedReading{
			SensorID: id, Kind: kind, Value: reading.Value,
			Reliability: 1.0, Present: true,
			Flags: map[domain.Flag]bool{domain.FlagRangeOk: true, domain.FlagPresentOk: true, domain.FlagFrozenOk: true},
		}
	}

	// Step 2: range check + dying gasp.
	limits, hasLimits := w.limits[kind]
	if hasLimits {
		if limits.HasGasp && value >= limits.DyingGasp {
			state.Broken = true
			w.trauma.Register(1.0, now)
			vals, times := state.sinceBlackBox(w.blackBoxWindow, now)
			w.lastDyingGasp = &BlackBoxSnapshot{SensorID: id, Kind: kind, Values: vals, Times: times}
			return invalidReading(id, kind, "dying_gasp")
		}
		if value < limits.Min || value > limits.Max {
			return invalidReading(id, kind, "out_of_range")
		}
	}

	// Step 3: frozen check.
	if state.HasLastValue && value == state.LastValue {
		if !state.HasFrozen {
			state.HasFrozen = true
			state.FrozenSince = now
		}
		if now.Sub(state.FrozenSince) >= w.frozenThreshold {
			state.Broken = true
			w.trauma.Bump(0.5, now)
			return invalidReading(id, kind, "frozen")
		}
	} else {
		state.HasFrozen = false
	}

	// Step 4: trauma context.
	reliability := 1.0
	traumaLevel := w.trauma.Level()
	if traumaLevel > 0 {
		reliability *= 1 - 0.1*traumaLevel
	}

	state.LastValue = value
	state.HasLastValue = true
	state.LastTS = now
	state.History.Push(value, now)

	return domain.ValidatedReading{
		SensorID: id, Kind: kind, Value: reading.Value,
		Reliability: reliability, Present: true,
		Flags:        map[domain.Flag]bool{domain.FlagRangeOk: true, domain.FlagFrozenOk: true, domain.FlagPresentOk: true},
		ParanoidMode: traumaLevel > 0,
	}
}

// impute tries, in order, temporal / correlation / physics-default strategies
// and returns the first with nonzero confidence (§4.1).
func (w *Watchdog) impute(state *SensorState, id string, kind domain.Kind, co map[domain.Kind]float64, now time.Time) domain.ValidatedReading {
	if v, conf, ok := temporalImpute(state); ok {
		return imputedReading(id, kind, v, conf)
	}
	if v, conf, ok := correlationImpute(kind, co); ok {
		return imputedReading(id, kind, v, conf)
	}
	if v, conf, ok := physicsImpute(kind); ok {
		return imputedReading(id, kind, v, conf)
	}
	return domain.ValidatedReading{
		SensorID: id, Kind: kind, Present: false, Reliability: 0,
		FailureReason: "imputation_impossible",
		Flags:         map[domain.Flag]bool{},
	}
}

// temporalImpute: mean of last 5 values, confidence 0.7.
func temporalImpute(state *SensorState) (float64, float64, bool) {
	recent := state.recentValues(5)
	if len(recent) == 0 {
		return 0, 0, false
	}
	var sum float64
	for _, v := range recent {
		sum += v
	}
	return sum / float64(len(recent)), 0.7, true
}

// correlationImpute: inverse proxy between temperature and humidity, conf 0.6.
func correlationImpute(kind domain.Kind, co map[domain.Kind]float64) (float64, float64, bool) {
	switch kind {
	case domain.KindTemperature:
		if h, ok := co[domain.KindHumidity]; ok {
			return 100 - h, 0.6, true
		}
	case domain.KindHumidity:
		if t, ok := co[domain.KindTemperature]; ok {
			return 100 - t, 0.6, true
		}
	}
	return 0, 0, false
}

// physicsImpute: kind-specific ambient default, conf 0.5.
func physicsImpute(kind domain.Kind) (float64, float64, bool) {
	if v, ok := PhysicsDefault[kind]; ok {
		return v, 0.5, true
	}
	return 0, 0, false
}

func imputedReading(id string, kind domain.Kind, v, conf float64) domain.ValidatedReading {
	return domain.ValidatedReading{
		SensorID: id, Kind: kind, Value: domain.ScalarValue(v),
		Reliability: conf * 0.8, Imputed: true, Present: true,
		Flags: map[domain.Flag]bool{domain.FlagPresentOk: true},
	}
}

func invalidReading(id string, kind domain.Kind, reason string) domain.ValidatedReading {
	return domain.ValidatedReading{
		SensorID: id, Kind: kind, Present: false, Reliability: 0,
		FailureReason: reason,
		Flags:         map[domain.Flag]bool{},
	}
}

func scalarOf(v domain.ReadingValue) (float64, bool) {
	if v.IsRaster {
		return 0, false
	}
	return v.Scalar, true
}

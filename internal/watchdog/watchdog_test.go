package watchdog_test

// Covers: a normal reading, the dying-gasp protocol (broken + black-box),
// frozen-sensor detection, imputation falling through to the physics
// default, and the trauma-adaptive threshold.

import (
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/watchdog"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func defaultLimits() map[domain.Kind]watchdog.Limits {
	return map[domain.Kind]watchdog.Limits{
		domain.KindTemperature: {Min: -40, Max: 85, HasGasp: true, DyingGasp: 100},
		domain.KindHumidity:    {Min: 0, Max: 100},
	}
}

func TestValidate_NormalReading(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	w := watchdog.New(defaultLimits(), watchdog.NewTraumaState(7), clock)
	r := domain.SensorReading{SensorID: "t1", Kind: domain.KindTemperature, Value: domain.ScalarValue(22), TS: clock.t}
	vr := w.Validate(&r, "t1", domain.KindTemperature, nil)
	if !vr.Present || vr.Reliability != 1.0 {
		t.Fatalf("expected present reading with reliability 1.0, got %+v", vr)
	}
}

func TestValidate_DyingGasp(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	w := watchdog.New(defaultLimits(), watchdog.NewTraumaState(7), clock)

	r := domain.SensorReading{SensorID: "t1", Kind: domain.KindTemperature, Value: domain.ScalarValue(105), TS: clock.t}
	vr := w.Validate(&r, "t1", domain.KindTemperature, nil)
	if vr.Present {
		t.Fatalf("expected dying-gasp reading to be invalid")
	}
	if vr.FailureReason != "dying_gasp" {
		t.Fatalf("expected dying_gasp failure reason, got %q", vr.FailureReason)
	}

	snap := w.TakeDyingGasp()
	if snap == nil {
		t.Fatalf("expected a black-box snapshot to be emitted")
	}

	// Subsequent reads from the same sensor must be rejected (broken).
	r2 := domain.SensorReading{SensorID: "t1", Kind: domain.KindTemperature, Value: domain.ScalarValue(20), TS: clock.t}
	vr2 := w.Validate(&r2, "t1", domain.KindTemperature, nil)
	if vr2.Present {
		t.Fatalf("expected broken sensor to keep rejecting reads")
	}
}

func TestValidate_FrozenSensor(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	w := watchdog.New(defaultLimits(), watchdog.NewTraumaState(7), clock)
	w.SetFrozenThreshold(2 * time.Hour)

	r := domain.SensorReading{SensorID: "t1", Kind: domain.KindTemperature, Value: domain.ScalarValue(20)}
	w.Validate(&r, "t1", domain.KindTemperature, nil)

	// The first repeat of an unchanged value starts the frozen timer.
	clock.t = clock.t.Add(time.Minute)
	w.Validate(&r, "t1", domain.KindTemperature, nil)

	clock.t = clock.t.Add(3 * time.Hour)
	vr := w.Validate(&r, "t1", domain.KindTemperature, nil)
	if vr.Present || vr.FailureReason != "frozen" {
		t.Fatalf("expected frozen rejection after threshold, got %+v", vr)
	}
}

func TestImpute_Fallthrough(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	w := watchdog.New(defaultLimits(), watchdog.NewTraumaState(7), clock)

	// No history yet, no correlated reading -> physics default.
	vr := w.Validate(nil, "t1", domain.KindTemperature, nil)
	if !vr.Present || !vr.Imputed {
		t.Fatalf("expected physics-imputed reading, got %+v", vr)
	}
	if vr.Value.Scalar != watchdog.PhysicsDefault[domain.KindTemperature] {
		t.Fatalf("expected physics default value, got %v", vr.Value.Scalar)
	}
}

func TestAdaptiveThreshold_Bounds(t *testing.T) {
	ts := watchdog.NewTraumaState(7)
	if got := ts.AdaptiveThreshold(1.1); got < 1.2099 || got > 1.2101 {
		t.Fatalf("adaptive_threshold(1.1, 0) expected ~1.21, got %v", got)
	}
	ts.Register(1.0/0.3, time.Now()) // drive level to 1.0
	if got := ts.AdaptiveThreshold(1.1); got < 0.1099 || got > 0.1101 {
		t.Fatalf("adaptive_threshold(1.1, 1) expected ~0.11, got %v", got)
	}
}

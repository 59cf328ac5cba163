// Package watchdog implements Stage W: trust-annotated sensor validation
// with a trauma-memory feedback signal (§4.1). Watchdog exclusively owns
// SensorState (per-sensor) and TraumaState (per-node); no other stage
// mutates them (§3, §5).
package watchdog

import (
	"time"

	"github.com/emberwatch/emberwatch/internal/ring"
)

const (
	valueHistoryCap = 100
	frozenThresholdDefault = 5 * time.Hour
	blackBoxSecondsDefault = 30
)

// SensorState is owned exclusively by Watchdog; mutated on each new reading.
type SensorState struct {
	SensorID     string
	LastValue    float64
	HasLastValue bool
	LastTS       time.Time
	History      *ring.Float // cap 100, value+ts
	FrozenSince  time.Time
	HasFrozen    bool
	Broken       bool
}

func newSensorState(id string) *SensorState {
	return &SensorState{
		SensorID: id,
		History:  ring.NewFloat(valueHistoryCap),
	}
}

// recentValues returns the last n recorded values, oldest first.
func (s *SensorState) recentValues(n int) []float64 {
	vals := s.History.Values()
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}

// sinceBlackBox returns (values, timestamps) for the last window duration.
func (s *SensorState) sinceBlackBox(window time.Duration, now time.Time) ([]float64, []time.Time) {
	vals := s.History.Values()
	times := s.History.Times()
	cutoff := now.Add(-window)
	var outV []float64
	var outT []time.Time
	for i, t := range times {
		if t.After(cutoff) {
			outV = append(outV, vals[i])
			outT = append(outT, t)
		}
	}
	return outV, outT
}

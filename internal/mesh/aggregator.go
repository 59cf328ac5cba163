package mesh

// Aggregator implements the Queen's 5-minute Drone-alert buffer (§4.9),
// adapted from the gossip layer's partition-aware Quorum evaluator: rather
// than counting unique nodes reporting a process hash within a TTL, it
// counts distinct Drones reporting risk > 0.6 within a wall-clock sliding
// window and synthesizes a single AggregatedAlert on quorum.

import (
	"sync"
	"time"
)

type droneAlert struct {
	droneID    string
	risk       float64
	recordedAt time.Time
}

// AggregatorConfig tunes the Queen aggregation window (config mesh.*).
type AggregatorConfig struct {
	Window              time.Duration // default 5 min
	RiskThreshold       float64       // default 0.6
	EscalationThreshold int           // default 2 distinct drones
}

// DefaultAggregatorConfig returns the §4.9 defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{Window: 5 * time.Minute, RiskThreshold: 0.6, EscalationThreshold: 2}
}

// Aggregator is owned by a Queen node; not used by Drones.
type Aggregator struct {
	mu    sync.Mutex
	cfg   AggregatorConfig
	alerts []droneAlert
}

// NewAggregator creates an Aggregator with the given configuration.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = 0.6
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 2
	}
	return &Aggregator{cfg: cfg}
}

// Record records a Drone's alert risk at now, pruning entries outside the
// window. Late arrivals outside the window are recorded but do not
// retroactively re-aggregate past evaluations (§5 ordering guarantees).
func (a *Aggregator) Record(droneID string, risk float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(now)
	a.alerts = append(a.alerts, droneAlert{droneID: droneID, risk: risk, recordedAt: now})
}

// Evaluate implements the §4.9 aggregation rule: when >= EscalationThreshold
// distinct Drones have risk > RiskThreshold within the window, returns a
// synthesized AggregatedAlert (avg risk, max risk, sources), escalated at
// P1 Critical. Returns (nil, false) otherwise.
func (a *Aggregator) Evaluate(now time.Time, alertID string) (*AggregatedAlert, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(now)

	best := make(map[string]float64)
	for _, al := range a.alerts {
		if al.risk > a.cfg.RiskThreshold {
			if cur, ok := best[al.droneID]; !ok || al.risk > cur {
				best[al.droneID] = al.risk
			}
		}
	}
	if len(best) < a.cfg.EscalationThreshold {
		return nil, false
	}

	var sum, max float64
	sources := make([]string, 0, len(best))
	for id, risk := range best {
		sum += risk
		if risk > max {
			max = risk
		}
		sources = append(sources, id)
	}

	return &AggregatedAlert{
		AlertID: alertID, AvgRisk: sum / float64(len(best)), MaxRisk: max,
		SourceDrones: sources, Escalated: true, Priority: PriorityP1, Channel: ChannelSatellite,
	}, true
}

// prune removes entries older than the window. Must be called with mu held.
func (a *Aggregator) prune(now time.Time) {
	cutoff := now.Add(-a.cfg.Window)
	kept := a.alerts[:0]
	for _, al := range a.alerts {
		if al.recordedAt.After(cutoff) {
			kept = append(kept, al)
		}
	}
	a.alerts = kept
}

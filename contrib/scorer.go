// Package contrib — scorer.go
//
// Plugin interface for custom composite-risk scorers.
//
// emberwatch exposes a contrib/ directory for community-contributed
// extensions. The primary extension point is the RiskScorer interface,
// which allows users to replace or augment the built-in §4.8 weighted-sum
// composite risk formula with custom logic (e.g., learned models, site-
// specific rule overlays, seasonal risk multipliers).
//
// Plugin registration:
//
//	Plugins register themselves in an init() function using RegisterScorer().
//	Callers look a scorer up by name with GetScorer(). The node agent and
//	its config do not select or call a scorer; Decision uses its own
//	built-in formula.
//
//	Built-in scorers: "weighted-sum" (default).
//	Community scorers: registered via contrib.RegisterScorer().
//
// Plugin contract:
//   - Score() must be goroutine-safe (called from multiple node workers).
//   - Score() must return in < 1ms to avoid blocking the pipeline tick.
//   - Score() must not allocate on the hot path (use sync.Pool if needed).
//   - Score() must not call any blocking I/O (no disk, no network).
//   - Score() must not panic (use recover() internally if needed).
//   - Name() must return a stable, unique string (the GetScorer lookup key).
//
// Example plugin (contrib/scorers/seasonal/seasonal.go):
//
//	package seasonal
//
//	import (
//	  "time"
//
//	  "github.com/emberwatch/emberwatch/contrib"
//	)
//
//	func init() {
//	  contrib.RegisterScorer(&SeasonalScorer{})
//	}
//
//	type SeasonalScorer struct{}
//
//	func (s *SeasonalScorer) Name() string { return "seasonal" }
//
//	func (s *SeasonalScorer) Score(req contrib.RiskRequest) (float64, []string, error) {
//	  base := req.FireRiskScore*0.4 + req.SmokeConfidence*0.2
//	  if m := time.Now().Month(); m >= 6 && m <= 9 {
//	    base *= 1.15 // dry-season multiplier
//	  }
//	  if base > 1 {
//	    base = 1
//	  }
//	  return base, []string{"seasonal multiplier applied"}, nil
//	}
package contrib

import (
	"fmt"
	"sync"
)

// ─── RiskScorer interface ───────────────────────────────────────────────────

// RiskRequest is the input to RiskScorer.Score(): the same signal set the
// built-in §4.8 composite formula consumes, so a custom scorer can use as
// much or as little of it as it needs.
type RiskRequest struct {
	FireRiskScore    float64
	Agreement        float64
	Trend            string // "rising" | "falling" | "stable"
	Persistence      float64
	HasStructure     bool
	Hurst            float64
	IsUnstable       bool
	Lyapunov         float64
	CameraHealthy    bool
	SmokeConfidence  float64
	TraumaLocal      float64
}

// RiskScorer is the interface that custom composite-risk scorers must
// implement.
//
// Contract:
//   - Score() must be goroutine-safe.
//   - Score() must return in < 1ms.
//   - Score() must not allocate on the hot path.
//   - Score() must not call blocking I/O.
//   - Score() must not panic.
//   - Name() must return a stable, unique string.
type RiskScorer interface {
	// Name returns the unique identifier for this scorer.
	// Used as the GetScorer lookup key.
	Name() string

	// Score computes a composite risk score in [0,1] for the given request,
	// plus a list of human-readable reasoning strings for the audit ledger.
	Score(req RiskRequest) (risk float64, reasoning []string, err error)
}

// ─── Registry ───────────────────────────────────────────────────────────────

var (
	registryMu sync.RWMutex
	registry   = make(map[string]RiskScorer)
)

// RegisterScorer registers a custom composite-risk scorer.
// Panics if a scorer with the same name is already registered.
// Call from init() functions in plugin packages.
func RegisterScorer(s RiskScorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the registered scorer with the given name.
// Returns an error if no scorer with that name is registered.
func GetScorer(name string) (RiskScorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of all registered scorers.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// ─── Built-in scorer: weighted-sum (§4.8) ──────────────────────────────────
// This is the reference implementation of the default composite-risk
// formula, provided here so a deployment can explicitly select it by name
// and so community scorers have a baseline to diff against.

// WeightedSumScorer implements the §4.8 composite risk formula directly.
// Registered as "weighted-sum".
type WeightedSumScorer struct{}

func init() {
	RegisterScorer(&WeightedSumScorer{})
}

func (w *WeightedSumScorer) Name() string { return "weighted-sum" }

func (w *WeightedSumScorer) Score(req RiskRequest) (float64, []string, error) {
	var reasoning []string
	risk := 0.40 * req.FireRiskScore
	reasoning = append(reasoning, fmt.Sprintf("fire_risk_score contributes %.3f", 0.40*req.FireRiskScore))

	if req.HasStructure && req.Hurst > 0.5 {
		c := 0.15 * (req.Hurst - 0.5)
		risk += c
		reasoning = append(reasoning, fmt.Sprintf("structure persistence contributes %.3f", c))
	}
	if req.IsUnstable && req.Lyapunov > 0 {
		c := 0.15 * req.Lyapunov
		risk += c
		reasoning = append(reasoning, fmt.Sprintf("chaos instability contributes %.3f", c))
	}
	if req.CameraHealthy {
		c := 0.20 * req.SmokeConfidence
		risk += c
		reasoning = append(reasoning, fmt.Sprintf("smoke confidence contributes %.3f", c))
	}
	if req.Trend == "rising" {
		risk += 0.05
		reasoning = append(reasoning, "rising trend contributes 0.050")
	}
	if req.Persistence > 0.6 {
		risk += 0.05
		reasoning = append(reasoning, "high persistence contributes 0.050")
	}
	risk += 0.10 * req.Agreement
	risk += 0.05 * req.TraumaLocal

	if risk < 0 {
		risk = 0
	}
	if risk > 1 {
		risk = 1
	}
	return risk, reasoning, nil
}

package temporal

import (
	"math"
	"time"
)

// Backbone is the interface a frozen pretrained backbone must satisfy to be
// wrapped by BackboneSSM. Implementations are external collaborators (model
// weights, inference runtime) — emberwatch only consumes this interface,
// never ships a concrete backbone.
type Backbone interface {
	// Infer runs the frozen backbone in inference mode over a rolling
	// window of (chem, vis, env) triples (length <= 60) and returns a
	// d_model-dimensional embedding.
	Infer(window [][3]float64) ([]float64, error)
	// DModel is the backbone's embedding dimension.
	DModel() int
}

// BackboneSSM wraps a frozen pretrained backbone with a trainable linear
// adapter (input 3->d_model via the backbone itself, output d_model->1) and
// a sigmoid head (§4.4 "Large pretrained SSM"). Falls back to a
// LightweightSSM on load failure — the fallback, once engaged, is
// permanent for the lifetime of this instance (§9: "treat update as a
// void-plus-state call and perceptual() as the only query used by Fusion").
type BackboneSSM struct {
	backbone Backbone
	adapter  []float64 // d_model -> 1 linear projection, learned offline

	fallback *LightweightSSM
	useFallback bool

	rolling [][3]float64
	w       *window
	lastOut float64
}

// NewBackboneSSM attempts to construct a backbone-backed engine. If backbone
// is nil or its DModel is invalid, it returns an engine already running in
// fallback mode — construction itself never fails (§7 "model-load failure
// ... stage returns a neutral result").
func NewBackboneSSM(backbone Backbone, adapter []float64) *BackboneSSM {
	s := &BackboneSSM{
		backbone: backbone,
		adapter:  adapter,
		fallback: NewLightweight(),
		w:        newWindow(),
	}
	if backbone == nil || backbone.DModel() <= 0 || len(adapter) != backbone.DModel() {
		s.useFallback = true
	}
	return s
}

// Update implements Engine.Update.
func (s *BackboneSSM) Update(chem, vis, env float64, ts time.Time) State {
	s.w.push(chem, vis, env, ts)

	if s.useFallback {
		return s.fallback.Update(chem, vis, env, ts)
	}

	s.rolling = append(s.rolling, [3]float64{chem, vis, env})
	if len(s.rolling) > historyCap {
		s.rolling = s.rolling[len(s.rolling)-historyCap:]
	}

	embedding, err := s.backbone.Infer(s.rolling)
	if err != nil {
		// Model-load/inference failure: fall back permanently (§7, §9).
		s.useFallback = true
		return s.fallback.Update(chem, vis, env, ts)
	}

	var z float64
	for i, e := range embedding {
		if i >= len(s.adapter) {
			break
		}
		z += e * s.adapter[i]
	}
	s.lastOut = sigmoid(z)

	lag := s.w.crossModalLag()
	conf := s.w.temporalConfidence(0)

	return State{
		Hidden:             embedding,
		ChemicalTrend:      s.w.chemTrend,
		VisualTrend:        s.w.visTrend,
		EnvironmentalTrend: s.w.envTrend,
		Persistence:        s.w.persistence,
		CrossModalLag:      lag,
		TemporalConfidence: conf,
		LastTS:             ts,
	}
}

// Perceptual implements Engine.Perceptual.
func (s *BackboneSSM) Perceptual() Perceptual {
	if s.useFallback {
		return s.fallback.Perceptual()
	}
	diff := s.w.chemTrend + s.w.visTrend
	agreement := 1 - math.Abs(s.w.chemTrend-s.w.visTrend)
	if agreement < 0 {
		agreement = 0
	}
	return Perceptual{
		FusedScore:        s.lastOut,
		Trend:             s.w.trendOf(diff),
		Confidence:        s.w.temporalConfidence(0),
		ModalityAgreement: agreement,
		ChemicalTrend:     s.w.chemTrend,
		VisualTrend:       s.w.visTrend,
		Persistence:       s.w.persistence,
		CrossModalLag:     s.w.crossModalLag(),
	}
}

// Stats implements Engine.Stats.
func (s *BackboneSSM) Stats() Stats {
	if s.useFallback {
		return s.fallback.Stats()
	}
	dm := 0
	if s.backbone != nil {
		dm = s.backbone.DModel()
	}
	return Stats{WindowLen: len(s.rolling), HiddenDim: dm}
}

// Reset implements Engine.Reset.
func (s *BackboneSSM) Reset() {
	s.rolling = nil
	s.w = newWindow()
	s.lastOut = 0
	if s.useFallback {
		s.fallback.Reset()
	}
}

// UsingFallback reports whether this instance has permanently degraded to
// the lightweight engine.
func (s *BackboneSSM) UsingFallback() bool { return s.useFallback }

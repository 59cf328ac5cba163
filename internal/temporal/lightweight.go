package temporal

import (
	"math"
	"time"
)

// LightweightSSM is the default, always-available TemporalEngine: a fixed
// hidden-dimension (d=8) linear state-space model with a selection gate
// (§4.4). It has no external dependencies and never fails to load.
type LightweightSSM struct {
	w *window

	hidden []float64 // h, len=8
	a      []float64 // diagonal decay, 0.9 per element
	b      [][]float64 // d x 3
	c      []float64   // 1 x d

	lastTS      time.Time
	hasLastTS   bool
	hiddenEnergyHistory []float64

	selectionWeights [3]float64
	recentInputs     [][3]float64 // last 10 (chem, vis, env) for the selection gate
}

// NewLightweight creates a LightweightSSM with deterministic, small B/C
// matrices (seeded, not random, so runs are reproducible across restarts).
func NewLightweight() *LightweightSSM {
	b := make([][]float64, hiddenDim)
	c := make([]float64, hiddenDim)
	a := make([]float64, hiddenDim)
	for i := 0; i < hiddenDim; i++ {
		a[i] = 0.9
		c[i] = 0.1 + 0.05*float64(i%4)
		b[i] = []float64{
			0.15 + 0.02*float64(i%3),
			0.12 + 0.03*float64((i+1)%3),
			0.10 + 0.02*float64((i+2)%3),
		}
	}
	return &LightweightSSM{
		w:                newWindow(),
		hidden:           make([]float64, hiddenDim),
		a:                a,
		b:                b,
		c:                c,
		selectionWeights: [3]float64{0.5, 0.3, 0.2},
	}
}

// Update implements Engine.Update (§4.4).
func (s *LightweightSSM) Update(chem, vis, env float64, ts time.Time) State {
	s.w.push(chem, vis, env, ts)

	s.recentInputs = append(s.recentInputs, [3]float64{chem, vis, env})
	if len(s.recentInputs) > 10 {
		s.recentInputs = s.recentInputs[len(s.recentInputs)-10:]
	}
	gate := s.selectionGate()

	dt := 1.0
	if s.hasLastTS {
		dt = ts.Sub(s.lastTS).Seconds()
	}
	s.lastTS = ts
	s.hasLastTS = true
	if dt < 0.1 {
		dt = 0.1
	}
	if dt > 10 {
		dt = 10
	}

	u := [3]float64{
		gate * s.selectionWeights[0] * chem,
		gate * s.selectionWeights[1] * vis,
		gate * s.selectionWeights[2] * env,
	}

	newHidden := make([]float64, hiddenDim)
	for i := 0; i < hiddenDim; i++ {
		decay := (1 + s.a[i]*dt) * s.hidden[i]
		bu := s.b[i][0]*u[0] + s.b[i][1]*u[1] + s.b[i][2]*u[2]
		newHidden[i] = math.Tanh(decay + bu)
	}
	s.hidden = newHidden

	energy := 0.0
	for _, h := range s.hidden {
		energy += h * h
	}
	s.hiddenEnergyHistory = append(s.hiddenEnergyHistory, energy)
	if len(s.hiddenEnergyHistory) > historyCap {
		s.hiddenEnergyHistory = s.hiddenEnergyHistory[len(s.hiddenEnergyHistory)-historyCap:]
	}

	lag := s.w.crossModalLag()
	_, energyVar := meanStd(s.hiddenEnergyHistory)
	conf := s.w.temporalConfidence(energyVar * energyVar)

	return State{
		Hidden:             append([]float64(nil), s.hidden...),
		ChemicalTrend:      s.w.chemTrend,
		VisualTrend:        s.w.visTrend,
		EnvironmentalTrend: s.w.envTrend,
		Persistence:        s.w.persistence,
		CrossModalLag:      lag,
		TemporalConfidence: conf,
		LastTS:             ts,
	}
}

// selectionGate computes gate = sigmoid(5*(var-0.1)) over the last 10 inputs'
// per-channel variance, averaged across channels (§4.4).
func (s *LightweightSSM) selectionGate() float64 {
	if len(s.recentInputs) == 0 {
		return 0.5
	}
	var chem, vis, env []float64
	for _, in := range s.recentInputs {
		chem = append(chem, in[0])
		vis = append(vis, in[1])
		env = append(env, in[2])
	}
	_, sc := meanStd(chem)
	_, sv := meanStd(vis)
	_, se := meanStd(env)
	avgVar := (sc*sc + sv*sv + se*se) / 3
	return sigmoid(5 * (avgVar - 0.1))
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Perceptual implements Engine.Perceptual (§4.4).
func (s *LightweightSSM) Perceptual() Perceptual {
	var yc float64
	for i, ci := range s.c {
		yc += ci * s.hidden[i]
	}
	fused := (math.Tanh(yc) + 1) / 2

	diff := s.w.chemTrend + s.w.visTrend
	trend := s.w.trendOf(diff)

	agreement := 1 - absf(s.w.chemTrend-s.w.visTrend)
	if agreement < 0 {
		agreement = 0
	}

	_, energyVar := meanStd(s.hiddenEnergyHistory)
	conf := s.w.temporalConfidence(energyVar * energyVar)

	return Perceptual{
		FusedScore:        fused,
		Trend:             trend,
		Confidence:        conf,
		ModalityAgreement: agreement,
		ChemicalTrend:     s.w.chemTrend,
		VisualTrend:       s.w.visTrend,
		Persistence:       s.w.persistence,
		CrossModalLag:     s.w.crossModalLag(),
	}
}

// Stats implements Engine.Stats.
func (s *LightweightSSM) Stats() Stats {
	return Stats{WindowLen: s.w.chem.Len(), HiddenDim: hiddenDim}
}

// Reset implements Engine.Reset.
func (s *LightweightSSM) Reset() {
	s.hidden = make([]float64, hiddenDim)
	s.w = newWindow()
	s.hiddenEnergyHistory = nil
	s.recentInputs = nil
	s.hasLastTS = false
}

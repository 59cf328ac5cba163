// Package chaos implements Stage C: a Lyapunov-based instability detector
// flagging positive-feedback (runaway) dynamics (§4.6). Chaos owns its own
// bounded risk+trend ring (cap 120, min 40) — no other stage mutates it (§3).
package chaos

import (
	"math"
	"time"

	"github.com/emberwatch/emberwatch/internal/ring"
	"github.com/emberwatch/emberwatch/internal/stats"
)

const (
	ringCap       = 120
	minWindow     = 40
	embeddingDim  = 3
	embeddingLag  = 5
)

// Result is ChaosResult (§3).
type Result struct {
	Lyapunov         float64
	IsUnstable       bool
	PositiveFeedback float64
	DivergenceRate   float64
	SuspicionLevel   float64
	Confidence       float64
}

// Kernel is Stage C, maintaining the bounded risk/trend rings.
type Kernel struct {
	risk *ring.Float
	trend *ring.Float
	dim   int
}

// New creates a Kernel with the default embedding dimension (3).
func New() *Kernel {
	return &Kernel{risk: ring.NewFloat(ringCap), trend: ring.NewFloat(ringCap), dim: embeddingDim}
}

// SetEmbeddingDim overrides the default embedding dimension (config chaos.embedding_dim).
func (k *Kernel) SetEmbeddingDim(d int) {
	if d > 0 {
		k.dim = d
	}
}

// Observe pushes a new (risk, trend) pair and recomputes the chaos metrics (§4.6).
func (k *Kernel) Observe(risk, trendValue float64, ts time.Time) Result {
	k.risk.Push(risk, ts)
	k.trend.Push(trendValue, ts)
	series := k.risk.Values()
	n := len(series)

	if n < minWindow {
		return Result{Confidence: 0}
	}

	confidence := float64(n) / float64(ringCap)
	if confidence > 1 {
		confidence = 1
	}

	lambda := lyapunovEstimate(series, k.dim)
	posFeedback := positiveFeedback(series, k.trend.Values())
	divergence := divergenceRate(series)

	isUnstable := lambda > 0 && posFeedback > 0.5 && confidence > 0.6
	suspicion := 0.4*normalizeLambda(lambda) + 0.4*posFeedback + 0.2*minf(1, divergence/2)

	return Result{
		Lyapunov: lambda, IsUnstable: isUnstable, PositiveFeedback: posFeedback,
		DivergenceRate: divergence, SuspicionLevel: suspicion, Confidence: confidence,
	}
}

// lyapunovEstimate implements the time-delay embedding + pairwise log-ratio
// divergence estimator (§4.6 steps 1-2), clamped to [-2,2].
func lyapunovEstimate(series []float64, dim int) float64 {
	embedded := timeDelayEmbed(series, dim)
	n := len(embedded)
	if n <= embeddingLag {
		return 0
	}
	var sum float64
	count := 0
	for i := 0; i+embeddingLag < n; i++ {
		di := nearestNeighborDistance(embedded, i)
		dj := nearestNeighborDistance(embedded, i+embeddingLag)
		if di <= 0 || dj <= 0 {
			continue
		}
		ratio := dj / di
		if ratio <= 0 {
			continue
		}
		sum += math.Log(ratio)
		count++
	}
	if count == 0 {
		return 0
	}
	lambda := sum / float64(count) / float64(embeddingLag)
	return stats.Clamp(lambda, -2, 2)
}

func timeDelayEmbed(series []float64, dim int) [][]float64 {
	n := len(series)
	if n < dim {
		return nil
	}
	out := make([][]float64, n-dim+1)
	for i := 0; i <= n-dim; i++ {
		vec := make([]float64, dim)
		for j := 0; j < dim; j++ {
			vec[j] = series[i+j]
		}
		out[i] = vec
	}
	return out
}

func nearestNeighborDistance(points [][]float64, idx int) float64 {
	best := -1.0
	for j, p := range points {
		if j == idx {
			continue
		}
		d := euclidean(points[idx], p)
		if best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// positiveFeedback implements the correlation + second-derivative + curvature
// weighted detector (§4.6 step 3).
func positiveFeedback(risk, trend []float64) float64 {
	n := len(risk)
	last10Risk := lastN(risk, 10)
	last10Trend := lastN(trend, 10)
	corr := stats.Correlation(last10Risk, last10Trend)
	corrPos := maxf(0, corr)

	secondDeriv := secondDerivativeMean(lastN(risk, 12))
	curvature := stats.QuadraticLeadingCoefficient(lastN(risk, 20)) * 100
	curvatureClamped := stats.Clamp(curvature, -1, 1)

	_ = n
	return clamp01(0.4*corrPos + 0.3*clamp01(secondDeriv+0.5) + 0.3*clamp01((curvatureClamped+1)/2))
}

func secondDerivativeMean(xs []float64) float64 {
	d1 := stats.Diff(xs)
	d2 := stats.Diff(d1)
	return stats.Mean(d2)
}

// divergenceRate implements (mean(last10) - mean(first10)) / (baseline+0.01), >= 0.
func divergenceRate(series []float64) float64 {
	n := len(series)
	if n < 20 {
		return 0
	}
	last10 := series[n-10:]
	first10 := series[:10]
	baseline := stats.Mean(first10)
	rate := (stats.Mean(last10) - baseline) / (baseline + 0.01)
	return maxf(0, rate)
}

func normalizeLambda(l float64) float64 {
	return clamp01((l + 2) / 4)
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func clamp01(v float64) float64 { return stats.Clamp(v, 0, 1) }
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


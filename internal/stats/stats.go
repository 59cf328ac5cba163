// Package stats provides the small numeric building blocks shared by the
// structure (Hurst) and chaos (Lyapunov) packages: mean, variance, a
// quadratic least-squares fit, and correlation over float64 slices. Grounded on the matrix/vector
// helper style of the anomaly engine's Mahalanobis computation — plain
// loops, no external numeric library, since the corpus itself hand-rolls
// this tier of linear algebra rather than importing gonum.
package stats

import "math"

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance, or 0 for a slice shorter than 2.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// Correlation returns the Pearson correlation coefficient of xs and ys.
// Returns 0 if either series has zero variance or lengths differ.
func Correlation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// Diff returns the first difference of xs (length len(xs)-1, empty if too short).
func Diff(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

// QuadraticLeadingCoefficient fits y = a*t^2 + b*t + c by least squares over
// the index sequence t = 0..len(xs)-1 and returns the leading coefficient a.
// Returns 0 if xs has fewer than 3 points or the fit is singular.
func QuadraticLeadingCoefficient(xs []float64) float64 {
	n := len(xs)
	if n < 3 {
		return 0
	}
	var s0, s1, s2, s3, s4, sy, sty, st2y float64
	s0 = float64(n)
	for i, y := range xs {
		t := float64(i)
		t2 := t * t
		s1 += t
		s2 += t2
		s3 += t2 * t
		s4 += t2 * t2
		sy += y
		sty += t * y
		st2y += t2 * y
	}
	// Solve the 3x3 normal-equations system via Cramer's rule.
	a := [3][3]float64{
		{s0, s1, s2},
		{s1, s2, s3},
		{s2, s3, s4},
	}
	b := [3]float64{sy, sty, st2y}
	det := det3(a)
	if det == 0 {
		return 0
	}
	aCol := a
	aCol[0][2], aCol[1][2], aCol[2][2] = b[0], b[1], b[2]
	return det3(aCol) / det
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

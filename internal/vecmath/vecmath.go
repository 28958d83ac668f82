// Package vecmath holds the pure vector functions shared by the projection,
// similarity and color engines.
package vecmath

import (
	"math"

	"github.com/23skdu/longbow-lens/internal/lenserr"
)

// Dot returns the inner product of a and b.
func Dot(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, lenserr.DimensionMismatch(len(a), len(b))
	}
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// Norm returns the Euclidean norm of a. A zero vector yields 0. Entries
// are scaled by the largest magnitude first, so large finite vectors do not
// overflow.
func Norm(a []float64) float64 {
	scale := maxAbs(a)
	if scale == 0 || math.IsInf(scale, 0) {
		return scale
	}
	sum := 0.0
	for _, v := range a {
		r := v / scale
		sum += r * r
	}
	return scale * math.Sqrt(sum)
}

// maxAbs returns the largest magnitude in a, ignoring NaN.
func maxAbs(a []float64) float64 {
	m := 0.0
	for _, v := range a {
		if av := math.Abs(v); av > m {
			m = av
		}
	}
	return m
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [-1, 1]. Zero-norm inputs and length mismatches yield 0 so that one
// degenerate vector renders as neutral instead of aborting a whole matrix.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	s := 0.0
	for i := range a {
		s += (a[i] / na) * (b[i] / nb)
	}
	if math.IsNaN(s) {
		return 0
	}
	return Clamp(s, -1, 1)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MinMax returns the smallest and largest finite values. ok is false when no
// finite value exists.
func MinMax(vals []float64) (lo, hi float64, ok bool) {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// MatrixMinMax is MinMax over every cell of m.
func MatrixMinMax(m [][]float64) (lo, hi float64, ok bool) {
	for _, row := range m {
		rlo, rhi, rok := MinMax(row)
		if !rok {
			continue
		}
		if !ok {
			lo, hi, ok = rlo, rhi, true
			continue
		}
		if rlo < lo {
			lo = rlo
		}
		if rhi > hi {
			hi = rhi
		}
	}
	return lo, hi, ok
}

// Mean returns the component-wise mean of equally sized vectors.
func Mean(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, lenserr.Degenerate("mean of empty vector set")
	}
	d := len(vectors[0])
	mean := make([]float64, d)
	for _, v := range vectors {
		if len(v) != d {
			return nil, lenserr.DimensionMismatch(d, len(v))
		}
		for j, x := range v {
			mean[j] += x
		}
	}
	n := float64(len(vectors))
	for j := range mean {
		mean[j] /= n
	}
	return mean, nil
}

// Stats summarizes a slice of activations. NaN and Inf entries are counted
// and excluded from the other figures.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	RMS   float64 `json:"rms"`
	Zeros int     `json:"zeros"`
	NaNs  int     `json:"nans"`
	Infs  int     `json:"infs"`
	Count int     `json:"count"`
}

// Summarize computes Stats over vals.
func Summarize(vals []float64) Stats {
	var s Stats
	sum, sumSq := 0.0, 0.0
	first := true
	for _, v := range vals {
		if math.IsNaN(v) {
			s.NaNs++
			continue
		}
		if math.IsInf(v, 0) {
			s.Infs++
			continue
		}
		if v == 0 {
			s.Zeros++
		}
		if first {
			s.Min, s.Max = v, v
			first = false
		}
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
		sumSq += v * v
		s.Count++
	}
	if s.Count == 0 {
		return s
	}
	s.Mean = sum / float64(s.Count)
	s.RMS = math.Sqrt(sumSq / float64(s.Count))
	if math.IsInf(s.Mean, 0) || math.IsNaN(s.Mean) || math.IsInf(s.RMS, 0) || math.IsNaN(s.RMS) {
		s.Mean, s.RMS = scaledMoments(vals, math.Max(math.Abs(s.Min), math.Abs(s.Max)), s.Count)
	}
	return s
}

// scaledMoments recomputes mean and RMS over the finite values with every
// value divided by scale, for inputs whose sums overflow.
func scaledMoments(vals []float64, scale float64, count int) (mean, rms float64) {
	sum, sumSq := 0.0, 0.0
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		r := v / scale
		sum += r
		sumSq += r * r
	}
	n := float64(count)
	mean = sum / n * scale
	rms = math.Sqrt(sumSq/n) * scale
	return mean, rms
}

// SummarizeMatrix computes Stats over every cell of m.
func SummarizeMatrix(m [][]float64) Stats {
	n := 0
	for _, row := range m {
		n += len(row)
	}
	flat := make([]float64, 0, n)
	for _, row := range m {
		flat = append(flat, row...)
	}
	return Summarize(flat)
}

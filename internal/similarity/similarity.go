// Package similarity builds pairwise cosine similarity matrices.
package similarity

import (
	"math"

	"github.com/23skdu/longbow-lens/internal/colormap"
	"github.com/23skdu/longbow-lens/internal/vecmath"
)

// MaxDotRadius is the bubble radius drawn for a similarity of 1.
const MaxDotRadius = 10.0

// Matrix returns the N×N cosine similarity matrix of vectors. Every cell is
// computed on its own, so symmetry holds without copying. Zero or
// mismatched vectors yield 0 rather than an error.
func Matrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	m := make([][]float64, n)
	for i := 0; i < n; i++ {
		m[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			m[i][j] = vecmath.CosineSimilarity(vectors[i], vectors[j])
		}
	}
	return m
}

// Domain returns the value range of m. An empty matrix yields [0, 0].
func Domain(m [][]float64) colormap.Domain {
	lo, hi, ok := vecmath.MatrixMinMax(m)
	if !ok {
		return colormap.Domain{}
	}
	return colormap.Domain{Lo: lo, Hi: hi}
}

// DotRadius maps a similarity to a bubble radius in [0, MaxDotRadius] with
// a square-root scale, so area tracks similarity. Negative similarity draws
// nothing.
func DotRadius(sim float64) float64 {
	if !(sim > 0) {
		return 0
	}
	return math.Sqrt(math.Min(sim, 1)) * MaxDotRadius
}

// Opacity returns the bubble fill opacity for sim.
func Opacity(sim float64) float64 {
	if !(sim > 0) {
		return 0
	}
	return math.Min(sim, 1)
}

// Nearest returns the indices of the k rows most similar to row i of m,
// excluding i itself, ordered by decreasing similarity. Ties keep index
// order.
func Nearest(m [][]float64, i, k int) []int {
	if i < 0 || i >= len(m) || k <= 0 {
		return nil
	}
	var out []int
	row := m[i]
	for j := range row {
		if j == i {
			continue
		}
		pos := len(out)
		for pos > 0 && row[out[pos-1]] < row[j] {
			pos--
		}
		if pos >= k {
			continue
		}
		out = append(out, 0)
		copy(out[pos+1:], out[pos:])
		out[pos] = j
		if len(out) > k {
			out = out[:k]
		}
	}
	return out
}

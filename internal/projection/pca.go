// Package projection reduces sets of high-dimensional vectors to 2D points
// with principal component analysis.
package projection

import (
	"math"
	"sort"
	"time"

	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/vecmath"
)

const (
	maxSweeps = 64
	// varianceEps is the total variance below which the covariance is
	// treated as singular.
	varianceEps = 1e-12
)

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is the outcome of a projection. When Available is false every
// point sits at the origin and Reason says why.
type Result struct {
	Points            []Point      `json:"points"`
	Components        [2][]float64 `json:"-"`
	Eigenvalues       [2]float64   `json:"eigenvalues"`
	ExplainedVariance [2]float64   `json:"explained_variance"`
	Available         bool         `json:"available"`
	Reason            string       `json:"reason,omitempty"`
}

func unavailable(n int, reason string) Result {
	return Result{Points: make([]Point, n), Reason: reason}
}

// Project computes a 2D PCA projection of vectors. Ragged input returns a
// DimensionMismatch error. Degenerate input (no vectors, or no variance)
// is recovered into an unavailable Result with a nil error.
func Project(vectors [][]float64) (Result, error) {
	start := time.Now()
	res, err := project(vectors)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !res.Available:
		outcome = "degenerate"
	}
	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}
	metrics.RecordProjection(len(vectors), dims, time.Since(start), outcome)
	return res, err
}

func project(vectors [][]float64) (Result, error) {
	n := len(vectors)
	if n == 0 {
		metrics.RecordDegenerateInput("empty_projection")
		return unavailable(0, "no vectors"), nil
	}

	mean, err := vecmath.Mean(vectors)
	if err != nil {
		if lenserr.IsCode(err, lenserr.CodeDimensionMismatch) {
			return Result{}, err
		}
		metrics.RecordDegenerateInput("empty_projection")
		return unavailable(n, err.Error()), nil
	}
	d := len(mean)

	if n == 1 {
		return Result{Points: []Point{{}}, Available: true}, nil
	}
	if d == 0 {
		metrics.RecordDegenerateInput("zero_dimension")
		return unavailable(n, "zero-dimensional vectors"), nil
	}

	centered := make([][]float64, n)
	total := 0.0
	for i, v := range vectors {
		row := make([]float64, d)
		for j := range v {
			row[j] = v[j] - mean[j]
			total += row[j] * row[j]
		}
		centered[i] = row
	}
	total /= float64(n)
	if math.IsInf(total, 0) {
		metrics.RecordDegenerateInput("non_finite_variance")
		return unavailable(n, "variance overflows float64"), nil
	}
	if !(total > varianceEps) {
		metrics.RecordDegenerateInput("singular_covariance")
		return unavailable(n, "singular covariance"), nil
	}

	var comps [2][]float64
	var vals [2]float64
	if d <= n {
		comps, vals = topComponentsCovariance(centered, d)
	} else {
		comps, vals = topComponentsGram(centered, d)
	}

	res := Result{
		Points:      make([]Point, n),
		Components:  comps,
		Eigenvalues: vals,
		Available:   true,
	}
	for k := 0; k < 2; k++ {
		res.ExplainedVariance[k] = math.Max(vals[k], 0) / total
	}
	for i, row := range centered {
		res.Points[i] = Point{X: dotUnchecked(row, comps[0]), Y: dotUnchecked(row, comps[1])}
	}
	if !res.finite() {
		metrics.RecordDegenerateInput("non_finite_variance")
		return unavailable(n, "projection is not finite"), nil
	}
	return res, nil
}

func (r Result) finite() bool {
	vals := []float64{r.Eigenvalues[0], r.Eigenvalues[1], r.ExplainedVariance[0], r.ExplainedVariance[1]}
	for _, p := range r.Points {
		vals = append(vals, p.X, p.Y)
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// topComponentsCovariance decomposes the D×D covariance directly.
func topComponentsCovariance(centered [][]float64, d int) ([2][]float64, [2]float64) {
	n := float64(len(centered))
	cov := make([][]float64, d)
	for i := range cov {
		cov[i] = make([]float64, d)
	}
	for _, row := range centered {
		for i := 0; i < d; i++ {
			if row[i] == 0 {
				continue
			}
			for j := i; j < d; j++ {
				cov[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cov[i][j] /= n
			cov[j][i] = cov[i][j]
		}
	}

	vals, vecs := jacobiEigen(cov)
	order := descending(vals)

	var comps [2][]float64
	var top [2]float64
	for k := 0; k < 2; k++ {
		comps[k] = make([]float64, d)
		if k >= len(order) {
			continue // D == 1: second axis stays zero
		}
		col := order[k]
		for i := 0; i < d; i++ {
			comps[k][i] = vecs[i][col]
		}
		top[k] = vals[col]
		normalizeSign(comps[k])
	}
	return comps, top
}

// topComponentsGram decomposes the N×N Gram matrix when there are fewer
// vectors than dimensions. Both share non-zero eigenvalues; covariance
// eigenvectors are recovered as Xᵀu.
func topComponentsGram(centered [][]float64, d int) ([2][]float64, [2]float64) {
	n := len(centered)
	gram := make([][]float64, n)
	for i := range gram {
		gram[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			g := dotUnchecked(centered[i], centered[j]) / float64(n)
			gram[i][j], gram[j][i] = g, g
		}
	}

	vals, vecs := jacobiEigen(gram)
	order := descending(vals)

	var comps [2][]float64
	var top [2]float64
	for k := 0; k < 2; k++ {
		comps[k] = make([]float64, d)
		if k >= len(order) {
			continue
		}
		col := order[k]
		for i, row := range centered {
			u := vecs[i][col]
			for j := range row {
				comps[k][j] += u * row[j]
			}
		}
		norm := vecmath.Norm(comps[k])
		if norm < 1e-12 {
			for j := range comps[k] {
				comps[k][j] = 0
			}
			continue
		}
		for j := range comps[k] {
			comps[k][j] /= norm
		}
		top[k] = vals[col]
		normalizeSign(comps[k])
	}
	return comps, top
}

// jacobiEigen runs cyclic Jacobi rotations on a symmetric matrix, which it
// overwrites. It returns eigenvalues and the eigenvector matrix whose
// column k pairs with vals[k].
func jacobiEigen(a [][]float64) ([]float64, [][]float64) {
	n := len(a)
	v := make([][]float64, n)
	for i := range v {
		v[i] = make([]float64, n)
		v[i][i] = 1
	}

	scale := 0.0
	for i := range a {
		for j := range a[i] {
			scale += a[i][j] * a[i][j]
		}
	}
	tol := 1e-22 * scale

	for sweep := 0; sweep < maxSweeps; sweep++ {
		off := 0.0
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				off += a[p][q] * a[p][q]
			}
		}
		if off <= tol {
			break
		}

		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				apq := a[p][q]
				if apq == 0 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * apq)
				t := 1.0
				if theta != 0 {
					t = math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				}
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for k := 0; k < n; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < n; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
				for k := 0; k < n; k++ {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = c*vkp - s*vkq
					v[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	vals := make([]float64, n)
	for i := range vals {
		vals[i] = a[i][i]
	}
	return vals, v
}

// descending returns eigenvalue indices ordered largest first; ties keep
// index order.
func descending(vals []float64) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })
	return idx
}

// normalizeSign flips v so its largest-magnitude entry is positive.
func normalizeSign(v []float64) {
	best, at := 0.0, -1
	for i, x := range v {
		if math.Abs(x) > best+1e-12 {
			best, at = math.Abs(x), i
		}
	}
	if at >= 0 && v[at] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
}

func dotUnchecked(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Scale rescales points independently per axis into [0, 100]. An axis with
// no spread collapses to 50.
func Scale(points []Point) []Point {
	out := make([]Point, len(points))
	if len(points) == 0 {
		return out
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	xs = scaleAxis(xs)
	ys = scaleAxis(ys)
	for i := range out {
		out[i] = Point{X: xs[i], Y: ys[i]}
	}
	return out
}

func scaleAxis(vals []float64) []float64 {
	out := make([]float64, len(vals))
	lo, hi, ok := vecmath.MinMax(vals)
	if !ok || hi == lo {
		for i := range out {
			out[i] = 50
		}
		return out
	}
	for i, v := range vals {
		out[i] = vecmath.Clamp((v-lo)/(hi-lo)*100, 0, 100)
	}
	return out
}

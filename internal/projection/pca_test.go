package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-lens/internal/lenserr"
)

const eps = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) <= eps*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func dist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return math.Sqrt(s)
}

func pdist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func TestJacobiEigenKnownMatrix(t *testing.T) {
	a := [][]float64{{2, 1}, {1, 2}}
	vals, vecs := jacobiEigen(a)
	order := descending(vals)
	if !approx(vals[order[0]], 3) || !approx(vals[order[1]], 1) {
		t.Fatalf("expected eigenvalues 3 and 1, got %v", vals)
	}
	c := order[0]
	if !approx(math.Abs(vecs[0][c]), 1/math.Sqrt2) || !approx(math.Abs(vecs[1][c]), 1/math.Sqrt2) {
		t.Errorf("unexpected leading eigenvector (%f, %f)", vecs[0][c], vecs[1][c])
	}
}

func TestProjectIdenticalVectorsUnavailable(t *testing.T) {
	v := []float64{0.3, -1.2, 4}
	res, err := Project([][]float64{v, v, v, v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Available {
		t.Error("expected unavailable projection for identical vectors")
	}
	if len(res.Points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(res.Points))
	}
	for i, p := range res.Points {
		if p != (Point{}) {
			t.Errorf("point %d not at origin: %+v", i, p)
		}
	}
}

func TestProjectSingleVector(t *testing.T) {
	res, err := Project([][]float64{{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Points) != 1 || res.Points[0] != (Point{}) {
		t.Errorf("expected single origin point, got %+v", res.Points)
	}
}

func TestProjectOneDimensionalPads(t *testing.T) {
	res, err := Project([][]float64{{1}, {2}, {3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Available {
		t.Fatal("expected available projection")
	}
	want := []float64{-1, 0, 1}
	for i, p := range res.Points {
		if !approx(p.X, want[i]) {
			t.Errorf("point %d: x = %f, want %f", i, p.X, want[i])
		}
		if p.Y != 0 {
			t.Errorf("point %d: y = %f, want 0", i, p.Y)
		}
	}
}

func TestProjectEmpty(t *testing.T) {
	res, err := Project(nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Available || len(res.Points) != 0 {
		t.Errorf("expected empty unavailable result, got %+v", res)
	}
}

func TestProjectRaggedFails(t *testing.T) {
	_, err := Project([][]float64{{1, 2}, {1, 2, 3}})
	if !errors.Is(err, lenserr.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestProjectLineFindsDirection(t *testing.T) {
	vectors := [][]float64{{0, 0, 0}, {1, 1, 0}, {2, 2, 0}, {3, 3, 0}}
	res, err := Project(vectors)
	if err != nil {
		t.Fatal(err)
	}
	c := res.Components[0]
	if !approx(c[0], 1/math.Sqrt2) || !approx(c[1], 1/math.Sqrt2) || math.Abs(c[2]) > 1e-9 {
		t.Errorf("unexpected first component %v", c)
	}
	if !approx(res.ExplainedVariance[0], 1) {
		t.Errorf("expected all variance on first axis, got %v", res.ExplainedVariance)
	}
	for i, p := range res.Points {
		wantX := (float64(i) - 1.5) * math.Sqrt2
		if !approx(p.X, wantX) {
			t.Errorf("point %d: x = %f, want %f", i, p.X, wantX)
		}
		if math.Abs(p.Y) > 1e-9 {
			t.Errorf("point %d: y = %f, want 0", i, p.Y)
		}
	}
}

// Data of rank <= 2 keeps every pairwise distance under projection.
func TestProjectPreservesPlanarDistances(t *testing.T) {
	cases := map[string][][]float64{
		"covariance path": {{1, 0, 2}, {0, 1, 2}, {2, 2, 2}, {-1, 3, 2}},
		"gram path":       {{1, 0, 2, 5, -1}, {0, 1, 2, 4, 0}, {3, -2, 1, 0, 2}},
	}
	for name, vectors := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := Project(vectors)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Available {
				t.Fatal("expected available projection")
			}
			for i := range vectors {
				for j := i + 1; j < len(vectors); j++ {
					want := dist(vectors[i], vectors[j])
					got := pdist(res.Points[i], res.Points[j])
					if math.Abs(got-want) > 1e-6 {
						t.Errorf("distance %d-%d: got %f, want %f", i, j, got, want)
					}
				}
			}
		})
	}
}

func TestProjectSeparatesClusters(t *testing.T) {
	var vectors [][]float64
	for i := 0; i < 5; i++ {
		d := float64(i) * 0.01
		vectors = append(vectors, []float64{d, 0, 0, 0})
		vectors = append(vectors, []float64{10 + d, 10, 10, 10})
	}
	res, err := Project(vectors)
	if err != nil {
		t.Fatal(err)
	}
	within := pdist(res.Points[0], res.Points[2])
	between := pdist(res.Points[0], res.Points[1])
	if within*100 > between {
		t.Errorf("clusters not separated: within %f, between %f", within, between)
	}
}

func TestProjectDeterministic(t *testing.T) {
	vectors := [][]float64{{1, 5, 2}, {3, 1, 0}, {-2, 4, 1}, {0, 0, 7}, {2, 2, 2}}
	a, err := Project(vectors)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Project(vectors)
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			t.Fatalf("point %d differs between runs: %+v vs %+v", i, a.Points[i], b.Points[i])
		}
	}
	for k := 0; k < 2; k++ {
		best := 0
		for i, v := range a.Components[k] {
			if math.Abs(v) > math.Abs(a.Components[k][best]) {
				best = i
			}
		}
		if a.Components[k][best] < 0 {
			t.Errorf("component %d: largest entry is negative", k)
		}
	}
}

func TestScale(t *testing.T) {
	t.Run("collapsed x axis", func(t *testing.T) {
		out := Scale([]Point{{X: 2, Y: -1}, {X: 2, Y: 0}, {X: 2, Y: 3}})
		wantY := []float64{0, 25, 100}
		for i, p := range out {
			if p.X != 50 {
				t.Errorf("point %d: x = %f, want 50", i, p.X)
			}
			if !approx(p.Y, wantY[i]) {
				t.Errorf("point %d: y = %f, want %f", i, p.Y, wantY[i])
			}
		}
	})
	t.Run("both axes", func(t *testing.T) {
		out := Scale([]Point{{X: -5, Y: 10}, {X: 5, Y: 20}})
		if out[0] != (Point{X: 0, Y: 0}) || out[1] != (Point{X: 100, Y: 100}) {
			t.Errorf("unexpected scaling %+v", out)
		}
	})
	t.Run("empty", func(t *testing.T) {
		if len(Scale(nil)) != 0 {
			t.Error("expected empty output")
		}
	})
}

func TestProjectOverflowingVarianceUnavailable(t *testing.T) {
	res, err := Project([][]float64{{1e200, 0}, {0, 1e200}, {1e200, 1e200}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Available {
		t.Fatal("expected unavailable projection when variance overflows")
	}
	if res.Reason == "" || len(res.Points) != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.finite() {
		t.Errorf("unavailable result should hold only finite numbers: %+v", res)
	}

	large, err := Project([][]float64{{1e150, 0}, {0, 1e150}, {1e150, 1e150}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !large.Available || !large.finite() {
		t.Errorf("expected a finite projection at 1e150 scale, got %+v", large)
	}
}

package compute

import (
	"math"
	"math/rand"
	"testing"

	"surropt/pkg/device"
)

const tolerance = 1e-10

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := device.NewContext()
	t.Cleanup(ctx.Destroy)
	return NewEngine(ctx)
}

func randomMatrix(rng *rand.Rand, dim int) []float64 {
	m := make([]float64, dim*dim)
	for i := range m {
		m[i] = rng.Float64()*2 - 1
	}
	return m
}

// TestIdentity verifies the diagonal construction under column-major
// flattening for a range of dimensions
func TestIdentity(t *testing.T) {
	eng := newTestEngine(t)

	for _, dim := range []int{1, 2, 3, 7, 16} {
		id, err := eng.Identity(dim)
		if err != nil {
			t.Fatalf("Identity(%d) failed: %v", dim, err)
		}
		for j := 0; j < dim; j++ {
			for i := 0; i < dim; i++ {
				want := 0.0
				if i == j {
					want = 1.0
				}
				if id[i+j*dim] != want {
					t.Errorf("dim %d: identity (%d,%d) = %f, want %f", dim, i, j, id[i+j*dim], want)
				}
			}
		}
	}
}

// TestDistance verifies the elementwise squared distance
func TestDistance(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 5

	rng := rand.New(rand.NewSource(7))
	a := randomMatrix(rng, dim)
	b := randomMatrix(rng, dim)

	out, err := eng.Distance(a, b, dim)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	for idx := range out {
		d := a[idx] - b[idx]
		if math.Abs(out[idx]-d*d) > tolerance {
			t.Fatalf("Element %d = %f, want %f", idx, out[idx], d*d)
		}
	}
}

// TestDistanceVector verifies the vector variant touches only column 0
func TestDistanceVector(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 4

	a := make([]float64, dim*dim)
	b := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		a[i] = float64(i + 1)
		b[i] = float64(2 * i)
	}

	out, err := eng.DistanceVector(a, b, dim)
	if err != nil {
		t.Fatalf("DistanceVector failed: %v", err)
	}
	for i := 0; i < dim; i++ {
		d := a[i] - b[i]
		if math.Abs(out[i]-d*d) > tolerance {
			t.Errorf("Row %d = %f, want %f", i, out[i], d*d)
		}
	}
	for idx := dim; idx < dim*dim; idx++ {
		if out[idx] != 0 {
			t.Errorf("Padding entry %d = %f, want 0", idx, out[idx])
		}
	}
}

// Correlation of a zero distance must be exactly variance - nugget
func TestCorrelateZeroDistance(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 3

	dist := make([]float64, dim*dim)
	out, err := eng.Correlate(dist, dim, 2.5, 1.75, 0.25)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	for idx, v := range out {
		if v != 1.5 {
			t.Errorf("Element %d = %f, want exactly 1.5", idx, v)
		}
	}
}

// Correlation must decay as exp(-theta * dist)
func TestCorrelateDecay(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 2
	theta, variance, nugget := 0.5, 2.0, 0.5

	dist := []float64{0, 1, 4, 9}
	out, err := eng.Correlate(dist, dim, theta, variance, nugget)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	for idx, d := range dist {
		want := (variance - nugget) * math.Exp(-theta*d)
		if math.Abs(out[idx]-want) > tolerance {
			t.Errorf("Element %d = %f, want %f", idx, out[idx], want)
		}
	}
}

func TestNormalize(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 3

	in := make([]float64, dim*dim)
	for i := range in {
		in[i] = float64(i)
	}

	out, err := eng.Normalize(in, dim, 4.0)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	for i := range out {
		if math.Abs(out[i]-float64(i)/4.0) > tolerance {
			t.Errorf("Element %d = %f, want %f", i, out[i], float64(i)/4.0)
		}
	}

	if _, err := eng.Normalize(in, dim, 0); !device.IsNumericalError(err) {
		t.Errorf("Expected numerical error for zero divisor, got %v", err)
	}
}

// Extension of the zero matrix: zero block, unit border, zero corner
func TestExtendZeroMatrix(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 4
	ext := dim + 1

	out, err := eng.Extend(make([]float64, dim*dim), dim)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	for j := 0; j < ext; j++ {
		for i := 0; i < ext; i++ {
			got := out[i+j*ext]
			var want float64
			switch {
			case i == dim && j == dim:
				want = 0
			case i == dim || j == dim:
				want = 1
			default:
				want = 0
			}
			if got != want {
				t.Errorf("Extended (%d,%d) = %f, want %f", i, j, got, want)
			}
		}
	}
}

// Extension must preserve the original block
func TestExtendPreservesBlock(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 3
	ext := dim + 1

	rng := rand.New(rand.NewSource(11))
	in := randomMatrix(rng, dim)

	out, err := eng.Extend(in, dim)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	for j := 0; j < dim; j++ {
		for i := 0; i < dim; i++ {
			if out[i+j*ext] != in[i+j*dim] {
				t.Errorf("Block entry (%d,%d) = %f, want %f", i, j, out[i+j*ext], in[i+j*dim])
			}
		}
	}
}

// Multiplying any matrix by the identity must reproduce it
func TestMatMulIdentity(t *testing.T) {
	eng := newTestEngine(t)
	const dim = 6

	rng := rand.New(rand.NewSource(3))
	m := randomMatrix(rng, dim)
	id, err := eng.Identity(dim)
	if err != nil {
		t.Fatalf("Identity failed: %v", err)
	}

	left, err := eng.MatMul(id, m, dim)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	right, err := eng.MatMul(m, id, dim)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	for idx := range m {
		if math.Abs(left[idx]-m[idx]) > tolerance {
			t.Fatalf("I×M element %d = %f, want %f", idx, left[idx], m[idx])
		}
		if math.Abs(right[idx]-m[idx]) > tolerance {
			t.Fatalf("M×I element %d = %f, want %f", idx, right[idx], m[idx])
		}
	}
}

// TestMatMulKnownProduct checks a small product by hand
func TestMatMulKnownProduct(t *testing.T) {
	eng := newTestEngine(t)

	// Column-major: a = [1 3; 2 4], b = [5 7; 6 8]
	a := []float64{1, 2, 3, 4}
	b := []float64{5, 6, 7, 8}
	// a×b = [23 31; 34 46] column-major
	want := []float64{23, 34, 31, 46}

	out, err := eng.MatMul(a, b, 2)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	for idx := range want {
		if math.Abs(out[idx]-want[idx]) > tolerance {
			t.Errorf("Element %d = %f, want %f", idx, out[idx], want[idx])
		}
	}
}

// Operations must fail fast on shape mismatches before any device work
func TestShapeValidation(t *testing.T) {
	eng := newTestEngine(t)

	short := make([]float64, 3)
	ok := make([]float64, 4)

	if _, err := eng.Distance(short, ok, 2); !device.IsInvalidArgError(err) {
		t.Errorf("Distance: expected invalid argument error, got %v", err)
	}
	if _, err := eng.MatMul(ok, short, 2); !device.IsInvalidArgError(err) {
		t.Errorf("MatMul: expected invalid argument error, got %v", err)
	}
	if _, err := eng.Correlate(short, 2, 1, 1, 0); !device.IsInvalidArgError(err) {
		t.Errorf("Correlate: expected invalid argument error, got %v", err)
	}
	if _, err := eng.Extend(short, 2); !device.IsInvalidArgError(err) {
		t.Errorf("Extend: expected invalid argument error, got %v", err)
	}
	if _, err := eng.Identity(0); !device.IsInvalidArgError(err) {
		t.Errorf("Identity: expected invalid argument error, got %v", err)
	}
	if _, err := eng.Invert(ok, short, 2); !device.IsInvalidArgError(err) {
		t.Errorf("Invert: expected invalid argument error, got %v", err)
	}
}

package surrogate

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"surropt/pkg/compute"
	"surropt/pkg/device"
)

const tolerance = 1e-8

func newTestSurrogate(t *testing.T, sites, values []float64, dim int, params Params) *Surrogate {
	t.Helper()
	ctx := device.NewContext()
	t.Cleanup(func() { ctx.Destroy() })

	s, err := NewWithEngine(compute.NewEngine(ctx), sites, values, dim, params)
	if err != nil {
		t.Fatalf("NewWithEngine: %v", err)
	}
	return s
}

func TestParamsValidate(t *testing.T) {
	cases := []struct {
		name   string
		params Params
	}{
		{"zero theta", Params{Theta: 0, Variance: 1}},
		{"negative theta", Params{Theta: -1, Variance: 1}},
		{"negative nugget", Params{Theta: 1, Variance: 1, Nugget: -0.1}},
		{"variance below nugget", Params{Theta: 1, Variance: 0.5, Nugget: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if err == nil {
				t.Fatalf("Validate(%+v) accepted invalid parameters", tc.params)
			}
			if !device.IsInvalidArgError(err) {
				t.Errorf("Validate(%+v) = %v, want invalid argument error", tc.params, err)
			}
		})
	}

	valid := Params{Theta: 0.5, Variance: 2, Nugget: 0.25}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate(%+v) = %v, want nil", valid, err)
	}
}

func TestNewValidation(t *testing.T) {
	params := Params{Theta: 1, Variance: 1}

	if _, err := New([]float64{1}, []float64{1}, 0, params); !device.IsInvalidArgError(err) {
		t.Errorf("New with dim 0 = %v, want invalid argument error", err)
	}
	if _, err := New([]float64{1, 2, 3}, []float64{1, 2}, 2, params); !device.IsInvalidArgError(err) {
		t.Errorf("New with short site buffer = %v, want invalid argument error", err)
	}
	if _, err := New([]float64{1, 2, 3, 4}, []float64{1, 2, 3}, 2, params); !device.IsInvalidArgError(err) {
		t.Errorf("New with odd value buffer = %v, want invalid argument error", err)
	}
	if _, err := New([]float64{1}, []float64{1}, 1, Params{Theta: -1, Variance: 1}); !device.IsInvalidArgError(err) {
		t.Errorf("New with invalid params = %v, want invalid argument error", err)
	}
}

func TestEstimateShapeValidation(t *testing.T) {
	s := newTestSurrogate(t, []float64{1, 2, 3, 4}, []float64{5, 6}, 2, Params{Theta: 1, Variance: 1})

	if _, err := s.Estimate([]float64{1}); !device.IsInvalidArgError(err) {
		t.Errorf("Estimate with 1 coordinate = %v, want invalid argument error", err)
	}
	if _, err := s.Estimate([]float64{1, 2, 3}); !device.IsInvalidArgError(err) {
		t.Errorf("Estimate with 3 coordinates = %v, want invalid argument error", err)
	}
}

// A single-site model interpolates: estimating at the one design site
// must return its observed value.
func TestEstimateSingleSiteInterpolates(t *testing.T) {
	s := newTestSurrogate(t, []float64{3}, []float64{7}, 1, Params{Theta: 0.5, Variance: 2})

	got, err := s.Estimate([]float64{3})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(got-7) > tolerance {
		t.Errorf("Estimate at the design site = %g, want 7", got)
	}
}

// When every site carries the same observation, the unbiasedness
// constraint forces the estimate to that value at any test site. The
// covariance diagonal is badly scaled (distant site/value pairs give
// near-zero correlations), so the no-pivot elimination only delivers
// the estimate to about single-precision accuracy here.
func TestEstimateConstantField(t *testing.T) {
	const v = 4.25
	sites := []float64{6, 4, 6, 4} // rows (6,6) and (4,4)
	s := newTestSurrogate(t, sites, []float64{v, v}, 2, Params{Theta: 1, Variance: 1})

	for _, test := range [][]float64{{5, 5}, {6, 6}, {0, 10}} {
		got, err := s.Estimate(test)
		if err != nil {
			t.Fatalf("Estimate(%v): %v", test, err)
		}
		if math.Abs(got-v) > 1e-6 {
			t.Errorf("Estimate(%v) = %g, want %g", test, got, v)
		}
	}
}

// Data chosen so the covariance system is invariant under swapping the
// two sites and the test site correlates equally with both: the weights
// must then split evenly and the estimate is the mean of the values.
func TestEstimateSymmetricSites(t *testing.T) {
	sites := []float64{6, 4, 2, 4}
	s := newTestSurrogate(t, sites, []float64{10, 2}, 2, Params{Theta: 0.25, Variance: 1})

	got, err := s.Estimate([]float64{5, 3})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(got-6) > tolerance {
		t.Errorf("Estimate = %g, want the mean 6", got)
	}
}

// Rebuilds the augmented covariance system on the host and solves it
// with gonum as an independent reference for the full pipeline.
func TestEstimateMatchesDirectSolve(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	dim := 4
	ext := dim + 1
	theta, variance, nugget := 0.3, 2.0, 0.2
	sill := variance - nugget

	sites := make([]float64, dim*dim)
	for i := range sites {
		sites[i] = rng.Float64() * 5
	}
	values := make([]float64, dim)
	for i := range values {
		values[i] = rng.Float64() * 5
	}
	test := make([]float64, dim)
	for i := range test {
		test[i] = rng.Float64() * 5
	}

	// Augmented system in gonum's row-major layout. The values vector
	// participates as a dim×dim matrix whose padding columns are zero.
	padded := make([]float64, dim*dim)
	copy(padded, values)
	system := mat.NewDense(ext, ext, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			d := sites[i+j*dim] - padded[i+j*dim]
			system.Set(i, j, sill*math.Exp(-theta*d*d))
		}
		system.Set(i, dim, 1)
		system.Set(dim, i, 1)
	}
	rhs := mat.NewVecDense(ext, nil)
	for i := 0; i < dim; i++ {
		d := sites[i] - test[i]
		rhs.SetVec(i, sill*math.Exp(-theta*d*d))
	}
	rhs.SetVec(dim, 1)

	var weights mat.VecDense
	if err := weights.SolveVec(system, rhs); err != nil {
		t.Fatalf("reference solve: %v", err)
	}
	want := 0.0
	for i := 0; i < dim; i++ {
		want += weights.AtVec(i) * values[i]
	}

	s := newTestSurrogate(t, sites, values, dim, Params{Theta: theta, Variance: variance, Nugget: nugget})
	got, err := s.Estimate(test)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Estimate = %g, reference solve gives %g", got, want)
	}
}

func TestEstimateRepeatable(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	dim := 5
	sites := make([]float64, dim*dim)
	values := make([]float64, dim)
	for i := range sites {
		sites[i] = rng.Float64() * 10
	}
	for i := range values {
		values[i] = rng.Float64() * 10
	}
	s := newTestSurrogate(t, sites, values, dim, Params{Theta: 0.5, Variance: 1.5, Nugget: 0.1})

	test := []float64{1, 2, 3, 4, 5}
	first, err := s.Estimate(test)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := s.Estimate(test)
		if err != nil {
			t.Fatalf("Estimate repeat %d: %v", i, err)
		}
		if got != first {
			t.Fatalf("Estimate repeat %d = %g, want %g", i, got, first)
		}
	}
}

// Duplicate site rows with duplicate observations give the covariance
// two identical rows; the pipeline must report the singular system
// instead of returning a value.
func TestEstimateSingularCovariance(t *testing.T) {
	sites := []float64{2, 2, 3, 3} // identical rows
	s := newTestSurrogate(t, sites, []float64{5, 5}, 2, Params{Theta: 1, Variance: 1})

	_, err := s.Estimate([]float64{2.5, 2.5})
	if err == nil {
		t.Fatal("Estimate on duplicated sites succeeded, want singularity error")
	}
	if !device.IsNumericalError(err) {
		t.Errorf("Estimate error = %v, want numerical error", err)
	}
}

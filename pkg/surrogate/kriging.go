// Package surrogate implements the ordinary Kriging estimator used by the
// optimization toolbox to predict objective values at unsampled points.
// Given a square matrix of design sites, their observed values and three
// correlation hyperparameters, it sequences the compute engine's kernels
// into one prediction: squared distances, Gaussian correlation, the
// Lagrange-multiplier augmentation enforcing that interpolation weights
// sum to one, Gauss-Jordan inversion of the augmented system, and the
// final weighted combination of observed values.
package surrogate

import (
	"fmt"
	"sync"

	"surropt/internal/models"
	"surropt/pkg/compute"
	"surropt/pkg/device"
)

// Params holds the Gaussian correlation hyperparameters
type Params struct {
	// Theta is the correlation decay rate, must be positive
	Theta float64

	// Variance is the process variance, must be at least Nugget
	Variance float64

	// Nugget is the regularization term modeling measurement noise,
	// must be non-negative
	Nugget float64
}

// Validate checks the hyperparameter constraints
func (p Params) Validate() error {
	if p.Theta <= 0 {
		return device.NewInvalidArgError("Params", fmt.Sprintf("theta must be positive, got %g", p.Theta))
	}
	if p.Nugget < 0 {
		return device.NewInvalidArgError("Params", fmt.Sprintf("nugget must be non-negative, got %g", p.Nugget))
	}
	if p.Variance < p.Nugget {
		return device.NewInvalidArgError("Params",
			fmt.Sprintf("variance (%g) must be at least nugget (%g)", p.Variance, p.Nugget))
	}
	return nil
}

// Surrogate is a Kriging model over a fixed set of design sites. The
// inverted extended covariance matrix depends only on the sites and
// hyperparameters, so it is computed once and reused across Estimate
// calls; per-call buffers keep concurrent estimates independent.
type Surrogate struct {
	dim    int
	sites  []float64 // dim×dim column-major design sites
	values []float64 // dim×dim vector-as-matrix, observations in column 0
	params Params
	eng    *compute.Engine

	mu     sync.Mutex
	invExt []float64 // cached (dim+1)×(dim+1) inverted extended covariance
}

// New builds a surrogate over dim design sites. sites must hold exactly
// dim*dim elements in column-major order. values holds the observation
// for each site, index-aligned with the site rows; it may be either the
// dim observations themselves or a full dim*dim vector-as-matrix buffer
// whose first column carries them.
func New(sites, values []float64, dim int, params Params) (*Surrogate, error) {
	return newWithEngine(nil, sites, values, dim, params)
}

// NewWithEngine is like New but runs on an existing engine, so several
// surrogates can share one device context.
func NewWithEngine(eng *compute.Engine, sites, values []float64, dim int, params Params) (*Surrogate, error) {
	return newWithEngine(eng, sites, values, dim, params)
}

func newWithEngine(eng *compute.Engine, sites, values []float64, dim int, params Params) (*Surrogate, error) {
	if dim < 1 {
		return nil, device.NewInvalidArgError("New", fmt.Sprintf("dimension must be positive, got %d", dim))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(sites) != dim*dim {
		return nil, device.NewInvalidArgError("New",
			fmt.Sprintf("design site buffer has %d elements, want %d", len(sites), dim*dim))
	}

	var vals *models.Matrix
	switch len(values) {
	case dim:
		vals = models.NewVectorMatrix(dim, values)
	case dim * dim:
		vals = &models.Matrix{Dim: dim, Data: append([]float64(nil), values...)}
	default:
		return nil, device.NewInvalidArgError("New",
			fmt.Sprintf("value buffer has %d elements, want %d or %d", len(values), dim, dim*dim))
	}

	if eng == nil {
		eng = compute.NewEngine(nil)
	}

	return &Surrogate{
		dim:    dim,
		sites:  append([]float64(nil), sites...),
		values: vals.Data,
		params: params,
		eng:    eng,
	}, nil
}

// Dim returns the number of design sites
func (s *Surrogate) Dim() int {
	return s.dim
}

// Params returns the current hyperparameters
func (s *Surrogate) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Estimate predicts the value at a test site given as dim coordinates.
// Any failing step aborts the pipeline with a wrapped error; a zero
// return value accompanied by a nil error is always a genuine estimate.
func (s *Surrogate) Estimate(testSite []float64) (float64, error) {
	if len(testSite) != s.dim {
		return 0, device.NewInvalidArgError("Estimate",
			fmt.Sprintf("test site has %d coordinates, want %d", len(testSite), s.dim))
	}

	invExt, params, err := s.invertedCovariance()
	if err != nil {
		return 0, err
	}

	dim := s.dim
	ext := dim + 1

	// Squared distances between the test site and the design sites
	test := models.NewVectorMatrix(dim, testSite)
	distVec, err := s.eng.DistanceVector(s.sites, test.Data, dim)
	if err != nil {
		return 0, fmt.Errorf("test site distance: %w", err)
	}

	covVec, err := s.eng.Correlate(distVec, dim, params.Theta, params.Variance, params.Nugget)
	if err != nil {
		return 0, fmt.Errorf("test site correlation: %w", err)
	}

	// The correlation kernel maps the zero padding to variance-nugget,
	// so only column 0 of the result is meaningful. Rebuild the vector
	// from that column, then append the unbiasedness constraint entry:
	// in the augmented BLUE system [R 1; 1ᵀ 0][w; μ] = [r; 1] the
	// right-hand side carries a 1 in its final row, which lands at row
	// dim of column 0 here.
	extVec := models.NewMatrix(ext)
	copy(extVec.Data[:dim], covVec[:dim])
	extVec.Set(dim, 0, 1)

	weights, err := s.eng.MatMul(invExt, extVec.Data, ext)
	if err != nil {
		return 0, fmt.Errorf("weight vector: %w", err)
	}

	// Weighted combination of the observed values; the trailing weight
	// is the Lagrange multiplier and takes no part in the estimate.
	estimate := 0.0
	for i := 0; i < dim; i++ {
		estimate += weights[i] * s.values[i]
	}
	return estimate, nil
}

// invertedCovariance returns the cached inverted extended covariance
// matrix, building it on first use.
func (s *Surrogate) invertedCovariance() ([]float64, Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invExt != nil {
		return s.invExt, s.params, nil
	}

	dim := s.dim
	ext := dim + 1

	dist, err := s.eng.Distance(s.sites, s.values, dim)
	if err != nil {
		return nil, s.params, fmt.Errorf("design site distance: %w", err)
	}

	cov, err := s.eng.Correlate(dist, dim, s.params.Theta, s.params.Variance, s.params.Nugget)
	if err != nil {
		return nil, s.params, fmt.Errorf("design site correlation: %w", err)
	}

	extCov, err := s.eng.Extend(cov, dim)
	if err != nil {
		return nil, s.params, fmt.Errorf("covariance extension: %w", err)
	}

	identity, err := s.eng.Identity(ext)
	if err != nil {
		return nil, s.params, fmt.Errorf("identity construction: %w", err)
	}

	invExt, err := s.eng.Invert(extCov, identity, ext)
	if err != nil {
		return nil, s.params, fmt.Errorf("covariance inversion: %w", err)
	}

	s.invExt = invExt
	return s.invExt, s.params, nil
}

// setTheta replaces the decay rate and drops the cached inverse
func (s *Surrogate) setTheta(theta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Theta = theta
	s.invExt = nil
}

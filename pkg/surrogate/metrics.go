package surrogate

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"surropt/internal/models"
	"surropt/pkg/device"
)

// Metrics summarizes how well the surrogate reproduces its own design
// sites
type Metrics struct {
	RMSE       float64
	MeanAbsErr float64
	MaxAbsErr  float64
}

// Residuals re-estimates every design site and compares the prediction
// against the observed value. With a zero nugget the model interpolates
// and the residuals measure numerical error only; with a positive
// nugget they measure the smoothing the regularization introduces.
// Sites are processed in parallel across the available CPUs.
func (s *Surrogate) Residuals() ([]float64, error) {
	dim := s.dim
	sites := &models.Matrix{Dim: dim, Data: s.sites}

	residuals := make([]float64, dim)
	errs := make([]error, dim)

	// Prime the cached inverse once so the workers only run the
	// per-site half of the pipeline.
	if _, _, err := s.invertedCovariance(); err != nil {
		return nil, err
	}

	workers := runtime.NumCPU()
	if workers > dim {
		workers = dim
	}
	chunk := (dim + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > dim {
			end = dim
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for j := start; j < end; j++ {
				est, err := s.Estimate(sites.Row(j))
				if err != nil {
					errs[j] = err
					continue
				}
				residuals[j] = est - s.values[j]
			}
		}(start, end)
	}
	wg.Wait()

	for j, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("residual at site %d: %w", j, err)
		}
	}
	return residuals, nil
}

// Validate computes summary metrics over the design site residuals
func (s *Surrogate) Validate() (Metrics, error) {
	residuals, err := s.Residuals()
	if err != nil {
		return Metrics{}, err
	}
	return summarize(residuals), nil
}

func summarize(residuals []float64) Metrics {
	abs := make([]float64, len(residuals))
	sq := make([]float64, len(residuals))
	for i, r := range residuals {
		abs[i] = math.Abs(r)
		sq[i] = r * r
	}
	return Metrics{
		RMSE:       math.Sqrt(stat.Mean(sq, nil)),
		MeanAbsErr: stat.Mean(abs, nil),
		MaxAbsErr:  floats.Max(abs),
	}
}

// FitTheta evaluates each candidate decay rate against the design site
// residuals and adopts the one with the lowest RMSE. Candidates are
// scored concurrently on throwaway models sharing this surrogate's
// engine. Returns the chosen theta and its metrics.
func (s *Surrogate) FitTheta(candidates []float64) (float64, Metrics, error) {
	if len(candidates) == 0 {
		return 0, Metrics{}, device.NewInvalidArgError("FitTheta", "no candidate values given")
	}

	type result struct {
		theta   float64
		metrics Metrics
		err     error
	}
	results := make(chan result, len(candidates))

	params := s.Params()
	var wg sync.WaitGroup
	for _, theta := range candidates {
		wg.Add(1)
		go func(theta float64) {
			defer wg.Done()

			trial := params
			trial.Theta = theta
			sub, err := newWithEngine(s.eng, s.sites, s.values, s.dim, trial)
			if err != nil {
				results <- result{theta: theta, err: err}
				return
			}
			m, err := sub.Validate()
			results <- result{theta: theta, metrics: m, err: err}
		}(theta)
	}
	wg.Wait()
	close(results)

	var best result
	first := true
	for r := range results {
		if r.err != nil {
			return 0, Metrics{}, fmt.Errorf("scoring theta %g: %w", r.theta, r.err)
		}
		if first || r.metrics.RMSE < best.metrics.RMSE {
			best = r
			first = false
		}
	}

	s.setTheta(best.theta)
	return best.theta, best.metrics, nil
}

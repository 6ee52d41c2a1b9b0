package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"surropt/pkg/compute"
	"surropt/pkg/config"
	"surropt/pkg/device"
	"surropt/pkg/surrogate"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "Optional YAML configuration file")
	sitesFile := flag.String("sites", "", "File with the dim*dim design site matrix, column-major, whitespace-separated")
	valuesFile := flag.String("values", "", "File with the dim observed values")
	testArg := flag.String("test", "", "Comma-separated coordinates of the point to estimate")
	dim := flag.Int("dim", 0, "Number of design sites")
	theta := flag.Float64("theta", 0, "Correlation decay rate (overrides config)")
	variance := flag.Float64("variance", 0, "Process variance (overrides config)")
	nugget := flag.Float64("nugget", -1, "Regularization nugget (overrides config)")
	fit := flag.Bool("fit", false, "Fit theta over the configured candidates before estimating")
	residuals := flag.Bool("residuals", false, "Report design site residual metrics")
	flag.Parse()

	// Validate inputs
	if *sitesFile == "" || *valuesFile == "" || *testArg == "" || *dim <= 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *theta > 0 {
		cfg.Kriging.Theta = *theta
	}
	if *variance > 0 {
		cfg.Kriging.Variance = *variance
	}
	if *nugget >= 0 {
		cfg.Kriging.Nugget = *nugget
	}

	sites, err := readFloats(*sitesFile)
	if err != nil {
		log.Fatalf("Failed to read design sites: %v", err)
	}
	values, err := readFloats(*valuesFile)
	if err != nil {
		log.Fatalf("Failed to read observed values: %v", err)
	}
	testSite, err := parseFloats(*testArg)
	if err != nil {
		log.Fatalf("Failed to parse test site: %v", err)
	}

	ctx := device.NewContextWithWorkers(cfg.Engine.Workers)
	defer ctx.Destroy()

	params := surrogate.Params{
		Theta:    cfg.Kriging.Theta,
		Variance: cfg.Kriging.Variance,
		Nugget:   cfg.Kriging.Nugget,
	}
	model, err := surrogate.NewWithEngine(compute.NewEngine(ctx), sites, values, *dim, params)
	if err != nil {
		log.Fatalf("Failed to build surrogate: %v", err)
	}

	if cfg.Output.Verbose {
		fmt.Printf("Kriging surrogate over %d design sites (theta=%g, variance=%g, nugget=%g)\n",
			*dim, params.Theta, params.Variance, params.Nugget)
	}

	if *fit {
		startTime := time.Now()
		best, metrics, err := model.FitTheta(cfg.Kriging.ThetaCandidates)
		if err != nil {
			log.Fatalf("Theta fit failed: %v", err)
		}
		if cfg.Output.Verbose {
			fmt.Printf("Fitted theta=%g (RMSE %.6g) over %v in %.2fs\n",
				best, metrics.RMSE, cfg.Kriging.ThetaCandidates, time.Since(startTime).Seconds())
		}
	}

	estimate, err := model.Estimate(testSite)
	if err != nil {
		log.Fatalf("Estimation failed: %v", err)
	}
	fmt.Printf("Estimate at %v: %.10g\n", testSite, estimate)

	if *residuals {
		metrics, err := model.Validate()
		if err != nil {
			log.Fatalf("Residual validation failed: %v", err)
		}
		fmt.Printf("Design site residuals:\n")
		fmt.Printf("  RMSE:           %.6g\n", metrics.RMSE)
		fmt.Printf("  Mean abs error: %.6g\n", metrics.MeanAbsErr)
		fmt.Printf("  Max abs error:  %.6g\n", metrics.MaxAbsErr)
	}

	if cfg.Output.Verbose {
		allocated, peak := ctx.Stats()
		fmt.Printf("Device memory: %d elements held, %d at peak\n", allocated, peak)
	}
}

// readFloats loads a whitespace-separated list of numbers from a file
func readFloats(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFields(strings.Fields(string(data)))
}

// parseFloats parses a comma-separated list of numbers
func parseFloats(s string) ([]float64, error) {
	return parseFields(strings.Split(s, ","))
}

func parseFields(fields []string) ([]float64, error) {
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

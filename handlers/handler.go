// Package handlers benchmarks saved models, either as they are or after converting them
// to run on TensorRT engines.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/converter"
	"github.com/knights-analytics/accelbench/savedmodel"
)

var (
	ErrInferenceFailed  = errors.New("inference failed")
	ErrConversionFailed = errors.New("conversion failed")
)

// Handler benchmarks one saved model.
type Handler interface {
	InputTensorNames() ([]string, error)
	OutputTensorNames() ([]string, error)
	GenerateRandomInputs(batchSize int) (map[string]tensor.Tensor, error)
	Run(ctx context.Context, opts RunOptions) (*TestResult, error)
	String() string
}

// MetaGraphLoader is the part of savedmodel.Loader handlers rely on.
type MetaGraphLoader interface {
	Load(loc savedmodel.Location) (*savedmodel.MetaGraph, error)
	Invalidate(dir string)
}

// RunOptions configures a benchmark run.
type RunOptions struct {
	// Inputs feeds the model. When empty, random inputs are generated for every signature input.
	Inputs              map[string]tensor.Tensor
	WarmupIterations    int
	BenchmarkIterations int
	// AllowAccelerator lets the backend place work on accelerator providers. Without it the
	// model runs on the CPU only.
	AllowAccelerator bool
	// DropOutputsForGeneratedInputs discards the outputs when the inputs were generated.
	DropOutputsForGeneratedInputs bool
	// BatchSize replaces dynamic batch dimensions of generated inputs.
	BatchSize int
	// Seed for generated inputs, zero picks one from the clock.
	Seed uint64
}

func DefaultRunOptions() RunOptions {
	return RunOptions{
		WarmupIterations:    10,
		BenchmarkIterations: 100,
	}
}

func (o RunOptions) validate() error {
	if o.WarmupIterations < 0 || o.BenchmarkIterations < 0 {
		return fmt.Errorf("iterations must not be negative, got warmup=%d benchmark=%d", o.WarmupIterations, o.BenchmarkIterations)
	}
	return nil
}

// TestResult is the outcome of a benchmark run.
type TestResult struct {
	// Outputs of the last benchmark iteration keyed by output tensor name.
	Outputs map[string]tensor.Tensor
	// Latency holds the wall clock duration of every benchmark iteration.
	Latency []time.Duration
	// ConversionParams is set when the model ran after conversion.
	ConversionParams *converter.Params
}

type LatencySummary struct {
	Iterations int
	Mean       time.Duration
	StdDev     time.Duration
	Min        time.Duration
	P50        time.Duration
	P90        time.Duration
	P99        time.Duration
	Max        time.Duration
}

// Summary aggregates the latencies of r.
func (r *TestResult) Summary() LatencySummary {
	n := len(r.Latency)
	if n == 0 {
		return LatencySummary{}
	}
	values := make([]float64, n)
	for i, latency := range r.Latency {
		values[i] = float64(latency)
	}
	slices.Sort(values)

	summary := LatencySummary{
		Iterations: n,
		Mean:       time.Duration(stat.Mean(values, nil)),
		Min:        time.Duration(values[0]),
		P50:        time.Duration(stat.Quantile(0.5, stat.Empirical, values, nil)),
		P90:        time.Duration(stat.Quantile(0.9, stat.Empirical, values, nil)),
		P99:        time.Duration(stat.Quantile(0.99, stat.Empirical, values, nil)),
		Max:        time.Duration(values[n-1]),
	}
	if n > 1 {
		summary.StdDev = time.Duration(stat.StdDev(values, nil))
	}
	return summary
}

// InferenceError reports a backend failure during a run.
type InferenceError struct {
	Handler string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrInferenceFailed, e.Handler, e.Err)
}

func (e *InferenceError) Unwrap() []error {
	return []error{ErrInferenceFailed, e.Err}
}

// ConversionError reports a model that could not be converted.
type ConversionError struct {
	Handler string
	Err     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrConversionFailed, e.Handler, e.Err)
}

func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversionFailed, e.Err}
}

var (
	_ Handler = (*StandardHandler)(nil)
	_ Handler = (*AcceleratedHandler)(nil)
)

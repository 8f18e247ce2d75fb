package handlers

import (
	"context"
	"errors"
	"slices"
	"time"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/backends"
	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/tensors"
)

// StandardHandler runs a saved model as it is.
type StandardHandler struct {
	location savedmodel.Location
	loader   MetaGraphLoader
	executor backends.Executor
	// providers are registered when a run allows an accelerator.
	providers []backends.Provider
}

func NewStandardHandler(loc savedmodel.Location, loader MetaGraphLoader, executor backends.Executor, providers ...backends.Provider) *StandardHandler {
	return &StandardHandler{
		location:  loc.WithDefaults(),
		loader:    loader,
		executor:  executor,
		providers: providers,
	}
}

func (h *StandardHandler) Location() savedmodel.Location {
	return h.location
}

// MetaGraph returns the model metadata. It goes through the loader on every call.
func (h *StandardHandler) MetaGraph() (*savedmodel.MetaGraph, error) {
	return h.loader.Load(h.location)
}

func (h *StandardHandler) InputTensorNames() ([]string, error) {
	meta, err := h.MetaGraph()
	if err != nil {
		return nil, err
	}
	return meta.InputNames(), nil
}

func (h *StandardHandler) OutputTensorNames() ([]string, error) {
	meta, err := h.MetaGraph()
	if err != nil {
		return nil, err
	}
	return meta.OutputNames(), nil
}

func (h *StandardHandler) GenerateRandomInputs(batchSize int) (map[string]tensor.Tensor, error) {
	meta, err := h.MetaGraph()
	if err != nil {
		return nil, err
	}
	return generateInputs(meta, batchSize, tensors.NewRand(clockSeed()))
}

func (h *StandardHandler) Run(ctx context.Context, opts RunOptions) (*TestResult, error) {
	return h.run(ctx, h.location, opts, nil)
}

func (h *StandardHandler) String() string {
	return h.location.String()
}

// run benchmarks the model at loc. extra providers go ahead of the handler's own when
// the accelerator is allowed.
func (h *StandardHandler) run(ctx context.Context, loc savedmodel.Location, opts RunOptions, extra []backends.Provider) (result *TestResult, err error) {
	if err = opts.validate(); err != nil {
		return nil, err
	}
	meta, err := h.loader.Load(loc)
	if err != nil {
		return nil, err
	}

	feeds := opts.Inputs
	generated := len(feeds) == 0
	if generated {
		seed := opts.Seed
		if seed == 0 {
			seed = clockSeed()
		}
		if feeds, err = generateInputs(meta, opts.BatchSize, tensors.NewRand(seed)); err != nil {
			return nil, err
		}
	}

	device := backends.Device{AllowAccelerator: opts.AllowAccelerator}
	if opts.AllowAccelerator {
		device.Providers = slices.Concat(extra, h.providers)
	}
	session, err := h.executor.Import(meta.Bytes(), meta.InputNames(), meta.OutputNames(), device)
	if err != nil {
		return nil, h.inferenceError(loc, err)
	}
	defer func() {
		if destroyErr := session.Destroy(); destroyErr != nil {
			result = nil
			if err == nil {
				err = h.inferenceError(loc, destroyErr)
			} else {
				err = errors.Join(err, destroyErr)
			}
		}
	}()

	for range opts.WarmupIterations {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if _, err = session.Run(feeds); err != nil {
			return nil, h.inferenceError(loc, err)
		}
	}

	latency := make([]time.Duration, 0, opts.BenchmarkIterations)
	var outputs map[string]tensor.Tensor
	for range opts.BenchmarkIterations {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		outputs, err = session.Run(feeds)
		if err != nil {
			return nil, h.inferenceError(loc, err)
		}
		latency = append(latency, time.Since(start))
	}

	if generated && opts.DropOutputsForGeneratedInputs {
		outputs = nil
	}
	return &TestResult{Outputs: outputs, Latency: latency}, nil
}

func (h *StandardHandler) inferenceError(loc savedmodel.Location, err error) error {
	return &InferenceError{Handler: loc.String(), Err: err}
}

func generateInputs(meta *savedmodel.MetaGraph, batchSize int, rng *rand.Rand) (map[string]tensor.Tensor, error) {
	inputs := make(map[string]tensor.Tensor, len(meta.Inputs()))
	for _, info := range meta.Inputs() {
		t, err := tensors.Random(info, batchSize, rng)
		if err != nil {
			return nil, err
		}
		inputs[info.Name] = t
	}
	return inputs, nil
}

func clockSeed() uint64 {
	return uint64(time.Now().UnixNano())
}

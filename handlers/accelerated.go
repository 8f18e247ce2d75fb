package handlers

import (
	"context"
	"errors"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/phuslu/log"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/backends"
	"github.com/knights-analytics/accelbench/converter"
	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/tensors"
)

// TensorRTStrategy converts with the TensorRT provider and keeps the signature outputs
// out of the engines.
type TensorRTStrategy struct {
	Options *options.Options
	// Executor builds the engines, defaulting to the one selected by Options.
	Executor backends.Executor
	// Factory defaults to converter.NewTensorRT.
	Factory converter.Factory
}

func (s TensorRTStrategy) CreateConverter(loc savedmodel.Location, meta *savedmodel.MetaGraph, params converter.Params) (converter.Converter, error) {
	factory := s.Factory
	if factory == nil {
		factory = converter.NewTensorRT
	}
	return factory(converter.Config{
		Location:      loc,
		Meta:          meta,
		NodesDenylist: meta.OutputNames(),
		Params:        params,
		Options:       s.Options,
		Executor:      s.Executor,
	})
}

func (s TensorRTStrategy) CheckConversion(graph *onnx.ModelProto) error {
	if !converter.ContainsEngineNode(graph) {
		return errors.New("converted graph contains no TensorRT engine node")
	}
	return nil
}

// AcceleratedHandler runs a model after converting it with TensorRT.
type AcceleratedHandler struct {
	standard   *StandardHandler
	conversion *ConversionHandler
	// userOptions are the TensorRT provider options configured on the session.
	userOptions map[string]string
}

// NewAcceleratedHandler converts the model at loc eagerly. Runs use standard's executor,
// loader and providers.
func NewAcceleratedHandler(params converter.Params, loc savedmodel.Location, standard *StandardHandler, strategy ConversionStrategy, userOptions map[string]string) (*AcceleratedHandler, error) {
	conversion, err := NewConversionHandler(params, loc, standard.loader, strategy)
	if err != nil {
		return nil, err
	}
	return &AcceleratedHandler{standard: standard, conversion: conversion, userOptions: userOptions}, nil
}

func (h *AcceleratedHandler) Params() converter.Params {
	return h.conversion.Params()
}

func (h *AcceleratedHandler) Location() savedmodel.Location {
	return h.conversion.Location()
}

func (h *AcceleratedHandler) Save(output string, overwrite bool) error {
	return h.conversion.Save(output, overwrite)
}

func (h *AcceleratedHandler) Saved() bool {
	return h.conversion.Saved()
}

func (h *AcceleratedHandler) metaGraph() (*savedmodel.MetaGraph, error) {
	return h.standard.loader.Load(h.conversion.Location())
}

func (h *AcceleratedHandler) InputTensorNames() ([]string, error) {
	meta, err := h.metaGraph()
	if err != nil {
		return nil, err
	}
	return meta.InputNames(), nil
}

func (h *AcceleratedHandler) OutputTensorNames() ([]string, error) {
	meta, err := h.metaGraph()
	if err != nil {
		return nil, err
	}
	return meta.OutputNames(), nil
}

func (h *AcceleratedHandler) GenerateRandomInputs(batchSize int) (map[string]tensor.Tensor, error) {
	meta, err := h.metaGraph()
	if err != nil {
		return nil, err
	}
	return generateInputs(meta, batchSize, tensors.NewRand(clockSeed()))
}

// Run saves the converted model if needed and benchmarks it with the accelerator enabled.
func (h *AcceleratedHandler) Run(ctx context.Context, opts RunOptions) (*TestResult, error) {
	if err := h.conversion.Save("", false); err != nil {
		return nil, err
	}
	loc := h.conversion.Location()
	meta, err := h.standard.loader.Load(loc)
	if err != nil {
		return nil, err
	}
	params := h.conversion.Params()
	tensorRT := backends.Provider{
		Name:    backends.TensorRTProvider,
		Options: converter.WithUserOptions(h.userOptions, converter.RuntimeProviderOptions(params, meta.Inputs(), loc.Dir)),
	}

	log.Info().Str("location", loc.String()).Msg("Running with TensorRT")
	opts.AllowAccelerator = true
	result, err := h.standard.run(ctx, loc, opts, []backends.Provider{tensorRT})
	if err != nil {
		return nil, err
	}
	result.ConversionParams = &params
	return result, nil
}

func (h *AcceleratedHandler) Destroy() error {
	return h.conversion.Destroy()
}

func (h *AcceleratedHandler) String() string {
	return h.conversion.String()
}

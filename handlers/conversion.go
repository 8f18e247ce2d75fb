package handlers

import (
	"errors"
	"fmt"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/phuslu/log"

	"github.com/knights-analytics/accelbench/converter"
	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/util/fileutil"
)

// ConversionStrategy creates the converter for a model and decides whether its result is usable.
type ConversionStrategy interface {
	CreateConverter(loc savedmodel.Location, meta *savedmodel.MetaGraph, params converter.Params) (converter.Converter, error)
	CheckConversion(graph *onnx.ModelProto) error
}

// ConversionHandler converts a model on construction and persists the converted model on demand.
type ConversionHandler struct {
	params    converter.Params
	location  savedmodel.Location
	loader    MetaGraphLoader
	converter converter.Converter
	saved     bool
}

// NewConversionHandler converts the model at loc with params. It fails if strategy
// rejects the converted graph.
func NewConversionHandler(params converter.Params, loc savedmodel.Location, loader MetaGraphLoader, strategy ConversionStrategy) (*ConversionHandler, error) {
	loc = loc.WithDefaults()
	h := &ConversionHandler{params: params, location: loc, loader: loader}

	meta, err := loader.Load(loc)
	if err != nil {
		return nil, err
	}
	log.Info().Str("location", loc.String()).Str("params", params.String()).Msg("Converting to TensorRT")
	conv, err := strategy.CreateConverter(loc, meta, params)
	if err != nil {
		return nil, h.conversionError(err)
	}
	graph, err := conv.Convert()
	if err == nil {
		err = strategy.CheckConversion(graph)
	}
	if err != nil {
		return nil, h.conversionError(errors.Join(err, conv.Destroy()))
	}
	h.converter = conv
	return h, nil
}

func (h *ConversionHandler) Params() converter.Params {
	return h.params
}

// Location points at the converted model once saved, at the source model before.
func (h *ConversionHandler) Location() savedmodel.Location {
	return h.location
}

func (h *ConversionHandler) Saved() bool {
	return h.saved
}

// Save persists the converted model to output, a fresh temporary directory when output
// is empty. Once saved, further calls do nothing unless overwrite is set.
func (h *ConversionHandler) Save(output string, overwrite bool) error {
	if h.saved && !overwrite {
		return nil
	}
	if output == "" {
		var err error
		if output, err = fileutil.TempDir("accelbench-saved-*"); err != nil {
			return err
		}
	}
	log.Info().Str("output", output).Msg("Saving TensorRT model")
	if err := h.converter.Save(output); err != nil {
		return fmt.Errorf("saving converted model to %s: %w", output, err)
	}
	h.loader.Invalidate(output)
	h.location = savedmodel.Location{Dir: output, Tags: h.location.Tags, SignatureKey: h.location.SignatureKey}
	h.saved = true
	return nil
}

// Destroy releases the converter's intermediate artifacts. Saved models are kept.
func (h *ConversionHandler) Destroy() error {
	return h.converter.Destroy()
}

func (h *ConversionHandler) String() string {
	return fmt.Sprintf("%s, ConversionParams: %s", h.location, h.params)
}

func (h *ConversionHandler) conversionError(err error) error {
	return &ConversionError{Handler: h.String(), Err: err}
}

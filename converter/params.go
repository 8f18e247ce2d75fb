package converter

import (
	"fmt"
)

// PrecisionMode is the numeric precision TensorRT engines are built with.
type PrecisionMode string

const (
	PrecisionFP32 PrecisionMode = "FP32"
	PrecisionFP16 PrecisionMode = "FP16"
	PrecisionINT8 PrecisionMode = "INT8"
)

// DefaultMaxWorkspaceSizeBytes is the TensorRT builder workspace used when none is set.
const DefaultMaxWorkspaceSizeBytes = 1 << 30

// Params configures one conversion. Two handlers with equal Params convert identically.
type Params struct {
	MaxBatchSize          int
	MaxWorkspaceSizeBytes int64
	PrecisionMode         PrecisionMode
	// MinimumSegmentSize is the smallest number of nodes a subgraph needs to be handed to TensorRT.
	MinimumSegmentSize int
	// IsDynamicOp keeps engines outside the converted graph so they can be rebuilt at run
	// time; otherwise engines are built during conversion and embedded in the graph.
	IsDynamicOp          bool
	MaximumCachedEngines int
	// UseCalibration reads an INT8 calibration table shipped with the model.
	UseCalibration bool
}

func DefaultParams() Params {
	return Params{
		MaxBatchSize:          1,
		MaxWorkspaceSizeBytes: DefaultMaxWorkspaceSizeBytes,
		PrecisionMode:         PrecisionFP32,
		MinimumSegmentSize:    3,
		IsDynamicOp:           true,
		MaximumCachedEngines:  1,
		UseCalibration:        true,
	}
}

func (p Params) Validate() error {
	switch p.PrecisionMode {
	case PrecisionFP32, PrecisionFP16, PrecisionINT8:
	default:
		return fmt.Errorf("precision mode %q not supported, must be one of %s, %s, %s", p.PrecisionMode, PrecisionFP32, PrecisionFP16, PrecisionINT8)
	}
	if p.MaxBatchSize < 0 {
		return fmt.Errorf("max batch size must not be negative, got %d", p.MaxBatchSize)
	}
	if p.MaxWorkspaceSizeBytes <= 0 {
		return fmt.Errorf("max workspace size must be positive, got %d", p.MaxWorkspaceSizeBytes)
	}
	if p.MinimumSegmentSize < 1 {
		return fmt.Errorf("minimum segment size must be at least 1, got %d", p.MinimumSegmentSize)
	}
	if p.MaximumCachedEngines < 1 {
		return fmt.Errorf("maximum cached engines must be at least 1, got %d", p.MaximumCachedEngines)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("Params(max_batch_size=%d, max_workspace_size_bytes=%d, precision_mode=%s, minimum_segment_size=%d, is_dynamic_op=%t, maximum_cached_engines=%d, use_calibration=%t)",
		p.MaxBatchSize, p.MaxWorkspaceSizeBytes, p.PrecisionMode, p.MinimumSegmentSize, p.IsDynamicOp, p.MaximumCachedEngines, p.UseCalibration)
}

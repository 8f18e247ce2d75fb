package converter

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/knights-analytics/accelbench/savedmodel"
	"github.com/knights-analytics/accelbench/util/fileutil"
)

const (
	// ContextModelFile is the converted graph written next to the engine cache.
	ContextModelFile = "model_ctx.onnx"
	// EngineCacheDir holds serialised engines relative to the converted graph.
	EngineCacheDir = "trt_cache"
	// CalibrationTableFile is the INT8 calibration table looked up in the source model directory.
	CalibrationTableFile = "calibration.flatbuffers"
)

// ProviderOptions maps p onto TensorRT provider options for converting a model with the
// given inputs. Artifacts go to workDir.
func ProviderOptions(p Params, inputs []savedmodel.TensorInfo, workDir string) map[string]string {
	providerOptions := RuntimeProviderOptions(p, inputs, workDir)
	providerOptions["trt_dump_ep_context_model"] = "1"
	if p.IsDynamicOp {
		providerOptions["trt_ep_context_embed_mode"] = "0"
	} else {
		providerOptions["trt_ep_context_embed_mode"] = "1"
	}
	return providerOptions
}

// RuntimeProviderOptions maps p onto TensorRT provider options for running a converted
// model saved in dir. Engine files referenced by the converted graph resolve relative to
// trt_ep_context_file_path.
func RuntimeProviderOptions(p Params, inputs []savedmodel.TensorInfo, dir string) map[string]string {
	providerOptions := map[string]string{
		"trt_ep_context_file_path": fileutil.PathJoinSafe(dir, ContextModelFile),
		"trt_max_workspace_size":   strconv.FormatInt(p.MaxWorkspaceSizeBytes, 10),
		"trt_min_subgraph_size":    strconv.Itoa(p.MinimumSegmentSize),
		"trt_engine_cache_enable":  "1",
		"trt_engine_cache_path":    fileutil.PathJoinSafe(dir, EngineCacheDir),
		"trt_op_types_to_exclude":  strings.Join(slices.Concat(defaultExcludedOpTypes, []string{guardOpType}), ","),
	}
	switch p.PrecisionMode {
	case PrecisionFP16:
		providerOptions["trt_fp16_enable"] = "1"
	case PrecisionINT8:
		providerOptions["trt_int8_enable"] = "1"
		if p.UseCalibration {
			providerOptions["trt_int8_calibration_table_name"] = CalibrationTableFile
			providerOptions["trt_int8_use_native_calibration_table"] = "0"
		}
	}
	maps.Copy(providerOptions, profileShapes(p.MaxBatchSize, inputs))
	return providerOptions
}

// WithUserOptions overlays derived on a copy of the options configured by the user.
func WithUserOptions(user, derived map[string]string) map[string]string {
	merged := maps.Clone(user)
	if merged == nil {
		return derived
	}
	maps.Copy(merged, derived)
	return merged
}

// profileShapes builds an optimisation profile covering batch sizes 1 to maxBatchSize.
// Profiles are only emitted when every dynamic input has a dynamic batch dimension alone.
func profileShapes(maxBatchSize int, inputs []savedmodel.TensorInfo) map[string]string {
	if maxBatchSize <= 0 {
		return nil
	}
	var minShapes, maxShapes []string
	for _, input := range inputs {
		if input.Shape.UnknownRank || input.Shape.Rank() == 0 {
			return nil
		}
		dims := input.Shape.Dims
		for _, dim := range dims[1:] {
			if dim < 0 {
				return nil
			}
		}
		if dims[0] >= 0 {
			continue
		}
		minShapes = append(minShapes, profileShape(input.Name, 1, dims[1:]))
		maxShapes = append(maxShapes, profileShape(input.Name, maxBatchSize, dims[1:]))
	}
	if len(minShapes) == 0 {
		return nil
	}
	return map[string]string{
		"trt_profile_min_shapes": strings.Join(minShapes, ","),
		"trt_profile_opt_shapes": strings.Join(maxShapes, ","),
		"trt_profile_max_shapes": strings.Join(maxShapes, ","),
	}
}

func profileShape(name string, batch int, rest []int64) string {
	parts := []string{strconv.Itoa(batch)}
	for _, dim := range rest {
		parts = append(parts, strconv.FormatInt(dim, 10))
	}
	return fmt.Sprintf("%s:%s", name, strings.Join(parts, "x"))
}

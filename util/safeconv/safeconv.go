package safeconv

import (
	"math"
)

// IntSliceToInt64Slice converts tensor dimensions to the int64 form used by graphs and onnxruntime.
func IntSliceToInt64Slice(input []int) []int64 {
	out := make([]int64, len(input))
	for i, v := range input {
		out[i] = int64(v)
	}
	return out
}

// Int64SliceToIntSlice converts int64 dimensions to int with clamping to the int range,
// which only matters on 32 bit platforms.
func Int64SliceToIntSlice(input []int64) []int {
	out := make([]int, len(input))
	for i, v := range input {
		switch {
		case v > math.MaxInt:
			out[i] = math.MaxInt
		case v < math.MinInt:
			out[i] = math.MinInt
		default:
			out[i] = int(v)
		}
	}
	return out
}

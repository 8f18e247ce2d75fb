package safeconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShapeConversions(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 224, 224}, IntSliceToInt64Slice([]int{1, 3, 224, 224}))
	assert.Equal(t, []int{-1, 8}, Int64SliceToIntSlice([]int64{-1, 8}))
	assert.Empty(t, Int64SliceToIntSlice(nil))
}

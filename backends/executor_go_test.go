package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/testcases"
)

func TestGoExecutorRelu(t *testing.T) {
	graph, err := proto.Marshal(testcases.ReluModel(2, 2))
	require.NoError(t, err)

	session, err := NewGoExecutor().Import(graph, []string{"x"}, []string{"y"}, Device{AllowAccelerator: true})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, session.Destroy())
	}()

	x := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{-1, 2, -3, 4}))
	outputs, err := session.Run(map[string]tensor.Tensor{"x": x})
	require.NoError(t, err)
	require.Contains(t, outputs, "y")
	assert.Equal(t, []float32{0, 2, 0, 4}, outputs["y"].Data())
}

func TestNewExecutor(t *testing.T) {
	o := options.Defaults()
	o.Backend = "GO"
	executor, err := NewExecutor(o)
	require.NoError(t, err)
	assert.IsType(t, &GoExecutor{}, executor)

	o.Backend = "XLA"
	_, err = NewExecutor(o)
	assert.Error(t, err)
}

func TestSelectOutputsMissing(t *testing.T) {
	_, err := selectOutputs(map[string]tensor.Tensor{}, []string{"y"})
	assert.Error(t, err)
}

func TestBoolEncoding(t *testing.T) {
	encoded := boolsToBytes([]bool{true, false, true})
	assert.Equal(t, []byte{1, 0, 1}, encoded)
	assert.Equal(t, []bool{true, false, true}, bytesToBools(encoded))
	assert.Equal(t, []bool{true}, bytesToBools([]byte{7}))
}

package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, o *Options, opts ...WithOption) error {
	t.Helper()
	for _, option := range opts {
		if err := option(o); err != nil {
			return err
		}
	}
	return nil
}

func TestORTOptions(t *testing.T) {
	o := Defaults()
	o.Backend = "ORT"
	require.NoError(t, apply(t, o,
		WithTelemetry(),
		WithIntraOpNumThreads(2),
		WithInterOpNumThreads(3),
		WithCPUMemArena(false),
		WithMemPattern(true),
		WithCuda(nil),
		WithTensorRT(map[string]string{"device_id": "1"}),
	))
	assert.True(t, *o.ORTOptions.Telemetry)
	assert.Equal(t, 2, *o.ORTOptions.IntraOpNumThreads)
	assert.Equal(t, 3, *o.ORTOptions.InterOpNumThreads)
	assert.False(t, *o.ORTOptions.CPUMemArena)
	assert.True(t, *o.ORTOptions.MemPattern)
	assert.NotNil(t, o.ORTOptions.CudaOptions)
	assert.Equal(t, "1", o.ORTOptions.TensorRTOptions["device_id"])

	assert.Error(t, apply(t, o, WithOnnxLibraryPath(t.TempDir()+"/missing.so")))
}

func TestORTOptionsRejectOtherBackends(t *testing.T) {
	for _, option := range []WithOption{
		WithOnnxLibraryPath("/usr/lib/libonnxruntime.so"),
		WithTelemetry(),
		WithIntraOpNumThreads(1),
		WithInterOpNumThreads(1),
		WithCPUMemArena(true),
		WithMemPattern(true),
		WithCuda(nil),
		WithTensorRT(nil),
	} {
		o := Defaults()
		o.Backend = "GO"
		assert.Error(t, option(o))
	}
}

func TestBackendIndependentOptions(t *testing.T) {
	o := Defaults()
	o.Backend = "GO"
	require.NoError(t, apply(t, o, WithMetadataCacheSize(8), WithSeed(11)))
	assert.Equal(t, 8, o.MetadataCacheSize)
	assert.Equal(t, uint64(11), o.Seed)
	assert.Error(t, WithMetadataCacheSize(-1)(o))
}

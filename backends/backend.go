package backends

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/options"
)

const (
	CPUProvider      = "CPUExecutionProvider"
	CUDAProvider     = "CUDAExecutionProvider"
	TensorRTProvider = "TensorrtExecutionProvider"
)

var ErrBackendUnavailable = errors.New("backend is not enabled in this build")

// Provider is an execution provider with its options.
type Provider struct {
	Name    string
	Options map[string]string
}

// Device constrains where a graph executes. Without AllowAccelerator only the CPU is
// used; with it the listed providers are registered ahead of the CPU fallback.
type Device struct {
	AllowAccelerator bool
	Providers        []Provider
}

// Session is one imported graph ready to run.
type Session interface {
	// Run feeds named inputs and returns the session's output tensors by name.
	Run(feeds map[string]tensor.Tensor) (map[string]tensor.Tensor, error)
	Destroy() error
}

// Executor imports serialised graphs into sessions.
type Executor interface {
	Import(graph []byte, inputNames, outputNames []string, device Device) (Session, error)
}

// NewExecutor returns the executor of the backend selected in o.
func NewExecutor(o *options.Options) (Executor, error) {
	switch o.Backend {
	case "ORT":
		return newORTExecutor(o)
	case "GO":
		return NewGoExecutor(), nil
	default:
		return nil, fmt.Errorf("backend %s not implemented", o.Backend)
	}
}

func selectOutputs(all map[string]tensor.Tensor, outputNames []string) (map[string]tensor.Tensor, error) {
	outputs := make(map[string]tensor.Tensor, len(outputNames))
	for _, name := range outputNames {
		value, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("output %s was not produced", name)
		}
		outputs[name] = value
	}
	return outputs, nil
}

// boolsToBytes encodes bools one byte per element, the layout onnxruntime uses for bool tensors.
func boolsToBytes(data []bool) []byte {
	out := make([]byte, len(data))
	for i, v := range data {
		if v {
			out[i] = 1
		}
	}
	return out
}

func bytesToBools(data []byte) []bool {
	out := make([]bool, len(data))
	for i, v := range data {
		out[i] = v != 0
	}
	return out
}

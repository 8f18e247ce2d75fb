//go:build ORT || ALL

package backends

import (
	"errors"
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/util/safeconv"
)

// ORTExecutor runs graphs with onnxruntime. The onnxruntime environment must already be
// initialised by the caller.
type ORTExecutor struct {
	options *options.OrtOptions
}

func newORTExecutor(o *options.Options) (Executor, error) {
	return &ORTExecutor{options: o.ORTOptions}, nil
}

func (e *ORTExecutor) Import(graph []byte, inputNames, outputNames []string, device Device) (Session, error) {
	sessionOptions, destroyOptions, err := e.sessionOptions(device)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSessionWithONNXData(graph, inputNames, outputNames, sessionOptions)
	if err != nil {
		return nil, errors.Join(err, destroyOptions())
	}
	return &ortSession{
		session:        session,
		inputNames:     inputNames,
		outputNames:    outputNames,
		destroyOptions: destroyOptions,
	}, nil
}

// sessionOptions builds fresh options for one import. The returned function releases
// the options and any provider options attached to them.
func (e *ORTExecutor) sessionOptions(device Device) (*ort.SessionOptions, func() error, error) {
	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, nil, err
	}
	destroyers := []func() error{sessionOptions.Destroy}
	destroy := func() error {
		var destroyErr error
		for _, d := range slices.Backward(destroyers) {
			destroyErr = errors.Join(destroyErr, d())
		}
		return destroyErr
	}
	fail := func(err error) (*ort.SessionOptions, func() error, error) {
		return nil, nil, errors.Join(err, destroy())
	}

	o := e.options
	if o.IntraOpNumThreads != nil {
		if err = sessionOptions.SetIntraOpNumThreads(*o.IntraOpNumThreads); err != nil {
			return fail(err)
		}
	}
	if o.InterOpNumThreads != nil {
		if err = sessionOptions.SetInterOpNumThreads(*o.InterOpNumThreads); err != nil {
			return fail(err)
		}
	}
	if o.CPUMemArena != nil {
		if err = sessionOptions.SetCpuMemArena(*o.CPUMemArena); err != nil {
			return fail(err)
		}
	}
	if o.MemPattern != nil {
		if err = sessionOptions.SetMemPattern(*o.MemPattern); err != nil {
			return fail(err)
		}
	}

	if !device.AllowAccelerator {
		return sessionOptions, destroy, nil
	}
	for _, provider := range device.Providers {
		switch provider.Name {
		case TensorRTProvider:
			tensorRTOptions, optErr := ort.NewTensorRTProviderOptions()
			if optErr != nil {
				return fail(optErr)
			}
			destroyers = append(destroyers, tensorRTOptions.Destroy)
			if len(provider.Options) > 0 {
				if optErr = tensorRTOptions.Update(provider.Options); optErr != nil {
					return fail(optErr)
				}
			}
			if err = sessionOptions.AppendExecutionProviderTensorRT(tensorRTOptions); err != nil {
				return fail(err)
			}
		case CUDAProvider:
			cudaOptions, optErr := ort.NewCUDAProviderOptions()
			if optErr != nil {
				return fail(optErr)
			}
			destroyers = append(destroyers, cudaOptions.Destroy)
			if len(provider.Options) > 0 {
				if optErr = cudaOptions.Update(provider.Options); optErr != nil {
					return fail(optErr)
				}
			}
			if err = sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				return fail(err)
			}
		case CPUProvider:
		default:
			return fail(fmt.Errorf("execution provider %s not supported", provider.Name))
		}
	}
	return sessionOptions, destroy, nil
}

type ortSession struct {
	session        *ort.DynamicAdvancedSession
	inputNames     []string
	outputNames    []string
	destroyOptions func() error
}

func (s *ortSession) Run(feeds map[string]tensor.Tensor) (outputs map[string]tensor.Tensor, err error) {
	inputValues := make([]ort.Value, 0, len(s.inputNames))
	outputValues := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, value := range inputValues {
			err = errors.Join(err, value.Destroy())
		}
		for _, value := range outputValues {
			if value != nil {
				err = errors.Join(err, value.Destroy())
			}
		}
	}()

	for _, name := range s.inputNames {
		feed, ok := feeds[name]
		if !ok {
			return nil, fmt.Errorf("missing input %s", name)
		}
		value, convErr := toORTValue(feed)
		if convErr != nil {
			return nil, fmt.Errorf("input %s: %w", name, convErr)
		}
		inputValues = append(inputValues, value)
	}

	// nil outputs are allocated by onnxruntime
	if err = s.session.Run(inputValues, outputValues); err != nil {
		return nil, err
	}

	outputs = make(map[string]tensor.Tensor, len(s.outputNames))
	for i, name := range s.outputNames {
		converted, convErr := fromORTValue(outputValues[i])
		if convErr != nil {
			return nil, fmt.Errorf("output %s: %w", name, convErr)
		}
		outputs[name] = converted
	}
	return outputs, nil
}

func (s *ortSession) Destroy() error {
	return errors.Join(s.session.Destroy(), s.destroyOptions())
}

func toORTValue(t tensor.Tensor) (ort.Value, error) {
	shape := ort.NewShape(safeconv.IntSliceToInt64Slice(t.Shape())...)
	switch data := t.Data().(type) {
	case []float32:
		return ort.NewTensor(shape, data)
	case []float64:
		return ort.NewTensor(shape, data)
	case []int8:
		return ort.NewTensor(shape, data)
	case []int16:
		return ort.NewTensor(shape, data)
	case []int32:
		return ort.NewTensor(shape, data)
	case []int64:
		return ort.NewTensor(shape, data)
	case []uint8:
		return ort.NewTensor(shape, data)
	case []uint16:
		return ort.NewTensor(shape, data)
	case []uint32:
		return ort.NewTensor(shape, data)
	case []uint64:
		return ort.NewTensor(shape, data)
	case []bool:
		return ort.NewCustomDataTensor(shape, boolsToBytes(data), ort.TensorElementDataTypeBool)
	default:
		return nil, fmt.Errorf("tensor type %s not supported by onnxruntime", t.Dtype())
	}
}

func fromORTValue(value ort.Value) (tensor.Tensor, error) {
	switch v := value.(type) {
	case *ort.Tensor[float32]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[float64]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[int8]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[int16]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[int32]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[int64]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[uint8]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[uint16]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[uint32]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.Tensor[uint64]:
		return denseFromORT(v.GetShape(), v.GetData()), nil
	case *ort.CustomDataTensor:
		// bool is the only one byte element type onnxruntime_go does not map to Tensor[T]
		shape := v.GetShape()
		if int64(len(v.GetData())) != shape.FlattenedSize() {
			return nil, fmt.Errorf("custom data output of shape %v not supported", shape)
		}
		return tensor.New(tensor.WithShape(safeconv.Int64SliceToIntSlice(shape)...), tensor.WithBacking(bytesToBools(v.GetData()))), nil
	default:
		return nil, fmt.Errorf("output value type %T not supported", value)
	}
}

// denseFromORT copies data out of onnxruntime owned memory.
func denseFromORT[T any](shape ort.Shape, data []T) tensor.Tensor {
	return tensor.New(tensor.WithShape(safeconv.Int64SliceToIntSlice(shape)...), tensor.WithBacking(slices.Clone(data)))
}

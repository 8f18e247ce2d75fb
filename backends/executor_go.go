package backends

import (
	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// GoExecutor runs graphs with the pure Go gonnx runtime. It only has a CPU, so an
// accelerator being allowed has no effect.
type GoExecutor struct{}

func NewGoExecutor() *GoExecutor {
	return &GoExecutor{}
}

func (e *GoExecutor) Import(graph []byte, _ []string, outputNames []string, _ Device) (Session, error) {
	model, err := gonnx.NewModelFromBytes(graph)
	if err != nil {
		return nil, err
	}
	return &goSession{model: model, outputNames: outputNames}, nil
}

type goSession struct {
	model       *gonnx.Model
	outputNames []string
}

func (s *goSession) Run(feeds map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	all, err := s.model.Run(feeds)
	if err != nil {
		return nil, err
	}
	return selectOutputs(all, s.outputNames)
}

func (s *goSession) Destroy() error {
	s.model = nil
	return nil
}

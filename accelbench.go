package accelbench

import (
	"errors"

	"github.com/knights-analytics/accelbench/backends"
	"github.com/knights-analytics/accelbench/converter"
	"github.com/knights-analytics/accelbench/handlers"
	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/savedmodel"
)

// Session creates model handlers that share one backend and metadata loader, and holds
// the handlers that need to be destroyed.
type Session struct {
	options            *options.Options
	loader             *savedmodel.Loader
	executor           backends.Executor
	accelerated        []*handlers.AcceleratedHandler
	environmentDestroy func() error
}

// NewGoSession creates a session running models with the pure Go backend. Conversion is
// not available on it.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	for _, option := range opts {
		err := option(parsedOptions)
		if err != nil {
			return nil, err
		}
	}

	executor, err := backends.NewExecutor(parsedOptions)
	if err != nil {
		return nil, err
	}
	loader := savedmodel.DefaultLoader()
	if parsedOptions.MetadataCacheSize > 0 {
		loader = savedmodel.NewLoader(parsedOptions.MetadataCacheSize)
	}

	return &Session{
		options:  parsedOptions,
		loader:   loader,
		executor: executor,
		environmentDestroy: func() error {
			return nil
		},
	}, nil
}

// Loader returns the metadata loader shared by the session's handlers.
func (s *Session) Loader() *savedmodel.Loader {
	return s.loader
}

// DefaultRunOptions returns handlers.DefaultRunOptions seeded with the session seed.
func (s *Session) DefaultRunOptions() handlers.RunOptions {
	opts := handlers.DefaultRunOptions()
	opts.Seed = s.options.Seed
	return opts
}

func (s *Session) providers() []backends.Provider {
	if s.options.ORTOptions == nil || s.options.ORTOptions.CudaOptions == nil {
		return nil
	}
	return []backends.Provider{{Name: backends.CUDAProvider, Options: s.options.ORTOptions.CudaOptions}}
}

// NewStandardHandler returns a handler running the model at loc unconverted.
func (s *Session) NewStandardHandler(loc savedmodel.Location) *handlers.StandardHandler {
	return handlers.NewStandardHandler(loc, s.loader, s.executor, s.providers()...)
}

// NewAcceleratedHandler converts the model at loc with params and returns a handler
// running the converted model. The handler is destroyed with the session.
func (s *Session) NewAcceleratedHandler(params converter.Params, loc savedmodel.Location) (*handlers.AcceleratedHandler, error) {
	var userOptions map[string]string
	if s.options.ORTOptions != nil {
		userOptions = s.options.ORTOptions.TensorRTOptions
	}
	handler, err := handlers.NewAcceleratedHandler(params, loc, s.NewStandardHandler(loc), handlers.TensorRTStrategy{Options: s.options}, userOptions)
	if err != nil {
		return nil, err
	}
	s.accelerated = append(s.accelerated, handler)
	return handler, nil
}

// Destroy releases the conversion artifacts of every handler and the backend environment.
// A session should be destroyed when not needed any more, preferably with a defer() call.
func (s *Session) Destroy() error {
	var err error
	for _, handler := range s.accelerated {
		err = errors.Join(err, handler.Destroy())
	}
	s.accelerated = nil
	err = errors.Join(err, s.environmentDestroy())
	return err
}

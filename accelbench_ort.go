//go:build ORT || ALL

package accelbench

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/accelbench/options"
	"github.com/knights-analytics/accelbench/util/fileutil"
)

// NewORTSession creates a session running models with onnxruntime. Only one ORT session
// can be active at a time.
func NewORTSession(opts ...options.WithOption) (*Session, error) {
	if ort.IsInitialized() {
		return nil, errors.New("another session is currently active, and only one session can be active at one time")
	}
	session, err := newSession("ORT", opts...)
	if err != nil {
		return nil, err
	}

	if initialised, err := initialiseORT(session.options.ORTOptions); err != nil {
		if initialised {
			return nil, errors.Join(err, ort.DestroyEnvironment())
		}
		return nil, err
	}
	session.environmentDestroy = func() error {
		return ort.DestroyEnvironment()
	}
	return session, nil
}

func initialiseORT(o *options.OrtOptions) (bool, error) {
	// Set pre-initialisation options
	if o.LibraryPath != nil {
		ortPathExists, err := fileutil.FileExists(*o.LibraryPath)
		if err != nil {
			return false, err
		}
		if !ortPathExists {
			return false, fmt.Errorf("cannot find the ort library at: %s", *o.LibraryPath)
		}
		ort.SetSharedLibraryPath(*o.LibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return false, err
	}

	if o.Telemetry != nil && *o.Telemetry {
		if err := ort.EnableTelemetry(); err != nil {
			return true, err
		}
	} else {
		if err := ort.DisableTelemetry(); err != nil {
			return true, err
		}
	}
	return true, nil
}

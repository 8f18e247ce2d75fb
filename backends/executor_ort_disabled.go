//go:build !ORT && !ALL

package backends

import (
	"github.com/knights-analytics/accelbench/options"
)

func newORTExecutor(_ *options.Options) (Executor, error) {
	return nil, ErrBackendUnavailable
}

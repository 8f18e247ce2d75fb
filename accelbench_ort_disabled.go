//go:build !ORT && !ALL

package accelbench

import (
	"errors"

	"github.com/knights-analytics/accelbench/options"
)

func NewORTSession(_ ...options.WithOption) (*Session, error) {
	return nil, errors.New("to enable ORT, run `go build -tags ORT` or `go build -tags ALL`")
}

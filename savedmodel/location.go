package savedmodel

import (
	"fmt"
)

const (
	// ServingTag is the tag attached to the inference variant of a saved model.
	ServingTag = "serve"
	// DefaultSignatureKey names the signature used when none is requested.
	DefaultSignatureKey = "serving_default"
)

// DefaultTags returns the tag set selected when a location does not name one.
func DefaultTags() []string {
	return []string{ServingTag}
}

// Location identifies a saved model directory, the tagged variant inside it and the
// signature to serve.
type Location struct {
	Dir          string
	Tags         []string
	SignatureKey string
}

// NewLocation returns a location for dir with the default tags and signature key.
func NewLocation(dir string) Location {
	return Location{Dir: dir, Tags: DefaultTags(), SignatureKey: DefaultSignatureKey}
}

// WithDefaults fills in empty tags and signature key.
func (l Location) WithDefaults() Location {
	if len(l.Tags) == 0 {
		l.Tags = DefaultTags()
	}
	if l.SignatureKey == "" {
		l.SignatureKey = DefaultSignatureKey
	}
	return l
}

func (l Location) String() string {
	return fmt.Sprintf("Directory: %s; Tags: %v; Signature: %s", l.Dir, l.Tags, l.SignatureKey)
}

// cacheKey quotes every component so that distinct tag sets never share a key.
func (l Location) cacheKey() string {
	return fmt.Sprintf("%q %q %q", l.Dir, l.Tags, l.SignatureKey)
}

// Package delta computes, applies and reverses structural differences between JSON-like documents
package delta

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPathNotFound indicates a delta that references a path or key missing from its base
var ErrPathNotFound = errors.New("delta: path not found")

// LookupError reports where a patch could not find its target.
type LookupError struct {
	Path []string
	Key  string
}

func (e *LookupError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("delta: path %q not found", strings.Join(e.Path, "."))
	}
	return fmt.Sprintf("delta: key %q not found at %q", e.Key, strings.Join(e.Path, "."))
}

func (e *LookupError) Unwrap() error {
	return ErrPathNotFound
}

// Package version rebuilds earlier contents of a document from its stored deltas
package version

import "errors"

// ErrBeforeCreation indicates a point in time earlier than the document itself
var ErrBeforeCreation = errors.New("version: document did not exist yet")

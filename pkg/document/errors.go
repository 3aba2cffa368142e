// Package document keeps extracted records as versioned documents with a delta history
package document

import "errors"

var (
	// ErrNotFound indicates a uid with no stored document in the class
	ErrNotFound = errors.New("document: not found")

	// ErrExists indicates a create for a uid that is already stored
	ErrExists = errors.New("document: already exists")

	// ErrWrongClass indicates a document handed to a store of another class
	ErrWrongClass = errors.New("document: wrong class")

	// ErrInvalidPolicy indicates an unknown tracking policy name
	ErrInvalidPolicy = errors.New("document: invalid policy")
)

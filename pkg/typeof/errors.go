// ABOUTME: Errors reported by value conversion
// ABOUTME: ConversionError lists every pattern that was attempted

package typeof

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConversion is matched by every *ConversionError.
var ErrConversion = errors.New("typeof: conversion failed")

// ConversionError reports a raw value that none of a tag's patterns or layouts accepted.
type ConversionError struct {
	Tag      Tag
	Value    string
	Patterns []string
}

func (e *ConversionError) Error() string {
	if len(e.Patterns) == 0 {
		return fmt.Sprintf("typeof: cannot convert %q to %s", e.Value, e.Tag)
	}
	return fmt.Sprintf("typeof: cannot convert %q to %s (tried %s)",
		e.Value, e.Tag, strings.Join(e.Patterns, ", "))
}

func (e *ConversionError) Unwrap() error {
	return ErrConversion
}

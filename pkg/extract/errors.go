// Package extract walks rule trees over HTML sections and produces ordered records
package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorValue is stored under a rule's name when its evaluation fails.
const ErrorValue = "__error__"

var (
	// ErrEmptyDocument indicates there was no markup to parse
	ErrEmptyDocument = errors.New("extract: empty document")

	// ErrEmptyMatch indicates an expression that matched nothing
	ErrEmptyMatch = errors.New("extract: empty match")

	// ErrRefinementMismatch indicates a refinement pattern found nothing in a matched value
	ErrRefinementMismatch = errors.New("extract: refinement mismatch")

	// ErrEvaluation indicates an expression or converter failure
	ErrEvaluation = errors.New("extract: evaluation fault")
)

// MismatchError carries the pattern that failed and the text it was searched in.
type MismatchError struct {
	Patterns []string
	Value    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("extract: %q matches none of [%s]", e.Value, strings.Join(e.Patterns, ", "))
}

func (e *MismatchError) Unwrap() error {
	return ErrRefinementMismatch
}

// FaultKind classifies a recovered field failure.
type FaultKind uint8

const (
	EmptyMatch FaultKind = iota
	RefinementMismatch
	EvaluationFault
)

func (k FaultKind) String() string {
	switch k {
	case EmptyMatch:
		return "empty_match"
	case RefinementMismatch:
		return "refinement_mismatch"
	case EvaluationFault:
		return "evaluation_fault"
	}
	return "unknown"
}

// Fault records one rule that did not produce a regular value in one section.
type Fault struct {
	RuleID  string
	Rule    string
	Section int
	Kind    FaultKind
	Err     error
}

func (f Fault) Error() string {
	return fmt.Sprintf("section %d rule %q: %s: %v", f.Section, f.Rule, f.Kind, f.Err)
}

func (f Fault) Unwrap() error {
	return f.Err
}

func classify(err error) FaultKind {
	switch {
	case errors.Is(err, ErrRefinementMismatch):
		return RefinementMismatch
	case errors.Is(err, ErrEmptyMatch):
		return EmptyMatch
	}
	return EvaluationFault
}

// Package rule loads extraction rule trees from declarative configuration
package rule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a configuration document that fails schema validation
	ErrInvalidConfig = errors.New("rule: invalid config")

	// ErrUnknownFormat indicates a configuration file extension with no decoder
	ErrUnknownFormat = errors.New("rule: unknown config format")

	// ErrDuplicateRule indicates two rules sharing an id, or siblings sharing a name
	ErrDuplicateRule = errors.New("rule: duplicate rule")

	// ErrUnknownParent indicates a parent reference to an id that was never declared
	ErrUnknownParent = errors.New("rule: unknown parent")

	// ErrCycle indicates parent references that never reach a root
	ErrCycle = errors.New("rule: parent cycle")

	// ErrBadExpression indicates an XPath or regex that does not compile
	ErrBadExpression = errors.New("rule: bad expression")
)

// BuildError ties a tree-building failure to the rule that caused it.
type BuildError struct {
	ID   string
	Name string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("rule %q (%s): %v", e.Name, e.ID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

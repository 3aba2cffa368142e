// ABOUTME: Versioned document model with an explicit Clean/Dirty lifecycle
// ABOUTME: Tracking policies decide which delta operations a class keeps

package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nainya/leostore/pkg/delta"
)

// Policy selects the delta operations a class records.
type Policy uint8

const (
	// Persistent keeps fields that disappear from a source page.
	Persistent Policy = iota
	// Unsteady mirrors the source, removals included.
	Unsteady
)

// Kinds returns the operation kinds the policy tracks.
func (p Policy) Kinds() []delta.Kind {
	if p == Unsteady {
		return []delta.Kind{delta.Change, delta.Add, delta.Remove}
	}
	return []delta.Kind{delta.Change, delta.Add}
}

func (p Policy) String() string {
	if p == Unsteady {
		return "unsteady"
	}
	return "persistent"
}

// ParsePolicy accepts "persistent" or "unsteady", case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "persistent":
		return Persistent, nil
	case "unsteady":
		return Unsteady, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// Class groups documents that share a uid namespace and a tracking policy.
type Class struct {
	Name   string
	Policy Policy

	// Mapping projects dot.separated content paths onto named columns for FindBy.
	Mapping map[string]string
}

// State is the lifecycle state of a loaded document.
type State uint8

const (
	Clean State = iota
	Dirty
)

func (s State) String() string {
	if s == Dirty {
		return "dirty"
	}
	return "clean"
}

// Document is one stored record and its bookkeeping.
type Document struct {
	UID      string
	Class    string
	Content  map[string]any
	Created  time.Time
	Modified time.Time
	Deltas   int // number of stored deltas

	policy Policy
	state  State
	prior  map[string]any
}

// State reports whether the document has unsaved content.
func (d *Document) State() State {
	return d.state
}

// Policy returns the tracking policy of the document's class.
func (d *Document) Policy() Policy {
	return d.policy
}

// Assign replaces the content. The content stored before the first
// assignment is kept as the base for the next delta.
func (d *Document) Assign(content map[string]any) error {
	norm, err := normalize(content)
	if err != nil {
		return err
	}
	if d.state == Clean {
		d.prior = d.Content
		d.state = Dirty
	}
	d.Content = norm
	return nil
}

// Pending returns the policy-filtered delta that Save would record.
func (d *Document) Pending() delta.Delta {
	if d.state != Dirty {
		return nil
	}
	return delta.Filter(delta.Diff(d.prior, d.Content), d.policy.Kinds()...)
}

// Entry is one persisted delta.
type Entry struct {
	Seq     uint64      `json:"seq"`
	Created time.Time   `json:"created"`
	Delta   delta.Delta `json:"delta"`
}

// record is the stored form of a document.
type record struct {
	Content  map[string]any `json:"content"`
	Created  time.Time      `json:"created"`
	Modified time.Time      `json:"modified"`
	Deltas   int            `json:"deltas"`
}

// normalize round-trips content through JSON so fresh and stored values compare equal.
func normalize(content map[string]any) (map[string]any, error) {
	if content == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("normalize content: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize content: %w", err)
	}
	return out, nil
}

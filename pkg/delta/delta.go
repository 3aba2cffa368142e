// ABOUTME: Structural diff of nested maps and lists into change/add/remove operations
// ABOUTME: Operations follow the dictdiffer layout so deltas stay readable when stored

package delta

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Kind is the type of a delta operation.
type Kind string

const (
	Change Kind = "change"
	Add    Kind = "add"
	Remove Kind = "remove"
)

// Item is one key/value pair carried by an add or remove operation.
// For lists the key is the decimal index.
type Item struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Op is a single structural operation. Change uses Old and New; Add and Remove use Items.
type Op struct {
	Kind  Kind     `json:"op"`
	Path  []string `json:"path"`
	Old   any      `json:"old,omitempty"`
	New   any      `json:"new,omitempty"`
	Items []Item   `json:"items,omitempty"`
}

func (o Op) String() string {
	path := strings.Join(o.Path, ".")
	switch o.Kind {
	case Change:
		return fmt.Sprintf("change %s: %v -> %v", path, o.Old, o.New)
	default:
		keys := make([]string, len(o.Items))
		for i, it := range o.Items {
			keys[i] = it.Key
		}
		return fmt.Sprintf("%s %s: [%s]", o.Kind, path, strings.Join(keys, ", "))
	}
}

// Delta is an ordered list of operations.
type Delta []Op

// Empty reports whether the delta has no operations.
func (d Delta) Empty() bool { return len(d) == 0 }

// Diff returns the operations that turn old into new.
func Diff(old, new map[string]any) Delta {
	var d Delta
	diffValue(&d, nil, old, new)
	return d
}

func diffValue(d *Delta, path []string, a, b any) {
	switch av := a.(type) {
	case map[string]any:
		if bv, ok := b.(map[string]any); ok {
			diffMap(d, path, av, bv)
			return
		}
	case []any:
		if bv, ok := b.([]any); ok {
			diffList(d, path, av, bv)
			return
		}
	}
	if !reflect.DeepEqual(a, b) {
		*d = append(*d, Op{Kind: Change, Path: clonePath(path), Old: a, New: b})
	}
}

func diffMap(d *Delta, path []string, a, b map[string]any) {
	var common, added, removed []string
	for k := range a {
		if _, ok := b[k]; ok {
			common = append(common, k)
		} else {
			removed = append(removed, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			added = append(added, k)
		}
	}
	sort.Strings(common)
	sort.Strings(added)
	sort.Strings(removed)

	for _, k := range common {
		diffValue(d, append(path, k), a[k], b[k])
	}
	if len(added) > 0 {
		items := make([]Item, len(added))
		for i, k := range added {
			items[i] = Item{Key: k, Value: b[k]}
		}
		*d = append(*d, Op{Kind: Add, Path: clonePath(path), Items: items})
	}
	if len(removed) > 0 {
		items := make([]Item, len(removed))
		for i, k := range removed {
			items[i] = Item{Key: k, Value: a[k]}
		}
		*d = append(*d, Op{Kind: Remove, Path: clonePath(path), Items: items})
	}
}

func diffList(d *Delta, path []string, a, b []any) {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		diffValue(d, append(path, strconv.Itoa(i)), a[i], b[i])
	}
	if len(b) > n {
		items := make([]Item, 0, len(b)-n)
		for i := n; i < len(b); i++ {
			items = append(items, Item{Key: strconv.Itoa(i), Value: b[i]})
		}
		*d = append(*d, Op{Kind: Add, Path: clonePath(path), Items: items})
	}
	if len(a) > n {
		// Highest index first so removals never shift the indices still to remove.
		items := make([]Item, 0, len(a)-n)
		for i := len(a) - 1; i >= n; i-- {
			items = append(items, Item{Key: strconv.Itoa(i), Value: a[i]})
		}
		*d = append(*d, Op{Kind: Remove, Path: clonePath(path), Items: items})
	}
}

// Filter keeps only operations of the given kinds.
func Filter(d Delta, kinds ...Kind) Delta {
	var out Delta
	for _, op := range d {
		if slices.Contains(kinds, op.Kind) {
			out = append(out, op)
		}
	}
	return out
}

// Swap inverts a delta: operations run in reverse order, adds become removes
// and changes exchange their old and new values.
func Swap(d Delta) Delta {
	out := make(Delta, 0, len(d))
	for i := len(d) - 1; i >= 0; i-- {
		op := d[i]
		switch op.Kind {
		case Add:
			op.Kind = Remove
		case Remove:
			op.Kind = Add
		case Change:
			op.Old, op.New = op.New, op.Old
		}
		out = append(out, op)
	}
	return out
}

func clonePath(p []string) []string {
	if len(p) == 0 {
		return []string{}
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}

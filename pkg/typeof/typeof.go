// ABOUTME: Closed set of value types a rule can declare
// ABOUTME: Tags parse from configuration names and select a converter

package typeof

import "strings"

// Tag identifies the converter applied to a rule's raw match.
type Tag uint8

const (
	// Passthrough returns values unchanged. Unknown configuration names parse to it.
	Passthrough Tag = iota
	Container
	Currency
	Date
	Datetime
	Duration
	Float
	Integer
	String
	Time
)

var tagNames = [...]string{
	Passthrough: "passthrough",
	Container:   "container",
	Currency:    "currency",
	Date:        "date",
	Datetime:    "datetime",
	Duration:    "duration",
	Float:       "float",
	Integer:     "integer",
	String:      "string",
	Time:        "time",
}

// Lookup resolves a configuration name to a tag.
// The second result is false when the name is not a known tag.
func Lookup(name string) (Tag, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for tag, n := range tagNames {
		if n == name {
			return Tag(tag), true
		}
	}
	return Passthrough, false
}

// Parse is Lookup without the found flag.
func Parse(name string) Tag {
	tag, _ := Lookup(name)
	return tag
}

// Names lists every tag name in declaration order.
func Names() []string {
	out := make([]string, len(tagNames))
	copy(out, tagNames[:])
	return out
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return tagNames[Passthrough]
}

// Terminal reports whether converted values of this tag are leaves rather than sub-trees.
func (t Tag) Terminal() bool {
	return t != Container && t != Passthrough
}

// MarshalText implements encoding.TextMarshaler.
func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names become Passthrough.
func (t *Tag) UnmarshalText(b []byte) error {
	*t = Parse(string(b))
	return nil
}

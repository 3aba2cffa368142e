package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Result holds one record per identity, in the order identities were first seen.
type Result struct {
	Keys    []string
	Records map[string]*Record
	Faults  []Fault
}

func newResult() *Result {
	return &Result{Records: make(map[string]*Record)}
}

func (r *Result) add(id string, rec *Record) {
	if _, ok := r.Records[id]; !ok {
		r.Keys = append(r.Keys, id)
	}
	r.Records[id] = rec
}

func (r *Result) Len() int { return len(r.Keys) }

// Each calls fn for every record in order.
func (r *Result) Each(fn func(id string, rec *Record) error) error {
	for _, id := range r.Keys {
		if err := fn(id, r.Records[id]); err != nil {
			return err
		}
	}
	return nil
}

// JSON renders identity -> record as an ordered JSON object.
func (r *Result) JSON(pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(id)
		buf.Write(kb)
		buf.WriteByte(':')
		rb, err := json.Marshal(r.Records[id])
		if err != nil {
			return nil, fmt.Errorf("marshal record %q: %w", id, err)
		}
		buf.Write(rb)
	}
	buf.WriteByte('}')
	if !pretty {
		return buf.Bytes(), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Text renders every record as "field= value" lines followed by a separator.
func (r *Result) Text() string {
	var b strings.Builder
	for _, id := range r.Keys {
		rec := r.Records[id]
		for _, k := range rec.keys {
			fmt.Fprintf(&b, "%s= %s\n", k, textValue(rec.values[k]))
		}
		b.WriteString(strings.Repeat("=", 20))
		b.WriteByte('\n')
	}
	return b.String()
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case *Record:
		b, err := json.Marshal(t)
		if err != nil {
			return err.Error()
		}
		return string(b)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

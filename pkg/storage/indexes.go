// ABOUTME: Secondary index entries stored alongside primary records
// ABOUTME: An entry key is prefix | indexed values | primary key values, with a marker value

package storage

import (
	"fmt"
)

var indexMarker = []byte{1}

// IndexDef defines a secondary index
type IndexDef struct {
	Name   string // Index name, for errors and logs
	Prefix uint32 // Unique prefix for this index
}

// Put adds the entry mapping cols to primary.
func (d IndexDef) Put(tx Tx, cols, primary []Value) error {
	if err := tx.Set(d.key(cols, primary), indexMarker); err != nil {
		return fmt.Errorf("index %s: %w", d.Name, err)
	}
	return nil
}

// Drop removes the entry mapping cols to primary, if present.
func (d IndexDef) Drop(tx Tx, cols, primary []Value) error {
	if _, err := tx.Del(d.key(cols, primary)); err != nil {
		return fmt.Errorf("index %s: %w", d.Name, err)
	}
	return nil
}

// Lookup returns the primary keys of every entry whose indexed values start with cols.
func (d IndexDef) Lookup(r Reader, cols []Value) ([][]Value, error) {
	var out [][]Value
	var decodeErr error
	err := ScanPrefix(r, EncodeKey(d.Prefix, cols...), func(key, _ []byte) bool {
		vals, err := ExtractValues(key)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, vals[len(cols):])
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", d.Name, err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("index %s: decode: %w", d.Name, decodeErr)
	}
	return out, nil
}

func (d IndexDef) key(cols, primary []Value) []byte {
	vals := make([]Value, 0, len(cols)+len(primary))
	vals = append(vals, cols...)
	vals = append(vals, primary...)
	return EncodeKey(d.Prefix, vals...)
}

// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Keys sort bytewise in the same order as their typed values

package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_INT64  = 2
	TYPE_UINT64 = 3
	TYPE_TIME   = 4 // Stored as int64 Unix nanoseconds
)

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

func (v Value) String() string {
	switch v.Type {
	case TYPE_BYTES:
		return string(v.Str)
	case TYPE_INT64:
		return fmt.Sprint(v.I64)
	case TYPE_UINT64:
		return fmt.Sprint(v.U64)
	case TYPE_TIME:
		return v.Time.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("<type %d>", v.Type)
}

// EncodeValues encodes multiple values in order-preserving format.
// Each value is prefixed with its type tag.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_INT64:
			// Flip sign bit for proper ordering
			out = binary.BigEndian.AppendUint64(out, uint64(v.I64)+(1<<63))

		case TYPE_UINT64:
			out = binary.BigEndian.AppendUint64(out, v.U64)

		case TYPE_TIME:
			out = binary.BigEndian.AppendUint64(out, uint64(v.Time.UnixNano())+(1<<63))

		case TYPE_BYTES:
			out = appendEscaped(out, v.Str)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// appendEscaped writes s so that 0x00 only ever appears as a terminator:
// 0x00 becomes 0x01 0x01 and 0x01 becomes 0x01 0x02, which keeps byte order.
func appendEscaped(out, s []byte) []byte {
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescape(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			out = append(out, s[i+1]-1)
			i++
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64, TYPE_UINT64, TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete value of type %d at pos %d", typ, pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
			switch typ {
			case TYPE_INT64:
				vals = append(vals, NewInt64Value(int64(u-(1<<63))))
			case TYPE_UINT64:
				vals = append(vals, NewUint64Value(u))
			default:
				vals = append(vals, NewTimeValue(time.Unix(0, int64(u-(1<<63))).UTC()))
			}

		case TYPE_BYTES:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(unescape(data[pos:end])))
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals ...Value) []byte {
	out := binary.BigEndian.AppendUint32(make([]byte, 0, 4+16*len(vals)), prefix)
	return append(out, EncodeValues(vals)...)
}

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}

// Successor returns the smallest key greater than every key starting with prefix.
// It returns nil when no such key exists (prefix is all 0xFF).
func Successor(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

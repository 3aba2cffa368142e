// ABOUTME: Ordered key-value store contract shared by the memory and SQLite backends
// ABOUTME: Writes go through single-writer transactions that commit atomically

package storage

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrClosed indicates an operation on a closed store
	ErrClosed = errors.New("storage: closed")

	// ErrTxDone indicates use of a committed or aborted transaction
	ErrTxDone = errors.New("storage: transaction already finished")
)

// ScanFunc receives entries in ascending key order. Returning false stops the scan.
type ScanFunc func(key, val []byte) bool

// Reader is the read side shared by transactions and bound stores.
type Reader interface {
	Get(key []byte) ([]byte, bool, error)
	Scan(start []byte, fn ScanFunc) error
}

// Tx is a read-write transaction. Exactly one of Commit or Abort must be called.
type Tx interface {
	Reader
	Set(key, val []byte) error
	Del(key []byte) (bool, error)
	Commit() error
	Abort()
}

// KV is an ordered byte-key store.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Scan(ctx context.Context, start []byte, fn ScanFunc) error
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

type boundReader struct {
	ctx context.Context
	kv  KV
}

// Bind adapts a store to the Reader interface for one context.
func Bind(ctx context.Context, kv KV) Reader {
	return boundReader{ctx: ctx, kv: kv}
}

func (b boundReader) Get(key []byte) ([]byte, bool, error) {
	return b.kv.Get(b.ctx, key)
}

func (b boundReader) Scan(start []byte, fn ScanFunc) error {
	return b.kv.Scan(b.ctx, start, fn)
}

// ScanPrefix visits every entry whose key starts with prefix.
func ScanPrefix(r Reader, prefix []byte, fn ScanFunc) error {
	return r.Scan(prefix, func(key, val []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		return fn(key, val)
	})
}


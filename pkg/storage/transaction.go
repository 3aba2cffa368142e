// ABOUTME: Transaction support for atomic multi-key operations
// ABOUTME: Memory transactions write to a private copy that replaces the store on commit

package storage

import (
	"bytes"
	"slices"
)

// memTx is a copy-on-write transaction over a MemoryKV.
type memTx struct {
	db      *MemoryKV
	entries []entry
	done    bool
}

// Get retrieves a value within the transaction, including its own uncommitted writes
func (tx *memTx) Get(key []byte) ([]byte, bool, error) {
	if tx.done {
		return nil, false, ErrTxDone
	}
	v, ok := get(tx.entries, key)
	return v, ok, nil
}

// Set inserts or updates a key-value pair within the transaction
func (tx *memTx) Set(key, val []byte) error {
	if tx.done {
		return ErrTxDone
	}
	e := entry{key: bytes.Clone(key), val: bytes.Clone(val)}
	i := search(tx.entries, key)
	if i < len(tx.entries) && bytes.Equal(tx.entries[i].key, key) {
		tx.entries[i] = e
		return nil
	}
	tx.entries = slices.Insert(tx.entries, i, e)
	return nil
}

// Del deletes a key within the transaction
func (tx *memTx) Del(key []byte) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	i := search(tx.entries, key)
	if i < len(tx.entries) && bytes.Equal(tx.entries[i].key, key) {
		tx.entries = slices.Delete(tx.entries, i, i+1)
		return true, nil
	}
	return false, nil
}

// Scan performs a range scan within the transaction
func (tx *memTx) Scan(start []byte, fn ScanFunc) error {
	if tx.done {
		return ErrTxDone
	}
	for i := search(tx.entries, start); i < len(tx.entries); i++ {
		if !fn(bytes.Clone(tx.entries[i].key), bytes.Clone(tx.entries[i].val)) {
			break
		}
	}
	return nil
}

// Commit publishes the transaction's entries atomically
func (tx *memTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	defer func() { tx.db.writer <- struct{}{} }()
	return tx.db.publish(tx.entries)
}

// Abort discards the transaction's writes
func (tx *memTx) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	tx.entries = nil
	tx.db.writer <- struct{}{}
}

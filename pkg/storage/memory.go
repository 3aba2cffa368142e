// ABOUTME: In-memory ordered KV backend for tests and dry runs
// ABOUTME: Entries live in a sorted slice that transactions replace wholesale on commit

package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

type entry struct {
	key []byte
	val []byte
}

// MemoryKV keeps entries sorted by key. Published slices are never modified,
// so readers only need the lock long enough to grab the current one.
type MemoryKV struct {
	mu      sync.RWMutex
	entries []entry
	closed  bool

	// Holds one token; a transaction owns it from Begin until Commit or Abort.
	writer chan struct{}
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	db := &MemoryKV{writer: make(chan struct{}, 1)}
	db.writer <- struct{}{}
	return db
}

func (db *MemoryKV) snapshot() ([]entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.entries, nil
}

// Get retrieves a copy of the value stored under key.
func (db *MemoryKV) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	entries, err := db.snapshot()
	if err != nil {
		return nil, false, err
	}
	v, ok := get(entries, key)
	return v, ok, nil
}

// Scan visits entries with key >= start in ascending order.
func (db *MemoryKV) Scan(ctx context.Context, start []byte, fn ScanFunc) error {
	entries, err := db.snapshot()
	if err != nil {
		return err
	}
	for i := search(entries, start); i < len(entries); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(bytes.Clone(entries[i].key), bytes.Clone(entries[i].val)) {
			break
		}
	}
	return nil
}

// Begin waits for any running transaction to finish and starts a new one.
func (db *MemoryKV) Begin(ctx context.Context) (Tx, error) {
	select {
	case <-db.writer:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	entries, err := db.snapshot()
	if err != nil {
		db.writer <- struct{}{}
		return nil, err
	}
	return &memTx{db: db, entries: append([]entry(nil), entries...)}, nil
}

// Len reports the number of committed entries.
func (db *MemoryKV) Len() int {
	entries, _ := db.snapshot()
	return len(entries)
}

// Close drops all entries. Later calls fail with ErrClosed.
func (db *MemoryKV) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.entries = nil
	return nil
}

func (db *MemoryKV) publish(entries []entry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.entries = entries
	return nil
}

func search(entries []entry, key []byte) int {
	return sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].key, key) >= 0
	})
}

func get(entries []entry, key []byte) ([]byte, bool) {
	i := search(entries, key)
	if i < len(entries) && bytes.Equal(entries[i].key, key) {
		return bytes.Clone(entries[i].val), true
	}
	return nil, false
}

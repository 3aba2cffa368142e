// ABOUTME: Behavioural tests run against every KV backend
// ABOUTME: Covers basic operations, ordering, persistence and closed stores

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

type backend struct {
	name string
	open func(t *testing.T) KV
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) KV { return NewMemoryKV() }},
		{"sqlite", func(t *testing.T) KV {
			db, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			if err != nil {
				t.Fatalf("Failed to open database: %v", err)
			}
			return db
		}},
	}
}

func mustSet(t *testing.T, db KV, pairs ...string) {
	t.Helper()
	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := tx.Set([]byte(pairs[i]), []byte(pairs[i+1])); err != nil {
			tx.Abort()
			t.Fatalf("Failed to set %s: %v", pairs[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
}

func TestKVBasicOperations(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			db := b.open(t)
			defer db.Close()

			mustSet(t, db, "key1", "value1", "key2", "value2")

			val, ok, err := db.Get(ctx, []byte("key1"))
			if err != nil || !ok {
				t.Fatalf("key1 not found: %v", err)
			}
			if string(val) != "value1" {
				t.Errorf("Expected value1, got %s", val)
			}

			mustSet(t, db, "key1", "updated")
			val, _, _ = db.Get(ctx, []byte("key1"))
			if string(val) != "updated" {
				t.Errorf("Expected updated, got %s", val)
			}

			_, ok, err = db.Get(ctx, []byte("missing"))
			if err != nil || ok {
				t.Errorf("Expected missing key, got ok=%v err=%v", ok, err)
			}

			tx, err := db.Begin(ctx)
			if err != nil {
				t.Fatalf("Failed to begin: %v", err)
			}
			deleted, err := tx.Del([]byte("key2"))
			if err != nil || !deleted {
				t.Fatalf("Expected key2 deleted, got %v %v", deleted, err)
			}
			deleted, _ = tx.Del([]byte("key2"))
			if deleted {
				t.Error("Second delete reported success")
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("Failed to commit: %v", err)
			}
			if _, ok, _ := db.Get(ctx, []byte("key2")); ok {
				t.Error("key2 still present after delete")
			}
		})
	}
}

func TestKVScanOrder(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			db := b.open(t)
			defer db.Close()

			// Enough keys to cross a scan page boundary.
			var pairs []string
			for i := 599; i >= 0; i-- {
				pairs = append(pairs, fmt.Sprintf("k%04d", i), fmt.Sprint(i))
			}
			mustSet(t, db, pairs...)

			var keys []string
			err := db.Scan(ctx, []byte("k0100"), func(key, val []byte) bool {
				keys = append(keys, string(key))
				return true
			})
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if len(keys) != 500 {
				t.Fatalf("Expected 500 keys, got %d", len(keys))
			}
			for i, k := range keys {
				if want := fmt.Sprintf("k%04d", i+100); k != want {
					t.Fatalf("Position %d: expected %s, got %s", i, want, k)
				}
			}

			count := 0
			_ = db.Scan(ctx, nil, func(key, val []byte) bool {
				count++
				return count < 3
			})
			if count != 3 {
				t.Errorf("Expected scan to stop after 3, got %d", count)
			}
		})
	}
}

func TestKVScanPrefix(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			db := b.open(t)
			defer db.Close()

			mustSet(t, db, "a/1", "x", "b/1", "y", "b/2", "z", "c/1", "w")

			var got []string
			err := ScanPrefix(Bind(ctx, db), []byte("b/"), func(key, val []byte) bool {
				got = append(got, string(val))
				return true
			})
			if err != nil {
				t.Fatalf("ScanPrefix failed: %v", err)
			}
			if fmt.Sprint(got) != "[y z]" {
				t.Errorf("Expected [y z], got %v", got)
			}
		})
	}
}

func TestKVPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	{
		db, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		mustSet(t, db, "persist", "yes")
		db.Close()
	}

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	val, ok, err := db.Get(ctx, []byte("persist"))
	if err != nil || !ok {
		t.Fatalf("Key lost after reopen: %v", err)
	}
	if string(val) != "yes" {
		t.Errorf("Expected yes, got %s", val)
	}
}

func TestMemoryKVClosed(t *testing.T) {
	db := NewMemoryKV()
	mustSet(t, db, "k", "v")
	if db.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", db.Len())
	}
	db.Close()

	if _, _, err := db.Get(context.Background(), []byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := db.Begin(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

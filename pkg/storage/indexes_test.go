// ABOUTME: Tests for secondary index entries
// ABOUTME: Verifies put, lookup by indexed values and drop

package storage

import (
	"context"
	"testing"
)

func TestIndexPutLookupDrop(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			db := b.open(t)
			defer db.Close()

			idx := IndexDef{Name: "by_city", Prefix: 9000}
			city := func(s string) []Value { return []Value{NewStringValue("events"), NewStringValue(s)} }
			uid := func(s string) []Value { return []Value{NewStringValue(s)} }

			tx, err := db.Begin(ctx)
			if err != nil {
				t.Fatalf("Failed to begin: %v", err)
			}
			for _, e := range []struct{ city, uid string }{
				{"Moscow", "1"}, {"Moscow", "2"}, {"Moscow West", "3"}, {"Kazan", "4"},
			} {
				if err := idx.Put(tx, city(e.city), uid(e.uid)); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("Failed to commit: %v", err)
			}

			got, err := idx.Lookup(Bind(ctx, db), city("Moscow"))
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if len(got) != 2 || got[0][0].String() != "1" || got[1][0].String() != "2" {
				t.Fatalf("Expected uids [1 2], got %v", got)
			}

			tx, _ = db.Begin(ctx)
			if err := idx.Drop(tx, city("Moscow"), uid("1")); err != nil {
				t.Fatalf("Drop failed: %v", err)
			}
			got, err = idx.Lookup(tx, city("Moscow"))
			if err != nil {
				t.Fatalf("Lookup in tx failed: %v", err)
			}
			tx.Commit()
			if len(got) != 1 || got[0][0].String() != "2" {
				t.Errorf("Expected uid [2] after drop, got %v", got)
			}
		})
	}
}

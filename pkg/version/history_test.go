package version

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/leostore/pkg/delta"
	"github.com/nainya/leostore/pkg/document"
	"github.com/nainya/leostore/pkg/storage"
)

var start = time.Date(2018, 7, 19, 18, 0, 0, 0, time.UTC)

// seed stores three versions of one document, a day apart.
func seed(t *testing.T) (*document.Store, *document.Document, func() time.Time) {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	t.Cleanup(func() { kv.Close() })

	now := start
	clock := func() time.Time { return now }
	store := document.NewStore(kv, document.Class{Name: "masterclass", Policy: document.Unsteady}, document.WithClock(clock))

	versions := []map[string]any{
		{"uid": "1", "title": "Pasta"},
		{"uid": "1", "title": "Pasta", "price": "1500"},
		{"uid": "1", "title": "Pizza", "price": "1500"},
	}
	var doc *document.Document
	for i, v := range versions {
		now = start.Add(time.Duration(i) * 24 * time.Hour)
		var err error
		doc, _, _, err = store.UpsertByIdentity(ctx, "uid", v)
		require.NoError(t, err)
	}
	return store, doc, func() time.Time { return start.Add(2*24*time.Hour + time.Hour) }
}

func TestHistoryUnbounded(t *testing.T) {
	store, doc, _ := seed(t)
	r := New(store)

	history, err := r.History(context.Background(), doc, Query{Limit: -1})
	require.NoError(t, err)
	require.Len(t, history, doc.Deltas+1)

	assert.Equal(t, doc.Content, history[0].Content)
	assert.Equal(t, 2, history[0].Version)
	assert.True(t, history[0].Superseded.IsZero())
	assert.Equal(t, map[string]any{"title": "Pasta", "price": "1500"}, history[1].Content)
	assert.Equal(t, map[string]any{"title": "Pasta"}, history[2].Content)
	assert.Equal(t, start.Add(24*time.Hour), history[2].Superseded)
}

func TestHistoryLimit(t *testing.T) {
	store, doc, _ := seed(t)
	r := New(store)

	history, err := r.History(context.Background(), doc, Query{Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = r.History(context.Background(), doc, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Pasta", history[1].Content["title"])

	history, err = r.History(context.Background(), doc, Query{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestHistorySince(t *testing.T) {
	store, doc, _ := seed(t)
	r := New(store)

	since := start.Add(36 * time.Hour)
	history, err := r.History(context.Background(), doc, Query{Limit: -1, Since: &since})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, map[string]any{"title": "Pasta", "price": "1500"}, history[1].Content)
}

func TestHistoryWindow(t *testing.T) {
	store, doc, now := seed(t)

	// Day is exactly 24h: only the last delta falls inside.
	day, err := New(store, WithClock(now)).Window(context.Background(), doc, Day)
	require.NoError(t, err)
	assert.Len(t, day, 2)

	week, err := New(store, WithClock(now)).Window(context.Background(), doc, Week)
	require.NoError(t, err)
	assert.Len(t, week, 3)
}

func TestAsOf(t *testing.T) {
	store, doc, _ := seed(t)
	r := New(store)
	ctx := context.Background()

	content, err := r.AsOf(ctx, doc, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Pasta"}, content)

	content, err = r.AsOf(ctx, doc, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Pasta", "price": "1500"}, content)

	content, err = r.AsOf(ctx, doc, start.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, doc.Content, content)

	_, err = r.AsOf(ctx, doc, start.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrBeforeCreation)
}

type brokenSource struct{}

func (brokenSource) Deltas(context.Context, string) ([]document.Entry, error) {
	return []document.Entry{{
		Seq:     1,
		Created: start,
		Delta:   delta.Delta{{Kind: delta.Change, Path: []string{"missing"}, Old: "a", New: "b"}},
	}}, nil
}

func TestHistoryRevertFault(t *testing.T) {
	doc := &document.Document{UID: "1", Content: map[string]any{"title": "x"}, Created: start}
	_, err := New(brokenSource{}).History(context.Background(), doc, Query{Limit: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, delta.ErrPathNotFound)

	var lookup *delta.LookupError
	assert.True(t, errors.As(err, &lookup))
}

// ABOUTME: History reconstruction by reverting stored deltas newest first
// ABOUTME: Supports limits, time windows and point-in-time lookups

package version

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/leostore/pkg/delta"
	"github.com/nainya/leostore/pkg/document"
)

// Source provides the stored deltas of a document, oldest first.
type Source interface {
	Deltas(ctx context.Context, uid string) ([]document.Entry, error)
}

// Snapshot is one reconstructed content.
type Snapshot struct {
	Version    int            `json:"version"`              // number of deltas applied since creation
	Content    map[string]any `json:"content"`
	Superseded time.Time      `json:"superseded,omitzero"` // when the next version replaced it; zero for the current one
}

// Query bounds a history request. A negative Limit means unbounded.
// Since, when set, skips deltas created before it.
type Query struct {
	Limit int
	Since *time.Time
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithClock overrides the time source used for windows.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Reconstructor) { r.log = log }
}

// Reconstructor answers history queries for documents of one source.
type Reconstructor struct {
	src Source
	now func() time.Time
	log zerolog.Logger
}

// New creates a Reconstructor reading deltas from src.
func New(src Source, opts ...Option) *Reconstructor {
	r := &Reconstructor{src: src, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// History returns snapshots newest first. Element 0 is the current content.
func (r *Reconstructor) History(ctx context.Context, doc *document.Document, q Query) ([]Snapshot, error) {
	if q.Limit == 0 {
		return []Snapshot{}, nil
	}
	entries, err := r.src.Deltas(ctx, doc.UID)
	if err != nil {
		return nil, err
	}

	current := doc.Content
	history := []Snapshot{{Version: len(entries), Content: current}}
	for i := len(entries) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(history) >= q.Limit {
			break
		}
		e := entries[i]
		if q.Since != nil && e.Created.Before(*q.Since) {
			break
		}
		prev, err := delta.Revert(e.Delta, current)
		if err != nil {
			return nil, fmt.Errorf("history %s: revert delta %d: %w", doc.UID, e.Seq, err)
		}
		history = append(history, Snapshot{Version: i, Content: prev, Superseded: e.Created})
		current = prev
	}

	r.log.Debug().Str("uid", doc.UID).Int("snapshots", len(history)).Msg("Built history")
	return history, nil
}

// Window returns the snapshots whose deltas fall inside w, ending now.
func (r *Reconstructor) Window(ctx context.Context, doc *document.Document, w Window) ([]Snapshot, error) {
	since := w.Start(r.now())
	return r.History(ctx, doc, Query{Limit: -1, Since: &since})
}

// AsOf returns the content as it was at t.
func (r *Reconstructor) AsOf(ctx context.Context, doc *document.Document, t time.Time) (map[string]any, error) {
	if t.Before(doc.Created) {
		return nil, fmt.Errorf("as of %s: %w", t.Format(time.RFC3339), ErrBeforeCreation)
	}
	entries, err := r.src.Deltas(ctx, doc.UID)
	if err != nil {
		return nil, err
	}

	current := doc.Content
	for i := len(entries) - 1; i >= 0 && entries[i].Created.After(t); i-- {
		current, err = delta.Revert(entries[i].Delta, current)
		if err != nil {
			return nil, fmt.Errorf("as of %s: revert delta %d: %w", t.Format(time.RFC3339), entries[i].Seq, err)
		}
	}
	return current, nil
}

// ABOUTME: Ingest service joining extraction to the versioned document store
// ABOUTME: Every page section becomes an upsert keyed by the parser identity field

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nainya/leostore/internal/logger"
	"github.com/nainya/leostore/internal/metrics"
	"github.com/nainya/leostore/pkg/delta"
	"github.com/nainya/leostore/pkg/document"
	"github.com/nainya/leostore/pkg/extract"
	"github.com/nainya/leostore/pkg/storage"
	"github.com/nainya/leostore/pkg/version"
)

// ErrUnknownClass indicates a request for a class the service was not configured with
var ErrUnknownClass = errors.New("service: unknown class")

// ErrNoParser indicates an ingest on a service built without an extraction engine
var ErrNoParser = errors.New("service: no parser configured")

// Outcome is the result of one upsert.
type Outcome struct {
	UID   string      `json:"uid"`
	New   bool        `json:"new"`
	Delta delta.Delta `json:"delta,omitempty"`
}

// Status names the outcome for logs and metrics.
func (o Outcome) Status() string {
	switch {
	case o.New:
		return "new"
	case o.Delta.Empty():
		return "unchanged"
	}
	return "updated"
}

// Report describes one ingested page.
type Report struct {
	Result   *extract.Result
	Outcomes []Outcome
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records service activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the store and history time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns one store per document class over a shared KV.
type Service struct {
	engine  *extract.Engine
	stores  map[string]*document.Store
	history map[string]*version.Reconstructor
	def     string

	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// New builds a service. The first class is the default; engine may be nil for store-only use.
func New(kv storage.KV, engine *extract.Engine, classes []document.Class, opts ...Option) (*Service, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("service: at least one class is required")
	}
	s := &Service{
		engine:  engine,
		stores:  make(map[string]*document.Store, len(classes)),
		history: make(map[string]*version.Reconstructor, len(classes)),
		def:     classes[0].Name,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range classes {
		if _, dup := s.stores[c.Name]; dup {
			return nil, fmt.Errorf("service: duplicate class %q", c.Name)
		}
		store := document.NewStore(kv, c,
			document.WithClock(s.now),
			document.WithLogger(s.log.Component("document")),
		)
		s.stores[c.Name] = store
		s.history[c.Name] = version.New(store,
			version.WithClock(s.now),
			version.WithLogger(s.log.Component("version")),
		)
	}
	return s, nil
}

// Classes returns the configured class names, default first.
func (s *Service) Classes() []string {
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		if name != s.def {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{s.def}, names...)
}

// Store returns the store for class, or the default store when class is empty.
func (s *Service) Store(class string) (*document.Store, error) {
	if class == "" {
		class = s.def
	}
	store, ok := s.stores[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return store, nil
}

// Parse extracts records from raw markup without storing them.
func (s *Service) Parse(raw []byte) (*extract.Result, error) {
	if s.engine == nil {
		return nil, ErrNoParser
	}
	res, err := s.engine.Parse(raw)
	if err != nil {
		return nil, err
	}
	kinds := make([]string, len(res.Faults))
	for i, f := range res.Faults {
		kinds[i] = f.Kind.String()
	}
	s.metrics.RecordParse(res.Len(), kinds)
	return res, nil
}

// Ingest parses raw markup and upserts every record into class.
// Records are stored in page order; the first failing upsert stops the ingest.
func (s *Service) Ingest(ctx context.Context, class string, raw []byte) (*Report, error) {
	res, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	store, err := s.Store(class)
	if err != nil {
		return nil, err
	}

	report := &Report{Result: res}
	err = res.Each(func(id string, rec *extract.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := s.upsert(ctx, store, rec.ToMap())
		if err != nil {
			return fmt.Errorf("record %q: %w", id, err)
		}
		report.Outcomes = append(report.Outcomes, out)
		return nil
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

// Upsert stores one content map keyed by the identity field of the parser.
func (s *Service) Upsert(ctx context.Context, class string, content map[string]any) (Outcome, error) {
	store, err := s.Store(class)
	if err != nil {
		return Outcome{}, err
	}
	return s.upsert(ctx, store, content)
}

// Identity is the content field that names a document.
func (s *Service) Identity() string {
	if s.engine == nil || s.engine.Parser().Identity == "" {
		return "uid"
	}
	return s.engine.Parser().Identity
}

func (s *Service) upsert(ctx context.Context, store *document.Store, content map[string]any) (Outcome, error) {
	start := time.Now()
	doc, isNew, d, err := store.UpsertByIdentity(ctx, s.Identity(), content)
	s.observe("upsert", start, 1, err)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{UID: doc.UID, New: isNew, Delta: d}
	ops := make([]string, len(d))
	for i, op := range d {
		ops[i] = string(op.Kind)
	}
	s.metrics.RecordUpsert(store.Class().Name, out.Status(), ops)
	s.log.Debug("Upserted document").
		Str("class", store.Class().Name).
		Str("uid", out.UID).
		Str("outcome", out.Status()).
		Int("operations", len(d)).
		Send()
	return out, nil
}

// History returns snapshots of uid, newest first.
func (s *Service) History(ctx context.Context, class, uid string, q version.Query) ([]version.Snapshot, error) {
	doc, r, err := s.lookup(ctx, class, uid)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	snaps, err := r.History(ctx, doc, q)
	s.observe("history", start, len(snaps), err)
	s.metrics.RecordHistoryQuery("history")
	return snaps, err
}

// Window returns the snapshots of uid whose changes fall inside w.
func (s *Service) Window(ctx context.Context, class, uid string, w version.Window) ([]version.Snapshot, error) {
	doc, r, err := s.lookup(ctx, class, uid)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	snaps, err := r.Window(ctx, doc, w)
	s.observe("history", start, len(snaps), err)
	s.metrics.RecordHistoryQuery(w.String())
	return snaps, err
}

// AsOf returns the content of uid at t.
func (s *Service) AsOf(ctx context.Context, class, uid string, t time.Time) (map[string]any, error) {
	doc, r, err := s.lookup(ctx, class, uid)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	content, err := r.AsOf(ctx, doc, t)
	s.observe("as_of", start, 1, err)
	s.metrics.RecordHistoryQuery("as_of")
	return content, err
}

func (s *Service) lookup(ctx context.Context, class, uid string) (*document.Document, *version.Reconstructor, error) {
	store, err := s.Store(class)
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	doc, err := store.Load(ctx, uid)
	s.observe("load", start, 1, err)
	if err != nil {
		return nil, nil, err
	}
	return doc, s.history[store.Class().Name], nil
}

func (s *Service) observe(op string, start time.Time, n int, err error) {
	d := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDbOperation(op, status, d)
	s.log.LogDbOperation(op, d, n, err)
}

// ABOUTME: Document store over the ordered KV layer
// ABOUTME: Saves apply policy-filtered deltas and append them to a per-document history

package document

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/leostore/pkg/delta"
	"github.com/nainya/leostore/pkg/storage"
)

// Key prefixes
const (
	PREFIX_DOCUMENT   = uint32(7000) // (class, uid) -> record
	PREFIX_DELTA      = uint32(7100) // (class, uid, seq) -> Entry
	PREFIX_PROJECTION = uint32(7200) // (class, column, value, uid) -> marker
)

var projection = storage.IndexDef{Name: "projection", Prefix: PREFIX_PROJECTION}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created, modified and delta stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store keeps the documents of one class.
type Store struct {
	kv    storage.KV
	class Class
	now   func() time.Time
	log   zerolog.Logger
	locks *keyLocks
}

// NewStore creates a store for class on top of kv.
func NewStore(kv storage.KV, class Class, opts ...Option) *Store {
	s := &Store{
		kv:    kv,
		class: class,
		now:   time.Now,
		log:   zerolog.Nop(),
		locks: newKeyLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("class", class.Name).Logger()
	return s
}

// Class returns the class definition the store was created with.
func (s *Store) Class() Class {
	return s.class
}

func (s *Store) docKey(uid string) []byte {
	return storage.EncodeKey(PREFIX_DOCUMENT, storage.NewStringValue(s.class.Name), storage.NewStringValue(uid))
}

func (s *Store) deltaKey(uid string, seq uint64) []byte {
	return storage.EncodeKey(PREFIX_DELTA,
		storage.NewStringValue(s.class.Name),
		storage.NewStringValue(uid),
		storage.NewUint64Value(seq),
	)
}

func readRecord(r storage.Reader, key []byte) (*record, bool, error) {
	data, ok, err := r.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	return &rec, true, nil
}

func writeJSON(tx storage.Tx, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Set(key, data)
}

// Exists reports whether uid is stored.
func (s *Store) Exists(ctx context.Context, uid string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, s.docKey(uid))
	return ok, err
}

// Load returns the stored document in the Clean state.
func (s *Store) Load(ctx context.Context, uid string) (*Document, error) {
	rec, ok, err := readRecord(storage.Bind(ctx, s.kv), s.docKey(uid))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}
	if !ok {
		return nil, fmt.Errorf("load %s: %w", uid, ErrNotFound)
	}
	return s.document(uid, rec), nil
}

// Get returns the current content of uid.
func (s *Store) Get(ctx context.Context, uid string) (map[string]any, error) {
	doc, err := s.Load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return doc.Content, nil
}

func (s *Store) document(uid string, rec *record) *Document {
	content := rec.Content
	if content == nil {
		content = map[string]any{}
	}
	return &Document{
		UID:      uid,
		Class:    s.class.Name,
		Content:  content,
		Created:  rec.Created,
		Modified: rec.Modified,
		Deltas:   rec.Deltas,
		policy:   s.class.Policy,
	}
}

// Create stores a new document with an empty history.
func (s *Store) Create(ctx context.Context, uid string, content map[string]any) (*Document, error) {
	unlock := s.locks.lock(uid)
	defer unlock()
	return s.create(ctx, uid, content)
}

func (s *Store) create(ctx context.Context, uid string, content map[string]any) (*Document, error) {
	norm, err := normalize(content)
	if err != nil {
		return nil, err
	}

	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", uid, err)
	}
	defer tx.Abort()

	key := s.docKey(uid)
	if _, ok, err := tx.Get(key); err != nil {
		return nil, fmt.Errorf("create %s: %w", uid, err)
	} else if ok {
		return nil, fmt.Errorf("create %s: %w", uid, ErrExists)
	}

	now := s.now().UTC()
	rec := &record{Content: norm, Created: now, Modified: now}
	if err := writeJSON(tx, key, rec); err != nil {
		return nil, fmt.Errorf("create %s: %w", uid, err)
	}
	if err := s.project(tx, uid, nil, norm); err != nil {
		return nil, fmt.Errorf("create %s: %w", uid, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create %s: %w", uid, err)
	}

	s.log.Debug().Str("uid", uid).Msg("Created document")
	return s.document(uid, rec), nil
}

// Save commits a Dirty document and returns the recorded delta.
// The stored content is the prior content patched with the filtered delta,
// so untracked operations never reach storage. Saving a Clean document is a no-op.
func (s *Store) Save(ctx context.Context, doc *Document) (delta.Delta, error) {
	unlock := s.locks.lock(doc.UID)
	defer unlock()
	return s.save(ctx, doc)
}

func (s *Store) save(ctx context.Context, doc *Document) (delta.Delta, error) {
	if doc.Class != s.class.Name {
		return nil, fmt.Errorf("save %s: %w: %q", doc.UID, ErrWrongClass, doc.Class)
	}
	if doc.state != Dirty {
		return nil, nil
	}

	d := doc.Pending()
	content, err := delta.Patch(d, doc.prior)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", doc.UID, err)
	}

	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", doc.UID, err)
	}
	defer tx.Abort()

	key := s.docKey(doc.UID)
	rec, ok, err := readRecord(tx, key)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", doc.UID, err)
	}
	if !ok {
		return nil, fmt.Errorf("save %s: %w", doc.UID, ErrNotFound)
	}

	now := s.now().UTC()
	if !d.Empty() {
		rec.Deltas++
		entry := Entry{Seq: uint64(rec.Deltas), Created: now, Delta: d}
		if err := writeJSON(tx, s.deltaKey(doc.UID, entry.Seq), entry); err != nil {
			return nil, fmt.Errorf("save %s: %w", doc.UID, err)
		}
	}
	if err := s.project(tx, doc.UID, rec.Content, content); err != nil {
		return nil, fmt.Errorf("save %s: %w", doc.UID, err)
	}
	rec.Content = content
	rec.Modified = now
	if err := writeJSON(tx, key, rec); err != nil {
		return nil, fmt.Errorf("save %s: %w", doc.UID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save %s: %w", doc.UID, err)
	}

	doc.Content = content
	doc.Modified = now
	doc.Deltas = rec.Deltas
	doc.prior = nil
	doc.state = Clean

	s.log.Debug().Str("uid", doc.UID).Int("operations", len(d)).Msg("Saved document")
	return d, nil
}

// UpsertByIdentity stores content under the value of its identity field.
// The field is removed from the stored content. Without it a random uid is used,
// so the document is always new.
func (s *Store) UpsertByIdentity(ctx context.Context, field string, content map[string]any) (*Document, bool, delta.Delta, error) {
	norm, err := normalize(content)
	if err != nil {
		return nil, false, nil, err
	}
	uid, ok := popIdentity(norm, field)
	if !ok {
		id := uuid.New()
		uid = hex.EncodeToString(id[:])
	}

	unlock := s.locks.lock(uid)
	defer unlock()

	doc, err := s.Load(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		doc, err = s.create(ctx, uid, norm)
		if err != nil {
			return nil, false, nil, err
		}
		return doc, true, nil, nil
	}
	if err != nil {
		return nil, false, nil, err
	}

	if err := doc.Assign(norm); err != nil {
		return nil, false, nil, err
	}
	d, err := s.save(ctx, doc)
	if err != nil {
		return nil, false, nil, err
	}
	return doc, false, d, nil
}

func popIdentity(content map[string]any, field string) (string, bool) {
	v, ok := content[field]
	if !ok {
		return "", false
	}
	delete(content, field)
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case nil:
		return "None", true
	default:
		return fmt.Sprint(t), true
	}
}

// Deltas returns the stored deltas of uid, oldest first.
func (s *Store) Deltas(ctx context.Context, uid string) ([]Entry, error) {
	prefix := storage.EncodeKey(PREFIX_DELTA, storage.NewStringValue(s.class.Name), storage.NewStringValue(uid))
	var out []Entry
	var decodeErr error
	err := storage.ScanPrefix(storage.Bind(ctx, s.kv), prefix, func(_, val []byte) bool {
		var e Entry
		if decodeErr = json.Unmarshal(val, &e); decodeErr != nil {
			return false
		}
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("deltas %s: %w", uid, err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("deltas %s: decode: %w", uid, decodeErr)
	}
	return out, nil
}

// List returns every stored uid in key order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := storage.EncodeKey(PREFIX_DOCUMENT, storage.NewStringValue(s.class.Name))
	var uids []string
	var decodeErr error
	err := storage.ScanPrefix(storage.Bind(ctx, s.kv), prefix, func(key, _ []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil {
			decodeErr = err
			return false
		}
		uids = append(uids, vals[1].String())
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("list: decode: %w", decodeErr)
	}
	return uids, nil
}

// FindBy returns the uids whose projected column equals value.
func (s *Store) FindBy(ctx context.Context, column, value string) ([]string, error) {
	keys, err := projection.Lookup(storage.Bind(ctx, s.kv), []storage.Value{
		storage.NewStringValue(s.class.Name),
		storage.NewStringValue(column),
		storage.NewStringValue(value),
	})
	if err != nil {
		return nil, fmt.Errorf("find %s=%s: %w", column, value, err)
	}
	uids := make([]string, 0, len(keys))
	for _, k := range keys {
		uids = append(uids, k[0].String())
	}
	return uids, nil
}

// project replaces the projection entries of before with those of after.
func (s *Store) project(tx storage.Tx, uid string, before, after map[string]any) error {
	primary := []storage.Value{storage.NewStringValue(uid)}
	for path, column := range s.class.Mapping {
		if before != nil {
			if v, ok := resolve(before, path); ok {
				if err := projection.Drop(tx, s.projectionCols(column, v), primary); err != nil {
					return err
				}
			}
		}
		v, ok := resolve(after, path)
		if !ok {
			s.log.Warn().Str("uid", uid).Str("path", path).Msg("Mapped path missing from content")
			continue
		}
		if err := projection.Put(tx, s.projectionCols(column, v), primary); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) projectionCols(column, value string) []storage.Value {
	return []storage.Value{
		storage.NewStringValue(s.class.Name),
		storage.NewStringValue(column),
		storage.NewStringValue(value),
	}
}

// resolve follows a dot.separated path and renders the leaf as a column value.
func resolve(content map[string]any, path string) (string, bool) {
	var cur any = content
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[key]; !ok {
			return "", false
		}
	}
	switch t := cur.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// keyLocks hands out one mutex per key, dropped once nobody holds or waits on it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.Lock()
	return func() {
		k.Unlock()
		l.mu.Lock()
		if k.refs--; k.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

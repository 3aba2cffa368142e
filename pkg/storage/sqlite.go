// ABOUTME: SQLite-backed KV store using a single ordered blob table
// ABOUTME: Runs in WAL mode and applies embedded migrations on open

package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nainya/leostore/pkg/storage/migrations"
)

// scanBatch bounds how many rows a scan holds in memory between callbacks.
const scanBatch = 256

// SQLiteKV stores entries in one SQLite table ordered by key.
type SQLiteKV struct {
	db   *sql.DB
	path string

	// Serializes write transactions within the process; SQLite allows one writer.
	writer chan struct{}
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteKV, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteKV{db: db, path: path, writer: make(chan struct{}, 1)}
	s.writer <- struct{}{}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteKV) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlGet(ctx context.Context, q querier, key []byte) ([]byte, bool, error) {
	var val []byte
	err := q.QueryRowContext(ctx, "SELECT val FROM kv WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return val, true, nil
}

// sqlScan pages through the table so the callback never runs while rows are open.
func sqlScan(ctx context.Context, q querier, start []byte, fn ScanFunc) error {
	from := start
	if from == nil {
		from = []byte{}
	}
	for {
		page, err := scanPage(ctx, q, from)
		if err != nil {
			return err
		}
		for _, e := range page {
			if !fn(e.key, e.val) {
				return nil
			}
		}
		if len(page) < scanBatch {
			return nil
		}
		// The smallest key after the last one seen.
		from = append(bytes.Clone(page[len(page)-1].key), 0)
	}
}

func scanPage(ctx context.Context, q querier, from []byte) ([]entry, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, val FROM kv WHERE key >= ? ORDER BY key LIMIT ?", from, scanBatch)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	page := make([]entry, 0, scanBatch)
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.val); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		page = append(page, e)
	}
	return page, rows.Err()
}

// Get retrieves the value stored under key.
func (s *SQLiteKV) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return sqlGet(ctx, s.db, key)
}

// Scan visits entries with key >= start in ascending order.
func (s *SQLiteKV) Scan(ctx context.Context, start []byte, fn ScanFunc) error {
	return sqlScan(ctx, s.db, start, fn)
}

// Begin waits for the process-wide write slot and starts a transaction.
func (s *SQLiteKV) Begin(ctx context.Context) (Tx, error) {
	select {
	case <-s.writer:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writer <- struct{}{}
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteTx{ctx: ctx, tx: tx, release: s.release}, nil
}

func (s *SQLiteKV) release() {
	s.writer <- struct{}{}
}

type sqliteTx struct {
	ctx     context.Context
	tx      *sql.Tx
	done    bool
	release func()
}

func (t *sqliteTx) Get(key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxDone
	}
	return sqlGet(t.ctx, t.tx, key)
}

func (t *sqliteTx) Scan(start []byte, fn ScanFunc) error {
	if t.done {
		return ErrTxDone
	}
	return sqlScan(t.ctx, t.tx, start, fn)
}

func (t *sqliteTx) Set(key, val []byte) error {
	if t.done {
		return ErrTxDone
	}
	if val == nil {
		val = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx,
		"INSERT INTO kv (key, val) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET val = excluded.val", key, val)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (t *sqliteTx) Del(key []byte) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	res, err := t.tx.ExecContext(t.ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("del: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("del: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Abort() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
	t.release()
}

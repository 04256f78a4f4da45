// Package store persists tiddler records in a SQLite database.
//
// The database is the one shared mutable resource in the service. A single
// mutex guards every logical operation, including the compound
// pop-old/bump/insert sequence in Replace, so concurrent writers to the
// same title serialize to consecutive revisions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wikibag/wikibag"
	"github.com/wikibag/wikibag/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS tiddlers (
	title    TEXT PRIMARY KEY,
	revision INTEGER NOT NULL,
	meta     TEXT NOT NULL
);`

// pragmas tune the connection the same way the service has always run:
// WAL journaling with full sync and a busy timeout for the rare second
// connection (backups, sqlite3 CLI).
const pragmas = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = FULL;
PRAGMA busy_timeout = 5000;
PRAGMA cache_size = -5000;
PRAGMA temp_store = MEMORY;
PRAGMA journal_size_limit = 33554432;`

// Store is the SQLite-backed tiddler store.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	logger  *slog.Logger
	created bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if necessary) the database at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wikibag.Storagef("creating database directory: %v", err)
		}
	}

	_, statErr := os.Stat(path)
	s.created = errors.Is(statErr, os.ErrNotExist)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wikibag.Storagef("opening database: %v", err)
	}
	// One connection: the mutex is the concurrency contract, not the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(pragmas); err != nil {
		_ = db.Close()
		return nil, wikibag.Storagef("applying pragmas: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, wikibag.Storagef("initializing schema: %v", err)
	}

	s.db = db
	if s.created {
		s.logger.Info("initialized new database", "path", path)
	} else {
		s.logger.Info("using existing database", "path", path)
	}
	return s, nil
}

// Created reports whether Open created a fresh database file.
// Callers use this to decide whether to install seed tiddlers.
func (s *Store) Created() bool {
	return s.created
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record stored under title, or nil if absent.
func (s *Store) Get(ctx context.Context, title string) (*wikibag.Tiddler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(ctx, "get", func() (*wikibag.Tiddler, error) {
		return s.getLocked(ctx, title)
	})
}

// All returns every record. Order is unspecified.
func (s *Store) All(ctx context.Context) ([]wikibag.Tiddler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT title, revision, meta FROM tiddlers`)
	if err != nil {
		telemetry.RecordStoreOp(ctx, "all", "error", time.Since(start))
		return nil, wikibag.Storagef("retrieving all tiddlers: %v", err)
	}
	defer rows.Close()

	var tiddlers []wikibag.Tiddler
	for rows.Next() {
		t, err := scanTiddler(rows)
		if err != nil {
			telemetry.RecordStoreOp(ctx, "all", "error", time.Since(start))
			return nil, err
		}
		tiddlers = append(tiddlers, t)
	}
	if err := rows.Err(); err != nil {
		telemetry.RecordStoreOp(ctx, "all", "error", time.Since(start))
		return nil, wikibag.Storagef("retrieving all tiddlers: %v", err)
	}
	telemetry.RecordStoreOp(ctx, "all", "ok", time.Since(start))
	return tiddlers, nil
}

// Put inserts or replaces the record keyed by its title.
func (s *Store) Put(ctx context.Context, t wikibag.Tiddler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.putLocked(ctx, t)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.RecordStoreOp(ctx, "put", outcome, time.Since(start))
	return err
}

// Pop atomically returns the record stored under title (nil if absent) and
// removes it, so the caller can act on the prior state.
func (s *Store) Pop(ctx context.Context, title string) (*wikibag.Tiddler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(ctx, "pop", func() (*wikibag.Tiddler, error) {
		return s.popLocked(ctx, title)
	})
}

// Replace removes any record under oldTitle and inserts t, all under one
// critical section. When a prior record existed, t's revision is set to the
// stored revision plus one, regardless of what the caller supplied; a first
// write keeps the caller's revision. Returns the persisted revision.
func (s *Store) Replace(ctx context.Context, oldTitle string, t wikibag.Tiddler) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	rev, err := s.replaceLocked(ctx, oldTitle, t)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.RecordStoreOp(ctx, "replace", outcome, time.Since(start))
	return rev, err
}

func (s *Store) replaceLocked(ctx context.Context, oldTitle string, t wikibag.Tiddler) (uint64, error) {
	old, err := s.getLocked(ctx, oldTitle)
	if err != nil {
		return 0, err
	}
	if old != nil {
		if err := s.deleteLocked(ctx, oldTitle); err != nil {
			return 0, err
		}
		t.Revision = old.Revision + 1
	}
	if err := s.putLocked(ctx, t); err != nil {
		return 0, err
	}
	return t.Revision, nil
}

// Seed inserts tiddlers parsed from the *.json files in dir, in name order.
// Each file holds either a single tiddler object or an array whose first
// element is taken, matching the original plugin bundle format.
func (s *Store) Seed(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return wikibag.Storagef("reading seed directory: %v", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return wikibag.Storagef("reading seed file %s: %v", name, err)
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return wikibag.Validationf("invalid seed json in %s: %v", name, err)
		}
		if arr, ok := v.([]any); ok {
			if len(arr) == 0 {
				return wikibag.Validationf("empty json array in %s", name)
			}
			v = arr[0]
		}
		t, err := wikibag.FromValue(v)
		if err != nil {
			return err
		}
		if err := s.putLocked(ctx, t); err != nil {
			return err
		}
		s.logger.Info("installed seed tiddler", "title", t.Title, "file", name)
	}
	return nil
}

// record wraps a single-row operation with metrics.
func (s *Store) record(ctx context.Context, op string, fn func() (*wikibag.Tiddler, error)) (*wikibag.Tiddler, error) {
	start := time.Now()
	t, err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.RecordStoreOp(ctx, op, outcome, time.Since(start))
	return t, err
}

func (s *Store) getLocked(ctx context.Context, title string) (*wikibag.Tiddler, error) {
	s.logger.Debug("getting tiddler", "title", title)
	row := s.db.QueryRowContext(ctx, `SELECT title, revision, meta FROM tiddlers WHERE title = ?`, title)
	t, err := scanTiddler(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wikibag.Storagef("retrieving %q: %v", title, err)
	}
	return &t, nil
}

func (s *Store) putLocked(ctx context.Context, t wikibag.Tiddler) error {
	s.logger.Debug("putting tiddler", "title", t.Title, "revision", t.Revision)
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return wikibag.Storagef("encoding metadata for %q: %v", t.Title, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tiddlers (title, revision, meta) VALUES (?, ?, ?)
		ON CONFLICT (title) DO UPDATE
		SET revision = excluded.revision, meta = excluded.meta`,
		t.Title, int64(t.Revision), string(meta))
	if err != nil {
		return wikibag.Storagef("storing %q: %v", t.Title, err)
	}
	return nil
}

func (s *Store) popLocked(ctx context.Context, title string) (*wikibag.Tiddler, error) {
	s.logger.Debug("popping tiddler", "title", title)
	t, err := s.getLocked(ctx, title)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if err := s.deleteLocked(ctx, title); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) deleteLocked(ctx context.Context, title string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tiddlers WHERE title = ?`, title); err != nil {
		return wikibag.Storagef("removing %q: %v", title, err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTiddler(row rowScanner) (wikibag.Tiddler, error) {
	var (
		title    string
		revision int64
		meta     string
	)
	if err := row.Scan(&title, &revision, &meta); err != nil {
		return wikibag.Tiddler{}, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(meta), &m); err != nil {
		return wikibag.Tiddler{}, wikibag.Storagef("decoding metadata for %q: %v", title, err)
	}
	if revision < 0 {
		return wikibag.Tiddler{}, wikibag.Storagef("negative revision for %q: %d", title, revision)
	}
	return wikibag.Tiddler{Title: title, Revision: uint64(revision), Meta: m}, nil
}

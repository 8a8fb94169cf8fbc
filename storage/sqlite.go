package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/rawrcache/storage/migrations"
	_ "modernc.org/sqlite"
)

// MemoryPath selects an ephemeral database that lives only as long as the
// SQLite store is open.
const MemoryPath = ":memory:"

// SQLite is the reference Storage implementation, persisting entries in a
// single cache_entries table indexed on expiry.
//
// All statements run under one store-wide mutex and over a single
// connection, so cleanup sweeps never interleave with reads or writes.
type SQLite struct {
	path string
	opts options

	mu sync.Mutex
	db *sql.DB
}

// NewSQLite creates a store for the database at path. Nothing is opened until
// Initialize is called. Use MemoryPath for an in-memory database.
func NewSQLite(path string, opts ...Option) *SQLite {
	return &SQLite{
		path: strings.TrimSpace(path),
		opts: buildOptions(opts),
	}
}

func (s *SQLite) dsn() string {
	if s.path == "" || s.path == MemoryPath {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}
	return "file:" + filepath.Clean(s.path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// Initialize opens the database and applies the schema. Calling it again
// after a success is a no-op.
func (s *SQLite) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	s.db = db
	return nil
}

// Store upserts payload under key.
func (s *SQLite) Store(ctx context.Context, key string, payload []byte, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotInitialized
	}

	stored, compressed := encodePayload(payload, s.opts.compress)
	return s.upsert(ctx, Entry{
		Key:          key,
		Payload:      stored,
		Expiry:       expiry,
		Created:      s.opts.nowFunc(),
		OriginalSize: int64(len(payload)),
		Compressed:   compressed,
	})
}

// upsert must be called with s.mu held.
func (s *SQLite) upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_entries (key, payload, expiry, created, original_size, is_compressed)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	payload = excluded.payload,
	expiry = excluded.expiry,
	created = excluded.created,
	original_size = excluded.original_size,
	is_compressed = excluded.is_compressed
`,
		e.Key,
		e.Payload,
		e.Expiry.UnixMilli(),
		e.Created.UnixMilli(),
		e.OriginalSize,
		e.Compressed,
	)
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

// Retrieve returns the live payload stored under key.
func (s *SQLite) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, false, ErrNotInitialized
	}

	var (
		payload    []byte
		compressed bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, is_compressed FROM cache_entries WHERE key = ? AND expiry > ?`,
		key, s.nowMillis(),
	).Scan(&payload, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("retrieve entry: %w", err)
	}

	out, err := decodePayload(payload, compressed)
	if err != nil {
		return nil, false, nil
	}
	return out, true, nil
}

// IsExpired reports whether key is absent or expired. Query failures count as
// expired.
func (s *SQLite) IsExpired(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return true
	}

	var found int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM cache_entries WHERE key = ? AND expiry > ?`,
		key, s.nowMillis(),
	).Scan(&found)
	return err != nil
}

// Invalidate deletes key, or every entry for the empty key.
func (s *SQLite) Invalidate(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotInitialized
	}

	var err error
	if key == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	}
	if err != nil {
		return fmt.Errorf("invalidate %q: %w", key, err)
	}
	return nil
}

// CacheSize sums the original size of live entries.
func (s *SQLite) CacheSize(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(original_size), 0) FROM cache_entries WHERE expiry > ?`,
		s.nowMillis(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("cache size: %w", err)
	}
	return total, nil
}

// CleanupExpired deletes every entry with expiry <= now.
func (s *SQLite) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expiry <= ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	return n, nil
}

// TrimTo drops the entries closest to expiry until at most maxBytes of
// original payload remain.
func (s *SQLite) TrimTo(ctx context.Context, maxBytes int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, original_size FROM cache_entries ORDER BY expiry ASC, created ASC`)
	if err != nil {
		return 0, fmt.Errorf("trim: %w", err)
	}
	type sized struct {
		key  string
		size int64
	}
	var (
		all   []sized
		total int64
	)
	for rows.Next() {
		var e sized
		if err := rows.Scan(&e.key, &e.size); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("trim: scan: %w", err)
		}
		total += e.size
		all = append(all, e)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("trim: %w", err)
	}

	var removed int64
	for _, e := range all {
		if total <= maxBytes {
			break
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, e.key); err != nil {
			return removed, fmt.Errorf("trim %q: %w", e.key, err)
		}
		total -= e.size
		removed++
	}
	return removed, nil
}

// Entries returns all live entries ordered by key, payloads decompressed.
func (s *SQLite) Entries(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT key, payload, expiry, created, original_size, is_compressed
FROM cache_entries
WHERE expiry > ?
ORDER BY key
`, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e               Entry
			expiry, created int64
		)
		if err := rows.Scan(&e.Key, &e.Payload, &expiry, &created, &e.OriginalSize, &e.Compressed); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		payload, err := decodePayload(e.Payload, e.Compressed)
		if err != nil {
			continue
		}
		e.Payload = payload
		e.Compressed = false
		e.Expiry = time.UnixMilli(expiry)
		e.Created = time.UnixMilli(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Restore writes an exported entry back.
func (s *SQLite) Restore(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotInitialized
	}

	stored, compressed := encodePayload(e.Payload, s.opts.compress)
	e.OriginalSize = int64(len(e.Payload))
	e.Payload = stored
	e.Compressed = compressed
	if e.Created.IsZero() {
		e.Created = s.opts.nowFunc()
	}
	return s.upsert(ctx, e)
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// nowMillis is compared against expiry columns holding Unix milliseconds.
// Both sides are truncated, so an entry can lapse up to a millisecond
// early but never outlives its expiry.
func (s *SQLite) nowMillis() int64 {
	return s.opts.nowFunc().UnixMilli()
}

var (
	_ Storage = (*SQLite)(nil)
	_ Trimmer = (*SQLite)(nil)
)

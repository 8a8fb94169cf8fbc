// Package storage provides the persistent key/value port used by the cache
// manager, together with SQLite, in-memory, Redis and tiered (ristretto)
// implementations.
//
// Every adapter honours the same contract: expired entries are invisible to
// readers even before a cleanup sweep removes them, writes are upserts, and
// Invalidate("") removes every entry.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialized is returned by adapters used before Initialize succeeded.
var ErrNotInitialized = errors.New("storage: not initialized")

// Storage is the key/value port consumed by the cache manager.
type Storage interface {
	// Initialize prepares the backing store. It is idempotent.
	Initialize(ctx context.Context) error

	// Store upserts payload under key until expiry.
	Store(ctx context.Context, key string, payload []byte, expiry time.Time) error

	// Retrieve returns the payload stored under key. The boolean is false
	// when the key is absent, expired, or its payload cannot be decoded.
	Retrieve(ctx context.Context, key string) ([]byte, bool, error)

	// IsExpired reports whether key is absent or past its expiry.
	IsExpired(ctx context.Context, key string) bool

	// Invalidate deletes key. The empty key deletes every entry.
	Invalidate(ctx context.Context, key string) error

	// CacheSize returns the sum of the original (uncompressed) payload sizes
	// of all live entries.
	CacheSize(ctx context.Context) (int64, error)

	// CleanupExpired deletes every entry whose expiry is not after now and
	// returns the number of entries removed.
	CleanupExpired(ctx context.Context) (int64, error)

	// Entries returns a snapshot of all live entries, payloads decoded.
	Entries(ctx context.Context) ([]Entry, error)

	// Restore writes a previously exported entry, keeping its timestamps.
	Restore(ctx context.Context, e Entry) error

	// Close releases resources held by the adapter.
	Close() error
}

// Trimmer is implemented by adapters able to shrink themselves below a byte
// budget by dropping the entries closest to expiry.
type Trimmer interface {
	TrimTo(ctx context.Context, maxBytes int64) (int64, error)
}

// Entry is the logical record kept for every key.
type Entry struct {
	Key          string    `json:"key"`
	Payload      []byte    `json:"payload"`
	Expiry       time.Time `json:"expiry"`
	Created      time.Time `json:"created"`
	OriginalSize int64     `json:"original_size"`
	Compressed   bool      `json:"compressed"`
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.Expiry)
}

// Option configures a storage adapter.
type Option func(*options)

type options struct {
	compress bool
	nowFunc  func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{nowFunc: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCompression enables zstd compression of stored payloads. A compressed
// payload is only kept when it is strictly smaller than the original.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.nowFunc = now
		}
	}
}

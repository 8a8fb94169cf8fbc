package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Tiered places an in-process ristretto cache in front of another Storage.
// Writes go to the backend first and are mirrored into the hot tier with the
// remaining TTL; reads are served from the hot tier when possible.
//
// Reads that fall through to the backend are not promoted because the
// backend does not report the entry's expiry on Retrieve.
type Tiered struct {
	hot     *ristretto.Cache[string, hotEntry]
	backend Storage
	nowFunc func() time.Time

	// mu keeps the hot tier and the backend in step for a given write.
	mu sync.Mutex
}

// hotEntry carries its own expiry so the hot tier agrees with the backend's
// clock rather than ristretto's.
type hotEntry struct {
	payload []byte
	expiry  time.Time
}

// NewTiered creates a tiered store holding at most maxEntries hot entries
// (each entry has a cost of 1).
func NewTiered(backend Storage, maxEntries int64, opts ...Option) (*Tiered, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("storage: tiered: maxEntries must be positive")
	}
	hot, err := ristretto.NewCache(&ristretto.Config[string, hotEntry]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: tiered: %w", err)
	}
	o := buildOptions(opts)
	return &Tiered{hot: hot, backend: backend, nowFunc: o.nowFunc}, nil
}

// Initialize initializes the backend.
func (t *Tiered) Initialize(ctx context.Context) error {
	return t.backend.Initialize(ctx)
}

// Store writes to the backend and then to the hot tier.
func (t *Tiered) Store(ctx context.Context, key string, payload []byte, expiry time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.backend.Store(ctx, key, payload, expiry); err != nil {
		t.hot.Del(key)
		return err
	}
	t.setHot(key, payload, expiry)
	return nil
}

func (t *Tiered) setHot(key string, payload []byte, expiry time.Time) {
	ttl := expiry.Sub(t.nowFunc())
	if ttl <= 0 {
		t.hot.Del(key)
		return
	}
	t.hot.SetWithTTL(key, hotEntry{payload: bytes.Clone(payload), expiry: expiry}, 1, ttl)
	t.hot.Wait()
}

// Retrieve checks the hot tier, then the backend.
func (t *Tiered) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := t.hot.Get(key); ok {
		if t.nowFunc().Before(v.expiry) {
			return bytes.Clone(v.payload), true, nil
		}
		t.hot.Del(key)
	}
	return t.backend.Retrieve(ctx, key)
}

// IsExpired defers to the backend, which owns expiry metadata.
func (t *Tiered) IsExpired(ctx context.Context, key string) bool {
	return t.backend.IsExpired(ctx, key)
}

// Invalidate removes key from both tiers; the empty key clears both.
func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if key == "" {
		t.hot.Clear()
	} else {
		t.hot.Del(key)
	}
	return t.backend.Invalidate(ctx, key)
}

// CacheSize reports the backend size; the hot tier only mirrors it.
func (t *Tiered) CacheSize(ctx context.Context) (int64, error) {
	return t.backend.CacheSize(ctx)
}

// CleanupExpired sweeps the backend. Ristretto expires hot entries itself.
func (t *Tiered) CleanupExpired(ctx context.Context) (int64, error) {
	return t.backend.CleanupExpired(ctx)
}

// TrimTo trims the backend when it supports trimming and drops the hot tier,
// which may still hold trimmed keys.
func (t *Tiered) TrimTo(ctx context.Context, maxBytes int64) (int64, error) {
	tr, ok := t.backend.(Trimmer)
	if !ok {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := tr.TrimTo(ctx, maxBytes)
	if n > 0 {
		t.hot.Clear()
	}
	return n, err
}

// Entries lists the backend entries.
func (t *Tiered) Entries(ctx context.Context) ([]Entry, error) {
	return t.backend.Entries(ctx)
}

// Restore writes e to the backend and the hot tier.
func (t *Tiered) Restore(ctx context.Context, e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.backend.Restore(ctx, e); err != nil {
		return err
	}
	t.setHot(e.Key, e.Payload, e.Expiry)
	return nil
}

// Close closes the hot tier and the backend.
func (t *Tiered) Close() error {
	t.hot.Close()
	return t.backend.Close()
}

var (
	_ Storage = (*Tiered)(nil)
	_ Trimmer = (*Tiered)(nil)
)

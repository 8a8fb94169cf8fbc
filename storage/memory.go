package storage

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Storage backed by a map. It is used for ephemeral
// caches and as a fake in tests.
type Memory struct {
	opts options

	mu          sync.Mutex
	initialized bool
	entries     map[string]Entry
	size        int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts:    buildOptions(opts),
		entries: make(map[string]Entry),
	}
}

// Initialize marks the store ready for use.
func (m *Memory) Initialize(_ context.Context) error {
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// Store upserts payload under key.
func (m *Memory) Store(_ context.Context, key string, payload []byte, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}

	stored, compressed := encodePayload(payload, m.opts.compress)
	m.entries[key] = Entry{
		Key:          key,
		Payload:      bytes.Clone(stored),
		Expiry:       expiry,
		Created:      m.opts.nowFunc(),
		OriginalSize: int64(len(payload)),
		Compressed:   compressed,
	}
	m.recomputeSize()
	return nil
}

// Retrieve returns a copy of the live payload stored under key.
func (m *Memory) Retrieve(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, false, ErrNotInitialized
	}

	e, ok := m.entries[key]
	if !ok || e.Expired(m.opts.nowFunc()) {
		return nil, false, nil
	}
	out, err := decodePayload(e.Payload, e.Compressed)
	if err != nil {
		return nil, false, nil
	}
	return bytes.Clone(out), true, nil
}

// IsExpired reports whether key is absent or expired.
func (m *Memory) IsExpired(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return !ok || e.Expired(m.opts.nowFunc())
}

// Invalidate deletes key, or everything for the empty key.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if key == "" {
		clear(m.entries)
	} else {
		delete(m.entries, key)
	}
	m.recomputeSize()
	return nil
}

// CacheSize returns the original size of all live entries. Entries that
// expired since the last write are not counted.
func (m *Memory) CacheSize(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	m.recomputeSize()
	return m.size, nil
}

// CleanupExpired removes expired entries.
func (m *Memory) CleanupExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, ErrNotInitialized
	}

	now := m.opts.nowFunc()
	var removed int64
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	m.recomputeSize()
	return removed, nil
}

// TrimTo drops the entries closest to expiry until the store holds at most
// maxBytes of original payload.
func (m *Memory) TrimTo(_ context.Context, maxBytes int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	m.recomputeSize()
	if m.size <= maxBytes {
		return 0, nil
	}

	ordered := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, func(a, b Entry) int {
		return a.Expiry.Compare(b.Expiry)
	})

	var removed int64
	for _, e := range ordered {
		if m.size <= maxBytes {
			break
		}
		delete(m.entries, e.Key)
		m.size -= e.OriginalSize
		removed++
	}
	m.recomputeSize()
	return removed, nil
}

// Entries returns all live entries sorted by key with decoded payloads.
func (m *Memory) Entries(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}

	now := m.opts.nowFunc()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Expired(now) {
			continue
		}
		payload, err := decodePayload(e.Payload, e.Compressed)
		if err != nil {
			continue
		}
		e.Payload = bytes.Clone(payload)
		e.Compressed = false
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Key, b.Key) })
	return out, nil
}

// Restore writes an exported entry back, keeping its created timestamp.
func (m *Memory) Restore(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}

	stored, compressed := encodePayload(e.Payload, m.opts.compress)
	e.OriginalSize = int64(len(e.Payload))
	e.Payload = bytes.Clone(stored)
	e.Compressed = compressed
	m.entries[e.Key] = e
	m.recomputeSize()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// recomputeSize must be called with m.mu held.
func (m *Memory) recomputeSize() {
	now := m.opts.nowFunc()
	var total int64
	for _, e := range m.entries {
		if !e.Expired(now) {
			total += e.OriginalSize
		}
	}
	m.size = total
}

// storedLen reports the persisted length of key, for tests.
func (m *Memory) storedLen(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries[key].Payload)
}

var (
	_ Storage = (*Memory)(nil)
	_ Trimmer = (*Memory)(nil)
)

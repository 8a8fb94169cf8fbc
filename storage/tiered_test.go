package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTieredStore(t *testing.T, clock *fakeClock, compress bool) Storage {
	t.Helper()
	backend := NewMemory(WithClock(clock.Now), WithCompression(compress))
	s, err := NewTiered(backend, 1000, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTiered: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTiered_Contract(t *testing.T) {
	runContract(t, newTieredStore)
}

// countingStore counts backend reads.
type countingStore struct {
	Storage
	retrieves atomic.Int32
}

func (c *countingStore) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	c.retrieves.Add(1)
	return c.Storage.Retrieve(ctx, key)
}

func TestTiered_ServesHotReads(t *testing.T) {
	clock := newFakeClock()
	backend := &countingStore{Storage: NewMemory(WithClock(clock.Now))}
	s, err := NewTiered(backend, 100, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTiered: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	mustInit(t, s)
	ctx := t.Context()

	if err := s.Store(ctx, "k", []byte("v"), clock.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	for range 3 {
		got, ok, _ := s.Retrieve(ctx, "k")
		if !ok || string(got) != "v" {
			t.Fatalf("expected hit, got %q ok=%v", got, ok)
		}
	}
	if n := backend.retrieves.Load(); n != 0 {
		t.Fatalf("backend read %d times, want 0", n)
	}
}

func TestNewTiered_RejectsZeroSize(t *testing.T) {
	if _, err := NewTiered(NewMemory(), 0); err == nil {
		t.Fatal("expected error for zero maxEntries")
	}
}

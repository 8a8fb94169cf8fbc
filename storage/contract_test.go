package storage

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source shared by a store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock, compress bool) Storage

func mustInit(t *testing.T, s Storage) {
	t.Helper()
	if err := s.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

// runContract exercises the behaviour every Storage adapter must share.
func runContract(t *testing.T, factory storeFactory) {
	t.Run("NotInitialized", func(t *testing.T) {
		s := factory(t, newFakeClock(), false)
		ctx := t.Context()
		if err := s.Store(ctx, "k", []byte("v"), time.Now().Add(time.Hour)); err == nil {
			t.Fatal("expected Store to fail before Initialize")
		}
		if _, ok, _ := s.Retrieve(ctx, "k"); ok {
			t.Fatal("expected miss before Initialize")
		}
		if !s.IsExpired(ctx, "k") {
			t.Fatal("expected IsExpired before Initialize")
		}
	})

	t.Run("InitializeIdempotent", func(t *testing.T) {
		s := factory(t, newFakeClock(), false)
		mustInit(t, s)
		mustInit(t, s)
	})

	t.Run("StoreRetrieve", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		if _, ok, err := s.Retrieve(ctx, "missing"); err != nil || ok {
			t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
		}
		if err := s.Store(ctx, "k1", []byte("v1"), clock.Now().Add(time.Minute)); err != nil {
			t.Fatalf("Store: %v", err)
		}
		got, ok, err := s.Retrieve(ctx, "k1")
		if err != nil || !ok {
			t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
		}
		if string(got) != "v1" {
			t.Fatalf("got %q, want %q", got, "v1")
		}
		if s.IsExpired(ctx, "k1") {
			t.Fatal("expected live entry")
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		_ = s.Store(ctx, "k", []byte("first"), clock.Now().Add(time.Minute))
		if err := s.Store(ctx, "k", []byte("second-longer"), clock.Now().Add(time.Hour)); err != nil {
			t.Fatalf("Store: %v", err)
		}

		entries, err := s.Entries(ctx)
		if err != nil {
			t.Fatalf("Entries: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if string(entries[0].Payload) != "second-longer" {
			t.Fatalf("payload = %q, want %q", entries[0].Payload, "second-longer")
		}
		if !entries[0].Expiry.Equal(clock.Now().Add(time.Hour)) {
			t.Fatalf("expiry = %v, want %v", entries[0].Expiry, clock.Now().Add(time.Hour))
		}

		// Past the first expiry the entry must still be live.
		clock.Advance(2 * time.Minute)
		if _, ok, _ := s.Retrieve(ctx, "k"); !ok {
			t.Fatal("expected entry to live until the second expiry")
		}
		if size, _ := s.CacheSize(ctx); size != int64(len("second-longer")) {
			t.Fatalf("size = %d, want %d", size, len("second-longer"))
		}
	})

	t.Run("LazyExpiry", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		_ = s.Store(ctx, "k", []byte("v"), clock.Now().Add(time.Second))
		clock.Advance(time.Second)

		if _, ok, _ := s.Retrieve(ctx, "k"); ok {
			t.Fatal("expected expired entry to be invisible before cleanup")
		}
		if !s.IsExpired(ctx, "k") {
			t.Fatal("expected IsExpired at expiry")
		}
	})

	t.Run("SubSecondExpiry", func(t *testing.T) {
		clock := newFakeClock()
		clock.Advance(300 * time.Millisecond)
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		_ = s.Store(ctx, "k", []byte("v"), clock.Now().Add(time.Second))
		clock.Advance(900 * time.Millisecond)
		if _, ok, _ := s.Retrieve(ctx, "k"); !ok {
			t.Fatal("expected entry to be live before its expiry")
		}

		clock.Advance(300 * time.Millisecond)
		if _, ok, _ := s.Retrieve(ctx, "k"); ok {
			t.Fatal("expected miss 200ms past expiry")
		}
		if !s.IsExpired(ctx, "k") {
			t.Fatal("expected IsExpired 200ms past expiry")
		}
		if n, err := s.CleanupExpired(ctx); err != nil || n != 1 {
			t.Fatalf("CleanupExpired = %d, %v; want 1", n, err)
		}
	})

	t.Run("SizeExcludesExpired", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		_ = s.Store(ctx, "short", []byte("aaaa"), clock.Now().Add(time.Second))
		_ = s.Store(ctx, "long", []byte("bb"), clock.Now().Add(time.Hour))
		if size, _ := s.CacheSize(ctx); size != 6 {
			t.Fatalf("size = %d, want 6", size)
		}

		clock.Advance(time.Second)
		if size, _ := s.CacheSize(ctx); size != 2 {
			t.Fatalf("size after expiry = %d, want 2", size)
		}
	})

	t.Run("CleanupExpired", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		_ = s.Store(ctx, "short-1", []byte("a"), clock.Now().Add(time.Second))
		_ = s.Store(ctx, "short-2", []byte("b"), clock.Now().Add(time.Second))
		_ = s.Store(ctx, "long", []byte("ccc"), clock.Now().Add(time.Hour))
		clock.Advance(2 * time.Second)

		n, err := s.CleanupExpired(ctx)
		if err != nil {
			t.Fatalf("CleanupExpired: %v", err)
		}
		if n != 2 {
			t.Fatalf("removed %d, want 2", n)
		}
		if size, _ := s.CacheSize(ctx); size != 3 {
			t.Fatalf("size = %d, want 3", size)
		}
		if n, _ := s.CleanupExpired(ctx); n != 0 {
			t.Fatalf("second sweep removed %d, want 0", n)
		}
	})

	t.Run("InvalidateKeyAndAll", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		for _, k := range []string{"a", "b", "c"} {
			_ = s.Store(ctx, k, []byte(k+k), clock.Now().Add(time.Hour))
		}
		if err := s.Invalidate(ctx, "a"); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
		if _, ok, _ := s.Retrieve(ctx, "a"); ok {
			t.Fatal("expected a to be gone")
		}
		if _, ok, _ := s.Retrieve(ctx, "b"); !ok {
			t.Fatal("expected b to survive")
		}

		if err := s.Invalidate(ctx, ""); err != nil {
			t.Fatalf("Invalidate all: %v", err)
		}
		if size, _ := s.CacheSize(ctx); size != 0 {
			t.Fatalf("size = %d after invalidate all, want 0", size)
		}
		if entries, _ := s.Entries(ctx); len(entries) != 0 {
			t.Fatalf("expected no entries, got %d", len(entries))
		}
	})

	t.Run("CompressionTransparent", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, true)
		mustInit(t, s)
		ctx := t.Context()

		big := []byte(strings.Repeat(`{"name":"org.mozilla.firefox"},`, 200))
		tiny := []byte("x")
		_ = s.Store(ctx, "big", big, clock.Now().Add(time.Hour))
		_ = s.Store(ctx, "tiny", tiny, clock.Now().Add(time.Hour))

		got, ok, _ := s.Retrieve(ctx, "big")
		if !ok || !bytes.Equal(got, big) {
			t.Fatal("expected compressed payload to round-trip")
		}
		got, ok, _ = s.Retrieve(ctx, "tiny")
		if !ok || !bytes.Equal(got, tiny) {
			t.Fatal("expected tiny payload to round-trip")
		}
		size, _ := s.CacheSize(ctx)
		if want := int64(len(big) + len(tiny)); size != want {
			t.Fatalf("size = %d, want original size %d", size, want)
		}
	})

	t.Run("RestoreKeepsExpiry", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		mustInit(t, s)
		ctx := t.Context()

		e := Entry{
			Key:     "restored",
			Payload: []byte("payload"),
			Expiry:  clock.Now().Add(10 * time.Second),
			Created: clock.Now().Add(-time.Minute),
		}
		if err := s.Restore(ctx, e); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if _, ok, _ := s.Retrieve(ctx, "restored"); !ok {
			t.Fatal("expected restored entry")
		}
		clock.Advance(10 * time.Second)
		if _, ok, _ := s.Retrieve(ctx, "restored"); ok {
			t.Fatal("expected restored entry to keep its expiry")
		}
	})

	t.Run("TrimToDropsSoonestExpiring", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, false)
		tr, ok := s.(Trimmer)
		if !ok {
			t.Fatalf("%T does not implement Trimmer", s)
		}
		mustInit(t, s)
		ctx := t.Context()

		_ = s.Store(ctx, "later", []byte("12345"), clock.Now().Add(time.Hour))
		_ = s.Store(ctx, "soon", []byte("12345"), clock.Now().Add(time.Minute))

		n, err := tr.TrimTo(ctx, 5)
		if err != nil {
			t.Fatalf("TrimTo: %v", err)
		}
		if n != 1 {
			t.Fatalf("trimmed %d, want 1", n)
		}
		if _, ok, _ := s.Retrieve(ctx, "soon"); ok {
			t.Fatal("expected the soonest-expiring entry to be dropped")
		}
		if _, ok, _ := s.Retrieve(ctx, "later"); !ok {
			t.Fatal("expected the later entry to survive")
		}
		if size, _ := s.CacheSize(ctx); size != 5 {
			t.Fatalf("size = %d, want 5", size)
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock, true)
		mustInit(t, s)
		ctx := t.Context()

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := string(rune('a' + i))
				for range 20 {
					_ = s.Store(ctx, key, []byte(key), clock.Now().Add(time.Minute))
					_, _, _ = s.Retrieve(ctx, key)
					_, _ = s.CleanupExpired(ctx)
				}
			}()
		}
		wg.Wait()

		if size, _ := s.CacheSize(context.Background()); size != 8 {
			t.Fatalf("size = %d, want 8", size)
		}
	})
}

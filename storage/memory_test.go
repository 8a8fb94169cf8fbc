package storage

import (
	"strings"
	"testing"
	"time"
)

func newMemoryStore(t *testing.T, clock *fakeClock, compress bool) Storage {
	t.Helper()
	return NewMemory(WithClock(clock.Now), WithCompression(compress))
}

func TestMemory_Contract(t *testing.T) {
	runContract(t, newMemoryStore)
}

func TestMemory_CompressionNeverInflates(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now), WithCompression(true))
	mustInit(t, m)
	ctx := t.Context()

	inputs := map[string][]byte{
		"empty":      {},
		"one":        []byte("a"),
		"random-ish": []byte("q8#Lz!0p@Vw"),
		"repetitive": []byte(strings.Repeat("flathub ", 512)),
	}
	for key, payload := range inputs {
		if err := m.Store(ctx, key, payload, clock.Now().Add(time.Hour)); err != nil {
			t.Fatalf("Store %s: %v", key, err)
		}
		if got := m.storedLen(key); got > len(payload) {
			t.Fatalf("%s: stored %d bytes for a %d byte payload", key, got, len(payload))
		}
	}
	if got := m.storedLen("repetitive"); got >= len(inputs["repetitive"]) {
		t.Fatalf("expected repetitive payload to shrink, stored %d bytes", got)
	}
}

func TestMemory_TrimTo(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))
	mustInit(t, m)
	ctx := t.Context()

	_ = m.Store(ctx, "soon", []byte("1234"), clock.Now().Add(time.Minute))
	_ = m.Store(ctx, "later", []byte("1234"), clock.Now().Add(time.Hour))
	_ = m.Store(ctx, "latest", []byte("1234"), clock.Now().Add(2*time.Hour))

	n, err := m.TrimTo(ctx, 8)
	if err != nil {
		t.Fatalf("TrimTo: %v", err)
	}
	if n != 1 {
		t.Fatalf("trimmed %d, want 1", n)
	}
	if _, ok, _ := m.Retrieve(ctx, "soon"); ok {
		t.Fatal("expected the entry closest to expiry to be trimmed")
	}
	if size, _ := m.CacheSize(ctx); size != 8 {
		t.Fatalf("size = %d, want 8", size)
	}
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache"
	"github.com/prometheus/client_golang/prometheus"
)

// gathered returns every counter and gauge sample in reg keyed by name{label=value}.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}

	o.OnCacheHit("a")
	o.OnCacheHit("b")
	o.OnCacheMiss("c")
	o.OnCacheExpired(4)
	o.OnCleanup(4, 1024)
	o.OnNetworkError("c", errors.New("down"))
	o.OnStorageError("store", errors.New("disk"))
	o.OnStorageError("store", errors.New("disk"))

	got := gathered(t, reg)
	want := map[string]float64{
		"rawrcache_events_hits_total":                     2,
		"rawrcache_events_misses_total":                   1,
		"rawrcache_events_expired_entries_total":          4,
		"rawrcache_events_cleanups_total":                 1,
		"rawrcache_events_size_bytes":                     1024,
		"rawrcache_events_network_errors_total":           1,
		"rawrcache_events_storage_errors_total{op=store}": 2,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s = %v, want %v (all: %v)", name, got[name], v, got)
		}
	}
}

func TestObserverRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewObserver(reg)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	second, err := NewObserver(reg)
	if err != nil {
		t.Fatalf("second NewObserver: %v", err)
	}
	first.OnCacheHit("a")
	second.OnCacheHit("b")

	if got := gathered(t, reg)["rawrcache_events_hits_total"]; got != 2 {
		t.Fatalf("expected both observers to share the counter, got %v", got)
	}
}

type staticSource rawrcache.MetricsSnapshot

func (s staticSource) Metrics() rawrcache.MetricsSnapshot { return rawrcache.MetricsSnapshot(s) }

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(staticSource{
		Hits:           9,
		Misses:         3,
		NetworkCalls:   3,
		NetworkErrors:  1,
		ExpiredEntries: 5,
		CacheSizeBytes: 4096,
		StartTime:      time.Now().Add(-time.Hour),
	}))

	got := gathered(t, reg)
	want := map[string]float64{
		"rawrcache_hits_total":            9,
		"rawrcache_misses_total":          3,
		"rawrcache_network_calls_total":   3,
		"rawrcache_network_errors_total":  1,
		"rawrcache_expired_entries_total": 5,
		"rawrcache_size_bytes":            4096,
		"rawrcache_hit_ratio":             0.75,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s = %v, want %v", name, got[name], v)
		}
	}
	if got["rawrcache_uptime_seconds"] < 3600 {
		t.Fatalf("expected uptime >= 1h, got %v", got["rawrcache_uptime_seconds"])
	}
}

func TestObserverWithManager(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	m, err := rawrcache.NewBuilder().
		EnableAutoCleanup(false).
		WithObserver(o).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	reg.MustRegister(NewCollector(m))

	m.SetCachePolicy(rawrcache.CacheOnly)
	m.GetApplicationsInstalled(t.Context(), false)
	m.ForceCleanup(t.Context())

	got := gathered(t, reg)
	if got["rawrcache_events_misses_total"] != 1 || got["rawrcache_misses_total"] != 1 {
		t.Fatalf("expected one miss from both paths, got %v", got)
	}
	if got["rawrcache_events_cleanups_total"] != 1 {
		t.Fatalf("expected one cleanup event, got %v", got)
	}
}

package rawrcache

import (
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/storage"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DatabasePath != MemoryDatabase {
		t.Fatalf("expected in-memory database, got %q", cfg.DatabasePath)
	}
	if cfg.DefaultTTL != time.Hour || cfg.Policy != CacheFirst {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MaxCacheSize != 100<<20 || cfg.MaxRetries != 3 || cfg.NetworkTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.EnableCompression || !cfg.EnableAutoCleanup || !cfg.EnableMetrics {
		t.Fatalf("expected compression, cleanup and metrics on, got %+v", cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ttl", func(c *Config) { c.DefaultTTL = 0 }},
		{"bad policy", func(c *Config) { c.Policy = CachePolicy(9) }},
		{"negative size", func(c *Config) { c.MaxCacheSize = -1 }},
		{"no attempts", func(c *Config) { c.MaxRetries = 0 }},
		{"zero interval", func(c *Config) { c.CleanupInterval = 0 }},
		{"negative l1", func(c *Config) { c.L1Entries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
			if _, err := FromConfig(cfg).Build(); err == nil {
				t.Fatal("expected Build to fail")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.EnableAutoCleanup = false
	cfg.CleanupInterval = 0
	if err := cfg.validate(); err != nil {
		t.Fatalf("interval is irrelevant without auto cleanup: %v", err)
	}
}

func TestBuilderSetters(t *testing.T) {
	cfg := NewBuilder().
		DatabasePath("/tmp/x.db").
		DefaultTTL(time.Minute).
		Policy(NetworkOnly).
		EnableCompression(false).
		MaxCacheSizeMB(2).
		NetworkTimeout(time.Second).
		MaxRetries(5).
		EnableAutoCleanup(false).
		CleanupInterval(time.Second).
		EnableMetrics(false).
		BaseURL("http://catalog").
		BearerToken("t").
		L1Entries(100).
		Redis("localhost:6379", "pw", 2).
		RateLimit(10, 3).
		Breaker(4, time.Minute).
		SingleFlight(true).
		Config()

	want := Config{
		DatabasePath:      "/tmp/x.db",
		DefaultTTL:        time.Minute,
		Policy:            NetworkOnly,
		MaxCacheSize:      2 << 20,
		NetworkTimeout:    time.Second,
		MaxRetries:        5,
		CleanupInterval:   time.Second,
		BaseURL:           "http://catalog",
		BearerToken:       "t",
		L1Entries:         100,
		RedisAddr:         "localhost:6379",
		RedisPassword:     "pw",
		RedisDB:           2,
		RateLimit:         10,
		RateBurst:         3,
		BreakerThreshold:  4,
		BreakerTimeout:    time.Minute,
		SingleFlight:      true,
		EnableCompression: false,
	}
	if cfg != want {
		t.Fatalf("got %+v\nwant %+v", cfg, want)
	}
}

func TestBuild_DefaultStorage(t *testing.T) {
	m, err := NewBuilder().WithLogger(quietLogger).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := m.store.(*storage.SQLite); !ok {
		t.Fatalf("expected SQLite storage, got %T", m.store)
	}

	m, err = NewBuilder().WithLogger(quietLogger).L1Entries(64).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := m.store.(*storage.Tiered); !ok {
		t.Fatalf("expected tiered storage, got %T", m.store)
	}
	_ = m.Close()

	m, err = NewBuilder().WithLogger(quietLogger).Redis("127.0.0.1:1", "", 0).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := m.store.(*storage.Redis); !ok {
		t.Fatalf("expected Redis storage, got %T", m.store)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("RAWRCACHE_POLICY", "network-first")
	t.Setenv("RAWRCACHE_DEFAULT_TTL", "10m")
	t.Setenv("RAWRCACHE_MAX_RETRIES", "7")
	t.Setenv("RAWRCACHE_ENABLE_COMPRESSION", "false")
	t.Setenv("RAWRCACHE_BASE_URL", "http://catalog.local")
	t.Setenv("RAWRCACHE_SINGLE_FLIGHT", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Policy != NetworkFirst || cfg.DefaultTTL != 10*time.Minute || cfg.MaxRetries != 7 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.EnableCompression || !cfg.SingleFlight || cfg.BaseURL != "http://catalog.local" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	// Unset variables keep their defaults.
	def := DefaultConfig()
	if cfg.DatabasePath != def.DatabasePath || cfg.CleanupInterval != def.CleanupInterval ||
		cfg.MaxCacheSize != def.MaxCacheSize || cfg.BreakerThreshold != def.BreakerThreshold {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"RAWRCACHE_POLICY":      "SOMETIMES",
		"RAWRCACHE_DEFAULT_TTL": "forever",
		"RAWRCACHE_MAX_RETRIES": "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadConfigFromEnv(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

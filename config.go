package rawrcache

import (
	"fmt"
	"time"

	"github.com/Keksclan/rawrcache/storage"
)

// MemoryDatabase is the DatabasePath value that keeps the cache in memory.
const MemoryDatabase = storage.MemoryPath

// Config is the process-wide cache configuration. It is fixed once a
// Manager is built, except for Policy which can be changed with
// [Manager.SetCachePolicy].
type Config struct {
	// DatabasePath is the SQLite file. MemoryDatabase keeps everything in
	// memory.
	DatabasePath string `env:"DATABASE_PATH" envDefault:":memory:"`
	// DefaultTTL is the lifetime of entries without a policy override.
	DefaultTTL time.Duration `env:"DEFAULT_TTL" envDefault:"1h"`
	Policy     CachePolicy   `env:"POLICY"      envDefault:"CACHE_FIRST"`
	// EnableCompression zstd-compresses payloads when that makes them
	// smaller.
	EnableCompression bool `env:"ENABLE_COMPRESSION" envDefault:"true"`
	// MaxCacheSize bounds the total original payload size in bytes. Zero
	// disables the bound.
	MaxCacheSize int64 `env:"MAX_CACHE_SIZE" envDefault:"104857600"`
	// NetworkTimeout bounds each network attempt.
	NetworkTimeout time.Duration `env:"NETWORK_TIMEOUT" envDefault:"30s"`
	// MaxRetries is the total number of attempts per network call.
	MaxRetries        int           `env:"MAX_RETRIES"         envDefault:"3"`
	EnableAutoCleanup bool          `env:"ENABLE_AUTO_CLEANUP" envDefault:"true"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL"    envDefault:"5m"`
	EnableMetrics     bool          `env:"ENABLE_METRICS"      envDefault:"true"`

	// BaseURL is the root of the upstream catalogue service.
	BaseURL     string `env:"BASE_URL"`
	BearerToken string `env:"BEARER_TOKEN"`
	// L1Entries sizes the in-process hot tier. Zero disables it.
	L1Entries int64 `env:"L1_ENTRIES"`
	// RedisAddr selects the Redis storage adapter instead of SQLite.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	// RateLimit caps outbound requests per second. Zero disables it.
	RateLimit float64 `env:"RATE_LIMIT"`
	RateBurst int     `env:"RATE_BURST" envDefault:"1"`
	// BreakerThreshold is the number of consecutive upstream failures that
	// open the circuit breaker. Zero disables it.
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerTimeout   time.Duration `env:"BREAKER_TIMEOUT"   envDefault:"30s"`
	// SingleFlight coalesces concurrent misses for the same key into one
	// upstream fetch.
	SingleFlight bool `env:"SINGLE_FLIGHT"`
}

func (c Config) validate() error {
	switch {
	case c.DefaultTTL <= 0:
		return fmt.Errorf("rawrcache: DefaultTTL must be positive, got %v", c.DefaultTTL)
	case !c.Policy.Valid():
		return fmt.Errorf("rawrcache: invalid policy %v", c.Policy)
	case c.MaxCacheSize < 0:
		return fmt.Errorf("rawrcache: MaxCacheSize must not be negative")
	case c.MaxRetries < 1:
		return fmt.Errorf("rawrcache: MaxRetries must be at least 1, got %d", c.MaxRetries)
	case c.EnableAutoCleanup && c.CleanupInterval <= 0:
		return fmt.Errorf("rawrcache: CleanupInterval must be positive when auto cleanup is enabled")
	case c.L1Entries < 0:
		return fmt.Errorf("rawrcache: L1Entries must not be negative")
	}
	return nil
}

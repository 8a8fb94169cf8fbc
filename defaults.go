package rawrcache

import "time"

// DefaultConfig returns the recommended configuration: an in-memory SQLite
// store, CACHE_FIRST, one hour TTL, compression on and a cleanup sweep every
// five minutes.
func DefaultConfig() Config {
	return Config{
		DatabasePath:      MemoryDatabase,
		DefaultTTL:        time.Hour,
		Policy:            CacheFirst,
		EnableCompression: true,
		MaxCacheSize:      100 << 20,
		NetworkTimeout:    30 * time.Second,
		MaxRetries:        3,
		EnableAutoCleanup: true,
		CleanupInterval:   5 * time.Minute,
		EnableMetrics:     true,
		RateBurst:         1,
		BreakerThreshold:  5,
		BreakerTimeout:    30 * time.Second,
	}
}

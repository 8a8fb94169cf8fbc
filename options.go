package rawrcache

import (
	"log/slog"
	"time"

	"github.com/Keksclan/rawrcache/network"
	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Keksclan/rawrcache"

// Builder assembles a Manager. Every Config field has a chainable setter;
// unset ports default to the SQLite storage adapter (Redis when RedisAddr is
// set, fronted by a ristretto tier when L1Entries > 0) and the HTTP catalogue
// client.
//
//	m, err := rawrcache.NewBuilder().
//		DatabasePath("/var/cache/rawrcache.db").
//		Policy(rawrcache.NetworkFirst).
//		MaxRetries(5).
//		Build()
type Builder struct {
	cfg       Config
	store     storage.Storage
	net       network.Catalog
	logger    *slog.Logger
	tp        trace.TracerProvider
	groups    []*policy.GroupBuilder
	observers []Observer
}

// NewBuilder starts from DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// FromConfig starts from cfg, for example one returned by LoadConfigFromEnv.
func FromConfig(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

func (b *Builder) DatabasePath(path string) *Builder {
	b.cfg.DatabasePath = path
	return b
}

func (b *Builder) DefaultTTL(d time.Duration) *Builder {
	b.cfg.DefaultTTL = d
	return b
}

func (b *Builder) Policy(p CachePolicy) *Builder {
	b.cfg.Policy = p
	return b
}

func (b *Builder) EnableCompression(on bool) *Builder {
	b.cfg.EnableCompression = on
	return b
}

// MaxCacheSize sets the size bound in bytes; zero disables it.
func (b *Builder) MaxCacheSize(bytes int64) *Builder {
	b.cfg.MaxCacheSize = bytes
	return b
}

// MaxCacheSizeMB sets the size bound in mebibytes.
func (b *Builder) MaxCacheSizeMB(mb int64) *Builder {
	b.cfg.MaxCacheSize = mb << 20
	return b
}

func (b *Builder) NetworkTimeout(d time.Duration) *Builder {
	b.cfg.NetworkTimeout = d
	return b
}

func (b *Builder) MaxRetries(n int) *Builder {
	b.cfg.MaxRetries = n
	return b
}

func (b *Builder) EnableAutoCleanup(on bool) *Builder {
	b.cfg.EnableAutoCleanup = on
	return b
}

func (b *Builder) CleanupInterval(d time.Duration) *Builder {
	b.cfg.CleanupInterval = d
	return b
}

func (b *Builder) EnableMetrics(on bool) *Builder {
	b.cfg.EnableMetrics = on
	return b
}

func (b *Builder) BaseURL(u string) *Builder {
	b.cfg.BaseURL = u
	return b
}

func (b *Builder) BearerToken(token string) *Builder {
	b.cfg.BearerToken = token
	return b
}

// L1Entries enables the in-process hot tier with room for n entries.
func (b *Builder) L1Entries(n int64) *Builder {
	b.cfg.L1Entries = n
	return b
}

// Redis selects the Redis storage adapter.
func (b *Builder) Redis(addr, password string, db int) *Builder {
	b.cfg.RedisAddr, b.cfg.RedisPassword, b.cfg.RedisDB = addr, password, db
	return b
}

// RateLimit paces upstream requests to rps per second with the given burst.
func (b *Builder) RateLimit(rps float64, burst int) *Builder {
	b.cfg.RateLimit, b.cfg.RateBurst = rps, burst
	return b
}

// Breaker opens the upstream circuit after threshold consecutive failures
// for openTimeout. A zero threshold disables it.
func (b *Builder) Breaker(threshold int, openTimeout time.Duration) *Builder {
	b.cfg.BreakerThreshold, b.cfg.BreakerTimeout = threshold, openTimeout
	return b
}

func (b *Builder) SingleFlight(on bool) *Builder {
	b.cfg.SingleFlight = on
	return b
}

// WithStorage replaces the default storage adapter. The adapter is used as
// given; storage-related Config fields do not apply to it.
func (b *Builder) WithStorage(s storage.Storage) *Builder {
	b.store = s
	return b
}

// WithNetwork replaces the default HTTP catalogue client.
func (b *Builder) WithNetwork(n network.Catalog) *Builder {
	b.net = n
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tp = tp
	return b
}

// WithTTLPolicies adds per-key TTL and timeout overrides, matched against
// cache keys such as "applications_remote:flathub".
func (b *Builder) WithTTLPolicies(groups ...*policy.GroupBuilder) *Builder {
	b.groups = append(b.groups, groups...)
	return b
}

func (b *Builder) WithObserver(o Observer) *Builder {
	b.observers = append(b.observers, o)
	return b
}

// Config returns the configuration assembled so far.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and returns a Manager. Call
// Initialize on it before use.
func (b *Builder) Build() (*Manager, error) {
	if err := b.cfg.validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := b.tp
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	store := b.store
	if store == nil {
		var err error
		if store, err = b.defaultStorage(); err != nil {
			return nil, err
		}
	}
	net := b.net
	if net == nil {
		net = network.NewHTTP(b.cfg.BaseURL,
			network.WithTimeout(b.cfg.NetworkTimeout),
			network.WithMaxRetries(b.cfg.MaxRetries),
			network.WithBreaker(b.cfg.BreakerThreshold, b.cfg.BreakerTimeout),
			network.WithRateLimit(b.cfg.RateLimit, b.cfg.RateBurst),
			network.WithTracerProvider(tp),
			network.WithLogger(logger),
		)
	}
	if b.cfg.BearerToken != "" {
		net.SetBearerToken(b.cfg.BearerToken)
	}

	m := &Manager{
		cfg:     b.cfg,
		store:   store,
		net:     net,
		ttl:     policy.NewResolver(b.groups...),
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
		metrics: newMetrics(),
		obs:     &observers{logger: logger},
		policy:  b.cfg.Policy,
		stop:    make(chan struct{}),
	}
	for _, o := range b.observers {
		m.obs.add(o)
	}
	return m, nil
}

func (b *Builder) defaultStorage() (storage.Storage, error) {
	opts := []storage.Option{storage.WithCompression(b.cfg.EnableCompression)}

	var backend storage.Storage
	if b.cfg.RedisAddr != "" {
		backend = storage.NewRedis(b.cfg.RedisAddr, b.cfg.RedisPassword, b.cfg.RedisDB, "", opts...)
	} else {
		backend = storage.NewSQLite(b.cfg.DatabasePath, opts...)
	}
	if b.cfg.L1Entries <= 0 {
		return backend, nil
	}
	return storage.NewTiered(backend, b.cfg.L1Entries)
}

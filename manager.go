package rawrcache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keksclan/rawrcache/catalog"
	"github.com/Keksclan/rawrcache/codec"
	"github.com/Keksclan/rawrcache/network"
	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/storage"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrNotInitialized is logged when a Manager is used before Initialize
// succeeded.
var ErrNotInitialized = errors.New("rawrcache: not initialized")

// Manager is the read-through cache. It is safe for concurrent use; build one
// with [Builder] and share it.
type Manager struct {
	cfg     Config
	store   storage.Storage
	net     network.Catalog
	ttl     *policy.Resolver
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
	obs     *observers
	flight  singleflight.Group

	policyMu sync.RWMutex
	policy   CachePolicy

	initMu      sync.Mutex
	initialized atomic.Bool

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Initialize prepares storage and starts the cleanup worker when enabled.
// Calling it again after success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized.Load() {
		return nil
	}
	select {
	case <-m.stop:
		return errors.New("rawrcache: manager is closed")
	default:
	}
	if err := m.store.Initialize(ctx); err != nil {
		m.logger.Error("cache storage failed to initialize", slog.Any("err", err))
		m.obs.storageError("initialize", err)
		return err
	}
	m.initialized.Store(true)
	m.refreshSize(ctx)

	if m.cfg.EnableAutoCleanup {
		m.wg.Add(1)
		go m.cleanupLoop(m.cfg.CleanupInterval)
	}
	m.logger.Info("cache initialized",
		slog.String("policy", m.CachePolicy().String()),
		slog.Duration("default_ttl", m.cfg.DefaultTTL),
		slog.String("max_size", humanize.IBytes(uint64(m.cfg.MaxCacheSize))))
	return nil
}

// ready logs and reports false when the manager is not initialized.
func (m *Manager) ready(op string) bool {
	if m.initialized.Load() {
		return true
	}
	m.logger.Error("cache used before initialization", slog.String("op", op), slog.Any("err", ErrNotInitialized))
	return false
}

// Get runs one lookup for key under the active policy. strategy handles the
// payload for T and fetch performs the upstream call. With forceRefresh the
// key is invalidated first so the lookup cannot return stale data.
//
// The boolean is false when no value could be produced; the cause is logged
// and reported to observers.
func Get[T any](ctx context.Context, m *Manager, key string, forceRefresh bool, strategy codec.Strategy[T], fetch func(context.Context) (T, error)) (T, bool) {
	var zero T
	if !m.ready("get") {
		return zero, false
	}
	if !strategy.ValidateKey(key) {
		m.logger.Warn("rejected cache key", slog.String("key", key))
		return zero, false
	}

	pol := m.CachePolicy()
	ctx, span := m.tracer.Start(ctx, "rawrcache.Get", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.policy", pol.String()),
		attribute.Bool("cache.force_refresh", forceRefresh),
	))
	defer span.End()

	// Under NETWORK_ONLY storage is never consulted, so there is nothing
	// stale to drop.
	if forceRefresh && pol != NetworkOnly {
		m.InvalidateKey(ctx, key)
	}

	var (
		v      T
		ok     bool
		source string
	)
	switch pol {
	case CacheOnly:
		v, ok = fromStorage(ctx, m, key, strategy)
		m.recordLookup(key, ok)
		source = "storage"

	case NetworkOnly:
		v, ok = fromNetwork(ctx, m, key, strategy, fetch)
		source = "network"

	case NetworkFirst:
		if v, ok = fromNetwork(ctx, m, key, strategy, fetch); ok {
			source = "network"
			break
		}
		v, ok = fromStorage(ctx, m, key, strategy)
		m.recordLookup(key, ok)
		source = "storage"

	default: // CacheFirst
		if v, ok = fromStorage(ctx, m, key, strategy); ok {
			m.recordLookup(key, true)
			source = "storage"
			break
		}
		m.recordLookup(key, false)
		source = "network"
		if v, ok = fromNetwork(ctx, m, key, strategy, fetch); ok {
			store(ctx, m, key, strategy, v)
		}
	}

	span.SetAttributes(attribute.String("cache.source", source), attribute.Bool("cache.found", ok))
	if !ok {
		span.SetStatus(codes.Error, "no data")
		return zero, false
	}
	return v, true
}

func (m *Manager) recordLookup(key string, hit bool) {
	if hit {
		if m.cfg.EnableMetrics {
			m.metrics.hits.Add(1)
		}
		m.obs.hit(key)
		return
	}
	if m.cfg.EnableMetrics {
		m.metrics.misses.Add(1)
	}
	m.obs.miss(key)
}

func fromStorage[T any](ctx context.Context, m *Manager, key string, s codec.Strategy[T]) (T, bool) {
	v, ok, err := codec.RetrieveData(ctx, s, m.store, key)
	if err != nil {
		m.logger.Warn("cache read failed, treating as miss", slog.String("key", key), slog.Any("err", err))
		m.obs.storageError("retrieve", err)
		return v, false
	}
	return v, ok
}

// fromNetwork fetches key upstream. With single-flight enabled concurrent
// callers share one fetch and each decodes its own copy of the result.
func fromNetwork[T any](ctx context.Context, m *Manager, key string, s codec.Strategy[T], fetch func(context.Context) (T, error)) (T, bool) {
	var zero T
	if !m.cfg.SingleFlight {
		v, err := fetchUpstream(ctx, m, key, fetch)
		if err != nil {
			return zero, false
		}
		return v, true
	}

	// The shared fetch is detached from the caller that started it so one
	// caller giving up does not fail the others; each caller stops waiting
	// when its own context ends.
	detached := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(key, func() (any, error) {
		return fetchUpstream(detached, m, key, func(ctx context.Context) ([]byte, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return s.Serialize(v)
		})
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		m.logger.Debug("stopped waiting for shared fetch", slog.String("key", key), slog.Any("err", ctx.Err()))
		return zero, false
	}
	if res.Err != nil {
		return zero, false
	}
	v, err := s.Deserialize(res.Val.([]byte))
	if err != nil {
		m.logger.Warn("decoding shared fetch failed", slog.String("key", key), slog.Any("err", err))
		return zero, false
	}
	return v, true
}

// fetchUpstream performs one upstream call with metrics, logging and the
// per-key timeout from the TTL policies.
func fetchUpstream[R any](ctx context.Context, m *Manager, key string, fn func(context.Context) (R, error)) (R, error) {
	if timeout := m.ttl.Timeout(key); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if m.cfg.EnableMetrics {
		m.metrics.networkCalls.Add(1)
	}
	v, err := fn(ctx)
	if err != nil {
		if m.cfg.EnableMetrics {
			m.metrics.networkErrors.Add(1)
		}
		m.logger.Warn("upstream fetch failed",
			slog.String("key", key),
			slog.Int("status", m.net.LastResponseCode()),
			slog.Any("err", err))
		m.obs.networkError(key, err)
		return v, err
	}
	return v, nil
}

func store[T any](ctx context.Context, m *Manager, key string, s codec.Strategy[T], v T) {
	if err := codec.CacheData(ctx, s, m.store, key, v); err != nil {
		if errors.Is(err, codec.ErrInvalidValue) || errors.Is(err, codec.ErrInvalidKey) {
			m.logger.Warn("refusing to cache value", slog.String("key", key), slog.Any("err", err))
			return
		}
		m.logger.Warn("cache write failed", slog.String("key", key), slog.Any("err", err))
		m.obs.storageError("store", err)
		return
	}
	m.enforceMaxSize(ctx, m.refreshSize(ctx))
}

// enforceMaxSize trims storage when it grew past MaxCacheSize and the
// adapter supports trimming.
func (m *Manager) enforceMaxSize(ctx context.Context, size int64) {
	if m.cfg.MaxCacheSize <= 0 || size <= m.cfg.MaxCacheSize {
		return
	}
	tr, ok := m.store.(storage.Trimmer)
	if !ok {
		m.logger.Warn("cache over size limit and storage cannot trim",
			slog.String("size", humanize.IBytes(uint64(size))),
			slog.String("limit", humanize.IBytes(uint64(m.cfg.MaxCacheSize))))
		return
	}
	n, err := tr.TrimTo(ctx, m.cfg.MaxCacheSize)
	if err != nil {
		m.logger.Warn("cache trim failed", slog.Any("err", err))
		m.obs.storageError("trim", err)
		return
	}
	after := m.refreshSize(ctx)
	m.logger.Info("cache trimmed",
		slog.Int64("removed", n),
		slog.String("size", humanize.IBytes(uint64(after))))
}

// refreshSize reads the storage size into the metrics and returns it.
func (m *Manager) refreshSize(ctx context.Context) int64 {
	size, err := m.store.CacheSize(ctx)
	if err != nil {
		m.logger.Warn("reading cache size failed", slog.Any("err", err))
		m.obs.storageError("size", err)
		return m.metrics.cacheSizeBytes.Load()
	}
	m.metrics.cacheSizeBytes.Store(size)
	return size
}

// jsonStrategy returns the JSON strategy used by the catalogue operations,
// with the TTL resolved for key.
func jsonStrategy[T any](m *Manager, key string, validate func(T) bool) codec.JSON[T] {
	return codec.NewJSON(m.ttl.TTL(key, m.cfg.DefaultTTL), validate)
}

// GetApplicationsInstalled returns the applications installed across all
// installations.
func (m *Manager) GetApplicationsInstalled(ctx context.Context, forceRefresh bool) ([]catalog.Application, bool) {
	key := BuildKey(OpApplicationsInstalled)
	return Get(ctx, m, key, forceRefresh,
		jsonStrategy(m, key, catalog.ValidList[catalog.Application]),
		m.net.ApplicationsInstalled)
}

// GetApplicationsRemote returns the applications offered by remote.
func (m *Manager) GetApplicationsRemote(ctx context.Context, forceRefresh bool, remote string) ([]catalog.Application, bool) {
	if strings.TrimSpace(remote) == "" {
		m.logger.Warn("remote name is required")
		return nil, false
	}
	key := BuildKey(OpApplicationsRemote, remote)
	return Get(ctx, m, key, forceRefresh,
		jsonStrategy(m, key, catalog.ValidList[catalog.Application]),
		func(ctx context.Context) ([]catalog.Application, error) {
			return m.net.ApplicationsRemote(ctx, remote)
		})
}

// GetUserInstallation returns the per-user installation.
func (m *Manager) GetUserInstallation(ctx context.Context, forceRefresh bool) (catalog.Installation, bool) {
	key := BuildKey(OpUserInstallation)
	return Get(ctx, m, key, forceRefresh,
		jsonStrategy(m, key, catalog.Installation.Valid),
		m.net.UserInstallation)
}

// GetSystemInstallations returns the system-wide installations.
func (m *Manager) GetSystemInstallations(ctx context.Context, forceRefresh bool) ([]catalog.Installation, bool) {
	key := BuildKey(OpSystemInstallations)
	return Get(ctx, m, key, forceRefresh,
		jsonStrategy(m, key, catalog.ValidList[catalog.Installation]),
		m.net.SystemInstallations)
}

// GetRemotes returns the remotes configured on an installation.
func (m *Manager) GetRemotes(ctx context.Context, forceRefresh bool, installationID string) ([]catalog.Remote, bool) {
	if strings.TrimSpace(installationID) == "" {
		m.logger.Warn("installation id is required")
		return nil, false
	}
	key := BuildKey(OpRemotes, installationID)
	return Get(ctx, m, key, forceRefresh,
		jsonStrategy(m, key, catalog.ValidList[catalog.Remote]),
		func(ctx context.Context) ([]catalog.Remote, error) {
			return m.net.Remotes(ctx, installationID)
		})
}

// SetCachePolicy switches the policy used by subsequent lookups. Unknown
// values are logged and ignored.
func (m *Manager) SetCachePolicy(p CachePolicy) {
	if !p.Valid() {
		m.logger.Error("rejected cache policy", slog.Int("policy", int(p)))
		return
	}
	m.policyMu.Lock()
	old := m.policy
	m.policy = p
	m.policyMu.Unlock()
	if old != p {
		m.logger.Info("cache policy changed", slog.String("from", old.String()), slog.String("to", p.String()))
	}
}

// CachePolicy returns the active policy.
func (m *Manager) CachePolicy() CachePolicy {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	return m.policy
}

// ForceCleanup removes expired entries now and returns how many were
// removed.
func (m *Manager) ForceCleanup(ctx context.Context) int64 {
	if !m.ready("cleanup") {
		return 0
	}
	n, err := m.store.CleanupExpired(ctx)
	if err != nil {
		m.logger.Warn("cache cleanup failed", slog.Any("err", err))
		m.obs.storageError("cleanup", err)
		return 0
	}
	size := m.refreshSize(ctx)
	if n > 0 {
		if m.cfg.EnableMetrics {
			m.metrics.expiredEntries.Add(n)
		}
		m.obs.expired(n)
	}
	m.obs.cleanup(n, size)
	m.logger.Debug("cache cleanup finished",
		slog.Int64("removed", n),
		slog.String("size", humanize.IBytes(uint64(size))))
	return n
}

// InvalidateAll removes every entry.
func (m *Manager) InvalidateAll(ctx context.Context) bool {
	if !m.ready("invalidate_all") {
		return false
	}
	if err := m.store.Invalidate(ctx, ""); err != nil {
		m.logger.Warn("invalidating cache failed", slog.Any("err", err))
		m.obs.storageError("invalidate", err)
		return false
	}
	m.refreshSize(ctx)
	return true
}

// InvalidateKey removes one entry. The empty key is rejected; use
// InvalidateAll to clear the cache.
func (m *Manager) InvalidateKey(ctx context.Context, key string) bool {
	if !m.ready("invalidate") {
		return false
	}
	if key == "" {
		m.logger.Warn("refusing to invalidate the empty key")
		return false
	}
	if err := m.store.Invalidate(ctx, key); err != nil {
		m.logger.Warn("invalidating key failed", slog.String("key", key), slog.Any("err", err))
		m.obs.storageError("invalidate", err)
		return false
	}
	m.refreshSize(ctx)
	return true
}

// IsHealthy reports whether storage is initialized. Upstream reachability is
// not part of health.
func (m *Manager) IsHealthy() bool {
	return m.initialized.Load()
}

// IsNetworkAvailable probes the upstream catalogue.
func (m *Manager) IsNetworkAvailable(ctx context.Context) bool {
	return m.net.IsNetworkAvailable(ctx)
}

// CacheSize returns the total original size of live entries in bytes.
func (m *Manager) CacheSize(ctx context.Context) int64 {
	if !m.ready("size") {
		return 0
	}
	return m.refreshSize(ctx)
}

// Metrics returns a copy of the current counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// AddObserver registers obs for all subsequent events.
func (m *Manager) AddObserver(obs Observer) {
	m.obs.add(obs)
}

// SetBearerToken sets the token sent upstream; empty clears it.
func (m *Manager) SetBearerToken(token string) {
	m.net.SetBearerToken(token)
}

// Close stops the cleanup worker, waits for it to exit and closes storage.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.initMu.Lock()
		close(m.stop)
		m.initMu.Unlock()
		m.wg.Wait()
		m.initialized.Store(false)
		err = m.store.Close()
	})
	return err
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ForceCleanup(context.Background())
		case <-m.stop:
			return
		}
	}
}

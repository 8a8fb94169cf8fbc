package rawrcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/catalog"
	"github.com/Keksclan/rawrcache/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var errUpstream = errors.New("upstream down")

// fakeCatalog is a network.Catalog serving fixed data with call counters.
type fakeCatalog struct {
	calls   atomic.Int32
	fail    atomic.Bool
	started chan struct{} // receives once per call when non-nil
	release chan struct{} // calls block on it when non-nil

	mu    sync.Mutex
	apps  []catalog.Application
	token string
}

func newFakeCatalog(apps ...catalog.Application) *fakeCatalog {
	return &fakeCatalog{apps: apps}
}

func (f *fakeCatalog) enter(ctx context.Context) error {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail.Load() {
		return errUpstream
	}
	return nil
}

func (f *fakeCatalog) Fetch(ctx context.Context, _ string, _ map[string]string) (string, error) {
	return "", f.enter(ctx)
}

func (f *fakeCatalog) Post(ctx context.Context, _ string, _ url.Values, _ map[string]string) (string, error) {
	return "", f.enter(ctx)
}

func (f *fakeCatalog) IsNetworkAvailable(context.Context) bool { return !f.fail.Load() }

func (f *fakeCatalog) LastResponseCode() int {
	if f.fail.Load() {
		return 503
	}
	return 200
}

func (f *fakeCatalog) SetBearerToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeCatalog) bearer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeCatalog) list() []catalog.Application {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.apps)
}

func (f *fakeCatalog) ApplicationsInstalled(ctx context.Context) ([]catalog.Application, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	return f.list(), nil
}

func (f *fakeCatalog) ApplicationsRemote(ctx context.Context, remote string) ([]catalog.Application, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	apps := f.list()
	for i := range apps {
		apps[i].Origin = remote
	}
	return apps, nil
}

func (f *fakeCatalog) UserInstallation(ctx context.Context) (catalog.Installation, error) {
	if err := f.enter(ctx); err != nil {
		return catalog.Installation{}, err
	}
	return catalog.Installation{ID: "user", Path: "/home/u/.local/share/flatpak", IsUser: true}, nil
}

func (f *fakeCatalog) SystemInstallations(ctx context.Context) ([]catalog.Installation, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	return []catalog.Installation{{ID: "default", Path: "/var/lib/flatpak"}}, nil
}

func (f *fakeCatalog) Remotes(ctx context.Context, installationID string) ([]catalog.Remote, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	return []catalog.Remote{{Name: "flathub", URL: "https://dl.flathub.org/repo/", Title: installationID}}, nil
}

// countingStore wraps the in-memory adapter and counts every call.
type countingStore struct {
	*storage.Memory
	reads    atomic.Int32
	writes   atomic.Int32
	cleanups atomic.Int32
	closes   atomic.Int32
	failRead atomic.Bool
}

func newCountingStore(opts ...storage.Option) *countingStore {
	return &countingStore{Memory: storage.NewMemory(opts...)}
}

func (c *countingStore) Store(ctx context.Context, key string, payload []byte, expiry time.Time) error {
	c.writes.Add(1)
	return c.Memory.Store(ctx, key, payload, expiry)
}

func (c *countingStore) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	c.reads.Add(1)
	if c.failRead.Load() {
		return nil, false, errors.New("disk on fire")
	}
	return c.Memory.Retrieve(ctx, key)
}

func (c *countingStore) Invalidate(ctx context.Context, key string) error {
	c.writes.Add(1)
	return c.Memory.Invalidate(ctx, key)
}

func (c *countingStore) CleanupExpired(ctx context.Context) (int64, error) {
	c.cleanups.Add(1)
	return c.Memory.CleanupExpired(ctx)
}

func (c *countingStore) Close() error {
	c.closes.Add(1)
	return c.Memory.Close()
}

func (c *countingStore) touched() int32 {
	return c.reads.Load() + c.writes.Load()
}

// countingObserver counts events per kind.
type countingObserver struct {
	NopObserver
	hits, misses, expired, cleanups, netErrs, storeErrs atomic.Int32
}

func (o *countingObserver) OnCacheHit(string)            { o.hits.Add(1) }
func (o *countingObserver) OnCacheMiss(string)           { o.misses.Add(1) }
func (o *countingObserver) OnCacheExpired(int64)         { o.expired.Add(1) }
func (o *countingObserver) OnCleanup(int64, int64)       { o.cleanups.Add(1) }
func (o *countingObserver) OnNetworkError(string, error) { o.netErrs.Add(1) }
func (o *countingObserver) OnStorageError(string, error) { o.storeErrs.Add(1) }

var testApps = []catalog.Application{{Name: "firefox"}, {Name: "libreoffice"}}

type testEnv struct {
	m     *Manager
	net   *fakeCatalog
	store *countingStore
	obs   *countingObserver
}

// newTestEnv builds an initialized manager over fakes. configure may adjust
// the builder before Build.
func newTestEnv(t *testing.T, configure func(*Builder)) *testEnv {
	t.Helper()
	env := &testEnv{
		net:   newFakeCatalog(testApps...),
		store: newCountingStore(),
		obs:   &countingObserver{},
	}
	b := NewBuilder().
		EnableAutoCleanup(false).
		WithLogger(quietLogger).
		WithStorage(env.store).
		WithNetwork(env.net).
		WithObserver(env.obs)
	if configure != nil {
		configure(b)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := m.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	env.m = m
	return env
}

package rawrcache

import (
	"log/slog"
	"slices"
	"sync"
)

// Observer receives cache events. Callbacks run synchronously on the
// goroutine that produced the event and must not block.
type Observer interface {
	OnCacheHit(key string)
	OnCacheMiss(key string)
	// OnCacheExpired reports entries removed by a cleanup sweep.
	OnCacheExpired(count int64)
	OnCleanup(removed int64, sizeBytes int64)
	OnNetworkError(key string, err error)
	OnStorageError(op string, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type NopObserver struct{}

func (NopObserver) OnCacheHit(string)            {}
func (NopObserver) OnCacheMiss(string)           {}
func (NopObserver) OnCacheExpired(int64)         {}
func (NopObserver) OnCleanup(int64, int64)       {}
func (NopObserver) OnNetworkError(string, error) {}
func (NopObserver) OnStorageError(string, error) {}

var _ Observer = NopObserver{}

// observers is a copy-on-write registry. Notifications iterate a snapshot
// taken under the lock, so callbacks never run while it is held.
type observers struct {
	mu     sync.RWMutex
	list   []Observer
	logger *slog.Logger
}

func (o *observers) add(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	o.list = append(slices.Clip(o.list), obs)
	o.mu.Unlock()
}

func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.list
}

// each calls fn for every observer. A panicking observer is logged and
// skipped.
func (o *observers) each(fn func(Observer)) {
	for _, obs := range o.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("observer panicked", slog.Any("panic", r))
				}
			}()
			fn(obs)
		}()
	}
}

func (o *observers) hit(key string)  { o.each(func(obs Observer) { obs.OnCacheHit(key) }) }
func (o *observers) miss(key string) { o.each(func(obs Observer) { obs.OnCacheMiss(key) }) }

func (o *observers) expired(n int64) { o.each(func(obs Observer) { obs.OnCacheExpired(n) }) }

func (o *observers) cleanup(removed, size int64) {
	o.each(func(obs Observer) { obs.OnCleanup(removed, size) })
}

func (o *observers) networkError(key string, err error) {
	o.each(func(obs Observer) { obs.OnNetworkError(key, err) })
}

func (o *observers) storageError(op string, err error) {
	o.each(func(obs Observer) { obs.OnStorageError(op, err) })
}

// Package metrics exports cache activity to Prometheus. [Observer] turns
// cache events into counters as they happen; [Collector] reads a Manager's
// in-process counters at scrape time.
package metrics

import (
	"errors"
	"fmt"

	"github.com/Keksclan/rawrcache"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rawrcache"

// Observer is a rawrcache.Observer backed by Prometheus counters.
type Observer struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	expired       prometheus.Counter
	cleanups      prometheus.Counter
	sizeBytes     prometheus.Gauge
	networkErrors prometheus.Counter
	storageErrors *prometheus.CounterVec
}

var _ rawrcache.Observer = (*Observer)(nil)

// NewObserver creates the counters and registers them with reg, or with
// prometheus.DefaultRegisterer when reg is nil. Registering twice with the
// same registry reuses the already registered collectors.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_hits_total",
			Help: "Lookups answered from storage.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_misses_total",
			Help: "Lookups storage could not answer.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_expired_entries_total",
			Help: "Entries removed by cleanup sweeps.",
		}),
		cleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_cleanups_total",
			Help: "Completed cleanup sweeps.",
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "events_size_bytes",
			Help: "Cache size reported by the last cleanup sweep.",
		}),
		networkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_network_errors_total",
			Help: "Failed upstream fetches.",
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_storage_errors_total",
			Help: "Storage faults by operation.",
		}, []string{"op"}),
	}

	var err error
	o.hits = register(reg, o.hits, &err)
	o.misses = register(reg, o.misses, &err)
	o.expired = register(reg, o.expired, &err)
	o.cleanups = register(reg, o.cleanups, &err)
	o.sizeBytes = register(reg, o.sizeBytes, &err)
	o.networkErrors = register(reg, o.networkErrors, &err)
	o.storageErrors = register(reg, o.storageErrors, &err)
	if err != nil {
		return nil, fmt.Errorf("metrics: register observer: %w", err)
	}
	return o, nil
}

// register registers c, returning the existing collector when an identical
// one is already registered. The first other failure is stored in errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (o *Observer) OnCacheHit(string)  { o.hits.Inc() }
func (o *Observer) OnCacheMiss(string) { o.misses.Inc() }

func (o *Observer) OnCacheExpired(count int64) { o.expired.Add(float64(count)) }

func (o *Observer) OnCleanup(_ int64, sizeBytes int64) {
	o.cleanups.Inc()
	o.sizeBytes.Set(float64(sizeBytes))
}

func (o *Observer) OnNetworkError(string, error) { o.networkErrors.Inc() }

func (o *Observer) OnStorageError(op string, _ error) {
	o.storageErrors.WithLabelValues(op).Inc()
}

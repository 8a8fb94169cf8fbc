package metrics

import (
	"github.com/Keksclan/rawrcache"
	"github.com/prometheus/client_golang/prometheus"
)

// Source is satisfied by *rawrcache.Manager.
type Source interface {
	Metrics() rawrcache.MetricsSnapshot
}

// Collector is a prometheus.Collector reporting a Manager's counters as they
// are at scrape time.
type Collector struct {
	src Source

	hits, misses, networkCalls, networkErrors, expired *prometheus.Desc
	sizeBytes, hitRatio, uptime                        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for src. Register it with a registry:
//
//	prometheus.MustRegister(metrics.NewCollector(manager))
func NewCollector(src Source) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		src:           src,
		hits:          desc("hits_total", "Lookups answered from storage."),
		misses:        desc("misses_total", "Lookups storage could not answer."),
		networkCalls:  desc("network_calls_total", "Upstream fetches issued."),
		networkErrors: desc("network_errors_total", "Upstream fetches that failed."),
		expired:       desc("expired_entries_total", "Entries removed by cleanup."),
		sizeBytes:     desc("size_bytes", "Original size of live entries."),
		hitRatio:      desc("hit_ratio", "hits / (hits + misses)."),
		uptime:        desc("uptime_seconds", "Seconds since the manager was built."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.networkCalls
	ch <- c.networkErrors
	ch <- c.expired
	ch <- c.sizeBytes
	ch <- c.hitRatio
	ch <- c.uptime
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Metrics()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.networkCalls, s.NetworkCalls)
	counter(c.networkErrors, s.NetworkErrors)
	counter(c.expired, s.ExpiredEntries)
	gauge(c.sizeBytes, float64(s.CacheSizeBytes))
	gauge(c.hitRatio, s.HitRatio())
	gauge(c.uptime, s.Uptime().Seconds())
}

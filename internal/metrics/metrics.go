// Package metrics holds the Prometheus collectors of the storefront service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheEvictions   prometheus.Counter
	StoreMutations   *prometheus.CounterVec
	StoreEntries     *prometheus.GaugeVec
	RemoteFailures   *prometheus.CounterVec
	CatalogQueries   *prometheus.CounterVec
	QueriesDiscarded prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Tests pass prometheus.NewRegistry() to stay isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Results cache reads that returned a fresh entry",
		}, []string{"region"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Results cache reads that found nothing or an expired entry",
		}, []string{"region"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Expired results cache entries removed",
		}),
		StoreMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commerce",
			Name:      "mutations_total",
			Help:      "Effective mutations applied to a commerce store",
		}, []string{"store", "op"}),
		StoreEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "commerce",
			Name:      "entries",
			Help:      "Entries currently held by a commerce store",
		}, []string{"store"}),
		RemoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "remote_failures_total",
			Help:      "Remote catalog calls that failed and degraded to an empty result",
		}, []string{"operation"}),
		CatalogQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "queries_total",
			Help:      "Catalog queries served, by filter mode",
		}, []string{"mode"}),
		QueriesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "queries_superseded_total",
			Help:      "Catalog query results discarded because a newer query was issued",
		}),
	}
}

func (m *Metrics) CacheHit(region string) {
	if m != nil {
		m.CacheHits.WithLabelValues(region).Inc()
	}
}

func (m *Metrics) CacheMiss(region string) {
	if m != nil {
		m.CacheMisses.WithLabelValues(region).Inc()
	}
}

func (m *Metrics) CacheEvicted(n int) {
	if m != nil && n > 0 {
		m.CacheEvictions.Add(float64(n))
	}
}

// StoreMutated records an effective mutation and the resulting entry count.
func (m *Metrics) StoreMutated(store, op string, entries int) {
	if m == nil {
		return
	}
	m.StoreMutations.WithLabelValues(store, op).Inc()
	m.StoreEntries.WithLabelValues(store).Set(float64(entries))
}

func (m *Metrics) RemoteFailed(operation string) {
	if m != nil {
		m.RemoteFailures.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) CatalogQueried(mode string) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "none"
	}
	m.CatalogQueries.WithLabelValues(mode).Inc()
}

func (m *Metrics) QuerySuperseded() {
	if m != nil {
		m.QueriesDiscarded.Inc()
	}
}

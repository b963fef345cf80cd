package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cache behavior. A nil *Metrics is valid and records
// nothing, so tests and callers without a registry skip instrumentation.
type Metrics struct {
	cacheHits     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	refreshErrors *prometheus.CounterVec
}

// NewMetrics registers discovery counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_discovery_cache_hits_total",
			Help: "Registry list calls served from the TTL cache.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_discovery_refreshes_total",
			Help: "Successful registry refreshes.",
		}, []string{"kind"}),
		refreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_discovery_refresh_errors_total",
			Help: "Registry refreshes that failed and left the cache stale.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.cacheHits, m.refreshes, m.refreshErrors)
	return m
}

func (m *Metrics) cacheHit(kind string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind).Inc()
}

func (m *Metrics) refresh(kind string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(kind).Inc()
}

func (m *Metrics) refreshError(kind string) {
	if m == nil {
		return
	}
	m.refreshErrors.WithLabelValues(kind).Inc()
}

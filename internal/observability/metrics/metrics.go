package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes tariff-core counters. Collectors are created unregistered
// so tests can construct Metrics freely; Register attaches them to a
// registry once at startup.
type Metrics struct {
	CacheHits            *prometheus.CounterVec
	CacheMisses          *prometheus.CounterVec
	StoreFallbacks       prometheus.Counter
	InvalidationsSent    prometheus.Counter
	InvalidationsApplied prometheus.Counter
	CalculationErrors    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tariff_cache_hits_total",
			Help: "Tariff cache hits by layer (local, shared).",
		}, []string{"layer"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tariff_cache_misses_total",
			Help: "Tariff cache misses by layer (local, shared).",
		}, []string{"layer"}),
		StoreFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tariff_cache_store_fallbacks_total",
			Help: "Loads served directly from the tariff store because the shared cache was unreachable or slow.",
		}),
		InvalidationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tariff_invalidations_sent_total",
			Help: "Invalidation messages published after administrative writes.",
		}),
		InvalidationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tariff_invalidations_applied_total",
			Help: "Invalidation messages received and applied to the local cache.",
		}),
		CalculationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tariff_calculation_errors_total",
			Help: "Calculation requests rejected with a calculation error.",
		}),
	}
}

// Register attaches all collectors to the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.CacheHits,
		m.CacheMisses,
		m.StoreFallbacks,
		m.InvalidationsSent,
		m.InvalidationsApplied,
		m.CalculationErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

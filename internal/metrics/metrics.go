package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters for one dataset and its cache. Each instance has
// its own registry so several datasets can live in one process.
type Metrics struct {
	registry       *prometheus.Registry
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheStores    prometheus.Counter
	cacheSkipped   prometheus.Counter
	extractions    prometheus.Counter
	itemErrors     *prometheus.CounterVec
	itemDuration   prometheus.Histogram
	framesProduced prometheus.Counter
}

// New creates and registers the dataset metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepfake_cache_hits_total",
			Help: "Items served from the disk cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepfake_cache_misses_total",
			Help: "Items not found in the disk cache",
		}),
		cacheStores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepfake_cache_stores_total",
			Help: "Entries written to the disk cache",
		}),
		cacheSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepfake_cache_stores_skipped_total",
			Help: "Stores ignored because the key was already present",
		}),
		extractions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepfake_extractions_total",
			Help: "Videos decoded by the frame extractor",
		}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepfake_item_errors_total",
			Help: "Failed item loads, by error kind",
		}, []string{"kind"}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deepfake_item_compute_seconds",
			Help:    "Time to extract and transform one uncached item",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		framesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepfake_frames_transformed_total",
			Help: "Frames passed through the transform pipeline",
		}),
	}

	registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.cacheStores,
		m.cacheSkipped,
		m.extractions,
		m.itemErrors,
		m.itemDuration,
		m.framesProduced,
	)
	return m
}

// The methods below are nil-safe so callers can leave metrics unset.

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) IncCacheStore() {
	if m != nil {
		m.cacheStores.Inc()
	}
}

func (m *Metrics) IncCacheStoreSkipped() {
	if m != nil {
		m.cacheSkipped.Inc()
	}
}

func (m *Metrics) IncExtraction() {
	if m != nil {
		m.extractions.Inc()
	}
}

func (m *Metrics) IncItemError(kind string) {
	if m != nil {
		m.itemErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveItemCompute(seconds float64, frames int) {
	if m != nil {
		m.itemDuration.Observe(seconds)
		m.framesProduced.Add(float64(frames))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics in text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

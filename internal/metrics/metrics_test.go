package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.IncCacheHit()
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncCacheStore()
	m.IncItemError("decode")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheStores))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemErrors.WithLabelValues("decode")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncCacheHit()
	m.IncExtraction()
	m.ObserveItemCompute(1, 3)
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncExtraction()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "deepfake_extractions_total 1"))
}

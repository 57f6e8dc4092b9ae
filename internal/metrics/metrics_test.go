package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/health", 200, time.Millisecond)
		m.Activation("trial", "ok")
		m.Query("trial", "ok")
		m.CacheLookup(true)
		m.CacheEviction()
		m.Upstream("ok", time.Second)
		m.StoreUp(true)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.CacheEviction()
	m.Query("premium", "ok")
	m.StoreUp(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("premium", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeUp))

	m.StoreUp(false)
	assert.Zero(t, testutil.ToFloat64(m.storeUp))
}

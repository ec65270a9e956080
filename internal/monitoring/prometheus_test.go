package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusServiceRegistersMetrics(t *testing.T) {
	ps := NewPrometheusService("test_prom", 0)

	g, err := ps.NewGauge("gauge_a", "a gauge")
	require.NoError(t, err)
	g.Set(3)
	g.Inc()
	got, ok := ps.GetGauge("gauge_a")
	require.True(t, ok)
	assert.Same(t, g, got)

	c, err := ps.NewCounter("counter_a", "a counter")
	require.NoError(t, err)
	c.Inc()
	_, ok = ps.GetCounter("counter_a")
	assert.True(t, ok)

	h, err := ps.NewHistogram("hist_a", "a histogram", LatencyBucketsMicroseconds)
	require.NoError(t, err)
	h.Observe(250)
	_, ok = ps.GetHistogram("hist_a")
	assert.True(t, ok)

	_, ok = ps.GetGauge("missing")
	assert.False(t, ok)

	assert.Equal(t, "prometheus monitoring on :0", ps.Info())
}

func TestPrometheusServiceStopWithoutStartIsNoop(t *testing.T) {
	ps := NewPrometheusService("test_prom_stop", 0)
	assert.NotPanics(t, ps.Stop)
}

package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileServiceGaugeCounter(t *testing.T) {
	fs := NewFileService("test", false)

	g, err := fs.NewGauge(MetricOpRouteCount, "in-flight routes")
	require.NoError(t, err)
	g.Inc()
	g.Inc()
	g.Dec()
	g.Add(5)
	g.Sub(2)

	got, ok := fs.GetGauge(MetricOpRouteCount)
	require.True(t, ok)
	assert.Equal(t, g, got)
	assert.Equal(t, float64(4), got.(*fileGauge).Get())

	c, err := fs.NewCounter(MetricOpRouteCountAll, "total routes")
	require.NoError(t, err)
	c.Inc()
	c.Add(3)
	gotC, ok := fs.GetCounter(MetricOpRouteCountAll)
	require.True(t, ok)
	assert.Equal(t, float64(4), gotC.(*fileCounter).Get())

	_, ok = fs.GetGauge("unknown")
	assert.False(t, ok)
}

func TestFileHistogramObserveIsCumulative(t *testing.T) {
	fs := NewFileService("test", false)
	h, err := fs.NewHistogram(MetricOpLatencyRoute, "route latency", []float64{100, 1000})
	require.NoError(t, err)

	fh := h.(*fileHistogram)
	fh.Observe(50)
	fh.Observe(500)
	fh.Observe(5000)

	assert.Equal(t, uint64(1), fh.counts[0])
	assert.Equal(t, uint64(2), fh.counts[1])
	assert.Equal(t, uint64(3), fh.counts[2])
}

func TestFileServiceStartStopWithoutWriteIsNoop(t *testing.T) {
	fs := NewFileService("test-noop", false)
	done := make(chan struct{})
	go func() {
		fs.Start()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() with write=false should return immediately")
	}
	fs.Stop()
	assert.Equal(t, "file monitoring at "+fs.path, fs.Info())
}

func TestFileServiceTimer(t *testing.T) {
	fs := NewFileService("test-timer", false)
	tm := fs.Timer()

	start := tm.NewTimer()
	time.Sleep(time.Millisecond)
	elapsed := tm.GetTimer(start)
	assert.Greater(t, elapsed, time.Duration(0))

	name := tm.NewTimerNamed("op")
	assert.Equal(t, "op", name)
	elapsed, err := tm.GetTimerNamed("op")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))

	_, err = tm.GetTimerNamed("op")
	assert.Error(t, err)

	_, err = tm.GetTimerNamed("never-started")
	assert.Error(t, err)
}

// Package monitoring exposes the metric primitives the ACN peer uses to
// report on its own operation: route latency and throughput, DHT lookup
// latency, and delegate/relay client counts. Two implementations are
// provided, matching the teacher's own split: a dependency-free FileService
// that periodically dumps a flat stats file, and a PrometheusService that
// serves a scrape endpoint via github.com/prometheus/client_golang.
package monitoring

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(count float64)
	Sub(count float64)
}

// Counter is a metric that only ever increases.
type Counter interface {
	Inc()
	Add(count float64)
}

// Histogram samples observations into a fixed set of buckets.
type Histogram interface {
	Observe(value float64)
}

// Timer hands out handles that measure elapsed wall-clock time, either
// anonymously (NewTimer/GetTimer) or keyed by name for call sites that can't
// hold on to a time.Time across goroutines (NewTimerNamed/GetTimerNamed).
type Timer interface {
	NewTimer() time.Time
	GetTimer(start time.Time) time.Duration
	NewTimerNamed(name string) string
	GetTimerNamed(name string) (time.Duration, error)
}

// Service is the metrics backend a Peer reports through. Metrics are
// registered once at startup (NewGauge/NewCounter/NewHistogram) and fetched
// by name at each call site (GetGauge/GetCounter/GetHistogram), mirroring
// the teacher's dhtPeer.monitor usage throughout routing and registration.
type Service interface {
	NewGauge(name string, description string) (Gauge, error)
	GetGauge(name string) (Gauge, bool)
	NewCounter(name string, description string) (Counter, error)
	GetCounter(name string) (Counter, bool)
	NewHistogram(name string, description string, buckets []float64) (Histogram, error)
	GetHistogram(name string) (Histogram, bool)
	Start()
	Stop()
	Info() string
	Timer() Timer
}

// Metric names, shared between registration (setupMonitoring) and every
// instrumented call site.
const (
	MetricDHTOpLatencyStore              = "dht_op_latency_store"
	MetricDHTOpLatencyLookup             = "dht_op_latency_lookup"
	MetricOpLatencyRegister              = "op_latency_register"
	MetricOpLatencyRoute                 = "op_latency_route"
	MetricOpRouteCount                   = "op_route_count"
	MetricOpRouteCountAll                = "op_route_count_all"
	MetricOpRouteCountSuccess            = "op_route_count_success"
	MetricServiceDelegateClientsCount    = "service_delegate_clients_count"
	MetricServiceDelegateClientsCountAll = "service_delegate_clients_count_all"
	MetricServiceRelayClientsCount       = "service_relay_clients_count"
	MetricServiceRelayClientsCountAll    = "service_relay_clients_count_all"
)

// LatencyBucketsMicroseconds are the default histogram buckets for every
// latency metric above, expressed in microseconds.
var LatencyBucketsMicroseconds = []float64{100, 500, 1e3, 1e4, 1e5, 5e5, 1e6}

// timer is the shared Timer implementation used by both backends: it is
// pure bookkeeping over a map, with no dependency on which backend stores
// the resulting durations.
type timer struct {
	mu   sync.Mutex
	list map[string]time.Time
}

func newTimer() *timer {
	return &timer{list: map[string]time.Time{}}
}

func (t *timer) NewTimer() time.Time {
	return time.Now()
}

func (t *timer) GetTimer(start time.Time) time.Duration {
	return time.Since(start)
}

func (t *timer) NewTimerNamed(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list[name] = time.Now()
	return name
}

func (t *timer) GetTimerNamed(name string) (time.Duration, error) {
	t.mu.Lock()
	start, ok := t.list[name]
	if ok {
		delete(t.list, name)
	}
	t.mu.Unlock()
	if !ok {
		return 0, errors.Errorf("monitoring: unknown timer %q", name)
	}
	return time.Since(start), nil
}

package monitoring

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusService is a Service backed by github.com/prometheus/client_golang,
// serving a "/metrics" scrape endpoint on Port, grounded on the teacher's
// PrometheusMonitoring.
type PrometheusService struct {
	Namespace string
	Port      uint16

	mu          sync.RWMutex
	gaugeDict   map[string]prometheus.Gauge
	counterDict map[string]prometheus.Counter
	histoDict   map[string]prometheus.Histogram
	timer       *timer

	server  *http.Server
	running bool
}

func NewPrometheusService(namespace string, port uint16) *PrometheusService {
	return &PrometheusService{
		Namespace:   namespace,
		Port:        port,
		gaugeDict:   map[string]prometheus.Gauge{},
		counterDict: map[string]prometheus.Counter{},
		histoDict:   map[string]prometheus.Histogram{},
		timer:       newTimer(),
	}
}

func (ps *PrometheusService) NewGauge(name, description string) (Gauge, error) {
	g := promauto.NewGauge(prometheus.GaugeOpts{Namespace: ps.Namespace, Name: name, Help: description})
	ps.mu.Lock()
	ps.gaugeDict[name] = g
	ps.mu.Unlock()
	return g, nil
}

func (ps *PrometheusService) GetGauge(name string) (Gauge, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	g, ok := ps.gaugeDict[name]
	return g, ok
}

func (ps *PrometheusService) NewCounter(name, description string) (Counter, error) {
	c := promauto.NewCounter(prometheus.CounterOpts{Namespace: ps.Namespace, Name: name, Help: description})
	ps.mu.Lock()
	ps.counterDict[name] = c
	ps.mu.Unlock()
	return c, nil
}

func (ps *PrometheusService) GetCounter(name string) (Counter, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	c, ok := ps.counterDict[name]
	return c, ok
}

func (ps *PrometheusService) NewHistogram(name, description string, buckets []float64) (Histogram, error) {
	h := promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ps.Namespace,
		Name:      name,
		Help:      description,
		Buckets:   buckets,
	})
	ps.mu.Lock()
	ps.histoDict[name] = h
	ps.mu.Unlock()
	return h, nil
}

func (ps *PrometheusService) GetHistogram(name string) (Histogram, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	h, ok := ps.histoDict[name]
	return h, ok
}

func (ps *PrometheusService) Start() {
	ps.mu.Lock()
	if ps.running {
		ps.mu.Unlock()
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	ps.server = &http.Server{Addr: ":" + strconv.Itoa(int(ps.Port)), Handler: mux}
	ps.running = true
	ps.mu.Unlock()

	ps.server.ListenAndServe()
}

func (ps *PrometheusService) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.running || ps.server == nil {
		return
	}
	ps.server.Shutdown(context.Background())
	ps.running = false
}

func (ps *PrometheusService) Info() string {
	return "prometheus monitoring on :" + strconv.Itoa(int(ps.Port))
}

func (ps *PrometheusService) Timer() Timer {
	return ps.timer
}

package monitoring

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// fileGauge, fileCounter and fileHistogram are in-memory metric storage
// backing FileService, grounded on the teacher's FileGauge/FileCounter/
// FileHistogram in dht/monitoring/file.go.
type fileGauge struct {
	mu    sync.RWMutex
	value float64
}

func (g *fileGauge) Set(v float64) { g.mu.Lock(); g.value = v; g.mu.Unlock() }
func (g *fileGauge) Inc()          { g.Add(1) }
func (g *fileGauge) Dec()          { g.Sub(1) }
func (g *fileGauge) Add(v float64) { g.mu.Lock(); g.value += v; g.mu.Unlock() }
func (g *fileGauge) Sub(v float64) { g.mu.Lock(); g.value -= v; g.mu.Unlock() }
func (g *fileGauge) Get() float64  { g.mu.RLock(); defer g.mu.RUnlock(); return g.value }

type fileCounter struct {
	mu    sync.RWMutex
	value float64
}

func (c *fileCounter) Inc()          { c.Add(1) }
func (c *fileCounter) Add(v float64) { c.mu.Lock(); c.value += v; c.mu.Unlock() }
func (c *fileCounter) Get() float64  { c.mu.RLock(); defer c.mu.RUnlock(); return c.value }

type fileHistogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
}

func (h *fileHistogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := 0
	for i < len(h.buckets) {
		if value <= h.buckets[i] {
			h.counts[i]++
		}
		i++
	}
	h.counts[i]++
}

// FileService is a dependency-free Service that keeps every metric in
// memory and, when write is enabled, periodically dumps gauges and counters
// to a flat "<namespace>.stats" file in the working directory. It exists so
// a peer can run with monitoring enabled without standing up a Prometheus
// scrape target, grounded on the teacher's FileMonitoring.
type FileService struct {
	Namespace string

	mu          sync.RWMutex
	gaugeDict   map[string]*fileGauge
	counterDict map[string]*fileCounter
	histoDict   map[string]*fileHistogram

	timer *timer

	path    string
	write   bool
	closing chan struct{}
}

// NewFileService builds a FileService under namespace. When write is true,
// Start begins a background loop dumping stats to disk every 5 seconds.
func NewFileService(namespace string, write bool) *FileService {
	cwd, _ := os.Getwd()
	return &FileService{
		Namespace:   namespace,
		gaugeDict:   map[string]*fileGauge{},
		counterDict: map[string]*fileCounter{},
		histoDict:   map[string]*fileHistogram{},
		timer:       newTimer(),
		path:        cwd + "/" + namespace + ".stats",
		write:       write,
	}
}

func (fs *FileService) NewGauge(name, _ string) (Gauge, error) {
	g := &fileGauge{}
	fs.mu.Lock()
	fs.gaugeDict[name] = g
	fs.mu.Unlock()
	return g, nil
}

func (fs *FileService) GetGauge(name string) (Gauge, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	g, ok := fs.gaugeDict[name]
	return g, ok
}

func (fs *FileService) NewCounter(name, _ string) (Counter, error) {
	c := &fileCounter{}
	fs.mu.Lock()
	fs.counterDict[name] = c
	fs.mu.Unlock()
	return c, nil
}

func (fs *FileService) GetCounter(name string) (Counter, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	c, ok := fs.counterDict[name]
	return c, ok
}

func (fs *FileService) NewHistogram(name, _ string, buckets []float64) (Histogram, error) {
	h := &fileHistogram{buckets: buckets, counts: make([]uint64, len(buckets)+1)}
	fs.mu.Lock()
	fs.histoDict[name] = h
	fs.mu.Unlock()
	return h, nil
}

func (fs *FileService) GetHistogram(name string) (Histogram, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	h, ok := fs.histoDict[name]
	return h, ok
}

func (fs *FileService) Start() {
	fs.mu.Lock()
	if fs.closing != nil || !fs.write {
		fs.mu.Unlock()
		return
	}
	fs.closing = make(chan struct{})
	fs.mu.Unlock()

	file, err := os.OpenFile(fs.path, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return
	}
	defer file.Close()
	for {
		select {
		case <-fs.closing:
			return
		default:
			file.Truncate(0)
			file.Seek(0, 0)
			file.WriteString(fs.stats())
			time.Sleep(5 * time.Second)
		}
	}
}

func (fs *FileService) Stop() {
	fs.mu.RLock()
	closing := fs.closing
	fs.mu.RUnlock()
	if closing != nil {
		close(closing)
	}
}

func (fs *FileService) stats() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out string
	for name, g := range fs.gaugeDict {
		out += fs.Namespace + "_" + name + " " + fmt.Sprintf("%e", g.Get()) + "\n"
	}
	for name, c := range fs.counterDict {
		out += fs.Namespace + "_" + name + " " + fmt.Sprintf("%e", c.Get()) + "\n"
	}
	return out
}

func (fs *FileService) Info() string {
	return "file monitoring at " + fs.path
}

func (fs *FileService) Timer() Timer {
	return fs.timer
}

package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "teamchat"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterCounter(name string)
	RegisterGaugeFunc(name string, fn func() float64)
}

type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewStatsUpdater creates a new stats updater and serves its metrics on
// GET /metrics.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}
	su.initializeMetrics()
	mux.Handle("GET /metrics", su.Handler())

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	startTime := time.Now()
	su.RegisterGaugeFunc("uptime_seconds", func() float64 {
		return time.Since(startTime).Seconds()
	})
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return g
}

// Incr increments the gauge or counter registered under name.
func (su *StatsUpdater) Incr(name string) {
	su.mu.RLock()
	c, ok := su.counters[name]
	su.mu.RUnlock()
	if ok {
		c.Inc()
		return
	}
	su.gauge(name).Inc()
}

// Decr only applies to gauges; counters never go down.
func (su *StatsUpdater) Decr(name string) {
	su.gauge(name).Dec()
}

// RegisterMetric adds a gauge moved by Incr and Decr. Registering the same
// name twice keeps the first gauge.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

// RegisterCounter adds a counter moved by Incr. Registering the same name
// twice keeps the first counter.
func (su *StatsUpdater) RegisterCounter(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.counters[name]; ok {
		return
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
	})
	su.registry.MustRegister(c)
	su.counters[name] = c
}

// RegisterGaugeFunc adds a gauge whose value is read from fn at scrape time.
func (su *StatsUpdater) RegisterGaugeFunc(name string, fn func() float64) {
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
	}, fn))
}

// Package metrics provides Prometheus metrics for monitoring the browser farm.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// Pool gauge names as emitted to metric sinks.
const (
	TotalInstances  = "browser_pool.total_instances"
	BusyInstances   = "browser_pool.busy_instances"
	IdleInstances   = "browser_pool.idle_instances"
	QueueDepth      = "browser_pool.queue_depth"
	TotalNodes      = "browser_farm.total_nodes"
	OnlineNodes     = "browser_farm.online_nodes"
	MemoryUsageMB   = "browser_pool.memory_usage_mb"
	CPUUsagePercent = "browser_pool.cpu_usage_percent"
	AvgResponseTime = "browser_pool.avg_response_time"
	ErrorRate       = "browser_pool.error_rate"
)

var gaugeHelp = map[string]string{
	TotalInstances:  "Browser instances tracked by the pool",
	BusyInstances:   "Browser instances currently serving a job",
	IdleInstances:   "Browser instances ready or idle",
	QueueDepth:      "Jobs waiting for a browser instance",
	TotalNodes:      "Registered execution nodes",
	OnlineNodes:     "Execution nodes in online status",
	MemoryUsageMB:   "Memory used by all instances in MB",
	CPUUsagePercent: "Average CPU usage of instances in percent",
	AvgResponseTime: "Average page load time of instances in milliseconds",
	ErrorRate:       "Average instance error rate in percent",
}

var (
	// PoolGauges holds one gauge per pool metric, keyed by dotted name.
	PoolGauges = func() map[string]prometheus.Gauge {
		g := make(map[string]prometheus.Gauge, len(gaugeHelp))
		for name, help := range gaugeHelp {
			g[name] = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: PromName(name),
				Help: help,
			})
		}
		return g
	}()

	// EventsTotal counts pool events by name.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserfarm_events_total",
			Help: "Total pool events emitted by name",
		},
		[]string{"event"},
	)

	// ScalingActions counts executed scaling actions by direction.
	ScalingActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserfarm_scaling_actions_total",
			Help: "Total scaling actions executed",
		},
		[]string{"action"},
	)

	// RequestsTotal counts admin API requests by route and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserfarm_requests_total",
			Help: "Total number of admin API requests processed",
		},
		[]string{"route", "status"},
	)

	// RequestDuration tracks admin API request duration by route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browserfarm_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"route"},
	)

	// PanicsTotal counts handler panics recovered by the admin API.
	PanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserfarm_handler_panics_total",
			Help: "Total admin API handler panics recovered",
		},
		[]string{"route"},
	)

	// MemoryUsageBytes shows current memory usage of the manager process.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserfarm_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserfarm_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browserfarm_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	for _, g := range PoolGauges {
		prometheus.MustRegister(g)
	}
	prometheus.MustRegister(
		EventsTotal,
		ScalingActions,
		RequestsTotal,
		RequestDuration,
		PanicsTotal,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// PromName converts a dotted metric name into a Prometheus-safe one.
func PromName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Sink receives pool gauge samples by dotted name.
type Sink interface {
	Gauge(name string, value float64)
}

// PrometheusSink writes gauge samples to the registered pool gauges.
type PrometheusSink struct{}

// Gauge implements Sink. Unknown names are ignored.
func (PrometheusSink) Gauge(name string, value float64) {
	if g, ok := PoolGauges[name]; ok {
		g.Set(value)
	}
}

// MemorySink keeps the last sample per name. It is safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{values: make(map[string]float64)}
}

// Gauge implements Sink.
func (s *MemorySink) Gauge(name string, value float64) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

// Get returns the last sample for name.
func (s *MemorySink) Get(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// Publish writes every pool gauge derived from stats to sink.
func Publish(sink Sink, stats types.PoolStats) {
	if sink == nil {
		return
	}
	sink.Gauge(TotalInstances, float64(stats.TotalInstances))
	sink.Gauge(BusyInstances, float64(stats.BusyInstances))
	sink.Gauge(IdleInstances, float64(stats.ReadyInstances+stats.IdleInstances))
	sink.Gauge(QueueDepth, float64(stats.QueueDepth))
	sink.Gauge(TotalNodes, float64(stats.TotalNodes))
	sink.Gauge(OnlineNodes, float64(stats.OnlineNodes))
	sink.Gauge(MemoryUsageMB, stats.MemoryUsageMB)
	sink.Gauge(CPUUsagePercent, stats.CPUUsagePercent)
	sink.Gauge(AvgResponseTime, float64(stats.AvgResponseTime.Milliseconds()))
	sink.Gauge(ErrorRate, stats.ErrorRate)
}

// EventCounter counts pool events into Prometheus.
type EventCounter struct{}

// Consume implements events.Sink.
func (EventCounter) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		EventsTotal.WithLabelValues(string(evt.Name)).Inc()
		switch evt.Name {
		case events.ScaledUp:
			ScalingActions.WithLabelValues(string(types.ScaleUp)).Inc()
		case events.ScaledDown:
			ScalingActions.WithLabelValues(string(types.ScaleDown)).Inc()
		}
	}
	return nil
}

// Close implements events.Sink.
func (EventCounter) Close(context.Context) error { return nil }

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed admin API request.
func RecordRequest(route, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(route, status).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordPanic counts a recovered handler panic.
func RecordPanic(route string) {
	PanicsTotal.WithLabelValues(route).Inc()
}

// Package metrics exposes Prometheus instrumentation for the console.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stageBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics bundles the console collectors. A nil *Metrics is valid and
// records nothing, so components can be wired without instrumentation.
type Metrics struct {
	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	cacheRequests  *prometheus.CounterVec
	cacheRetries   prometheus.Counter
	realtimeEvents *prometheus.CounterVec
	reconnects     prometheus.Counter
}

// New registers the console collectors on reg, tolerating collectors that
// were already registered by an earlier instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetform",
			Subsystem: "console",
			Name:      "pipeline_stages_total",
			Help:      "Count of pipeline stage outcomes",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetform",
			Subsystem: "console",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Latency distribution of pipeline stages",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetform",
			Subsystem: "console",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}),
		cacheRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetform",
			Subsystem: "console",
			Name:      "cache_retries_total",
			Help:      "Loader retries performed by the cache",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetform",
			Subsystem: "console",
			Name:      "realtime_events_total",
			Help:      "Push channel events by envelope type",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetform",
			Subsystem: "console",
			Name:      "realtime_reconnects_total",
			Help:      "Push channel reconnect attempts",
		}),
	}

	m.stageTotal = registerCounterVec(reg, m.stageTotal)
	m.stageDuration = registerHistogramVec(reg, m.stageDuration)
	m.cacheRequests = registerCounterVec(reg, m.cacheRequests)
	m.cacheRetries = registerCounter(reg, m.cacheRetries)
	m.realtimeEvents = registerCounterVec(reg, m.realtimeEvents)
	m.reconnects = registerCounter(reg, m.reconnects)
	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return h
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

// StageResult records the outcome of one pipeline stage.
func (m *Metrics) StageResult(stage, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.With(prometheus.Labels{"stage": stage, "outcome": outcome}).Inc()
	m.stageDuration.With(prometheus.Labels{"stage": stage}).Observe(duration.Seconds())
}

// CacheRequest records a cache lookup result (hit or miss).
func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.With(prometheus.Labels{"result": result}).Inc()
}

// CacheRetry records one loader retry.
func (m *Metrics) CacheRetry() {
	if m == nil {
		return
	}
	m.cacheRetries.Inc()
}

// RealtimeEvent records one push-channel envelope by type.
func (m *Metrics) RealtimeEvent(eventType string) {
	if m == nil {
		return
	}
	m.realtimeEvents.With(prometheus.Labels{"type": eventType}).Inc()
}

// Reconnect records one push-channel reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

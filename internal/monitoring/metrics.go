// Package monitoring - metrics.go provides Prometheus metrics.
//
// DESIGN: One Metrics value owns every collector the system emits:
//   - gateway: proxied request counts/latency per provider, breaker opens
//   - capture: captures_submitted / primary_ok / fallback / dropped
//   - store:   embedding write outcomes, re-embed queue depth
//
// Collectors register against an injected Registerer so tests can use an
// isolated registry without duplicate-registration panics.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	ProxiedRequests *prometheus.CounterVec
	ProxyLatency    *prometheus.HistogramVec
	BreakerOpens    *prometheus.CounterVec

	CapturesSubmitted prometheus.Counter
	CapturesPrimaryOK prometheus.Counter
	CapturesFallback  prometheus.Counter
	CapturesDropped   prometheus.Counter
	FallbackOverflow  prometheus.Counter

	EmbeddingWrites   *prometheus.CounterVec
	ReembedQueueDepth prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg)
}

// NewMetricsWithRegistry registers all collectors on the given registry.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		ProxiedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codepromptu_proxied_requests_total",
			Help: "Proxied LLM requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProxyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codepromptu_proxy_latency_seconds",
			Help:    "End-to-end proxy latency by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codepromptu_breaker_opens_total",
			Help: "Circuit breaker open transitions by provider.",
		}, []string{"provider"}),
		CapturesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepromptu_captures_submitted_total",
			Help: "Capture contexts handed to the pipeline.",
		}),
		CapturesPrimaryOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepromptu_captures_primary_ok_total",
			Help: "Captures delivered on the primary path.",
		}),
		CapturesFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepromptu_captures_fallback_total",
			Help: "Captures diverted to the fallback queue.",
		}),
		CapturesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepromptu_captures_dropped_total",
			Help: "Captures dropped after exhausting retries.",
		}),
		FallbackOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepromptu_fallback_overflow_total",
			Help: "Oldest entries evicted from a full fallback queue.",
		}),
		EmbeddingWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codepromptu_embedding_writes_total",
			Help: "Embedding write attempts by outcome.",
		}, []string{"outcome"}),
		ReembedQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codepromptu_reembed_queue_depth",
			Help: "Prompts awaiting re-embedding.",
		}),
	}

	reg.MustRegister(
		m.ProxiedRequests, m.ProxyLatency, m.BreakerOpens,
		m.CapturesSubmitted, m.CapturesPrimaryOK, m.CapturesFallback,
		m.CapturesDropped, m.FallbackOverflow,
		m.EmbeddingWrites, m.ReembedQueueDepth,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProxy records one proxied request.
func (m *Metrics) ObserveProxy(provider, outcome string, latency time.Duration) {
	m.ProxiedRequests.WithLabelValues(provider, outcome).Inc()
	m.ProxyLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// Package metrics holds the Prometheus collectors of the gateway. Every
// method is safe on a nil *Metrics, which is how metrics are disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "speech_gateway"

// Synthesis outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics is the gateway's collector set on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	synthesis        *prometheus.CounterVec
	synthesisLatency *prometheus.HistogramVec
	audioBytes       prometheus.Counter
	audioSeconds     prometheus.Counter
	tokensIssued     prometheus.Counter
	authRejections   *prometheus.CounterVec
	workerEvents     *prometheus.CounterVec
}

// New creates and registers the collectors. activeTokens, if not nil, is
// sampled for the active token gauge.
func New(activeTokens func() int) *Metrics {
	registry := prometheus.NewRegistry()

	metrics := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Number of engine calls by format and outcome.",
		}, []string{"format", "outcome"}),
		synthesisLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Engine call latency by format.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"format"}),
		audioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Bytes of audio produced.",
		}),
		audioSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio produced, for formats that can be probed.",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Number of access tokens issued.",
		}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejections_total",
			Help:      "Number of rejected credentials by reason.",
		}, []string{"reason"}),
		workerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_events_total",
			Help:      "Number of async synthesis events by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.requests,
		metrics.requestDuration,
		metrics.synthesis,
		metrics.synthesisLatency,
		metrics.audioBytes,
		metrics.audioSeconds,
		metrics.tokensIssued,
		metrics.authRejections,
		metrics.workerEvents,
	)

	if activeTokens != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tokens",
			Help:      "Number of tracked access tokens, including expired ones not yet evicted.",
		}, func() float64 { return float64(activeTokens()) }))
	}

	return metrics
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveSynthesis records one engine call.
func (m *Metrics) ObserveSynthesis(format, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.synthesis.WithLabelValues(format, outcome).Inc()
	m.synthesisLatency.WithLabelValues(format).Observe(elapsed.Seconds())
}

// ObserveAudio records produced audio. A zero duration is not counted.
func (m *Metrics) ObserveAudio(size int, duration time.Duration) {
	if m == nil {
		return
	}

	m.audioBytes.Add(float64(size))

	if duration > 0 {
		m.audioSeconds.Add(duration.Seconds())
	}
}

// TokenIssued counts an issued token.
func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}

	m.tokensIssued.Inc()
}

// AuthRejected counts a rejected credential.
func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}

	m.authRejections.WithLabelValues(reason).Inc()
}

// WorkerEvent counts a processed async event.
func (m *Metrics) WorkerEvent(outcome string) {
	if m == nil {
		return
	}

	m.workerEvents.WithLabelValues(outcome).Inc()
}

// Package metrics exposes pipeline and dashboard counters in the Prometheus
// text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lecturekit"

// Metrics holds every collector on its own registry. All methods are safe on
// a nil receiver so callers can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	backendFallbacks  prometheus.Counter
	segmentsRewritten prometheus.Counter
	segmentsDropped   prometheus.Counter
	feedbackSaved     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New registers the collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by mode and outcome.",
		}, []string{"mode", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"mode"}),
		backendFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_fallbacks_total",
			Help:      "Transcriptions retried on the fallback backend.",
		}),
		segmentsRewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_rewritten_total",
			Help:      "Analysis segments whose explanation was normalized.",
		}),
		segmentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Blank analysis segments dropped during reassembly.",
		}),
		feedbackSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_saved_total",
			Help:      "Feedback records saved, by accuracy label.",
		}, []string{"accuracy"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Dashboard HTTP requests.",
		}, []string{"method", "route", "code"}),
	}
	m.Registry.MustRegister(
		m.runs,
		m.runDuration,
		m.backendFallbacks,
		m.segmentsRewritten,
		m.segmentsDropped,
		m.feedbackSaved,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRun records one pipeline run.
func (m *Metrics) ObserveRun(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// Fallback counts a switch to the fallback ASR backend.
func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.backendFallbacks.Inc()
}

// Segments adds the outcome of one segment rewrite pass.
func (m *Metrics) Segments(rewritten, dropped int) {
	if m == nil {
		return
	}
	m.segmentsRewritten.Add(float64(rewritten))
	m.segmentsDropped.Add(float64(dropped))
}

// FeedbackSaved counts a saved feedback record under its accuracy label.
func (m *Metrics) FeedbackSaved(label string) {
	if m == nil {
		return
	}
	if label == "" {
		label = "unlabeled"
	}
	m.feedbackSaved.WithLabelValues(label).Inc()
}

// HTTPRequest counts one dashboard request.
func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Package metrics defines the console's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunsActive      prometheus.Gauge
	RunsRejected    *prometheus.CounterVec
	TranscriptLines *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "typhonweb_runs_total",
				Help: "Completed engine runs by mode and status",
			},
			[]string{"mode", "status"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "typhonweb_run_duration_seconds",
				Help:    "Engine run duration",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "typhonweb_runs_active",
			Help: "Engine runs currently executing",
		}),
		RunsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "typhonweb_runs_rejected_total",
				Help: "Run requests rejected before the engine started",
			},
			[]string{"reason"},
		),
		TranscriptLines: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "typhonweb_transcript_lines_total",
				Help: "Engine output lines by normalizer outcome",
			},
			[]string{"outcome"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "typhonweb_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "typhonweb_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RunStarted marks a run as executing.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

// RunFinished records a completed run.
func (m *Metrics) RunFinished(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RunRejected records a request refused before the engine started.
func (m *Metrics) RunRejected(reason string) {
	if m == nil {
		return
	}
	m.RunsRejected.WithLabelValues(reason).Inc()
}

// Lines records normalizer counters for one run.
func (m *Metrics) Lines(input, output, folded, collapsed int) {
	if m == nil {
		return
	}
	m.TranscriptLines.WithLabelValues("input").Add(float64(input))
	m.TranscriptLines.WithLabelValues("output").Add(float64(output))
	m.TranscriptLines.WithLabelValues("folded").Add(float64(folded))
	m.TranscriptLines.WithLabelValues("collapsed").Add(float64(collapsed))
}

// Request records one HTTP request.
func (m *Metrics) Request(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

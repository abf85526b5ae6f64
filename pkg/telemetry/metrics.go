package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for catprev. All methods are safe on
// a disabled (no-op) instance so call sites never branch on configuration.
type Metrics struct {
	config MetricsConfig

	compilesTotal   *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	checkerIssues   *prometheus.CounterVec
	factIngests     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		compilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compiles_total",
				Help:      "Total number of compilation passes by pass and outcome",
			},
			[]string{"pass", "outcome"},
		),
		compileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Duration of compilation passes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pass"},
		),
		checkerIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checker_issues_total",
				Help:      "Total migration checker issues by severity",
			},
			[]string{"severity"},
		),
		factIngests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_ingest_total",
				Help:      "Total fact payload ingestions by format",
			},
			[]string{"format"},
		),
	}

	registry.MustRegister(m.compilesTotal, m.compileDuration, m.checkerIssues, m.factIngests)

	return m, nil
}

// ObservePass records one compilation pass.
func (m *Metrics) ObservePass(pass string, duration time.Duration, err error) {
	if m == nil || m.registry == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.compilesTotal.WithLabelValues(pass, outcome).Inc()
	m.compileDuration.WithLabelValues(pass).Observe(duration.Seconds())
}

// ObserveCheckerIssue records one accumulated migration issue.
func (m *Metrics) ObserveCheckerIssue(severity string) {
	if m == nil || m.registry == nil {
		return
	}
	m.checkerIssues.WithLabelValues(severity).Inc()
}

// ObserveFactIngest records one fact payload ingestion.
func (m *Metrics) ObserveFactIngest(format string) {
	if m == nil || m.registry == nil {
		return
	}
	m.factIngests.WithLabelValues(format).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint, or nil if
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

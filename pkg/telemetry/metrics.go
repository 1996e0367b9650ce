package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for deployctl.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phasesExecuted *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec

	// Rollback metrics
	rollbacksInvoked *prometheus.CounterVec

	// Pre-flight metrics
	preflightIssues *prometheus.CounterVec

	// Snapshot metrics
	snapshotsCaptured *prometheus.CounterVec
	probeDuration     *prometheus.HistogramVec
	probeFailures     *prometheus.CounterVec

	// Verification metrics
	verificationsCompleted *prometheus.CounterVec
	driftDetections        *prometheus.CounterVec

	// Concurrency probe metrics
	raceAttempts *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"kind"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "status"},
		),

		phasesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_executed_total",
				Help:      "Total number of phase invocations by outcome",
			},
			[]string{"phase", "outcome"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase body execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),

		rollbacksInvoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_invoked_total",
				Help:      "Total number of rollback compensations by outcome",
			},
			[]string{"phase", "outcome"},
		),

		preflightIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preflight_issues_total",
				Help:      "Total number of pre-flight validation issues",
			},
			[]string{"check"},
		),

		snapshotsCaptured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_captured_total",
				Help:      "Total number of snapshots captured",
			},
			[]string{"outcome"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of domain probe collection in seconds",
				Buckets:   buckets,
			},
			[]string{"domain"},
		),
		probeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_failures_total",
				Help:      "Total number of domain probes that reported unavailable",
			},
			[]string{"domain"},
		),

		verificationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_completed_total",
				Help:      "Total number of idempotency verifications by verdict",
			},
			[]string{"verdict"},
		),
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drifted domains reported by verifications",
			},
			[]string{"domain"},
		),

		raceAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "race_attempts_total",
				Help:      "Total number of concurrency probe attempts by outcome",
			},
			[]string{"mode", "outcome"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phasesExecuted,
		m.phaseDuration,
		m.rollbacksInvoked,
		m.preflightIssues,
		m.snapshotsCaptured,
		m.probeDuration,
		m.probeFailures,
		m.verificationsCompleted,
		m.driftDetections,
		m.raceAttempts,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(kind string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(kind, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Phase Metrics

// RecordPhase records one phase invocation with its outcome and duration.
func (m *Metrics) RecordPhase(phase, outcome string, duration time.Duration) {
	if m.phasesExecuted == nil {
		return
	}
	m.phasesExecuted.WithLabelValues(phase, outcome).Inc()
	if outcome != "skipped" {
		m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	}
}

// RecordRollback records a rollback compensation invocation.
func (m *Metrics) RecordRollback(phase, outcome string) {
	if m.rollbacksInvoked == nil {
		return
	}
	m.rollbacksInvoked.WithLabelValues(phase, outcome).Inc()
}

// RecordPreflightIssue records one pre-flight validation issue.
func (m *Metrics) RecordPreflightIssue(check string) {
	if m.preflightIssues == nil {
		return
	}
	m.preflightIssues.WithLabelValues(check).Inc()
}

// Snapshot Metrics

// RecordSnapshotCaptured records a completed snapshot capture.
func (m *Metrics) RecordSnapshotCaptured(outcome string) {
	if m.snapshotsCaptured == nil {
		return
	}
	m.snapshotsCaptured.WithLabelValues(outcome).Inc()
}

// RecordProbe records one domain probe collection.
func (m *Metrics) RecordProbe(domain string, duration time.Duration, unavailable bool) {
	if m.probeDuration == nil {
		return
	}
	m.probeDuration.WithLabelValues(domain).Observe(duration.Seconds())
	if unavailable {
		m.probeFailures.WithLabelValues(domain).Inc()
	}
}

// Verification Metrics

// RecordVerification records a completed idempotency verification.
func (m *Metrics) RecordVerification(verdict string) {
	if m.verificationsCompleted == nil {
		return
	}
	m.verificationsCompleted.WithLabelValues(verdict).Inc()
}

// RecordDrift records one drifted domain from a verification.
func (m *Metrics) RecordDrift(domain string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(domain).Inc()
}

// RecordRaceAttempt records one concurrency probe attempt outcome.
func (m *Metrics) RecordRaceAttempt(mode, outcome string) {
	if m.raceAttempts == nil {
		return
	}
	m.raceAttempts.WithLabelValues(mode, outcome).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

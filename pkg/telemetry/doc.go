// Package telemetry provides comprehensive observability instrumentation for deployctl.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging deployment runs and idempotency verifications.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "deployctl"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithRunID("run-123").WithPhaseID("firewall")
//	logger.Info("Executing phase")
//	logger.WithError(err).Error("Phase failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and performance:
//
//	ctx, span := tel.Tracer.StartSpan(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("phase.id", phaseID),
//	    attribute.Int("phase.ordinal", ordinal),
//	)
//
//	// Record events
//	span.AddEvent("preflight.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record run execution
//	tel.Metrics.RecordRunStarted("deploy")
//	tel.Metrics.RecordRunCompleted("deploy", "succeeded", duration)
//
//	// Record phase execution
//	tel.Metrics.RecordPhase("firewall", "succeeded", duration)
//
//	// Record snapshot probes
//	tel.Metrics.RecordProbe("packages", duration, false)
//
//	// Record verification verdicts
//	tel.Metrics.RecordVerification("idempotent")
//
// Metrics are exposed via HTTP at /metrics (default: :9102/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishRunStarted(runID, "deploy", "production")
//	tel.Events.PublishPhaseCompleted(runID, phaseID, duration)
//	tel.Events.PublishDriftDetected(runID, domain)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByPhaseID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "snapshot.capture",
//	    attribute.String("snapshot.label", label))
//	defer ic.End(err)
//
//	ic.Logger.Info("Capturing snapshot")
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, runID, "deploy", environment)
//	defer telemetry.EndRunContext(ctx, runID, "deploy", status, err)
//
//	// Phase context
//	ctx = telemetry.WithPhaseContext(ctx, runID, phaseID, ordinal)
//	defer telemetry.EndPhaseContext(ctx, runID, phaseID, outcome, exitStatus, err)
//
//	// Probe operation
//	err := telemetry.RecordProbeOperation(ctx, "packages", func() error {
//	    return probe.Collect(ctx)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (console logging, tracing off, metrics off)
//	cfg := telemetry.DefaultConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling, metrics on)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//   - All buffered events are published
//   - All pending traces are exported
//   - Metrics are finalized
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - deployctl_runs_started_total{kind}
//   - deployctl_runs_completed_total{kind,status}
//   - deployctl_run_duration_seconds{kind,status}
//   - deployctl_phases_executed_total{phase,outcome}
//   - deployctl_phase_duration_seconds{phase}
//   - deployctl_rollbacks_invoked_total{phase,outcome}
//   - deployctl_snapshots_captured_total{outcome}
//   - deployctl_probe_duration_seconds{domain}
//   - deployctl_verifications_completed_total{verdict}
//   - deployctl_drift_detections_total{domain}
//   - deployctl_race_attempts_total{mode,outcome}
//   - deployctl_active_runs
package telemetry

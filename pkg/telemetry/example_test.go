package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/mentat-ops/deployctl/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "deployctl"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking, no-op when metrics are disabled)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("orchestrator")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"run_id": "run-123",
		"phase":  "firewall",
	})

	// Log at different levels
	logger.Debug("Resolving phase script")
	logger.Info("Phase completed")
	logger.Warn("Phase skipped by operator request")

	// Log with error
	err := fmt.Errorf("script exited with status 42")
	logger.WithError(err).Error("Phase failed")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "deploy.run")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		attribute.String("run.id", "run-789"),
		attribute.Int("phases.total", 8),
	)

	// Add event
	span.AddEvent("preflight.complete")

	// Nested span
	ctx, childSpan := tel.Tracer.Start(ctx, "phase.execute")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("phase.id", "ssl_certificates"),
		attribute.Int("phase.ordinal", 5),
	)

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record run metrics
	tel.Metrics.RecordRunStarted("deploy")

	// Simulate run execution
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordRunCompleted("deploy", "succeeded", duration)

	// Record phase metrics
	tel.Metrics.RecordPhase(
		"firewall",          // phase
		"succeeded",         // outcome
		25*time.Millisecond, // duration
	)

	// Record probe metrics
	tel.Metrics.RecordProbe("packages", 15*time.Millisecond, false)

	// Record verification metrics
	tel.Metrics.RecordVerification("idempotent")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishRunStarted("run-123", "deploy", "staging")
	tel.Events.PublishPhaseStarted("run-123", "user_setup", 1)
	tel.Events.PublishPhaseCompleted("run-123", "user_setup", 25*time.Millisecond)

	// Output varies due to async nature, no output specified
}

// Example_runInstrumentation demonstrates instrumenting a complete run.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start run context
	runID := "run-123"
	ctx = telemetry.WithRunContext(ctx, runID, "deploy", "staging")

	// Execute run (simulated)
	executePhase(ctx, runID)

	// End run context
	telemetry.EndRunContext(ctx, runID, "deploy", "succeeded", nil)

	fmt.Println("Run instrumentation complete")
	// Output: Run instrumentation complete
}

func executePhase(ctx context.Context, runID string) {
	// Simulate phase execution
	phaseID := "ssh_setup"
	ordinal := 2

	ctx = telemetry.WithPhaseContext(ctx, runID, phaseID, ordinal)

	// Get logger from context
	logger := telemetry.FromContext(ctx)
	logger.Info("Executing phase")

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// End phase context
	telemetry.EndPhaseContext(ctx, runID, phaseID, "succeeded", 0, nil)
}

// Example_probeInstrumentation demonstrates instrumenting snapshot probes.
func Example_probeInstrumentation() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record a probe operation
	err := telemetry.RecordProbeOperation(ctx, "services", func() error {
		// Simulate probe work
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Probe operation completed successfully")
	}

	// Output: Probe operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "config.validate",
		attribute.String("config.path", "/etc/deployctl/config.yaml"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Validating configuration")

	// Simulate validation
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Configuration validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only drift events)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Drift event: %s\n", event.Message)
	}, telemetry.FilterByType("drift.detected"))

	// Publish various events
	tel.Events.PublishRunStarted("run-123", "deploy", "staging") // Info - filtered by level filter
	tel.Events.PublishDriftDetected("run-123", "firewall")       // Warning - passes level filter
	tel.Events.PublishRunFailed("run-123", "phase failed")       // Error - passes level filter

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "deployctl"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9102"
	cfg.Metrics.Namespace = "deployctl"

	// Configure events
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording on spans and logs.
func Example_errorRecording() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "phase.execute")
	defer span.End()

	// Simulate an error
	err := fmt.Errorf("script exited with status 42")

	if err != nil {
		// Record error on span
		telemetry.RecordError(span, err)

		// Log error
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("Phase failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	orchestratorLogger := tel.Logger.NewComponentLogger("orchestrator")
	snapshotLogger := tel.Logger.NewComponentLogger("snapshot")
	verifyLogger := tel.Logger.NewComponentLogger("verify")

	orchestratorLogger.Info("Orchestrator initialized")
	snapshotLogger.Info("Capturing baseline snapshot")
	verifyLogger.Info("Starting idempotency verification")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}

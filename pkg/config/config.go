package config

import (
	"time"

	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// Config is the root deployctl configuration.
type Config struct {
	// Environment names the deployment environment.
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`

	// ScriptsDir is the directory holding per-phase deployment scripts.
	ScriptsDir string `yaml:"scripts_dir" validate:"required"`

	// StateDir is the directory for run state (snapshots, database, reports).
	StateDir string `yaml:"state_dir" validate:"required"`

	// LockPath is the run lock file. Defaults to <state_dir>/deploy.lock.
	LockPath string `yaml:"lock_path,omitempty"`

	// Phases configures phase execution.
	Phases PhasesConfig `yaml:"phases"`

	// Snapshot configures state capture.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Verify configures idempotency verification.
	Verify VerifyConfig `yaml:"verify"`

	// Race configures the concurrency probe.
	Race RaceConfig `yaml:"race"`

	// Policy configures Rego policy evaluation.
	Policy PolicyConfig `yaml:"policy"`

	// Store configures run history persistence.
	Store StoreConfig `yaml:"store"`

	// Notify configures completion notifiers.
	Notify NotifyConfig `yaml:"notify"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// PhasesConfig configures phase execution.
type PhasesConfig struct {
	// Timeout bounds a single phase script. Zero means no timeout.
	Timeout Duration `yaml:"timeout,omitempty" validate:"omitempty,min=0"`

	// RollbackDir holds per-phase rollback scripts. Defaults to
	// <scripts_dir>/rollback.
	RollbackDir string `yaml:"rollback_dir,omitempty"`

	// Env holds extra KEY=VALUE entries passed to every phase script.
	Env []string `yaml:"env,omitempty"`
}

// SnapshotConfig configures state capture.
type SnapshotConfig struct {
	// Dir is where snapshots are written. Defaults to <state_dir>/snapshots.
	Dir string `yaml:"dir,omitempty"`

	// WatchPaths lists the files whose content hashes and metadata the
	// files domain records.
	WatchPaths []string `yaml:"watch_paths,omitempty"`

	// CronUsers lists the users whose crontabs the cron domain records.
	CronUsers []string `yaml:"cron_users,omitempty"`
}

// VerifyConfig configures idempotency verification.
type VerifyConfig struct {
	// Iterations is the number of target executions. Minimum 2: a single
	// execution cannot witness drift.
	Iterations int `yaml:"iterations,omitempty" validate:"omitempty,min=2"`

	// Pause is the delay between iterations. Values of one second or less
	// defeat mtime-based change detection, so the loader rejects them.
	Pause Duration `yaml:"pause,omitempty"`

	// Cleanup removes iteration snapshots after a completed verdict.
	Cleanup bool `yaml:"cleanup,omitempty"`
}

// RaceConfig configures the concurrency probe.
type RaceConfig struct {
	// HoldDuration is how long a winning attempt holds the lock.
	HoldDuration Duration `yaml:"hold_duration,omitempty" validate:"omitempty,min=0"`

	// PollInterval is the losing attempt's retry interval.
	PollInterval Duration `yaml:"poll_interval,omitempty" validate:"omitempty,min=0"`

	// PollTimeout bounds how long a losing attempt polls before giving
	// up. It must stay shorter than the hold, or the attempts stop
	// racing and acquire back to back.
	PollTimeout Duration `yaml:"poll_timeout,omitempty" validate:"omitempty,min=0"`
}

// PolicyConfig configures Rego policy evaluation.
type PolicyConfig struct {
	// Enabled turns policy evaluation on during pre-flight.
	Enabled bool `yaml:"enabled"`

	// Paths lists policy files or directories to load in addition to the
	// builtin policies.
	Paths []string `yaml:"paths,omitempty"`

	// Mode is the enforcement mode (advisory, enforcing).
	Mode string `yaml:"mode,omitempty" validate:"omitempty,oneof=advisory enforcing"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Defaults to <state_dir>/deployctl.db.
	Path string `yaml:"path,omitempty"`
}

// NotifyConfig configures completion notifiers.
type NotifyConfig struct {
	// Notifiers lists the notifiers invoked on run completion.
	Notifiers []NotifierConfig `yaml:"notifiers,omitempty" validate:"dive"`
}

// NotifierConfig configures a single notifier.
type NotifierConfig struct {
	// Type selects the notifier implementation (log, exec).
	Type string `yaml:"type" validate:"required,oneof=log exec"`

	// Command is the hook executable for exec notifiers. It receives the
	// run outcome as arguments.
	Command string `yaml:"command,omitempty" validate:"required_if=Type exec"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format selects the output encoding (json, console).
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=json console"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics HTTP listener on.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics listener address.
	ListenAddress string `yaml:"listen_address,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// Exporter selects the exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the trace sampling ratio (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate,omitempty" validate:"omitempty,min=0,max=1"`
}

// Default returns a configuration with conservative defaults suitable for
// local development.
func Default() *Config {
	return &Config{
		Environment: "development",
		ScriptsDir:  "scripts",
		StateDir:    ".deployctl",
		Verify: VerifyConfig{
			Iterations: 3,
			Pause:      Duration(2 * time.Second),
		},
		Race: RaceConfig{
			HoldDuration: Duration(2 * time.Second),
			PollInterval: Duration(50 * time.Millisecond),
			PollTimeout:  Duration(500 * time.Millisecond),
		},
		Policy: PolicyConfig{
			Enabled: true,
			Mode:    PolicyModeEnforcing,
		},
		Snapshot: SnapshotConfig{
			WatchPaths: []string{
				"/etc/ssh/sshd_config",
				"/etc/sudoers",
				"/etc/hosts",
			},
			CronUsers: []string{"root"},
		},
		Notify: NotifyConfig{
			Notifiers: []NotifierConfig{{Type: NotifierLog}},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9102",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
	}
}

// TelemetryConfig builds the telemetry configuration from the loaded
// settings.
func (c *Config) TelemetryConfig(serviceVersion string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Environment = c.Environment

	if c.Logging.Level != "" {
		tc.Logging.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		tc.Logging.Format = c.Logging.Format
	}

	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}

	tc.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Tracing.Exporter
	}
	if c.Tracing.Endpoint != "" {
		tc.Tracing.Endpoint = c.Tracing.Endpoint
	}
	if c.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	}

	return tc
}

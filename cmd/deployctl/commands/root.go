package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/config"
	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/policy"
	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/snapshot"
	"github.com/mentat-ops/deployctl/pkg/stores"
	"github.com/mentat-ops/deployctl/pkg/telemetry"
)

// defaultConfigFile is consulted when --config is not given.
const defaultConfigFile = "deployctl.yaml"

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Version string recorded on telemetry and the run history.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployctl",
		Short: "deployctl - single-host deployment orchestration",
		Long: `deployctl deploys a web/observability stack onto the host it runs on
and verifies that the deployment scripts are idempotent.

Features:
  - Fixed, ordered deployment phases driven by per-phase shell scripts
  - Aggregated pre-flight validation (every problem reported, then exit)
  - Compensating rollback on the first phase failure
  - Host state snapshots across nine observable domains
  - Idempotency verification with crash/drift separation
  - Concurrency probes for lock exclusivity
  - Rego policy gate on skip-sets and run flags`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
			}
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPhasesCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newRaceCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// exitError carries a specific process exit status for outcomes that are
// reported through status codes rather than failures of the command
// itself (drift detected, preflight problems found by validate).
type exitError struct {
	status  int
	message string
}

func (e *exitError) Error() string {
	return e.message
}

// ExitStatus maps a command error to the process exit status. Classified
// orchestration errors carry their own mapping; everything else is a
// generic failure.
func ExitStatus(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.status
	}
	return engine.ExitStatusFromError(err)
}

// loadConfig loads the configuration from --config, the default config
// file when present, or built-in defaults.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return config.Load(defaultConfigFile)
	}
	return config.Parse(nil)
}

// initTelemetry builds the telemetry stack from the loaded config and
// attaches it to the context. The returned shutdown function flushes
// exporters; call it before the process exits.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, context.Context, func(), error) {
	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, ctx, nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown incomplete")
		}
	}
	return tel, tel.WithContext(ctx), shutdown, nil
}

// openStore opens the run-history database, creating it and applying
// pending migrations as needed.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}

// buildNotifier assembles the configured notifier chain.
func buildNotifier(cfg *config.Config, runner shell.Runner, logger *telemetry.Logger) engine.Notifier {
	var notifiers engine.MultiNotifier
	for _, nc := range cfg.Notify.Notifiers {
		switch nc.Type {
		case config.NotifierExec:
			notifiers = append(notifiers, engine.NewExecNotifier(nc.Command, runner, logger))
		default:
			notifiers = append(notifiers, engine.NewLogNotifier(logger))
		}
	}
	if len(notifiers) == 0 {
		return engine.NopNotifier{}
	}
	if len(notifiers) == 1 {
		return notifiers[0]
	}
	return notifiers
}

// notifierCommands returns the exec-notifier hook commands for pre-flight
// resolution.
func notifierCommands(cfg *config.Config) []string {
	var commands []string
	for _, nc := range cfg.Notify.Notifiers {
		if nc.Type == config.NotifierExec && nc.Command != "" {
			commands = append(commands, nc.Command)
		}
	}
	return commands
}

// buildPolicyGate creates the Rego gate when policy evaluation is
// enabled. A nil gate means pre-flight skips the policy check.
func buildPolicyGate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (engine.PolicyGate, error) {
	if !cfg.Policy.Enabled {
		return nil, nil
	}
	gate, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := gate.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return gate, nil
}

// buildValidator assembles the aggregated pre-flight validator shared by
// deploy, validate, and watch.
func buildValidator(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*engine.Validator, error) {
	gate, err := buildPolicyGate(ctx, cfg, logger.Zerolog())
	if err != nil {
		return nil, err
	}
	return engine.NewValidator(engine.ValidatorConfig{
		ScriptsDir:       cfg.ScriptsDir,
		RollbackDir:      cfg.Phases.RollbackDir,
		WritableDirs:     []string{cfg.StateDir, cfg.Snapshot.Dir},
		NotifierCommands: notifierCommands(cfg),
		Gate:             gate,
		Enforce:          cfg.Policy.Mode == config.PolicyModeEnforcing,
		Logger:           logger,
	}), nil
}

// buildSnapshotEngine assembles the probe set from the config.
func buildSnapshotEngine(cfg *config.Config, runner shell.Runner, logger *telemetry.Logger) *snapshot.Engine {
	probes := snapshot.DefaultProbes(runner, snapshot.ProbeConfig{
		FileRoots: cfg.Snapshot.WatchPaths,
		CronUsers: cfg.Snapshot.CronUsers,
	})
	return snapshot.NewEngine(probes).WithLogger(logger)
}

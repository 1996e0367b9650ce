package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/config"
	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/stores"
)

const defaultConfigTemplate = `# deployctl configuration

# Deployment environment: development, staging, or production.
environment: development

# Per-phase deployment scripts, one <phase>.sh per registered phase.
scripts_dir: scripts

# Run state: snapshots, run database, lock file.
state_dir: .deployctl

phases:
  # Upper bound for a single phase script. Zero disables the timeout.
  timeout: 15m
  # Extra KEY=VALUE entries passed to every phase script.
  env: []

snapshot:
  # Files whose metadata and content hashes the files domain records.
  watch_paths:
    - /etc/ssh/sshd_config
    - /etc/sudoers
    - /etc/hosts
  # Users whose crontabs the cron domain records.
  cron_users:
    - root

verify:
  iterations: 3
  pause: 2s
  cleanup: false

race:
  hold_duration: 2s
  poll_interval: 50ms
  poll_timeout: 500ms

policy:
  enabled: true
  mode: enforcing
  # Additional .rego or .json policy files or directories.
  paths: []

notify:
  notifiers:
    - type: log

logging:
  level: info
  format: console

metrics:
  enabled: false
  listen_address: ":9102"

tracing:
  enabled: false
  exporter: stdout
  sampling_rate: 1.0
`

const phaseScriptTemplate = `#!/bin/sh
# %s: %s
# Must be safe to run repeatedly: the verifier executes it several
# times and compares host state after each run.
set -eu

echo "%s: nothing to do yet"
exit 0
`

const rollbackScriptTemplate = `#!/bin/sh
# Undo %s. Invoked youngest-first when a later phase fails.
set -eu

echo "rollback %s: nothing to undo yet"
exit 0
`

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a deployctl workspace",
		Long: `Initialize a deployment workspace: the state directory, the run
database, a starter configuration file, and an executable skeleton for
every registered phase script plus its rollback.

Existing files are never overwritten; rerunning init fills in whatever
is missing.`,
		Example: `  # Scaffold into the current directory
  deployctl init

  # Scaffold with a custom config path
  deployctl init --config /etc/deployctl/deployctl.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("config", configPath).Msg("initializing workspace")

			// Defaults with derived paths filled in.
			cfg, err := config.Parse(nil)
			if err != nil {
				return err
			}

			fmt.Printf("Initializing deployctl workspace\n\n")

			// Step 1: directory structure
			dirs := []struct {
				path string
				perm os.FileMode
			}{
				{cfg.StateDir, 0o700},
				{cfg.Snapshot.Dir, 0o700},
				{cfg.ScriptsDir, 0o755},
				{cfg.Phases.RollbackDir, 0o755},
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir.path, dir.perm); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir.path, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir.path)
			}

			// Step 2: run database
			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				store.Close()
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Printf("✓ Initialized run database: %s\n", cfg.Store.Path)

			// Step 3: config file
			configFile := configPath
			if configFile == "" {
				configFile = defaultConfigFile
			}
			if _, err := os.Stat(configFile); err == nil {
				fmt.Printf("✓ Config file already exists: %s\n", configFile)
			} else {
				if err := os.WriteFile(configFile, []byte(defaultConfigTemplate), 0o644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				fmt.Printf("✓ Created config file: %s\n", configFile)
			}

			// Step 4: phase script skeletons
			for _, phase := range engine.Registry() {
				path := phase.ScriptPath(cfg.ScriptsDir)
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("✓ Phase script already exists: %s\n", path)
				} else {
					body := fmt.Sprintf(phaseScriptTemplate, phase.ID, phase.Summary, phase.ID)
					if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
						return fmt.Errorf("failed to write phase script %s: %w", path, err)
					}
					fmt.Printf("✓ Created phase script: %s\n", path)
				}

				if !phase.HasRollback {
					continue
				}
				rbPath := phase.RollbackPath(cfg.Phases.RollbackDir)
				if _, err := os.Stat(rbPath); err == nil {
					fmt.Printf("✓ Rollback script already exists: %s\n", rbPath)
				} else {
					body := fmt.Sprintf(rollbackScriptTemplate, phase.ID, phase.ID)
					if err := os.WriteFile(rbPath, []byte(body), 0o755); err != nil {
						return fmt.Errorf("failed to write rollback script %s: %w", rbPath, err)
					}
					fmt.Printf("✓ Created rollback script: %s\n", rbPath)
				}
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Fill in the phase scripts under %s/\n\n", cfg.ScriptsDir)
			fmt.Printf("  2. Check the setup:\n")
			fmt.Printf("     deployctl validate\n\n")
			fmt.Printf("  3. Rehearse a run:\n")
			fmt.Printf("     deployctl deploy --dry-run\n\n")
			fmt.Printf("  4. Prove the scripts are idempotent:\n")
			fmt.Printf("     deployctl verify\n\n")

			return nil
		},
	}

	return cmd
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/race"
)

func newRaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Probe run-lock behavior under forced concurrency",
		Long: `Race concurrent lock acquisition attempts from separate processes and
check the outcomes against the locking guarantees: one resource admits
exactly one holder at a time, and distinct resources never interfere.

Each attempt is a child process acquiring the lock the same way a
second deploy invocation would, so the probe exercises real
inter-process contention, not a simulation.`,
	}

	cmd.AddCommand(newRaceExclusivityCommand())
	cmd.AddCommand(newRaceIndependenceCommand())
	cmd.AddCommand(newRaceHoldCommand())
	return cmd
}

func newRaceExclusivityCommand() *cobra.Command {
	var (
		resource string
		hold     time.Duration
		window   time.Duration
		retry    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exclusivity",
		Short: "Verify exactly one concurrent attempt can hold a lock",
		Long: `Launch two processes that contend for the same lock file and verify
that exactly one acquires it, the other exits with the lock-contention
status within its polling window, and the resource ends up stamped
with the winner's token.`,
		Example: `  # Race the configured run lock
  deployctl race exclusivity

  # Race an arbitrary lock file with a longer hold
  deployctl race exclusivity --resource /tmp/app.lock --hold 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, ctx, shutdown, err := initTelemetry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			if resource == "" {
				resource = cfg.LockPath
			}
			if !cmd.Flags().Changed("hold") {
				hold = cfg.Race.HoldDuration.Std()
			}
			if !cmd.Flags().Changed("window") {
				window = cfg.Race.PollTimeout.Std()
			}
			if !cmd.Flags().Changed("retry") {
				retry = cfg.Race.PollInterval.Std()
			}

			log.Info().Str("resource", resource).Msg("starting exclusivity probe")

			prober, err := race.New(race.Config{
				Launcher: &race.ProcessLauncher{},
				Hold:     hold,
				Window:   window,
				Retry:    retry,
				Logger:   tel.Logger,
			})
			if err != nil {
				return err
			}
			if err := prober.Exclusivity(ctx, resource); err != nil {
				return fmt.Errorf("exclusivity probe failed: %w", err)
			}

			fmt.Printf("✓ exclusivity holds on %s: one winner, one contender turned away\n", resource)
			return nil
		},
	}

	cmd.Flags().StringVar(&resource, "resource", "", "lock file to contend (default: the configured run lock)")
	cmd.Flags().DurationVar(&hold, "hold", 0, "how long the winner holds the lock")
	cmd.Flags().DurationVar(&window, "window", 0, "polling window per attempt")
	cmd.Flags().DurationVar(&retry, "retry", 0, "polling interval within the window")
	return cmd
}

func newRaceIndependenceCommand() *cobra.Command {
	var (
		resourceA string
		resourceB string
		hold      time.Duration
		window    time.Duration
		retry     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "independence",
		Short: "Verify distinct locks do not interfere with each other",
		Long: `Launch one process per resource against two distinct lock files and
verify both acquire without contention and neither resource ends up
stamped with the other holder's token.`,
		Example: `  # Probe the configured run lock against a scratch lock
  deployctl race independence

  # Probe two explicit lock files
  deployctl race independence --resource-a /tmp/a.lock --resource-b /tmp/b.lock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, ctx, shutdown, err := initTelemetry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			if resourceA == "" {
				resourceA = cfg.LockPath
			}
			if resourceB == "" {
				resourceB = filepath.Join(cfg.StateDir, "independence.lock")
			}
			if !cmd.Flags().Changed("hold") {
				hold = cfg.Race.HoldDuration.Std()
			}
			if !cmd.Flags().Changed("window") {
				window = cfg.Race.PollTimeout.Std()
			}
			if !cmd.Flags().Changed("retry") {
				retry = cfg.Race.PollInterval.Std()
			}

			log.Info().
				Str("resource_a", resourceA).
				Str("resource_b", resourceB).
				Msg("starting independence probe")

			prober, err := race.New(race.Config{
				Launcher: &race.ProcessLauncher{},
				Hold:     hold,
				Window:   window,
				Retry:    retry,
				Logger:   tel.Logger,
			})
			if err != nil {
				return err
			}
			if err := prober.Independence(ctx, resourceA, resourceB); err != nil {
				return fmt.Errorf("independence probe failed: %w", err)
			}

			fmt.Printf("✓ independence holds: %s and %s admit concurrent holders without cross-talk\n", resourceA, resourceB)
			return nil
		},
	}

	cmd.Flags().StringVar(&resourceA, "resource-a", "", "first lock file (default: the configured run lock)")
	cmd.Flags().StringVar(&resourceB, "resource-b", "", "second lock file (default: <state_dir>/independence.lock)")
	cmd.Flags().DurationVar(&hold, "hold", 0, "how long each holder keeps its lock")
	cmd.Flags().DurationVar(&window, "window", 0, "polling window per attempt")
	cmd.Flags().DurationVar(&retry, "retry", 0, "polling interval within the window")
	return cmd
}

// newRaceHoldCommand is the body of one attempt process spawned by the
// probe launcher. It must exit with the raw attempt status, so it calls
// os.Exit directly instead of returning through the usual error path.
func newRaceHoldCommand() *cobra.Command {
	var (
		resource string
		token    string
		hold     time.Duration
		window   time.Duration
		retry    time.Duration
	)

	cmd := &cobra.Command{
		Use:    "hold",
		Short:  "Run a single lock acquisition attempt",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(race.Hold(cmd.Context(), resource, token, hold, window, retry))
		},
	}

	cmd.Flags().StringVar(&resource, "resource", "", "lock file to acquire")
	cmd.Flags().StringVar(&token, "token", "", "token stamped into the resource on acquisition")
	cmd.Flags().DurationVar(&hold, "hold", 2*time.Second, "how long to hold after acquiring")
	cmd.Flags().DurationVar(&window, "window", 500*time.Millisecond, "polling window before reporting contention")
	cmd.Flags().DurationVar(&retry, "retry", 50*time.Millisecond, "polling interval")
	return cmd
}

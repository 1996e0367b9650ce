package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/race"
	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/stores"
	"github.com/mentat-ops/deployctl/pkg/verify"
)

func newVerifyCommand() *cobra.Command {
	var (
		script     string
		iterations int
		pause      time.Duration
		cleanup    bool
		aggressive bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that deployment scripts are idempotent",
		Long: `Run a target script repeatedly with host state snapshots around every
execution and judge whether running it again changes anything.

The verdict compares the state after the first execution with the state
after the last one. A target that exits nonzero stops the verification
immediately and the command exits with the target's own status; drift
exits with status 2. Without --script, every executable phase script is
verified in ordinal order.

Aggressive mode adds two invasive pre-checks before the first
iteration: a capture-determinism self-check (two back-to-back snapshots
must be identical) and an exclusivity race against the run lock.`,
		Example: `  # Verify every phase script
  deployctl verify

  # Verify one script with five iterations
  deployctl verify --script scripts/app_deploy.sh --iterations 5

  # Verify and discard the snapshot artifacts
  deployctl verify --script scripts/secrets.sh --cleanup

  # Full paranoia
  deployctl verify --aggressive`,
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

			// Config supplies defaults; explicit flags win.
			if !cmd.Flags().Changed("iterations") {
				iterations = cfg.Verify.Iterations
			}
			if !cmd.Flags().Changed("pause") {
				pause = cfg.Verify.Pause.Std()
			}
			if !cmd.Flags().Changed("cleanup") {
				cleanup = cfg.Verify.Cleanup
			}

			var targets []string
			if script != "" {
				targets = []string{script}
			} else {
				targets = verify.DiscoverTargets(cfg.ScriptsDir)
				if len(targets) == 0 {
					return fmt.Errorf("no executable phase scripts found under %s", cfg.ScriptsDir)
				}
			}

			log.Info().
				Strs("targets", targets).
				Int("iterations", iterations).
				Bool("aggressive", aggressive).
				Msg("starting idempotency verification")

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var prober verify.LockProber
			if aggressive {
				prober, err = race.New(race.Config{
					Launcher: &race.ProcessLauncher{},
					Hold:     cfg.Race.HoldDuration.Std(),
					Window:   cfg.Race.PollTimeout.Std(),
					Retry:    cfg.Race.PollInterval.Std(),
					Logger:   tel.Logger,
				})
				if err != nil {
					return err
				}
			}

			runner := verify.NewRunner(verify.RunnerConfig{
				Snapshots:   buildSnapshotEngine(cfg, shell.NewExecRunner(), tel.Logger),
				ArtifactDir: cfg.Snapshot.Dir,
				LockPath:    cfg.LockPath,
				Prober:      prober,
				Logger:      tel.Logger,
			})
			opts := verify.Options{
				Iterations: iterations,
				Pause:      pause,
				Cleanup:    cleanup,
				Aggressive: aggressive,
			}

			reports, err := runner.VerifyAll(ctx, targets, opts)
			for _, report := range reports {
				recordVerification(ctx, store, report, opts)
			}
			if err != nil {
				return err
			}

			renderVerifyReports(reports)

			for _, report := range reports {
				if status := report.ExitStatus(); status != 0 {
					return &exitError{
						status:  status,
						message: fmt.Sprintf("verification of %s concluded %s", report.Target, verificationStatus(report)),
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&script, "script", "", "single target script (default: every executable phase script)")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 3, "number of target executions (minimum 2)")
	cmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "pause between iterations")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove snapshot artifacts after the verdict")
	cmd.Flags().BoolVar(&aggressive, "aggressive", false, "enable capture self-check and lock exclusivity race")

	return cmd
}

// verificationStatus maps a report to its recorded status.
func verificationStatus(report *verify.Report) stores.VerificationStatus {
	switch {
	case report.Crashed:
		return stores.VerificationStatusCrashed
	case report.Verdict != nil && !report.Verdict.Idempotent:
		return stores.VerificationStatusDrift
	default:
		return stores.VerificationStatusIdempotent
	}
}

// recordVerification persists one verification outcome with its
// per-iteration records. History failures are logged, never fatal.
func recordVerification(ctx context.Context, store stores.Store, report *verify.Report, opts verify.Options) {
	id := uuid.New().String()
	verification := &stores.Verification{
		ID:         id,
		Target:     report.Target,
		RunLabel:   report.RunLabel,
		Iterations: opts.Iterations,
		Status:     stores.VerificationStatusRunning,
		StartedAt:  report.StartedAt,
	}
	if err := store.CreateVerification(ctx, verification); err != nil {
		log.Warn().Err(err).Str("target", report.Target).Msg("failed to record verification")
		return
	}

	for _, rec := range report.Iterations {
		record := &stores.IterationRecord{
			VerificationID: id,
			Idx:            rec.Index,
			ExitStatus:     rec.ExitStatus,
			PreLabel:       rec.PreLabel,
			PostLabel:      rec.PostLabel,
			Stdout:         rec.Stdout,
			Stderr:         rec.Stderr,
			StartedAt:      rec.StartedAt,
			DurationMS:     rec.Duration.Milliseconds(),
		}
		if err := store.CreateIterationRecord(ctx, record); err != nil {
			log.Warn().Err(err).Int("iteration", rec.Index).Msg("failed to record iteration")
		}
	}

	changed, _ := json.Marshal(report.ChangedDomains())
	err := store.CompleteVerification(ctx, id, verificationStatus(report),
		report.ExitStatus(), len(report.Iterations), string(changed))
	if err != nil {
		log.Warn().Err(err).Str("target", report.Target).Msg("failed to complete verification record")
	}
}

func renderVerifyReports(reports []*verify.Report) {
	if jsonOutput {
		out, err := json.MarshalIndent(reports, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
		return
	}

	for _, report := range reports {
		fmt.Printf("Target %s (%s)\n", report.Target, report.RunLabel)
		fmt.Printf("  iterations: %d completed\n", len(report.Iterations))

		switch {
		case report.Crashed:
			last := report.Iterations[len(report.Iterations)-1]
			fmt.Printf("  ✗ crashed at iteration %d with status %d\n", last.Index, report.CrashStatus)
			if last.Stderr != "" {
				fmt.Printf("  stderr: %s\n", last.Stderr)
			}
		case report.Verdict != nil && !report.Verdict.Idempotent:
			fmt.Printf("  ✗ drift between iteration %d and %d in %d domain(s)\n",
				report.Verdict.ComparedIterations[0], report.Verdict.ComparedIterations[1],
				len(report.Verdict.Differences))
			for _, diff := range report.Verdict.Differences {
				excerpt := diff.Excerpt
				if excerpt == "" {
					excerpt = "(present in only one snapshot)"
				}
				fmt.Printf("\n--- domain %s ---\n%s\n", diff.Domain, excerpt)
			}
		default:
			fmt.Println("  ✓ idempotent")
		}

		if report.ArtifactDir != "" {
			fmt.Printf("  artifacts: %s\n", report.ArtifactDir)
		}
		fmt.Println()
	}
}

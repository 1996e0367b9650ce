package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/stores"
)

func newDeployCommand() *cobra.Command {
	var (
		dryRun      bool
		interactive bool
	)
	skipFlags := make(map[string]*bool)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the deployment phase sequence",
		Long: `Run every registered deployment phase in order.

This command:
  - Takes the host-wide run lock (a second deploy exits with status 99)
  - Runs aggregated pre-flight validation and stops on any problem (status 97)
  - Executes each phase script in ordinal order, honoring --skip-<phase>
  - Stops at the first failing phase, runs its compensation script, and
    exits with the phase's own status
  - Records the run, phase results, and events in the history database

Destructive phases (firewall, app_deploy, services) prompt for
confirmation when --interactive is set; declining exits with status 98.`,
		Example: `  # Full deployment
  deployctl deploy

  # Skip SSH hardening on a host that manages keys elsewhere
  deployctl deploy --skip-ssh_setup

  # Show what would run without executing anything
  deployctl deploy --dry-run

  # Require confirmation before destructive phases
  deployctl deploy --interactive`,
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

			var skip []string
			for id, set := range skipFlags {
				if *set {
					skip = append(skip, id)
				}
			}

			log.Info().
				Str("environment", cfg.Environment).
				Strs("skip", skip).
				Bool("dry_run", dryRun).
				Bool("interactive", interactive).
				Msg("starting deployment run")

			lock := engine.NewRunLock(cfg.LockPath)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer lock.Release()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := shell.NewExecRunner()
			validator, err := buildValidator(ctx, cfg, tel.Logger)
			if err != nil {
				return err
			}

			orch := engine.NewOrchestrator(engine.OrchestratorConfig{
				ScriptsDir:   cfg.ScriptsDir,
				PhaseTimeout: cfg.Phases.Timeout.Std(),
				PhaseEnv:     cfg.Phases.Env,
				Runner:       runner,
				Validator:    validator,
				Rollback: engine.NewCoordinator(cfg.Phases.RollbackDir, runner, tel.Logger).
					WithEnv(cfg.Phases.Env),
				Notifier: buildNotifier(cfg, runner, tel.Logger),
				Logger:   tel.Logger,
			})

			opts := engine.RunOptions{
				Environment: cfg.Environment,
				Skip:        engine.NewSkipSet(skip...),
				DryRun:      dryRun,
				Interactive: interactive,
			}

			result, runErr := orch.Run(ctx, opts)
			recordRun(ctx, store, result, opts, runErr)
			renderRunResult(result)
			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what each phase would do without executing")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "confirm destructive phases before running them")
	for _, phase := range engine.Registry() {
		set := new(bool)
		skipFlags[phase.ID] = set
		cmd.Flags().BoolVar(set, phase.SkipFlag(), false, "skip the "+phase.ID+" phase")
	}

	return cmd
}

// recordRun persists the run outcome. History failures are logged and
// never change the deployment outcome.
func recordRun(ctx context.Context, store stores.Store, result *engine.RunResult, opts engine.RunOptions, runErr error) {
	skipJSON, _ := json.Marshal(opts.Skip.IDs())
	completedAt := result.StartedAt.Add(result.Duration)

	run := &stores.Run{
		ID:          result.RunID,
		Environment: result.Environment,
		Status:      stores.RunStatus(result.Status),
		ExitStatus:  result.ExitStatus,
		DryRun:      result.DryRun,
		SkipSet:     string(skipJSON),
		StartedAt:   result.StartedAt,
		CompletedAt: &completedAt,
	}
	if result.FailedPhase != "" {
		run.FailedPhase = &result.FailedPhase
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record run history")
		return
	}

	for _, pr := range result.Phases {
		rec := &stores.PhaseResult{
			ID:         uuid.New().String(),
			RunID:      result.RunID,
			Phase:      pr.Phase,
			Ordinal:    pr.Ordinal,
			Status:     stores.PhaseStatus(pr.Status),
			ExitStatus: pr.ExitStatus,
			DurationMS: pr.Duration.Milliseconds(),
		}
		if !pr.StartedAt.IsZero() {
			startedAt := pr.StartedAt
			rec.StartedAt = &startedAt
		}
		if err := store.CreatePhaseResult(ctx, rec); err != nil {
			log.Warn().Err(err).Str("phase", pr.Phase).Msg("failed to record phase result")
		}
	}

	appendRunEvents(ctx, store, result)
}

func appendRunEvents(ctx context.Context, store stores.Store, result *engine.RunResult) {
	runID := result.RunID
	event := &stores.Event{RunID: &runID, Timestamp: time.Now()}

	switch result.Status {
	case engine.RunStatusSucceeded:
		event.Level = stores.EventLevelInfo
		event.Message = "deployment run succeeded"
	case engine.RunStatusRejected:
		event.Level = stores.EventLevelWarning
		event.Message = fmt.Sprintf("pre-flight validation failed with %d issue(s)", len(result.Preflight.Issues))
	case engine.RunStatusDeclined:
		event.Level = stores.EventLevelWarning
		event.Message = "run declined at destructive phase confirmation"
	default:
		event.Level = stores.EventLevelError
		event.Message = fmt.Sprintf("deployment failed at phase %s (status %d)", result.FailedPhase, result.ExitStatus)
		event.Phase = &result.FailedPhase
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		log.Warn().Err(err).Msg("failed to record run event")
	}

	if result.Rollback == nil {
		return
	}
	for _, step := range result.Rollback.Steps {
		phase := step.Phase
		level := stores.EventLevelInfo
		if step.Outcome == engine.RollbackOutcomeFailed {
			level = stores.EventLevelWarning
		}
		rollbackEvent := &stores.Event{
			RunID:     &runID,
			Phase:     &phase,
			Level:     level,
			Message:   fmt.Sprintf("rollback %s: %s", step.Phase, step.Outcome),
			Timestamp: time.Now(),
		}
		if err := store.AppendEvent(ctx, rollbackEvent); err != nil {
			log.Warn().Err(err).Msg("failed to record rollback event")
		}
	}
}

// renderRunResult writes the run outcome for the operator: the full JSON
// document with --json, a per-phase summary otherwise.
func renderRunResult(result *engine.RunResult) {
	if jsonOutput {
		out, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
		return
	}

	fmt.Printf("Run %s (%s)\n", result.RunID, result.Environment)
	if result.DryRun {
		fmt.Println("  mode: dry-run")
	}
	if result.Status == engine.RunStatusRejected && result.Preflight != nil {
		result.Preflight.Render(os.Stdout)
		return
	}
	for _, pr := range result.Phases {
		switch pr.Status {
		case engine.PhaseStatusSkipped:
			fmt.Printf("  - %-18s skipped\n", pr.Phase)
		case engine.PhaseStatusSucceeded:
			fmt.Printf("  ✓ %-18s (%s)\n", pr.Phase, pr.Duration.Round(time.Millisecond))
		default:
			fmt.Printf("  ✗ %-18s exit status %d\n", pr.Phase, pr.ExitStatus)
		}
	}
	if result.Rollback != nil {
		result.Rollback.Render(os.Stdout)
	}
	fmt.Printf("Status: %s (exit %d, %s)\n",
		result.Status, result.ExitStatus, result.Duration.Round(time.Millisecond))
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/stores"
)

const timestampFormat = "2006-01-02 15:04:05"

func newHistoryCommand() *cobra.Command {
	var (
		limit          int
		runID          string
		verificationID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs and verification verdicts",
		Long: `List past deployment runs and idempotency verifications from the local
run database, newest first. Point --run or --verification at an id to
see one record in full: per-phase results and events for a run,
per-iteration records for a verification.`,
		Example: `  # The last 20 runs and verifications
  deployctl history

  # One run with its phases and events
  deployctl history --run 4f6b1c2a-...

  # One verification with its iterations
  deployctl history --verification 9d31e0c7-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			switch {
			case runID != "":
				return renderRunDetail(ctx, store, runID, limit)
			case verificationID != "":
				return renderVerificationDetail(ctx, store, verificationID)
			default:
				return renderHistory(ctx, store, limit)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries per table")
	cmd.Flags().StringVar(&runID, "run", "", "show one run with its phases and events")
	cmd.Flags().StringVar(&verificationID, "verification", "", "show one verification with its iterations")
	return cmd
}

func renderHistory(ctx context.Context, store stores.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	verifications, err := store.ListVerifications(ctx, limit, 0)
	if err != nil {
		return fmt.Errorf("failed to list verifications: %w", err)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(map[string]any{
			"runs":          runs,
			"verifications": verifications,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Runs (%d):\n", len(runs))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tENV\tSTATUS\tEXIT\tFAILED PHASE")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			run.ID,
			run.StartedAt.Format(timestampFormat),
			run.Environment,
			run.Status,
			run.ExitStatus,
			derefOr(run.FailedPhase, "-"),
		)
	}
	w.Flush()

	fmt.Printf("\nVerifications (%d):\n", len(verifications))
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTARGET\tSTATUS\tEXIT\tITERATIONS\tCHANGED DOMAINS")
	for _, v := range verifications {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\n",
			v.ID,
			v.StartedAt.Format(timestampFormat),
			v.Target,
			v.Status,
			v.ExitStatus,
			v.CompletedIterations,
			v.Iterations,
			changedDomainList(v.ChangedDomains),
		)
	}
	return w.Flush()
}

func renderRunDetail(ctx context.Context, store stores.Store, id string, limit int) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", id, err)
	}
	phases, err := store.ListPhaseResultsByRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load phase results: %w", err)
	}
	events, err := store.GetEvents(ctx, &id, nil, nil, limit, 0)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(map[string]any{
			"run":    run,
			"phases": phases,
			"events": events,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Run %s (%s)\n", run.ID, run.Environment)
	fmt.Printf("  status: %s (exit %d)\n", run.Status, run.ExitStatus)
	fmt.Printf("  started: %s\n", run.StartedAt.Format(timestampFormat))
	if run.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", run.CompletedAt.Format(timestampFormat))
	}
	if run.DryRun {
		fmt.Println("  dry-run: yes")
	}
	if skipped := changedDomainList(run.SkipSet); skipped != "-" {
		fmt.Printf("  skipped: %s\n", skipped)
	}
	if run.Error != nil {
		fmt.Printf("  error: %s\n", *run.Error)
	}

	if len(phases) > 0 {
		fmt.Println("\nPhases:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ORDINAL\tPHASE\tSTATUS\tEXIT\tDURATION")
		for _, pr := range phases {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
				pr.Ordinal, pr.Phase, pr.Status, pr.ExitStatus,
				(time.Duration(pr.DurationMS) * time.Millisecond).String())
		}
		w.Flush()
	}

	if len(events) > 0 {
		fmt.Println("\nEvents:")
		for _, ev := range events {
			fmt.Printf("  %s [%s] %s\n", ev.Timestamp.Format(timestampFormat), ev.Level, ev.Message)
		}
	}
	return nil
}

func renderVerificationDetail(ctx context.Context, store stores.Store, id string) error {
	v, err := store.GetVerification(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load verification %s: %w", id, err)
	}
	iterations, err := store.ListIterationRecordsByVerification(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load iteration records: %w", err)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(map[string]any{
			"verification": v,
			"iterations":   iterations,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Verification %s\n", v.ID)
	fmt.Printf("  target: %s (%s)\n", v.Target, v.RunLabel)
	fmt.Printf("  status: %s (exit %d)\n", v.Status, v.ExitStatus)
	fmt.Printf("  started: %s\n", v.StartedAt.Format(timestampFormat))
	if v.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", v.CompletedAt.Format(timestampFormat))
	}
	fmt.Printf("  iterations: %d/%d\n", v.CompletedIterations, v.Iterations)
	if changed := changedDomainList(v.ChangedDomains); changed != "-" {
		fmt.Printf("  changed domains: %s\n", changed)
	}

	if len(iterations) > 0 {
		fmt.Println("\nIterations:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tEXIT\tPRE\tPOST\tDURATION")
		for _, rec := range iterations {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
				rec.Idx, rec.ExitStatus, rec.PreLabel, rec.PostLabel,
				(time.Duration(rec.DurationMS) * time.Millisecond).String())
		}
		w.Flush()
	}
	return nil
}

// changedDomainList renders a stored JSON string array as a comma list,
// or "-" when empty.
func changedDomainList(raw string) string {
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil || len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

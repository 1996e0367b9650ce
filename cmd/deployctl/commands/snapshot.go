package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/engine"
	"github.com/mentat-ops/deployctl/pkg/shell"
	"github.com/mentat-ops/deployctl/pkg/snapshot"
)

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture and compare host state snapshots",
		Long: `Capture the observable host state (accounts, groups, packages,
services, watched files, firewall rules, listening sockets, kernel
parameters, cron entries) or compare two previously captured snapshots.

A probe that cannot observe its subsystem records the domain as
unavailable instead of failing the capture.`,
	}

	cmd.AddCommand(newSnapshotCaptureCommand())
	cmd.AddCommand(newSnapshotDiffCommand())

	return cmd
}

func newSnapshotCaptureCommand() *cobra.Command {
	var (
		label string
		dir   string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the current host state",
		Long: `Capture every state domain and persist the snapshot under the
snapshot directory, one plain-text file per domain.`,
		Example: `  # Capture with a generated label
  deployctl snapshot capture

  # Capture before manual maintenance
  deployctl snapshot capture --label before-maintenance`,
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

			if label == "" {
				label = "manual-" + time.Now().Format("20060102-150405")
			}
			if dir == "" {
				dir = cfg.Snapshot.Dir
			}

			snapEngine := buildSnapshotEngine(cfg, shell.NewExecRunner(), tel.Logger)
			snap := snapEngine.Capture(ctx, label)
			if err := snap.Save(dir); err != nil {
				return fmt.Errorf("failed to save snapshot: %w", err)
			}

			if jsonOutput {
				out, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("Snapshot %s saved under %s\n", label, dir)
			for _, id := range snap.DomainIDs() {
				if snap.Unavailable(id) {
					fmt.Printf("  %-12s unavailable\n", id)
					continue
				}
				fmt.Printf("  %-12s %d entries\n", id, len(snap.Domains[id]))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "snapshot label (default: manual-<timestamp>)")
	cmd.Flags().StringVar(&dir, "dir", "", "snapshot directory (default: from config)")

	return cmd
}

func newSnapshotDiffCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "diff <label-a> <label-b>",
		Short: "Compare two captured snapshots",
		Long: `Compare two snapshots by label and report every domain that
differs, with a bounded unified-diff excerpt per changed domain.

Exits with status 2 when the snapshots differ, mirroring the verify
drift status.`,
		Example: `  # Compare the captures around a maintenance window
  deployctl snapshot diff before-maintenance after-maintenance`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Snapshot.Dir
			}

			a, err := snapshot.Load(dir, args[0])
			if err != nil {
				return fmt.Errorf("failed to load snapshot %s: %w", args[0], err)
			}
			b, err := snapshot.Load(dir, args[1])
			if err != nil {
				return fmt.Errorf("failed to load snapshot %s: %w", args[1], err)
			}

			results := snapshot.Compare(a, b)
			changed := snapshot.ChangedDomains(results)

			if jsonOutput {
				out, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			} else if len(changed) == 0 {
				fmt.Printf("Snapshots %s and %s are identical\n", a.Label, b.Label)
			} else {
				fmt.Printf("Snapshots %s and %s differ in %d domain(s)\n", a.Label, b.Label, len(changed))
				for _, res := range results {
					if !res.Changed {
						continue
					}
					excerpt := res.Excerpt
					if excerpt == "" {
						excerpt = "(present in only one snapshot)"
					}
					fmt.Printf("\n--- domain %s ---\n%s\n", res.Domain, excerpt)
				}
			}

			if len(changed) > 0 {
				log.Warn().Strs("domains", changed).Msg("snapshots differ")
				return &exitError{
					status:  engine.ExitDriftDetected,
					message: fmt.Sprintf("snapshots differ in %d domain(s)", len(changed)),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "snapshot directory (default: from config)")

	return cmd
}

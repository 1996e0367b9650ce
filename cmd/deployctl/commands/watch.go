package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/config"
	"github.com/mentat-ops/deployctl/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-validate continuously as scripts and policies change",
		Long: `Watch the phase scripts, rollback scripts, and policy paths and re-run
the aggregated pre-flight validation whenever something changes. The
report prints after every change burst, so a broken script or policy
shows up the moment it is saved instead of at the next deploy.

Runs until interrupted.`,
		Example: `  deployctl watch

  # Settle longer before re-validating on bulk edits
  deployctl watch --debounce 2s`,
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

			validator, err := buildValidator(ctx, cfg, tel.Logger)
			if err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			paths := watchPaths(cfg)
			watched := 0
			for _, path := range paths {
				if err := watchTree(watcher, path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("cannot watch path")
					continue
				}
				watched++
			}
			if watched == 0 {
				return fmt.Errorf("none of the watch paths exist: %v", paths)
			}

			opts := engine.RunOptions{
				Environment: cfg.Environment,
				Skip:        engine.NewSkipSet(),
			}
			revalidate := func() {
				report := validator.Check(ctx, opts)
				fmt.Printf("\n[%s] ", time.Now().Format("15:04:05"))
				report.Render(os.Stdout)
			}

			log.Info().Strs("paths", paths).Msg("watching for changes")
			revalidate()

			// Debounce so one save burst triggers one validation.
			var timer *time.Timer
			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					// Chmod matters here: flipping the executable bit on a
					// phase script changes the preflight outcome.
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
						continue
					}
					if event.Op&fsnotify.Create != 0 {
						if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
							_ = watcher.Add(event.Name)
						}
					}
					log.Debug().
						Str("file", event.Name).
						Str("op", event.Op.String()).
						Msg("change detected")

					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, revalidate)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("watcher error")
				}
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay after the last change before re-validating")
	return cmd
}

// watchPaths returns the directories whose contents feed pre-flight
// validation.
func watchPaths(cfg *config.Config) []string {
	paths := []string{cfg.ScriptsDir, cfg.Phases.RollbackDir}
	if cfg.Policy.Enabled {
		paths = append(paths, cfg.Policy.Paths...)
	}
	return paths
}

// watchTree registers a path with the watcher, recursing into
// subdirectories because fsnotify watches are not recursive.
func watchTree(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}

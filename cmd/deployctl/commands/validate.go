package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	skipFlags := make(map[string]*bool)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run aggregated pre-flight validation",
		Long: `Validate every external collaborator a deployment run depends on,
without running any phase.

Every problem is collected before reporting: missing or non-executable
phase scripts, missing rollback scripts, unwritable state directories,
unresolvable notifier hooks, unknown skip entries, and policy denials.
The command exits with status 97 when any problem is found.

Pass the same --skip-<phase> flags the planned deploy will use, so the
skip-set is validated against the registry and the policies.`,
		Example: `  # Validate the full deployment
  deployctl validate

  # Validate a planned run that skips SSH hardening
  deployctl validate --skip-ssh_setup`,
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
			log.Info().Str("environment", cfg.Environment).Strs("skip", skip).Msg("running pre-flight validation")

			validator, err := buildValidator(ctx, cfg, tel.Logger)
			if err != nil {
				return err
			}

			report := validator.Check(ctx, engine.RunOptions{
				Environment: cfg.Environment,
				Skip:        engine.NewSkipSet(skip...),
			})

			if jsonOutput {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			} else {
				report.Render(os.Stdout)
			}

			if !report.OK() {
				return report.Err()
			}
			return nil
		},
	}

	for _, phase := range engine.Registry() {
		set := new(bool)
		skipFlags[phase.ID] = set
		cmd.Flags().BoolVar(set, phase.SkipFlag(), false, "validate with the "+phase.ID+" phase skipped")
	}

	return cmd
}

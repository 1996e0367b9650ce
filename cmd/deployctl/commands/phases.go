package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mentat-ops/deployctl/pkg/engine"
)

func newPhasesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phases",
		Short: "List the registered deployment phases",
		Long: `List every registered phase in execution order, with its ordinal,
destructive flag, rollback availability, and dependencies.

The phase list is fixed at build time; deployments customize a run with
--skip-<phase> flags, never by reordering.`,
		Example: `  # Human-readable listing
  deployctl phases

  # Machine-readable listing
  deployctl phases --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			phases := engine.Registry()

			if jsonOutput {
				out, err := json.MarshalIndent(phases, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDINAL\tPHASE\tDESTRUCTIVE\tROLLBACK\tREQUIRES\tSUMMARY")
			for _, p := range phases {
				requires := "-"
				if len(p.Requires) > 0 {
					requires = strings.Join(p.Requires, ",")
				}
				fmt.Fprintf(w, "%d\t%s\t%v\t%v\t%s\t%s\n",
					p.Ordinal, p.ID, p.Destructive, p.HasRollback, requires, p.Summary)
			}
			return w.Flush()
		},
	}

	return cmd
}

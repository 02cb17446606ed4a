package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/volleyload/volley/internal/load/executor"
)

func newExecutorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "executors",
		Short: "List the available executors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTOR\tMODEL\tDESCRIPTION\tOPTIONS")
			for _, typ := range executor.GetSupportedExecutors() {
				d := executor.GetExecutorDescription(typ)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Type, d.Model, d.Summary, strings.Join(d.Options, ", "))
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "Every scenario also accepts startTime, gracefulStop and tags.")
			return tw.Flush()
		},
	}
}

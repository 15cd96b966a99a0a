package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *CLI) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the recorded deployment history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.engine.History(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no deployment history recorded yet")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "TIME\tMODE\tFROM\tTO\tSUCCESS\tDURATION(s)\tROLLBACK\tERROR\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%.1f\t%t\t%s\n",
					e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
					e.Mode, e.FromColor, e.ToColor, e.Success, e.DurationSeconds, e.Rollback, e.Error)
			}
			return w.Flush()
		},
	}
}

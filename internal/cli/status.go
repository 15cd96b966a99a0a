package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current active/standby assignment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.engine.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "ROLE\tCOLOR\tPORT\tRUNNING\n")
			fmt.Fprintf(w, "active\t%s\t%d\t%t\n", st.Active, st.ActivePort, st.ActiveRunning)
			fmt.Fprintf(w, "standby\t%s\t%d\t%t\n", st.Standby, st.StandbyPort, st.StandbyRunning)
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "standby pre-warmed: %t\n", st.StandbyPrewarmed)
			fmt.Fprintf(cmd.OutOrStdout(), "deployment count: %d\n", st.DeploymentCount)
			return nil
		},
	}
}

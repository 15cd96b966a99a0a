package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) prewarmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prewarm",
		Short: "Bring the standby replica to a fully loaded, verified state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.engine.Prewarm(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "prewarm succeeded")
			return nil
		},
	}
}

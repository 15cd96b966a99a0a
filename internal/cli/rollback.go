package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) rollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Swap traffic back onto the current standby color",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.engine.Rollback(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rollback succeeded")
			return nil
		},
	}
}

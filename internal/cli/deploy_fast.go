package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) deployFastCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy-fast",
		Short: "Swap traffic onto an already pre-warmed standby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.engine.DeployFast(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deploy-fast succeeded")
			return nil
		},
	}
}

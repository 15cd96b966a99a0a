package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) deployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Run the full blue/green deployment flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.engine.Deploy(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deploy succeeded")
			return nil
		},
	}
}

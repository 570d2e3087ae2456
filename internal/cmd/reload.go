package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spindle-run/spindle/internal/config"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running supervisor to re-read spindle.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.TouchReloadSignal(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reload signal sent")
			return nil
		},
	}
}

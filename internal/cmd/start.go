package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spindle-run/spindle/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var httpFlag bool
	var httpPort int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the supervisor as a detached background process",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []string
			if httpFlag {
				extra = append(extra, "--http", "--port", fmt.Sprint(httpPort))
			}
			if err := daemon.Fork(extra...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "spindle supervisor started")
			return nil
		},
	}
	cmd.Flags().BoolVar(&httpFlag, "http", false, "Serve MCP over Streamable HTTP instead of stdio")
	cmd.Flags().IntVar(&httpPort, "port", 8099, "Port to listen on when --http is set")
	return cmd
}

// Package cmd implements Spindle's CLI boundary: start, reload,
// status, serve, each a thin cobra command.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spindle",
		Short: "Delegation server for supervising coding-agent subprocesses",
		Long: `Spindle supervises delegated coding-agent runs (Claude Code, Codex,
and other CLI harnesses) as durable, bounded background spools behind
an MCP tool surface.`,
		SilenceUsage: true,
	}
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(
		newStartCmd(),
		newReloadCmd(),
		newStatusCmd(),
		newServeCmd(),
		newServeInternalCmd(),
	)

	return rootCmd
}

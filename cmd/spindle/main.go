// Command spindle is the delegation server's CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spindle-run/spindle/internal/cmd"
)

func main() {
	root := cmd.NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a failure to an exit code: 2 for a flag-parsing error
// cobra detected (unknown flag, bad flag value), which the root command
// wraps as a usage error; 1 for everything else, including other cobra
// errors such as an unknown subcommand.
func exitCodeFor(err error) int {
	if usageErr, ok := err.(interface{ IsUsageError() bool }); ok && usageErr.IsUsageError() {
		return 2
	}
	return 1
}

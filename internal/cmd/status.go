package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spindle-run/spindle/internal/config"
	"github.com/spindle-run/spindle/internal/daemon"
	"github.com/spindle-run/spindle/internal/spool"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the supervisor is running and summarize its spools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	running, pid := daemon.IsRunning()
	if !running {
		fmt.Fprintln(out, "supervisor: not running")
		return nil
	}
	fmt.Fprintf(out, "supervisor: running (pid %d)\n", pid)

	store, err := spool.Open(config.SpoolsDir())
	if err != nil {
		return fmt.Errorf("cmd: status: %w", err)
	}
	all, err := store.List()
	if err != nil {
		return fmt.Errorf("cmd: status: %w", err)
	}

	counts := make(map[spool.Status]int)
	for _, sp := range all {
		counts[sp.Status]++
	}

	profile := termenv.ColorProfile()
	colorEnabled := isatty.IsTerminal(os.Stdout.Fd()) && profile != termenv.Ascii
	width, _, werr := term.GetSize(int(os.Stdout.Fd()))
	if werr != nil || width <= 0 {
		width = 80
	}

	order := []spool.Status{
		spool.StatusPending, spool.StatusRunning, spool.StatusComplete,
		spool.StatusError, spool.StatusTimeout, spool.StatusKilled,
	}

	for _, st := range order {
		n := counts[st]
		if n == 0 {
			continue
		}
		line := fmt.Sprintf("  %-10s %d", st, n)
		if colorEnabled {
			line = termenv.String(line).Foreground(statusColor(profile, st)).String()
		}
		fmt.Fprintln(out, truncate(line, width))
	}
	return nil
}

func statusColor(profile termenv.Profile, st spool.Status) termenv.Color {
	switch st {
	case spool.StatusRunning, spool.StatusComplete:
		return profile.Color("2") // green
	case spool.StatusError, spool.StatusTimeout, spool.StatusKilled:
		return profile.Color("1") // red
	default:
		return profile.Color("3") // yellow
	}
}

func truncate(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	return s[:width]
}

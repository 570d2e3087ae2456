package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/spindle-run/spindle/internal/config"
	"github.com/spindle-run/spindle/internal/daemon"
	"github.com/spindle-run/spindle/internal/tools"
)

// retentionSweepInterval is how often the supervisor checks for
// terminal spools past the configured retention horizon.
const retentionSweepInterval = 1 * time.Hour

// configWatchInterval is how often the running supervisor checks
// config.ReloadSignalPath's mtime for a `spindle reload` touch.
const configWatchInterval = 2 * time.Second

func newServeCmd() *cobra.Command {
	var httpFlag bool
	var httpPort int

	cmd := &cobra.Command{
		Use:    "serve",
		Hidden: false,
		Short:  "Run the supervisor in the foreground",
		Long: `Run the Spool Supervisor in the foreground, exposing the tool
surface over stdio (default) or HTTP (--http). Most users want
"spindle start", which forks this into the background; "serve" is for
running under an external process manager or for local debugging.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, httpFlag, httpPort)
		},
	}
	cmd.Flags().BoolVar(&httpFlag, "http", false, "Serve MCP over Streamable HTTP instead of stdio")
	cmd.Flags().IntVar(&httpPort, "port", 8099, "Port to listen on when --http is set")
	return cmd
}

// newServeInternalCmd is the hidden re-exec target `daemon.Fork` starts:
// functionally identical to "serve", just not meant to be typed by hand.
func newServeInternalCmd() *cobra.Command {
	cmd := newServeCmd()
	cmd.Use = "_serve-internal"
	cmd.Hidden = true
	return cmd
}

func runServe(cmd *cobra.Command, useHTTP bool, port int) error {
	supervisorID, err := os.Hostname()
	if err != nil || supervisorID == "" {
		supervisorID = fmt.Sprintf("pid-%d", os.Getpid())
	}

	surface, monitorLoop, err := buildSurface(supervisorID)
	if err != nil {
		return err
	}

	if err := daemon.WritePIDFile(); err != nil {
		return fmt.Errorf("cmd: serve: %w", err)
	}
	defer daemon.RemovePIDFile()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Ignore SIGHUP so the daemonized supervisor survives its
	// controlling terminal going away.
	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		if err := monitorLoop.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "spindle: monitor loop: %v\n", err)
		}
	}()

	go runRetentionSweep(ctx, surface)
	go runConfigWatcher(ctx, surface)

	mcpServer := server.NewMCPServer(
		"spindle",
		"0.1.0",
		server.WithInstructions("Spindle delegates coding-agent runs to bounded, durable background spools. Use spin to launch, spin_wait to block on results, spools/unspool to inspect, respin to continue a session, shard_status/shard_merge/shard_abandon to manage isolated git worktrees."),
	)
	registerTools(mcpServer, surface)

	if useHTTP {
		return runServeHTTP(ctx, mcpServer, port)
	}
	return runServeStdio(ctx, mcpServer)
}

func runServeStdio(ctx context.Context, mcpServer *server.MCPServer) error {
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("cmd: serve: stdio: %w", err)
	}
	return nil
}

func runServeHTTP(ctx context.Context, mcpServer *server.MCPServer, port int) error {
	addr := fmt.Sprintf(":%d", port)
	httpSrv := server.NewStreamableHTTPServer(mcpServer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Start(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("cmd: serve: http: %w", err)
		}
		return nil
	}
}

// runRetentionSweep deletes terminal spools past the configured
// retention horizon on a ticker, reloading the horizon each tick so a
// `spindle reload` takes effect without restarting the sweep.
func runRetentionSweep(ctx context.Context, surface *tools.Surface) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := config.Load()
			if err != nil {
				continue
			}
			cutoff := time.Now().UTC().Add(-time.Duration(cfg.RetentionHours) * time.Hour)
			if n, err := surface.Store.Sweep(cutoff); err == nil && n > 0 {
				surface.Log.RetentionSwept(n)
			}
		}
	}
}

// runConfigWatcher polls the reload marker's mtime and re-applies
// spindle.yaml's concurrency ceiling to the Gate when it changes.
func runConfigWatcher(ctx context.Context, surface *tools.Surface) {
	var lastMtime time.Time
	ticker := time.NewTicker(configWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(config.ReloadSignalPath())
			if err != nil {
				continue
			}
			if !info.ModTime().After(lastMtime) {
				continue
			}
			lastMtime = info.ModTime()

			cfg, err := config.Load()
			if err != nil {
				continue
			}
			surface.Gate.SetCeiling(cfg.MaxConcurrent)
			surface.Log.ConfigReloaded(cfg.MaxConcurrent)
		}
	}
}

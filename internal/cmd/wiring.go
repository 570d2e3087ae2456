package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/shlex"

	"github.com/spindle-run/spindle/internal/activitylog"
	"github.com/spindle-run/spindle/internal/config"
	"github.com/spindle-run/spindle/internal/gate"
	"github.com/spindle-run/spindle/internal/harness"
	"github.com/spindle-run/spindle/internal/harness/claude"
	"github.com/spindle-run/spindle/internal/harness/codex"
	"github.com/spindle-run/spindle/internal/harness/generic"
	"github.com/spindle-run/spindle/internal/monitor"
	"github.com/spindle-run/spindle/internal/shard"
	"github.com/spindle-run/spindle/internal/spool"
	"github.com/spindle-run/spindle/internal/tools"
)

// buildSurface assembles the Tool Surface from ambient configuration:
// the Spool Store, Concurrency Gate, Harness Registry, Shard Manager,
// and Monitor Loop, wired once at process start before any tools are
// registered. supervisorID identifies this process in the activity log.
func buildSurface(supervisorID string) (*tools.Surface, *monitor.Loop, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("cmd: load config: %w", err)
	}

	store, err := spool.Open(config.SpoolsDir())
	if err != nil {
		return nil, nil, fmt.Errorf("cmd: open spool store: %w", err)
	}

	ceiling := cfg.MaxConcurrent
	if raw := os.Getenv("SPINDLE_MAX_CONCURRENT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			ceiling = n
		}
	}
	g := gate.New(store, ceiling)

	adapters := []harness.Harness{claude.New(), codex.New()}
	if binary := os.Getenv("SPINDLE_GENERIC_HARNESS_BINARY"); binary != "" {
		var extraArgs []string
		if raw := os.Getenv("SPINDLE_GENERIC_HARNESS_ARGS"); raw != "" {
			parsed, err := shlex.Split(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("cmd: parse SPINDLE_GENERIC_HARNESS_ARGS: %w", err)
			}
			extraArgs = parsed
		}
		adapters = append(adapters, generic.New(binary, extraArgs...))
	}
	registry := harness.NewRegistry(adapters...)

	shards := shard.NewManager(config.SpindleDir())

	logger := newActivityLogger(supervisorID)

	monitorLoop := monitor.NewLoop(store)
	monitorLoop.SetLogger(logger)

	surface := &tools.Surface{
		Store:              store,
		Gate:               g,
		Harnesses:          registry,
		Monitor:            monitorLoop,
		Shards:             shards,
		BaseDir:            config.SpindleDir(),
		DefaultHarness:     cfg.DefaultHarness,
		DefaultPermission:  cfg.DefaultPermission,
		DefaultShardPreset: cfg.Shard.Preset,
		Log:                logger,
	}
	monitorLoop.SetFallbackSpawner(surface.AutoFallbackResume)
	return surface, monitorLoop, nil
}

// newActivityLogger opens the supervisor-wide structured activity log,
// enabled unless SPINDLE_ACTIVITY_LOG=off.
func newActivityLogger(supervisorID string) *activitylog.Logger {
	if os.Getenv("SPINDLE_ACTIVITY_LOG") == "off" {
		return activitylog.Nop()
	}
	return activitylog.New(true, config.ActivityLogPath(), "supervisor", supervisorID)
}

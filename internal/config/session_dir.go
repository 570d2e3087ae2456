package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// SpoolsDir returns <SpindleDir>/spools, the root the Spool Store
// persists one JSON file per spool under.
func SpoolsDir() string {
	return filepath.Join(SpindleDir(), "spools")
}

// SinksDir returns <SpindleDir>/sinks, the root holding per-spool
// stdout/stderr sink files the launcher writes a spawned process's
// output to.
func SinksDir() string {
	return filepath.Join(SpindleDir(), "sinks")
}

// SinkDir returns the sink directory for a single spool.
func SinkDir(spoolID string) string {
	return filepath.Join(SinksDir(), spoolID)
}

// WorktreesDir returns <SpindleDir>/worktrees, the root the Shard
// Manager creates git worktrees under.
func WorktreesDir() string {
	return filepath.Join(SpindleDir(), "worktrees")
}

// ActivityLogPath returns the path to the supervisor-wide structured
// activity log.
func ActivityLogPath() string {
	return filepath.Join(SpindleDir(), "activity.log")
}

// PIDFilePath returns the path to the running supervisor's pid file,
// used by `spindle status` to locate the daemonized process.
func PIDFilePath() string {
	return filepath.Join(SpindleDir(), "spindle.pid")
}

// EnsureDirs creates every directory Spindle persists state under, so
// a fresh SPINDLE_DIR is ready for the supervisor to start in.
func EnsureDirs() error {
	for _, dir := range []string{SpindleDir(), SpoolsDir(), SinksDir(), WorktreesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

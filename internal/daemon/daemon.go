// Package daemon forks the supervisor into a detached background
// process for `spindle start`: re-exec the same binary with a hidden
// subcommand, redirect stdio to /dev/null, and poll for a readiness
// marker instead of waiting on the child. The readiness marker is a pid
// file, since the supervisor's transport (stdio or HTTP) isn't the
// thing callers poll for.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spindle-run/spindle/internal/config"
)

// PollInterval and PollAttempts bound how long Fork waits for the
// forked supervisor to write its pid file before giving up.
const (
	PollInterval = 100 * time.Millisecond
	PollAttempts = 50
)

// Fork starts the supervisor as a detached background process by
// re-execing the current binary with the hidden "_serve-internal"
// subcommand plus the given extra args (e.g. "--http").
func Fork(extraArgs ...string) error {
	if running, pid := IsRunning(); running {
		return fmt.Errorf("daemon: supervisor already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: find executable: %w", err)
	}

	args := append([]string{"_serve-internal"}, extraArgs...)
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = detachedProcAttr()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemon: open /dev/null: %w", err)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return fmt.Errorf("daemon: start supervisor: %w", err)
	}

	go func() {
		cmd.Wait()
		devNull.Close()
	}()

	for i := 0; i < PollAttempts; i++ {
		time.Sleep(PollInterval)
		if running, _ := IsRunning(); running {
			return nil
		}
	}
	return fmt.Errorf("daemon: supervisor did not report ready (no pid file at %s)", config.PIDFilePath())
}

// WritePIDFile records the current process's pid, called by the
// foreground "serve" command once it has finished wiring up the
// supervisor and is ready to accept requests.
func WritePIDFile() error {
	path := config.PIDFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("daemon: create pid file dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePIDFile clears the pid file on clean shutdown.
func RemovePIDFile() {
	_ = os.Remove(config.PIDFilePath())
}

// IsRunning reports whether the pid file names a live process.
func IsRunning() (bool, int) {
	data, err := os.ReadFile(config.PIDFilePath())
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}
	if err := proc.Signal(syscallSignalZero()); err != nil {
		return false, 0
	}
	return true, pid
}

package daemon

import (
	"os"
	"strconv"
	"testing"

	"github.com/spindle-run/spindle/internal/config"
)

func TestIsRunningFalseWhenNoPIDFile(t *testing.T) {
	t.Setenv("SPINDLE_DIR", t.TempDir())

	running, pid := IsRunning()
	if running || pid != 0 {
		t.Errorf("IsRunning() = (%v, %d), want (false, 0) with no pid file", running, pid)
	}
}

func TestWritePIDFileThenIsRunning(t *testing.T) {
	t.Setenv("SPINDLE_DIR", t.TempDir())

	if err := WritePIDFile(); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	running, pid := IsRunning()
	if !running || pid != os.Getpid() {
		t.Errorf("IsRunning() = (%v, %d), want (true, %d)", running, pid, os.Getpid())
	}

	RemovePIDFile()
	running, _ = IsRunning()
	if running {
		t.Error("IsRunning() = true after RemovePIDFile")
	}
}

func TestIsRunningFalseForDeadPID(t *testing.T) {
	t.Setenv("SPINDLE_DIR", t.TempDir())

	deadPID := 1 << 30 // astronomically unlikely to be a live pid
	path := config.PIDFilePath()
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	running, _ := IsRunning()
	if running {
		t.Error("IsRunning() = true for a pid that cannot plausibly be alive")
	}
}

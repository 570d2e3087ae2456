package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLaunchCapturesStdoutAndExitCode(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		SpoolID:    "abc",
		Binary:     "/bin/sh",
		Argv:       []string{"-c", "echo hello"},
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "out.log"),
		StderrPath: filepath.Join(dir, "err.log"),
	}
	h, err := Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	select {
	case res := <-h.Done:
		if res.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0", res.ExitCode)
		}
		if res.TimedOut || res.Killed {
			t.Errorf("unexpected TimedOut/Killed: %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process completion")
	}
	out, err := os.ReadFile(spec.StdoutPath)
	if err != nil {
		t.Fatalf("read stdout sink: %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("stdout = %q, want %q", out, "hello\n")
	}
}

func TestLaunchEnforcesTimeout(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Binary:     "/bin/sh",
		Argv:       []string{"-c", "sleep 30"},
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "out.log"),
		StderrPath: filepath.Join(dir, "err.log"),
		Timeout:    200 * time.Millisecond,
	}
	h, err := Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	select {
	case res := <-h.Done:
		if !res.TimedOut {
			t.Errorf("expected TimedOut=true, got %+v", res)
		}
	case <-time.After(8 * time.Second):
		t.Fatal("launcher did not enforce timeout")
	}
}

func TestHandleDropKillsChild(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Binary:     "/bin/sh",
		Argv:       []string{"-c", "sleep 30"},
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "out.log"),
		StderrPath: filepath.Join(dir, "err.log"),
	}
	h, err := Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	h.Drop()
	select {
	case res := <-h.Done:
		if !res.Killed {
			t.Errorf("expected Killed=true, got %+v", res)
		}
		if res.TimedOut {
			t.Errorf("Drop should not report TimedOut, got %+v", res)
		}
	case <-time.After(8 * time.Second):
		t.Fatal("launcher did not respond to Drop")
	}
}

func TestHandleDropIsSafeAfterChildAlreadyExited(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Binary:     "/bin/sh",
		Argv:       []string{"-c", "true"},
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "out.log"),
		StderrPath: filepath.Join(dir, "err.log"),
	}
	h, err := Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	select {
	case <-h.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process completion")
	}
	h.Drop() // must not panic or block once the child has already exited
}

func TestLaunchCancelContextKillsChild(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	spec := Spec{
		Binary:     "/bin/sh",
		Argv:       []string{"-c", "sleep 30"},
		WorkingDir: dir,
		StdoutPath: filepath.Join(dir, "out.log"),
		StderrPath: filepath.Join(dir, "err.log"),
	}
	h, err := Launch(ctx, spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case res := <-h.Done:
		if res.Err == nil {
			t.Errorf("expected context cancellation error, got nil")
		}
	case <-time.After(8 * time.Second):
		t.Fatal("launcher did not respond to context cancellation")
	}
}

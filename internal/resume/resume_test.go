package resume

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spindle-run/spindle/internal/harness"
	"github.com/spindle-run/spindle/internal/spool"
)

var errMalformedSessionID = errors.New("malformed session id")

type fakeHarness struct {
	resumeErr     error
	expiredMarker string
}

func (f *fakeHarness) Name() string   { return "fake" }
func (f *fakeHarness) Binary() string { return "fake" }
func (f *fakeHarness) BuildCommand(in harness.CommandInput) ([]string, error) {
	return []string{"fake"}, nil
}
func (f *fakeHarness) ParseOutput(stdout []byte) (harness.ParsedOutput, error) {
	return harness.ParsedOutput{}, nil
}
func (f *fakeHarness) ResumeCommand(sessionID, prompt string) ([]string, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return []string{"fake", "--resume", sessionID, prompt}, nil
}
func (f *fakeHarness) IsExpiredSession(stderrTail []byte) bool {
	return f.expiredMarker != "" && strings.Contains(string(stderrTail), f.expiredMarker)
}

type fakeFallbackHarness struct {
	fakeHarness
}

func (f *fakeFallbackHarness) FallbackResume(previousPrompt, previousResult, newPrompt string) ([]string, error) {
	return []string{"fake", previousPrompt, previousResult, newPrompt}, nil
}

func writeStderr(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stderr.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestBuildUsesNativeResumeWhenSessionValid(t *testing.T) {
	h := &fakeHarness{}
	prev := spool.Spool{ID: "p1", SessionID: "sess-1", StderrPath: writeStderr(t, "ordinary log output")}

	plan, err := Build(h, prev, "new prompt")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.UsedFallback {
		t.Error("expected native resume, not fallback")
	}
	if plan.RetryOfID != "p1" {
		t.Errorf("RetryOfID = %q, want p1", plan.RetryOfID)
	}
}

func TestBuildFallsBackWhenSessionIDRejectedSynchronously(t *testing.T) {
	h := &fakeFallbackHarness{fakeHarness{resumeErr: errMalformedSessionID}}
	prev := spool.Spool{
		ID:        "p2",
		SessionID: "sess-2",
		Prompt:    "original prompt",
		Result:    "original result",
	}

	plan, err := Build(h, prev, "continue please")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !plan.UsedFallback {
		t.Error("expected fallback resume")
	}
}

func TestBuildErrorsWhenRejectedAndNoFallback(t *testing.T) {
	h := &fakeHarness{resumeErr: errMalformedSessionID}
	prev := spool.Spool{ID: "p3", SessionID: "sess-3"}

	if _, err := Build(h, prev, "continue"); err == nil {
		t.Error("expected error when session id rejected and harness has no fallback")
	}
}

func TestBuildErrorsWithoutSessionID(t *testing.T) {
	h := &fakeHarness{}
	prev := spool.Spool{ID: "p4"}
	if _, err := Build(h, prev, "continue"); err == nil {
		t.Error("expected error for missing session id")
	}
}

func TestIsExpiredSessionReadsStderrTail(t *testing.T) {
	h := &fakeHarness{expiredMarker: "session expired marker"}
	path := writeStderr(t, "fatal: session expired marker detected")

	expired, err := IsExpiredSession(h, path)
	if err != nil {
		t.Fatalf("IsExpiredSession: %v", err)
	}
	if !expired {
		t.Error("expected IsExpiredSession to report true")
	}
}

func TestIsExpiredSessionFalseForOrdinaryOutput(t *testing.T) {
	h := &fakeHarness{expiredMarker: "session expired marker"}
	path := writeStderr(t, "ordinary log output")

	expired, err := IsExpiredSession(h, path)
	if err != nil {
		t.Fatalf("IsExpiredSession: %v", err)
	}
	if expired {
		t.Error("expected IsExpiredSession to report false")
	}
}

func TestIsExpiredSessionMissingSinkIsNotAnError(t *testing.T) {
	h := &fakeHarness{expiredMarker: "session expired marker"}
	expired, err := IsExpiredSession(h, filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("IsExpiredSession: %v", err)
	}
	if expired {
		t.Error("expected false for a missing sink")
	}
}

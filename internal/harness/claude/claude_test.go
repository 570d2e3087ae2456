package claude

import (
	"strings"
	"testing"

	"github.com/spindle-run/spindle/internal/harness"
)

func TestBuildCommandIncludesSessionIDAndPrompt(t *testing.T) {
	a := New()
	argv, err := a.BuildCommand(harness.CommandInput{
		SpoolID:    "deadbeef12345678",
		Prompt:     "do the thing",
		Permission: "readonly",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--session-id deadbeef12345678") {
		t.Errorf("argv missing session id: %v", argv)
	}
	if argv[len(argv)-1] != "do the thing" {
		t.Errorf("argv last element = %q, want prompt", argv[len(argv)-1])
	}
	if !strings.Contains(joined, "--permission-mode plan") {
		t.Errorf("argv missing plan mode for readonly: %v", argv)
	}
	if !strings.Contains(joined, "--allowedTools Read,Grep,Glob") {
		t.Errorf("argv missing readonly allowed tools: %v", argv)
	}
}

func TestBuildCommandGeneratesSessionIDWhenSpoolIDEmpty(t *testing.T) {
	a := New()
	argv, err := a.BuildCommand(harness.CommandInput{Prompt: "hi"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--session-id") {
		t.Errorf("argv missing generated session id: %v", argv)
	}
}

func TestResumeCommandValidatesSessionID(t *testing.T) {
	a := New()
	if _, err := a.ResumeCommand("", "hi"); err == nil {
		t.Error("expected error for empty session id")
	}
	if _, err := a.ResumeCommand("bad id; rm -rf /", "hi"); err == nil {
		t.Error("expected error for invalid session id format")
	}
	argv, err := a.ResumeCommand("abc-123_XYZ", "continue")
	if err != nil {
		t.Fatalf("ResumeCommand: %v", err)
	}
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--resume abc-123_XYZ continue") {
		t.Errorf("argv = %v, want --resume abc-123_XYZ continue", argv)
	}
}

func TestFallbackResumeEmbedsTranscript(t *testing.T) {
	a := New()
	argv, err := a.FallbackResume("old prompt", "old result", "new prompt")
	if err != nil {
		t.Fatalf("FallbackResume: %v", err)
	}
	last := argv[len(argv)-1]
	if !strings.Contains(last, "old prompt") || !strings.Contains(last, "old result") || !strings.Contains(last, "new prompt") {
		t.Errorf("fallback prologue missing expected content: %s", last)
	}
}

func TestIsExpiredSession(t *testing.T) {
	a := New()
	if !a.IsExpiredSession([]byte("Error: No conversation found with session ID abc")) {
		t.Error("expected expired session fingerprint to match")
	}
	if a.IsExpiredSession([]byte("some other error")) {
		t.Error("unexpected match on unrelated stderr")
	}
}

func TestParseOutputExtractsResultEvent(t *testing.T) {
	a := New()
	stdout := []byte(`{"type":"system","session_id":"sess-1"}
{"type":"assistant","session_id":"sess-1","message":{"content":[{"type":"text","text":"partial"}]}}
{"type":"result","session_id":"sess-1","result":"final answer"}
`)
	out, err := a.ParseOutput(stdout)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.Result != "final answer" {
		t.Errorf("Result = %q, want %q", out.Result, "final answer")
	}
	if out.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", out.SessionID, "sess-1")
	}
}

func TestParseOutputFallsBackToAssistantText(t *testing.T) {
	a := New()
	stdout := []byte(`{"type":"assistant","session_id":"sess-2","message":{"content":[{"type":"text","text":"the answer"}]}}
`)
	out, err := a.ParseOutput(stdout)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.Result != "the answer" {
		t.Errorf("Result = %q, want %q", out.Result, "the answer")
	}
}

func TestParseOutputErrorsWhenNoResult(t *testing.T) {
	a := New()
	if _, err := a.ParseOutput([]byte(`{"type":"system"}`)); err == nil {
		t.Error("expected error when no result event present")
	}
}

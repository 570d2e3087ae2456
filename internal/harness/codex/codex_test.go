package codex

import (
	"strings"
	"testing"

	"github.com/spindle-run/spindle/internal/harness"
)

func TestBuildCommandSandboxFlagsByPermission(t *testing.T) {
	orig := supportsLandlock
	supportsLandlock = func() bool { return true }
	defer func() { supportsLandlock = orig }()

	cases := []struct {
		permission string
		wantFlag   string
		wantNever  bool
	}{
		{"readonly", "read-only", false},
		{"careful", "workspace-write", false},
		{"full", "danger-full-access", true},
		{"shard", "danger-full-access", true},
		{"careful+shard", "danger-full-access", true},
	}
	a := New()
	for _, c := range cases {
		argv, err := a.BuildCommand(harness.CommandInput{Prompt: "hi", Permission: c.permission})
		if err != nil {
			t.Fatalf("BuildCommand(%s): %v", c.permission, err)
		}
		joined := strings.Join(argv, " ")
		if !strings.Contains(joined, "--sandbox "+c.wantFlag) {
			t.Errorf("permission %s: argv = %v, want --sandbox %s", c.permission, argv, c.wantFlag)
		}
		if strings.Contains(joined, "--ask-for-approval never") != c.wantNever {
			t.Errorf("permission %s: ask-for-approval never mismatch in %v", c.permission, argv)
		}
	}
}

func TestBuildCommandBypassesSandboxWithoutLandlock(t *testing.T) {
	orig := supportsLandlock
	supportsLandlock = func() bool { return false }
	defer func() { supportsLandlock = orig }()

	a := New()
	argv, err := a.BuildCommand(harness.CommandInput{Prompt: "hi", Permission: "careful"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--sandbox danger-full-access") {
		t.Errorf("argv = %v, want bypassed --sandbox danger-full-access", argv)
	}
	if !strings.Contains(joined, "--ask-for-approval never") {
		t.Errorf("argv = %v, want --ask-for-approval never on bypass", argv)
	}

	decision := a.SandboxDecision("careful")
	if !strings.Contains(decision, "bypassed") {
		t.Errorf("SandboxDecision = %q, want it to record the bypass", decision)
	}
}

func TestRequiresWorkingDir(t *testing.T) {
	if !New().RequiresWorkingDir() {
		t.Error("codex adapter must require working_dir")
	}
}

func TestResumeCommandValidatesThreadID(t *testing.T) {
	a := New()
	if _, err := a.ResumeCommand("", "hi"); err == nil {
		t.Error("expected error for empty thread id")
	}
	if _, err := a.ResumeCommand("not-a-uuid", "hi"); err == nil {
		t.Error("expected error for malformed thread id")
	}
	argv, err := a.ResumeCommand("11111111-2222-3333-4444-555555555555", "continue")
	if err != nil {
		t.Fatalf("ResumeCommand: %v", err)
	}
	if argv[len(argv)-2] != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("argv = %v, want thread id before prompt", argv)
	}
}

func TestIsExpiredSession(t *testing.T) {
	a := New()
	if !a.IsExpiredSession([]byte(`turn failed: session_expired`)) {
		t.Error("expected session_expired fingerprint to match")
	}
	if a.IsExpiredSession([]byte("unrelated error")) {
		t.Error("unexpected match")
	}
}

func TestParseOutputExtractsThreadIDAndResult(t *testing.T) {
	a := New()
	stdout := []byte(`{"type":"thread.started","thread_id":"11111111-2222-3333-4444-555555555555"}
{"type":"item.completed","item":{"type":"command_execution","text":""}}
{"type":"item.completed","item":{"type":"agent_message","text":"done"}}
{"type":"turn.completed"}
`)
	out, err := a.ParseOutput(stdout)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.SessionID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("SessionID = %q", out.SessionID)
	}
	if out.Result != "done" {
		t.Errorf("Result = %q, want %q", out.Result, "done")
	}
}

func TestParseOutputReturnsErrorOnTurnFailed(t *testing.T) {
	a := New()
	stdout := []byte(`{"type":"turn.failed","error":{"code":"session_expired","message":"session not found"}}
`)
	if _, err := a.ParseOutput(stdout); err == nil {
		t.Error("expected error for turn.failed event")
	}
}

func TestParseOutputErrorsWhenNoAgentMessage(t *testing.T) {
	a := New()
	if _, err := a.ParseOutput([]byte(`{"type":"turn.completed"}`)); err == nil {
		t.Error("expected error when no agent_message item present")
	}
}

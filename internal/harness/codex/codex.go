// Package codex implements the Harness for OpenAI's Codex CLI, driving
// its non-interactive `exec --json` mode and parsing the JSONL event
// stream it produces.
package codex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/spindle-run/spindle/internal/harness"
)

const binary = "codex"

// validThreadID allowlists Codex thread ids, which are UUIDs. A
// malformed one is treated as absent rather than fatal.
var validThreadID = regexp.MustCompile(`^[0-9a-fA-F-]{36}$`)

// supportsLandlock is a seam over the real kernel probe so tests can
// pin the host's apparent capability instead of depending on whatever
// kernel actually runs the test suite.
var supportsLandlock = SupportsLandlock

// Adapter implements harness.Harness for Codex.
type Adapter struct{}

// New creates a Codex harness adapter.
func New() *Adapter { return &Adapter{} }

var _ harness.Harness = (*Adapter)(nil)

func (a *Adapter) Name() string   { return "codex" }
func (a *Adapter) Binary() string { return binary }

// RequiresWorkingDir reports true: codex cannot infer its working
// directory, so admission must fail without one.
func (a *Adapter) RequiresWorkingDir() bool { return true }

// ResolveSandbox maps a permission profile to the codex --sandbox value,
// substituting a bypass flag when the host kernel lacks a usable
// Landlock ABI to back workspace-write's filesystem confinement:
// without it, Codex's own sandboxing can't actually enforce the
// restriction it claims to apply, so Spindle prefers an honest
// danger-full-access over a sandbox flag the kernel can't honor.
// bypassed reports whether the substitution happened, so the caller can
// record the decision on the spool's Sandbox field.
func ResolveSandbox(permission string) (flag string, bypassed bool) {
	flag = harness.CodexSandboxFlag(permission)
	if flag == "workspace-write" && !supportsLandlock() {
		return "danger-full-access", true
	}
	return flag, false
}

// BuildCommand maps a spool's fields onto Codex's non-interactive "exec"
// invocation with the sandbox flag resolved from permission.
func (a *Adapter) BuildCommand(in harness.CommandInput) ([]string, error) {
	sandboxFlag, bypassed := ResolveSandbox(in.Permission)

	args := []string{"exec", "--json"}
	args = append(args, "--sandbox", sandboxFlag)
	if in.Permission == "full" || in.Permission == "shard" || in.Permission == "careful+shard" || bypassed {
		args = append(args, "--ask-for-approval", "never")
	}
	if in.Model != "" {
		args = append(args, "--model", in.Model)
	}
	if in.WorkingDir != "" {
		args = append(args, "--cd", in.WorkingDir)
	}
	if in.SystemPrompt != "" {
		args = append(args, "-c", fmt.Sprintf("developer_message=%s", in.SystemPrompt))
	}
	args = append(args, in.Prompt)
	return args, nil
}

// SandboxDecision reports the resolved --sandbox value (after any
// Landlock-unavailable bypass substitution) for persisting on a
// spool's Sandbox field, implementing harness.SandboxReporter.
func (a *Adapter) SandboxDecision(permission string) string {
	flag, bypassed := ResolveSandbox(permission)
	if bypassed {
		return flag + " (landlock unavailable, bypassed workspace-write)"
	}
	return flag
}

// ResumeCommand continues a prior Codex thread.
func (a *Adapter) ResumeCommand(sessionID, prompt string) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("codex: missing thread id to resume")
	}
	if !validThreadID.MatchString(sessionID) {
		return nil, fmt.Errorf("codex: invalid thread id format: %q", sessionID)
	}
	return []string{"exec", "--json", "resume", sessionID, prompt}, nil
}

// IsExpiredSession reports whether stderrTail carries Codex's
// session-expired fingerprint ("session not found" or "session_expired").
// Only the given stderr bytes are inspected; turn.failed events on
// stdout are not read here.
func (a *Adapter) IsExpiredSession(stderrTail []byte) bool {
	return bytes.Contains(stderrTail, []byte("session not found")) ||
		bytes.Contains(stderrTail, []byte("session_expired"))
}

// codexEvent is the subset of Codex's event envelope Spindle needs: a
// type discriminator plus a generic item/error payload, rather than a
// full polymorphic item parser table.
type codexEvent struct {
	Type string `json:"type"`
	Item struct {
		Type string          `json:"type"`
		Text string          `json:"text"`
		Raw  json.RawMessage `json:"-"`
	} `json:"item"`
	ThreadID string `json:"thread_id"`
	Error    struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseOutput walks Codex's JSONL event stream for thread.started (to
// capture the resumable thread id) and the final item.completed
// agent_message (the terminal result), failing on turn.failed/error
// events.
func (a *Adapter) ParseOutput(stdout []byte) (harness.ParsedOutput, error) {
	var out harness.ParsedOutput
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	found := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "thread.started":
			if ev.ThreadID != "" && validThreadID.MatchString(ev.ThreadID) {
				out.SessionID = ev.ThreadID
			}
		case "item.completed":
			if ev.Item.Type == "agent_message" && ev.Item.Text != "" {
				out.Result = ev.Item.Text
				found = true
			}
		case "turn.failed":
			msg := ev.Error.Message
			if msg == "" {
				msg = ev.Error.Code
			}
			return harness.ParsedOutput{}, fmt.Errorf("codex: turn failed: %s", msg)
		case "error":
			return harness.ParsedOutput{}, fmt.Errorf("codex: %s", ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return harness.ParsedOutput{}, fmt.Errorf("codex: scan stdout: %w", err)
	}
	if !found {
		return harness.ParsedOutput{}, fmt.Errorf("codex: no completed agent_message found in stdout")
	}
	return out, nil
}

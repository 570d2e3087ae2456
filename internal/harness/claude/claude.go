// Package claude implements the Harness for the Claude Code CLI, built
// around its single-shot `claude -p` invocation with stream-json output.
package claude

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/spindle-run/spindle/internal/harness"
)

const binary = "claude"

// validResumeID allowlists Claude session identifiers before they reach
// a subprocess argv, preventing control characters from smuggling
// themselves in as CLI arguments.
var validResumeID = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Adapter implements harness.Harness for Claude Code.
type Adapter struct{}

// New creates a Claude Code harness adapter.
func New() *Adapter { return &Adapter{} }

var (
	_ harness.Harness         = (*Adapter)(nil)
	_ harness.FallbackResumer = (*Adapter)(nil)
)

func (a *Adapter) Name() string   { return "claude" }
func (a *Adapter) Binary() string { return binary }

// BuildCommand maps a spool's fields to Claude Code's single-shot CLI
// invocation: "claude -p --verbose --output-format stream-json ...".
func (a *Adapter) BuildCommand(in harness.CommandInput) ([]string, error) {
	sessionID := in.SpoolID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	args := baseArgs()
	args = append(args, "--session-id", sessionID)

	if in.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", in.SystemPrompt)
	}
	if in.Model != "" {
		args = append(args, "--model", in.Model)
	}
	if mode := permissionModeFlag(in.Permission); mode != "" {
		args = append(args, "--permission-mode", mode)
	}
	if tools := harness.ResolveClaudeAllowedTools(in.Permission, in.AllowedTools); tools != "" {
		args = append(args, "--allowedTools", tools)
	}

	args = append(args, in.Prompt)
	return args, nil
}

// ResumeCommand continues a prior session via --resume.
func (a *Adapter) ResumeCommand(sessionID, prompt string) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("claude: missing session id to resume")
	}
	if !validResumeID.MatchString(sessionID) {
		return nil, fmt.Errorf("claude: invalid session id format: %q", sessionID)
	}
	args := baseArgs()
	args = append(args, "--resume", sessionID, prompt)
	return args, nil
}

// FallbackResume embeds the previous spool's prompt and result as a
// fenced transcript prologue ahead of the new prompt, for use when
// ResumeCommand's session id has expired.
func (a *Adapter) FallbackResume(previousPrompt, previousResult, newPrompt string) ([]string, error) {
	prologue := fmt.Sprintf(
		"Continuing a previous conversation whose session could not be resumed directly.\n\n"+
			"--- previous prompt ---\n%s\n\n--- previous result ---\n%s\n--- end transcript ---\n\n%s",
		previousPrompt, previousResult, newPrompt,
	)
	args := baseArgs()
	args = append(args, prologue)
	return args, nil
}

// IsExpiredSession reports whether stderrTail carries Claude Code's
// "session not found" fingerprint.
func (a *Adapter) IsExpiredSession(stderrTail []byte) bool {
	return bytes.Contains(stderrTail, []byte("No conversation found with session ID")) ||
		bytes.Contains(stderrTail, []byte("session not found"))
}

// ParseOutput scans Claude Code's stream-json stdout for the final
// "result" event (the assistant's terminal text) and a session id in a
// one-shot full-stdout scan.
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
		var ev map[string]any
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // non-JSON line; tolerate stray log noise
		}
		if sid, ok := ev["session_id"].(string); ok && sid != "" {
			out.SessionID = sid
		}
		switch ev["type"] {
		case "result":
			if text, ok := ev["result"].(string); ok {
				out.Result = text
				found = true
			}
		case "assistant":
			if text := extractAssistantText(ev); text != "" {
				out.Result = text
				found = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return harness.ParsedOutput{}, fmt.Errorf("claude: scan stdout: %w", err)
	}
	if !found {
		return harness.ParsedOutput{}, fmt.Errorf("claude: no result event found in stdout")
	}
	return out, nil
}

func extractAssistantText(ev map[string]any) string {
	msg, ok := ev["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, blockAny := range content {
		block, ok := blockAny.(map[string]any)
		if !ok {
			continue
		}
		if block["type"] == "text" {
			if text, ok := block["text"].(string); ok {
				sb.WriteString(text)
			}
		}
	}
	return sb.String()
}

func baseArgs() []string {
	return []string{"-p", "--verbose", "--output-format", "stream-json"}
}

func permissionModeFlag(permission string) string {
	switch permission {
	case "readonly":
		return "plan"
	case "careful", "careful+shard":
		return "acceptEdits"
	case "full", "shard":
		return "bypassPermissions"
	default:
		return ""
	}
}

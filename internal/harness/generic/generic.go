// Package generic implements a catch-all Harness for arbitrary
// single-shot CLI agents that don't warrant a dedicated adapter: no
// structured output parsing, no session resumption, just a configurable
// binary invoked with the prompt appended to a fixed argument template.
package generic

import (
	"fmt"
	"strings"

	"github.com/spindle-run/spindle/internal/harness"
)

// Adapter implements harness.Harness by shelling out to a configurable
// binary, passing the prompt as its last argument. Stdout, with leading
// and trailing whitespace trimmed, is the result; there is no session
// continuation support.
type Adapter struct {
	binary string
	args   []string
}

// New creates a generic adapter invoking binary with args, followed by
// the prompt. If args is empty, the prompt is the sole argument.
func New(binary string, args ...string) *Adapter {
	return &Adapter{binary: binary, args: args}
}

var _ harness.Harness = (*Adapter)(nil)

func (a *Adapter) Name() string   { return "generic" }
func (a *Adapter) Binary() string { return a.binary }

func (a *Adapter) BuildCommand(in harness.CommandInput) ([]string, error) {
	if a.binary == "" {
		return nil, fmt.Errorf("generic: no binary configured")
	}
	argv := append(append([]string{}, a.args...), in.Prompt)
	return argv, nil
}

func (a *Adapter) ResumeCommand(sessionID, prompt string) ([]string, error) {
	return nil, fmt.Errorf("generic: harness %q does not support session resumption", a.binary)
}

func (a *Adapter) IsExpiredSession(stderrTail []byte) bool { return false }

// ParseOutput treats the entirety of stdout, trimmed, as the result. No
// session id is ever recovered since the generic harness has no
// structured event protocol.
func (a *Adapter) ParseOutput(stdout []byte) (harness.ParsedOutput, error) {
	result := strings.TrimSpace(string(stdout))
	if result == "" {
		return harness.ParsedOutput{}, fmt.Errorf("generic: empty stdout")
	}
	return harness.ParsedOutput{Result: result}, nil
}

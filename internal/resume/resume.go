// Package resume implements the Session Resumer: continuing a prior
// spool's conversation either via its harness's native resume support
// or, when the underlying session has expired, by falling back to
// transcript injection. The expired-session detection is a per-harness
// predicate on the previous attempt's stderr tail: a one-shot check
// against a finished spool's captured stderr.
package resume

import (
	"fmt"
	"os"

	"github.com/spindle-run/spindle/internal/harness"
	"github.com/spindle-run/spindle/internal/spool"
)

// StderrTailBytes bounds how much of a prior spool's stderr sink is
// read when checking for an expired-session fingerprint.
const StderrTailBytes = 8192

// Plan is the resolved argv and metadata for resuming a spool.
type Plan struct {
	Argv         []string
	UsedFallback bool
	RetryOfID    string
}

// Build resolves how to continue previous, a terminal spool, with a new
// prompt. It always prefers the harness's native resume command first;
// the only thing that can be known synchronously at build time is
// whether the harness rejects the session id outright (e.g. malformed),
// which falls through to transcript injection immediately. A session
// that *looks* valid here but has actually expired server-side can only
// be discovered once the resumed child actually runs and fails — that
// case is handled asynchronously by the monitor loop's fallback-on-
// expiry path, not here.
func Build(h harness.Harness, previous spool.Spool, newPrompt string) (Plan, error) {
	if previous.SessionID == "" {
		return Plan{}, fmt.Errorf("resume: spool %s has no session id to resume", previous.ID)
	}

	if argv, err := h.ResumeCommand(previous.SessionID, newPrompt); err == nil {
		return Plan{Argv: argv, RetryOfID: previous.ID}, nil
	}

	fallback, ok := h.(harness.FallbackResumer)
	if !ok {
		return Plan{}, fmt.Errorf("resume: spool %s's session id was rejected and harness %q has no fallback resume path", previous.ID, h.Name())
	}
	argv, err := fallback.FallbackResume(previous.Prompt, previous.Result, newPrompt)
	if err != nil {
		return Plan{}, fmt.Errorf("resume: build fallback resume for %s: %w", previous.ID, err)
	}
	return Plan{Argv: argv, UsedFallback: true, RetryOfID: previous.ID}, nil
}

// IsExpiredSession reports whether a just-finished resume attempt's
// stderr sink carries h's expired-session fingerprint, read fresh off
// disk since the Monitor Loop only holds the spool record, not the
// child's output. Used by the Monitor Loop, not by Build: the fingerprint
// can only be observed after the resumed child has actually run.
func IsExpiredSession(h harness.Harness, stderrPath string) (bool, error) {
	if stderrPath == "" {
		return false, nil
	}
	tail, err := readTail(stderrPath, StderrTailBytes)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("resume: read stderr sink %s: %w", stderrPath, err)
	}
	return h.IsExpiredSession(tail), nil
}

// readTail reads up to n trailing bytes of the file at path.
func readTail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	offset := size - n
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, size-offset)
	if _, err := f.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

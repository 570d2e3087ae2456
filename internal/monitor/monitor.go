// Package monitor implements the polling reaper that observes launched
// spools and transitions them to a terminal status once their child
// process exits. A child's completion is observed via process exit and
// filesystem artifacts rather than a structured event stream, so the
// loop polls a set of launcher.Handle.Done channels plus a disk-backed
// orphan sweep; waiters are notified by a channel closed on every
// change.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spindle-run/spindle/internal/activitylog"
	"github.com/spindle-run/spindle/internal/harness"
	"github.com/spindle-run/spindle/internal/launcher"
	"github.com/spindle-run/spindle/internal/resume"
	"github.com/spindle-run/spindle/internal/spool"
)

// stderrTailBytes bounds how much of a failed child's stderr sink is
// read into the spool's error field. The expired-session check reads its
// own tail via resume.IsExpiredSession (resume.StderrTailBytes).
const stderrTailBytes = 4096

// PollInterval is how often the Loop reconciles in-flight spools
// against their launcher handles. The store is scanned for orphans only
// once, at the start of Run.
const PollInterval = 500 * time.Millisecond

// Tracked associates a running spool with the launcher.Handle watching
// its subprocess.
type Tracked struct {
	SpoolID string
	Handle  *launcher.Handle
	Harness harness.Harness
}

// FallbackSpawner spawns a transcript-injection continuation of failed,
// a native-resume attempt the Loop has just determined expired its
// session server-side. Implemented by internal/tools.Surface; kept as a
// function type here so this package never imports tools (which already
// imports monitor).
type FallbackSpawner func(failed spool.Spool) error

// Loop is the single-goroutine reaper: one ticker-driven select loop
// over all tracked handles.
type Loop struct {
	store *spool.Store
	log   *activitylog.Logger

	fallbackSpawner FallbackSpawner

	mu      sync.Mutex
	tracked map[string]Tracked
	changed chan struct{} // closed and replaced whenever any spool's status is updated
}

// NewLoop creates a Loop backed by store.
func NewLoop(store *spool.Store) *Loop {
	return &Loop{
		store:   store,
		log:     activitylog.Nop(),
		tracked: make(map[string]Tracked),
		changed: make(chan struct{}),
	}
}

// SetLogger wires a non-nop activity logger, called once by the
// supervisor's startup wiring (a bare NewLoop used directly by tests
// keeps the nop default).
func (l *Loop) SetLogger(log *activitylog.Logger) {
	if log != nil {
		l.log = log
	}
}

// SetFallbackSpawner wires the callback the Loop invokes when a
// native-resume spool's session turns out to have expired server-side.
// A bare Loop used directly by tests leaves this nil,
// in which case finalize never attempts the fallback check.
func (l *Loop) SetFallbackSpawner(f FallbackSpawner) {
	l.fallbackSpawner = f
}

// Track registers a freshly launched spool for reaping. Called by the
// supervisor immediately after launcher.Launch succeeds.
func (l *Loop) Track(t Tracked) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracked[t.SpoolID] = t
}

// Drop requests termination of the tracked child for spoolID through
// its launcher.Handle.Drop, which runs the same graceful SIGTERM-then-
// SIGKILL sequence the timeout watchdog uses. Reports
// false if no handle is tracked for spoolID in this process — the spool
// already finished and was reaped, or this supervisor never launched it
// — in which case there is no live child here to signal.
func (l *Loop) Drop(spoolID string) bool {
	l.mu.Lock()
	t, ok := l.tracked[spoolID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	t.Handle.Drop()
	return true
}

// Changed returns a channel that is closed the next time any tracked
// spool's status is updated.
func (l *Loop) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

func (l *Loop) notifyChanged() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Run drives the reaper until ctx is cancelled: once at startup it
// recovers orphaned running spools left over from a prior process
// (crash recovery), then ticks on PollInterval reconciling tracked
// handles against the store.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.recoverOrphans(); err != nil {
		return fmt.Errorf("monitor: recover orphans: %w", err)
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.reapFinished()
		case <-ctx.Done():
			return nil
		}
	}
}

// reapFinished checks every tracked handle for completion and, for
// each one that finished, resolves the harness's output parser (or
// timeout/kill outcome) into a terminal spool status. A spool already
// in a terminal status is left untouched; terminal states are sticky.
func (l *Loop) reapFinished() {
	l.mu.Lock()
	inFlight := make([]Tracked, 0, len(l.tracked))
	for _, t := range l.tracked {
		inFlight = append(inFlight, t)
	}
	l.mu.Unlock()

	for _, t := range inFlight {
		select {
		case res := <-t.Handle.Done:
			l.finalize(t, res)
			l.mu.Lock()
			delete(l.tracked, t.SpoolID)
			l.mu.Unlock()
			l.notifyChanged()
		default:
			// still running
		}
	}
}

// finalize resolves a finished child into a terminal spool status. A
// non-timeout/non-killed exit is always run through the harness
// adapter's ParseOutput first: some harnesses use a nonzero
// exit code for benign reasons, so a successful parse wins over a
// nonzero exit code, and only a parse failure falls back to a runtime
// error built from the stderr tail.
func (l *Loop) finalize(t Tracked, res launcher.Result) {
	var stdoutSpool spool.Spool
	if sp, err := l.store.Get(t.SpoolID); err == nil {
		stdoutSpool = sp
	}

	var parsed harness.ParsedOutput
	var parseErr error
	if !res.TimedOut && !res.Killed {
		if data, err := os.ReadFile(stdoutSpool.StdoutPath); err == nil {
			parsed, parseErr = t.Harness.ParseOutput(data)
		} else {
			parseErr = err
		}
	}

	updated, err := l.store.Update(t.SpoolID, func(s spool.Spool) spool.Spool {
		if s.Status.Terminal() {
			return s
		}
		now := time.Now().UTC()
		s.CompletedAt = &now
		s.PID = 0

		switch {
		case res.TimedOut:
			s.Status = spool.StatusTimeout
			s.Error = "timed out and was terminated"
		case res.Killed:
			s.Status = spool.StatusKilled
			s.Error = "terminated before completion"
		case parseErr == nil:
			s.Status = spool.StatusComplete
			s.Result = parsed.Result
			if parsed.SessionID != "" {
				s.SessionID = parsed.SessionID
			}
		case res.Err != nil:
			s.Status = spool.StatusError
			s.Error = res.Err.Error()
		default:
			s.Status = spool.StatusError
			s.Error = fmt.Sprintf("exited with status %d: %s (%v)", res.ExitCode, tailBytes(s.StderrPath, stderrTailBytes), parseErr)
		}

		switch s.Status {
		case spool.StatusComplete:
			l.log.SpoolCompleted(s.ID, res.ExitCode)
		case spool.StatusError:
			l.log.SpoolErrored(s.ID, s.Error)
		}
		return s
	})
	if err != nil {
		return
	}
	l.maybeSpawnFallback(t, updated)
}

// maybeSpawnFallback checks a just-errored native-resume spool for an
// expired-session fingerprint in its own stderr and, if found, hands it
// to the wired FallbackSpawner to retry via transcript injection.
// Run after the store update commits, never inside
// its mutator: spawning a fallback spool does its own Gate admission
// and Store writes, which must not happen under the update's lock.
func (l *Loop) maybeSpawnFallback(t Tracked, updated spool.Spool) {
	if l.fallbackSpawner == nil {
		return
	}
	if updated.Status != spool.StatusError || updated.ResumeKind != spool.ResumeKindNative || updated.RetryOf == "" {
		return
	}
	expired, err := resume.IsExpiredSession(t.Harness, updated.StderrPath)
	if err != nil || !expired {
		return
	}
	if err := l.fallbackSpawner(updated); err != nil {
		l.log.SpoolErrored(updated.ID, fmt.Sprintf("fallback resume after expired session failed: %v", err))
	}
}

// tailBytes reads up to n trailing bytes of path, tolerating a missing
// or empty sink (the child may have been killed before writing anything).
func tailBytes(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > n {
		offset = info.Size() - n
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}

// recoverOrphans walks the store once for spools left in StatusRunning
// with no tracked handle — the prior supervisor process crashed or was
// killed before it could reap them. Their child processes are gone
// along with the parent, so they are marked as errored rather than
// left running forever.
func (l *Loop) recoverOrphans() error {
	running, err := l.store.List(spool.ByStatus(spool.StatusRunning))
	if err != nil {
		return err
	}
	l.mu.Lock()
	tracked := make(map[string]bool, len(l.tracked))
	for id := range l.tracked {
		tracked[id] = true
	}
	l.mu.Unlock()

	for _, s := range running {
		if tracked[s.ID] {
			continue
		}
		now := time.Now().UTC()
		if _, err := l.store.Update(s.ID, func(sp spool.Spool) spool.Spool {
			if sp.Status.Terminal() {
				return sp
			}
			sp.Status = spool.StatusError
			sp.Error = "orphaned: no supervisor was tracking this spool on startup"
			sp.CompletedAt = &now
			sp.PID = 0
			return sp
		}); err != nil {
			return fmt.Errorf("recover orphan %s: %w", s.ID, err)
		}
		l.log.SpoolOrphaned(s.ID)
	}
	return nil
}

// Package gate enforces the concurrency ceiling on running spools.
// Admission is recomputed from the disk-backed store rather than a
// purely in-memory counter, so a ceiling is still honored correctly
// across a supervisor restart.
package gate

import (
	"fmt"
	"sync"
)

// DefaultCeiling is used when no ceiling is configured by env var or
// spindle.yaml.
const DefaultCeiling = 15

// Counter reports how many spools are currently running, backed by the
// Spool Store's directory scan.
type Counter interface {
	CountRunning() (int, error)
}

// Gate admits or rejects new spool launches against a concurrency
// ceiling.
type Gate struct {
	mu       sync.Mutex
	store    Counter
	ceiling  int
	reserved int // admitted but not yet reflected as "running" in the store
}

// New creates a Gate with the given ceiling. A ceiling <= 0 is
// replaced with DefaultCeiling.
func New(store Counter, ceiling int) *Gate {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Gate{store: store, ceiling: ceiling}
}

// Ceiling returns the configured concurrency limit.
func (g *Gate) Ceiling() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ceiling
}

// SetCeiling updates the concurrency limit at runtime (spindle reload).
func (g *Gate) SetCeiling(ceiling int) {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ceiling = ceiling
}

// Admit reports whether a new spool may start running right now. It
// recomputes the running count from the store on every call — the
// ceiling must hold even after a crash-restart where no in-memory
// state survived — and adds any in-process reservations not yet
// reflected on disk, closing the gap between two concurrent admission
// calls racing the same disk snapshot. A successful Admit holds its
// reservation until the caller reports the outcome via Release, which
// must be called exactly once per successful Admit regardless of
// whether the launch ultimately succeeds.
func (g *Gate) Admit() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	running, err := g.store.CountRunning()
	if err != nil {
		return false, fmt.Errorf("gate: count running spools: %w", err)
	}
	if running+g.reserved >= g.ceiling {
		return false, nil
	}
	g.reserved++
	return true, nil
}

// Release gives back a reservation taken by a prior successful Admit.
// Callers invoke it once the admitted spool's status is durably
// persisted as running (so the disk census now counts it instead) or
// once admission is abandoned without ever launching — either way the
// reservation must not be double-counted against future Admit calls.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved > 0 {
		g.reserved--
	}
}

// ErrAtCapacity is returned by tool-surface operations when a launch is
// rejected because the concurrency ceiling has been reached.
var ErrAtCapacity = fmt.Errorf("gate: concurrency ceiling reached")

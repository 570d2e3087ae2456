// Package wait implements multi-spool wait coordination: gather (block
// until every named spool reaches a terminal status) and stream (yield
// each spool's terminal status as soon as it's reached, earliest
// first). Both are bounded-backoff polling loops over the Spool Store:
// a set of spool ids has no shared notification channel to block on.
package wait

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spindle-run/spindle/internal/spool"
)

// MinInterval and MaxInterval bound the exponential polling backoff.
const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = 2 * time.Second
)

// Getter is the minimal store dependency wait needs, kept as an
// interface so tests can substitute a fake without a real Store.
type Getter interface {
	Get(id string) (spool.Spool, error)
}

// Gather blocks until every spool in ids reaches a terminal status or
// ctx's deadline elapses, then returns one record per id in the same
// order as ids. A spool that has not yet terminated by the deadline is
// reported with its current (non-terminal) state rather than as an
// error — the deadline bounds the waiter, not the spools it's waiting
// on.
func Gather(ctx context.Context, store Getter, ids []string) ([]spool.Spool, error) {
	remaining := make(map[string]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}
	results := make(map[string]spool.Spool, len(ids))

	collect := func() ([]spool.Spool, error) {
		out := make([]spool.Spool, len(ids))
		for i, id := range ids {
			out[i] = results[id]
		}
		return out, nil
	}

	interval := MinInterval
	for len(remaining) > 0 {
		for id := range remaining {
			sp, err := store.Get(id)
			if err != nil {
				return nil, fmt.Errorf("wait: get %s: %w", id, err)
			}
			results[id] = sp
			if sp.Status.Terminal() {
				delete(remaining, id)
			}
		}
		if len(remaining) == 0 {
			break
		}
		select {
		case <-time.After(interval):
			interval = nextInterval(interval)
		case <-ctx.Done():
			return collect()
		}
	}

	return collect()
}

// Event is one spool's terminal arrival, emitted by Stream.
type Event struct {
	Spool spool.Spool
	Err   error
}

// Stream polls ids for terminal status and sends each one's Event on
// the returned channel as soon as it arrives, in ascending-id order
// among spools that become terminal within the same poll tick (a
// simple, deterministic tie-break since polling can't otherwise
// distinguish simultaneous completions). The channel is closed once
// every id has been emitted or ctx is cancelled.
func Stream(ctx context.Context, store Getter, ids []string) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		remaining := make(map[string]bool, len(ids))
		for _, id := range ids {
			remaining[id] = true
		}

		interval := MinInterval
		for len(remaining) > 0 {
			ready := make([]string, 0, len(remaining))
			for id := range remaining {
				ready = append(ready, id)
			}
			sort.Strings(ready)

			for _, id := range ready {
				sp, err := store.Get(id)
				if err != nil {
					select {
					case out <- Event{Err: fmt.Errorf("wait: get %s: %w", id, err)}:
					case <-ctx.Done():
						return
					}
					delete(remaining, id)
					continue
				}
				if !sp.Status.Terminal() {
					continue
				}
				select {
				case out <- Event{Spool: sp}:
				case <-ctx.Done():
					return
				}
				delete(remaining, id)
			}

			if len(remaining) == 0 {
				return
			}
			select {
			case <-time.After(interval):
				interval = nextInterval(interval)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func nextInterval(cur time.Duration) time.Duration {
	next := cur * 2
	if next > MaxInterval {
		return MaxInterval
	}
	return next
}

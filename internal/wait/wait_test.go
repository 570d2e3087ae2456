package wait

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spindle-run/spindle/internal/spool"
)

type fakeStore struct {
	mu sync.Mutex
	m  map[string]spool.Spool
}

func newFakeStore(spools ...spool.Spool) *fakeStore {
	f := &fakeStore{m: make(map[string]spool.Spool)}
	for _, sp := range spools {
		f.m[sp.ID] = sp
	}
	return f
}

func (f *fakeStore) Get(id string) (spool.Spool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.m[id]
	if !ok {
		return spool.Spool{}, fmt.Errorf("not found: %s", id)
	}
	return sp, nil
}

func (f *fakeStore) setStatus(id string, status spool.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.m[id]
	sp.Status = status
	f.m[id] = sp
}

func TestGatherReturnsImmediatelyWhenAllTerminal(t *testing.T) {
	store := newFakeStore(
		spool.Spool{ID: "a", Status: spool.StatusComplete},
		spool.Spool{ID: "b", Status: spool.StatusError},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := Gather(ctx, store, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("out = %+v", out)
	}
}

func TestGatherWaitsForPendingSpools(t *testing.T) {
	store := newFakeStore(
		spool.Spool{ID: "a", Status: spool.StatusRunning},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(150 * time.Millisecond)
		store.setStatus("a", spool.StatusComplete)
	}()

	out, err := Gather(ctx, store, []string{"a"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if out[0].Status != spool.StatusComplete {
		t.Errorf("Status = %q, want complete", out[0].Status)
	}
}

func TestGatherReportsNonTerminalStateOnDeadline(t *testing.T) {
	store := newFakeStore(spool.Spool{ID: "a", Status: spool.StatusRunning})
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	out, err := Gather(ctx, store, []string{"a"})
	if err != nil {
		t.Fatalf("Gather: %v, want the deadline reported via the spool's current state, not an error", err)
	}
	if len(out) != 1 || out[0].Status != spool.StatusRunning {
		t.Errorf("out = %+v, want a still-running spool a", out)
	}
}

func TestStreamEmitsEachSpoolOnce(t *testing.T) {
	store := newFakeStore(
		spool.Spool{ID: "a", Status: spool.StatusComplete},
		spool.Spool{ID: "b", Status: spool.StatusRunning},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(150 * time.Millisecond)
		store.setStatus("b", spool.StatusComplete)
	}()

	seen := make(map[string]bool)
	for ev := range Stream(ctx, store, []string{"a", "b"}) {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
		seen[ev.Spool.ID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("seen = %v, want both a and b", seen)
	}
}

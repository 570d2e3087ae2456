package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotFound is returned by Get when no spool exists for the given id.
var ErrNotFound = errors.New("spool: not found")

// lockFileName is the advisory-lock file a Store takes to serialize
// writes with any other process (a restarted supervisor, a one-off CLI
// invocation) rooted at the same spools directory. It lives inside Dir
// rather than beside it so a Store opened directly on a throwaway
// directory (as tests do) never leaks a file outside that directory.
const lockFileName = ".store.lock"

// Store persists Spool records as one JSON file per spool under Dir.
// Writes are atomic (temp file + rename); reads are whole-file parses.
// There is no index — Listing scans the directory.
//
// A per-store sync.Mutex serializes Put/Update within this process; an
// additional gofrs/flock advisory lock on a file inside Dir serializes
// the same writes against any other process rooted at the same
// directory, the way internal/shard serializes concurrent
// `git worktree add` calls across processes.
type Store struct {
	Dir string

	mu   sync.Mutex
	lock *flock.Flock
}

// Open ensures the store's directory exists and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create store dir: %w", err)
	}
	return &Store{
		Dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// withFileLock runs fn while holding the store's cross-process advisory
// lock. Callers must already hold s.mu — flock.Flock is not itself
// reentrant-safe against concurrent goroutines in this process, so the
// in-process mutex remains the first line of serialization and the
// file lock only needs to exclude other processes.
func (s *Store) withFileLock(fn func() error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("spool: acquire store lock: %w", err)
	}
	defer s.lock.Unlock()
	return fn()
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// Put writes a new (or replaces an existing) spool record atomically.
func (s *Store) Put(sp Spool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withFileLock(func() error {
		return s.writeLocked(sp)
	})
}

// writeLocked performs the temp-file-then-rename atomic write. Caller
// must hold s.mu.
func (s *Store) writeLocked(sp Spool) error {
	data, err := json.MarshalIndent(sp, "", "  ")
	if err != nil {
		return fmt.Errorf("spool: marshal %s: %w", sp.ID, err)
	}

	tmp, err := os.CreateTemp(s.Dir, sp.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("spool: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("spool: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("spool: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(sp.ID)); err != nil {
		return fmt.Errorf("spool: rename into place: %w", err)
	}
	return nil
}

// Get reads and parses a single spool record. Returns ErrNotFound if
// the id doesn't exist.
func (s *Store) Get(id string) (Spool, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Spool{}, ErrNotFound
		}
		return Spool{}, fmt.Errorf("spool: read %s: %w", id, err)
	}
	var sp Spool
	if err := json.Unmarshal(data, &sp); err != nil {
		s.quarantine(id)
		return Spool{}, fmt.Errorf("spool: corrupt record %s (quarantined): %w", id, err)
	}
	return sp, nil
}

// quarantine renames a corrupt record out of the way so it's excluded
// from future listings.
func (s *Store) quarantine(id string) {
	_ = os.Rename(s.path(id), s.path(id)+".bad")
}

// Mutator transforms a spool in place, reading the current record and
// returning the desired next state. It must be idempotent-safe with
// respect to retries: Update does not retry on write failure.
type Mutator func(Spool) Spool

// Update performs a read-modify-write cycle under the store's mutex.
// Races between updaters are resolved last-writer-wins, which is
// acceptable because in practice only the monitor loop and explicit
// control operations touch a given record.
func (s *Store) Update(id string, mutate Mutator) (Spool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next Spool
	err := s.withFileLock(func() error {
		data, err := os.ReadFile(s.path(id))
		if err != nil {
			if os.IsNotExist(err) {
				return ErrNotFound
			}
			return fmt.Errorf("spool: read %s: %w", id, err)
		}
		var sp Spool
		if err := json.Unmarshal(data, &sp); err != nil {
			s.quarantine(id)
			return fmt.Errorf("spool: corrupt record %s (quarantined): %w", id, err)
		}

		next = mutate(sp.Clone())
		return s.writeLocked(next)
	})
	if err != nil {
		return Spool{}, err
	}
	return next, nil
}

// Predicate filters spools during List.
type Predicate func(Spool) bool

// ByStatus returns a Predicate matching any of the given statuses.
func ByStatus(statuses ...Status) Predicate {
	set := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		set[st] = true
	}
	return func(sp Spool) bool { return set[sp.Status] }
}

// ByTag returns a Predicate matching spools carrying the given tag.
func ByTag(tag string) Predicate {
	return func(sp Spool) bool {
		for _, t := range sp.Tags {
			if t == tag {
				return true
			}
		}
		return false
	}
}

// CreatedAfter returns a Predicate matching spools created at or after t.
func CreatedAfter(t time.Time) Predicate {
	return func(sp Spool) bool { return !sp.CreatedAt.Before(t) }
}

// List scans the store directory and returns every well-formed spool
// matching all the given predicates (AND). Corrupt records are
// quarantined and silently excluded rather than aborting the whole
// listing.
func (s *Store) List(predicates ...Predicate) ([]Spool, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool: list: %w", err)
	}

	var out []Spool
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id := name[:len(name)-len(".json")]
		sp, err := s.Get(id)
		if err != nil {
			continue // quarantined or racing with an in-flight write
		}
		match := true
		for _, p := range predicates {
			if !p(sp) {
				match = false
				break
			}
		}
		if match {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountRunning returns the number of spools currently in StatusRunning,
// recomputed from disk so it stays correct across restarts.
func (s *Store) CountRunning() (int, error) {
	running, err := s.List(ByStatus(StatusRunning))
	if err != nil {
		return 0, err
	}
	return len(running), nil
}

// Sweep deletes terminal spool records (and their json files) whose
// CompletedAt is strictly before the cutoff. Running/pending spools are
// never swept regardless of age.
func (s *Store) Sweep(cutoff time.Time) (int, error) {
	all, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sp := range all {
		if !sp.Status.Terminal() || sp.CompletedAt == nil {
			continue
		}
		if sp.CompletedAt.Before(cutoff) {
			if err := os.Remove(s.path(sp.ID)); err == nil {
				n++
			}
		}
	}
	return n, nil
}

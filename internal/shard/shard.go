// Package shard manages isolated git-worktree workspaces for spools
// spun with a repository to shard from. Each shard is a
// worktree at <base>/worktrees/<spool_id> on its own branch, with a
// JSON metadata sidecar so later operations don't need the caller to
// re-supply the originating repository.
package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/spindle-run/spindle/internal/git"
)

// Preset names a predefined shard starting point: a named bundle of
// setup choices (the branch to fork from and whether to detach HEAD)
// instead of a one-off config struct on every call site.
type Preset struct {
	Name            string `json:"name"`
	BranchFrom      string `json:"branch_from"`
	UseDetachedHead bool   `json:"use_detached_head"`
}

var builtinPresets = map[string]Preset{
	"default":  {Name: "default", BranchFrom: "main"},
	"detached": {Name: "detached", BranchFrom: "main", UseDetachedHead: true},
}

// ResolvePreset looks up a built-in preset by name, defaulting to
// "default" when name is empty.
func ResolvePreset(name string) (Preset, error) {
	if name == "" {
		name = "default"
	}
	p, ok := builtinPresets[name]
	if !ok {
		return Preset{}, fmt.Errorf("shard: unknown preset %q", name)
	}
	return p, nil
}

// Manager creates and tears down per-spool git worktree shards rooted
// at a single base directory (SPINDLE_DIR/worktrees).
type Manager struct {
	baseDir string
}

// NewManager creates a Manager rooted at baseDir (the parent of the
// worktrees/ directory).
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

func (m *Manager) worktreesDir() string {
	return filepath.Join(m.baseDir, "worktrees")
}

func (m *Manager) metaPath(spoolID string) string {
	return filepath.Join(m.worktreesDir(), spoolID+".meta.json")
}

// meta is persisted alongside each worktree so Teardown/Status can
// operate without the caller re-supplying repoDir.
type meta struct {
	SpoolID   string    `json:"spool_id"`
	RepoDir   string    `json:"repo_dir"`
	Preset    string    `json:"preset"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"created_at"`
}

// Create provisions a worktree shard for spoolID against repoDir, using
// the named preset to decide the fork point. Concurrent creations
// against the same repoDir are serialized with an advisory file lock on
// <repoDir>/.git/spindle-worktree.lock, since `git worktree add` is not
// safe to run concurrently against one repository.
func (m *Manager) Create(spoolID, repoDir, presetName string) (*Shard, error) {
	preset, err := ResolvePreset(presetName)
	if err != nil {
		return nil, err
	}

	lockPath := filepath.Join(repoDir, ".git", "spindle-worktree.lock")
	lk := flock.New(lockPath)
	if err := lk.Lock(); err != nil {
		return nil, fmt.Errorf("shard: acquire worktree lock for %s: %w", repoDir, err)
	}
	defer lk.Unlock()

	branch := branchName(spoolID)
	if preset.UseDetachedHead {
		branch = ""
	}

	cfg := git.WorktreeConfig{BranchFrom: preset.BranchFrom, UseDetachedHead: preset.UseDetachedHead}
	path, err := git.CreateWorktreeNamed(spoolID, branch, repoDir, cfg, m.worktreesDir())
	if err != nil {
		return nil, fmt.Errorf("shard: create worktree for spool %s: %w", spoolID, err)
	}

	now := time.Now().UTC()
	if err := m.writeMeta(spoolID, meta{
		SpoolID:   spoolID,
		RepoDir:   repoDir,
		Preset:    presetName,
		Branch:    branch,
		CreatedAt: now,
	}); err != nil {
		_ = git.RemoveWorktree(spoolID, repoDir, m.worktreesDir(), true)
		return nil, err
	}

	return &Shard{
		SpoolID:      spoolID,
		WorktreePath: path,
		BranchName:   branch,
	}, nil
}

// branchName derives a shard's branch name from its spool id.
func branchName(spoolID string) string {
	return "shard-" + spoolID
}

// Shard describes a provisioned worktree, mirroring spool.Shard's
// persisted fields so the supervisor can copy one directly onto a
// Spool record.
type Shard struct {
	SpoolID      string
	WorktreePath string
	BranchName   string
}

// Teardown removes a spool's worktree. If keepBranch is false, the
// shard's branch is also deleted, discarding any unmerged work.
func (m *Manager) Teardown(spoolID string, keepBranch bool) error {
	meta, err := m.readMeta(spoolID)
	if err != nil {
		return fmt.Errorf("shard: teardown %s: %w", spoolID, err)
	}

	lockPath := filepath.Join(meta.RepoDir, ".git", "spindle-worktree.lock")
	lk := flock.New(lockPath)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("shard: acquire worktree lock for %s: %w", meta.RepoDir, err)
	}
	defer lk.Unlock()

	if err := git.RemoveWorktreeNamed(spoolID, meta.Branch, meta.RepoDir, m.worktreesDir(), keepBranch); err != nil {
		return fmt.Errorf("shard: remove worktree for spool %s: %w", spoolID, err)
	}
	_ = os.Remove(m.metaPath(spoolID))
	return nil
}

// Status reports a shard's branch name, whether its worktree still
// exists on disk, whether it is clean, and how far its branch has
// diverged from the preset's fork point.
type Status struct {
	Branch         string
	WorktreeExists bool
	Clean          bool
	AheadBy        int
	BehindBy       int
}

// Status computes a shard's current state. A missing worktree (already
// abandoned) is reported with WorktreeExists=false rather than an error.
func (m *Manager) Status(spoolID string) (Status, error) {
	meta, err := m.readMeta(spoolID)
	if err != nil {
		return Status{}, fmt.Errorf("shard: status %s: %w", spoolID, err)
	}

	worktreePath := filepath.Join(m.worktreesDir(), spoolID)
	if _, statErr := os.Stat(worktreePath); statErr != nil {
		return Status{Branch: meta.Branch}, nil
	}

	repo := git.NewRepo(worktreePath)
	clean := true
	if changed, err := repo.HasChanges(); err == nil {
		clean = !changed
	}

	preset, presetErr := ResolvePreset(meta.Preset)
	var ahead, behind int
	if presetErr == nil && meta.Branch != "" {
		branchFrom := preset.BranchFrom
		if branchFrom == "" {
			branchFrom = "main"
		}
		ahead, behind, _ = repo.AheadBehind(meta.Branch, branchFrom)
	}

	return Status{
		Branch:         meta.Branch,
		WorktreeExists: true,
		Clean:          clean,
		AheadBy:        ahead,
		BehindBy:       behind,
	}, nil
}

// MergeResult reports a shard merge's outcome.
type MergeResult struct {
	MergedCommits int
	Conflict      string
}

// Merge merges a shard's branch into the currently checked-out branch
// of its originating repository. On success with no conflict and
// keepBranch is false, the shard's worktree (and branch) are torn down
// afterward since the work is now landed; a conflicted merge always
// leaves the shard intact for the caller to resolve or abandon.
func (m *Manager) Merge(spoolID, message string, keepBranch bool) (MergeResult, error) {
	meta, err := m.readMeta(spoolID)
	if err != nil {
		return MergeResult{}, fmt.Errorf("shard: merge %s: %w", spoolID, err)
	}
	if meta.Branch == "" {
		return MergeResult{}, fmt.Errorf("shard: spool %s used a detached-head shard, nothing to merge", spoolID)
	}
	repo := git.NewRepo(meta.RepoDir)
	result, err := repo.MergeBranch(meta.Branch, message)
	if err != nil {
		return MergeResult{}, fmt.Errorf("shard: merge %s into %s: %w", meta.Branch, meta.RepoDir, err)
	}
	if result.Conflict != "" {
		return MergeResult{Conflict: result.Conflict}, nil
	}

	if !keepBranch {
		if err := m.Teardown(spoolID, false); err != nil {
			return MergeResult{MergedCommits: result.MergedCommits}, fmt.Errorf("shard: merge %s: landed but teardown failed: %w", spoolID, err)
		}
	}
	return MergeResult{MergedCommits: result.MergedCommits}, nil
}

func (m *Manager) writeMeta(spoolID string, data meta) error {
	if err := os.MkdirAll(m.worktreesDir(), 0o755); err != nil {
		return fmt.Errorf("shard: create worktrees dir: %w", err)
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("shard: marshal metadata: %w", err)
	}
	if err := os.WriteFile(m.metaPath(spoolID), b, 0o644); err != nil {
		return fmt.Errorf("shard: write metadata: %w", err)
	}
	return nil
}

func (m *Manager) readMeta(spoolID string) (meta, error) {
	b, err := os.ReadFile(m.metaPath(spoolID))
	if err != nil {
		return meta{}, fmt.Errorf("read metadata: %w", err)
	}
	var data meta
	if err := json.Unmarshal(b, &data); err != nil {
		return meta{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return data, nil
}

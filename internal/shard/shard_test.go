package shard

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run(t, dir, "git", "init")
	run(t, dir, "git", "config", "user.email", "test@test.com")
	run(t, dir, "git", "config", "user.name", "Test")
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644)
	run(t, dir, "git", "add", ".")
	run(t, dir, "git", "commit", "-m", "initial")
	run(t, dir, "git", "branch", "-m", "main")
}

func run(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s failed: %s: %v", strings.Join(args, " "), out, err)
	}
}

func TestCreateAndTeardown(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	m := NewManager(t.TempDir())
	sh, err := m.Create("spool-1", repoDir, "default")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sh.BranchName != "shard-spool-1" {
		t.Errorf("BranchName = %q, want shard-spool-1", sh.BranchName)
	}
	if _, err := os.Stat(filepath.Join(sh.WorktreePath, ".git")); err != nil {
		t.Errorf("expected worktree .git: %v", err)
	}

	if err := m.Teardown("spool-1", false); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := os.Stat(sh.WorktreePath); err == nil {
		t.Error("expected worktree to be removed after teardown")
	}
}

func TestCreateDetachedPreset(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	m := NewManager(t.TempDir())
	sh, err := m.Create("spool-2", repoDir, "detached")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sh.BranchName != "" {
		t.Errorf("BranchName = %q, want empty for detached preset", sh.BranchName)
	}
}

func TestResolvePresetUnknown(t *testing.T) {
	if _, err := ResolvePreset("nonexistent"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestMergeRequiresBranch(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	m := NewManager(t.TempDir())
	if _, err := m.Create("spool-3", repoDir, "detached"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Merge("spool-3", "merge shard work", false); err == nil {
		t.Error("expected error merging a detached-head shard")
	}
}

func TestMergeTearsDownWorktreeUnlessKeepBranch(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	m := NewManager(t.TempDir())
	sh, err := m.Create("spool-4", repoDir, "default")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	os.WriteFile(filepath.Join(sh.WorktreePath, "feature.txt"), []byte("work"), 0o644)
	run(t, sh.WorktreePath, "git", "add", ".")
	run(t, sh.WorktreePath, "git", "commit", "-m", "shard work")

	result, err := m.Merge("spool-4", "land shard work", false)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Conflict != "" {
		t.Fatalf("unexpected conflict: %s", result.Conflict)
	}
	if result.MergedCommits != 1 {
		t.Errorf("MergedCommits = %d, want 1", result.MergedCommits)
	}
	if _, err := os.Stat(sh.WorktreePath); err == nil {
		t.Error("expected worktree to be torn down after merge without keepBranch")
	}
}

func TestMergeKeepBranchLeavesWorktreeInPlace(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	m := NewManager(t.TempDir())
	sh, err := m.Create("spool-5", repoDir, "default")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	os.WriteFile(filepath.Join(sh.WorktreePath, "feature.txt"), []byte("work"), 0o644)
	run(t, sh.WorktreePath, "git", "add", ".")
	run(t, sh.WorktreePath, "git", "commit", "-m", "shard work")

	if _, err := m.Merge("spool-5", "land shard work", true); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := os.Stat(sh.WorktreePath); err != nil {
		t.Error("expected worktree to remain after merge with keepBranch=true")
	}
}

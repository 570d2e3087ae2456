// Package tools implements the operations exposed to Spindle's tool
// surface: spin, unspool, spools, spin_wait, respin, spin_drop,
// spool_peek, spool_retry, shard_status, shard_merge, shard_abandon.
// Each operation is a plain function over plain structs — this package
// deliberately has no MCP import, so the transport binding in
// internal/cmd's serve command is the only place that knows about
// mcp-go.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spindle-run/spindle/internal/activitylog"
	"github.com/spindle-run/spindle/internal/gate"
	"github.com/spindle-run/spindle/internal/harness"
	"github.com/spindle-run/spindle/internal/idgen"
	"github.com/spindle-run/spindle/internal/launcher"
	"github.com/spindle-run/spindle/internal/monitor"
	"github.com/spindle-run/spindle/internal/resume"
	"github.com/spindle-run/spindle/internal/shard"
	"github.com/spindle-run/spindle/internal/spool"
	"github.com/spindle-run/spindle/internal/wait"
)

// Surface wires together every component the tool operations need: the
// Spool Store, Concurrency Gate, Harness Registry, Process Launcher,
// Monitor Loop, and Shard Manager.
type Surface struct {
	Store     *spool.Store
	Gate      *gate.Gate
	Harnesses *harness.Registry
	Monitor   *monitor.Loop
	Shards    *shard.Manager
	BaseDir   string

	DefaultHarness     string
	DefaultPermission  string
	DefaultShardPreset string

	// Log records supervisor lifecycle events. Nil is treated as a no-op
	// (tests that build a bare Surface never need to set it).
	Log *activitylog.Logger
}

func (s *Surface) log() *activitylog.Logger {
	if s.Log == nil {
		return activitylog.Nop()
	}
	return s.Log
}

// SpinInput is the input to Spin.
type SpinInput struct {
	Prompt       string
	Harness      string
	Permission   string
	Shard        string // repo path to shard from; empty means no shard
	ShardPreset  string
	SystemPrompt string
	WorkingDir   string
	AllowedTools string
	Tags         string
	Model        string
	TimeoutSecs  int
}

// Spin admits and launches a new spool, returning its id immediately
// without waiting for the child to finish.
func (s *Surface) Spin(ctx context.Context, in SpinInput) (string, error) {
	ok, err := s.Gate.Admit()
	if err != nil {
		return "", fmt.Errorf("tools: spin: %w", err)
	}
	if !ok {
		s.log().SpinRejected("at-capacity")
		return "", gate.ErrAtCapacity
	}
	defer s.Gate.Release()

	harnessName := in.Harness
	if harnessName == "" {
		harnessName = s.DefaultHarness
	}
	h, err := s.Harnesses.Resolve(harnessName)
	if err != nil {
		return "", fmt.Errorf("tools: spin: %w", err)
	}

	permission := in.Permission
	if permission == "" {
		permission = s.DefaultPermission
	}

	if req, ok := h.(harness.RequiresWorkingDir); ok && req.RequiresWorkingDir() && in.WorkingDir == "" && in.Shard == "" {
		return "", fmt.Errorf("tools: spin: harness %q requires working_dir", harnessName)
	}

	id, err := idgen.New(harnessIDPrefix(harnessName))
	if err != nil {
		return "", fmt.Errorf("tools: spin: generate id: %w", err)
	}

	shardPreset := in.ShardPreset
	if shardPreset == "" {
		shardPreset = s.DefaultShardPreset
	}

	workingDir := in.WorkingDir
	var sh *spool.Shard
	if in.Shard != "" {
		created, err := s.Shards.Create(id, in.Shard, shardPreset)
		if err != nil {
			return "", fmt.Errorf("tools: spin: create shard: %w", err)
		}
		sh = &spool.Shard{WorktreePath: created.WorktreePath, BranchName: created.BranchName, ShardID: id}
		workingDir = created.WorktreePath
	}

	argv, err := h.BuildCommand(harness.CommandInput{
		SpoolID:      id,
		Prompt:       in.Prompt,
		SystemPrompt: in.SystemPrompt,
		Model:        in.Model,
		Permission:   permission,
		AllowedTools: in.AllowedTools,
		WorkingDir:   workingDir,
	})
	if err != nil {
		return "", fmt.Errorf("tools: spin: build command: %w", err)
	}

	var sandbox string
	if reporter, ok := h.(harness.SandboxReporter); ok {
		sandbox = reporter.SandboxDecision(permission)
	}

	now := time.Now().UTC()
	sp := spool.Spool{
		ID:             id,
		Harness:        harnessName,
		Status:         spool.StatusPending,
		Prompt:         in.Prompt,
		SystemPrompt:   in.SystemPrompt,
		WorkingDir:     workingDir,
		AllowedTools:   in.AllowedTools,
		Permission:     spool.Permission(permission),
		Model:          in.Model,
		Sandbox:        sandbox,
		Tags:           idgen.ParseTags(in.Tags),
		Shard:          sh,
		StdoutPath:     s.sinkPath(id, "stdout.log"),
		StderrPath:     s.sinkPath(id, "stderr.log"),
		CreatedAt:      now,
		TimeoutSeconds: in.TimeoutSecs,
	}
	if err := s.Store.Put(sp); err != nil {
		return "", fmt.Errorf("tools: spin: persist spool: %w", err)
	}

	if err := s.launch(ctx, id, h.Binary(), argv, workingDir, h); err != nil {
		return "", err
	}
	s.log().SpinAdmitted(id, harnessName, permission)

	return id, nil
}

// launch ignores the caller's ctx on purpose: a
// spawned child is detached and outlives the single request that
// created it (spin returns immediately; the MCP transport is free to
// cancel that request's context the moment the handler returns). Its
// lifetime is governed only by spec.Timeout and an explicit spin_drop,
// never by the inbound request context.
func (s *Surface) launch(ctx context.Context, id, binary string, argv []string, workingDir string, h harness.Harness) error {
	_ = ctx
	sp, err := s.Store.Get(id)
	if err != nil {
		return fmt.Errorf("tools: launch: %w", err)
	}

	var timeout time.Duration
	if sp.TimeoutSeconds > 0 {
		timeout = time.Duration(sp.TimeoutSeconds) * time.Second
	}

	handle, err := launcher.Launch(context.Background(), launcher.Spec{
		SpoolID:    id,
		Binary:     binary,
		Argv:       argv,
		WorkingDir: workingDir,
		StdoutPath: sp.StdoutPath,
		StderrPath: sp.StderrPath,
		Timeout:    timeout,
	})
	if err != nil {
		_, _ = s.Store.Update(id, func(sp spool.Spool) spool.Spool {
			now := time.Now().UTC()
			sp.Status = spool.StatusError
			sp.Error = err.Error()
			sp.CompletedAt = &now
			return sp
		})
		return fmt.Errorf("tools: launch %s: %w", id, err)
	}

	if _, err := s.Store.Update(id, func(sp spool.Spool) spool.Spool {
		sp.Status = spool.StatusRunning
		sp.PID = handle.PID
		sp.StartedAt = time.Now().UTC()
		return sp
	}); err != nil {
		return fmt.Errorf("tools: record running state for %s: %w", id, err)
	}

	s.Monitor.Track(monitor.Tracked{SpoolID: id, Handle: handle, Harness: h})
	return nil
}

func (s *Surface) sinkPath(id, name string) string {
	return filepath.Join(s.BaseDir, "sinks", id, name)
}

func harnessIDPrefix(name string) string {
	if name == "codex" {
		return "codex"
	}
	return ""
}

// Unspool returns a single spool's full record.
func (s *Surface) Unspool(id string) (spool.Spool, error) {
	sp, err := s.Store.Get(id)
	if err != nil {
		return spool.Spool{}, fmt.Errorf("tools: unspool %s: %w", id, err)
	}
	return sp, nil
}

// Spools lists every spool record, most recently created first.
func (s *Surface) Spools() ([]spool.Spool, error) {
	all, err := s.Store.List()
	if err != nil {
		return nil, fmt.Errorf("tools: spools: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

// SpinWaitMode selects Gather vs Stream semantics for SpinWait.
type SpinWaitMode string

const (
	ModeGather SpinWaitMode = "gather"
	ModeStream SpinWaitMode = "stream"
)

// SpinWait blocks (gather) or streams (stream) until every id in ids
// reaches a terminal status or timeout elapses.
func (s *Surface) SpinWait(ctx context.Context, ids []string, mode SpinWaitMode, timeout time.Duration) ([]spool.Spool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch mode {
	case ModeStream:
		var out []spool.Spool
		for ev := range wait.Stream(ctx, s.Store, ids) {
			if ev.Err != nil {
				return out, ev.Err
			}
			out = append(out, ev.Spool)
		}
		return out, nil
	default:
		return wait.Gather(ctx, s.Store, ids)
	}
}

// Respin continues the most recent spool whose session id matches
// sessionID with a follow-up prompt, returning the new spool's id. The
// new spool is linked to the prior one via RetryOf.
func (s *Surface) Respin(ctx context.Context, sessionID, prompt string) (string, error) {
	ok, err := s.Gate.Admit()
	if err != nil {
		return "", fmt.Errorf("tools: respin: %w", err)
	}
	if !ok {
		s.log().SpinRejected("at-capacity")
		return "", gate.ErrAtCapacity
	}
	defer s.Gate.Release()

	all, err := s.Store.List()
	if err != nil {
		return "", fmt.Errorf("tools: respin: %w", err)
	}

	var previous *spool.Spool
	for i := range all {
		if all[i].SessionID != sessionID {
			continue
		}
		if previous == nil || all[i].CreatedAt.After(previous.CreatedAt) {
			sp := all[i]
			previous = &sp
		}
	}
	if previous == nil {
		return "", fmt.Errorf("tools: respin: no spool found with session id %q", sessionID)
	}

	h, err := s.Harnesses.Resolve(previous.Harness)
	if err != nil {
		return "", fmt.Errorf("tools: respin: %w", err)
	}

	plan, err := resume.Build(h, *previous, prompt)
	if err != nil {
		return "", fmt.Errorf("tools: respin: %w", err)
	}

	id, err := idgen.New(harnessIDPrefix(previous.Harness))
	if err != nil {
		return "", fmt.Errorf("tools: respin: generate id: %w", err)
	}

	resumeKind := spool.ResumeKindNative
	if plan.UsedFallback {
		resumeKind = spool.ResumeKindFallback
	}

	now := time.Now().UTC()
	sp := spool.Spool{
		ID:         id,
		Harness:    previous.Harness,
		Status:     spool.StatusPending,
		Prompt:     prompt,
		WorkingDir: previous.WorkingDir,
		Permission: previous.Permission,
		Model:      previous.Model,
		Shard:      previous.Shard,
		StdoutPath: s.sinkPath(id, "stdout.log"),
		StderrPath: s.sinkPath(id, "stderr.log"),
		CreatedAt:  now,
		RetryOf:    previous.ID,
		ResumeKind: resumeKind,
	}
	if err := s.Store.Put(sp); err != nil {
		return "", fmt.Errorf("tools: respin: persist spool: %w", err)
	}

	if err := s.launch(ctx, id, h.Binary(), plan.Argv, previous.WorkingDir, h); err != nil {
		return "", err
	}
	return id, nil
}

// AutoFallbackResume is the Monitor Loop's FallbackSpawner: it retries a
// native-resume spool whose session turned out to have expired server-
// side by rebuilding the continuation via transcript injection instead.
// failed is the just-errored resume attempt; its RetryOf names the spool
// whose session it was trying to continue, so the new fallback spool
// links to that same ancestor rather than to failed itself.
func (s *Surface) AutoFallbackResume(failed spool.Spool) error {
	ancestor, err := s.Store.Get(failed.RetryOf)
	if err != nil {
		return fmt.Errorf("tools: auto fallback resume %s: find ancestor %s: %w", failed.ID, failed.RetryOf, err)
	}

	h, err := s.Harnesses.Resolve(failed.Harness)
	if err != nil {
		return fmt.Errorf("tools: auto fallback resume %s: %w", failed.ID, err)
	}
	fallback, ok := h.(harness.FallbackResumer)
	if !ok {
		return fmt.Errorf("tools: auto fallback resume %s: harness %q has no fallback resume path", failed.ID, failed.Harness)
	}

	ok2, err := s.Gate.Admit()
	if err != nil {
		return fmt.Errorf("tools: auto fallback resume %s: %w", failed.ID, err)
	}
	if !ok2 {
		s.log().SpinRejected("at-capacity")
		return fmt.Errorf("tools: auto fallback resume %s: %w", failed.ID, gate.ErrAtCapacity)
	}
	defer s.Gate.Release()

	argv, err := fallback.FallbackResume(ancestor.Prompt, ancestor.Result, failed.Prompt)
	if err != nil {
		return fmt.Errorf("tools: auto fallback resume %s: build fallback argv: %w", failed.ID, err)
	}

	id, err := idgen.New(harnessIDPrefix(failed.Harness))
	if err != nil {
		return fmt.Errorf("tools: auto fallback resume %s: generate id: %w", failed.ID, err)
	}

	now := time.Now().UTC()
	sp := spool.Spool{
		ID:         id,
		Harness:    failed.Harness,
		Status:     spool.StatusPending,
		Prompt:     failed.Prompt,
		WorkingDir: failed.WorkingDir,
		Permission: failed.Permission,
		Model:      failed.Model,
		Shard:      failed.Shard,
		StdoutPath: s.sinkPath(id, "stdout.log"),
		StderrPath: s.sinkPath(id, "stderr.log"),
		CreatedAt:  now,
		RetryOf:    ancestor.ID,
		ResumeKind: spool.ResumeKindFallback,
	}
	if err := s.Store.Put(sp); err != nil {
		return fmt.Errorf("tools: auto fallback resume %s: persist spool: %w", failed.ID, err)
	}

	if err := s.launch(context.Background(), id, h.Binary(), argv, failed.WorkingDir, h); err != nil {
		return err
	}
	s.log().SpinAdmitted(id, failed.Harness, string(failed.Permission))
	return nil
}

// SpinDrop kills a running spool (if any) and marks it killed, or
// leaves a terminal spool as-is. Cancellation sends the same
// SIGTERM-then-SIGKILL termination sequence the timeout
// watchdog uses: the live path for that is Monitor.Drop, which reaches
// into the tracked launcher.Handle and reuses its own grace-period
// escalation. killProcessGroup is only a fallback for the case the
// Monitor isn't tracking this spool's handle in this process (e.g. it
// survived past a restart before being reaped as an orphan) — a single
// best-effort SIGTERM with no escalation, since there's no supervise
// goroutine left here to wait out the grace period and follow up.
func (s *Surface) SpinDrop(id string) error {
	_, err := s.Store.Update(id, func(sp spool.Spool) spool.Spool {
		if sp.Status.Terminal() {
			return sp
		}
		if sp.PID > 0 && !s.Monitor.Drop(id) {
			_ = killProcessGroup(sp.PID)
		}
		now := time.Now().UTC()
		sp.Status = spool.StatusKilled
		sp.CompletedAt = &now
		sp.PID = 0
		return sp
	})
	if err != nil {
		return fmt.Errorf("tools: spin_drop %s: %w", id, err)
	}
	s.log().SpoolKilled(id)
	return nil
}

// SpoolPeek returns up to the last n lines of a spool's live stdout
// sink without disturbing the running child.
func (s *Surface) SpoolPeek(id string, n int) (string, error) {
	sp, err := s.Store.Get(id)
	if err != nil {
		return "", fmt.Errorf("tools: spool_peek %s: %w", id, err)
	}
	if sp.StdoutPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(sp.StdoutPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("tools: spool_peek %s: %w", id, err)
	}
	return tailLines(string(data), n), nil
}

func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := splitLines(text)
	if len(lines) <= n {
		return text
	}
	start := len(lines) - n
	return joinLines(lines[start:])
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// SpoolRetry re-launches a terminal spool's original prompt as a new
// spool linked via RetryOf, without touching session continuation.
func (s *Surface) SpoolRetry(ctx context.Context, id string) (string, error) {
	sp, err := s.Store.Get(id)
	if err != nil {
		return "", fmt.Errorf("tools: spool_retry %s: %w", id, err)
	}
	return s.Spin(ctx, SpinInput{
		Prompt:       sp.Prompt,
		Harness:      sp.Harness,
		Permission:   string(sp.Permission),
		SystemPrompt: sp.SystemPrompt,
		WorkingDir:   sp.WorkingDir,
		AllowedTools: sp.AllowedTools,
		Model:        sp.Model,
		TimeoutSecs:  sp.TimeoutSeconds,
	})
}

// DashboardResult summarizes the store's spools by status and flags
// running spools that have exceeded an expected-duration threshold.
type DashboardResult struct {
	CountsByStatus map[spool.Status]int
	NeedsAttention []spool.Spool
}

// attentionThreshold is how long a spool may run before Dashboard flags
// it as possibly stuck.
const attentionThreshold = 10 * time.Minute

// Dashboard summarizes every spool in the store by status and flags
// long-running spools that may need attention.
func (s *Surface) Dashboard() (DashboardResult, error) {
	all, err := s.Store.List()
	if err != nil {
		return DashboardResult{}, fmt.Errorf("tools: dashboard: %w", err)
	}

	result := DashboardResult{CountsByStatus: make(map[spool.Status]int)}
	now := time.Now().UTC()
	for _, sp := range all {
		result.CountsByStatus[sp.Status]++
		if sp.Status == spool.StatusRunning && !sp.StartedAt.IsZero() && now.Sub(sp.StartedAt) > attentionThreshold {
			result.NeedsAttention = append(result.NeedsAttention, sp)
		}
	}
	return result, nil
}

// ShardStatusResult reports a shard's worktree state.
type ShardStatusResult struct {
	Branch         string
	WorktreeExists bool
	Clean          bool
	AheadBy        int
	BehindBy       int
}

// ShardStatus reports a spool's shard branch, worktree presence,
// cleanliness, and divergence from its fork point.
func (s *Surface) ShardStatus(id string) (ShardStatusResult, error) {
	sp, err := s.Store.Get(id)
	if err != nil {
		return ShardStatusResult{}, fmt.Errorf("tools: shard_status %s: %w", id, err)
	}
	if sp.Shard == nil {
		return ShardStatusResult{}, fmt.Errorf("tools: shard_status %s: spool has no shard", id)
	}
	st, err := s.Shards.Status(id)
	if err != nil {
		return ShardStatusResult{}, fmt.Errorf("tools: shard_status %s: %w", id, err)
	}
	return ShardStatusResult{
		Branch:         st.Branch,
		WorktreeExists: st.WorktreeExists,
		Clean:          st.Clean,
		AheadBy:        st.AheadBy,
		BehindBy:       st.BehindBy,
	}, nil
}

// ShardMergeResult reports a shard merge's outcome.
type ShardMergeResult struct {
	MergedCommits int
	Conflict      string
}

// ShardMerge merges a spool's shard branch back into its origin repo's
// checked-out branch. On a clean merge the shard's worktree is torn
// down unless keepBranch is set; on conflict the shard is left intact
// and the conflict description is returned without completing.
func (s *Surface) ShardMerge(id, message string, keepBranch bool) (ShardMergeResult, error) {
	sp, err := s.Store.Get(id)
	if err != nil {
		return ShardMergeResult{}, fmt.Errorf("tools: shard_merge %s: %w", id, err)
	}
	if sp.Shard == nil {
		return ShardMergeResult{}, fmt.Errorf("tools: shard_merge %s: spool has no shard", id)
	}
	if message == "" {
		message = fmt.Sprintf("merge shard for spool %s", id)
	}
	result, err := s.Shards.Merge(id, message, keepBranch)
	if err != nil {
		return ShardMergeResult{}, fmt.Errorf("tools: shard_merge %s: %w", id, err)
	}
	if result.Conflict != "" {
		s.log().ShardMergeConflict(id)
		return ShardMergeResult{Conflict: result.Conflict}, nil
	}
	s.log().ShardMerged(id)
	return ShardMergeResult{MergedCommits: result.MergedCommits}, nil
}

// ShardAbandon tears down a spool's shard without merging it.
func (s *Surface) ShardAbandon(id string, keepBranch bool) error {
	sp, err := s.Store.Get(id)
	if err != nil {
		return fmt.Errorf("tools: shard_abandon %s: %w", id, err)
	}
	if sp.Shard == nil {
		return fmt.Errorf("tools: shard_abandon %s: spool has no shard", id)
	}
	if err := s.Shards.Teardown(id, keepBranch); err != nil {
		return fmt.Errorf("tools: shard_abandon %s: %w", id, err)
	}
	s.log().ShardAbandoned(id, keepBranch)
	return nil
}

// killProcessGroup sends a single SIGTERM to a child's process group.
// It is only reached from SpinDrop when Monitor.Drop reports no tracked
// launcher.Handle for the spool, so there is no supervise goroutine left
// in this process to wait out a grace period and escalate to SIGKILL —
// unlike the Monitor.Drop path, this is a one-shot best effort, not the
// full termination sequence.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// Package activitylog writes a structured JSONL record of supervisor
// lifecycle events — admission, completion, errors — independent of
// the per-spool stdout/stderr sink files the launcher captures.
package activitylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends one JSON object per line to an activity log file. A
// disabled Logger (or the Nop logger) is a safe no-op so callers never
// need to branch on whether logging is configured.
type Logger struct {
	enabled    bool
	component  string
	supervisor string

	mu   sync.Mutex
	file *os.File
}

// New opens (creating if necessary) the activity log at path. When
// enabled is false, every method is a no-op and no file is created.
// component and supervisor identify the process writing entries (the
// supervisor's own run id), echoed onto every line.
func New(enabled bool, path, component, supervisor string) *Logger {
	l := &Logger{enabled: enabled, component: component, supervisor: supervisor}
	if !enabled {
		return l
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}
	l.file = f
	return l
}

// Nop returns a Logger that discards every event, for callers with no
// activity log path configured.
func Nop() *Logger {
	return &Logger{enabled: false}
}

// Close closes the underlying log file, if one is open.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) write(fields map[string]any) {
	if l == nil || !l.enabled || l.file == nil {
		return
	}
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["component"] = l.component
	fields["supervisor"] = l.supervisor

	line, err := json.Marshal(fields)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Write(line)
}

// SpinAdmitted records that a new spool passed the concurrency gate
// and was handed to the launcher.
func (l *Logger) SpinAdmitted(spoolID, harness, permission string) {
	l.write(map[string]any{
		"event":      "spin_admitted",
		"spool_id":   spoolID,
		"harness":    harness,
		"permission": permission,
	})
}

// SpinRejected records that an admission was rejected; the tool surface
// calls it with reason "at-capacity" when the concurrency ceiling is
// reached.
func (l *Logger) SpinRejected(reason string) {
	l.write(map[string]any{
		"event":  "spin_rejected",
		"reason": reason,
	})
}

// SpoolCompleted records a spool reaching a terminal success state.
func (l *Logger) SpoolCompleted(spoolID string, exitCode int) {
	l.write(map[string]any{
		"event":     "spool_completed",
		"spool_id":  spoolID,
		"exit_code": exitCode,
	})
}

// SpoolErrored records a spool reaching the terminal error state (its
// output could not be parsed as a completion, or the launcher's wait
// failed), or a failed automatic fallback resume for that spool.
// Timeouts are not recorded through it.
func (l *Logger) SpoolErrored(spoolID, message string) {
	l.write(map[string]any{
		"event":    "spool_errored",
		"spool_id": spoolID,
		"message":  message,
	})
}

// SpoolKilled records a spool dropped via spin_drop.
func (l *Logger) SpoolKilled(spoolID string) {
	l.write(map[string]any{
		"event":    "spool_killed",
		"spool_id": spoolID,
	})
}

// SpoolOrphaned records a running spool found with no tracking
// supervisor at startup, marked errored by the crash-recovery sweep.
func (l *Logger) SpoolOrphaned(spoolID string) {
	l.write(map[string]any{
		"event":    "spool_orphaned",
		"spool_id": spoolID,
	})
}

// ShardMerged records a shard's branch landing back into its parent repo.
func (l *Logger) ShardMerged(spoolID string) {
	l.write(map[string]any{
		"event":    "shard_merged",
		"spool_id": spoolID,
	})
}

// ShardMergeConflict records a shard merge that was aborted because of
// a conflict, leaving the shard intact for the caller to resolve.
func (l *Logger) ShardMergeConflict(spoolID string) {
	l.write(map[string]any{
		"event":    "shard_merge_conflict",
		"spool_id": spoolID,
	})
}

// ShardAbandoned records a shard torn down without merging.
func (l *Logger) ShardAbandoned(spoolID string, keptBranch bool) {
	l.write(map[string]any{
		"event":       "shard_abandoned",
		"spool_id":    spoolID,
		"kept_branch": keptBranch,
	})
}

// ConfigReloaded records the config watcher picking up a spindle.yaml
// change after the reload marker's mtime advanced.
func (l *Logger) ConfigReloaded(ceiling int) {
	l.write(map[string]any{
		"event":   "config_reloaded",
		"ceiling": ceiling,
	})
}

// RetentionSwept records the retention sweep deleting terminal spools
// older than the configured horizon.
func (l *Logger) RetentionSwept(count int) {
	l.write(map[string]any{
		"event": "retention_swept",
		"count": count,
	})
}

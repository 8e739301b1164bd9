package types

import "strings"

// SyntheticAttemptPrefix marks attempts fabricated locally when the engine
// does not support the attempt API. Synthetic attempts are never persisted
// back to the engine.
const SyntheticAttemptPrefix = "synthetic-"

// Attempt is one lineage of work for a task: a worktree, a branch, and a
// resumable agent session. Attempts are append-only; only Status and
// SessionID change after creation.
type Attempt struct {
	ID           string `json:"id"`
	TaskID       string `json:"taskID"`
	WorktreePath string `json:"worktreePath,omitempty"`
	Branch       string `json:"branch,omitempty"`
	// SessionID is the opaque token that lets a new execution resume the
	// prior agent conversation. Empty until the engine reports one.
	SessionID string `json:"sessionID,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Synthetic reports whether the attempt was fabricated locally.
func (a *Attempt) Synthetic() bool {
	return strings.HasPrefix(a.ID, SyntheticAttemptPrefix)
}

// WorkDir resolves the directory an execution should run in: the attempt's
// worktree, falling back to the task's project path.
func (a *Attempt) WorkDir(task *Task) string {
	if a.WorktreePath != "" {
		return a.WorktreePath
	}
	if task != nil {
		return task.ProjectPath
	}
	return ""
}

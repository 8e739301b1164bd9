// Package engine defines the command/event contract with the agent execution
// engine and the HTTP client that speaks it.
//
// The engine is an external collaborator: it spawns and manages the agent
// subprocess and pushes conversation events back on a per-task channel. This
// package only dispatches commands and pumps events; reconciliation lives in
// internal/conversation.
package engine

import (
	"context"
	"errors"

	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

var (
	// ErrNotFound means the engine has no record for the id. History
	// loaders treat it as "no history".
	ErrNotFound = errors.New("engine: not found")
	// ErrUnsupported means the engine predates the requested API. Callers
	// degrade gracefully; this is never surfaced to the user as an error.
	ErrUnsupported = errors.New("engine: unsupported")
)

// StartSpec describes how to start or resume an execution.
type StartSpec struct {
	TaskID    string `json:"taskID"`
	AttemptID string `json:"attemptID"`
	// WorkDir is the attempt's worktree path, falling back to the task's
	// project path.
	WorkDir string `json:"workDir"`
	Profile string `json:"profile,omitempty"`
	// SessionID resumes a prior agent conversation when set. A resumed
	// execution must not re-send the original task prompt.
	SessionID string `json:"sessionID,omitempty"`
	// Prompt is the initial task-description prompt. Empty on resume.
	Prompt string `json:"prompt,omitempty"`
}

// Engine is the outbound command surface. Every call is a single round trip;
// failures surface as the returned error and retries belong to the caller.
type Engine interface {
	// SendMessage delivers user input to the task's running execution.
	SendMessage(ctx context.Context, taskID, message string, images []string) error
	// StartExecution starts or resumes the agent subprocess for an attempt.
	StartExecution(ctx context.Context, spec StartSpec) (executionID string, err error)
	// StopExecution stops the task's execution. Stopping an already
	// stopped execution is a no-op success.
	StopExecution(ctx context.Context, taskID string) error

	// Attempt and session primitives.
	CreateAttempt(ctx context.Context, taskID string) (*types.Attempt, error)
	ListAttempts(ctx context.Context, taskID string) ([]*types.Attempt, error)
	GetAttemptSession(ctx context.Context, attemptID string) (string, error)
	UpdateAttemptSession(ctx context.Context, attemptID, sessionID string) error

	// Conversation persistence primitives.
	GetConversation(ctx context.Context, attemptID string) (*types.ConversationRecord, error)
	SaveConversation(ctx context.Context, attemptID string, rec *types.ConversationRecord) error
}

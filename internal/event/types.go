package event

import "github.com/taskdeck-ai/taskdeck/pkg/types"

// AgentMessageData is the data for agent.message events.
type AgentMessageData struct {
	Event types.AgentEvent `json:"event"`
}

// ExecutionStartedData is the data for execution.started events.
type ExecutionStartedData struct {
	ExecutionID string `json:"executionID"`
	AttemptID   string `json:"attemptID"`
}

// ExecutionCompletedData is the data for execution.completed events.
type ExecutionCompletedData struct {
	ExecutionID string `json:"executionID"`
	AttemptID   string `json:"attemptID"`
	Success     bool   `json:"success"`
	Summary     string `json:"summary,omitempty"`
}

// SessionReceivedData is the data for session.received events.
type SessionReceivedData struct {
	AttemptID string `json:"attemptID"`
	SessionID string `json:"sessionID"`
}

// ConversationUpdatedData is the data for conversation.updated events.
type ConversationUpdatedData struct {
	State types.ConversationState `json:"state"`
}

// ToastLevel grades a toast notification.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
)

// ToastData is the data for toast events, reported to the UI independently of
// transcript state.
type ToastData struct {
	Level   ToastLevel `json:"level"`
	Message string     `json:"message"`
}

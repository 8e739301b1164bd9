package types

// ExecutionStatus is the state of one running agent subprocess instance.
type ExecutionStatus string

const (
	ExecutionStarting  ExecutionStatus = "starting"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// Terminal reports whether the status is final. Terminal executions are kept
// for history only and never re-opened.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionError
}

// Execution is a running instance of the agent subprocess bound to one
// attempt. At most one non-terminal execution exists per attempt.
type Execution struct {
	ID        string          `json:"id"`
	AttemptID string          `json:"attemptID"`
	TaskID    string          `json:"taskID"`
	Status    ExecutionStatus `json:"status"`
	StartedAt int64           `json:"startedAt"`
	EndedAt   int64           `json:"endedAt,omitempty"`
}

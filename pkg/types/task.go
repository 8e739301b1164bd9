package types

// TaskStatus tracks where a task sits on the board.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "inprogress"
	TaskStatusReviewing  TaskStatus = "reviewing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Task is a unit of work the user hands to a coding agent. A task has at most
// one current attempt at any time.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           TaskStatus `json:"status"`
	ProjectPath      string     `json:"projectPath,omitempty"`
	AgentProfile     string     `json:"agentProfile,omitempty"`
	CurrentAttemptID string     `json:"currentAttemptID,omitempty"`
	Time             TaskTime   `json:"time"`
}

// TaskTime contains task timestamps in unix millis.
type TaskTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

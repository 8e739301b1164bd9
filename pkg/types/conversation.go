package types

// ConversationRecord is the persisted transcript for one attempt. Messages
// are stored in transcript order with their full kind and metadata so a
// reloaded transcript keeps tool pending/resolved fidelity.
type ConversationRecord struct {
	AttemptID string    `json:"attemptID"`
	Messages  []Message `json:"messages"`
	SavedAt   int64     `json:"savedAt"`
}

// ConversationState is the externally observable snapshot of one task's
// conversation. Everything else the store tracks is internal bookkeeping.
type ConversationState struct {
	TaskID           string    `json:"taskID"`
	CurrentAttemptID string    `json:"currentAttemptID,omitempty"`
	Messages         []Message `json:"messages"`
	IsExecuting      bool      `json:"isExecuting"`
	CanSendMessage   bool      `json:"canSendMessage"`
	QueuedCount      int       `json:"queuedCount"`
	// Draft is input text restored after a failed dispatch so the user
	// can retry.
	Draft string `json:"draft,omitempty"`
}

package types

import "encoding/json"

// AgentEvent is the raw wire shape the engine pushes on a task's channel.
// Classification (see internal/conversation) turns it into exactly one typed
// Message or drops it.
type AgentEvent struct {
	ID          string          `json:"id,omitempty"`
	Role        Role            `json:"role"`
	MessageType MessageKind     `json:"messageType"`
	Content     string          `json:"content"`
	Timestamp   int64           `json:"timestamp"` // unix millis
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

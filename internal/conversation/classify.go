package conversation

import (
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// Classify turns one raw engine event into exactly one typed message, or
// rejects it. Rejections are contract violations the caller logs and drops;
// they never crash the transcript.
func Classify(taskID string, ev types.AgentEvent) (*types.Message, error) {
	if ev.Role == "" {
		return nil, fmt.Errorf("event missing role")
	}
	if ev.MessageType == "" {
		return nil, fmt.Errorf("event missing messageType")
	}
	if !ev.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q", ev.Role)
	}
	if !ev.Role.Allows(ev.MessageType) {
		return nil, fmt.Errorf("role %q does not allow messageType %q", ev.Role, ev.MessageType)
	}

	meta, err := types.ParseMetadata(ev.MessageType, ev.Metadata)
	if err != nil {
		return nil, err
	}

	id := ev.ID
	if id == "" {
		// Engines without stable ids get a local one; dedup falls back
		// to the content+role+kind+timestamp rule for these.
		id = ulid.Make().String()
	}

	return &types.Message{
		ID:        id,
		TaskID:    taskID,
		Role:      ev.Role,
		Kind:      ev.MessageType,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
		Metadata:  meta,
	}, nil
}

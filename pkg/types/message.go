package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageKind identifies the payload shape of a transcript message.
type MessageKind string

const (
	KindText              MessageKind = "text"
	KindToolUse           MessageKind = "tool_use"
	KindToolResult        MessageKind = "tool_result"
	KindThinking          MessageKind = "thinking"
	KindError             MessageKind = "error"
	KindExecutionComplete MessageKind = "execution_complete"
)

// Allows reports whether a kind is legal for a role. The role/kind matrix is
// closed: user messages are text only, assistants may emit text, tool calls,
// tool results and thinking, and system messages carry text, errors and the
// execution-complete control signal.
func (r Role) Allows(k MessageKind) bool {
	switch r {
	case RoleUser:
		return k == KindText
	case RoleAssistant:
		return k == KindText || k == KindToolUse || k == KindToolResult || k == KindThinking
	case RoleSystem:
		return k == KindText || k == KindError || k == KindExecutionComplete
	}
	return false
}

// Valid reports whether the role is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is the unit of transcript content. Exactly one message exists per
// logical event; transcript order is append order.
type Message struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"taskID"`
	Role      Role        `json:"role"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"` // unix millis
	Metadata  Metadata    `json:"metadata,omitempty"`
}

// Metadata is the per-kind payload attached to a message.
type Metadata interface {
	MetadataKind() MessageKind
}

// TextMetadata decorates user text messages with optional image attachments.
type TextMetadata struct {
	Images []string `json:"images,omitempty"`
}

func (TextMetadata) MetadataKind() MessageKind { return KindText }

// ToolUseMetadata describes an agent-initiated tool invocation.
type ToolUseMetadata struct {
	ToolName  string         `json:"toolName"`
	ToolUseID string         `json:"toolUseID,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

func (ToolUseMetadata) MetadataKind() MessageKind { return KindToolUse }

// ToolResultMetadata resolves an earlier tool_use via the shared correlation id.
type ToolResultMetadata struct {
	ToolUseID string `json:"toolUseID"`
	IsError   bool   `json:"isError,omitempty"`
}

func (ToolResultMetadata) MetadataKind() MessageKind { return KindToolResult }

// ThinkingMetadata carries extended reasoning text.
type ThinkingMetadata struct {
	Thinking string `json:"thinking,omitempty"`
}

func (ThinkingMetadata) MetadataKind() MessageKind { return KindThinking }

// ErrorMetadata flags an engine-reported execution error.
type ErrorMetadata struct {
	Fatal bool `json:"fatal,omitempty"`
}

func (ErrorMetadata) MetadataKind() MessageKind { return KindError }

// ExecutionCompleteMetadata is the payload of the execution-complete control
// signal. It is classified but never appended to a transcript.
type ExecutionCompleteMetadata struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
}

func (ExecutionCompleteMetadata) MetadataKind() MessageKind { return KindExecutionComplete }

// ParseMetadata unmarshals a raw metadata payload into the shape owned by the
// given kind. A nil/empty payload is legal for kinds whose fields are all
// optional; kinds with required fields report an error instead.
func ParseMetadata(kind MessageKind, data json.RawMessage) (Metadata, error) {
	switch kind {
	case KindText:
		if len(data) == 0 {
			return nil, nil
		}
		var m TextMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("text metadata: %w", err)
		}
		if len(m.Images) == 0 {
			return nil, nil
		}
		return &m, nil
	case KindToolUse:
		var m ToolUseMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("tool_use metadata: %w", err)
		}
		if m.ToolName == "" {
			return nil, fmt.Errorf("tool_use metadata: missing toolName")
		}
		return &m, nil
	case KindToolResult:
		var m ToolResultMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("tool_result metadata: %w", err)
		}
		if m.ToolUseID == "" {
			return nil, fmt.Errorf("tool_result metadata: missing toolUseID")
		}
		return &m, nil
	case KindThinking:
		if len(data) == 0 {
			return &ThinkingMetadata{}, nil
		}
		var m ThinkingMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("thinking metadata: %w", err)
		}
		return &m, nil
	case KindError:
		if len(data) == 0 {
			return &ErrorMetadata{}, nil
		}
		var m ErrorMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("error metadata: %w", err)
		}
		return &m, nil
	case KindExecutionComplete:
		if len(data) == 0 {
			// No payload means the engine had nothing to report; absence
			// of a failure flag reads as success.
			return &ExecutionCompleteMetadata{Success: true}, nil
		}
		var m ExecutionCompleteMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("execution_complete metadata: %w", err)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("unknown message kind %q", kind)
}

// UnmarshalJSON restores the typed metadata payload based on the message kind.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	// Records saved by engines that predate typed kinds carry only role,
	// content and timestamp; they load as plain text messages.
	if m.Kind == "" {
		m.Kind = KindText
	}

	if len(aux.Metadata) == 0 || string(aux.Metadata) == "null" {
		m.Metadata = nil
		return nil
	}

	meta, err := ParseMetadata(m.Kind, aux.Metadata)
	if err != nil {
		return err
	}
	m.Metadata = meta
	return nil
}

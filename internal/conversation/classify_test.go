package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

func TestClassify_TextMessage(t *testing.T) {
	msg, err := Classify("task-1", types.AgentEvent{
		ID:          "ev-1",
		Role:        types.RoleAssistant,
		MessageType: types.KindText,
		Content:     "done reading the repo",
		Timestamp:   1724800000000,
	})
	require.NoError(t, err)

	assert.Equal(t, "ev-1", msg.ID)
	assert.Equal(t, "task-1", msg.TaskID)
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, types.KindText, msg.Kind)
	assert.Nil(t, msg.Metadata)
}

func TestClassify_GeneratesIDWhenMissing(t *testing.T) {
	a, err := Classify("task-1", types.AgentEvent{Role: types.RoleUser, MessageType: types.KindText, Content: "hi"})
	require.NoError(t, err)
	b, err := Classify("task-1", types.AgentEvent{Role: types.RoleUser, MessageType: types.KindText, Content: "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestClassify_Rejections(t *testing.T) {
	cases := []struct {
		name string
		ev   types.AgentEvent
	}{
		{"missing role", types.AgentEvent{MessageType: types.KindText}},
		{"missing messageType", types.AgentEvent{Role: types.RoleUser}},
		{"unknown role", types.AgentEvent{Role: "robot", MessageType: types.KindText}},
		{"user tool_use", types.AgentEvent{Role: types.RoleUser, MessageType: types.KindToolUse}},
		{"assistant error", types.AgentEvent{Role: types.RoleAssistant, MessageType: types.KindError}},
		{"tool_use without toolName", types.AgentEvent{
			Role:        types.RoleAssistant,
			MessageType: types.KindToolUse,
			Metadata:    json.RawMessage(`{}`),
		}},
		{"tool_result without toolUseID", types.AgentEvent{
			Role:        types.RoleAssistant,
			MessageType: types.KindToolResult,
			Metadata:    json.RawMessage(`{}`),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Classify("task-1", tc.ev)
			assert.Error(t, err)
		})
	}
}

func TestClassify_ToolUseMetadata(t *testing.T) {
	msg, err := Classify("task-1", types.AgentEvent{
		ID:          "ev-2",
		Role:        types.RoleAssistant,
		MessageType: types.KindToolUse,
		Metadata:    json.RawMessage(`{"toolName":"bash","toolUseID":"tu-1"}`),
	})
	require.NoError(t, err)

	meta, ok := msg.Metadata.(*types.ToolUseMetadata)
	require.True(t, ok)
	assert.Equal(t, "bash", meta.ToolName)
	assert.Equal(t, "tu-1", meta.ToolUseID)
}

func TestClassify_ExecutionComplete(t *testing.T) {
	msg, err := Classify("task-1", types.AgentEvent{
		Role:        types.RoleSystem,
		MessageType: types.KindExecutionComplete,
		Metadata:    json.RawMessage(`{"success":true,"summary":"all tests green"}`),
	})
	require.NoError(t, err)

	meta, ok := msg.Metadata.(*types.ExecutionCompleteMetadata)
	require.True(t, ok)
	assert.True(t, meta.Success)
	assert.Equal(t, "all tests green", meta.Summary)
}

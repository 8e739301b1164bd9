package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck-ai/taskdeck/internal/event"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

type completionCall struct {
	executionID string
	success     bool
	summary     string
}

// fakeHooks records lifecycle callbacks without doing any orchestration.
type fakeHooks struct {
	mu          sync.Mutex
	startErr    error
	starts      []string
	running     []string
	completions []completionCall
	sessions    [][2]string
}

func (h *fakeHooks) StartOrSend(ctx context.Context, message string, images []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.starts = append(h.starts, message)
	return nil
}

func (h *fakeHooks) ExecutionRunning(executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = append(h.running, executionID)
}

func (h *fakeHooks) ExecutionCompleted(executionID string, success bool, summary string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completions = append(h.completions, completionCall{executionID, success, summary})
}

func (h *fakeHooks) SessionReceived(attemptID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, [2]string{attemptID, sessionID})
}

func (h *fakeHooks) startCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.starts...)
}

func (h *fakeHooks) completionCalls() []completionCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]completionCall(nil), h.completions...)
}

func newTestStore(t *testing.T) (*Store, *fakeHooks, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	hooks := &fakeHooks{}
	s := New(context.Background(), "task-1", bus, hooks, nil)
	t.Cleanup(func() {
		s.Close()
		bus.Close()
	})
	return s, hooks, bus
}

func agentEvent(id string, role types.Role, kind types.MessageKind, content string, ts int64) event.Event {
	return event.Event{
		TaskID: "task-1",
		Type:   event.AgentMessage,
		Data: event.AgentMessageData{Event: types.AgentEvent{
			ID:          id,
			Role:        role,
			MessageType: kind,
			Content:     content,
			Timestamp:   ts,
		}},
	}
}

func TestStore_SendWhileIdle(t *testing.T) {
	s, hooks, _ := newTestStore(t)

	queued, err := s.Send(context.Background(), "fix the login bug", nil)
	require.NoError(t, err)
	assert.False(t, queued)

	state := s.Snapshot()
	require.Len(t, state.Messages, 1)
	assert.Equal(t, types.RoleUser, state.Messages[0].Role)
	assert.Equal(t, types.KindText, state.Messages[0].Kind)
	assert.Equal(t, "fix the login bug", state.Messages[0].Content)

	// The optimistic message is local; confirmation comes from the engine.
	assert.False(t, state.CanSendMessage)
	assert.Equal(t, []string{"fix the login bug"}, hooks.startCalls())
}

func TestStore_SendGatedQueuesWithoutDispatch(t *testing.T) {
	s, hooks, _ := newTestStore(t)
	s.BeginExecution("exec-1")

	queued, err := s.Send(context.Background(), "and update the tests", nil)
	require.NoError(t, err)
	assert.True(t, queued)

	state := s.Snapshot()
	assert.Empty(t, state.Messages, "queued input must not enter the transcript yet")
	assert.Equal(t, 1, state.QueuedCount)
	assert.False(t, state.CanSendMessage)
	assert.Empty(t, hooks.startCalls(), "queued input must never reach the engine")
}

func TestStore_DispatchFailureRestoresDraft(t *testing.T) {
	s, hooks, _ := newTestStore(t)
	hooks.startErr = errors.New("engine unreachable")

	queued, err := s.Send(context.Background(), "try this", nil)
	assert.False(t, queued)
	require.Error(t, err)

	state := s.Snapshot()
	require.Len(t, state.Messages, 1, "optimistic message stays for context")
	assert.Equal(t, "try this", state.Draft, "input restored for retry")
	assert.True(t, state.CanSendMessage, "gate reopens after failed dispatch")
}

func TestStore_IngestDedupByID(t *testing.T) {
	s, _, bus := newTestStore(t)

	ev := agentEvent("ev-1", types.RoleAssistant, types.KindText, "hello", 1000)
	bus.PublishSync(ev)
	bus.PublishSync(ev)

	assert.Len(t, s.Snapshot().Messages, 1)
}

func TestStore_IngestDedupByContentWindow(t *testing.T) {
	s, _, bus := newTestStore(t)

	// Different ids, same content, 500ms apart: the same logical message
	// seen on two channels.
	bus.PublishSync(agentEvent("ev-1", types.RoleAssistant, types.KindText, "hello", 10_000))
	bus.PublishSync(agentEvent("ev-2", types.RoleAssistant, types.KindText, "hello", 10_500))
	assert.Len(t, s.Snapshot().Messages, 1)

	// Outside the tolerance window it is a genuine repeat.
	bus.PublishSync(agentEvent("ev-3", types.RoleAssistant, types.KindText, "hello", 12_000))
	assert.Len(t, s.Snapshot().Messages, 2)
}

func TestStore_ArrivalOrderPreserved(t *testing.T) {
	s, _, bus := newTestStore(t)

	bus.PublishSync(agentEvent("ev-1", types.RoleAssistant, types.KindThinking, "planning", 1000))
	bus.PublishSync(agentEvent("ev-2", types.RoleAssistant, types.KindText, "first", 2000))
	bus.PublishSync(agentEvent("ev-3", types.RoleAssistant, types.KindText, "second", 3000))

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "planning", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "second", msgs[2].Content)
}

func TestStore_UnclassifiableEventDropped(t *testing.T) {
	s, _, bus := newTestStore(t)

	bus.PublishSync(agentEvent("ev-1", "robot", types.KindText, "??", 1000))
	bus.PublishSync(agentEvent("ev-2", types.RoleUser, types.KindToolUse, "??", 1000))

	assert.Empty(t, s.Snapshot().Messages)
}

func TestStore_ExecutionCompleteIsControlSignal(t *testing.T) {
	s, hooks, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.AgentMessage,
		Data: event.AgentMessageData{Event: types.AgentEvent{
			Role:        types.RoleSystem,
			MessageType: types.KindExecutionComplete,
			Metadata:    json.RawMessage(`{"success":false,"summary":"tests failed"}`),
		}},
	})

	state := s.Snapshot()
	assert.Empty(t, state.Messages, "control signal never enters the transcript")
	assert.False(t, state.IsExecuting)
	assert.True(t, state.CanSendMessage)

	calls := hooks.completionCalls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].success)
	assert.Equal(t, "tests failed", calls[0].summary)
}

func TestStore_DuplicateCompletionFiresOnce(t *testing.T) {
	s, hooks, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	done := event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	}
	bus.PublishSync(done)
	bus.PublishSync(done)

	assert.Len(t, hooks.completionCalls(), 1)

	// A fresh execution resets the guard.
	s.BeginExecution("exec-2")
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-2", Success: true},
	})
	assert.Len(t, hooks.completionCalls(), 2)
}

func TestStore_CompletionForUnknownExecutionIgnored(t *testing.T) {
	s, hooks, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-other", Success: true},
	})

	// A completion for an execution this store never started must not
	// open the gate.
	assert.True(t, s.Snapshot().IsExecuting)
	assert.Empty(t, hooks.completionCalls())

	// The real completion still lands.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	})
	assert.False(t, s.Snapshot().IsExecuting)
	assert.Len(t, hooks.completionCalls(), 1)
}

func TestStore_QueueDrainsOneAtATimeFIFO(t *testing.T) {
	s, hooks, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	for _, text := range []string{"first", "second"} {
		queued, err := s.Send(context.Background(), text, nil)
		require.NoError(t, err)
		require.True(t, queued)
	}
	assert.Equal(t, 2, s.Snapshot().QueuedCount)

	// Running ack releases exactly one queued message.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionStarted,
		Data:   event.ExecutionStartedData{ExecutionID: "exec-1"},
	})
	assert.Equal(t, []string{"first"}, hooks.startCalls())
	assert.Equal(t, 1, s.Snapshot().QueuedCount)

	// Completion releases the next.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	})
	assert.Equal(t, []string{"first", "second"}, hooks.startCalls())
	assert.Equal(t, 0, s.Snapshot().QueuedCount)
}

func TestStore_StaleStartAckAfterTerminal(t *testing.T) {
	s, _, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	})
	require.False(t, s.Snapshot().IsExecuting)

	// A late Running ack must not re-open the execution.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionStarted,
		Data:   event.ExecutionStartedData{ExecutionID: "exec-1"},
	})
	assert.False(t, s.Snapshot().IsExecuting)
	assert.True(t, s.Snapshot().CanSendMessage)
}

func TestStore_AcknowledgeStop(t *testing.T) {
	s, hooks, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	s.AcknowledgeStop()

	state := s.Snapshot()
	assert.False(t, state.IsExecuting)
	assert.True(t, state.CanSendMessage)

	calls := hooks.completionCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].success)
	assert.Equal(t, "stopped", calls[0].summary)

	// The engine's trailing completion flush is absorbed.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	})
	assert.Len(t, hooks.completionCalls(), 1)

	// Stopping twice is harmless.
	s.AcknowledgeStop()
	assert.Len(t, hooks.completionCalls(), 1)
}

func TestStore_PendingToolUses(t *testing.T) {
	s, _, bus := newTestStore(t)
	s.BeginExecution("exec-1")

	toolUse := func(id, toolUseID string) event.Event {
		return event.Event{
			TaskID: "task-1",
			Type:   event.AgentMessage,
			Data: event.AgentMessageData{Event: types.AgentEvent{
				ID:          id,
				Role:        types.RoleAssistant,
				MessageType: types.KindToolUse,
				Metadata:    json.RawMessage(`{"toolName":"bash","toolUseID":"` + toolUseID + `"}`),
			}},
		}
	}
	bus.PublishSync(toolUse("ev-1", "tu-1"))
	bus.PublishSync(toolUse("ev-2", "tu-2"))
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.AgentMessage,
		Data: event.AgentMessageData{Event: types.AgentEvent{
			ID:          "ev-3",
			Role:        types.RoleAssistant,
			MessageType: types.KindToolResult,
			Metadata:    json.RawMessage(`{"toolUseID":"tu-1"}`),
		}},
	})

	assert.Equal(t, []string{"tu-2"}, s.PendingToolUses())

	// After the execution terminates the unresolved call is abandoned,
	// not pending.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	})
	assert.Nil(t, s.PendingToolUses())
}

func TestStore_Bootstrap(t *testing.T) {
	s, _, bus := newTestStore(t)

	saved := []types.Message{
		{ID: "m-1", TaskID: "task-1", Role: types.RoleUser, Kind: types.KindText, Content: "start", Timestamp: 1000},
		{ID: "m-2", TaskID: "task-1", Role: types.RoleAssistant, Kind: types.KindText, Content: "on it", Timestamp: 2000},
	}
	s.Bootstrap("attempt-1", saved)

	state := s.Snapshot()
	assert.Equal(t, "attempt-1", state.CurrentAttemptID)
	require.Len(t, state.Messages, 2)
	assert.True(t, state.CanSendMessage)

	// Replayed ids stay deduplicated against live events.
	bus.PublishSync(agentEvent("m-2", types.RoleAssistant, types.KindText, "on it", 2000))
	assert.Len(t, s.Snapshot().Messages, 2)
}

func TestStore_SessionEventForwarded(t *testing.T) {
	s, hooks, bus := newTestStore(t)
	_ = s

	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.SessionReceived,
		Data:   event.SessionReceivedData{AttemptID: "attempt-1", SessionID: "sess-9"},
	})

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Len(t, hooks.sessions, 1)
	assert.Equal(t, [2]string{"attempt-1", "sess-9"}, hooks.sessions[0])
}

func TestStore_SnapshotFlushOnCompletion(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	hooks := &fakeHooks{}

	var mu sync.Mutex
	var persisted []*types.ConversationRecord
	persist := func(ctx context.Context, rec *types.ConversationRecord) error {
		mu.Lock()
		defer mu.Unlock()
		persisted = append(persisted, rec)
		return nil
	}

	s := New(context.Background(), "task-1", bus, hooks, persist)
	defer s.Close()

	s.SetAttempt("attempt-1")
	s.BeginExecution("exec-1")
	bus.PublishSync(agentEvent("ev-1", types.RoleAssistant, types.KindText, "working", 1000))

	// Completion flushes without waiting for the debounce.
	bus.PublishSync(event.Event{
		TaskID: "task-1",
		Type:   event.ExecutionCompleted,
		Data:   event.ExecutionCompletedData{ExecutionID: "exec-1", Success: true},
	})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, persisted)
	rec := persisted[len(persisted)-1]
	assert.Equal(t, "attempt-1", rec.AttemptID)
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, "working", rec.Messages[0].Content)
	assert.Equal(t, types.KindText, rec.Messages[0].Kind)
}

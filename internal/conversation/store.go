// Package conversation owns the per-task transcript: ingestion and
// reconciliation of engine events, the pending-send queue, the send gate,
// and snapshot persistence.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/taskdeck-ai/taskdeck/internal/event"
	"github.com/taskdeck-ai/taskdeck/internal/logging"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// dedupTolerance is the timestamp window inside which two messages with the
// same content, role and kind are considered the same logical message. This
// is the fallback for engines that do not guarantee stable ids.
const dedupTolerance = time.Second

// Hooks is the narrow surface the lifecycle controller exposes to the store.
// The store calls these outside its own lock.
type Hooks interface {
	// StartOrSend performs attempt/execution orchestration for one user
	// message: create the attempt if missing, start or resume the
	// execution, or deliver into the running one.
	StartOrSend(ctx context.Context, message string, images []string) error
	// ExecutionRunning is the engine's acknowledgement that the execution
	// reached Running.
	ExecutionRunning(executionID string)
	// ExecutionCompleted runs the completion side effects (task status,
	// history bookkeeping). Called at most once per execution.
	ExecutionCompleted(executionID string, success bool, summary string)
	// SessionReceived persists a resumable session identifier.
	SessionReceived(attemptID, sessionID string)
}

// Store is the per-task conversation store. One instance exists per mounted
// task. All mutable state is guarded by mu; engine calls happen outside the
// lock so the UI-facing surface never blocks on the engine.
type Store struct {
	taskID string
	bus    *event.Bus
	hooks  Hooks
	log    zerolog.Logger
	ctx    context.Context

	snap *snapshotter

	mu       sync.Mutex
	messages []types.Message
	index    map[string]struct{}

	attemptID      string
	executionID    string
	execStatus     types.ExecutionStatus
	isSending      bool
	completionSeen bool

	pending []string
	draft   string

	unsub func()
}

// New creates a store for one task and subscribes it to the task's event
// channel. persist is invoked by the debounced snapshotter; pass nil to
// disable snapshots.
func New(ctx context.Context, taskID string, bus *event.Bus, hooks Hooks, persist PersistFunc) *Store {
	s := &Store{
		taskID: taskID,
		bus:    bus,
		hooks:  hooks,
		log:    logging.Component("conversation").With().Str("taskID", taskID).Logger(),
		ctx:    ctx,
		index:  make(map[string]struct{}),
	}
	if persist != nil {
		s.snap = newSnapshotter(s, persist)
	}
	s.unsub = bus.Subscribe(taskID, s.handleEvent)
	return s
}

// Close detaches the store from the bus and stops the snapshotter. In-memory
// state is discarded; storage is not touched.
func (s *Store) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.snap != nil {
		s.snap.stop()
	}
}

// Bootstrap seeds the store with a previously saved transcript at mount time.
func (s *Store) Bootstrap(attemptID string, msgs []types.Message) {
	s.mu.Lock()
	s.attemptID = attemptID
	s.messages = append([]types.Message(nil), msgs...)
	for _, m := range msgs {
		s.index[m.ID] = struct{}{}
	}
	s.mu.Unlock()
	s.publishState()
}

// Snapshot returns the externally observable conversation state.
func (s *Store) Snapshot() types.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() types.ConversationState {
	return types.ConversationState{
		TaskID:           s.taskID,
		CurrentAttemptID: s.attemptID,
		Messages:         append([]types.Message(nil), s.messages...),
		IsExecuting:      s.executingLocked(),
		CanSendMessage:   s.canSendLocked(),
		QueuedCount:      len(s.pending),
		Draft:            s.draft,
	}
}

func (s *Store) executingLocked() bool {
	return s.execStatus == types.ExecutionStarting || s.execStatus == types.ExecutionRunning
}

func (s *Store) canSendLocked() bool {
	return !s.executingLocked() && !s.isSending
}

// Record builds the persistable conversation record for the current attempt.
func (s *Store) Record() *types.ConversationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.ConversationRecord{
		AttemptID: s.attemptID,
		Messages:  append([]types.Message(nil), s.messages...),
		SavedAt:   time.Now().UnixMilli(),
	}
}

// AttemptID returns the current attempt id, empty when none exists yet.
func (s *Store) AttemptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

// SetAttempt records the attempt the transcript belongs to.
func (s *Store) SetAttempt(attemptID string) {
	s.mu.Lock()
	s.attemptID = attemptID
	s.mu.Unlock()
}

// BeginExecution records a freshly dispatched execution in Starting state.
// Called by the lifecycle controller after the engine accepted the start.
func (s *Store) BeginExecution(executionID string) {
	s.mu.Lock()
	s.executionID = executionID
	s.execStatus = types.ExecutionStarting
	s.completionSeen = false
	s.mu.Unlock()
	s.publishState()
}

// Send runs the send algorithm for user input. When the gate is closed the
// text is queued and the engine is never contacted; queued is true in that
// case. On dispatch failure the optimistic message stays in the transcript
// and the text is restored as the draft so the user can retry.
func (s *Store) Send(ctx context.Context, text string, images []string) (queued bool, err error) {
	s.mu.Lock()
	if !s.canSendLocked() {
		s.pending = append(s.pending, text)
		n := len(s.pending)
		s.mu.Unlock()
		s.log.Debug().Int("queued", n).Msg("execution in flight, message queued")
		s.bus.Publish(event.Event{TaskID: s.taskID, Type: event.Toast, Data: event.ToastData{
			Level:   event.ToastInfo,
			Message: "Message queued until the agent is ready",
		}})
		s.publishState()
		return true, nil
	}

	s.appendLocked(s.optimisticUserMessage(text, images))
	s.isSending = true
	s.draft = ""
	s.mu.Unlock()

	s.touchSnapshot()
	s.publishState()

	return false, s.dispatch(ctx, text, images)
}

// dispatch hands one message to the lifecycle controller and rolls local
// state back on failure.
func (s *Store) dispatch(ctx context.Context, text string, images []string) error {
	err := s.hooks.StartOrSend(ctx, text, images)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	s.isSending = false
	s.draft = text
	s.mu.Unlock()

	s.log.Warn().Err(err).Msg("dispatch failed, input restored")
	s.bus.Publish(event.Event{TaskID: s.taskID, Type: event.Toast, Data: event.ToastData{
		Level:   event.ToastError,
		Message: "Failed to send message: " + err.Error(),
	}})
	s.publishState()
	return err
}

func (s *Store) optimisticUserMessage(text string, images []string) types.Message {
	msg := types.Message{
		ID:        ulid.Make().String(),
		TaskID:    s.taskID,
		Role:      types.RoleUser,
		Kind:      types.KindText,
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	if len(images) > 0 {
		msg.Metadata = &types.TextMetadata{Images: images}
	}
	return msg
}

// handleEvent is the single ingestion point for the task's push channel.
// Events arrive in causal order on one goroutine; processing stays on that
// goroutine so no reordering is possible.
func (s *Store) handleEvent(e event.Event) {
	switch data := e.Data.(type) {
	case event.AgentMessageData:
		s.ingest(data.Event)
	case event.ExecutionStartedData:
		s.executionRunning(data)
	case event.ExecutionCompletedData:
		s.completion(data.ExecutionID, data.Success, data.Summary)
	case event.SessionReceivedData:
		s.hooks.SessionReceived(data.AttemptID, data.SessionID)
	}
}

// ingest classifies, deduplicates and appends one raw engine event.
func (s *Store) ingest(ev types.AgentEvent) {
	msg, err := Classify(s.taskID, ev)
	if err != nil {
		s.log.Warn().Err(err).Str("messageType", string(ev.MessageType)).Msg("dropping unclassifiable event")
		return
	}

	// execution_complete is a control signal, never transcript content.
	if msg.Kind == types.KindExecutionComplete {
		meta, _ := msg.Metadata.(*types.ExecutionCompleteMetadata)
		success, summary := true, ""
		if meta != nil {
			success, summary = meta.Success, meta.Summary
		}
		s.completion("", success, summary)
		return
	}

	s.mu.Lock()
	if s.duplicateLocked(msg) {
		s.mu.Unlock()
		s.log.Debug().Str("id", msg.ID).Msg("discarding duplicate message")
		return
	}
	s.appendLocked(*msg)
	s.mu.Unlock()

	s.touchSnapshot()
	s.publishState()
}

// duplicateLocked implements the reconciliation rule: same id, or same
// content+role+kind within the timestamp tolerance window.
func (s *Store) duplicateLocked(msg *types.Message) bool {
	if _, ok := s.index[msg.ID]; ok {
		return true
	}
	for i := range s.messages {
		m := &s.messages[i]
		if m.Role != msg.Role || m.Kind != msg.Kind || m.Content != msg.Content {
			continue
		}
		delta := m.Timestamp - msg.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Millisecond <= dedupTolerance {
			return true
		}
	}
	return false
}

func (s *Store) appendLocked(msg types.Message) {
	s.messages = append(s.messages, msg)
	s.index[msg.ID] = struct{}{}
}

// executionRunning handles the engine's Running acknowledgement.
func (s *Store) executionRunning(d event.ExecutionStartedData) {
	s.mu.Lock()
	if s.execStatus.Terminal() {
		// A stale start ack must not re-open a terminal execution.
		s.mu.Unlock()
		return
	}
	if d.ExecutionID != "" {
		s.executionID = d.ExecutionID
	}
	if d.AttemptID != "" && s.attemptID == "" {
		s.attemptID = d.AttemptID
	}
	s.execStatus = types.ExecutionRunning
	s.isSending = false
	execID := s.executionID
	s.mu.Unlock()

	s.hooks.ExecutionRunning(execID)
	s.publishState()
	s.drainOne()
}

// completion handles the execution-complete control signal. The signal may
// arrive more than once (engine retry, stop ack followed by a final flush);
// side effects fire exactly once per execution.
func (s *Store) completion(executionID string, success bool, summary string) {
	s.mu.Lock()
	if executionID != "" && s.executionID != "" && executionID != s.executionID {
		s.mu.Unlock()
		s.log.Debug().Str("executionID", executionID).Msg("ignoring completion for unknown execution")
		return
	}
	if s.completionSeen {
		s.mu.Unlock()
		s.log.Debug().Str("executionID", executionID).Msg("ignoring repeated completion signal")
		return
	}
	s.completionSeen = true
	if success {
		s.execStatus = types.ExecutionCompleted
	} else {
		s.execStatus = types.ExecutionError
	}
	s.isSending = false
	if executionID == "" {
		executionID = s.executionID
	}
	s.mu.Unlock()

	if s.snap != nil {
		s.snap.flush()
	}

	s.hooks.ExecutionCompleted(executionID, success, summary)

	level, msg := event.ToastSuccess, "Agent finished"
	if !success {
		level, msg = event.ToastError, "Agent execution failed"
	}
	if summary != "" {
		msg = summary
	}
	s.bus.Publish(event.Event{TaskID: s.taskID, Type: event.Toast, Data: event.ToastData{Level: level, Message: msg}})

	s.publishState()
	s.drainOne()
}

// AcknowledgeStop terminalizes the execution after a stop-command
// acknowledgement. Events still in flight are processed afterwards but
// cannot re-open the status, and a trailing execution_complete from the
// engine is absorbed by the completion guard.
func (s *Store) AcknowledgeStop() {
	s.mu.Lock()
	if s.completionSeen || !s.executingLocked() {
		s.mu.Unlock()
		return
	}
	s.completionSeen = true
	s.execStatus = types.ExecutionCompleted
	s.isSending = false
	execID := s.executionID
	s.mu.Unlock()

	if s.snap != nil {
		s.snap.flush()
	}

	s.hooks.ExecutionCompleted(execID, true, "stopped")

	s.bus.Publish(event.Event{TaskID: s.taskID, Type: event.Toast, Data: event.ToastData{
		Level:   event.ToastInfo,
		Message: "Execution stopped",
	}})

	s.publishState()
	s.drainOne()
}

// drainOne sends the oldest queued message, if any. Only the completion and
// confirmed-running paths call it, so queued input flushes one at a time in
// FIFO order. The drain bypasses the gate: it is the controller releasing
// input the user already committed.
func (s *Store) drainOne() {
	s.mu.Lock()
	if len(s.pending) == 0 || s.isSending {
		s.mu.Unlock()
		return
	}
	text := s.pending[0]
	s.pending = s.pending[1:]
	s.appendLocked(s.optimisticUserMessage(text, nil))
	s.isSending = true
	s.mu.Unlock()

	s.touchSnapshot()
	s.publishState()

	// dispatch handles rollback and surfacing on failure.
	_ = s.dispatch(s.ctx, text, nil)
}

// PendingToolUses returns correlation ids of tool_use messages that have no
// matching tool_result while the execution is still in flight. Once the
// execution terminates the same messages are abandoned, not pending, and the
// result is empty.
func (s *Store) PendingToolUses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.executingLocked() {
		return nil
	}

	resolved := make(map[string]struct{})
	for i := range s.messages {
		if meta, ok := s.messages[i].Metadata.(*types.ToolResultMetadata); ok {
			resolved[meta.ToolUseID] = struct{}{}
		}
	}

	var pending []string
	for i := range s.messages {
		meta, ok := s.messages[i].Metadata.(*types.ToolUseMetadata)
		if !ok || meta.ToolUseID == "" {
			continue
		}
		if _, done := resolved[meta.ToolUseID]; !done {
			pending = append(pending, meta.ToolUseID)
		}
	}
	return pending
}

func (s *Store) touchSnapshot() {
	if s.snap != nil {
		s.snap.touch()
	}
}

func (s *Store) publishState() {
	s.bus.Publish(event.Event{
		TaskID: s.taskID,
		Type:   event.ConversationUpdated,
		Data:   event.ConversationUpdatedData{State: s.Snapshot()},
	})
}

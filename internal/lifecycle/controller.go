// Package lifecycle owns attempt and execution orchestration for one task:
// lazy attempt creation, start/resume/stop, completion handling and the
// task-status side effects that gate the conversation store.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/taskdeck-ai/taskdeck/internal/agent"
	"github.com/taskdeck-ai/taskdeck/internal/conversation"
	"github.com/taskdeck-ai/taskdeck/internal/engine"
	"github.com/taskdeck-ai/taskdeck/internal/event"
	"github.com/taskdeck-ai/taskdeck/internal/logging"
	"github.com/taskdeck-ai/taskdeck/internal/storage"
	"github.com/taskdeck-ai/taskdeck/internal/task"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// Feed streams a task's engine events onto the bus until the context is
// cancelled. Nil disables streaming (tests drive the bus directly).
type Feed interface {
	Pump(ctx context.Context, taskID string, bus *event.Bus)
}

// Deps bundles the collaborators a controller needs.
type Deps struct {
	Engine   engine.Engine
	Caps     *engine.Capabilities
	Tasks    *task.Service
	Profiles *agent.Registry
	Bus      *event.Bus
	Local    *storage.Storage
	Feed     Feed
}

// Controller drives the execution lifecycle state machine for one task:
// NoAttempt -> Starting -> Running -> {Completed, Error}. It implements
// conversation.Hooks; the store calls back into it for orchestration and it
// never mutates the store's state directly.
type Controller struct {
	deps   Deps
	taskID string
	log    zerolog.Logger

	mu          sync.Mutex
	task        *types.Task
	attempt     *types.Attempt
	exec        *types.Execution
	statusFired map[string]bool // executionID -> reviewing side effect fired

	store      *conversation.Store
	pumpCancel context.CancelFunc
}

// Open mounts a task: it loads the task record, selects the most recent
// attempt as current, replays its saved transcript into a fresh store, and
// subscribes the store to the task's event channel.
func Open(ctx context.Context, taskID string, deps Deps) (*Controller, error) {
	t, err := deps.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		deps:        deps,
		taskID:      taskID,
		task:        t,
		log:         logging.Component("lifecycle").With().Str("taskID", taskID).Logger(),
		statusFired: make(map[string]bool),
	}
	c.store = conversation.New(ctx, taskID, deps.Bus, c, c.persistConversation)

	if err := c.replay(ctx); err != nil {
		c.store.Close()
		return nil, err
	}

	if deps.Feed != nil {
		pumpCtx, cancel := context.WithCancel(context.Background())
		c.pumpCancel = cancel
		go deps.Feed.Pump(pumpCtx, taskID, deps.Bus)
	}
	return c, nil
}

// replay loads the latest attempt and its saved transcript. An engine that
// predates attempts or saved conversations yields an empty transcript, not
// an error.
func (c *Controller) replay(ctx context.Context) error {
	if !c.deps.Caps.SupportsAttempts(ctx, c.taskID) {
		return nil
	}

	attempts, err := c.deps.Engine.ListAttempts(ctx, c.taskID)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}

	latest := attempts[0]
	for _, a := range attempts[1:] {
		if a.CreatedAt >= latest.CreatedAt {
			latest = a
		}
	}

	if latest.SessionID == "" {
		if sid, err := c.deps.Engine.GetAttemptSession(ctx, latest.ID); err == nil {
			latest.SessionID = sid
		}
	}

	c.mu.Lock()
	c.attempt = latest
	c.mu.Unlock()

	rec, err := c.loadConversation(ctx, latest.ID)
	if err != nil {
		return err
	}
	var msgs []types.Message
	if rec != nil {
		msgs = rec.Messages
	}
	c.store.Bootstrap(latest.ID, msgs)
	return nil
}

// Store returns the task's conversation store.
func (c *Controller) Store() *conversation.Store {
	return c.store
}

// Close unmounts the task, discarding in-memory state only.
func (c *Controller) Close() {
	if c.pumpCancel != nil {
		c.pumpCancel()
	}
	c.store.Close()
}

// Send runs the conversation store's send algorithm.
func (c *Controller) Send(ctx context.Context, text string, images []string) (queued bool, err error) {
	return c.store.Send(ctx, text, images)
}

// Stop stops the task's execution. Stopping an already stopped or never
// started execution is a no-op success.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	running := c.exec != nil && !c.exec.Status.Terminal()
	c.mu.Unlock()

	if !running {
		return nil
	}

	if err := c.deps.Engine.StopExecution(ctx, c.taskID); err != nil {
		return err
	}

	// The stop acknowledgement terminalizes the execution locally. A
	// final event flush from the engine is still ingested but cannot
	// re-open the status.
	c.store.AcknowledgeStop()
	return nil
}

// StartOrSend implements conversation.Hooks. For the first message of a task
// it creates the attempt and starts the execution with the message as the
// initial prompt; with an idle attempt it resumes (stored session id, new
// message as prompt, never the original task description); with a live
// execution it delivers the message directly.
func (c *Controller) StartOrSend(ctx context.Context, message string, images []string) error {
	if err := c.ensureAttempt(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	attempt := c.attempt
	live := c.exec != nil && !c.exec.Status.Terminal()
	t := c.task
	c.mu.Unlock()

	if live {
		return c.deps.Engine.SendMessage(ctx, c.taskID, message, images)
	}

	profile, err := c.deps.Profiles.Get(t.AgentProfile)
	if err != nil {
		return err
	}

	spec := engine.StartSpec{
		TaskID:    c.taskID,
		AttemptID: attempt.ID,
		WorkDir:   attempt.WorkDir(t),
		Profile:   profile.Name,
		Prompt:    message,
	}
	if profile.Resumable && attempt.SessionID != "" {
		spec.SessionID = attempt.SessionID
	}

	execID, err := c.deps.Engine.StartExecution(ctx, spec)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	c.mu.Lock()
	c.exec = &types.Execution{
		ID:        execID,
		AttemptID: attempt.ID,
		TaskID:    c.taskID,
		Status:    types.ExecutionStarting,
		StartedAt: now,
	}
	c.mu.Unlock()

	c.store.BeginExecution(execID)

	if _, err := c.deps.Tasks.SetStatus(ctx, c.taskID, types.TaskStatusInProgress); err != nil {
		c.log.Warn().Err(err).Msg("failed to mark task in progress")
	}
	return nil
}

// ensureAttempt creates the current attempt on first send. When the engine
// does not support attempts, a synthetic local-only attempt keeps the UI
// usable; it is never persisted as real.
func (c *Controller) ensureAttempt(ctx context.Context) error {
	c.mu.Lock()
	if c.attempt != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var attempt *types.Attempt
	if c.deps.Caps.SupportsAttempts(ctx, c.taskID) {
		created, err := c.deps.Engine.CreateAttempt(ctx, c.taskID)
		switch {
		case err == nil:
			attempt = created
		case errors.Is(err, engine.ErrUnsupported):
			attempt = c.syntheticAttempt()
		default:
			return err
		}
	} else {
		attempt = c.syntheticAttempt()
	}
	if attempt.CreatedAt == 0 {
		attempt.CreatedAt = time.Now().UnixMilli()
	}

	c.mu.Lock()
	c.attempt = attempt
	c.mu.Unlock()

	c.store.SetAttempt(attempt.ID)

	if !attempt.Synthetic() {
		if _, err := c.deps.Tasks.SetCurrentAttempt(ctx, c.taskID, attempt.ID); err != nil {
			c.log.Warn().Err(err).Msg("failed to record current attempt")
		}
	}
	return nil
}

func (c *Controller) syntheticAttempt() *types.Attempt {
	c.log.Info().Msg("engine lacks attempt support, fabricating local attempt")
	return &types.Attempt{
		ID:        types.SyntheticAttemptPrefix + ulid.Make().String(),
		TaskID:    c.taskID,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// ExecutionRunning implements conversation.Hooks.
func (c *Controller) ExecutionRunning(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exec != nil && !c.exec.Status.Terminal() {
		c.exec.Status = types.ExecutionRunning
	}
}

// ExecutionCompleted implements conversation.Hooks. The reviewing side
// effect fires exactly once per execution even when the engine retries the
// completion signal.
func (c *Controller) ExecutionCompleted(executionID string, success bool, summary string) {
	c.mu.Lock()
	if c.exec == nil || (executionID != "" && c.exec.ID != executionID) {
		// No execution this controller started matches; a stray
		// completion must not flip an idle task's status.
		c.mu.Unlock()
		return
	}
	if success {
		c.exec.Status = types.ExecutionCompleted
	} else {
		c.exec.Status = types.ExecutionError
	}
	c.exec.EndedAt = time.Now().UnixMilli()
	if executionID == "" {
		executionID = c.exec.ID
	}
	fired := c.statusFired[executionID]
	c.statusFired[executionID] = true
	c.mu.Unlock()

	if fired {
		return
	}
	if _, err := c.deps.Tasks.SetStatus(context.Background(), c.taskID, types.TaskStatusReviewing); err != nil {
		c.log.Warn().Err(err).Msg("failed to mark task reviewing")
	}
}

// SessionReceived implements conversation.Hooks. The identifier is persisted
// immediately so a later resume survives an app restart; persistence failure
// only degrades resumability.
func (c *Controller) SessionReceived(attemptID, sessionID string) {
	c.mu.Lock()
	if c.attempt == nil || (attemptID != "" && attemptID != c.attempt.ID) {
		c.mu.Unlock()
		return
	}
	c.attempt.SessionID = sessionID
	synthetic := c.attempt.Synthetic()
	id := c.attempt.ID
	c.mu.Unlock()

	if synthetic {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.deps.Engine.UpdateAttemptSession(ctx, id, sessionID); err != nil {
		c.log.Warn().Err(err).Str("attemptID", id).Msg("failed to persist session id")
	}
}

// persistConversation is the snapshotter's write path. Engine-side save is
// used when supported and the attempt is real; local storage is the
// fallback so history survives engines that predate the conversation API.
func (c *Controller) persistConversation(ctx context.Context, rec *types.ConversationRecord) error {
	c.mu.Lock()
	synthetic := c.attempt != nil && c.attempt.Synthetic()
	c.mu.Unlock()

	if !synthetic && c.deps.Caps.SupportsConversations(ctx, rec.AttemptID) {
		return c.deps.Engine.SaveConversation(ctx, rec.AttemptID, rec)
	}
	return c.deps.Local.Put(ctx, []string{"conversation", rec.AttemptID}, rec)
}

// loadConversation mirrors persistConversation for replay. "Not found" means
// no history.
func (c *Controller) loadConversation(ctx context.Context, attemptID string) (*types.ConversationRecord, error) {
	if c.deps.Caps.SupportsConversations(ctx, attemptID) {
		rec, err := c.deps.Engine.GetConversation(ctx, attemptID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, engine.ErrNotFound) && !errors.Is(err, engine.ErrUnsupported) {
			return nil, err
		}
	}

	var rec types.ConversationRecord
	if err := c.deps.Local.Get(ctx, []string{"conversation", attemptID}, &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

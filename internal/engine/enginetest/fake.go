// Package enginetest provides an in-memory Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskdeck-ai/taskdeck/internal/engine"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// Fake is an in-memory engine that records every command it receives.
// Zero value is not usable; create with New.
type Fake struct {
	mu sync.Mutex

	// Failure injection.
	AttemptsUnsupported      bool
	ConversationsUnsupported bool
	SendErr                  error
	StartErr                 error

	nextAttempt int
	attempts    map[string][]*types.Attempt          // taskID -> attempts
	sessions    map[string]string                    // attemptID -> sessionID
	records     map[string]*types.ConversationRecord // attemptID -> record

	SendCalls  []SendCall
	StartCalls []engine.StartSpec
	StopCalls  []string
}

// SendCall records one SendMessage invocation.
type SendCall struct {
	TaskID  string
	Message string
	Images  []string
}

// New creates an empty fake engine.
func New() *Fake {
	return &Fake{
		attempts: make(map[string][]*types.Attempt),
		sessions: make(map[string]string),
		records:  make(map[string]*types.ConversationRecord),
	}
}

// SendMessage implements engine.Engine.
func (f *Fake) SendMessage(ctx context.Context, taskID, message string, images []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.SendCalls = append(f.SendCalls, SendCall{TaskID: taskID, Message: message, Images: images})
	return nil
}

// StartExecution implements engine.Engine.
func (f *Fake) StartExecution(ctx context.Context, spec engine.StartSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return "", f.StartErr
	}
	f.StartCalls = append(f.StartCalls, spec)
	return fmt.Sprintf("exec-%d", len(f.StartCalls)), nil
}

// StopExecution implements engine.Engine.
func (f *Fake) StopExecution(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, taskID)
	return nil
}

// CreateAttempt implements engine.Engine.
func (f *Fake) CreateAttempt(ctx context.Context, taskID string) (*types.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttemptsUnsupported {
		return nil, engine.ErrUnsupported
	}
	f.nextAttempt++
	attempt := &types.Attempt{
		ID:     fmt.Sprintf("attempt-%d", f.nextAttempt),
		TaskID: taskID,
		Branch: fmt.Sprintf("taskdeck/%s-%d", taskID, f.nextAttempt),
	}
	f.attempts[taskID] = append(f.attempts[taskID], attempt)
	return attempt, nil
}

// ListAttempts implements engine.Engine.
func (f *Fake) ListAttempts(ctx context.Context, taskID string) ([]*types.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttemptsUnsupported {
		return nil, engine.ErrUnsupported
	}
	return append([]*types.Attempt(nil), f.attempts[taskID]...), nil
}

// SeedAttempt adds a pre-existing attempt, as if created in a prior run.
func (f *Fake) SeedAttempt(a *types.Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.TaskID] = append(f.attempts[a.TaskID], a)
	if a.SessionID != "" {
		f.sessions[a.ID] = a.SessionID
	}
}

// GetAttemptSession implements engine.Engine.
func (f *Fake) GetAttemptSession(ctx context.Context, attemptID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttemptsUnsupported {
		return "", engine.ErrUnsupported
	}
	sid, ok := f.sessions[attemptID]
	if !ok {
		return "", engine.ErrNotFound
	}
	return sid, nil
}

// UpdateAttemptSession implements engine.Engine.
func (f *Fake) UpdateAttemptSession(ctx context.Context, attemptID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttemptsUnsupported {
		return engine.ErrUnsupported
	}
	f.sessions[attemptID] = sessionID
	return nil
}

// Session returns the stored session id for an attempt.
func (f *Fake) Session(attemptID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[attemptID]
}

// GetConversation implements engine.Engine.
func (f *Fake) GetConversation(ctx context.Context, attemptID string) (*types.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConversationsUnsupported {
		return nil, engine.ErrUnsupported
	}
	rec, ok := f.records[attemptID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return rec, nil
}

// SaveConversation implements engine.Engine.
func (f *Fake) SaveConversation(ctx context.Context, attemptID string, rec *types.ConversationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConversationsUnsupported {
		return engine.ErrUnsupported
	}
	f.records[attemptID] = rec
	return nil
}

// Record returns the saved conversation record for an attempt, or nil.
func (f *Fake) Record(attemptID string) *types.ConversationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[attemptID]
}

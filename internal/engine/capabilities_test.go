package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// probeEngine counts probe calls and returns configured errors.
type probeEngine struct {
	Engine

	listErr   error
	getErr    error
	listCalls int
	getCalls  int
}

func (p *probeEngine) ListAttempts(ctx context.Context, taskID string) ([]*types.Attempt, error) {
	p.listCalls++
	return nil, p.listErr
}

func (p *probeEngine) GetConversation(ctx context.Context, attemptID string) (*types.ConversationRecord, error) {
	p.getCalls++
	return nil, p.getErr
}

func TestCapabilities_SupportedCached(t *testing.T) {
	p := &probeEngine{}
	caps := NewCapabilities(p)
	ctx := context.Background()

	assert.True(t, caps.SupportsAttempts(ctx, "t1"))
	assert.True(t, caps.SupportsAttempts(ctx, "t1"))
	assert.Equal(t, 1, p.listCalls, "probe runs once per session")
}

func TestCapabilities_NotFoundMeansSupported(t *testing.T) {
	p := &probeEngine{getErr: ErrNotFound}
	caps := NewCapabilities(p)

	// The endpoint exists; the record doesn't.
	assert.True(t, caps.SupportsConversations(context.Background(), "a1"))
	assert.Equal(t, 1, p.getCalls)
}

func TestCapabilities_UnsupportedCached(t *testing.T) {
	p := &probeEngine{listErr: ErrUnsupported}
	caps := NewCapabilities(p)
	ctx := context.Background()

	assert.False(t, caps.SupportsAttempts(ctx, "t1"))
	assert.False(t, caps.SupportsAttempts(ctx, "t1"))
	assert.Equal(t, 1, p.listCalls)
}

func TestCapabilities_TransientFailureRetriesProbe(t *testing.T) {
	p := &probeEngine{listErr: errors.New("connection refused")}
	caps := NewCapabilities(p)
	ctx := context.Background()

	// A network blip must not flip the client into degraded mode.
	assert.True(t, caps.SupportsAttempts(ctx, "t1"))
	assert.Equal(t, 1, p.listCalls)

	// The verdict stays unknown, so the next use probes again.
	p.listErr = ErrUnsupported
	assert.False(t, caps.SupportsAttempts(ctx, "t1"))
	assert.Equal(t, 2, p.listCalls)
}

func TestCapabilities_IndependentSlots(t *testing.T) {
	p := &probeEngine{listErr: ErrUnsupported, getErr: nil}
	caps := NewCapabilities(p)
	ctx := context.Background()

	assert.False(t, caps.SupportsAttempts(ctx, "t1"))
	assert.True(t, caps.SupportsConversations(ctx, "a1"))
}

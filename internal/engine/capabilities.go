package engine

import (
	"context"
	"errors"
	"sync"
)

// Capabilities caches what the connected engine supports. Each capability is
// probed at most once per session with a real call, never inferred from error
// message text. A probe that fails transiently stays unknown and is retried
// on next use.
type Capabilities struct {
	eng Engine

	mu            sync.Mutex
	attempts      capState
	conversations capState
}

type capState int

const (
	capUnknown capState = iota
	capSupported
	capUnsupported
)

// NewCapabilities creates a capability probe for an engine.
func NewCapabilities(eng Engine) *Capabilities {
	return &Capabilities{eng: eng}
}

// SupportsAttempts reports whether the engine implements the attempt API.
// The first call probes with ListAttempts against the given task.
func (c *Capabilities) SupportsAttempts(ctx context.Context, taskID string) bool {
	c.mu.Lock()
	state := c.attempts
	c.mu.Unlock()

	if state != capUnknown {
		return state == capSupported
	}

	_, err := c.eng.ListAttempts(ctx, taskID)
	return c.record(&c.attempts, err)
}

// SupportsConversations reports whether the engine implements the
// conversation save/get API. The first call probes with GetConversation.
func (c *Capabilities) SupportsConversations(ctx context.Context, attemptID string) bool {
	c.mu.Lock()
	state := c.conversations
	c.mu.Unlock()

	if state != capUnknown {
		return state == capSupported
	}

	_, err := c.eng.GetConversation(ctx, attemptID)
	return c.record(&c.conversations, err)
}

func (c *Capabilities) record(slot *capState, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		*slot = capSupported
		return true
	case errors.Is(err, ErrUnsupported):
		*slot = capUnsupported
		return false
	default:
		// Transient failure: leave unknown, assume supported for now so
		// a network blip never flips the client into degraded mode.
		return true
	}
}

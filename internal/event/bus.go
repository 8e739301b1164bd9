// Package event provides the per-task pub/sub channel between the engine
// feed and the conversation stores, built on watermill.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type identifies the kind of event on a task's channel.
type Type string

const (
	// AgentMessage is a raw engine event destined for classification.
	AgentMessage Type = "agent.message"
	// ExecutionStarted is the engine's acknowledgement that an execution
	// is running.
	ExecutionStarted Type = "execution.started"
	// ExecutionCompleted is the out-of-band completion control signal.
	ExecutionCompleted Type = "execution.completed"
	// SessionReceived carries a resumable session identifier.
	SessionReceived Type = "session.received"
	// ConversationUpdated is published after the store mutates its
	// transcript or gate, for UI consumers.
	ConversationUpdated Type = "conversation.updated"
	// Toast is a user-facing notification independent of the transcript.
	Toast Type = "toast"
)

// Event is one event scoped to a single task's channel.
type Event struct {
	TaskID string `json:"taskID"`
	Type   Type   `json:"type"`
	Data   any    `json:"data"`
}

// Subscriber receives events for the task id it subscribed to.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is a per-task event channel. It keeps watermill's gochannel for
// infrastructure while dispatching to typed subscribers directly, so payloads
// keep their Go types. Subscribers are keyed by task id; there is no
// process-wide topic.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	byTask map[string][]subscriberEntry
	global []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		byTask: make(map[string][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for one task's channel. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(taskID string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.byTask[taskID] = append(b.byTask[taskID], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.byTask[taskID]
		for i, entry := range subs {
			if entry.id == id {
				b.byTask[taskID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.byTask[taskID]) == 0 {
			delete(b.byTask, taskID)
		}
	}
}

// SubscribeAll registers a subscriber for every task's events. Used by the
// SSE fan-out, which filters per connection.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.global {
			if entry.id == id {
				b.global = append(b.global[:i], b.global[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) collect(e Event) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	subs := make([]Subscriber, 0, len(b.byTask[e.TaskID])+len(b.global))
	for _, entry := range b.byTask[e.TaskID] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish delivers an event to subscribers asynchronously. UI-facing events
// use this path; it gives no ordering guarantee.
func (b *Bus) Publish(e Event) {
	for _, sub := range b.collect(e) {
		go sub(e)
	}
}

// PublishSync delivers an event to subscribers in the caller's goroutine.
// The engine feed uses this path: events for one execution arrive in causal
// order on a single goroutine, and synchronous dispatch is what preserves
// that order through ingestion.
func (b *Bus) PublishSync(e Event) {
	for _, sub := range b.collect(e) {
		sub(e)
	}
}

// Close shuts the bus down; further publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.byTask = make(map[string][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill channel for middleware or a future
// distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

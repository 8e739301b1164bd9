package lifecycle

import (
	"context"
	"sync"
)

// Manager tracks the mounted task controllers. Each task gets at most one
// controller; unmounting discards in-memory state only, storage is reloaded
// on the next mount.
type Manager struct {
	deps Deps

	mu   sync.Mutex
	open map[string]*Controller
}

// NewManager creates a controller manager.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, open: make(map[string]*Controller)}
}

// Open mounts a task, reusing the existing controller if already mounted.
func (m *Manager) Open(ctx context.Context, taskID string) (*Controller, error) {
	m.mu.Lock()
	if c, ok := m.open[taskID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	c, err := Open(ctx, taskID, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.open[taskID]; ok {
		// Lost the race; keep the first controller.
		c.Close()
		return existing, nil
	}
	m.open[taskID] = c
	return c, nil
}

// Get returns the mounted controller for a task, if any.
func (m *Manager) Get(taskID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.open[taskID]
	return c, ok
}

// CloseTask unmounts a task.
func (m *Manager) CloseTask(taskID string) {
	m.mu.Lock()
	c, ok := m.open[taskID]
	delete(m.open, taskID)
	m.mu.Unlock()

	if ok {
		c.Close()
	}
}

// CloseAll unmounts every task.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range open {
		c.Close()
	}
}

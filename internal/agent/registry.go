// Package agent manages agent executor profiles: which coding-agent binary a
// task runs and whether its sessions can be resumed.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Profile describes one agent executor.
type Profile struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// Resumable marks agents whose sessions can be resumed with a stored
	// session identifier.
	Resumable bool `yaml:"resumable"`
}

// Registry manages agent profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry creates a registry seeded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	for _, p := range BuiltInProfiles() {
		r.profiles[p.Name] = p
	}
	return r
}

// BuiltInProfiles returns the profiles shipped with the workbench.
func BuiltInProfiles() []*Profile {
	return []*Profile{
		{Name: "claude", Command: "claude", Resumable: true},
		{Name: "gemini", Command: "gemini", Resumable: false},
		{Name: "codex", Command: "codex", Resumable: true},
	}
}

// Get retrieves a profile by name. An empty name resolves to "claude".
func (r *Registry) Get(name string) (*Profile, error) {
	if name == "" {
		name = "claude"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("agent profile not found: %s", name)
	}
	return p, nil
}

// Register adds or replaces a profile.
func (r *Registry) Register(p *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// List returns all registered profiles.
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// LoadDir loads user-defined profiles from *.yaml files in a directory.
// A missing directory is not an error.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read profile %s: %w", name, err)
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("parse profile %s: %w", name, err)
		}
		if p.Name == "" {
			return fmt.Errorf("profile %s: missing name", name)
		}
		r.Register(&p)
	}
	return nil
}

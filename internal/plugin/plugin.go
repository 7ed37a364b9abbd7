package plugin

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the activation state of a plugin.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Plugin is an external JSON-RPC service that processes export batches and
// receives session lifecycle notifications for the collections it declares.
type Plugin struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint"`
	Collections []string  `json:"collections"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Registry is a thread-safe in-memory store of registered plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[uuid.UUID]*Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[uuid.UUID]*Plugin)}
}

// Register adds a plugin. A zero ID gets a generated one; hydrating from the
// store keeps the persisted identity.
func (r *Registry) Register(p *Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	r.plugins[p.ID] = p
}

// Get returns a plugin by ID.
func (r *Registry) Get(id uuid.UUID) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not found", id)
	}
	return p, nil
}

// ByName returns the active plugin with the given name.
func (r *Registry) ByName(name string) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Name == name && p.Status == StatusActive {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no active plugin named %q", name)
}

// List returns all registered plugins.
func (r *Registry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	return out
}

// Delete removes a plugin by ID.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return fmt.Errorf("plugin %s not found", id)
	}
	delete(r.plugins, id)
	return nil
}

// ForCollection returns all active plugins declaring the given collection.
func (r *Registry) ForCollection(collection string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Plugin
	for _, p := range r.plugins {
		if p.Status != StatusActive {
			continue
		}
		if slices.Contains(p.Collections, collection) {
			out = append(out, p)
		}
	}
	return out
}

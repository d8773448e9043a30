package provider

import (
	"sort"
	"sync"
)

// Registry maps backend IDs to configured adapters. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ID]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ID]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its descriptor's ID.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Descriptor().ID] = a
}

// Get resolves a backend name. Unknown names yield UnknownBackend; known
// backends without a configured adapter yield BackendUnavailable.
func (r *Registry) Get(name string) (Adapter, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	a, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return nil, unavailable(id, "backend is not configured")
	}
	return a, nil
}

// Descriptors lists the configured backends sorted by ID.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package channel

import "sync"

// Registry maps channel identifiers to adapters. It is constructed once at
// startup and handed to the components that need it, so adapter lifecycle
// stays explicit instead of living in package-level state.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Known reports whether name is a recognized channel identifier.
func (r *Registry) Known(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered channel identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

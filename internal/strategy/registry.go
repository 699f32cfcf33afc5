package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages a named collection of templates that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	templates map[string]Template
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]Template),
	}
}

// Register adds a template to the registry under its own name. If a template
// with the same name already exists it will be replaced.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name()] = t
}

// Get retrieves a template by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return t, nil
}

// List returns all registered templates sorted by name.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

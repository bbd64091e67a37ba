package node

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is one named unit of work. The input map carries the decoded
// request payload; the returned value is serialized back to the caller.
type HandlerFunc func(ctx context.Context, input map[string]any) (any, error)

// Registry maps unit names to handlers. Units are registered at startup and
// resolved per invocation; the name list doubles as the capability set the
// node announces to the coordinator at registration.
type Registry struct {
	mu    sync.RWMutex
	units map[string]HandlerFunc
}

// NewRegistry creates an empty unit registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]HandlerFunc)}
}

// Register binds a handler to a unit name. Re-registering a name replaces
// the previous handler.
func (r *Registry) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("registry: empty unit name")
	}
	if fn == nil {
		return fmt.Errorf("registry: nil handler for unit %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[name] = fn
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(name string, fn HandlerFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Resolve looks up a handler by unit name.
func (r *Registry) Resolve(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.units[name]
	return fn, ok
}

// Names returns the registered unit names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

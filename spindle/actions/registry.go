package actions

import (
	"fmt"
	"sync"

	"tangled.sh/tangled.sh/runner/workflow"
)

// Resolver finds actions the registry does not know by name, e.g.
// executables on disk.
type Resolver interface {
	Resolve(ref workflow.ActionRef) (Action, bool)
}

// Registry maps action identifiers, optionally pinned to a version, to
// implementations.
type Registry struct {
	mu        sync.RWMutex
	actions   map[string]Action
	resolvers []Resolver
}

func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register serves every version of name with a.
func (r *Registry) Register(name string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// RegisterVersion serves name@version only.
func (r *Registry) RegisterVersion(name, version string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name+"@"+version] = a
}

func (r *Registry) AddResolver(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers = append(r.resolvers, res)
}

// Lookup resolves ref: an exact name@version registration wins over a
// name registration, which wins over the resolvers in the order they were
// added.
func (r *Registry) Lookup(ref workflow.ActionRef) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref.Version != "" {
		if a, ok := r.actions[ref.Name+"@"+ref.Version]; ok {
			return a, nil
		}
	}
	if a, ok := r.actions[ref.Name]; ok {
		return a, nil
	}

	for _, res := range r.resolvers {
		if a, ok := res.Resolve(ref); ok {
			return a, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, ref)
}

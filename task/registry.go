package task

import (
	"fmt"
	"sort"
	"sync"

	nuvom "github.com/nahom-zewdu/Nuvom"
)

// RegisterMode controls the behavior when a task name is already taken.
type RegisterMode int

const (
	// RegisterStrict fails with ErrDuplicateTask on a name conflict.
	RegisterStrict RegisterMode = iota
	// RegisterForce replaces the existing definition.
	RegisterForce
	// RegisterSilent keeps the existing definition and ignores the new one.
	RegisterSilent
)

// Registry maps task names to definitions. It is safe for concurrent use
// and read-mostly after startup: registration happens either at host
// wire-up time or when the manifest loader runs, both before workers start.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Definition
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Definition)}
}

// Register adds a definition under its name.
func (r *Registry) Register(def *Definition, mode RegisterMode) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("task: definition must carry a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("task: definition %q must carry a handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[def.Name]; exists {
		switch mode {
		case RegisterForce:
		case RegisterSilent:
			return nil
		default:
			return fmt.Errorf("%w: %q", nuvom.ErrDuplicateTask, def.Name)
		}
	}
	r.tasks[def.Name] = def
	return nil
}

// Get resolves a definition by name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", nuvom.ErrUnknownTask, name)
	}
	return def, nil
}

// List returns all definitions ordered by name for determinism.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.tasks))
	for _, def := range r.tasks {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, k int) bool { return defs[i].Name < defs[k].Name })
	return defs
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Clear removes every definition. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = make(map[string]*Definition)
}

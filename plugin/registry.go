package plugin

import (
	"fmt"
	"sort"
	"sync"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/queue"
	"github.com/nahom-zewdu/Nuvom/result"
)

// Registry holds the backend factories the engine resolves by configured
// name. It is written during startup (built-ins first, then plugins, so a
// plugin may override a built-in) and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	queues  map[string]queue.Factory
	results map[string]result.Factory
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		queues:  make(map[string]queue.Factory),
		results: make(map[string]result.Factory),
	}
}

// RegisterQueueBackend binds a queue factory to a name. Later
// registrations replace earlier ones.
func (r *Registry) RegisterQueueBackend(name string, f queue.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[name] = f
}

// RegisterResultBackend binds a result factory to a name. Later
// registrations replace earlier ones.
func (r *Registry) RegisterResultBackend(name string, f result.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[name] = f
}

// QueueBackend resolves a queue factory by name.
func (r *Registry) QueueBackend(name string) (queue.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: queue backend %q (have %v)",
			nuvom.ErrUnknownBackend, name, keysLocked(r.queues))
	}
	return f, nil
}

// ResultBackend resolves a result factory by name.
func (r *Registry) ResultBackend(name string) (result.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.results[name]
	if !ok {
		return nil, fmt.Errorf("%w: result backend %q (have %v)",
			nuvom.ErrUnknownBackend, name, keysLocked(r.results))
	}
	return f, nil
}

// QueueBackendNames returns the registered queue backend names, sorted.
func (r *Registry) QueueBackendNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keysLocked(r.queues)
}

// ResultBackendNames returns the registered result backend names, sorted.
func (r *Registry) ResultBackendNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keysLocked(r.results)
}

func keysLocked[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

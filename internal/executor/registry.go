package executor

import (
	"sort"
	"sync"

	"github.com/seantiz/testrig/internal/model"
)

// InternalName is the name the built-in, in-process executor registers under.
const InternalName = "internal"

// Info pairs an executor name with its capabilities.
type Info struct {
	Name         string       `json:"name"`
	Default      bool         `json:"default"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered executors and resolves which one runs a given
// invocation.
type Registry struct {
	mu          sync.RWMutex
	executors   map[string]Executor
	defaultName string
}

// NewRegistry creates an empty executor registry whose default is the
// internal executor.
func NewRegistry() *Registry {
	return &Registry{
		executors:   make(map[string]Executor),
		defaultName: InternalName,
	}
}

// Register adds an executor to the registry under the given name.
func (r *Registry) Register(name string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
}

// SetDefault changes which executor the default spec resolves to. The name
// does not have to be registered yet; resolution fails until it is.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// DefaultName returns the name the default spec resolves to.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Resolve returns the executor for spec and the name it was resolved under.
// The default spec maps to the registry default. An unregistered name yields
// a *ConfigurationError wrapping ErrUnknownExecutor.
func (r *Registry) Resolve(spec model.ExecutorSpec) (Executor, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := spec.Name()
	if spec.IsDefault() {
		name = r.defaultName
	}

	e, ok := r.executors[name]
	if !ok {
		if spec.IsDefault() {
			return nil, name, Configf(ErrUnknownExecutor, "default executor %q is not registered", name)
		}
		return nil, name, Configf(ErrUnknownExecutor, "executor %q is not registered", name)
	}
	return e, name, nil
}

// List returns information about all registered executors, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for name, e := range r.executors {
		infos = append(infos, Info{
			Name:         name,
			Default:      name == r.defaultName,
			Capabilities: e.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

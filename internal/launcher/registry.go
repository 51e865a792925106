package launcher

import "sync"

// Factory constructs a launcher instance.
type Factory func() Launcher

type factoryEntry struct {
	name    string
	factory Factory
}

var (
	registryMu       sync.RWMutex
	builtinFactories []factoryEntry
)

// Register associates the provided factory with the launcher name. When
// multiple factories register the same name the most recent registration wins.
func Register(name string, factory Factory) {
	if name == "" {
		panic("launcher.Register: name must not be empty")
	}
	if factory == nil {
		panic("launcher.Register: factory must not be nil")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	for i, entry := range builtinFactories {
		if entry.name == name {
			builtinFactories[i].factory = factory
			return
		}
	}

	builtinFactories = append(builtinFactories, factoryEntry{name: name, factory: factory})
}

// Registry maps deployment mode names to their launcher implementations.
type Registry map[string]Launcher

// NewRegistry constructs the default registry containing all registered
// launcher adapters.
func NewRegistry() Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg := make(Registry, len(builtinFactories))
	for _, entry := range builtinFactories {
		reg[entry.name] = entry.factory()
	}
	return reg
}

// Clone returns a shallow copy of the registry, allowing callers to avoid
// accidental mutation of shared maps.
func (r Registry) Clone() Registry {
	dup := make(Registry, len(r))
	for k, v := range r {
		dup[k] = v
	}
	return dup
}

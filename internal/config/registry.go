package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxhall/voxhall/pkg/session"
)

// ErrBackendNotRegistered is returned by [Registry.CreateDialer] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// DialerFactory builds a [session.Dialer] from a provider entry.
type DialerFactory func(ProviderEntry) (session.Dialer, error)

// Registry maps backend names to session dialer factories. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]DialerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		dialers: make(map[string]DialerFactory),
	}
}

// RegisterDialer registers a session backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDialer(name string, factory DialerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[name] = factory
}

// CreateDialer instantiates a session dialer using the factory registered
// under entry.Name. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateDialer(entry ProviderEntry) (session.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.dialers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered backend names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialers))
	for name := range r.dialers {
		names = append(names, name)
	}
	return names
}

package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// ErrBackendNotRegistered is returned by [Registry.CreateSTT] when no
// factory has been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to speech-to-text constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]func(BackendConfig) (stt.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]func(BackendConfig) (stt.Provider, error)),
	}
}

// RegisterSTT registers a speech-to-text backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(BackendConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateSTT instantiates a backend using the factory registered under
// entry.Name. Returns [ErrBackendNotRegistered] if none is registered.
func (r *Registry) CreateSTT(entry BackendConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// STTNames returns the sorted names of all registered backend factories.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for name := range r.stt {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

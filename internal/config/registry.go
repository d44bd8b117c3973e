package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/MrWong99/elocute/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	assess map[string]func(ProviderEntry) (assess.Provider, error)
	llm    map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		assess: make(map[string]func(ProviderEntry) (assess.Provider, error)),
		llm:    make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterAssess registers an assessment provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAssess(name string, factory func(ProviderEntry) (assess.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assess[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateAssess instantiates an assessment provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no factory
// has been registered for that name.
func (r *Registry) CreateAssess(entry ProviderEntry) (assess.Provider, error) {
	r.mu.RLock()
	factory, ok := r.assess[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: assess/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names of kind ("assess" or "llm").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "assess":
		for n := range r.assess {
			names = append(names, n)
		}
	case "llm":
		for n := range r.llm {
			names = append(names, n)
		}
	}
	return names
}

package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrNotRegistered = errors.New("plugin not registered")

// Registry maps plugin names to implementations of one capability interface.
// Names are case-insensitive. Lookups never fall back to a default silently.
type Registry[T any] struct {
	kind string

	mu      sync.RWMutex
	plugins map[string]T
}

func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		plugins: make(map[string]T),
	}
}

func (r *Registry[T]) Register(name string, plugin T) error {
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("%s plugin name is required", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[key]; exists {
		return fmt.Errorf("%s plugin %q already registered", r.kind, key)
	}
	r.plugins[key] = plugin
	return nil
}

func (r *Registry[T]) Resolve(name string) (T, error) {
	var zero T
	key := normalizeName(name)
	if key == "" {
		return zero, fmt.Errorf("%s plugin name is empty: %w", r.kind, ErrNotRegistered)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.plugins[key]
	if !ok {
		return zero, fmt.Errorf("%s plugin %q: %w", r.kind, key, ErrNotRegistered)
	}
	return plugin, nil
}

func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

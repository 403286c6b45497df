package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// Registry maps module names to driver entries.
//
// A host looks drivers up here when asked to add a device. The registry is
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a driver entry. Registering the same module twice fails.
func (r *Registry) Register(e Entry) error {
	if e.ModuleName == "" {
		return fmt.Errorf("%w: driver entry without module name", device.ErrInvalidParam)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.ModuleName]; exists {
		return fmt.Errorf("%w: driver %q", device.ErrAlreadyRegistered, e.ModuleName)
	}
	r.entries[e.ModuleName] = e
	return nil
}

// Lookup returns the entry for a module.
func (r *Registry) Lookup(moduleName string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[moduleName]
	return e, ok
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

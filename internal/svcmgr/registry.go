// Package svcmgr holds the framework-wide table of published driver services.
//
// Device nodes with a public or capacity policy publish their service object
// here under the device's service name; clients look services up by name.
// Names are unique across every host.
package svcmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry is one published service.
type Entry struct {
	Name     string
	DeviceID device.ID
	Service  any
}

// Registry is the global service table. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Entry
	logger   Logger
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]Entry),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddService publishes svc under name on behalf of the given device.
// Returns ErrServiceExists if the name is already taken.
func (r *Registry) AddService(_ context.Context, name string, id device.ID, svc any) error {
	if name == "" {
		return fmt.Errorf("%w: empty service name", device.ErrInvalidParam)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.services[name]; ok {
		return fmt.Errorf("%w: %q held by device %s", device.ErrServiceExists, name, prev.DeviceID)
	}
	r.services[name] = Entry{Name: name, DeviceID: id, Service: svc}
	r.logger.Debug("service published", "service", name, "device_id", id.String())
	return nil
}

// RemoveService withdraws a published service. Removing an unknown name is
// a no-op.
func (r *Registry) RemoveService(_ context.Context, name string) {
	r.mu.Lock()
	_, ok := r.services[name]
	delete(r.services, name)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("service removed", "service", name)
	}
}

// Lookup returns the service published under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[name]
	return e, ok
}

// Names returns every published service name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.services))
	for name := range r.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package devhost

import (
	"fmt"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// Record is one service visible inside a host.
type Record struct {
	Name     string
	DeviceID device.ID
	Policy   device.Policy
	Service  any
}

// Observer is a host's local service table. Drivers in the same host can
// find each other here whatever their publication policy.
type Observer struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewObserver creates an empty observer.
func NewObserver() *Observer {
	return &Observer{records: make(map[string]Record)}
}

// PublishService records a service under name. Names are unique per host.
func (o *Observer) PublishService(name string, id device.ID, policy device.Policy, svc any) error {
	if name == "" {
		return fmt.Errorf("%w: empty service name", device.ErrInvalidParam)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.records[name]; ok {
		return fmt.Errorf("%w: %q held locally by %s", device.ErrServiceExists, name, prev.DeviceID)
	}
	o.records[name] = Record{Name: name, DeviceID: id, Policy: policy, Service: svc}
	return nil
}

// RemoveService drops a local record. Unknown names are ignored.
func (o *Observer) RemoveService(name string) {
	o.mu.Lock()
	delete(o.records, name)
	o.mu.Unlock()
}

// Lookup returns the record published under name.
func (o *Observer) Lookup(name string) (Record, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.records[name]
	return r, ok
}

// Len returns the number of local records.
func (o *Observer) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.records)
}

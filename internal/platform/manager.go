package platform

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// Manager keeps the devices of one platform module type.
//
// AddHook and DelHook let a bus kind extend the default behaviour. AddHook
// runs before the device is linked and can veto it; DelHook runs after the
// device is unlinked.
type Manager struct {
	name string

	AddHook func(m *Manager, d *Device) error
	DelHook func(m *Manager, d *Device)

	mu      sync.Mutex
	devices []*Device
}

// NewManager creates an empty manager.
func NewManager(name string) *Manager {
	return &Manager{name: name}
}

// Name returns the manager name.
func (m *Manager) Name() string { return m.name }

// Add links d, marks it ready, takes the manager's reference and sends
// EventInit. Adding a second device with the same number fails with
// ErrDeviceExists.
func (m *Manager) Add(_ context.Context, d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil platform device", device.ErrInvalidParam)
	}
	if m.AddHook != nil {
		if err := m.AddHook(m, d); err != nil {
			return fmt.Errorf("adding %s to %s: %w", d.Name, m.name, err)
		}
	}

	m.mu.Lock()
	for _, existing := range m.devices {
		if existing.Number == d.Number {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s number %d", ErrDeviceExists, m.name, d.Number)
		}
	}

	d.mu.Lock()
	if d.manager != nil {
		d.mu.Unlock()
		m.mu.Unlock()
		return fmt.Errorf("%w: %s already linked to %s", ErrDeviceExists, d.Name, d.manager.name)
	}
	d.manager = m
	d.ready = true
	d.deleting = false
	d.mgrRef = true
	d.refs++
	d.released = make(chan struct{})
	d.mu.Unlock()

	m.devices = append(m.devices, d)
	m.mu.Unlock()

	return d.Notify(EventInit)
}

// Del marks d not ready, sends EventDead, drops the manager's reference
// and waits until every other reference is returned before unlinking.
//
// If ctx ends first, Del returns its error with the device still linked
// and unretainable; calling Del again resumes the wait.
func (m *Manager) Del(ctx context.Context, d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil platform device", device.ErrInvalidParam)
	}

	d.mu.Lock()
	if d.manager != m {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s not in %s", ErrDeviceNotFound, d.Name, m.name)
	}
	first := !d.deleting
	d.deleting = true
	d.ready = false
	d.mu.Unlock()

	if first {
		_ = d.Notify(EventDead)
	}

	d.mu.Lock()
	if d.mgrRef {
		d.mgrRef = false
		d.putLocked()
	}
	released := d.released
	d.mu.Unlock()

	if released != nil {
		select {
		case <-released:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s references: %w", d.Name, ctx.Err())
		}
	}

	m.mu.Lock()
	if i := slices.Index(m.devices, d); i >= 0 {
		m.devices = slices.Delete(m.devices, i, i+1)
	}
	m.mu.Unlock()

	d.mu.Lock()
	d.manager = nil
	d.deleting = false
	d.mu.Unlock()

	if m.DelHook != nil {
		m.DelHook(m, d)
	}
	return nil
}

// FindDevice returns the first retainable device for which match is true,
// with a reference taken. The caller must Put it.
func (m *Manager) FindDevice(match func(d *Device) bool) (*Device, error) {
	if match == nil {
		return nil, fmt.Errorf("%w: nil match function", device.ErrInvalidParam)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if !match(d) {
			continue
		}
		if got, err := d.Get(); err == nil {
			return got, nil
		}
	}
	return nil, fmt.Errorf("%w: in %s", ErrDeviceNotFound, m.name)
}

// GetByNumber returns the device with the given number, with a reference
// taken. The caller must Put it.
func (m *Manager) GetByNumber(number int32) (*Device, error) {
	d, err := m.FindDevice(func(d *Device) bool { return d.Number == number })
	if err != nil {
		return nil, fmt.Errorf("%w: %s number %d", ErrDeviceNotFound, m.name, number)
	}
	return d, nil
}

// Devices returns the linked devices in add order. No references are taken.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.devices)
}

// Package platform keeps reference-counted registries of platform-bus
// devices (GPIO controllers, I2C adapters, UART ports and so on).
//
// A Device is added to a Manager, which holds one reference for as long as
// the device is linked. Lookups hand out further references that callers
// return with Put. Deleting a device waits until every reference is back.
//
//	mgr := platform.NewManager("i2c")
//	dev := platform.NewDevice(0, "i2c0")
//	_ = mgr.Add(ctx, dev)
//
//	d, _ := mgr.GetByNumber(0)
//	defer d.Put()
//
// Notifiers observe EventInit and EventDead. Notify neither locks nor
// allocates, so it may be called from contexts that must not block;
// handlers must not block either.
package platform

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/driver"
)

// EventType is a platform device lifecycle event.
type EventType int

const (
	// EventInit is sent once a device is added and ready.
	EventInit EventType = iota

	// EventDead is sent when a device is about to be removed.
	EventDead

	eventMax
)

func (e EventType) String() string {
	switch e {
	case EventInit:
		return "init"
	case EventDead:
		return "dead"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Notifier receives device events. Handle runs on the notifying goroutine
// and must not block.
type Notifier struct {
	Data   any
	Handle func(d *Device, event EventType, data any)
}

// Device is one platform-bus device instance.
type Device struct {
	Number int32
	Name   string

	// Service is the I/O service object exposed for the device, if any.
	Service any

	// Priv is owner-private data.
	Priv any

	mu       sync.Mutex // guards the fields below
	refs     int
	ready    bool
	deleting bool
	mgrRef   bool
	released chan struct{}
	manager  *Manager
	object   *driver.Object

	notifyMu  sync.Mutex // serializes notifier writers
	notifiers atomic.Pointer[[]*Notifier]
}

// NewDevice creates an unlinked device.
func NewDevice(number int32, name string) *Device {
	return &Device{Number: number, Name: name}
}

// Get takes a reference to the device. It fails with ErrNotRetainable once
// deletion has started.
func (d *Device) Get() (*Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deleting {
		return nil, fmt.Errorf("%w: %s", ErrNotRetainable, d.Name)
	}
	d.refs++
	return d, nil
}

// Put returns a reference. The count never drops below zero; reaching zero
// signals a pending deletion.
func (d *Device) Put() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.putLocked()
}

func (d *Device) putLocked() {
	if d.refs == 0 {
		return
	}
	d.refs--
	if d.refs == 0 && d.released != nil {
		close(d.released)
		d.released = nil
	}
}

// Refs returns the current reference count.
func (d *Device) Refs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs
}

// Ready reports whether the device is added and not being deleted.
func (d *Device) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Manager returns the manager the device is linked to, or nil.
func (d *Device) Manager() *Manager {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manager
}

// RegisterNotifier adds a notifier. Registering the same notifier twice
// delivers each event to it twice.
func (d *Device) RegisterNotifier(n *Notifier) error {
	if n == nil || n.Handle == nil {
		return fmt.Errorf("%w: notifier without handler", device.ErrInvalidParam)
	}

	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	var next []*Notifier
	if cur := d.notifiers.Load(); cur != nil {
		next = make([]*Notifier, len(*cur), len(*cur)+1)
		copy(next, *cur)
	}
	next = append(next, n)
	d.notifiers.Store(&next)
	return nil
}

// UnregisterNotifier removes every registration of n.
func (d *Device) UnregisterNotifier(n *Notifier) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	cur := d.notifiers.Load()
	if cur == nil {
		return
	}
	next := make([]*Notifier, 0, len(*cur))
	for _, existing := range *cur {
		if existing != n {
			next = append(next, existing)
		}
	}
	d.notifiers.Store(&next)
}

// ClearNotifiers removes all notifiers.
func (d *Device) ClearNotifiers() {
	d.notifyMu.Lock()
	d.notifiers.Store(nil)
	d.notifyMu.Unlock()
}

// Notify delivers event to every registered notifier in registration
// order.
func (d *Device) Notify(event EventType) error {
	if event < EventInit || event >= eventMax {
		return ErrInvalidEvent
	}
	list := d.notifiers.Load()
	if list == nil {
		return nil
	}
	for _, n := range *list {
		n.Handle(d, event, n.Data)
	}
	return nil
}

// Bind associates the device with a driver object so a driver can recover
// it later with FromObject.
func (d *Device) Bind(obj *driver.Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil device object", device.ErrInvalidParam)
	}
	d.mu.Lock()
	d.object = obj
	d.mu.Unlock()
	obj.Priv = d
	return nil
}

// Unbind breaks the association made by Bind.
func (d *Device) Unbind() {
	d.mu.Lock()
	obj := d.object
	d.object = nil
	d.mu.Unlock()

	if obj != nil && obj.Priv == d {
		obj.Priv = nil
	}
}

// Property returns the configuration subtree of the bound driver object.
func (d *Device) Property() *attribute.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.object == nil {
		return nil
	}
	return d.object.Property
}

// FromObject returns the platform device bound to obj.
func FromObject(obj *driver.Object) (*Device, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil device object", device.ErrInvalidParam)
	}
	d, ok := obj.Priv.(*Device)
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: device %s", ErrNotBound, obj.ID)
	}
	return d, nil
}

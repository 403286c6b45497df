// Package driver defines the capability set a loadable driver module
// provides and the device object the framework hands to it.
package driver

import (
	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// Entry is the capability set of one driver module.
//
// Init is mandatory. Bind is mandatory for drivers whose devices publish a
// public or capacity service, since Bind is what creates Object.Service.
// Release never fails.
type Entry struct {
	ModuleName string
	Bind       func(obj *Object) error
	Init       func(obj *Object) error
	Release    func(obj *Object)
}

// Object is the per-device state a driver sees.
type Object struct {
	// ID and Name identify the device the object belongs to.
	ID   device.ID
	Name string

	// Property is the configuration subtree matched by the device's
	// match attribute. Nil when nothing matched.
	Property *attribute.Node

	// Config is the opaque private string from the device descriptor.
	Config string

	// Service is the object published under the device's service name.
	// Bind is expected to set it.
	Service any

	// Priv is driver-owned private state.
	Priv any

	// AddPowerStateListener registers the driver for power transitions.
	// Set by the host; only one listener per device is accepted.
	AddPowerStateListener func(l power.Listener) error
}

package platform

import "errors"

// Domain errors for platform devices and managers.
// Check them with errors.Is().
var (
	// ErrNotRetainable is returned by Get while the device is being deleted.
	ErrNotRetainable = errors.New("platform: device is being deleted")

	// ErrDeviceExists is returned when adding a device whose number is taken.
	ErrDeviceExists = errors.New("platform: device number in use")

	// ErrDeviceNotFound is returned when no device matches a lookup.
	ErrDeviceNotFound = errors.New("platform: device not found")

	// ErrInvalidEvent is returned by Notify for an unknown event type.
	ErrInvalidEvent = errors.New("platform: invalid event")

	// ErrManagerExists is returned when a module type already has a manager.
	ErrManagerExists = errors.New("platform: manager already registered")

	// ErrNotBound is returned when a device object carries no platform device.
	ErrNotBound = errors.New("platform: object not bound to a device")
)

package devnode

import "github.com/nerrad567/hdf-devmgr/internal/device"

// Token is the handle a launched node attaches to the manager with.
type Token struct {
	id device.ID
}

// DeviceID returns the device the token stands for.
func (t *Token) DeviceID() device.ID {
	return t.id
}

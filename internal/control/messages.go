package control

import (
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
)

// CommandStatus requests a snapshot of all hosts. The other command names
// are defined by the mqtt package.
const CommandStatus = "status"

// Request is the body of a command message. Fields not used by a command
// are ignored.
type Request struct {
	ID string `json:"id,omitempty"`

	// State is the power state name for the power command.
	State string `json:"state,omitempty"`

	// Service names the device for load and unload.
	Service string `json:"service,omitempty"`
}

// Reply is published once per handled command.
type Reply struct {
	ID      string                `json:"id"`
	Command string                `json:"command"`
	OK      bool                  `json:"ok"`
	Code    int                   `json:"code"`
	Error   string                `json:"error,omitempty"`
	Hosts   []devmgr.HostSnapshot `json:"hosts,omitempty"`
	At      time.Time             `json:"at"`
}

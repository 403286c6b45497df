// Package event carries device manager lifecycle events to their sinks.
//
// The manager emits an Event for every host and device transition. A Fanout
// forwards each event to the configured sinks: the SQLite journal, MQTT
// status topics and InfluxDB points. Sink failures are logged and never
// reach the manager.
package event

import (
	"context"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// Kind names a lifecycle transition.
type Kind string

// Event kinds.
const (
	KindHostStarted    Kind = "host_started"
	KindHostFailed     Kind = "host_failed"
	KindHostAttached   Kind = "host_attached"
	KindHostDetached   Kind = "host_detached"
	KindDeviceAttached Kind = "device_attached"
	KindDeviceDetached Kind = "device_detached"
	KindDeviceLoaded   Kind = "device_loaded"
	KindDeviceUnloaded Kind = "device_unloaded"
	KindPowerChanged   Kind = "power_changed"
)

// AllKinds returns every event kind.
func AllKinds() []Kind {
	return []Kind{
		KindHostStarted, KindHostFailed, KindHostAttached, KindHostDetached,
		KindDeviceAttached, KindDeviceDetached, KindDeviceLoaded, KindDeviceUnloaded,
		KindPowerChanged,
	}
}

// Event is one lifecycle transition.
type Event struct {
	Kind     Kind      `json:"kind"`
	HostID   uint16    `json:"host_id"`
	HostName string    `json:"host_name,omitempty"`
	DeviceID device.ID `json:"device_id,omitempty"`
	Service  string    `json:"service,omitempty"`
	Module   string    `json:"module,omitempty"`
	PID      int       `json:"pid,omitempty"`

	// PowerState is set for power_changed events.
	PowerState string `json:"power_state,omitempty"`

	// Err is the failure text; empty on success.
	Err string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// OK reports whether the event records a success.
func (e Event) OK() bool { return e.Err == "" }

// WithErr returns a copy of e carrying err's text. A nil err leaves e unchanged.
func (e Event) WithErr(err error) Event {
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// Sink receives events.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

// Logger defines the logging interface used by the fanout.
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

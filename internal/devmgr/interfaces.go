package devmgr

import (
	"context"

	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// AttributeSource supplies host and device descriptors.
type AttributeSource interface {
	GetHostList(ctx context.Context) ([]device.HostInfo, error)
	GetDeviceList(ctx context.Context, hostID uint16, hostName string) ([]*device.Info, error)
}

// Installer starts device host processes.
type Installer interface {
	StartHost(ctx context.Context, hostID uint16, hostName string) (pid int, err error)
}

// HostService is the manager's handle on an attached host.
type HostService interface {
	AddDevice(ctx context.Context, info *device.Info) error
	DelDevice(ctx context.Context, id device.ID) error
	PmNotify(ctx context.Context, state power.State) error
}

// Token identifies a launched device.
type Token = device.Token

// EventPublisher receives lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, e event.Event)
}

// Logger defines the logging interface used by the manager.
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

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, event.Event) {}

// Package devhost runs driver instances on behalf of the device manager.
//
// A Service is the host side of one device host: the manager asks it to
// add and remove devices and to deliver power transitions, and it keeps
// the device nodes, their driver entries and a local service table.
package devhost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/devnode"
	"github.com/nerrad567/hdf-devmgr/internal/driver"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// Logger defines the logging interface used by the host service.
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

// Config holds the collaborators of a host service.
type Config struct {
	HostID   uint16
	HostName string

	// Drivers resolves module names to driver entries.
	Drivers *driver.Registry

	// Manager receives attach and detach calls from launched nodes.
	Manager devnode.Manager

	// Services is the global service registry. May be nil when no device
	// in the host publishes a public or capacity service.
	Services devnode.ServiceRegistry

	// Tree supplies property subtrees to drivers. May be nil.
	Tree *attribute.Tree

	Logger Logger
}

// Service is the host side of one device host.
//
// All device operations are serialized by the service; it is safe to call
// from several goroutines.
type Service struct {
	cfg      Config
	observer *Observer
	logger   Logger

	mu    sync.Mutex
	nodes []*devnode.Node // launch order
}

// New creates a host service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		cfg:      cfg,
		observer: NewObserver(),
		logger:   logger,
	}
}

// ID returns the host ID.
func (s *Service) ID() uint16 { return s.cfg.HostID }

// Name returns the host name.
func (s *Service) Name() string { return s.cfg.HostName }

// Observer returns the host's local service table.
func (s *Service) Observer() *Observer { return s.observer }

// AddDevice constructs and launches a node for info. A node that fails to
// launch is destroyed before the error is returned.
func (s *Service) AddDevice(ctx context.Context, info *device.Info) error {
	if info == nil {
		return fmt.Errorf("%w: nil device info", device.ErrInvalidParam)
	}
	if info.ID.HostID() != s.cfg.HostID {
		return fmt.Errorf("%w: device %s does not belong to host %d", device.ErrInvalidParam, info.ID, s.cfg.HostID)
	}
	if s.cfg.Drivers == nil {
		return fmt.Errorf("%w: no driver registry", device.ErrInvalidObject)
	}
	entry, ok := s.cfg.Drivers.Lookup(info.ModuleName)
	if !ok {
		return fmt.Errorf("%w: no driver for module %q", device.ErrNoDevice, info.ModuleName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(info.ID) >= 0 {
		return fmt.Errorf("%w: device %s", device.ErrAlreadyAttached, info.ID)
	}

	node, err := devnode.New(info, entry, devnode.Deps{
		Manager:  s.cfg.Manager,
		Services: s.cfg.Services,
		Host:     s.observer,
		Tree:     s.cfg.Tree,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	if err := node.Launch(ctx); err != nil {
		s.logger.Error("launch device failed",
			"host", s.cfg.HostName,
			"device_id", info.ID.String(),
			"module", info.ModuleName,
			"error", err,
		)
		node.Destroy(ctx)
		return err
	}

	s.nodes = append(s.nodes, node)
	s.logger.Info("device added", "host", s.cfg.HostName, "device_id", info.ID.String(), "service", info.ServiceName)
	return nil
}

// DelDevice destroys the node for id.
func (s *Service) DelDevice(ctx context.Context, id device.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", device.ErrNoDevice, id)
	}
	node := s.nodes[i]
	s.nodes = slices.Delete(s.nodes, i, i+1)
	node.Destroy(ctx)

	s.logger.Info("device deleted", "host", s.cfg.HostName, "device_id", id.String())
	return nil
}

// PmNotify delivers a power state to every node with a registered
// listener. Wake states go in launch order, the rest in reverse. Every
// listener is called; failures are aggregated under ErrPowerNotify.
func (s *Service) PmNotify(_ context.Context, state power.State) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: power state %d", device.ErrInvalidParam, int(state))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	notify := func(n *devnode.Node) {
		tok := n.PowerToken()
		if tok == nil {
			return
		}
		if err := tok.Dispatch(state); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", n.ID(), err))
		}
	}

	if state.IsWake() {
		for _, n := range s.nodes {
			notify(n)
		}
	} else {
		for i := len(s.nodes) - 1; i >= 0; i-- {
			notify(s.nodes[i])
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: host %s %s: %w", device.ErrPowerNotify, s.cfg.HostName, state, errors.Join(errs...))
	}
	return nil
}

// Devices returns the IDs of the live nodes in launch order.
func (s *Service) Devices() []device.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]device.ID, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.ID()
	}
	return out
}

// Close destroys every node in reverse launch order.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	nodes := s.nodes
	s.nodes = nil
	s.mu.Unlock()

	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].Destroy(ctx)
	}
}

func (s *Service) indexOf(id device.ID) int {
	for i, n := range s.nodes {
		if n.ID() == id {
			return i
		}
	}
	return -1
}

package installer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/devhost"
	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/devnode"
	"github.com/nerrad567/hdf-devmgr/internal/driver"
)

// Manager is the manager surface an in-process host talks to.
type Manager interface {
	devnode.Manager
	AttachDeviceHost(ctx context.Context, hostID uint16, svc devmgr.HostService) error
}

// InProcessConfig holds the shared collaborators of in-process hosts.
type InProcessConfig struct {
	Drivers  *driver.Registry
	Services devnode.ServiceRegistry
	Tree     *attribute.Tree
	Logger   Logger
}

// InProcess runs every device host inside the current process.
type InProcess struct {
	cfg    InProcessConfig
	logger Logger

	mu    sync.Mutex
	mgr   Manager
	hosts map[uint16]*devhost.Service
	order []uint16
}

// NewInProcess creates an in-process installer.
func NewInProcess(cfg InProcessConfig) *InProcess {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &InProcess{
		cfg:    cfg,
		logger: logger,
		hosts:  make(map[uint16]*devhost.Service),
	}
}

// Bind sets the manager hosts attach to.
func (p *InProcess) Bind(m Manager) {
	p.mu.Lock()
	p.mgr = m
	p.mu.Unlock()
}

// StartHost builds the host and attaches it to the manager. The returned
// pid is the current process.
func (p *InProcess) StartHost(ctx context.Context, hostID uint16, hostName string) (int, error) {
	p.mu.Lock()
	mgr := p.mgr
	if mgr == nil {
		p.mu.Unlock()
		return 0, ErrNotBound
	}
	if _, ok := p.hosts[hostID]; ok {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrHostRunning, hostName)
	}
	host := devhost.New(devhost.Config{
		HostID:   hostID,
		HostName: hostName,
		Drivers:  p.cfg.Drivers,
		Manager:  mgr,
		Services: p.cfg.Services,
		Tree:     p.cfg.Tree,
		Logger:   p.cfg.Logger,
	})
	p.hosts[hostID] = host
	p.order = append(p.order, hostID)
	p.mu.Unlock()

	// Attach runs the boot-time driver installs, which call back into the
	// manager through the host; no installer lock is held here.
	if err := mgr.AttachDeviceHost(ctx, hostID, host); err != nil {
		host.Close(ctx)
		p.forget(hostID)
		return 0, fmt.Errorf("attaching host %s: %w", hostName, err)
	}

	p.logger.Info("in-process device host started", "host_id", hostID, "host", hostName, "devices", len(host.Devices()))
	return os.Getpid(), nil
}

// Host returns the running host with the given id.
func (p *InProcess) Host(hostID uint16) (*devhost.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hosts[hostID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", device.ErrNoHost, hostID)
	}
	return h, nil
}

// StopAll tears down every host, last started first.
func (p *InProcess) StopAll(ctx context.Context) {
	p.mu.Lock()
	order := append([]uint16(nil), p.order...)
	p.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		p.mu.Lock()
		h := p.hosts[order[i]]
		p.mu.Unlock()
		if h == nil {
			continue
		}
		h.Close(ctx)
		p.forget(order[i])
	}
}

func (p *InProcess) forget(hostID uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.hosts, hostID)
	for i, id := range p.order {
		if id == hostID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

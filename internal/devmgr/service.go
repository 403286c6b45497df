package devmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// Config holds the collaborators and options of a Service.
type Config struct {
	// Attributes supplies the host and device lists. Required.
	Attributes AttributeSource

	// Installer starts host processes. Required.
	Installer Installer

	// QuickLoad defers every enable_step2 device to LoadLeftDriver. When
	// false, deferred devices are installed with the boot-time set and
	// promoted to enable on success.
	QuickLoad bool

	// Events receives lifecycle events. May be nil.
	Events EventPublisher

	Logger Logger
}

// Service is the device manager.
type Service struct {
	attrs     AttributeSource
	installer Installer
	quickLoad bool
	events    EventPublisher
	logger    Logger

	mu    sync.Mutex
	hosts []*HostClient // attribute order
}

// NewService creates a device manager.
func NewService(cfg Config) (*Service, error) {
	if cfg.Attributes == nil {
		return nil, fmt.Errorf("%w: attribute source is required", device.ErrInvalidParam)
	}
	if cfg.Installer == nil {
		return nil, fmt.Errorf("%w: installer is required", device.ErrInvalidParam)
	}

	s := &Service{
		attrs:     cfg.Attributes,
		installer: cfg.Installer,
		quickLoad: cfg.QuickLoad,
		events:    cfg.Events,
		logger:    cfg.Logger,
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// StartService links a client for every host in the attribute source and
// starts it. A host that fails to start is unlinked and skipped; the sweep
// always completes.
func (s *Service) StartService(ctx context.Context) error {
	hosts, err := s.attrs.GetHostList(ctx)
	if err != nil {
		return fmt.Errorf("reading host list: %w", err)
	}
	if len(hosts) == 0 {
		s.logger.Warn("host list is empty")
		return nil
	}

	for _, h := range hosts {
		s.startHost(ctx, h)
	}
	return nil
}

func (s *Service) startHost(ctx context.Context, h device.HostInfo) {
	hc := newHostClient(h.ID, h.Name)

	s.mu.Lock()
	if s.findHostLocked(h.ID) != nil {
		s.mu.Unlock()
		s.logger.Warn("host already linked, skipping", "host_id", h.ID, "host", h.Name)
		return
	}
	s.hosts = append(s.hosts, hc)
	s.mu.Unlock()

	ev := event.Event{HostID: h.ID, HostName: h.Name}

	pid, err := s.installer.StartHost(ctx, h.ID, h.Name)
	if err != nil {
		s.logger.Warn("failed to start device host", "host_id", h.ID, "host", h.Name, "error", err)
		s.mu.Lock()
		s.unlinkLocked(hc)
		s.mu.Unlock()

		ev.Kind = event.KindHostFailed
		s.events.Publish(ctx, ev.WithErr(err))
		return
	}

	s.mu.Lock()
	hc.pid = pid
	s.mu.Unlock()

	s.logger.Info("device host started", "host_id", h.ID, "host", h.Name, "pid", pid)
	ev.Kind = event.KindHostStarted
	ev.PID = pid
	s.events.Publish(ctx, ev)
}

// AttachDeviceHost binds a started host's service handle, pulls its device
// list and installs its boot-time drivers. Individual driver failures are
// logged and reported as events; they do not fail the attach.
func (s *Service) AttachDeviceHost(ctx context.Context, hostID uint16, svc HostService) error {
	if svc == nil {
		return fmt.Errorf("%w: nil host service for host %d", device.ErrInvalidParam, hostID)
	}

	s.mu.Lock()
	hc := s.findHostLocked(hostID)
	if hc == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", device.ErrNoHost, hostID)
	}
	if hc.service != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: host %s", device.ErrAlreadyAttached, hc.name)
	}
	hc.service = svc
	name := hc.name
	s.mu.Unlock()

	s.logger.Info("device host attached", "host_id", hostID, "host", name)
	s.events.Publish(ctx, event.Event{Kind: event.KindHostAttached, HostID: hostID, HostName: name})

	infos, err := s.attrs.GetDeviceList(ctx, hostID, name)
	if err != nil {
		s.logger.Warn("failed to get device list", "host", name, "error", err)
		return nil
	}
	if len(infos) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.findHostLocked(hostID) != hc || hc.service != svc {
		s.mu.Unlock()
		return fmt.Errorf("%w: host %s went away during attach", device.ErrNoHost, name)
	}
	hc.infos = infos
	s.mu.Unlock()

	s.installDrivers(ctx, hc, svc)
	return nil
}

// installDrivers adds every boot-time device to the host. Disabled devices
// are always skipped; deferred devices are skipped in quick-load mode.
func (s *Service) installDrivers(ctx context.Context, hc *HostClient, svc HostService) {
	s.mu.Lock()
	var pending []*device.Info
	for _, info := range hc.infos {
		switch {
		case info.Preload == device.PreloadDisable:
			continue
		case info.Preload == device.PreloadEnableStep2 && s.quickLoad:
			continue
		case !hc.reserve(info.ID):
			continue
		}
		pending = append(pending, info.Clone())
	}
	host := hc.name
	s.mu.Unlock()

	for _, req := range pending {
		err := svc.AddDevice(ctx, req)
		s.events.Publish(ctx, event.Event{
			Kind:     event.KindDeviceLoaded,
			HostID:   hc.id,
			HostName: host,
			DeviceID: req.ID,
			Service:  req.ServiceName,
			Module:   req.ModuleName,
		}.WithErr(err))

		if err != nil {
			s.logger.Error("failed to install driver",
				"host", host,
				"device_id", req.ID.String(),
				"module", req.ModuleName,
				"error", err,
			)
		}
		s.settle(hc, req.ID, err == nil && req.Preload == device.PreloadEnableStep2, device.PreloadEnable)
	}
}

// DetachDeviceHost forgets a host's service handle after the host has gone
// away. Its tokens are dropped and every device is marked unusable; the
// client stays linked so the host can attach again.
func (s *Service) DetachDeviceHost(ctx context.Context, hostID uint16) error {
	s.mu.Lock()
	hc := s.findHostLocked(hostID)
	if hc == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", device.ErrNoHost, hostID)
	}
	hc.service = nil
	hc.tokens = nil
	hc.pid = 0
	for _, info := range hc.infos {
		info.Status = device.StatusUnusable
	}
	name := hc.name
	s.mu.Unlock()

	s.logger.Warn("device host detached", "host_id", hostID, "host", name)
	s.events.Publish(ctx, event.Event{Kind: event.KindHostDetached, HostID: hostID, HostName: name})
	return nil
}

// SetHostPID records the process id of a linked host, typically after the
// installer restarted it.
func (s *Service) SetHostPID(hostID uint16, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hc := s.findHostLocked(hostID)
	if hc == nil {
		return fmt.Errorf("%w: %d", device.ErrNoHost, hostID)
	}
	hc.pid = pid
	return nil
}

// AttachDevice records a launched device and marks it usable. A second
// attach for the same device fails with ErrAlreadyAttached.
func (s *Service) AttachDevice(ctx context.Context, token Token) error {
	if token == nil {
		return fmt.Errorf("%w: nil device token", device.ErrInvalidParam)
	}
	id := token.DeviceID()

	s.mu.Lock()
	hc := s.findHostLocked(id.HostID())
	if hc == nil {
		s.mu.Unlock()
		s.logger.Error("failed to attach device, host not found", "device_id", id.String())
		return fmt.Errorf("%w: %d for device %s", device.ErrNoHost, id.HostID(), id)
	}
	if hc.findToken(id) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: device %s", device.ErrAlreadyAttached, id)
	}
	if !hc.setStatus(id, device.StatusUsable) {
		s.logger.Warn("attached device has no descriptor", "host", hc.name, "device_id", id.String())
	}
	hc.tokens = append(hc.tokens, &TokenClient{token: token})
	ev := s.deviceEventLocked(event.KindDeviceAttached, hc, id)
	s.mu.Unlock()

	s.logger.Debug("device attached", "host", ev.HostName, "device_id", id.String())
	s.events.Publish(ctx, ev)
	return nil
}

// DetachDevice forgets an attached device and marks it unusable.
func (s *Service) DetachDevice(ctx context.Context, id device.ID) error {
	s.mu.Lock()
	hc := s.findHostLocked(id.HostID())
	if hc == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d for device %s", device.ErrNoHost, id.HostID(), id)
	}
	i := hc.findToken(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s not attached", device.ErrNoDevice, id)
	}
	hc.setStatus(id, device.StatusUnusable)
	hc.tokens = slices.Delete(hc.tokens, i, i+1)
	ev := s.deviceEventLocked(event.KindDeviceDetached, hc, id)
	s.mu.Unlock()

	s.logger.Debug("device detached", "host", ev.HostName, "device_id", id.String())
	s.events.Publish(ctx, ev)
	return nil
}

// LoadDevice loads the device publishing the named service. A device that
// is already loaded fails with ErrAlreadyInState and the host is not asked.
func (s *Service) LoadDevice(ctx context.Context, serviceName string) error {
	id, err := s.findByService(serviceName)
	if err != nil {
		return err
	}
	return s.activateDevice(ctx, id, true)
}

// UnloadDevice unloads the device publishing the named service.
func (s *Service) UnloadDevice(ctx context.Context, serviceName string) error {
	id, err := s.findByService(serviceName)
	if err != nil {
		return err
	}
	return s.activateDevice(ctx, id, false)
}

// LoadLeftDriver loads every device still deferred to the second pass.
// Failures are logged and the pass carries on; the joined failures are
// returned for diagnostics.
func (s *Service) LoadLeftDriver(ctx context.Context) error {
	s.mu.Lock()
	var ids []device.ID
	for _, hc := range s.hosts {
		for _, info := range hc.infos {
			if info.Preload == device.PreloadEnableStep2 {
				ids = append(ids, info.ID)
			}
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.activateDevice(ctx, id, true); err != nil {
			s.logger.Error("failed to load driver", "device_id", id.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) findByService(name string) (device.ID, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty service name", device.ErrInvalidParam)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, hc := range s.hosts {
		for _, info := range hc.infos {
			if info.ServiceName == name {
				return info.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: service %q", device.ErrNoDevice, name)
}

// activateDevice loads or unloads one device. Loading asks the host only
// when the device is not already enabled; unloading only when it is not
// already disabled. An unload always moves the device to disabled, even if
// the host could not find it. While one transition is at the host, a second
// one for the same device fails with ErrAlreadyInState.
func (s *Service) activateDevice(ctx context.Context, id device.ID, load bool) error {
	s.mu.Lock()
	hc := s.findHostLocked(id.HostID())
	var info *device.Info
	if hc != nil {
		info = hc.findInfo(id)
	}
	if info == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", device.ErrNoDevice, id)
	}
	svc := hc.service
	if svc == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: host %s is not attached", device.ErrNoHost, hc.name)
	}
	if (load && info.Preload == device.PreloadEnable) || (!load && info.Preload == device.PreloadDisable) {
		state := info.Preload
		s.mu.Unlock()
		return fmt.Errorf("%w: device %s is %s", device.ErrAlreadyInState, id, state)
	}
	if !hc.reserve(id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: device %s has a transition in progress", device.ErrAlreadyInState, id)
	}
	req := info.Clone()
	s.mu.Unlock()

	ev := event.Event{
		HostID:   hc.id,
		HostName: hc.name,
		DeviceID: id,
		Service:  req.ServiceName,
		Module:   req.ModuleName,
	}

	if load {
		ev.Kind = event.KindDeviceLoaded
		if err := svc.AddDevice(ctx, req); err != nil {
			s.settle(hc, id, false, 0)
			s.events.Publish(ctx, ev.WithErr(err))
			return fmt.Errorf("loading device %s: %w", id, err)
		}
		s.settle(hc, id, true, device.PreloadEnable)
		s.events.Publish(ctx, ev)
		return nil
	}

	ev.Kind = event.KindDeviceUnloaded
	if err := svc.DelDevice(ctx, id); err != nil {
		s.logger.Warn("host failed to delete device", "device_id", id.String(), "error", err)
		ev = ev.WithErr(err)
	}
	s.settle(hc, id, true, device.PreloadDisable)
	s.events.Publish(ctx, ev)
	return nil
}

// settle ends the transition reserved for id, storing p as its preload
// when commit is set.
func (s *Service) settle(hc *HostClient, id device.ID, commit bool, p device.Preload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(hc.busy, id)
	if !commit {
		return
	}
	if info := hc.findInfo(id); info != nil {
		info.Preload = p
	}
}

// PowerStateChange delivers a power state to every attached host. Wake
// states go in host-list order, every other state in reverse. All hosts are
// notified even if some fail; any failure is reported as ErrPowerNotify.
func (s *Service) PowerStateChange(ctx context.Context, state power.State) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: power state %d", device.ErrInvalidParam, int(state))
	}

	type target struct {
		name string
		svc  HostService
	}

	s.mu.Lock()
	targets := make([]target, 0, len(s.hosts))
	for _, hc := range s.hosts {
		if hc.service != nil {
			targets = append(targets, target{name: hc.name, svc: hc.service})
		}
	}
	s.mu.Unlock()

	if !state.IsWake() {
		slices.Reverse(targets)
	}
	s.logger.Info("power state change", "state", state.String(), "hosts", len(targets))

	var errs []error
	for _, t := range targets {
		if err := t.svc.PmNotify(ctx, state); err != nil {
			s.logger.Warn("host rejected power state", "host", t.name, "state", state.String(), "error", err)
			errs = append(errs, fmt.Errorf("host %s: %w", t.name, err))
		}
	}

	var result error
	if len(errs) > 0 {
		result = fmt.Errorf("%w: %s: %w", device.ErrPowerNotify, state, errors.Join(errs...))
	}
	s.events.Publish(ctx, event.Event{Kind: event.KindPowerChanged, PowerState: state.String()}.WithErr(result))
	return result
}

// Hosts returns a snapshot of every linked host in list order.
func (s *Service) Hosts() []HostSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]HostSnapshot, 0, len(s.hosts))
	for _, hc := range s.hosts {
		out = append(out, hc.snapshot())
	}
	return out
}

// Host returns a snapshot of one host.
func (s *Service) Host(hostID uint16) (HostSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hc := s.findHostLocked(hostID)
	if hc == nil {
		return HostSnapshot{}, fmt.Errorf("%w: %d", device.ErrNoHost, hostID)
	}
	return hc.snapshot(), nil
}

// Close unlinks every host client. Host processes are owned by the
// installer and are not stopped here.
func (s *Service) Close() {
	s.mu.Lock()
	n := len(s.hosts)
	s.hosts = nil
	s.mu.Unlock()

	s.logger.Info("device manager closed", "hosts", n)
}

func (s *Service) findHostLocked(id uint16) *HostClient {
	for _, hc := range s.hosts {
		if hc.id == id {
			return hc
		}
	}
	return nil
}

func (s *Service) unlinkLocked(hc *HostClient) {
	if i := slices.Index(s.hosts, hc); i >= 0 {
		s.hosts = slices.Delete(s.hosts, i, i+1)
	}
}

func (s *Service) deviceEventLocked(kind event.Kind, hc *HostClient, id device.ID) event.Event {
	ev := event.Event{Kind: kind, HostID: hc.id, HostName: hc.name, DeviceID: id}
	if info := hc.findInfo(id); info != nil {
		ev.Service = info.ServiceName
		ev.Module = info.ModuleName
	}
	return ev
}

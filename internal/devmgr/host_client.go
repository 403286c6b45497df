package devmgr

import (
	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// TokenClient is the manager's record of one attached device.
type TokenClient struct {
	token Token
}

// DeviceID returns the device the token stands for.
func (t *TokenClient) DeviceID() device.ID {
	return t.token.DeviceID()
}

// Token returns the wrapped device token.
func (t *TokenClient) Token() Token {
	return t.token
}

// HostClient is the manager's record of one device host.
//
// All fields are guarded by the owning Service's mutex.
type HostClient struct {
	id      uint16
	name    string
	pid     int
	infos   []*device.Info
	tokens  []*TokenClient // attach order
	service HostService

	// busy holds devices with a load or unload in flight at the host.
	busy map[device.ID]bool
}

func newHostClient(id uint16, name string) *HostClient {
	return &HostClient{id: id, name: name, busy: make(map[device.ID]bool)}
}

// reserve marks id as in flight. It reports false if it already was.
func (h *HostClient) reserve(id device.ID) bool {
	if h.busy[id] {
		return false
	}
	h.busy[id] = true
	return true
}

func (h *HostClient) findInfo(id device.ID) *device.Info {
	for _, info := range h.infos {
		if info.ID == id {
			return info
		}
	}
	return nil
}

func (h *HostClient) findToken(id device.ID) int {
	for i, t := range h.tokens {
		if t.DeviceID() == id {
			return i
		}
	}
	return -1
}

func (h *HostClient) setStatus(id device.ID, status device.ServiceStatus) bool {
	info := h.findInfo(id)
	if info == nil {
		return false
	}
	info.Status = status
	return true
}

// HostSnapshot is a read-only view of a host client.
type HostSnapshot struct {
	ID       uint16           `json:"id"`
	Name     string           `json:"name"`
	PID      int              `json:"pid"`
	Attached bool             `json:"attached"`
	Devices  []DeviceSnapshot `json:"devices"`
}

// DeviceSnapshot is a read-only view of one device descriptor.
type DeviceSnapshot struct {
	ID       string `json:"id"`
	Service  string `json:"service,omitempty"`
	Module   string `json:"module"`
	Policy   string `json:"policy"`
	Preload  string `json:"preload"`
	Status   string `json:"status"`
	Attached bool   `json:"attached"`
}

func (h *HostClient) snapshot() HostSnapshot {
	snap := HostSnapshot{
		ID:       h.id,
		Name:     h.name,
		PID:      h.pid,
		Attached: h.service != nil,
		Devices:  make([]DeviceSnapshot, 0, len(h.infos)),
	}
	for _, info := range h.infos {
		snap.Devices = append(snap.Devices, DeviceSnapshot{
			ID:       info.ID.String(),
			Service:  info.ServiceName,
			Module:   info.ModuleName,
			Policy:   info.Policy.String(),
			Preload:  info.Preload.String(),
			Status:   info.Status.String(),
			Attached: h.findToken(info.ID) >= 0,
		})
	}
	return snap
}

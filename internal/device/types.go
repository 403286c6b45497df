package device

import "fmt"

// Device identifier layout.
//
// A device ID packs the owning host in the high bits and the host-local
// device number in the low bits, so the host can always be recovered from
// the ID alone.
const (
	// localIDBits is the width of the host-local part of an ID.
	localIDBits = 16

	// localIDMask selects the host-local part of an ID.
	localIDMask = 1<<localIDBits - 1
)

// ID uniquely identifies one device node across all hosts.
type ID uint32

// MakeID builds a device ID from a host ID and a host-local device number.
func MakeID(hostID, localID uint16) ID {
	return ID(uint32(hostID)<<localIDBits | uint32(localID))
}

// HostID returns the host part of the ID.
func (id ID) HostID() uint16 {
	return uint16(uint32(id) >> localIDBits)
}

// LocalID returns the host-local part of the ID.
func (id ID) LocalID() uint16 {
	return uint16(uint32(id) & localIDMask)
}

// String renders the ID as host:local, which reads better in logs than the
// packed integer.
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.HostID(), id.LocalID())
}

// Policy controls where a device's service is published.
type Policy int

const (
	// PolicyNone means the device publishes no service at all.
	PolicyNone Policy = iota

	// PolicyPublic publishes the service to every client.
	PolicyPublic

	// PolicyCapacity publishes the service to capability-holding clients.
	PolicyCapacity

	// PolicyFriendly exposes the service to trusted in-framework callers only.
	PolicyFriendly

	// PolicyPrivate keeps the service inside the host.
	PolicyPrivate
)

// AllPolicies returns every recognised policy.
func AllPolicies() []Policy {
	return []Policy{PolicyNone, PolicyPublic, PolicyCapacity, PolicyFriendly, PolicyPrivate}
}

// RequiresBind reports whether a driver must provide Bind under this policy.
// Public and capacity services expose a driver service object, which only
// Bind can create.
func (p Policy) RequiresBind() bool {
	return p == PolicyPublic || p == PolicyCapacity
}

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyPublic:
		return "public"
	case PolicyCapacity:
		return "capacity"
	case PolicyFriendly:
		return "friendly"
	case PolicyPrivate:
		return "private"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range AllPolicies() {
		if p.String() == s {
			return p, nil
		}
	}
	return PolicyNone, fmt.Errorf("%w: policy %q", ErrInvalidParam, s)
}

// Preload describes when a device's driver is loaded.
type Preload int

const (
	// PreloadEnable loads the driver when its host attaches.
	PreloadEnable Preload = iota

	// PreloadEnableStep2 defers loading to the second pass (LoadLeftDriver).
	PreloadEnableStep2

	// PreloadDisable loads the driver only on explicit request.
	PreloadDisable
)

// AllPreloads returns every recognised preload mode.
func AllPreloads() []Preload {
	return []Preload{PreloadEnable, PreloadEnableStep2, PreloadDisable}
}

func (p Preload) String() string {
	switch p {
	case PreloadEnable:
		return "enable"
	case PreloadEnableStep2:
		return "enable_step2"
	case PreloadDisable:
		return "disable"
	default:
		return fmt.Sprintf("preload(%d)", int(p))
	}
}

// ParsePreload converts a configuration string to a Preload.
func ParsePreload(s string) (Preload, error) {
	for _, p := range AllPreloads() {
		if p.String() == s {
			return p, nil
		}
	}
	return PreloadDisable, fmt.Errorf("%w: preload %q", ErrInvalidParam, s)
}

// ServiceStatus is the manager's view of whether a device is usable.
type ServiceStatus int

const (
	// StatusUnusable is the initial state and the state after detach.
	StatusUnusable ServiceStatus = iota

	// StatusUsable is set once the device node has attached.
	StatusUsable
)

func (s ServiceStatus) String() string {
	if s == StatusUsable {
		return "usable"
	}
	return "unusable"
}

// Info is the static descriptor of one driver to be loaded.
//
// Infos are produced by the attribute source and owned by exactly one host
// client; the manager mutates Preload and Status in place.
type Info struct {
	ID          ID
	ServiceName string
	ModuleName  string
	MatchAttr   string
	Policy      Policy
	Preload     Preload
	Permission  uint32
	Status      ServiceStatus

	// Private is handed to the driver untouched.
	Private string
}

// Clone returns an independent copy of the Info.
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	cpy := *i
	return &cpy
}

// HostInfo describes one device host process.
type HostInfo struct {
	ID       uint16
	Name     string
	Priority int
}

// Token identifies a launched device to the manager. Any value that can
// report its device ID can be attached.
type Token interface {
	DeviceID() ID
}

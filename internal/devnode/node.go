package devnode

import (
	"context"
	"fmt"

	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/driver"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// Status is the lifecycle stage of a node.
type Status int

const (
	StatusNone Status = iota
	StatusInited
	StatusLaunched
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusInited:
		return "inited"
	case StatusLaunched:
		return "launched"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Logger defines the logging interface used by nodes.
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

// Manager is the device manager as seen from a node.
type Manager interface {
	AttachDevice(ctx context.Context, token device.Token) error
	DetachDevice(ctx context.Context, id device.ID) error
}

// ServiceRegistry is the framework-wide service table.
type ServiceRegistry interface {
	AddService(ctx context.Context, name string, id device.ID, svc any) error
	RemoveService(ctx context.Context, name string)
}

// LocalPublisher is the host's own table of services, visible to drivers
// in the same host regardless of policy.
type LocalPublisher interface {
	PublishService(name string, id device.ID, policy device.Policy, svc any) error
	RemoveService(name string)
}

// Ops are the replaceable steps of a node's lifecycle. A nil field keeps
// the default behaviour.
type Ops struct {
	Launch         func(ctx context.Context, n *Node) error
	PublishService func(ctx context.Context, n *Node) error
	RemoveService  func(ctx context.Context, n *Node)
}

// Deps are the collaborators a node talks to.
type Deps struct {
	Manager  Manager
	Services ServiceRegistry
	Host     LocalPublisher
	Tree     *attribute.Tree
	Logger   Logger
	Ops      Ops
}

// Node is one driver instance in a host.
//
// A Node is driven by its host and is not safe for concurrent use.
type Node struct {
	id         device.ID
	servName   string
	moduleName string
	policy     device.Policy
	permission uint32

	status     Status
	servStatus bool // published to the global registry
	localPub   bool // published to the host observer
	attached   bool

	entry      driver.Entry
	object     driver.Object
	token      *Token
	powerToken *power.Token

	ops    Ops
	deps   Deps
	logger Logger
}

// New builds an Inited node for the given descriptor and driver entry.
// A missing property subtree is not an error; the driver simply sees a nil
// Property.
func New(info *device.Info, entry driver.Entry, deps Deps) (*Node, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: nil device info", device.ErrInvalidParam)
	}

	n := &Node{
		id:         info.ID,
		servName:   info.ServiceName,
		moduleName: info.ModuleName,
		policy:     info.Policy,
		permission: info.Permission,
		entry:      entry,
		token:      &Token{id: info.ID},
		deps:       deps,
		logger:     deps.Logger,
	}
	if n.logger == nil {
		n.logger = noopLogger{}
	}

	n.ops = Ops{
		Launch:         launch,
		PublishService: publishPublicService,
		RemoveService:  removeService,
	}
	if deps.Ops.Launch != nil {
		n.ops.Launch = deps.Ops.Launch
	}
	if deps.Ops.PublishService != nil {
		n.ops.PublishService = deps.Ops.PublishService
	}
	if deps.Ops.RemoveService != nil {
		n.ops.RemoveService = deps.Ops.RemoveService
	}

	n.object = driver.Object{
		ID:     info.ID,
		Name:   info.ServiceName,
		Config: info.Private,
	}
	n.object.AddPowerStateListener = n.AddPowerStateListener
	n.object.Property = deps.Tree.GetNodeByMatchAttr(info.MatchAttr)
	if n.object.Property == nil {
		n.logger.Debug("node property empty",
			"module", info.ModuleName,
			"match_attr", info.MatchAttr,
		)
	}

	n.status = StatusInited
	return n, nil
}

// ID returns the device ID.
func (n *Node) ID() device.ID { return n.id }

// ServiceName returns the service name the node owns. Empty after Destroy.
func (n *Node) ServiceName() string { return n.servName }

// ModuleName returns the driver module that backs the node.
func (n *Node) ModuleName() string { return n.moduleName }

// Policy returns the publication policy.
func (n *Node) Policy() device.Policy { return n.policy }

// Status returns the lifecycle stage.
func (n *Node) Status() Status { return n.status }

// Published reports whether the service is in the global registry.
func (n *Node) Published() bool { return n.servStatus }

// Object returns the driver-facing device object.
func (n *Node) Object() *driver.Object { return &n.object }

// Token returns the device token, or nil once the node is destroyed.
func (n *Node) Token() *Token { return n.token }

// PowerToken returns the registered power token, if any.
func (n *Node) PowerToken() *power.Token { return n.powerToken }

// Launch runs the node's launch operation.
func (n *Node) Launch(ctx context.Context) error {
	return n.ops.Launch(ctx, n)
}

// launch is the default launch operation: bind, init, publish, attach.
// There are no retries and no rollback of earlier steps.
func launch(ctx context.Context, n *Node) error {
	n.logger.Info("launching device node", "service", n.servName, "device_id", n.id.String())

	if n.entry.Init == nil {
		return fmt.Errorf("%w: driver %q has no init", device.ErrInvalidParam, n.entry.ModuleName)
	}

	// Intentionally Launched before Bind and Init so Destroy releases a driver that failed either.
	n.status = StatusLaunched

	if n.policy.RequiresBind() {
		if n.entry.Bind == nil {
			n.logger.Error("driver bind method is nil, ignoring service publish", "module", n.entry.ModuleName)
			n.status = StatusNone
			return fmt.Errorf("%w: driver %q has no bind", device.ErrInvalidObject, n.entry.ModuleName)
		}
		if err := n.entry.Bind(&n.object); err != nil {
			n.logger.Error("bind driver failed", "module", n.entry.ModuleName, "error", err)
			return fmt.Errorf("%w: bind %s: %w", device.ErrDevInitFail, n.entry.ModuleName, err)
		}
	}

	if err := n.entry.Init(&n.object); err != nil {
		return fmt.Errorf("%w: init %s: %w", device.ErrDevInitFail, n.entry.ModuleName, err)
	}

	if err := n.PublishService(ctx); err != nil {
		return fmt.Errorf("%w: %w", device.ErrPublishFail, err)
	}

	if n.deps.Manager == nil {
		return fmt.Errorf("%w: no manager", device.ErrAttachFail)
	}
	if err := n.deps.Manager.AttachDevice(ctx, n.token); err != nil {
		return fmt.Errorf("%w: %w", device.ErrAttachFail, err)
	}
	n.attached = true
	return nil
}

// PublishService makes the node's service visible according to its policy.
// Public and capacity services go to the global registry first; the host's
// local table is only updated once that succeeds.
func (n *Node) PublishService(ctx context.Context) error {
	if n.policy == device.PolicyNone || n.servName == "" {
		return nil
	}

	if n.policy.RequiresBind() {
		if err := n.ops.PublishService(ctx, n); err != nil {
			return err
		}
	}
	return n.publishLocal()
}

func (n *Node) publishLocal() error {
	if n.deps.Host == nil {
		return fmt.Errorf("%w: no host service for %q", device.ErrInvalidObject, n.servName)
	}
	if err := n.deps.Host.PublishService(n.servName, n.id, n.policy, n.object.Service); err != nil {
		return err
	}
	n.localPub = true
	return nil
}

// publishPublicService is the default publish operation.
func publishPublicService(ctx context.Context, n *Node) error {
	if n.object.Service == nil {
		return fmt.Errorf("%w: %q has no service object", device.ErrInvalidObject, n.servName)
	}
	if n.deps.Services == nil {
		return fmt.Errorf("%w: no service registry", device.ErrInvalidObject)
	}
	if err := n.deps.Services.AddService(ctx, n.servName, n.id, n.object.Service); err != nil {
		return err
	}
	n.servStatus = true
	return nil
}

// removeService is the default remove operation.
func removeService(ctx context.Context, n *Node) {
	if !n.servStatus {
		return
	}
	n.deps.Services.RemoveService(ctx, n.servName)
	n.servStatus = false
}

// Destroy tears the node down in reverse lifecycle order. A Launched node
// is released, unpublished and detached first; then the power token and the
// service name are dropped. Calling Destroy again does nothing.
func (n *Node) Destroy(ctx context.Context) {
	if n.status >= StatusLaunched {
		n.logger.Info("releasing device node", "service", n.servName, "device_id", n.id.String())
		n.release(ctx)
		n.token = nil
	}
	if n.status >= StatusInited {
		n.uninit()
	}
}

// uninit drops what New set up.
func (n *Node) uninit() {
	n.powerToken = nil
	n.servName = ""
	n.status = StatusNone
}

func (n *Node) release(ctx context.Context) {
	if n.entry.Release != nil {
		n.entry.Release(&n.object)
	}

	n.ops.RemoveService(ctx, n)

	if n.localPub {
		n.deps.Host.RemoveService(n.servName)
		n.localPub = false
	}

	if n.attached {
		if err := n.deps.Manager.DetachDevice(ctx, n.id); err != nil {
			n.logger.Warn("detach device failed", "device_id", n.id.String(), "error", err)
		}
		n.attached = false
	}
}

// AddPowerStateListener registers the node's power listener. Only one
// listener may be registered at a time.
func (n *Node) AddPowerStateListener(l power.Listener) error {
	if n.powerToken != nil {
		return fmt.Errorf("%w: power listener for %s", device.ErrAlreadyRegistered, n.id)
	}
	n.powerToken = power.NewToken(l)
	return nil
}

// RemovePowerStateListener drops the registered power listener, if any.
func (n *Node) RemovePowerStateListener() {
	n.powerToken = nil
}

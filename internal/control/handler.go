package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/mqtt"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

const (
	commandTimeout = 30 * time.Second
	qos            = 1
)

// ErrUnknownCommand is returned for command names the handler does not serve.
var ErrUnknownCommand = errors.New("control: unknown command")

// Manager is the device manager surface commands act on.
type Manager interface {
	LoadDevice(ctx context.Context, serviceName string) error
	UnloadDevice(ctx context.Context, serviceName string) error
	LoadLeftDriver(ctx context.Context) error
	PowerStateChange(ctx context.Context, state power.State) error
	Hosts() []devmgr.HostSnapshot
}

// Broker is the MQTT surface the handler needs. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the handler.
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

// Handler dispatches MQTT commands to the device manager.
type Handler struct {
	mgr    Manager
	broker Broker
	topics mqtt.Topics
	logger Logger
	now    func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	listening bool
}

// NewHandler creates a command handler.
func NewHandler(mgr Manager, broker Broker, topics mqtt.Topics) *Handler {
	return &Handler{
		mgr:    mgr,
		broker: broker,
		topics: topics,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// Start subscribes to every command topic. Commands run under a context
// derived from ctx, cancelled by Stop.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listening {
		return nil
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	topic := h.topics.AllCommands()
	if err := h.broker.Subscribe(topic, qos, h.onMessage); err != nil {
		h.cancel()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	h.listening = true

	h.logger.Info("control listening", "topic", topic)
	return nil
}

// Stop unsubscribes, cancels in-flight commands and waits for them.
func (h *Handler) Stop() {
	h.mu.Lock()
	if !h.listening {
		h.mu.Unlock()
		return
	}
	h.listening = false
	h.cancel()
	h.mu.Unlock()

	if err := h.broker.Unsubscribe(h.topics.AllCommands()); err != nil {
		h.logger.Debug("control unsubscribe failed", "error", err)
	}
	h.wg.Wait()
}

func (h *Handler) onMessage(topic string, payload []byte) error {
	h.mu.Lock()
	ctx := h.ctx
	if !h.listening {
		h.mu.Unlock()
		return nil
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	name, ok := h.topics.CommandName(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrUnknownCommand, topic)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	return h.Handle(ctx, name, payload)
}

// Handle runs one command and publishes its reply. The returned error is
// the reply's publish error; command failures are reported in the reply.
func (h *Handler) Handle(ctx context.Context, name string, payload []byte) error {
	var req Request
	var err error
	if len(payload) > 0 {
		if jerr := json.Unmarshal(payload, &req); jerr != nil {
			err = fmt.Errorf("%w: %v", device.ErrInvalidParam, jerr)
		}
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	reply := Reply{ID: req.ID, Command: name}
	if err == nil {
		reply.Hosts, err = h.execute(ctx, name, req)
	}

	reply.OK = err == nil
	reply.Code = device.Code(err)
	if err != nil {
		reply.Error = err.Error()
		h.logger.Warn("control command failed",
			"command", name,
			"request_id", req.ID,
			"code", reply.Code,
			"error", err,
		)
	} else {
		h.logger.Info("control command done", "command", name, "request_id", req.ID)
	}
	reply.At = h.now().UTC()

	return h.publishReply(name, reply)
}

func (h *Handler) execute(ctx context.Context, name string, req Request) ([]devmgr.HostSnapshot, error) {
	switch name {
	case mqtt.CommandPower:
		state, err := power.Parse(req.State)
		if err != nil {
			return nil, err
		}
		return nil, h.mgr.PowerStateChange(ctx, state)

	case mqtt.CommandLoad:
		if req.Service == "" {
			return nil, fmt.Errorf("%w: service is required", device.ErrInvalidParam)
		}
		return nil, h.mgr.LoadDevice(ctx, req.Service)

	case mqtt.CommandUnload:
		if req.Service == "" {
			return nil, fmt.Errorf("%w: service is required", device.ErrInvalidParam)
		}
		return nil, h.mgr.UnloadDevice(ctx, req.Service)

	case mqtt.CommandLoadLeft:
		return nil, h.mgr.LoadLeftDriver(ctx)

	case CommandStatus:
		return h.mgr.Hosts(), nil

	default:
		return nil, fmt.Errorf("%w: %w %q", device.ErrInvalidParam, ErrUnknownCommand, name)
	}
}

func (h *Handler) publishReply(name string, reply Reply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	if err := h.broker.Publish(h.topics.Reply(name), payload, qos, false); err != nil {
		return fmt.Errorf("publishing reply: %w", err)
	}
	return nil
}

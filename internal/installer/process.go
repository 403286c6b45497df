package installer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/process"
)

// Placeholders expanded in host arguments and environment.
const (
	PlaceholderHostID   = "{host_id}"
	PlaceholderHostName = "{host_name}"
)

// HostTracker follows host processes as they start and exit.
type HostTracker interface {
	SetHostPID(hostID uint16, pid int) error
	DetachDeviceHost(ctx context.Context, hostID uint16) error
}

// ProcessConfig describes how host processes are launched.
type ProcessConfig struct {
	Binary  string
	Args    []string
	Env     []string
	WorkDir string

	RestartOnFailure   bool
	RestartDelay       time.Duration
	MaxRestartDelay    time.Duration
	MaxRestartAttempts int
	GracefulTimeout    time.Duration
	FatalExitCodes     []int

	Logger Logger
}

// Process starts each device host as a supervised child process.
type Process struct {
	cfg    ProcessConfig
	logger Logger

	mu       sync.Mutex
	tracker  HostTracker
	hosts    map[uint16]*process.Manager
}

// NewProcess creates a process installer.
func NewProcess(cfg ProcessConfig) *Process {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Process{
		cfg:    cfg,
		logger: logger,
		hosts:  make(map[uint16]*process.Manager),
	}
}

// Bind sets the manager that is told about host process starts and exits.
func (p *Process) Bind(t HostTracker) {
	p.mu.Lock()
	p.tracker = t
	p.mu.Unlock()
}

func (p *Process) boundTracker() HostTracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker
}

// StartHost launches the host process and returns its pid. The process
// lives until ctx is cancelled or StopAll is called.
func (p *Process) StartHost(ctx context.Context, hostID uint16, hostName string) (int, error) {
	if p.cfg.Binary == "" {
		return 0, ErrNoBinary
	}

	p.mu.Lock()
	if m, ok := p.hosts[hostID]; ok && m.Status() != process.StatusStopped && m.Status() != process.StatusFailed {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrHostRunning, hostName)
	}
	p.mu.Unlock()

	r := placeholders(hostID, hostName)
	mgr := process.NewManager(process.Config{
		Name:               hostName,
		Binary:             p.cfg.Binary,
		Args:               expand(r, p.cfg.Args),
		Env:                expand(r, p.cfg.Env),
		WorkDir:            p.cfg.WorkDir,
		RestartOnFailure:   p.cfg.RestartOnFailure,
		RestartDelay:       p.cfg.RestartDelay,
		MaxRestartDelay:    p.cfg.MaxRestartDelay,
		MaxRestartAttempts: p.cfg.MaxRestartAttempts,
		GracefulTimeout:    p.cfg.GracefulTimeout,
		FatalExitCodes:     p.cfg.FatalExitCodes,
		OnStart:            func(pid int) { p.hostStarted(hostID, pid) },
		OnStop:             func(err error) { p.hostExited(hostID, hostName, err) },
		OnRestart: func(attempt int) {
			p.logger.Info("restarting device host", "host_id", hostID, "host", hostName, "attempt", attempt)
		},
	})
	mgr.SetLogger(p.logger)

	if err := mgr.Start(ctx); err != nil {
		return 0, fmt.Errorf("starting host %s: %w", hostName, err)
	}

	p.mu.Lock()
	p.hosts[hostID] = mgr
	p.mu.Unlock()

	return mgr.PID(), nil
}

// hostStarted records the pid of every start, restarts included.
func (p *Process) hostStarted(hostID uint16, pid int) {
	t := p.boundTracker()
	if t == nil {
		return
	}
	if err := t.SetHostPID(hostID, pid); err != nil {
		p.logger.Debug("recording host pid", "host_id", hostID, "pid", pid, "error", err)
	}
}

// hostExited drops the manager's view of a host whose process is gone.
// Re-attaching after a restart is up to the host's transport.
func (p *Process) hostExited(hostID uint16, hostName string, exitErr error) {
	d := p.boundTracker()

	if exitErr != nil {
		p.logger.Warn("device host exited", "host_id", hostID, "host", hostName, "error", exitErr)
	}
	if d == nil {
		return
	}
	if err := d.DetachDeviceHost(context.Background(), hostID); err != nil {
		p.logger.Debug("detaching exited host", "host_id", hostID, "error", err)
	}
}

// Stats returns the supervisor statistics of every started host.
func (p *Process) Stats() map[uint16]process.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[uint16]process.Stats, len(p.hosts))
	for id, m := range p.hosts {
		out[id] = m.Stats()
	}
	return out
}

// StopAll stops every host process.
func (p *Process) StopAll() {
	p.mu.Lock()
	managers := make([]*process.Manager, 0, len(p.hosts))
	for _, m := range p.hosts {
		managers = append(managers, m)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Stop(); err != nil {
				p.logger.Error("stopping device host", "error", err)
			}
		}()
	}
	wg.Wait()
}

func placeholders(hostID uint16, hostName string) *strings.Replacer {
	return strings.NewReplacer(
		PlaceholderHostID, strconv.Itoa(int(hostID)),
		PlaceholderHostName, hostName,
	)
}

func expand(r *strings.Replacer, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.Replace(s)
	}
	return out
}

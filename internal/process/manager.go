package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
)

// Status represents the current state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

// Default supervision timings.
const (
	defaultRestartDelay    = 5 * time.Second
	defaultMaxRestartDelay = 5 * time.Minute
	defaultStableThreshold = 2 * time.Minute
	defaultGracefulTimeout = 10 * time.Second

	// maxLineLength bounds a single captured output line.
	maxLineLength = 64 * 1024
)

// Config holds configuration for a supervised process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments.
	Args []string

	// Env are extra KEY=value pairs appended to the parent environment.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// RestartOnFailure restarts the process after an unexpected exit.
	RestartOnFailure bool

	// RestartDelay is the first backoff delay; each further attempt doubles
	// it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last before the restart
	// counter resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// FatalExitCodes are exit codes that end supervision without restart.
	FatalExitCodes []int

	// OnStart is called with the pid after every successful start.
	OnStart func(pid int)

	// OnStop is called after every exit; err is nil for a requested stop.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)

	// Clock drives backoff and uptime. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns a Config with restart enabled and default timings.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		RestartDelay:       defaultRestartDelay,
		MaxRestartDelay:    defaultMaxRestartDelay,
		StableThreshold:    defaultStableThreshold,
		MaxRestartAttempts: 10,
		GracefulTimeout:    defaultGracefulTimeout,
	}
}

// Logger defines the logging interface for the process manager.
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

// Manager supervises one child process.
type Manager struct {
	config Config
	logger Logger
	clock  clock.Clock

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// NewManager creates a manager. Zero timings take their defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		clock:  clk,
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process and begins supervising it. It returns the
// start error directly; later exits are handled by the supervisor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting || m.status == StatusBackoff {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	cmd, err := m.spawn()
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx, cmd)
	return nil
}

// spawn starts one instance of the process.
func (m *Manager) spawn() (*exec.Cmd, error) {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from validated config

	// Own process group so Stop reaches the host's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = m.clock.Now()
	m.mu.Unlock()

	go m.captureLines("stdout", stdout)
	go m.captureLines("stderr", stderr)

	pid := cmd.Process.Pid
	m.logger.Info("process started", "name", m.config.Name, "pid", pid)
	if m.config.OnStart != nil {
		m.config.OnStart(pid)
	}
	return cmd, nil
}

// captureLines logs the child's output one line at a time.
func (m *Manager) captureLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineLength)
	for sc.Scan() {
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"line", sc.Text(),
		)
	}
}

// supervise waits for each run to end and decides whether to restart.
func (m *Manager) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer close(m.done)

	for {
		exitErr := m.wait(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		ranFor := m.clock.Since(m.startTime)
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped as requested", "name", m.config.Name)
			m.setStatus(StatusStopped, nil)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", exitErr, "ran_for", ranFor)
		m.setStatus(StatusFailed, exitErr)
		if m.config.OnStop != nil {
			m.config.OnStop(exitErr)
		}

		if !m.config.RestartOnFailure {
			return
		}
		if !IsRecoverable(exitErr) {
			m.logger.Error("process exit is not recoverable, giving up", "name", m.config.Name, "error", exitErr)
			return
		}

		attempt, ok := m.nextAttempt(ranFor)
		if !ok {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
		m.setStatus(StatusBackoff, exitErr)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		timer := m.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
			m.setStatus(StatusStopped, exitErr)
			return
		case <-m.stopCh:
			timer.Stop()
			m.setStatus(StatusStopped, exitErr)
			return
		case <-timer.C:
		}

		next, err := m.spawn()
		if err != nil {
			m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
			m.setStatus(StatusFailed, err)
			return
		}
		cmd = next
	}
}

// wait blocks until cmd exits. A cancelled ctx kills the process group.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	select {
	case err := <-exitCh:
		return m.classify(err)
	case <-ctx.Done():
		m.mu.Lock()
		m.stopRequested = true
		m.mu.Unlock()
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-exitCh
		return ctx.Err()
	}
}

// classify turns an exit status into an ExitError.
func (m *Manager) classify(err error) error {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	return &ExitError{
		Name:  m.config.Name,
		Code:  code,
		Fatal: slices.Contains(m.config.FatalExitCodes, code),
		Err:   err,
	}
}

// nextAttempt bumps the restart counter, resetting it first if the last run
// was stable. It reports false once the attempt limit is exceeded.
func (m *Manager) nextAttempt(ranFor time.Duration) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ranFor >= m.config.StableThreshold {
		m.restartCount = 0
	}
	m.restartCount++
	attempt := m.restartCount
	if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
		return attempt, false
	}
	return attempt, true
}

// calculateBackoffDelay returns RestartDelay doubled per attempt, capped at
// MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	m.status = s
	if err != nil {
		m.lastError = err
	}
	m.mu.Unlock()
}

// Stop ends supervision: SIGTERM to the process group, then SIGKILL after
// GracefulTimeout. Stopping a manager that is not running is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status == StatusStopped || m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stopCh)
	}
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-m.clock.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error of the most recent exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the consecutive restart count.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current run has lasted, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return m.clock.Since(m.startTime)
}

// PID returns the process ID of the current run, or 0.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time view of a supervised process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.Uptime = m.clock.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}

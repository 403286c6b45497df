package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestNewManager_Defaults(t *testing.T) {
	cfg := Config{
		Name:   "sample_host",
		Binary: "/usr/bin/devhost",
		Args:   []string{"--host-id", "1"},
	}

	m := NewManager(cfg)

	if m.config.Name != "sample_host" {
		t.Errorf("Name = %q, want %q", m.config.Name, "sample_host")
	}
	if m.config.Binary != "/usr/bin/devhost" {
		t.Errorf("Binary = %q, want %q", m.config.Binary, "/usr/bin/devhost")
	}
	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
}

func TestNewManager_CustomConfig(t *testing.T) {
	cfg := Config{
		Name:               "uart_host",
		Binary:             "/opt/bin/devhost",
		Args:               []string{"--host-id", "2", "--host-name", "uart_host"},
		RestartDelay:       10 * time.Second,
		MaxRestartDelay:    10 * time.Minute,
		StableThreshold:    5 * time.Minute,
		GracefulTimeout:    30 * time.Second,
		MaxRestartAttempts: 20,
	}

	m := NewManager(cfg)

	if m.config.RestartDelay != 10*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 10*time.Second)
	}
	if m.config.MaxRestartDelay != 10*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 10*time.Minute)
	}
	if m.config.MaxRestartAttempts != 20 {
		t.Errorf("MaxRestartAttempts = %d, want 20", m.config.MaxRestartAttempts)
	}
}

func TestDefaultConfig_Function(t *testing.T) {
	cfg := DefaultConfig("i2c_host", "/usr/bin/devhost", []string{"--host-name=i2c_host"})

	if cfg.Name != "i2c_host" {
		t.Errorf("Name = %q, want %q", cfg.Name, "i2c_host")
	}
	if cfg.Binary != "/usr/bin/devhost" {
		t.Errorf("Binary = %q, want %q", cfg.Binary, "/usr/bin/devhost")
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "--host-name=i2c_host" {
		t.Errorf("Args = %v, want [--host-name=i2c_host]", cfg.Args)
	}
	if cfg.RestartDelay != defaultRestartDelay {
		t.Errorf("RestartDelay = %v, want %v", cfg.RestartDelay, defaultRestartDelay)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
	if m.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", m.Uptime())
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(Config{
		Name:   "stats-test",
		Binary: "/bin/echo",
	})

	stats := m.Stats()
	if stats.Name != "stats-test" {
		t.Errorf("Stats.Name = %q, want %q", stats.Name, "stats-test")
	}
	if stats.Status != StatusStopped {
		t.Errorf("Stats.Status = %q, want %q", stats.Status, StatusStopped)
	}
	if stats.PID != 0 {
		t.Errorf("Stats.PID = %d, want 0", stats.PID)
	}
	if stats.RestartCount != 0 {
		t.Errorf("Stats.RestartCount = %d, want 0", stats.RestartCount)
	}
	if stats.LastError != "" {
		t.Errorf("Stats.LastError = %q, want empty", stats.LastError)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	// Stopping a non-running process should be a no-op
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/sleep",
		Args:   []string{"10"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the process
	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop()

	// Starting again should fail
	err := m.Start(ctx)
	if err == nil {
		t.Error("second Start() expected error, got nil")
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Verify running state
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.PID() == 0 {
		t.Error("PID() = 0 after Start()")
	}
	if m.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusRunning)
	}

	// Stop the process
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	// Give the monitor goroutine time to update state
	time.Sleep(100 * time.Millisecond)

	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{
		Name:   "bad-binary",
		Binary: "/nonexistent/binary",
	})

	ctx := context.Background()
	err := m.Start(ctx)
	if err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_SetLogger(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	// Should not panic
	m.SetLogger(noopLogger{})
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // First attempt: base delay
		{2, 2 * time.Second},  // 2nd: 1s * 2
		{3, 4 * time.Second},  // 3rd: 1s * 4
		{4, 8 * time.Second},  // 4th: 1s * 8
		{5, 16 * time.Second}, // 5th: 1s * 16
		{6, 30 * time.Second}, // 6th: capped at max
		{7, 30 * time.Second}, // 7th: stays at max
	}

	for _, tt := range tests {
		got := m.calculateBackoffDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error is recoverable", func(t *testing.T) {
		if !IsRecoverable(nil) {
			t.Error("IsRecoverable(nil) = false, want true")
		}
	})

	t.Run("plain error is recoverable", func(t *testing.T) {
		err := context.DeadlineExceeded
		if !IsRecoverable(err) {
			t.Error("plain error should be recoverable by default")
		}
	})

	t.Run("recoverable error interface", func(t *testing.T) {
		err := &testRecoverableError{recoverable: true}
		if !IsRecoverable(err) {
			t.Error("recoverable error should return true")
		}
	})

	t.Run("non-recoverable error interface", func(t *testing.T) {
		err := &testRecoverableError{recoverable: false}
		if IsRecoverable(err) {
			t.Error("non-recoverable error should return false")
		}
	})
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }

func TestExitError_Recoverable(t *testing.T) {
	fatal := &ExitError{Name: "h", Code: 2, Fatal: true}
	if IsRecoverable(fatal) {
		t.Error("fatal exit should not be recoverable")
	}
	wrapped := fmt.Errorf("host died: %w", &ExitError{Name: "h", Code: 1})
	if !IsRecoverable(wrapped) {
		t.Error("non-fatal exit should be recoverable through wrapping")
	}
	if got := fatal.Error(); got != "process h exited with code 2" {
		t.Errorf("Error() = %q", got)
	}
}

func TestManager_OnStartCallback(t *testing.T) {
	var pid atomic.Int64
	m := NewManager(Config{
		Name:   "callback-test",
		Binary: "/bin/sleep",
		Args:   []string{"60"},
		OnStart: func(p int) {
			pid.Store(int64(p))
		},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if pid.Load() == 0 {
		t.Fatal("OnStart callback was not called")
	}
	if int(pid.Load()) != m.PID() {
		t.Errorf("OnStart pid = %d, PID() = %d", pid.Load(), m.PID())
	}
}

func TestManager_OnStopReportsExit(t *testing.T) {
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:   "exit-test",
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 3"},
		OnStop: func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case err := <-stopped:
		var ee *ExitError
		if !errors.As(err, &ee) {
			t.Fatalf("OnStop err = %v, want *ExitError", err)
		}
		if ee.Code != 3 {
			t.Errorf("exit code = %d, want 3", ee.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnStop not called")
	}
}

func TestManager_RestartsAfterFailure(t *testing.T) {
	var starts atomic.Int32
	restarted := make(chan int, 4)
	m := NewManager(Config{
		Name:               "flaky",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 1"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnStart:            func(int) { starts.Add(1) },
		OnRestart:          func(attempt int) { restarted <- attempt },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for want := 1; want <= 2; want++ {
		select {
		case got := <-restarted:
			if got != want {
				t.Errorf("restart attempt = %d, want %d", got, want)
			}
		case <-deadline:
			t.Fatalf("restart %d not observed", want)
		}
	}

	// Wait for supervision to give up.
	<-m.done
	if got := starts.Load(); got != 3 {
		t.Errorf("starts = %d, want 3", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_FatalExitNotRestarted(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:             "misconfigured",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 2"},
		RestartOnFailure: true,
		RestartDelay:     10 * time.Millisecond,
		FatalExitCodes:   []int{2},
		OnRestart:        func(int) { restarts.Add(1) },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-m.done

	if restarts.Load() != 0 {
		t.Errorf("restarts = %d, want 0", restarts.Load())
	}
	if IsRecoverable(m.LastError()) {
		t.Errorf("LastError() = %v, want unrecoverable", m.LastError())
	}
}

func TestManager_NextAttemptResetsWhenStable(t *testing.T) {
	m := NewManager(Config{
		Name:               "stable",
		Binary:             "/bin/true",
		StableThreshold:    time.Minute,
		MaxRestartAttempts: 2,
	})

	if n, ok := m.nextAttempt(time.Second); n != 1 || !ok {
		t.Fatalf("nextAttempt = %d, %v; want 1, true", n, ok)
	}
	if n, ok := m.nextAttempt(time.Second); n != 2 || !ok {
		t.Fatalf("nextAttempt = %d, %v; want 2, true", n, ok)
	}
	if _, ok := m.nextAttempt(time.Second); ok {
		t.Fatal("third short-lived attempt should exceed the limit")
	}
	if n, ok := m.nextAttempt(2 * time.Minute); n != 1 || !ok {
		t.Errorf("after stable run nextAttempt = %d, %v; want 1, true", n, ok)
	}
}

func TestManager_StopDuringBackoff(t *testing.T) {
	backoff := make(chan struct{}, 1)
	m := NewManager(Config{
		Name:             "slow-restart",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 1"},
		RestartOnFailure: true,
		RestartDelay:     time.Hour,
		MaxRestartDelay:  time.Hour,
		OnRestart:        func(int) { backoff <- struct{}{} },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	select {
	case <-backoff:
	case <-time.After(5 * time.Second):
		t.Fatal("backoff not reached")
	}

	done := make(chan error, 1)
	go func() { done <- m.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked during backoff")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_BackoffFollowsClock(t *testing.T) {
	mock := clock.NewMock()
	var starts atomic.Int32
	m := NewManager(Config{
		Name:             "clocked",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 1"},
		RestartOnFailure: true,
		RestartDelay:     time.Minute,
		MaxRestartDelay:  time.Minute,
		OnStart:          func(int) { starts.Add(1) },
		Clock:            mock,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() {
		if err := m.Stop(); err != nil {
			t.Errorf("Stop() error: %v", err)
		}
	}()

	// Without the clock moving, the first run is the only run.
	deadline := time.Now().Add(5 * time.Second)
	for m.Status() != StatusBackoff {
		if time.Now().After(deadline) {
			t.Fatalf("backoff not reached, status %q", m.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := starts.Load(); got != 1 {
		t.Fatalf("starts before clock advance = %d, want 1", got)
	}

	// The supervisor may not have armed its timer yet, so keep advancing.
	for starts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("restart not observed after advancing the clock")
		}
		mock.Add(time.Minute)
		time.Sleep(5 * time.Millisecond)
	}
}

package installer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/process"
)

type recordingTracker struct {
	mu     sync.Mutex
	calls  []uint16
	pids   []int
	notify chan uint16
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{notify: make(chan uint16, 8)}
}

func (d *recordingTracker) SetHostPID(_ uint16, pid int) error {
	d.mu.Lock()
	d.pids = append(d.pids, pid)
	d.mu.Unlock()
	return nil
}

func (d *recordingTracker) startedPIDs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.pids...)
}

func (d *recordingTracker) DetachDeviceHost(_ context.Context, hostID uint16) error {
	d.mu.Lock()
	d.calls = append(d.calls, hostID)
	d.mu.Unlock()
	d.notify <- hostID
	return nil
}

func TestExpandPlaceholders(t *testing.T) {
	r := placeholders(7, "uart_host")
	got := expand(r, []string{"--host-id={host_id}", "--name", "{host_name}", "plain"})
	want := []string{"--host-id=7", "--name", "uart_host", "plain"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if expand(r, nil) != nil {
		t.Error("expand(nil) should stay nil")
	}
}

func TestProcess_NoBinary(t *testing.T) {
	p := NewProcess(ProcessConfig{})
	if _, err := p.StartHost(context.Background(), 1, "sample_host"); !errors.Is(err, ErrNoBinary) {
		t.Errorf("StartHost() error = %v, want ErrNoBinary", err)
	}
}

func TestProcess_StartAndStopAll(t *testing.T) {
	p := NewProcess(ProcessConfig{
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})
	d := newRecordingTracker()
	p.Bind(d)

	pid, err := p.StartHost(context.Background(), 1, "sample_host")
	if err != nil {
		t.Fatalf("StartHost() error = %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d, want > 0", pid)
	}
	if got := d.startedPIDs(); len(got) != 1 || got[0] != pid {
		t.Errorf("reported pids = %v, want [%d]", got, pid)
	}

	if _, err := p.StartHost(context.Background(), 1, "sample_host"); !errors.Is(err, ErrHostRunning) {
		t.Errorf("second StartHost() error = %v, want ErrHostRunning", err)
	}

	stats := p.Stats()
	if stats[1].Status != process.StatusRunning {
		t.Errorf("Stats()[1].Status = %q, want running", stats[1].Status)
	}

	p.StopAll()

	select {
	case id := <-d.notify:
		if id != 1 {
			t.Errorf("detached host = %d, want 1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host not detached after StopAll")
	}
	if p.Stats()[1].Status != process.StatusStopped {
		t.Errorf("status after StopAll = %q, want stopped", p.Stats()[1].Status)
	}
}

func TestProcess_ExitDetachesHost(t *testing.T) {
	p := NewProcess(ProcessConfig{
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 1"},
	})
	d := newRecordingTracker()
	p.Bind(d)

	if _, err := p.StartHost(context.Background(), 3, "flaky_host"); err != nil {
		t.Fatalf("StartHost() error = %v", err)
	}

	select {
	case id := <-d.notify:
		if id != 3 {
			t.Errorf("detached host = %d, want 3", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exited host was not detached")
	}
}

func TestProcess_RestartReportsPID(t *testing.T) {
	p := NewProcess(ProcessConfig{
		Binary:             "/bin/sh",
		Args:               []string{"-c", "sleep 0.1; exit 1"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    10 * time.Millisecond,
		MaxRestartAttempts: 1,
	})
	d := newRecordingTracker()
	p.Bind(d)
	defer p.StopAll()

	if _, err := p.StartHost(context.Background(), 2, "uart_host"); err != nil {
		t.Fatalf("StartHost() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(d.startedPIDs()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reported pids = %v, want a second pid after restart", d.startedPIDs())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProcess_BadBinary(t *testing.T) {
	p := NewProcess(ProcessConfig{Binary: "/nonexistent/devhost"})
	if _, err := p.StartHost(context.Background(), 1, "sample_host"); err == nil {
		t.Fatal("StartHost() with missing binary expected error")
	}
}

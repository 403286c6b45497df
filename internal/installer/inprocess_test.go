package installer

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/driver"
	"github.com/nerrad567/hdf-devmgr/internal/power"
	"github.com/nerrad567/hdf-devmgr/internal/svcmgr"
)

const hostsDoc = `
hosts:
  - id: 1
    name: sample_host
    devices:
      - local_id: 1
        service: sample_service
        module: sample_driver
        policy: public
        match_attr: sample_config
      - local_id: 2
        service: lazy_service
        module: sample_driver
        policy: public
        preload: disable
  - id: 2
    name: uart_host
    devices:
      - local_id: 1
        service: uart_service
        module: uart_driver
        policy: capacity
properties:
  sample:
    match_attr: sample_config
    rate: 9600
`

type sampleService struct {
	rate uint32
}

func testDrivers(t *testing.T, suspends *[]string) *driver.Registry {
	t.Helper()
	reg := driver.NewRegistry()
	for _, module := range []string{"sample_driver", "uart_driver"} {
		err := reg.Register(driver.Entry{
			ModuleName: module,
			Bind: func(obj *driver.Object) error {
				svc := &sampleService{}
				if obj.Property != nil {
					rate, err := obj.Property.Uint32("rate")
					if err != nil {
						return err
					}
					svc.rate = rate
				}
				obj.Service = svc
				return nil
			},
			Init: func(obj *driver.Object) error {
				name := obj.Name
				return obj.AddPowerStateListener(power.Listener{
					Suspend: func() error {
						*suspends = append(*suspends, name)
						return nil
					},
				})
			},
		})
		if err != nil {
			t.Fatalf("Register(%s) error = %v", module, err)
		}
	}
	return reg
}

func startInProcess(t *testing.T) (*devmgr.Service, *InProcess, *svcmgr.Registry, *[]string) {
	t.Helper()
	src, err := attribute.Parse([]byte(hostsDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var suspends []string
	svcs := svcmgr.NewRegistry()
	inst := NewInProcess(InProcessConfig{
		Drivers:  testDrivers(t, &suspends),
		Services: svcs,
		Tree:     src.Tree(),
	})
	mgr, err := devmgr.NewService(devmgr.Config{Attributes: src, Installer: inst})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	inst.Bind(mgr)

	if err := mgr.StartService(context.Background()); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	return mgr, inst, svcs, &suspends
}

func TestInProcess_StartServiceAttachesHosts(t *testing.T) {
	mgr, inst, svcs, _ := startInProcess(t)

	hosts := mgr.Hosts()
	if len(hosts) != 2 {
		t.Fatalf("Hosts() = %d, want 2", len(hosts))
	}
	for _, h := range hosts {
		if !h.Attached {
			t.Errorf("host %s not attached", h.Name)
		}
		if h.PID != os.Getpid() {
			t.Errorf("host %s pid = %d, want %d", h.Name, h.PID, os.Getpid())
		}
	}

	sample := hosts[0].Devices
	if sample[0].Status != "usable" || !sample[0].Attached {
		t.Errorf("sample_service = %+v, want usable and attached", sample[0])
	}
	if sample[1].Status != "unusable" || sample[1].Attached {
		t.Errorf("lazy_service = %+v, want unusable and detached", sample[1])
	}

	entry, ok := svcs.Lookup("sample_service")
	if !ok {
		t.Fatal("sample_service not published")
	}
	if got := entry.Service.(*sampleService).rate; got != 9600 {
		t.Errorf("rate = %d, want 9600 from property tree", got)
	}
	if _, ok := svcs.Lookup("lazy_service"); ok {
		t.Error("disabled device should not be published")
	}

	if _, err := inst.Host(2); err != nil {
		t.Errorf("Host(2) error = %v", err)
	}
	if _, err := inst.Host(9); !errors.Is(err, device.ErrNoHost) {
		t.Errorf("Host(9) error = %v, want ErrNoHost", err)
	}
}

func TestInProcess_LoadUnload(t *testing.T) {
	mgr, _, svcs, _ := startInProcess(t)
	ctx := context.Background()

	if err := mgr.LoadDevice(ctx, "lazy_service"); err != nil {
		t.Fatalf("LoadDevice() error = %v", err)
	}
	if _, ok := svcs.Lookup("lazy_service"); !ok {
		t.Error("lazy_service not published after load")
	}

	if err := mgr.UnloadDevice(ctx, "lazy_service"); err != nil {
		t.Fatalf("UnloadDevice() error = %v", err)
	}
	if _, ok := svcs.Lookup("lazy_service"); ok {
		t.Error("lazy_service still published after unload")
	}

	snap, err := mgr.Host(1)
	if err != nil {
		t.Fatalf("Host(1) error = %v", err)
	}
	if d := snap.Devices[1]; d.Attached || d.Preload != "disable" {
		t.Errorf("lazy_service after unload = %+v", d)
	}
}

func TestInProcess_PowerSuspendReverseOrder(t *testing.T) {
	mgr, _, _, suspends := startInProcess(t)

	if err := mgr.PowerStateChange(context.Background(), power.StateSuspend); err != nil {
		t.Fatalf("PowerStateChange() error = %v", err)
	}
	want := []string{"uart_service", "sample_service"}
	if len(*suspends) != len(want) {
		t.Fatalf("suspends = %v, want %v", *suspends, want)
	}
	for i := range want {
		if (*suspends)[i] != want[i] {
			t.Errorf("suspends[%d] = %q, want %q", i, (*suspends)[i], want[i])
		}
	}
}

func TestInProcess_StopAll(t *testing.T) {
	mgr, inst, svcs, _ := startInProcess(t)

	inst.StopAll(context.Background())

	if names := svcs.Names(); len(names) != 0 {
		t.Errorf("services after StopAll = %v, want none", names)
	}
	for _, h := range mgr.Hosts() {
		for _, d := range h.Devices {
			if d.Attached {
				t.Errorf("device %s still attached", d.ID)
			}
		}
	}
	if _, err := inst.Host(1); !errors.Is(err, device.ErrNoHost) {
		t.Errorf("Host(1) after StopAll error = %v, want ErrNoHost", err)
	}
}

func TestInProcess_NotBound(t *testing.T) {
	inst := NewInProcess(InProcessConfig{Drivers: driver.NewRegistry()})
	if _, err := inst.StartHost(context.Background(), 1, "sample_host"); !errors.Is(err, ErrNotBound) {
		t.Errorf("StartHost() error = %v, want ErrNotBound", err)
	}
}

func TestInProcess_DuplicateHost(t *testing.T) {
	_, inst, _, _ := startInProcess(t)
	if _, err := inst.StartHost(context.Background(), 1, "sample_host"); !errors.Is(err, ErrHostRunning) {
		t.Errorf("StartHost() error = %v, want ErrHostRunning", err)
	}
}

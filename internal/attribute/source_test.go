package attribute

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

const sampleDoc = `
hosts:
  - id: 2
    name: late_host
    priority: 90
    devices:
      - service: late_service
        module: late_driver
  - id: 1
    name: sample_host
    priority: 10
    devices:
      - local_id: 5
        service: second
        module: second_driver
        policy: capacity
        preload: enable_step2
        priority: 20
      - local_id: 3
        service: first
        module: first_driver
        policy: public
        match_attr: sample_config
        priority: 10
        private: "opaque"
properties:
  platform:
    uart:
      match_attr: sample_config
      baud_rate: 115200
      name: "uart0"
    spi:
      match_attr: spi_config
      bus: 0
`

func TestParse_HostOrder(t *testing.T) {
	src, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	hosts, err := src.GetHostList(context.Background())
	if err != nil {
		t.Fatalf("GetHostList() error = %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("len(hosts) = %d, want 2", len(hosts))
	}
	if hosts[0].Name != "sample_host" || hosts[1].Name != "late_host" {
		t.Errorf("host order = [%s %s], want [sample_host late_host]", hosts[0].Name, hosts[1].Name)
	}
}

func TestParse_DeviceList(t *testing.T) {
	src, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	devs, err := src.GetDeviceList(context.Background(), 1, "sample_host")
	if err != nil {
		t.Fatalf("GetDeviceList() error = %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("len(devs) = %d, want 2", len(devs))
	}

	first := devs[0]
	if first.ServiceName != "first" {
		t.Errorf("devs[0].ServiceName = %q, want %q (priority order)", first.ServiceName, "first")
	}
	if first.ID != device.MakeID(1, 3) {
		t.Errorf("devs[0].ID = %s, want 1:3", first.ID)
	}
	if first.Policy != device.PolicyPublic || first.Preload != device.PreloadEnable {
		t.Errorf("devs[0] policy/preload = %s/%s, want public/enable", first.Policy, first.Preload)
	}
	if first.Private != "opaque" {
		t.Errorf("devs[0].Private = %q, want %q", first.Private, "opaque")
	}
	if devs[1].Preload != device.PreloadEnableStep2 {
		t.Errorf("devs[1].Preload = %s, want enable_step2", devs[1].Preload)
	}

	// Default local ids follow list position.
	late, err := src.GetDeviceList(context.Background(), 2, "late_host")
	if err != nil {
		t.Fatalf("GetDeviceList(late_host) error = %v", err)
	}
	if late[0].ID != device.MakeID(2, 1) {
		t.Errorf("late[0].ID = %s, want 2:1", late[0].ID)
	}
}

func TestGetDeviceList_ReturnsCopies(t *testing.T) {
	src, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	a, _ := src.GetDeviceList(context.Background(), 1, "sample_host")
	a[0].Status = device.StatusUsable

	b, _ := src.GetDeviceList(context.Background(), 1, "sample_host")
	if b[0].Status != device.StatusUnusable {
		t.Error("mutating a returned Info leaked into the source")
	}
}

func TestGetDeviceList_UnknownHost(t *testing.T) {
	src, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if _, err := src.GetDeviceList(context.Background(), 9, "nope"); !errors.Is(err, device.ErrNoHost) {
		t.Errorf("GetDeviceList(unknown) error = %v, want ErrNoHost", err)
	}
	if _, err := src.GetDeviceList(context.Background(), 1, "wrong_name"); !errors.Is(err, device.ErrNoHost) {
		t.Errorf("GetDeviceList(name mismatch) error = %v, want ErrNoHost", err)
	}
}

func TestTree_GetNodeByMatchAttr(t *testing.T) {
	src, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	n := src.Tree().GetNodeByMatchAttr("sample_config")
	if n == nil {
		t.Fatal("GetNodeByMatchAttr(sample_config) = nil")
	}
	if n.Name != "uart" {
		t.Errorf("node name = %q, want %q", n.Name, "uart")
	}
	baud, err := n.Uint32("baud_rate")
	if err != nil || baud != 115200 {
		t.Errorf("Uint32(baud_rate) = %d, %v; want 115200", baud, err)
	}
	if name, ok := n.String("name"); !ok || name != "uart0" {
		t.Errorf("String(name) = %q, %v; want uart0", name, ok)
	}
	if n.Parent == nil || n.Parent.Name != "platform" {
		t.Error("uart node parent is not platform")
	}
	if keys := n.Keys(); len(keys) != 2 || keys[0] != "baud_rate" {
		t.Errorf("Keys() = %v, want [baud_rate name]", keys)
	}

	if src.Tree().GetNodeByMatchAttr("absent") != nil {
		t.Error("GetNodeByMatchAttr(absent) != nil")
	}
	if src.Tree().GetNodeByMatchAttr("") != nil {
		t.Error("GetNodeByMatchAttr(\"\") != nil")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate host", "hosts:\n  - {id: 1, name: a}\n  - {id: 1, name: b}\n"},
		{"host without name", "hosts:\n  - {id: 1}\n"},
		{"bad policy", "hosts:\n  - id: 1\n    name: a\n    devices:\n      - {module: m, policy: everyone}\n"},
		{"duplicate service", "hosts:\n  - id: 1\n    name: a\n    devices:\n      - {module: m, service: s}\n      - {module: n, service: s}\n"},
		{"duplicate local id", "hosts:\n  - id: 1\n    name: a\n    devices:\n      - {module: m, local_id: 2}\n      - {module: n, local_id: 2}\n"},
		{"missing module", "hosts:\n  - id: 1\n    name: a\n    devices:\n      - {service: s}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !errors.Is(err, device.ErrInvalidParam) {
				t.Errorf("Parse() error = %v, want ErrInvalidParam", err)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("hosts: [unclosed")); err == nil {
		t.Error("Parse() error = nil, want yaml error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0600); err != nil {
		t.Fatalf("writing attribute file: %v", err)
	}

	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	hosts, _ := src.GetHostList(context.Background())
	if len(hosts) != 2 {
		t.Errorf("len(hosts) = %d, want 2", len(hosts))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) error = nil")
	}
}

func TestParse_NoProperties(t *testing.T) {
	src, err := Parse([]byte("hosts: []\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if src.Tree() == nil {
		t.Fatal("Tree() = nil")
	}
	if src.Tree().GetNodeByMatchAttr("x") != nil {
		t.Error("empty tree matched a node")
	}
}

package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

func TestManagerAdd(t *testing.T) {
	m := NewManager("i2c")
	d := NewDevice(0, "i2c0")

	var events []EventType
	_ = d.RegisterNotifier(&Notifier{Handle: func(_ *Device, ev EventType, _ any) {
		events = append(events, ev)
	}})

	if err := m.Add(context.Background(), d); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !d.Ready() {
		t.Error("device not ready after Add")
	}
	if d.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1 (manager reference)", d.Refs())
	}
	if d.Manager() != m {
		t.Error("device not linked to manager")
	}
	if len(events) != 1 || events[0] != EventInit {
		t.Errorf("events = %v, want [init]", events)
	}
}

func TestManagerAdd_Duplicate(t *testing.T) {
	m := NewManager("i2c")
	ctx := context.Background()
	_ = m.Add(ctx, NewDevice(0, "i2c0"))

	if err := m.Add(ctx, NewDevice(0, "i2c0-again")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Add(dup number) error = %v, want ErrDeviceExists", err)
	}
	if len(m.Devices()) != 1 {
		t.Errorf("Devices() len = %d, want 1", len(m.Devices()))
	}

	d := NewDevice(5, "i2c5")
	_ = m.Add(ctx, d)
	other := NewManager("spi")
	if err := other.Add(ctx, d); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Add(linked elsewhere) error = %v, want ErrDeviceExists", err)
	}

	if err := m.Add(ctx, nil); !errors.Is(err, device.ErrInvalidParam) {
		t.Errorf("Add(nil) error = %v, want ErrInvalidParam", err)
	}
}

func TestManagerAdd_HookVeto(t *testing.T) {
	m := NewManager("gpio")
	m.AddHook = func(_ *Manager, d *Device) error {
		if d.Number > 3 {
			return errors.New("controller supports 4 banks")
		}
		return nil
	}

	if err := m.Add(context.Background(), NewDevice(4, "gpio4")); err == nil {
		t.Error("Add() error = nil, want hook veto")
	}
	if len(m.Devices()) != 0 {
		t.Error("vetoed device was linked")
	}
}

func TestManagerDel(t *testing.T) {
	m := NewManager("uart")
	d := NewDevice(0, "uart0")
	ctx := context.Background()

	var events []EventType
	_ = d.RegisterNotifier(&Notifier{Handle: func(_ *Device, ev EventType, _ any) {
		events = append(events, ev)
	}})
	unlinked := false
	m.DelHook = func(*Manager, *Device) { unlinked = true }

	_ = m.Add(ctx, d)
	if err := m.Del(ctx, d); err != nil {
		t.Fatalf("Del() error = %v", err)
	}

	if d.Ready() {
		t.Error("device ready after Del")
	}
	if d.Manager() != nil {
		t.Error("device still linked after Del")
	}
	if len(m.Devices()) != 0 {
		t.Error("device still listed after Del")
	}
	if len(events) != 2 || events[1] != EventDead {
		t.Errorf("events = %v, want [init dead]", events)
	}
	if !unlinked {
		t.Error("DelHook not called")
	}

	if err := m.Del(ctx, d); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Del(again) error = %v, want ErrDeviceNotFound", err)
	}

	// The device can be added again.
	if err := m.Add(ctx, d); err != nil {
		t.Errorf("re-Add() error = %v", err)
	}
}

func TestManagerDel_BlocksUntilPut(t *testing.T) {
	m := NewManager("uart")
	d := NewDevice(0, "uart0")
	ctx := context.Background()
	_ = m.Add(ctx, d)

	held, err := m.GetByNumber(0)
	if err != nil {
		t.Fatalf("GetByNumber() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Del(ctx, d) }()

	// Wait for Del to mark the device unretainable.
	deadline := time.Now().Add(2 * time.Second)
	for d.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("Del never started")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-done:
		t.Fatalf("Del returned %v before the reference was put", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := d.Get(); !errors.Is(err, ErrNotRetainable) {
		t.Errorf("Get() during Del error = %v, want ErrNotRetainable", err)
	}
	if _, err := m.GetByNumber(0); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByNumber() during Del error = %v, want ErrDeviceNotFound", err)
	}

	held.Put()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Del() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Del did not return after Put")
	}
}

func TestManagerDel_ContextCancel(t *testing.T) {
	m := NewManager("uart")
	d := NewDevice(0, "uart0")
	_ = m.Add(context.Background(), d)
	held, _ := m.GetByNumber(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.Del(ctx, d); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Del() error = %v, want DeadlineExceeded", err)
	}
	if d.Manager() != m {
		t.Error("device unlinked despite live reference")
	}

	held.Put()
	if err := m.Del(context.Background(), d); err != nil {
		t.Errorf("resumed Del() error = %v", err)
	}
	if d.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", d.Refs())
	}
}

func TestFindDevice(t *testing.T) {
	m := NewManager("spi")
	ctx := context.Background()
	for i, name := range []string{"spi0", "spi1", "spi2"} {
		_ = m.Add(ctx, NewDevice(int32(i), name))
	}

	d, err := m.FindDevice(func(d *Device) bool { return d.Name == "spi1" })
	if err != nil {
		t.Fatalf("FindDevice() error = %v", err)
	}
	if d.Number != 1 {
		t.Errorf("FindDevice() number = %d, want 1", d.Number)
	}
	if d.Refs() != 2 {
		t.Errorf("Refs() = %d, want 2 (manager + caller)", d.Refs())
	}
	d.Put()

	if _, err := m.FindDevice(func(*Device) bool { return false }); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindDevice(no match) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := m.FindDevice(nil); !errors.Is(err, device.ErrInvalidParam) {
		t.Errorf("FindDevice(nil) error = %v, want ErrInvalidParam", err)
	}
	if _, err := m.GetByNumber(9); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByNumber(9) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	i2c := r.Get(ModuleI2C)
	if i2c == nil || i2c.Name() != "i2c" {
		t.Fatalf("Get(i2c) = %v", i2c)
	}
	if r.Get(ModuleI2C) != i2c {
		t.Error("Get returned a different manager on second call")
	}

	custom := NewManager("custom_gpio")
	if err := r.Register(ModuleGPIO, custom); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got, ok := r.Lookup(ModuleGPIO); !ok || got != custom {
		t.Error("Lookup(gpio) did not return custom manager")
	}
	if err := r.Register(ModuleGPIO, NewManager("again")); !errors.Is(err, ErrManagerExists) {
		t.Errorf("Register(dup) error = %v, want ErrManagerExists", err)
	}
	if err := r.Register(ModuleSPI, nil); !errors.Is(err, device.ErrInvalidParam) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidParam", err)
	}
	if _, ok := r.Lookup(ModuleRTC); ok {
		t.Error("Lookup created a manager")
	}
	if ModuleType(99).String() != "module(99)" {
		t.Errorf("ModuleType(99).String() = %q", ModuleType(99).String())
	}
}

// Package sample provides sample_driver, a built-in driver module that
// publishes its device's configuration and tracks power transitions.
//
// It lets a single-binary deployment exercise the whole lifecycle without
// any hardware:
//
//	reg := driver.NewRegistry()
//	_ = reg.Register(sample.New(sample.Options{Logger: log, Bus: platforms.Get(platform.ModuleDefault)}))
package sample

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/driver"
	"github.com/nerrad567/hdf-devmgr/internal/platform"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

// ModuleName is the module name devices reference in the attribute file.
const ModuleName = "sample_driver"

// failInitKey makes Init fail when set to "true" in the device's property
// node, for exercising launch failures.
const failInitKey = "fail_init"

// Logger defines the logging interface used by the driver.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// releaseTimeout bounds how long Release waits for platform references.
const releaseTimeout = 5 * time.Second

// Options configures the driver. The zero value is usable.
type Options struct {
	Logger Logger

	// Bus, when set, gets one platform device per bound object, numbered by
	// the device ID and carrying the Service.
	Bus *platform.Manager
}

// Service is the object sample_driver publishes.
type Service struct {
	Name string

	// Properties holds the scalar attributes of the matched property node.
	Properties map[string]string

	mu          sync.Mutex
	state       power.State
	transitions int
}

// State returns the last power state delivered and how many were delivered.
func (s *Service) State() (power.State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.transitions
}

func (s *Service) set(st power.State) error {
	s.mu.Lock()
	s.state = st
	s.transitions++
	s.mu.Unlock()
	return nil
}

// serviceOf finds the Service stashed by Bind, directly or through the
// bound platform device.
func serviceOf(obj *driver.Object) (*Service, bool) {
	if svc, ok := obj.Priv.(*Service); ok {
		return svc, true
	}
	if dev, err := platform.FromObject(obj); err == nil {
		svc, ok := dev.Priv.(*Service)
		return svc, ok
	}
	return nil, false
}

// Entry returns the sample_driver capability set without a platform bus.
func Entry(logger Logger) driver.Entry {
	return New(Options{Logger: logger})
}

// New returns the sample_driver capability set.
func New(opts Options) driver.Entry {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	bus := opts.Bus

	return driver.Entry{
		ModuleName: ModuleName,
		Bind: func(obj *driver.Object) error {
			svc := &Service{
				Name:       obj.Name,
				Properties: make(map[string]string),
				state:      power.StateResume,
			}
			for _, key := range obj.Property.Keys() {
				if v, ok := obj.Property.String(key); ok {
					svc.Properties[key] = v
				}
			}
			obj.Service = svc

			if bus == nil {
				obj.Priv = svc
				return nil
			}
			dev := platform.NewDevice(int32(obj.ID), obj.Name)
			dev.Service = svc
			dev.Priv = svc
			if err := dev.Bind(obj); err != nil {
				return err
			}
			if err := bus.Add(context.Background(), dev); err != nil {
				dev.Unbind()
				return fmt.Errorf("sample driver %s: %w", obj.Name, err)
			}
			return nil
		},
		Init: func(obj *driver.Object) error {
			if v, _ := obj.Property.String(failInitKey); v == "true" {
				return fmt.Errorf("sample driver %s: init disabled by %s", obj.Name, failInitKey)
			}

			svc, ok := serviceOf(obj)
			if !ok {
				// Devices without a published service still get one for power tracking.
				svc = &Service{Name: obj.Name, state: power.StateResume}
				obj.Priv = svc
			}

			logger.Info("sample driver initialised", "device", obj.ID.String(), "service", obj.Name)

			if obj.AddPowerStateListener == nil {
				return nil
			}
			return obj.AddPowerStateListener(power.Listener{
				DozeResume:  func() error { return svc.set(power.StateDozeResume) },
				DozeSuspend: func() error { return svc.set(power.StateDozeSuspend) },
				Resume:      func() error { return svc.set(power.StateResume) },
				Suspend:     func() error { return svc.set(power.StateSuspend) },
			})
		},
		Release: func(obj *driver.Object) {
			if dev, err := platform.FromObject(obj); err == nil {
				if bus != nil {
					ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
					if err := bus.Del(ctx, dev); err != nil {
						logger.Warn("sample driver platform device not released", "device", obj.ID.String(), "error", err)
					}
					cancel()
				}
				dev.Unbind()
			}
			obj.Priv = nil
			obj.Service = nil
		},
	}
}

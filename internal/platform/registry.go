package platform

import (
	"fmt"
	"sync"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// ModuleType identifies a platform module family.
type ModuleType int

const (
	ModuleGPIO ModuleType = iota
	ModuleI2C
	ModuleSPI
	ModuleUART
	ModulePWM
	ModuleADC
	ModuleRTC
	ModuleWatchdog
	ModuleMIPIDSI
	ModuleSDIO
	ModuleEMMC
	ModuleI2S
	ModuleRegulator
	ModuleDefault
)

var moduleNames = map[ModuleType]string{
	ModuleGPIO:      "gpio",
	ModuleI2C:       "i2c",
	ModuleSPI:       "spi",
	ModuleUART:      "uart",
	ModulePWM:       "pwm",
	ModuleADC:       "adc",
	ModuleRTC:       "rtc",
	ModuleWatchdog:  "watchdog",
	ModuleMIPIDSI:   "mipi_dsi",
	ModuleSDIO:      "sdio",
	ModuleEMMC:      "emmc",
	ModuleI2S:       "i2s",
	ModuleRegulator: "regulator",
	ModuleDefault:   "default",
}

func (t ModuleType) String() string {
	if name, ok := moduleNames[t]; ok {
		return name
	}
	return fmt.Sprintf("module(%d)", int(t))
}

// Registry maps module types to their managers.
type Registry struct {
	mu       sync.Mutex
	managers map[ModuleType]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[ModuleType]*Manager)}
}

// Register installs a custom manager for a module type. A type may only be
// registered once, and not after Get has created its default manager.
func (r *Registry) Register(t ModuleType, m *Manager) error {
	if m == nil {
		return fmt.Errorf("%w: nil manager for %s", device.ErrInvalidParam, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.managers[t]; ok {
		return fmt.Errorf("%w: %s", ErrManagerExists, t)
	}
	r.managers[t] = m
	return nil
}

// Get returns the manager for a module type, creating a default one named
// after the type on first use.
func (r *Registry) Get(t ModuleType) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[t]
	if !ok {
		m = NewManager(t.String())
		r.managers[t] = m
	}
	return m
}

// Lookup returns the manager for t without creating one.
func (r *Registry) Lookup(t ModuleType) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[t]
	return m, ok
}

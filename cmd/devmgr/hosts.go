package main

import (
	"context"

	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/config"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/logging"
	"github.com/nerrad567/hdf-devmgr/internal/installer"
	"github.com/nerrad567/hdf-devmgr/internal/process"
)

// hostInstaller joins the two installer kinds behind the calls run needs.
type hostInstaller struct {
	devmgr.Installer
	bind    func(*devmgr.Service)
	stopAll func(context.Context)

	// stats is nil for in-process hosts.
	stats func() map[uint16]process.Stats
}

// newHosts builds the installer selected by cfg.Installer. The in-process
// installer uses shared for its driver registry, service registry and tree.
func newHosts(cfg config.HostsConfig, shared installer.InProcessConfig, log *logging.Logger) (*hostInstaller, error) {
	switch cfg.Installer {
	case config.InstallerProcess:
		p := installer.NewProcess(installer.ProcessConfig{
			Binary:             cfg.Binary,
			Args:               cfg.Args,
			Env:                cfg.Env,
			WorkDir:            cfg.WorkDir,
			RestartOnFailure:   cfg.RestartOnFailure,
			RestartDelay:       cfg.RestartDelay(),
			MaxRestartDelay:    cfg.MaxRestartDelay(),
			MaxRestartAttempts: cfg.MaxRestartAttempts,
			GracefulTimeout:    cfg.GracefulTimeout(),
			FatalExitCodes:     cfg.FatalExitCodes,
			Logger:             log.Component("installer"),
		})
		return &hostInstaller{
			Installer: p,
			bind:      func(s *devmgr.Service) { p.Bind(s) },
			stopAll:   func(context.Context) { p.StopAll() },
			stats:     p.Stats,
		}, nil

	default:
		// Validate has already rejected unknown kinds.
		shared.Logger = log.Component("installer")
		p := installer.NewInProcess(shared)
		return &hostInstaller{
			Installer: p,
			bind:      func(s *devmgr.Service) { p.Bind(s) },
			stopAll:   p.StopAll,
		}, nil
	}
}

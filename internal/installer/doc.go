// Package installer starts device hosts on behalf of the device manager.
//
// Two installers are provided:
//
//   - Process runs every host as a supervised child process and detaches
//     the host from the manager whenever its process exits.
//   - InProcess builds each host inside the manager's own process and
//     attaches it before StartHost returns.
//
// Both implement devmgr.Installer. The manager and the installer refer to
// each other, so the manager side is bound after construction:
//
//	inst := installer.NewInProcess(installer.InProcessConfig{Drivers: drivers})
//	mgr, _ := devmgr.NewService(devmgr.Config{Attributes: src, Installer: inst})
//	inst.Bind(mgr)
package installer

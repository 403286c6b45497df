// Package devmgr is the device manager: it starts device hosts, installs
// their drivers, tracks every launched device and broadcasts power states.
//
// # Lifecycle
//
//	StartService      for each host in the attribute source, link a HostClient
//	                  and ask the Installer to start the host process
//	AttachDeviceHost  a started host reports in; its device list is pulled
//	                  and boot-time drivers are installed on it
//	AttachDevice      a launched device reports in with its token
//	LoadLeftDriver    second pass: every deferred (enable_step2) device
//	LoadDevice        on-demand load and unload by service name
//	UnloadDevice
//	PowerStateChange  wake states go to hosts in list order, suspend
//	                  states in reverse
//
// # Locking
//
// The host list and everything reachable from it is guarded by one mutex.
// It is held for lookups and structural changes only, never across a call
// into an Installer or a HostService, so a host running in the same process
// may call back into the manager while it is being started or loaded.
package devmgr

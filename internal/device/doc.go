// Package device defines the data model shared by the device manager, the
// device hosts and the device nodes they run.
//
// # Key Types
//
//   - ID: packed (host, local) device identifier
//   - Info: static descriptor of one driver to be loaded
//   - HostInfo: descriptor of one device host process
//   - Policy: publication scope of a device's service
//   - Preload: boot-time, deferred or on-demand loading
//   - ServiceStatus: the manager's usable/unusable bookkeeping
//
// # Errors
//
// errors.go holds the error taxonomy used across the lifecycle core. Each
// sentinel maps to a stable numeric code through Code, so a host process
// reporting "-204" and a manager logging ErrDevInitFail mean the same thing.
//
//	id := device.MakeID(3, 7)
//	id.HostID()  // 3
//	id.LocalID() // 7
package device

// Package api provides the diagnostics HTTP API and WebSocket event stream
// for the device manager.
//
// Routes (all under /api/v1):
//
//	GET  /health                     liveness and host counts
//	GET  /hosts                      every host snapshot
//	GET  /hosts/{id}                 one host snapshot
//	GET  /journal                    lifecycle journal query
//	GET  /events                     recent lifecycle events (?kind=)
//	GET  /supervisor                 host process supervisor state
//	POST /power                      {"state":"suspend"}
//	POST /devices/{service}/load     load a driver by service name
//	POST /devices/{service}/unload   unload a driver by service name
//	POST /load-left                  second-pass load of deferred drivers
//	GET  /ws                         lifecycle event stream
//
// When Deps.Metrics is set, GET /metrics serves it outside the versioned prefix.
//
// Lifecycle failures are answered with a JSON Error whose device_code is
// the stable numeric code from package device.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

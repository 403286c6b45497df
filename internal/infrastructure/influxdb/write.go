package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLifecycle = "devmgr_lifecycle"
	measurementPower     = "devmgr_power"
)

// WriteLifecycleEvent records one host or device transition.
//
// kind and host are tags; deviceID is a tag only when set, so host-level
// events do not create an empty-tag series. The write is non-blocking.
//
//	client.WriteLifecycleEvent("device_loaded", "sample_host", "1:2", true, time.Now())
func (c *Client) WriteLifecycleEvent(kind, host, deviceID string, ok bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lifecyclePoint(kind, host, deviceID, ok, ts))
}

// WritePowerTransition records one power broadcast and whether every host
// accepted it.
func (c *Client) WritePowerTransition(state string, ok bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(powerPoint(state, ok, ts))
}

func lifecyclePoint(kind, host, deviceID string, ok bool, ts time.Time) *write.Point {
	tags := map[string]string{"kind": kind}
	if host != "" {
		tags["host"] = host
	}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	return write.NewPoint(measurementLifecycle, tags, okFields(ok), ts)
}

func powerPoint(state string, ok bool, ts time.Time) *write.Point {
	return write.NewPoint(measurementPower, map[string]string{"state": state}, okFields(ok), ts)
}

// okFields stores success both as a bool and as a count so that failure
// rates can be summed in Flux without casting.
func okFields(ok bool) map[string]interface{} {
	failed := 0
	if !ok {
		failed = 1
	}
	return map[string]interface{}{
		"ok":     ok,
		"failed": failed,
	}
}

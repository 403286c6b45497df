package event

import (
	"context"
	"time"
)

// PointWriter is the InfluxDB surface the sink needs.
type PointWriter interface {
	WriteLifecycleEvent(kind, host, deviceID string, ok bool, ts time.Time)
	WritePowerTransition(state string, ok bool, ts time.Time)
}

// InfluxSink records events as time-series points.
type InfluxSink struct {
	w PointWriter
}

// NewInfluxSink creates an InfluxDB sink.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Name implements Sink.
func (*InfluxSink) Name() string { return "influxdb" }

// Write implements Sink. Writes are non-blocking and never fail here;
// delivery errors surface through the client's error callback.
func (s *InfluxSink) Write(_ context.Context, e Event) error {
	if e.Kind == KindPowerChanged {
		s.w.WritePowerTransition(e.PowerState, e.OK(), e.At)
		return nil
	}

	deviceID := ""
	if e.DeviceID != 0 {
		deviceID = e.DeviceID.String()
	}
	s.w.WriteLifecycleEvent(string(e.Kind), e.HostName, deviceID, e.OK(), e.At)
	return nil
}

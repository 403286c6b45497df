package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/device"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/mqtt"
)

type failingSink struct{ calls int }

func (*failingSink) Name() string { return "failing" }

func (f *failingSink) Write(context.Context, Event) error {
	f.calls++
	return errors.New("sink down")
}

type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Error(string, ...any) {}
func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestEvent_WithErr(t *testing.T) {
	e := Event{Kind: KindDeviceLoaded}
	if !e.WithErr(nil).OK() {
		t.Error("WithErr(nil) should stay OK")
	}

	failed := e.WithErr(device.ErrDevInitFail)
	if failed.OK() || failed.Err != device.ErrDevInitFail.Error() {
		t.Errorf("WithErr() = %+v", failed)
	}
	if !e.OK() {
		t.Error("WithErr must not modify the receiver")
	}
}

func TestFanout_DeliversToEverySink(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := NewFanout(a)
	f.Add(b)

	f.Publish(context.Background(), Event{Kind: KindHostAttached, HostID: 1})
	f.Publish(context.Background(), Event{Kind: KindHostDetached, HostID: 1})

	for name, r := range map[string]*Recorder{"a": a, "b": b} {
		kinds := r.Kinds()
		if len(kinds) != 2 || kinds[0] != KindHostAttached || kinds[1] != KindHostDetached {
			t.Errorf("sink %s kinds = %v", name, kinds)
		}
	}
}

func TestFanout_StampsTime(t *testing.T) {
	rec := &Recorder{}
	f := NewFanout(rec)
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	f.Publish(context.Background(), Event{Kind: KindHostStarted})
	preset := fixed.Add(-time.Hour)
	f.Publish(context.Background(), Event{Kind: KindHostStarted, At: preset})

	events := rec.Events()
	if !events[0].At.Equal(fixed) {
		t.Errorf("At = %v, want %v", events[0].At, fixed)
	}
	if !events[1].At.Equal(preset) {
		t.Errorf("preset At overwritten: %v", events[1].At)
	}
}

func TestFanout_SinkFailureIsLogged(t *testing.T) {
	bad := &failingSink{}
	rec := &Recorder{}
	logger := &captureLogger{}

	f := NewFanout(bad, rec)
	f.SetLogger(logger)
	f.Publish(context.Background(), Event{Kind: KindPowerChanged, PowerState: "suspend"})

	if bad.calls != 1 {
		t.Errorf("failing sink calls = %d", bad.calls)
	}
	if len(rec.Events()) != 1 {
		t.Error("later sinks must still receive the event")
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v", logger.warns)
	}
}

func TestRecorder_KeepsMostRecent(t *testing.T) {
	rec := NewRecorder(2)
	ctx := context.Background()
	for _, k := range []Kind{KindHostStarted, KindHostAttached, KindDeviceLoaded} {
		_ = rec.Write(ctx, Event{Kind: k})
	}

	got := rec.Kinds()
	if len(got) != 2 || got[0] != KindHostAttached || got[1] != KindDeviceLoaded {
		t.Errorf("Kinds() = %v, want [host_attached device_loaded]", got)
	}
}

func TestAllKinds(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, k := range AllKinds() {
		if seen[k] {
			t.Errorf("duplicate kind %s", k)
		}
		seen[k] = true
	}
	if len(seen) != 9 {
		t.Errorf("AllKinds() has %d kinds, want 9", len(seen))
	}
}

// =============================================================================
// MQTT Sink
// =============================================================================

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, payload, qos, retained})
	return nil
}

func TestMQTTSink_Topics(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		status string
	}{
		{"host", Event{Kind: KindHostAttached, HostID: 1, HostName: "sample_host"}, "devmgr/host/sample_host/status"},
		{"device", Event{Kind: KindDeviceLoaded, DeviceID: device.MakeID(1, 2)}, "devmgr/device/1:2/status"},
		{"power", Event{Kind: KindPowerChanged, PowerState: "suspend"}, "devmgr/power/state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			sink := NewMQTTSink(pub, mqtt.NewTopics("devmgr"), 1)

			if err := sink.Write(context.Background(), tt.event); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if len(pub.msgs) != 2 {
				t.Fatalf("published %d messages, want 2", len(pub.msgs))
			}

			ev := pub.msgs[0]
			if ev.topic != "devmgr/events" || ev.retained {
				t.Errorf("event message = %s retained=%v", ev.topic, ev.retained)
			}
			st := pub.msgs[1]
			if st.topic != tt.status || !st.retained || st.qos != 1 {
				t.Errorf("status message = %s retained=%v qos=%d", st.topic, st.retained, st.qos)
			}

			var got Event
			if err := json.Unmarshal(st.payload, &got); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if got.Kind != tt.event.Kind {
				t.Errorf("payload kind = %s", got.Kind)
			}
		})
	}
}

func TestMQTTSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: mqtt.ErrNotConnected}
	sink := NewMQTTSink(pub, mqtt.NewTopics(""), 0)

	err := sink.Write(context.Background(), Event{Kind: KindHostStarted, HostName: "h"})
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// InfluxDB Sink
// =============================================================================

type point struct {
	kind, host, device, state string
	ok                        bool
}

type fakeWriter struct{ points []point }

func (w *fakeWriter) WriteLifecycleEvent(kind, host, deviceID string, ok bool, _ time.Time) {
	w.points = append(w.points, point{kind: kind, host: host, device: deviceID, ok: ok})
}

func (w *fakeWriter) WritePowerTransition(state string, ok bool, _ time.Time) {
	w.points = append(w.points, point{state: state, ok: ok})
}

func TestInfluxSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w)
	ctx := context.Background()

	_ = sink.Write(ctx, Event{Kind: KindHostFailed, HostName: "uart_host"}.WithErr(errors.New("exit 1")))
	_ = sink.Write(ctx, Event{Kind: KindDeviceAttached, HostName: "sample_host", DeviceID: device.MakeID(1, 1)})
	_ = sink.Write(ctx, Event{Kind: KindPowerChanged, PowerState: "resume"})

	want := []point{
		{kind: "host_failed", host: "uart_host", ok: false},
		{kind: "device_attached", host: "sample_host", device: "1:1", ok: true},
		{state: "resume", ok: true},
	}
	if len(w.points) != len(want) {
		t.Fatalf("points = %+v", w.points)
	}
	for i := range want {
		if w.points[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, w.points[i], want[i])
		}
	}
}

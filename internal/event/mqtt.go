package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/mqtt"
)

// Publisher is the MQTT publishing surface the sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes events to the broker.
//
// Every event goes to the events topic. Host and device events also update
// the retained status topic of the host or device, and power events update
// the retained power topic.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(pub Publisher, topics mqtt.Topics, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics, qos: qos}
}

// Name implements Sink.
func (*MQTTSink) Name() string { return "mqtt" }

// Write implements Sink.
func (s *MQTTSink) Write(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := s.pub.Publish(s.topics.Events(), payload, s.qos, false); err != nil {
		return err
	}

	status := s.statusTopic(e)
	if status == "" {
		return nil
	}
	return s.pub.Publish(status, payload, s.qos, true)
}

func (s *MQTTSink) statusTopic(e Event) string {
	switch e.Kind {
	case KindHostStarted, KindHostFailed, KindHostAttached, KindHostDetached:
		return s.topics.HostStatus(e.HostName)
	case KindDeviceAttached, KindDeviceDetached, KindDeviceLoaded, KindDeviceUnloaded:
		return s.topics.DeviceStatus(e.DeviceID.String())
	case KindPowerChanged:
		return s.topics.PowerState()
	default:
		return ""
	}
}

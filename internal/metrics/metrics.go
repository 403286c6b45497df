// Package metrics exposes device manager state as Prometheus metrics.
//
// The Collector is an event.Sink: lifecycle events drive the counters,
// while host and device gauges are read from manager snapshots at scrape
// time so they never drift from the manager's own view.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/platform"
	"github.com/nerrad567/hdf-devmgr/internal/power"
)

const namespace = "devmgr"

// SnapshotFunc returns the current host snapshots. (*devmgr.Service).Hosts fits.
type SnapshotFunc func() []devmgr.HostSnapshot

// Collector records lifecycle metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	power    *prometheus.GaugeVec
}

// NewCollector creates a collector. snapshots may be nil, in which case
// only the event-driven metrics are exported.
func NewCollector(snapshots SnapshotFunc) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events by kind and result.",
		}, []string{"kind", "result"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_state",
			Help:      "1 for the last broadcast power state, 0 for every other state. Set even when some hosts rejected it.",
		}, []string{"state"}),
	}
	c.registry.MustRegister(c.events, c.power)

	if snapshots != nil {
		c.registry.MustRegister(
			gauge("hosts_linked", "Host clients known to the manager.", snapshots, func(devmgr.HostSnapshot) float64 { return 1 }),
			gauge("hosts_attached", "Hosts with an attached host service.", snapshots, func(h devmgr.HostSnapshot) float64 {
				if h.Attached {
					return 1
				}
				return 0
			}),
			gauge("devices_attached", "Device nodes holding a manager token.", snapshots, func(h devmgr.HostSnapshot) float64 {
				n := 0.0
				for _, d := range h.Devices {
					if d.Attached {
						n++
					}
				}
				return n
			}),
		)
	}
	return c
}

func gauge(name, help string, snapshots SnapshotFunc, per func(devmgr.HostSnapshot) float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		total := 0.0
		for _, h := range snapshots() {
			total += per(h)
		}
		return total
	})
}

// Name implements event.Sink.
func (c *Collector) Name() string { return "metrics" }

// Write implements event.Sink.
func (c *Collector) Write(_ context.Context, e event.Event) error {
	result := "ok"
	if !e.OK() {
		result = "failed"
	}
	c.events.WithLabelValues(string(e.Kind), result).Inc()

	if e.Kind == event.KindPowerChanged {
		for _, s := range power.AllStates() {
			v := 0.0
			if s.String() == e.PowerState {
				v = 1
			}
			c.power.WithLabelValues(s.String()).Set(v)
		}
	}
	return nil
}

// WatchPlatform exports the number of devices linked to bus as
// devmgr_platform_devices{bus=name}. Each name may be watched once.
func (c *Collector) WatchPlatform(name string, bus *platform.Manager) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "platform_devices",
		Help:        "Devices linked to a platform bus manager.",
		ConstLabels: prometheus.Labels{"bus": name},
	}, func() float64 { return float64(len(bus.Devices())) }))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

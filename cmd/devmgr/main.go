// devmgr is the device manager daemon.
//
// It reads the host and device descriptors from the attribute file, starts
// every device host through the configured installer, loads the drivers
// each host owns and keeps them in step with system power transitions.
// Lifecycle events go to the SQLite journal, MQTT, InfluxDB and the
// diagnostics WebSocket stream when those are enabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/hdf-devmgr/internal/api"
	"github.com/nerrad567/hdf-devmgr/internal/attribute"
	"github.com/nerrad567/hdf-devmgr/internal/control"
	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/driver"
	"github.com/nerrad567/hdf-devmgr/internal/driver/sample"
	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/config"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/database"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/influxdb"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/logging"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/mqtt"
	"github.com/nerrad567/hdf-devmgr/internal/installer"
	"github.com/nerrad567/hdf-devmgr/internal/journal"
	"github.com/nerrad567/hdf-devmgr/internal/metrics"
	"github.com/nerrad567/hdf-devmgr/internal/platform"
	"github.com/nerrad567/hdf-devmgr/internal/svcmgr"
	"github.com/nerrad567/hdf-devmgr/migrations"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// recentEvents is how many lifecycle events GET /api/v1/events keeps.
const recentEvents = 256

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the manager together and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting device manager",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"installer", cfg.Hosts.Installer,
		"level", cfg.Logging.Level,
	)

	attrs, err := attribute.LoadFile(cfg.Manager.AttributesFile)
	if err != nil {
		return fmt.Errorf("loading attributes: %w", err)
	}
	log.Info("attributes loaded", "path", cfg.Manager.AttributesFile)

	events := event.NewFanout()
	events.SetLogger(log.Component("events"))

	// Sinks. Deferred closes run in reverse: InfluxDB, MQTT, database.
	var db *database.DB
	var entries journal.Repository
	if cfg.Database.Enabled {
		db, entries, err = openJournal(ctx, cfg.Database, events)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("journal enabled", "path", cfg.Database.Path)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })

		events.Add(event.NewMQTTSink(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS)))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topic_prefix", mqttClient.Topics().Prefix,
		)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		events.Add(event.NewInfluxSink(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// The hub and collector join the fanout before the manager starts so
	// they see every host attach. The collector reads snapshots through mgr,
	// which is set before the first scrape can arrive.
	var hub *api.Hub
	var collector *metrics.Collector
	var recent *event.Recorder
	var mgr *devmgr.Service
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
		collector = metrics.NewCollector(func() []devmgr.HostSnapshot { return mgr.Hosts() })
		recent = event.NewRecorder(recentEvents)
		events.Add(hub)
		events.Add(collector)
		events.Add(recent)
	}

	// Built-in drivers share the default platform bus.
	platforms := platform.NewRegistry()
	bus := platforms.Get(platform.ModuleDefault)
	if collector != nil {
		if err := collector.WatchPlatform(bus.Name(), bus); err != nil {
			return fmt.Errorf("registering platform metrics: %w", err)
		}
	}

	drivers := driver.NewRegistry()
	if err := drivers.Register(sample.New(sample.Options{Logger: log.Component("sample_driver"), Bus: bus})); err != nil {
		return fmt.Errorf("registering drivers: %w", err)
	}

	services := svcmgr.NewRegistry()
	services.SetLogger(log.Component("svcmgr"))

	hosts, err := newHosts(cfg.Hosts, installer.InProcessConfig{
		Drivers:  drivers,
		Services: services,
		Tree:     attrs.Tree(),
		Logger:   log.Component("devhost"),
	}, log)
	if err != nil {
		return err
	}

	mgr, err = devmgr.NewService(devmgr.Config{
		Attributes: attrs,
		Installer:  hosts,
		QuickLoad:  cfg.Manager.QuickLoad,
		Events:     events,
		Logger:     log.Component("devmgr"),
	})
	if err != nil {
		return fmt.Errorf("creating device manager: %w", err)
	}
	hosts.bind(mgr)

	// Hosts stop before the sinks close so their final events are recorded.
	defer func() {
		log.Info("stopping device hosts")
		hosts.stopAll(context.WithoutCancel(ctx))
		mgr.Close()
	}()

	if err := mgr.StartService(ctx); err != nil {
		return fmt.Errorf("starting device manager: %w", err)
	}
	log.Info("device manager started", "hosts", len(mgr.Hosts()))

	if cfg.Manager.LoadLeftOnStart {
		if err := mgr.LoadLeftDriver(ctx); err != nil {
			log.Warn("second-pass load incomplete", "error", err)
		}
	}

	if cfg.MQTT.Control {
		handler := control.NewHandler(mgr, mqttClient, mqttClient.Topics())
		handler.SetLogger(log.Component("control"))
		if err := handler.Start(ctx); err != nil {
			return fmt.Errorf("starting control: %w", err)
		}
		defer handler.Stop()
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Manager: mgr,
			Journal: entries,
			Hub:     hub,
			Metrics: collector.Handler(),
			Recent:  recent,
			Version: version,

			Supervisor: hosts.stats,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns DEVMGR_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("DEVMGR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openJournal opens the database, applies the embedded migrations and adds
// the journal sink to events.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, events *event.Fanout) (*database.DB, journal.Repository, error) {
	db, err := database.Open(database.FromConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	repo := journal.NewSQLiteRepository(db.DB)
	events.Add(journal.NewSink(repo))
	return db, repo, nil
}

// healthCheck verifies every enabled sink. Nil clients are disabled sinks.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	var errs []error
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Installer kinds accepted in hosts.installer.
const (
	InstallerProcess   = "process"
	InstallerInProcess = "inprocess"
)

// Config is the root configuration structure for the device manager.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Manager  ManagerConfig  `yaml:"manager"`
	Hosts    HostsConfig    `yaml:"hosts"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ManagerConfig contains device manager behaviour settings.
type ManagerConfig struct {
	// AttributesFile is the YAML host and device descriptor file.
	AttributesFile string `yaml:"attributes_file"`

	// QuickLoad skips enable_step2 devices when a host attaches; they are
	// loaded later by the second pass.
	QuickLoad bool `yaml:"quick_load"`

	// LoadLeftOnStart runs the second pass right after StartService.
	LoadLeftOnStart bool `yaml:"load_left_on_start"`
}

// HostsConfig contains device host launch settings.
type HostsConfig struct {
	// Installer is "process" (one child process per host) or "inprocess".
	Installer string `yaml:"installer"`

	// Binary is the host executable for the process installer.
	Binary string `yaml:"binary"`

	// Args may contain {host_id} and {host_name} placeholders.
	Args []string `yaml:"args"`

	// Env are extra KEY=value pairs; placeholders are expanded as in Args.
	Env []string `yaml:"env"`

	WorkDir string `yaml:"work_dir"`

	// RestartOnFailure enables automatic restart if a host crashes.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the first backoff delay (in seconds).
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartDelaySeconds caps the backoff delay (in seconds).
	// Default: 300
	MaxRestartDelaySeconds int `yaml:"max_restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// GracefulTimeoutSeconds is how long a host gets to exit after SIGTERM.
	// Default: 10
	GracefulTimeoutSeconds int `yaml:"graceful_timeout_seconds"`

	// FatalExitCodes end supervision without a restart.
	FatalExitCodes []int `yaml:"fatal_exit_codes"`
}

// DatabaseConfig contains SQLite database settings for the lifecycle journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every status, command and reply topic.
	TopicPrefix string `yaml:"topic_prefix"`

	// Control subscribes to remote power and load commands.
	Control bool `yaml:"control"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the diagnostics HTTP server settings.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	CORS      CORSConfig      `yaml:"cors"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// TimeoutConfig contains HTTP timeout settings (in seconds).
type TimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the lifecycle event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// Addr returns the listen address in host:port form.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVMGR_SECTION_KEY
// For example: DEVMGR_DATABASE_PATH, DEVMGR_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Manager: ManagerConfig{
			AttributesFile: "./configs/hosts.yaml",
		},
		Hosts: HostsConfig{
			Installer:              InstallerInProcess,
			Args:                   []string{"--host-id", "{host_id}", "--host-name", "{host_name}"},
			RestartOnFailure:       true,
			RestartDelaySeconds:    5,
			MaxRestartDelaySeconds: 300,
			MaxRestartAttempts:     10,
			GracefulTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/devmgr.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devmgr",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "devmgr",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: TimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVMGR_ATTRIBUTES_FILE"); v != "" {
		cfg.Manager.AttributesFile = v
	}

	if v := os.Getenv("DEVMGR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DEVMGR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVMGR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVMGR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DEVMGR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DEVMGR_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("DEVMGR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Manager.AttributesFile == "" {
		errs = append(errs, "manager.attributes_file is required")
	}

	switch c.Hosts.Installer {
	case InstallerInProcess:
	case InstallerProcess:
		if c.Hosts.Binary == "" {
			errs = append(errs, "hosts.binary is required for the process installer")
		}
	default:
		errs = append(errs, fmt.Sprintf("hosts.installer must be %q or %q", InstallerProcess, InstallerInProcess))
	}
	if c.Hosts.RestartDelaySeconds < 0 || c.Hosts.MaxRestartDelaySeconds < 0 || c.Hosts.GracefulTimeoutSeconds < 0 {
		errs = append(errs, "hosts timings must not be negative")
	}
	if c.Hosts.MaxRestartAttempts < 0 {
		errs = append(errs, "hosts.max_restart_attempts must not be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			errs = append(errs, "mqtt.topic_prefix must be non-empty and free of wildcards")
		}
	} else if c.MQTT.Control {
		errs = append(errs, "mqtt.control requires mqtt.enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= c.API.WebSocket.PingInterval {
			errs = append(errs, "api.websocket.pong_timeout must exceed a positive ping_interval")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RestartDelay returns the first host restart delay as a Duration.
func (h HostsConfig) RestartDelay() time.Duration {
	return time.Duration(h.RestartDelaySeconds) * time.Second
}

// MaxRestartDelay returns the host restart delay cap as a Duration.
func (h HostsConfig) MaxRestartDelay() time.Duration {
	return time.Duration(h.MaxRestartDelaySeconds) * time.Second
}

// GracefulTimeout returns the host shutdown grace period as a Duration.
func (h HostsConfig) GracefulTimeout() time.Duration {
	return time.Duration(h.GracefulTimeoutSeconds) * time.Second
}

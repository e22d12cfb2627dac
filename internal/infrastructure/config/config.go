package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole host configuration, one block per subsystem.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
	Registry   RegistryConfig   `yaml:"registry"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Plugins    []PluginConfig   `yaml:"plugins"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig     `yaml:"broker"`
	Auth      MQTTAuthConfig       `yaml:"auth"`
	QoS       int                  `yaml:"qos"`
	Reconnect MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded  EmbeddedBrokerConfig `yaml:"embedded"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// EmbeddedBrokerConfig controls the optional in-process MQTT broker.
//
// When enabled the host starts its own broker on Address before connecting,
// which is convenient for single-machine lab setups.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RegistryConfig contains device registry and lease settings.
type RegistryConfig struct {
	// DefaultLeaseSeconds is used when a reserve command omits lease_s.
	DefaultLeaseSeconds int `yaml:"default_lease_s"`

	// SweepInterval is how often expired leases are dropped from memory (seconds).
	// Zero disables the sweep; expiry is still enforced on every read.
	SweepInterval int `yaml:"sweep_interval_s"`
}

// DispatcherConfig contains command dispatch settings.
type DispatcherConfig struct {
	QueueSize   int `yaml:"queue_size"`
	StopTimeout int `yaml:"stop_timeout_s"`
}

// SchedulerConfig contains job scheduler settings.
type SchedulerConfig struct {
	// Location is the IANA time zone used to evaluate cron expressions.
	Location string `yaml:"location"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PluginConfig selects a plugin from the factory table and passes it settings.
type PluginConfig struct {
	Module   string         `yaml:"module"`
	Settings map[string]any `yaml:"settings"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LABHOST_"

// Load reads path, layers LABHOST_* environment overrides on top, and
// validates the result. Precedence: defaults, then file, then environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault is Load, except a missing file means "defaults plus
// environment" instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(defaultConfig())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "labhost",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Embedded: EmbeddedBrokerConfig{
				Address: ":1883",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Registry: RegistryConfig{
			DefaultLeaseSeconds: 60,
			SweepInterval:       30,
		},
		Dispatcher: DispatcherConfig{
			QueueSize:   256,
			StopTimeout: 10,
		},
		Scheduler: SchedulerConfig{
			Location: "UTC",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Plugins: []PluginConfig{
			{Module: "led"},
			{Module: "ndi", Settings: map[string]any{"sources": []any{}}},
		},
	}
}

// envOverrides maps variable names (without EnvPrefix) onto fields.
// Integer variables that fail to parse are ignored.
var envOverrides = map[string]func(*Config, string){
	"MQTT_HOST":       func(c *Config, v string) { c.MQTT.Broker.Host = v },
	"MQTT_PORT":       intField(func(c *Config) *int { return &c.MQTT.Broker.Port }),
	"MQTT_CLIENT_ID":  func(c *Config, v string) { c.MQTT.Broker.ClientID = v },
	"MQTT_USERNAME":   func(c *Config, v string) { c.MQTT.Auth.Username = v },
	"MQTT_PASSWORD":   func(c *Config, v string) { c.MQTT.Auth.Password = v },
	"MQTT_EMBEDDED":   boolField(func(c *Config) *bool { return &c.MQTT.Embedded.Enabled }),
	"API_HOST":        func(c *Config, v string) { c.API.Host = v },
	"API_PORT":        intField(func(c *Config) *int { return &c.API.Port }),
	"INFLUXDB_URL":    func(c *Config, v string) { c.InfluxDB.URL = v },
	"INFLUXDB_TOKEN":  func(c *Config, v string) { c.InfluxDB.Token = v },
	"LOG_LEVEL":       func(c *Config, v string) { c.Logging.Level = v },
	"SCHEDULER_TZ":    func(c *Config, v string) { c.Scheduler.Location = v },
	"METRICS_ENABLED": boolField(func(c *Config) *bool { return &c.Metrics.Enabled }),
}

func intField(field func(*Config) *int) func(*Config, string) {
	return func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = n
		}
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) {
	return func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*field(c) = b
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	for name, set := range envOverrides {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			set(cfg, v)
		}
	}
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	m := c.MQTT
	check(m.Broker.Host != "", "mqtt.broker.host is required")
	check(m.Broker.Port >= 1 && m.Broker.Port <= 65535, "mqtt.broker.port must be between 1 and 65535")
	check(m.Broker.ClientID != "", "mqtt.broker.client_id is required")
	check(m.QoS >= 0 && m.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(!m.Embedded.Enabled || m.Embedded.Address != "",
		"mqtt.embedded.address is required when the embedded broker is enabled")

	// Port 0 picks a free port.
	check(c.API.Port >= 0 && c.API.Port <= 65535, "api.port must be between 0 and 65535")

	check(c.Registry.DefaultLeaseSeconds > 0, "registry.default_lease_s must be positive")
	check(c.Registry.SweepInterval >= 0, "registry.sweep_interval_s cannot be negative")
	check(c.Dispatcher.QueueSize > 0, "dispatcher.queue_size must be positive")

	_, err := time.LoadLocation(c.Scheduler.Location)
	check(err == nil, "scheduler.location %q is not a valid time zone", c.Scheduler.Location)

	if in := c.InfluxDB; in.Enabled {
		check(in.URL != "", "influxdb.url is required when influxdb is enabled")
		check(in.Org != "" && in.Bucket != "", "influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		check(p.Module != "", "plugins[%d].module is required", i)
		check(p.Module == "" || !seen[p.Module], "plugins[%d].module %q is listed more than once", i, p.Module)
		seen[p.Module] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ReadTimeout is also used as the header read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

// DefaultLease is the reservation length used when lease_s is omitted.
func (c *Config) DefaultLease() time.Duration {
	return seconds(c.Registry.DefaultLeaseSeconds)
}

// SchedulerLocation resolves scheduler.location, falling back to UTC.
func (c *Config) SchedulerLocation() *time.Location {
	if loc, err := time.LoadLocation(c.Scheduler.Location); err == nil {
		return loc
	}
	return time.UTC
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the playout core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Studio    StudioConfig    `yaml:"studio"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Playout   PlayoutConfig   `yaml:"playout"`
	Lease     LeaseConfig     `yaml:"lease"`
	Security  SecurityConfig  `yaml:"security"`
}

// StudioConfig identifies the studio this daemon plays out for.
type StudioConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PlayoutConfig tunes the playout engine's timing heuristics.
type PlayoutConfig struct {
	ZeroStartEpochMS  int64 `yaml:"zero_start_epoch_ms"`
	NowEpochMS        int64 `yaml:"now_epoch_ms"`
	InfiniteEarlyExit bool  `yaml:"infinite_early_exit"`
	IngestDebounceMS  int   `yaml:"ingest_debounce_ms"`
	NotifyDelayMS     int   `yaml:"notify_delay_ms"`

	// LockWaitTimeoutMS bounds how long an operation waits for a rundown
	// lock. 0 waits until the request context ends.
	LockWaitTimeoutMS int `yaml:"lock_wait_timeout_ms"`
}

// LeaseConfig configures the optional cross-process rundown lease in Redis.
type LeaseConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	AuthEnabled bool      `yaml:"auth_enabled"`
	JWT         JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PLAYOUT_SECTION_KEY
// For example: PLAYOUT_DATABASE_PATH, PLAYOUT_API_PORT
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

// Path returns the config file location from PLAYOUT_CONFIG, or the default.
func Path() string {
	if v := os.Getenv("PLAYOUT_CONFIG"); v != "" {
		return v
	}
	return "configs/config.yaml"
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Studio: StudioConfig{
			ID:   "studio0",
			Name: "Studio",
		},
		Database: DatabaseConfig{
			Path:        "./data/playout.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "playout-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "playout",
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Playout: PlayoutConfig{
			ZeroStartEpochMS:  100,
			NowEpochMS:        100,
			InfiniteEarlyExit: true,
			IngestDebounceMS:  1000,
			NotifyDelayMS:     40,
		},
		Lease: LeaseConfig{
			Addr:       "localhost:6379",
			TTLSeconds: 10,
			KeyPrefix:  "playout:lease",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 720,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLAYOUT_STUDIO_ID"); v != "" {
		cfg.Studio.ID = v
	}

	if v := os.Getenv("PLAYOUT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PLAYOUT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PLAYOUT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PLAYOUT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PLAYOUT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PLAYOUT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("PLAYOUT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PLAYOUT_LEASE_ADDR"); v != "" {
		cfg.Lease.Addr = v
	}
	if v := os.Getenv("PLAYOUT_LEASE_PASSWORD"); v != "" {
		cfg.Lease.Password = v
	}

	if v := os.Getenv("PLAYOUT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Studio.ID == "" {
		errs = append(errs, "studio.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Playout.ZeroStartEpochMS < 0 || c.Playout.NowEpochMS < 0 {
		errs = append(errs, "playout epochs must not be negative")
	}
	if c.Playout.IngestDebounceMS < 0 || c.Playout.NotifyDelayMS < 0 || c.Playout.LockWaitTimeoutMS < 0 {
		errs = append(errs, "playout delays must not be negative")
	}

	if c.Lease.Enabled {
		if c.Lease.Addr == "" {
			errs = append(errs, "lease.addr is required when the lease is enabled")
		}
		if c.Lease.TTLSeconds < 1 {
			errs = append(errs, "lease.ttl_seconds must be at least 1")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Forged operator tokens could take a live programme off air.
	const minJWTSecretLength = 32
	if c.Security.AuthEnabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set PLAYOUT_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// IngestDebounce returns the ingest debounce window.
func (p PlayoutConfig) IngestDebounce() time.Duration {
	return time.Duration(p.IngestDebounceMS) * time.Millisecond
}

// NotifyDelay returns the delay before external systems hear of a new current part.
func (p PlayoutConfig) NotifyDelay() time.Duration {
	return time.Duration(p.NotifyDelayMS) * time.Millisecond
}

// LockWaitTimeout returns the rundown lock wait bound; zero means unbounded.
func (p PlayoutConfig) LockWaitTimeout() time.Duration {
	return time.Duration(p.LockWaitTimeoutMS) * time.Millisecond
}

// TTL returns the lease expiry.
func (l LeaseConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

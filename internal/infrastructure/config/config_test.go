package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
studio:
  id: "studio1"
  name: "Studio One"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "news"
api:
  host: "0.0.0.0"
  port: 8080
playout:
  zero_start_epoch_ms: 50
  ingest_debounce_ms: 250
security:
  auth_enabled: true
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Studio.ID != "studio1" {
		t.Errorf("Studio.ID = %q, want %q", cfg.Studio.ID, "studio1")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.TopicPrefix != "news" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "news")
	}
	if cfg.Playout.ZeroStartEpochMS != 50 {
		t.Errorf("Playout.ZeroStartEpochMS = %d, want 50", cfg.Playout.ZeroStartEpochMS)
	}
	// Unset keys keep their defaults.
	if cfg.Playout.NowEpochMS != 100 || !cfg.Playout.InfiniteEarlyExit {
		t.Errorf("Playout defaults lost: %+v", cfg.Playout)
	}
	if got := cfg.Playout.IngestDebounce(); got != 250*time.Millisecond {
		t.Errorf("IngestDebounce() = %v, want 250ms", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
studio:
  id: ""
database:
  path: "/tmp/test.db"
`))
	if err == nil {
		t.Error("Load() expected validation error for empty studio.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing studio ID", func(c *Config) { c.Studio.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"empty topic prefix", func(c *Config) { c.MQTT.TopicPrefix = "/" }, true},
		{"topic prefix ignored when mqtt disabled", func(c *Config) {
			c.MQTT.Enabled = false
			c.MQTT.TopicPrefix = ""
		}, false},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"negative epoch", func(c *Config) { c.Playout.NowEpochMS = -1 }, true},
		{"negative debounce", func(c *Config) { c.Playout.IngestDebounceMS = -5 }, true},
		{"lease without ttl", func(c *Config) {
			c.Lease.Enabled = true
			c.Lease.TTLSeconds = 0
		}, true},
		{"influxdb without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"auth without JWT secret", func(c *Config) { c.Security.AuthEnabled = true }, true},
		{"auth with short secret", func(c *Config) {
			c.Security.AuthEnabled = true
			c.Security.JWT.Secret = "short"
		}, true},
		{"auth with valid secret", func(c *Config) {
			c.Security.AuthEnabled = true
			c.Security.JWT.Secret = validJWTSecret
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateAggregatesErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Studio.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"studio.id", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("PLAYOUT_STUDIO_ID", "studio9")
	t.Setenv("PLAYOUT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("PLAYOUT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("PLAYOUT_MQTT_USERNAME", "testuser")
	t.Setenv("PLAYOUT_MQTT_PASSWORD", "testpass")
	t.Setenv("PLAYOUT_API_HOST", "192.168.1.1")
	t.Setenv("PLAYOUT_API_PORT", "9090")
	t.Setenv("PLAYOUT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("PLAYOUT_LEASE_ADDR", "redis:6379")
	t.Setenv("PLAYOUT_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Studio.ID", cfg.Studio.ID, "studio9"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Lease.Addr", cfg.Lease.Addr, "redis:6379"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_IgnoresBadPort(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("PLAYOUT_API_PORT", "eighty")
	applyEnvOverrides(cfg)
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("PLAYOUT_CONFIG", "")
	if got := Path(); got != "configs/config.yaml" {
		t.Errorf("Path() = %q", got)
	}
	t.Setenv("PLAYOUT_CONFIG", "/etc/playout.yaml")
	if got := Path(); got != "/etc/playout.yaml" {
		t.Errorf("Path() = %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Studio.ID == "" {
		t.Error("defaultConfig should have non-empty Studio.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Playout.NotifyDelay() != 40*time.Millisecond {
		t.Errorf("defaultConfig NotifyDelay = %v, want 40ms", cfg.Playout.NotifyDelay())
	}
	if cfg.Lease.TTL() != 10*time.Second {
		t.Errorf("defaultConfig lease TTL = %v, want 10s", cfg.Lease.TTL())
	}
}

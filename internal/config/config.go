// Package config loads and validates the channelrelay YAML configuration.
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is unset.
const (
	DefaultSyncInterval    = 15 * time.Minute
	DefaultSyncWindowDays  = 365
	DefaultCurrency        = "EUR"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultKafkaTopic      = "channelrelay.events"
	credentialKeyByteCount = 32
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DatabasePath is the SQLite database file. Empty means the store's
	// default location.
	DatabasePath string `yaml:"database_path"`

	// CredentialKey is the base64-encoded 32-byte key that seals channel
	// credentials at rest. Usually supplied as ${CHANNELRELAY_CREDENTIAL_KEY}.
	CredentialKey string `yaml:"credential_key"`

	// SyncInterval controls how often the daemon runs a full sync of every
	// active channel. Minimum 1m, maximum 24h. Defaults to 15m.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// SyncWindowDays is how many days ahead availability and rates are
	// pushed. Defaults to 365.
	SyncWindowDays int `yaml:"sync_window_days"`

	// DefaultCurrency is used for rates and reservations that carry none.
	DefaultCurrency string `yaml:"default_currency"`

	// RequestTimeout bounds each HTTP exchange with a channel. Defaults to 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Channels overrides the built-in endpoint URLs, or adds a new OTA
	// channel under a custom name.
	// Example: {"booking_com": {"sandbox": "http://localhost:8080/ota"}}
	Channels map[string]ChannelEndpoints `yaml:"channels,omitempty"`

	// Redis enables the cross-process channel lock. Omit to lock in-process.
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// Kafka enables publishing sync events to a topic. Omit to disable.
	Kafka *KafkaConfig `yaml:"kafka,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ChannelEndpoints overrides a channel's base URLs.
type ChannelEndpoints struct {
	Production string `yaml:"production"`
	Sandbox    string `yaml:"sandbox"`
}

// RedisConfig holds the distributed lock settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces lock keys. Defaults to "channelrelay:lock:".
	KeyPrefix string `yaml:"key_prefix"`

	// LockTTL bounds how long a crashed holder blocks a channel.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// KafkaConfig holds the event sink settings.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	BatchSize int      `yaml:"batch_size"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "channelrelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/channelrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "channelrelay", "config.yaml"), nil
}

// LoadEnv reads a dotenv file. A missing file yields an empty map.
func LoadEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading env file %q: %w", path, err)
	}
	return env, nil
}

// Load reads and validates the configuration file at the given path.
// ${VAR} references are expanded from a .env file next to the config file,
// falling back to the process environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	env, err := LoadEnv(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}
	expanded := os.Expand(string(raw), func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return os.Getenv(key)
	})

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write saves c as YAML at path, creating parent directories. The file may
// hold secrets, so it is only readable by the owner.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// WriteEnv saves env as a dotenv file readable only by the owner.
func WriteEnv(path string, env map[string]string) error {
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing env file %q: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting env file %q: %w", path, err)
	}
	return nil
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.CredentialKey == "" {
		return fmt.Errorf("credential_key is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.CredentialKey)
	if err != nil || len(key) != credentialKeyByteCount {
		return fmt.Errorf("credential_key must be %d bytes, base64-encoded", credentialKeyByteCount)
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.SyncInterval < time.Minute {
		return fmt.Errorf("sync_interval %v is too short (minimum 1m)", c.SyncInterval)
	}
	if c.SyncInterval > 24*time.Hour {
		return fmt.Errorf("sync_interval %v is too long (maximum 24h)", c.SyncInterval)
	}

	if c.SyncWindowDays == 0 {
		c.SyncWindowDays = DefaultSyncWindowDays
	}
	if c.SyncWindowDays < 1 || c.SyncWindowDays > 730 {
		return fmt.Errorf("sync_window_days %d must be between 1 and 730", c.SyncWindowDays)
	}

	if c.DefaultCurrency == "" {
		c.DefaultCurrency = DefaultCurrency
	}
	if !isCurrencyCode(c.DefaultCurrency) {
		return fmt.Errorf("default_currency %q must be a three-letter ISO 4217 code", c.DefaultCurrency)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestTimeout < time.Second || c.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request_timeout %v must be between 1s and 5m", c.RequestTimeout)
	}

	for name, ep := range c.Channels {
		if name == "" {
			return fmt.Errorf("channels contains an empty channel name")
		}
		for field, raw := range map[string]string{"production": ep.Production, "sandbox": ep.Sandbox} {
			if raw != "" && !isHTTPURL(raw) {
				return fmt.Errorf("channels[%q].%s %q must be a valid http or https URL", name, field, raw)
			}
		}
	}

	if c.Redis != nil {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when redis is configured")
		}
		if c.Redis.LockTTL < 0 {
			return fmt.Errorf("redis.lock_ttl must not be negative")
		}
	}

	if c.Kafka != nil {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must contain at least one entry")
		}
		if c.Kafka.Topic == "" {
			c.Kafka.Topic = DefaultKafkaTopic
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

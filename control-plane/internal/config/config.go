package config

// # Configuration Sources
//
// Server configuration is loaded from (in order of precedence):
// 1. Command-line flags (applied by cmd/server)
// 2. Environment variables (PULSE_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	server:
//	  port: 8080
//	database:
//	  url: postgres://localhost:5432/pulse?sslmode=disable
//	redis:
//	  url: redis://localhost:6379/0
//	ingest:
//	  secret: change-me
//	  rate_limit: 50
//	notify:
//	  webhook_url: https://inbox.example.com/hooks/pulse
//	alerting:
//	  escalation_enabled: true

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete control plane configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Notify   NotifyConfig   `yaml:"notify"`
	Alerting AlertingConfig `yaml:"alerting"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	Debug        bool          `yaml:"debug"`
}

// DatabaseConfig describes the PostgreSQL event store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig describes the realtime transport, response cache and audit
// buffer. An empty URL runs the control plane with the in-process bus and
// no cache or buffer.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// IngestConfig controls the heartbeat ingestion gateway.
type IngestConfig struct {
	// Secret is the shared credential agents send in the X-Pulse-Secret header.
	// When empty, the secret is resolved through the secrets backend.
	Secret string `yaml:"secret"`

	// RateLimit is the sustained ingestion rate in requests per second.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// NotifyConfig controls where alert notifications are pushed.
type NotifyConfig struct {
	// WebhookURL, when set, receives every notification as a JSON POST in
	// addition to the inbox table.
	WebhookURL string `yaml:"webhook_url"`
	// WebhookToken is sent as a bearer token to the webhook.
	WebhookToken string `yaml:"webhook_token"`
}

// AlertingConfig controls the alert lifecycle manager.
type AlertingConfig struct {
	EscalationEnabled bool `yaml:"escalation_enabled"`
}

// SecretsConfig selects the backend used to resolve the ingestion secret.
type SecretsConfig struct {
	// Backend is "1password", "local" or "auto".
	Backend      string `yaml:"backend"`
	ConnectHost  string `yaml:"connect_host"`
	ConnectToken string `yaml:"connect_token"`
	VaultID      string `yaml:"vault_id"`
	LocalDir     string `yaml:"local_dir"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/pulse?sslmode=disable",
		},
		Ingest: IngestConfig{
			RateLimit: 50,
			RateBurst: 20,
		},
		Alerting: AlertingConfig{
			EscalationEnabled: true,
		},
		Secrets: SecretsConfig{
			Backend: "auto",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Ingest.RateLimit < 0 {
		return fmt.Errorf("ingest.rate_limit must not be negative")
	}
	switch c.Secrets.Backend {
	case "", "auto", "local", "1password":
	default:
		return fmt.Errorf("unknown secrets.backend: %s", c.Secrets.Backend)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the PULSE_ prefix:
// - PULSE_PORT
// - PULSE_DATABASE_URL
// - PULSE_REDIS_URL
// - PULSE_INGEST_SECRET
// - PULSE_INGEST_RATE_LIMIT
// - PULSE_NOTIFY_WEBHOOK_URL
// - PULSE_NOTIFY_WEBHOOK_TOKEN
// - PULSE_ESCALATION_ENABLED
// - PULSE_SECRETS_BACKEND
// - OP_CONNECT_HOST, OP_CONNECT_TOKEN, OP_VAULT_ID (1Password Connect)
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PULSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PULSE_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PULSE_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("PULSE_INGEST_SECRET"); v != "" {
		c.Ingest.Secret = v
	}
	if v := os.Getenv("PULSE_INGEST_RATE_LIMIT"); v != "" {
		if rl, err := strconv.ParseFloat(v, 64); err == nil {
			c.Ingest.RateLimit = rl
		}
	}
	if v := os.Getenv("PULSE_NOTIFY_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("PULSE_NOTIFY_WEBHOOK_TOKEN"); v != "" {
		c.Notify.WebhookToken = v
	}
	if v := os.Getenv("PULSE_ESCALATION_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Alerting.EscalationEnabled = enabled
		}
	}
	if v := os.Getenv("PULSE_SECRETS_BACKEND"); v != "" {
		c.Secrets.Backend = v
	}
	if v := os.Getenv("OP_CONNECT_HOST"); v != "" {
		c.Secrets.ConnectHost = v
	}
	if v := os.Getenv("OP_CONNECT_TOKEN"); v != "" {
		c.Secrets.ConnectToken = v
	}
	if v := os.Getenv("OP_VAULT_ID"); v != "" {
		c.Secrets.VaultID = v
	}
}

// Package config handles heartbeat emitter configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (PULSE_AGENT_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	control_plane:
//	  url: https://pulse.pilot.net
//	  secret: change-me
//
//	agent:
//	  id: AG-03
//	  tags:
//	    datacenter: us-east-1a
//
//	health:
//	  heartbeat_interval: 30s
//	  drift_cpu_percent: 85
//	  error_memory_percent: 95
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Config is the complete emitter configuration.
type Config struct {
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Agent        AgentConfig        `yaml:"agent"`
	Health       HealthConfig       `yaml:"health"`
}

// ControlPlaneConfig defines how to reach the ingestion gateway.
type ControlPlaneConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`

	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty"`
	RequestTimeout     time.Duration `yaml:"request_timeout,omitempty"`

	// SendAttempts bounds retries of one heartbeat on transient failures.
	SendAttempts uint `yaml:"send_attempts,omitempty"`
}

// AgentConfig defines the emitter's identity.
type AgentConfig struct {
	ID   string            `yaml:"id"` // Roster member, AG-01 through AG-07
	Tags map[string]string `yaml:"tags"`
}

// HealthConfig defines how often heartbeats are sent and how host load maps
// onto a reported status.
type HealthConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// DriftCPUPercent reports DRIFT when host CPU use reaches it. Zero disables.
	DriftCPUPercent float64 `yaml:"drift_cpu_percent"`
	// ErrorMemoryPercent reports ERROR when host memory use reaches it. Zero disables.
	ErrorMemoryPercent float64 `yaml:"error_memory_percent"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ControlPlane: ControlPlaneConfig{
			RequestTimeout: 10 * time.Second,
			SendAttempts:   3,
		},
		Agent: AgentConfig{
			Tags: make(map[string]string),
		},
		Health: HealthConfig{
			HeartbeatInterval:  30 * time.Second,
			DriftCPUPercent:    85,
			ErrorMemoryPercent: 95,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
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
	if c.ControlPlane.URL == "" {
		return fmt.Errorf("control_plane.url is required")
	}
	if c.ControlPlane.Secret == "" {
		return fmt.Errorf("control_plane.secret is required")
	}
	if !types.IsKnownAgent(c.Agent.ID) {
		return fmt.Errorf("agent.id %q is not a roster member", c.Agent.ID)
	}
	if c.Health.HeartbeatInterval < time.Second {
		return fmt.Errorf("health.heartbeat_interval must be at least 1s")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the PULSE_AGENT_ prefix:
// - PULSE_AGENT_CONTROL_PLANE_URL
// - PULSE_AGENT_SECRET
// - PULSE_AGENT_ID
// - PULSE_AGENT_HEARTBEAT_INTERVAL (Go duration, e.g. 15s)
// - PULSE_AGENT_TAGS (JSON object, e.g., '{"datacenter":"NYC1"}')
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PULSE_AGENT_CONTROL_PLANE_URL"); v != "" {
		c.ControlPlane.URL = v
	}
	if v := os.Getenv("PULSE_AGENT_SECRET"); v != "" {
		c.ControlPlane.Secret = v
	}
	if v := os.Getenv("PULSE_AGENT_ID"); v != "" {
		c.Agent.ID = v
	}
	if v := os.Getenv("PULSE_AGENT_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Health.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("PULSE_AGENT_SEND_ATTEMPTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.ControlPlane.SendAttempts = uint(n)
		}
	}
	if v := os.Getenv("PULSE_AGENT_TAGS"); v != "" {
		var tags map[string]string
		if err := json.Unmarshal([]byte(v), &tags); err == nil {
			if c.Agent.Tags == nil {
				c.Agent.Tags = make(map[string]string)
			}
			for k, val := range tags {
				c.Agent.Tags[k] = val
			}
		}
	}
}

// Package config handles agent configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (DEPLOYHUB_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	hub:
//	  url: https://deployhub.internal
//	  token: dhub_xxx
//
//	agent:
//	  name: cluster-east-01
//	  cluster_id: cluster-east
//	  environment: production
//
//	polling:
//	  plan_poll_interval: 10s
//	  report_retry_max: 5
//
//	health:
//	  heartbeat_interval: 30s
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete agent configuration.
type Config struct {
	Hub     HubConfig     `yaml:"hub"`
	Agent   AgentConfig   `yaml:"agent"`
	Polling PollingConfig `yaml:"polling"`
	Health  HealthConfig  `yaml:"health"`
	Driver  DriverConfig  `yaml:"driver"`
}

// HubConfig defines how to connect to the hub.
type HubConfig struct {
	URL   string `yaml:"url"`   // e.g., https://deployhub.internal
	Token string `yaml:"token"` // Bearer token from registration

	// TLS settings
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	// Timeouts
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// AgentConfig defines agent identity and placement.
type AgentConfig struct {
	ID          string `yaml:"id,omitempty"` // Assigned at registration if empty
	Name        string `yaml:"name"`         // Unique agent name
	ClusterID   string `yaml:"cluster_id"`   // Cluster this agent executes plans for
	Environment string `yaml:"environment"`  // e.g. "staging", "production"
}

// PollingConfig defines plan polling and report retry behavior.
type PollingConfig struct {
	// PlanPollInterval is how often to ask the hub for dispatched plans.
	PlanPollInterval time.Duration `yaml:"plan_poll_interval"`

	// ReportRetryMax bounds the exponential backoff when an outcome
	// report fails to reach the hub.
	ReportRetryMax int `yaml:"report_retry_max"`

	// ReportRetryBase is the initial backoff between report attempts.
	ReportRetryBase time.Duration `yaml:"report_retry_base"`
}

// HealthConfig defines heartbeat behavior.
type HealthConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DriverConfig selects and configures the operation driver.
type DriverConfig struct {
	// Kind selects the driver: "exec" (default) runs a command per
	// operation, "noop" logs operations without executing them.
	Kind string `yaml:"kind,omitempty"`

	// Command is the executable invoked by the exec driver.
	Command string `yaml:"command,omitempty"`

	// Timeout bounds a single operation.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			RequestTimeout: 30 * time.Second,
		},
		Polling: PollingConfig{
			PlanPollInterval: 10 * time.Second,
			ReportRetryMax:   5,
			ReportRetryBase:  time.Second,
		},
		Health: HealthConfig{
			HeartbeatInterval: 30 * time.Second,
		},
		Driver: DriverConfig{
			Kind:    "exec",
			Timeout: 10 * time.Minute,
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
	if c.Hub.URL == "" {
		return fmt.Errorf("hub.url is required")
	}
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Agent.ClusterID == "" {
		return fmt.Errorf("agent.cluster_id is required")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the DEPLOYHUB_ prefix:
// - DEPLOYHUB_HUB_URL
// - DEPLOYHUB_HUB_TOKEN
// - DEPLOYHUB_AGENT_ID
// - DEPLOYHUB_AGENT_NAME
// - DEPLOYHUB_AGENT_CLUSTER_ID
// - DEPLOYHUB_AGENT_ENVIRONMENT
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DEPLOYHUB_HUB_URL"); v != "" {
		c.Hub.URL = v
	}
	if v := os.Getenv("DEPLOYHUB_HUB_TOKEN"); v != "" {
		c.Hub.Token = v
	}
	if v := os.Getenv("DEPLOYHUB_AGENT_ID"); v != "" {
		c.Agent.ID = v
	}
	if v := os.Getenv("DEPLOYHUB_AGENT_NAME"); v != "" {
		c.Agent.Name = v
	}
	if v := os.Getenv("DEPLOYHUB_AGENT_CLUSTER_ID"); v != "" {
		c.Agent.ClusterID = v
	}
	if v := os.Getenv("DEPLOYHUB_AGENT_ENVIRONMENT"); v != "" {
		c.Agent.Environment = v
	}
}

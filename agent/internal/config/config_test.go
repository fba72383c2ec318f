package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Polling.PlanPollInterval != 10*time.Second {
		t.Errorf("unexpected default poll interval: %v", cfg.Polling.PlanPollInterval)
	}
	if cfg.Health.HeartbeatInterval != 30*time.Second {
		t.Errorf("unexpected default heartbeat interval: %v", cfg.Health.HeartbeatInterval)
	}
	if cfg.Driver.Kind != "exec" {
		t.Errorf("unexpected default driver: %q", cfg.Driver.Kind)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
hub:
  url: https://hub.example.com
  token: dhub_test

agent:
  name: test-agent
  cluster_id: cluster-1
  environment: staging

polling:
  plan_poll_interval: 5s

driver:
  kind: noop
`
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Hub.URL != "https://hub.example.com" {
		t.Errorf("unexpected hub url: %q", cfg.Hub.URL)
	}
	if cfg.Agent.ClusterID != "cluster-1" {
		t.Errorf("unexpected cluster: %q", cfg.Agent.ClusterID)
	}
	if cfg.Polling.PlanPollInterval != 5*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.Polling.PlanPollInterval)
	}
	if cfg.Driver.Kind != "noop" {
		t.Errorf("unexpected driver: %q", cfg.Driver.Kind)
	}

	// Unset values keep defaults.
	if cfg.Health.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected default heartbeat interval, got %v", cfg.Health.HeartbeatInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing hub url")
	}

	cfg.Hub.URL = "https://hub.example.com"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing agent name")
	}

	cfg.Agent.Name = "test-agent"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing cluster_id")
	}

	cfg.Agent.ClusterID = "cluster-1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DEPLOYHUB_HUB_URL", "https://env.example.com")
	t.Setenv("DEPLOYHUB_AGENT_CLUSTER_ID", "cluster-env")

	cfg := DefaultConfig()
	cfg.Hub.URL = "https://file.example.com"
	cfg.ApplyEnvOverrides()

	if cfg.Hub.URL != "https://env.example.com" {
		t.Errorf("env override not applied: %q", cfg.Hub.URL)
	}
	if cfg.Agent.ClusterID != "cluster-env" {
		t.Errorf("env override not applied: %q", cfg.Agent.ClusterID)
	}
}

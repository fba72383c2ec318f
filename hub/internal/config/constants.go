// Package config provides configuration constants for the hub.
//
// This package centralizes hardcoded values that would otherwise be
// scattered throughout the codebase, making them easier to find, modify,
// and test.
package config

import "time"

// Agent health thresholds determine agent status based on heartbeat age.
const (
	// AgentDegradedThreshold - agent is considered degraded if no heartbeat
	// has been received within this duration.
	AgentDegradedThreshold = 2 * time.Minute

	// AgentOfflineThreshold - agent is considered offline if no heartbeat
	// has been received within this duration.
	AgentOfflineThreshold = 10 * time.Minute
)

// Background worker cadences.
const (
	// DefaultEvaluateInterval is how often the drift-detection pass runs
	// over the full catalog.
	DefaultEvaluateInterval = 2 * time.Minute

	// DefaultSweepInterval is how often the sweep worker checks for stuck
	// plans and stale agents.
	DefaultSweepInterval = 1 * time.Minute

	// DefaultReportTimeout is how long a dispatched plan may go without an
	// agent report before it is flagged stuck.
	DefaultReportTimeout = 30 * time.Minute

	// DefaultWindowRefreshInterval is how often maintenance window
	// definitions are re-validated.
	DefaultWindowRefreshInterval = 10 * time.Minute
)

// Approval defaults.
const (
	// DefaultApprovalTTL is applied when an approval rule does not specify
	// its own expiry for collected approvals.
	DefaultApprovalTTL = 24 * time.Hour
)

// HTTP server configuration.
const (
	// DefaultListenAddr is the default bind address for the API server.
	DefaultListenAddr = ":8080"

	// DefaultHTTPTimeout is the default timeout for outbound HTTP client
	// requests (catalog lookups, webhook delivery).
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultCatalogCacheTTL bounds how stale a cached registry entity may
	// be. Kept well under DefaultEvaluateInterval so consecutive evaluation
	// passes see fresh desired state.
	DefaultCatalogCacheTTL = 30 * time.Second

	// ShutdownTimeout is how long to wait for in-flight requests during
	// graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

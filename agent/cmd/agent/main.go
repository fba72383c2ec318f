// Command agent runs the DeployHub execution agent.
//
// # Usage
//
//	agent --hub https://deployhub.internal --name cluster-east-01 --cluster cluster-east
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (DEPLOYHUB_*)
// - Config file (--config)
//
// # Examples
//
// Run with flags:
//
//	agent --hub https://deployhub.internal \
//	      --name cluster-east-01 \
//	      --cluster cluster-east \
//	      --environment production \
//	      --driver-command /usr/local/bin/deploy-op
//
// Run with config file:
//
//	agent --config /etc/deployhub/agent.yaml
//
// Run with environment variables:
//
//	DEPLOYHUB_HUB_URL=https://deployhub.internal \
//	DEPLOYHUB_AGENT_NAME=my-agent \
//	DEPLOYHUB_AGENT_CLUSTER_ID=cluster-east \
//	agent
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/deployhub/agent/internal/client"
	"github.com/fleetops/deployhub/agent/internal/config"
	"github.com/fleetops/deployhub/agent/internal/driver"
	"github.com/fleetops/deployhub/agent/internal/runner"
)

// Version is stamped at build time.
var Version = "0.1.0"

func main() {
	var (
		configFile  = flag.String("config", "", "Path to config file")
		hubURL      = flag.String("hub", "", "Hub URL")
		token       = flag.String("token", "", "Bearer token from a previous registration")
		name        = flag.String("name", "", "Agent name")
		cluster     = flag.String("cluster", "", "Cluster this agent executes plans for")
		environment = flag.String("environment", "", "Environment (staging, production, ...)")
		driverKind  = flag.String("driver", "", "Driver kind (exec, noop)")
		driverCmd   = flag.String("driver-command", "", "Command for the exec driver")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		version     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("deployhub-agent %s\n", Version)
		os.Exit(0)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Load configuration
	cfg := config.DefaultConfig()

	if *configFile != "" {
		fileCfg, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	cfg.ApplyEnvOverrides()

	// Apply flag overrides
	if *hubURL != "" {
		cfg.Hub.URL = *hubURL
	}
	if *token != "" {
		cfg.Hub.Token = *token
	}
	if *name != "" {
		cfg.Agent.Name = *name
	}
	if *cluster != "" {
		cfg.Agent.ClusterID = *cluster
	}
	if *environment != "" {
		cfg.Agent.Environment = *environment
	}
	if *driverKind != "" {
		cfg.Driver.Kind = *driverKind
	}
	if *driverCmd != "" {
		cfg.Driver.Command = *driverCmd
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	hub := client.NewClient(client.Config{
		BaseURL:            cfg.Hub.URL,
		AuthToken:          cfg.Hub.Token,
		AgentID:            cfg.Agent.ID,
		InsecureSkipVerify: cfg.Hub.InsecureSkipVerify,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := hub.Ping(ctx); err != nil {
		logger.Error("hub unreachable", "url", cfg.Hub.URL, "error", err)
		cancel()
		os.Exit(1)
	}

	// Register when this agent has no identity yet. The issued token is
	// printed once so the operator can persist it for restarts.
	if cfg.Agent.ID == "" || cfg.Hub.Token == "" {
		resp, err := hub.Register(ctx, client.RegisterRequest{
			ID:          cfg.Agent.ID,
			Name:        cfg.Agent.Name,
			ClusterID:   cfg.Agent.ClusterID,
			Environment: cfg.Agent.Environment,
			Version:     Version,
		})
		if err != nil {
			logger.Error("registration failed", "error", err)
			cancel()
			os.Exit(1)
		}
		logger.Info("registered with hub",
			"agent_id", resp.Agent.ID,
			"cluster_id", resp.Agent.ClusterID)
		fmt.Fprintf(os.Stderr, "agent token (save for restarts): %s\n", resp.Token)
	}
	cancel()

	var drv driver.Driver
	switch cfg.Driver.Kind {
	case "", "exec":
		drv = driver.NewExecDriver(cfg.Driver.Command, cfg.Driver.Timeout, logger)
	case "noop":
		drv = driver.NewNoopDriver(logger)
	default:
		logger.Error("unknown driver", "kind", cfg.Driver.Kind)
		os.Exit(1)
	}

	run := runner.New(hub, drv, runner.Config{
		PollInterval:      cfg.Polling.PlanPollInterval,
		HeartbeatInterval: cfg.Health.HeartbeatInterval,
		ReportRetryMax:    cfg.Polling.ReportRetryMax,
		ReportRetryBase:   cfg.Polling.ReportRetryBase,
		Version:           Version,
	}, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	run.Start(runCtx)
	logger.Info("agent started",
		"agent_id", hub.AgentID(),
		"cluster_id", cfg.Agent.ClusterID,
		"driver", drv.Kind())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	runCancel()
	run.Stop()
	logger.Info("shutdown complete")
}

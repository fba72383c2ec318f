// Command server runs the DeployHub orchestration hub.
//
// # Usage
//
//	server --database postgres://localhost/deployhub --port 8080
//
// # Configuration
//
// The server can be configured via:
// - Command-line flags
// - Environment variables (DEPLOYHUB_*)
//
// Without --database the hub persists state to a local JSON file, which is
// intended for development and single-node deployments.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetops/deployhub/db/migrate"
	"github.com/fleetops/deployhub/hub/internal/api"
	"github.com/fleetops/deployhub/hub/internal/approval"
	"github.com/fleetops/deployhub/hub/internal/cache"
	"github.com/fleetops/deployhub/hub/internal/catalog"
	"github.com/fleetops/deployhub/hub/internal/config"
	"github.com/fleetops/deployhub/hub/internal/constraint"
	"github.com/fleetops/deployhub/hub/internal/dispatch"
	"github.com/fleetops/deployhub/hub/internal/engine"
	"github.com/fleetops/deployhub/hub/internal/events"
	"github.com/fleetops/deployhub/hub/internal/secrets"
	"github.com/fleetops/deployhub/hub/internal/store"
	"github.com/fleetops/deployhub/hub/internal/worker"
	"github.com/fleetops/deployhub/pkg/types"
)

// hubStore is the full persistence surface the server wires together.
// Both the Postgres store and the file-backed store satisfy it.
type hubStore interface {
	api.Store

	CreatePlan(ctx context.Context, p *types.Plan) error
	UpdatePlan(ctx context.Context, p *types.Plan) error
	UpdatePlanStateCAS(ctx context.Context, id string, from, to types.PlanState) (bool, error)
	GetActivePlan(ctx context.Context, entityID string) (*types.Plan, error)
	AppendTransition(ctx context.Context, t *types.PlanTransition) error
	ListPlansByCluster(ctx context.Context, clusterID string, state types.PlanState) ([]*types.Plan, error)
}

func main() {
	var (
		port       = flag.Int("port", 8080, "HTTP server port")
		dbURL      = flag.String("database", "", "Database URL (postgres://...)")
		stateFile  = flag.String("state", "deployhub-state.json", "State file path when no database is configured")
		redisURL   = flag.String("redis", "", "Redis URL for caching and outcome dedup (redis://...)")
		catalogURL = flag.String("catalog-url", "", "Remote entity registry URL (default: built-in registry)")
		rulesFile  = flag.String("rules", "", "Approval rules YAML file")
		webhookURL = flag.String("webhook-url", "", "Webhook URL for plan lifecycle events")
		agentAuth  = flag.Bool("agent-auth", false, "Enforce agent bearer token authentication")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("deployhub-server v0.1.0")
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

	if *dbURL == "" {
		*dbURL = os.Getenv("DEPLOYHUB_DATABASE_URL")
	}
	if *redisURL == "" {
		*redisURL = os.Getenv("DEPLOYHUB_REDIS_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Persistence: Postgres when configured, local file otherwise.
	var st hubStore
	if *dbURL != "" {
		db, err := store.NewStoreFromURL(ctx, *dbURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			logger.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		if err := migrate.Run(ctx, db.Pool(), logger); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		st = db
	} else {
		fs, err := store.OpenFile(*stateFile)
		if err != nil {
			logger.Error("failed to open state file", "path", *stateFile, "error", err)
			os.Exit(1)
		}
		logger.Info("using file-backed store", "path", *stateFile)
		st = fs
	}

	// Redis is optional: without it, outcome dedup is per-process and
	// registry lookups are uncached.
	var dedup dispatch.Deduper = dispatch.NewMemoryDeduper()
	var redisCache *cache.Cache
	if *redisURL != "" {
		c, err := cache.New(*redisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory outcome dedup", "error", err)
		} else {
			redisCache = c
			defer redisCache.Close()
			dedup = dispatch.NewRedisDeduper(redisCache.Client(), dispatch.DefaultDedupTTL)
			logger.Info("connected to redis")
		}
	}

	// Entity registry: remote when configured, otherwise the hub's own store.
	var cat catalog.Catalog = catalog.NewStoreCatalog(st)
	if *catalogURL != "" {
		clientCfg := catalog.ClientConfig{
			BaseURL:   *catalogURL,
			AuthToken: os.Getenv("DEPLOYHUB_CATALOG_TOKEN"),
			Timeout:   config.DefaultHTTPTimeout,
		}
		if redisCache != nil {
			clientCfg.Cache = redisCache
			clientCfg.CacheTTL = config.DefaultCatalogCacheTTL
		}
		cat = catalog.NewClient(clientCfg, logger)
		logger.Info("using remote entity registry", "url", *catalogURL, "cached", redisCache != nil)
	}

	rules, err := loadApprovalRules(*rulesFile)
	if err != nil {
		logger.Error("failed to load approval rules", "path", *rulesFile, "error", err)
		os.Exit(1)
	}
	if len(rules) > 0 {
		logger.Info("loaded approval rules", "count", len(rules))
	}

	bus := events.NewBus(events.DefaultDeliveryTimeout, logger)
	bus.Register(logEvents(logger))
	if *webhookURL != "" {
		bus.Register(webhookEvents(*webhookURL, logger))
		logger.Info("event webhook enabled", "url", *webhookURL)
	}

	eng := engine.New(engine.Config{
		Store:       st,
		Catalog:     cat,
		Constraints: constraint.NewStoreSource(st, cat),
		Router:      approval.NewRouter(rules, config.DefaultApprovalTTL),
		Dedup:       dedup,
		Bus:         bus,
		Logger:      logger,
	})

	keys, err := secrets.NewKeyStore(secrets.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to initialize credential store", "error", err)
		os.Exit(1)
	}
	defer keys.Close()

	apiServer := api.NewServer(st, eng, dispatch.NewDispatcher(st, logger), keys, logger)
	if *agentAuth {
		apiServer.EnableAgentAuth()
	}

	// Background workers: drift detection, stuck-plan sweep, window refresh.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reevaluate := worker.NewReevaluateWorker(eng, worker.ReevaluateWorkerConfig{
		Interval: config.DefaultEvaluateInterval,
	}, logger)
	reevaluate.Start(workerCtx)
	defer reevaluate.Stop()

	sweep := worker.NewSweepWorker(st, worker.SweepWorkerConfig{
		Interval:           config.DefaultSweepInterval,
		ReportTimeout:      config.DefaultReportTimeout,
		AgentDegradedAfter: config.AgentDegradedThreshold,
		AgentOfflineAfter:  config.AgentOfflineThreshold,
	}, logger)
	sweep.Start(workerCtx)
	defer sweep.Stop()

	windows := worker.NewWindowWorker(st, worker.WindowWorkerConfig{
		Interval: config.DefaultWindowRefreshInterval,
	}, logger)
	windows.Start(workerCtx)
	defer windows.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", *port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// approvalRuleSpec is the YAML shape of one approval rule.
type approvalRuleSpec struct {
	Name          string   `yaml:"name"`
	Environments  []string `yaml:"environments"`
	PlanTypes     []string `yaml:"plan_types"`
	Criticalities []string `yaml:"criticalities"`

	RequiredRoles     []string `yaml:"required_roles"`
	RequiredApprovers int      `yaml:"required_approvers"`
}

func loadApprovalRules(path string) ([]types.ApprovalRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var doc struct {
		Rules []approvalRuleSpec `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	rules := make([]types.ApprovalRule, 0, len(doc.Rules))
	for _, spec := range doc.Rules {
		rule := types.ApprovalRule{
			Name:              spec.Name,
			Environments:      spec.Environments,
			Criticalities:     spec.Criticalities,
			RequiredRoles:     spec.RequiredRoles,
			RequiredApprovers: spec.RequiredApprovers,
		}
		for _, pt := range spec.PlanTypes {
			rule.PlanTypes = append(rule.PlanTypes, types.PlanType(pt))
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// logEvents writes every plan lifecycle event to the log.
func logEvents(logger *slog.Logger) events.Listener {
	return func(ctx context.Context, ev types.Event) {
		logger.Info("event",
			"type", ev.Type,
			"entity_id", ev.EntityID,
			"plan_id", ev.PlanID)
	}
}

// webhookEvents POSTs each event as JSON to the configured URL. Delivery is
// best-effort; failures are logged and dropped.
func webhookEvents(url string, logger *slog.Logger) events.Listener {
	client := &http.Client{Timeout: config.DefaultHTTPTimeout}
	return func(ctx context.Context, ev types.Event) {
		body, err := json.Marshal(ev)
		if err != nil {
			logger.Warn("failed to encode event", "error", err)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			logger.Warn("failed to build webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("webhook delivery failed", "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Warn("webhook rejected event", "status", resp.StatusCode)
		}
	}
}

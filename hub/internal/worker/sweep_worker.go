package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// SweepStore defines the storage interface for the sweep worker.
type SweepStore interface {
	ListPlansByState(ctx context.Context, state types.PlanState) ([]*types.Plan, error)
	UpdatePlan(ctx context.Context, p *types.Plan) error
	AppendTransition(ctx context.Context, t *types.PlanTransition) error

	ListAgents(ctx context.Context) ([]*types.Agent, error)
	TouchAgentHeartbeat(ctx context.Context, id string, status types.AgentStatus, at time.Time) error
}

// SweepWorkerConfig holds configuration for the sweep worker.
type SweepWorkerConfig struct {
	// Interval between sweep runs.
	Interval time.Duration

	// ReportTimeout is how long an EXECUTING plan may wait for an agent
	// report before being flagged stuck.
	ReportTimeout time.Duration

	// AgentDegradedAfter / AgentOfflineAfter classify agents by heartbeat
	// age.
	AgentDegradedAfter time.Duration
	AgentOfflineAfter  time.Duration
}

// DefaultSweepWorkerConfig returns sensible defaults.
func DefaultSweepWorkerConfig() SweepWorkerConfig {
	return SweepWorkerConfig{
		Interval:           time.Minute,
		ReportTimeout:      30 * time.Minute,
		AgentDegradedAfter: 2 * time.Minute,
		AgentOfflineAfter:  10 * time.Minute,
	}
}

// SweepWorker flags executing plans that never received a report and
// downgrades agents whose heartbeats have gone quiet. Stuck plans are
// surfaced for operators, never retried; their state machine is untouched.
type SweepWorker struct {
	store  SweepStore
	config SweepWorkerConfig
	logger *slog.Logger
	stopCh chan struct{}
}

// NewSweepWorker creates a new sweep worker.
func NewSweepWorker(store SweepStore, config SweepWorkerConfig, logger *slog.Logger) *SweepWorker {
	return &SweepWorker{
		store:  store,
		config: config,
		logger: logger.With("component", "sweep_worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the worker in a goroutine.
func (w *SweepWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop.
func (w *SweepWorker) Stop() {
	close(w.stopCh)
}

func (w *SweepWorker) run(ctx context.Context) {
	w.logger.Info("sweep worker started",
		"interval", w.config.Interval,
		"report_timeout", w.config.ReportTimeout)

	// Run immediately on start
	w.runOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweep worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("sweep worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	stuck := w.flagStuckPlans(ctx)
	downgraded := w.sweepAgents(ctx)
	if stuck > 0 || downgraded > 0 {
		w.logger.Info("sweep complete", "stuck_plans", stuck, "agents_downgraded", downgraded)
	}
}

func (w *SweepWorker) flagStuckPlans(ctx context.Context) int {
	executing, err := w.store.ListPlansByState(ctx, types.PlanExecuting)
	if err != nil {
		w.logger.Error("listing executing plans failed", "error", err)
		return 0
	}

	now := time.Now()
	flagged := 0
	for _, p := range executing {
		if p.Stuck || p.DispatchedAt == nil {
			continue
		}
		age := now.Sub(*p.DispatchedAt)
		if age < w.config.ReportTimeout {
			continue
		}

		p.Stuck = true
		if err := w.store.UpdatePlan(ctx, p); err != nil {
			w.logger.Error("flagging stuck plan failed", "plan_id", p.ID, "error", err)
			continue
		}
		w.store.AppendTransition(ctx, &types.PlanTransition{
			PlanID:      p.ID,
			FromState:   types.PlanExecuting,
			ToState:     types.PlanExecuting,
			Reason:      "no agent report within timeout",
			TriggeredBy: "sweep",
			CreatedAt:   now,
		})
		w.logger.Error("plan stuck: no agent report",
			"plan_id", p.ID, "entity_id", p.EntityID, "cluster_id", p.ClusterID,
			"dispatched_age", age)
		flagged++
	}
	return flagged
}

func (w *SweepWorker) sweepAgents(ctx context.Context) int {
	agents, err := w.store.ListAgents(ctx)
	if err != nil {
		w.logger.Error("listing agents failed", "error", err)
		return 0
	}

	now := time.Now()
	downgraded := 0
	for _, a := range agents {
		age := now.Sub(a.LastHeartbeat)
		var want types.AgentStatus
		switch {
		case age >= w.config.AgentOfflineAfter:
			want = types.AgentStatusOffline
		case age >= w.config.AgentDegradedAfter:
			want = types.AgentStatusDegraded
		default:
			continue
		}
		if a.Status == want {
			continue
		}
		if err := w.store.TouchAgentHeartbeat(ctx, a.ID, want, a.LastHeartbeat); err != nil {
			w.logger.Error("downgrading agent failed", "agent_id", a.ID, "error", err)
			continue
		}
		w.logger.Warn("agent heartbeat stale", "agent_id", a.ID, "status", want, "heartbeat_age", age)
		downgraded++
	}
	return downgraded
}

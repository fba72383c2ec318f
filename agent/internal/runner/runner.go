// Package runner drives the agent's poll/execute/report cycle.
//
// The runner polls the hub for dispatched plans, hands each plan to the
// configured driver exactly once, and reports the outcome. The hub keeps
// a plan visible until its outcome report is applied, so the runner
// tracks what it has already executed and re-reports finished outcomes
// instead of re-running them; the hub deduplicates on its side.
package runner

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/fleetops/deployhub/agent/internal/client"
	"github.com/fleetops/deployhub/agent/internal/driver"
	"github.com/fleetops/deployhub/pkg/types"
)

// HubClient is the slice of the hub API the runner needs.
type HubClient interface {
	AgentID() string
	PollPlans(ctx context.Context) ([]types.DispatchedPlan, error)
	ReportOutcome(ctx context.Context, outcome types.Outcome) error
	Heartbeat(ctx context.Context, hb types.Heartbeat) (*client.HeartbeatResponse, error)
}

// Config for the runner.
type Config struct {
	// PollInterval between plan polls.
	PollInterval time.Duration

	// HeartbeatInterval between health reports.
	HeartbeatInterval time.Duration

	// ReportRetryMax bounds outcome report retries; ReportRetryBase is
	// the initial backoff, doubled per attempt with jitter.
	ReportRetryMax  int
	ReportRetryBase time.Duration

	// Version reported in heartbeats.
	Version string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReportRetryMax:    5,
		ReportRetryBase:   time.Second,
	}
}

// Runner executes dispatched plans and reports outcomes.
type Runner struct {
	hub    HubClient
	driver driver.Driver
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool          // plan ID -> currently executing
	done     map[string]types.Outcome // plan ID -> reported outcome, kept until the plan stops appearing in polls
	health   map[string]types.HealthSnapshot

	plansCompleted int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a runner.
func New(hub HubClient, drv driver.Driver, config Config, logger *slog.Logger) *Runner {
	return &Runner{
		hub:      hub,
		driver:   drv,
		config:   config,
		logger:   logger.With("component", "runner"),
		inflight: make(map[string]bool),
		done:     make(map[string]types.Outcome),
		health:   make(map[string]types.HealthSnapshot),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the poll and heartbeat loops.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.pollLoop(ctx)
	go r.heartbeatLoop(ctx)
}

// Stop signals the loops to exit and waits for in-flight work.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runner) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	r.logger.Info("poll loop started",
		"interval", r.config.PollInterval,
		"driver", r.driver.Kind())

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.pollOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.pollOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("poll loop stopping")
			return
		case <-ctx.Done():
			r.logger.Info("poll loop stopping", "reason", "context cancelled")
			return
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	plans, err := r.hub.PollPlans(ctx)
	if err != nil {
		r.logger.Warn("plan poll failed", "error", err)
		return
	}

	visible := make(map[string]bool, len(plans))
	for _, plan := range plans {
		visible[plan.PlanID] = true

		r.mu.Lock()
		if r.inflight[plan.PlanID] {
			r.mu.Unlock()
			continue
		}
		if outcome, ok := r.done[plan.PlanID]; ok {
			r.mu.Unlock()
			// Already executed; the hub is still waiting for the report.
			r.report(ctx, outcome)
			continue
		}
		r.inflight[plan.PlanID] = true
		r.mu.Unlock()

		r.wg.Add(1)
		go func(plan types.DispatchedPlan) {
			defer r.wg.Done()
			r.execute(ctx, plan)
		}(plan)
	}

	// Plans that stopped appearing have had their outcome applied; the
	// record is no longer needed.
	r.mu.Lock()
	for id := range r.done {
		if !visible[id] {
			delete(r.done, id)
		}
	}
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, plan types.DispatchedPlan) {
	start := time.Now()
	observed, err := r.driver.Apply(ctx, plan)

	outcome := types.Outcome{
		PlanID:          plan.PlanID,
		AgentID:         r.hub.AgentID(),
		Success:         err == nil,
		ObservedVersion: observed,
		Duration:        time.Since(start),
		CompletedAt:     time.Now().UTC(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}

	r.mu.Lock()
	delete(r.inflight, plan.PlanID)
	r.done[plan.PlanID] = outcome
	r.plansCompleted++
	if plan.Operation == types.OperationRemove {
		delete(r.health, plan.EntityID)
	} else {
		status := "healthy"
		if err != nil {
			status = "unhealthy"
		}
		r.health[plan.EntityID] = types.HealthSnapshot{Status: status}
	}
	r.mu.Unlock()

	r.report(ctx, outcome)
}

// report delivers an outcome with exponential backoff. Reports are safe
// to repeat; the hub applies each outcome at most once.
func (r *Runner) report(ctx context.Context, outcome types.Outcome) {
	backoff := r.config.ReportRetryBase
	for attempt := 0; ; attempt++ {
		err := r.hub.ReportOutcome(ctx, outcome)
		if err == nil {
			return
		}
		if attempt >= r.config.ReportRetryMax {
			r.logger.Error("giving up on outcome report until next poll",
				"plan_id", outcome.PlanID,
				"attempts", attempt+1,
				"error", err)
			return
		}

		r.logger.Warn("outcome report failed, retrying",
			"plan_id", outcome.PlanID,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		select {
		case <-time.After(backoff + jitter):
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
		backoff *= 2
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	r.sendHeartbeat(ctx)

	for {
		select {
		case <-ticker.C:
			r.sendHeartbeat(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) sendHeartbeat(ctx context.Context) {
	hb := types.Heartbeat{
		AgentID:        r.hub.AgentID(),
		Timestamp:      time.Now().UTC(),
		Version:        r.config.Version,
		Status:         types.AgentStatusActive,
		GoroutineCount: runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			hb.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			hb.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
	}

	r.mu.Lock()
	hb.PlansExecuting = len(r.inflight)
	hb.PlansCompleted = r.plansCompleted
	if len(r.health) > 0 {
		hb.EntityHealth = make(map[string]types.HealthSnapshot, len(r.health))
		for id, snapshot := range r.health {
			hb.EntityHealth[id] = snapshot
		}
	}
	r.mu.Unlock()

	resp, err := r.hub.Heartbeat(ctx, hb)
	if err != nil {
		r.logger.Warn("heartbeat failed", "error", err)
		return
	}

	// Waiting work cuts the poll latency: fetch immediately rather than
	// waiting for the next tick.
	if resp.PlansWaiting > 0 {
		r.pollOnce(ctx)
	}
}

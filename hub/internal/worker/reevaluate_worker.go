// Package worker provides background workers for the hub.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// Evaluator is the slice of the engine the reevaluation worker drives.
type Evaluator interface {
	EvaluateAll(ctx context.Context) ([]*types.Plan, error)
}

// ReevaluateWorkerConfig holds configuration for the reevaluation worker.
type ReevaluateWorkerConfig struct {
	// Interval between full-catalog evaluation passes.
	Interval time.Duration
}

// DefaultReevaluateWorkerConfig returns sensible defaults.
func DefaultReevaluateWorkerConfig() ReevaluateWorkerConfig {
	return ReevaluateWorkerConfig{
		Interval: 2 * time.Minute,
	}
}

// ReevaluateWorker periodically re-runs full-catalog evaluation so drift is
// detected and blocked plans are promoted once their constraints clear.
//
// Passes are single-flight: if a pass is still running when the ticker
// fires, the tick is skipped rather than queued, bounding worst-case load
// on the catalog.
type ReevaluateWorker struct {
	engine  Evaluator
	config  ReevaluateWorkerConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	running atomic.Bool
}

// NewReevaluateWorker creates a new reevaluation worker.
func NewReevaluateWorker(engine Evaluator, config ReevaluateWorkerConfig, logger *slog.Logger) *ReevaluateWorker {
	return &ReevaluateWorker{
		engine: engine,
		config: config,
		logger: logger.With("component", "reevaluate_worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the worker in a goroutine.
func (w *ReevaluateWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop.
func (w *ReevaluateWorker) Stop() {
	close(w.stopCh)
}

func (w *ReevaluateWorker) run(ctx context.Context) {
	w.logger.Info("reevaluate worker started", "interval", w.config.Interval)

	// Run immediately on start
	w.runOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reevaluate worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("reevaluate worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReevaluateWorker) runOnce(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Warn("previous evaluation pass still running, skipping tick")
		return
	}
	defer w.running.Store(false)

	start := time.Now()
	plans, err := w.engine.EvaluateAll(ctx)
	if err != nil {
		w.logger.Error("evaluation pass failed", "error", err)
		return
	}

	pending, blocked := 0, 0
	for _, p := range plans {
		switch p.State {
		case types.PlanPending:
			pending++
		case types.PlanBlocked:
			blocked++
		}
	}
	w.logger.Info("evaluation pass complete",
		"plans", len(plans), "pending", pending, "blocked", blocked,
		"duration", time.Since(start))
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetops/deployhub/hub/internal/constraint"
	"github.com/fleetops/deployhub/pkg/types"
)

// WindowStore defines the storage interface for the window worker.
type WindowStore interface {
	ListMaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error)
}

// WindowWorkerConfig holds configuration for the window worker.
type WindowWorkerConfig struct {
	// Interval between schedule refresh runs.
	Interval time.Duration
}

// DefaultWindowWorkerConfig returns sensible defaults.
func DefaultWindowWorkerConfig() WindowWorkerConfig {
	return WindowWorkerConfig{
		Interval: 10 * time.Minute,
	}
}

// WindowWorker periodically re-reads maintenance window definitions,
// surfaces definitions that no longer parse (bad cron, unknown timezone)
// and logs which windows are currently open. Misconfigured windows would
// otherwise only be discovered when an evaluation blocks on them.
type WindowWorker struct {
	store  WindowStore
	config WindowWorkerConfig
	logger *slog.Logger
	stopCh chan struct{}
}

// NewWindowWorker creates a new window worker.
func NewWindowWorker(store WindowStore, config WindowWorkerConfig, logger *slog.Logger) *WindowWorker {
	return &WindowWorker{
		store:  store,
		config: config,
		logger: logger.With("component", "window_worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the worker in a goroutine.
func (w *WindowWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop.
func (w *WindowWorker) Stop() {
	close(w.stopCh)
}

func (w *WindowWorker) run(ctx context.Context) {
	w.logger.Info("window worker started", "interval", w.config.Interval)

	// Run immediately on start
	w.runOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("window worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("window worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *WindowWorker) runOnce(ctx context.Context) {
	windows, err := w.store.ListMaintenanceWindows(ctx)
	if err != nil {
		w.logger.Error("listing maintenance windows failed", "error", err)
		return
	}

	now := time.Now()
	open := 0
	for _, win := range windows {
		inside, err := constraint.InWindow(win, now)
		if err != nil {
			w.logger.Error("maintenance window definition invalid",
				"window_id", win.ID, "name", win.Name, "cron", win.Cron, "error", err)
			continue
		}
		if inside {
			w.logger.Info("maintenance window open", "window_id", win.ID, "name", win.Name)
			open++
		}
	}
	w.logger.Debug("window refresh complete", "windows", len(windows), "open", open)
}

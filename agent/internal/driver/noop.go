package driver

import (
	"context"
	"log/slog"

	"github.com/fleetops/deployhub/pkg/types"
)

// NoopDriver logs operations without executing anything. Useful for
// dry runs and for exercising the full hub/agent loop in development.
type NoopDriver struct {
	logger *slog.Logger
}

func NewNoopDriver(logger *slog.Logger) *NoopDriver {
	return &NoopDriver{logger: logger.With("component", "noop_driver")}
}

func (d *NoopDriver) Kind() string { return "noop" }

func (d *NoopDriver) Apply(ctx context.Context, plan types.DispatchedPlan) (string, error) {
	d.logger.Info("would apply operation",
		"plan_id", plan.PlanID,
		"operation", plan.Operation,
		"entity_id", plan.EntityID,
		"target_version", plan.TargetVersion)

	if plan.Operation == types.OperationRemove {
		return "", nil
	}
	return plan.TargetVersion, nil
}

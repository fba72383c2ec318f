// Package dispatch handles the hub side of the agent protocol: resolving
// plans into dispatchable operations, answering agent polls, and
// deduplicating retried outcome reports.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// OperationFor maps a plan type to the operation an agent performs.
func OperationFor(t types.PlanType) types.Operation {
	switch t {
	case types.PlanInstall:
		return types.OperationCreate
	case types.PlanUpgrade, types.PlanConfigUpdate:
		return types.OperationUpdate
	case types.PlanRollback:
		return types.OperationRevert
	case types.PlanUninstall:
		return types.OperationRemove
	}
	return ""
}

// BuildDispatchedPlan resolves a plan against its entity into the payload an
// agent receives. config_update dispatches values-only so the agent applies
// configuration without a version change.
func BuildDispatchedPlan(plan *types.Plan, entity *types.Entity, now time.Time) types.DispatchedPlan {
	return types.DispatchedPlan{
		PlanID:        plan.ID,
		EntityID:      plan.EntityID,
		ProductID:     entity.ProductID,
		Name:          entity.Name,
		Type:          plan.Type,
		Operation:     OperationFor(plan.Type),
		ValuesOnly:    plan.Type == types.PlanConfigUpdate,
		TargetVersion: plan.TargetVersion,
		TargetConfig:  plan.TargetConfig,
		DispatchedAt:  now,
	}
}

// pollStore is the slice of the store the dispatcher reads.
type pollStore interface {
	ListPlansByCluster(ctx context.Context, clusterID string, state types.PlanState) ([]*types.Plan, error)
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
}

// Dispatcher answers agent polls with the executing plans for their cluster.
//
// Polls are idempotent: a plan stays visible until its outcome report lands,
// so an agent that crashes mid-execution sees the plan again on restart and
// the hub relies on outcome dedup rather than poll acknowledgement.
type Dispatcher struct {
	store  pollStore
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the store.
func NewDispatcher(store pollStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		logger: logger.With("component", "dispatch"),
	}
}

// PlansFor returns the dispatchable plans for a cluster, oldest first.
func (d *Dispatcher) PlansFor(ctx context.Context, clusterID string) ([]types.DispatchedPlan, error) {
	plans, err := d.store.ListPlansByCluster(ctx, clusterID, types.PlanExecuting)
	if err != nil {
		return nil, fmt.Errorf("listing executing plans: %w", err)
	}

	var out []types.DispatchedPlan
	for _, p := range plans {
		entity, err := d.store.GetEntity(ctx, p.EntityID)
		if err != nil {
			return nil, fmt.Errorf("resolving entity %s: %w", p.EntityID, err)
		}
		if entity == nil {
			d.logger.Error("executing plan references missing entity", "plan_id", p.ID, "entity_id", p.EntityID)
			continue
		}
		dispatchedAt := time.Now()
		if p.DispatchedAt != nil {
			dispatchedAt = *p.DispatchedAt
		}
		out = append(out, BuildDispatchedPlan(p, entity, dispatchedAt))
	}
	return out, nil
}

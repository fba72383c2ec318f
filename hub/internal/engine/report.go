package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetops/deployhub/pkg/types"
)

// ApplyReport applies an agent's outcome report to the plan and entity state
// machines. Application is idempotent: the same (plan, outcome hash) pair is
// applied exactly once, and reports against non-EXECUTING plans are ignored.
func (e *Engine) ApplyReport(ctx context.Context, outcome *types.Outcome) (*types.Plan, error) {
	if err := outcome.Validate(); err != nil {
		return nil, types.NewValidationError("%v", err)
	}

	plan, err := e.store.GetPlan(ctx, outcome.PlanID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if plan == nil {
		return nil, &types.NotFoundError{Kind: "plan", ID: outcome.PlanID}
	}

	lock := e.entityLock(plan.EntityID)
	lock.Lock()
	defer lock.Unlock()

	recorded := false
	first, err := e.dedup.FirstApplication(ctx, outcome.PlanID, outcome.Hash())
	if err != nil {
		// Dedup store unavailable; the EXECUTING state guard below still
		// prevents double application within this replica.
		e.logger.Error("outcome dedup check failed", "plan_id", outcome.PlanID, "error", err)
	} else if !first {
		e.logger.Debug("duplicate outcome ignored", "plan_id", outcome.PlanID, "agent_id", outcome.AgentID)
		return e.store.GetPlan(ctx, outcome.PlanID)
	} else {
		recorded = true
	}

	applied, err := e.applyOutcome(ctx, outcome)
	if err != nil && recorded {
		// Nothing committed; forget the hash so the agent's retried report
		// is applied rather than swallowed as a duplicate.
		if relErr := e.dedup.Release(ctx, outcome.PlanID, outcome.Hash()); relErr != nil {
			e.logger.Error("releasing outcome dedup record failed",
				"plan_id", outcome.PlanID, "error", relErr)
		}
	}
	return applied, err
}

// applyOutcome runs under the entity lock after the dedup check. Every error
// return happens before any state is persisted.
func (e *Engine) applyOutcome(ctx context.Context, outcome *types.Outcome) (*types.Plan, error) {
	plan, err := e.store.GetPlan(ctx, outcome.PlanID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if plan.State != types.PlanExecuting {
		e.logger.Warn("outcome for non-executing plan ignored",
			"plan_id", plan.ID, "state", plan.State, "agent_id", outcome.AgentID)
		return plan, nil
	}

	entity, err := e.store.GetEntity(ctx, plan.EntityID)
	if err != nil {
		return nil, fmt.Errorf("reading entity: %w", err)
	}

	if outcome.Success {
		return e.applySuccess(ctx, plan, entity, outcome)
	}
	return e.applyFailure(ctx, plan, entity, outcome)
}

func (e *Engine) applySuccess(ctx context.Context, plan *types.Plan, entity *types.Entity, outcome *types.Outcome) (*types.Plan, error) {
	now := e.now()
	plan.State = types.PlanSucceeded
	plan.ObservedVersion = outcome.ObservedVersion
	plan.CompletedAt = &now
	plan.Stuck = false
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("completing plan: %w", err)
	}
	e.recordTransition(ctx, plan.ID, types.PlanExecuting, types.PlanSucceeded, "agent reported success", "agent_report")

	if entity != nil {
		e.applyReportedState(ctx, plan, entity, outcome)
	}

	// A successful rollback retires the plan it compensates for.
	if plan.RollbackOf != "" {
		e.retireRolledBack(ctx, plan.RollbackOf)
	}

	if e.bus != nil {
		e.bus.Emit(types.Event{Type: types.EventPlanCompleted, EntityID: plan.EntityID, PlanID: plan.ID})
	}
	e.logger.Info("plan succeeded", "plan_id", plan.ID, "entity_id", plan.EntityID,
		"type", plan.Type, "observed_version", outcome.ObservedVersion)
	return plan, nil
}

// applyReportedState folds a successful outcome into the entity's reported
// state and lifecycle.
func (e *Engine) applyReportedState(ctx context.Context, plan *types.Plan, entity *types.Entity, outcome *types.Outcome) {
	switch plan.Type {
	case types.PlanUninstall:
		entity.ReportedVersion = ""
		entity.ReportedConfig = nil
		entity.ReportedHealth = ""
		entity.MarkedForRemoval = false
		e.setLifecycle(ctx, entity, types.EntityUnmanaged)
		return
	case types.PlanConfigUpdate:
		entity.ReportedConfig = plan.TargetConfig
	default:
		entity.ReportedVersion = outcome.ObservedVersion
		if entity.ReportedVersion == "" {
			entity.ReportedVersion = plan.TargetVersion
		}
		entity.ReportedConfig = plan.TargetConfig
	}
	if outcome.Health != nil {
		entity.ReportedHealth = outcome.Health.Status
	}

	// setLifecycle persists; when the state is unchanged persist explicitly.
	if entity.Lifecycle != types.EntityRunning {
		e.setLifecycle(ctx, entity, types.EntityRunning)
	} else if err := e.store.UpdateEntity(ctx, entity); err != nil {
		e.logger.Error("persisting reported state failed", "entity_id", entity.ID, "error", err)
	}
}

func (e *Engine) applyFailure(ctx context.Context, plan *types.Plan, entity *types.Entity, outcome *types.Outcome) (*types.Plan, error) {
	now := e.now()
	plan.State = types.PlanFailed
	plan.Error = outcome.Error
	plan.ObservedVersion = outcome.ObservedVersion
	plan.CompletedAt = &now
	plan.Stuck = false
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failing plan: %w", err)
	}
	e.recordTransition(ctx, plan.ID, types.PlanExecuting, types.PlanFailed, outcome.Error, "agent_report")

	if entity != nil {
		if outcome.Health != nil {
			entity.ReportedHealth = outcome.Health.Status
		}
		e.setLifecycle(ctx, entity, types.EntityFailed)
	}

	if e.bus != nil {
		e.bus.Emit(types.Event{Type: types.EventPlanFailed, EntityID: plan.EntityID, PlanID: plan.ID, Error: outcome.Error})
	}
	e.logger.Error("plan failed", "plan_id", plan.ID, "entity_id", plan.EntityID,
		"type", plan.Type, "error", outcome.Error)

	// Failed installs have nothing to roll back to; failed upgrades do.
	if (plan.Type == types.PlanInstall || plan.Type == types.PlanUpgrade) && plan.PreviousVersion != "" && entity != nil {
		if err := e.proposeRollback(ctx, plan, entity); err != nil {
			e.logger.Error("rollback proposal failed", "plan_id", plan.ID, "error", err)
		}
	}
	return plan, nil
}

// proposeRollback creates a rollback plan targeting the version the entity
// ran before the failed plan dispatched. The rollback goes through the same
// constraint and approval gates as any other plan.
func (e *Engine) proposeRollback(ctx context.Context, failed *types.Plan, entity *types.Entity) error {
	now := e.now()
	rollback := &types.Plan{
		ID:            uuid.NewString(),
		EntityID:      entity.ID,
		ClusterID:     entity.ClusterID,
		Type:          types.PlanRollback,
		TargetVersion: failed.PreviousVersion,
		TargetConfig:  entity.ReportedConfig,
		RollbackOf:    failed.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	req := e.router.Resolve(entity, types.PlanRollback)
	rollback.RequiredRoles = req.Roles
	rollback.RequiredApprovers = req.Approvers
	rollback.ApprovalTTL = req.TTL

	result, err := e.checkConstraints(ctx, entity, rollback)
	if err != nil {
		return err
	}
	if result.Satisfied {
		rollback.State = types.PlanPending
	} else {
		rollback.State = types.PlanBlocked
		rollback.Violations = result.Violations
	}

	if err := e.store.CreatePlan(ctx, rollback); err != nil {
		return fmt.Errorf("creating rollback plan: %w", err)
	}
	e.recordTransition(ctx, rollback.ID, "", rollback.State,
		fmt.Sprintf("auto-proposed after failure of plan %s", failed.ID), "evaluation")

	e.logger.Info("rollback proposed", "plan_id", rollback.ID, "rollback_of", failed.ID,
		"entity_id", entity.ID, "target_version", rollback.TargetVersion, "state", rollback.State)
	return nil
}

// retireRolledBack moves the compensated FAILED plan to ROLLED_BACK.
func (e *Engine) retireRolledBack(ctx context.Context, planID string) {
	original, err := e.store.GetPlan(ctx, planID)
	if err != nil || original == nil {
		e.logger.Error("rolled-back plan lookup failed", "plan_id", planID, "error", err)
		return
	}
	if original.State != types.PlanFailed {
		return
	}
	original.State = types.PlanRolledBack
	if err := e.store.UpdatePlan(ctx, original); err != nil {
		e.logger.Error("retiring rolled-back plan failed", "plan_id", planID, "error", err)
		return
	}
	e.recordTransition(ctx, planID, types.PlanFailed, types.PlanRolledBack, "rollback succeeded", "agent_report")
}

// ApplyHealth folds a periodic health observation into the entity lifecycle:
// a degraded or unhealthy report on a RUNNING entity moves it to DEGRADED,
// and a healthy report on a DEGRADED entity moves it back to RUNNING.
func (e *Engine) ApplyHealth(ctx context.Context, entityID string, health types.HealthSnapshot) error {
	lock := e.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := e.store.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("reading entity: %w", err)
	}
	if entity == nil {
		return &types.NotFoundError{Kind: "entity", ID: entityID}
	}

	entity.ReportedHealth = health.Status

	switch health.Status {
	case "degraded", "unhealthy":
		if entity.Lifecycle == types.EntityRunning {
			e.setLifecycle(ctx, entity, types.EntityDegraded)
			return nil
		}
	case "healthy":
		if entity.Lifecycle == types.EntityDegraded {
			e.setLifecycle(ctx, entity, types.EntityRunning)
			return nil
		}
	}

	return e.store.UpdateEntity(ctx, entity)
}

package engine

import (
	"context"
	"fmt"

	"github.com/fleetops/deployhub/hub/internal/approval"
	"github.com/fleetops/deployhub/pkg/types"
)

// ApprovePlan records an approval against a plan's gate. Valid only while
// the plan is PENDING or BLOCKED.
func (e *Engine) ApprovePlan(ctx context.Context, planID, approver, role string) (*types.Plan, error) {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if plan == nil {
		return nil, &types.NotFoundError{Kind: "plan", ID: planID}
	}

	lock := e.entityLock(plan.EntityID)
	lock.Lock()
	defer lock.Unlock()

	plan, err = e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	if plan.State != types.PlanPending && plan.State != types.PlanBlocked {
		return nil, &types.InvalidStateError{PlanID: planID, State: plan.State, Op: "approve"}
	}

	plan.Approvals = append(plan.Approvals, types.Approval{
		Approver:   approver,
		Role:       role,
		ApprovedAt: e.now(),
	})
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("recording approval: %w", err)
	}

	e.logger.Info("approval recorded", "plan_id", planID, "approver", approver, "role", role,
		"approvals", len(plan.Approvals), "required", plan.RequiredApprovers)
	return plan, nil
}

// ExecutePlan moves an approved PENDING plan to EXECUTING and makes it
// visible to the entity's agent. It returns immediately; the transition to
// SUCCEEDED or FAILED happens asynchronously when the agent reports.
func (e *Engine) ExecutePlan(ctx context.Context, planID string) (*types.Plan, error) {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if plan == nil {
		return nil, &types.NotFoundError{Kind: "plan", ID: planID}
	}

	lock := e.entityLock(plan.EntityID)
	lock.Lock()
	defer lock.Unlock()

	plan, err = e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	if plan.State != types.PlanPending {
		return nil, &types.InvalidStateError{PlanID: planID, State: plan.State, Op: "execute"}
	}

	gate := approval.Requirement{
		Roles:     plan.RequiredRoles,
		Approvers: plan.RequiredApprovers,
		TTL:       plan.ApprovalTTL,
	}
	if err := approval.Check(plan.ID, gate, plan.Approvals, e.now()); err != nil {
		return nil, err
	}

	swapped, err := e.store.UpdatePlanStateCAS(ctx, plan.ID, types.PlanPending, types.PlanExecuting)
	if err != nil {
		return nil, fmt.Errorf("transitioning plan: %w", err)
	}
	if !swapped {
		return nil, &types.InvalidStateError{PlanID: planID, State: plan.State, Op: "execute"}
	}

	entity, err := e.store.GetEntity(ctx, plan.EntityID)
	if err != nil {
		return nil, fmt.Errorf("reading entity: %w", err)
	}

	now := e.now()
	plan.State = types.PlanExecuting
	plan.DispatchedAt = &now
	if entity != nil {
		// Captured here so a failure can roll back to what was actually
		// running when this plan dispatched.
		plan.PreviousVersion = entity.ReportedVersion
	}
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("persisting dispatch: %w", err)
	}
	e.recordTransition(ctx, plan.ID, types.PlanPending, types.PlanExecuting, "approved and dispatched", "operator")

	if entity != nil && plan.Type == types.PlanInstall {
		e.setLifecycle(ctx, entity, types.EntityInstalling)
	}

	e.logger.Info("plan dispatched", "plan_id", plan.ID, "entity_id", plan.EntityID, "type", plan.Type)
	return plan, nil
}

// CancelPlan cancels a plan that has not been dispatched. EXECUTING and
// terminal plans cannot be cancelled; the caller must wait for the outcome
// or compensate with a rollback plan afterward.
func (e *Engine) CancelPlan(ctx context.Context, planID, reason string) (*types.Plan, error) {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if plan == nil {
		return nil, &types.NotFoundError{Kind: "plan", ID: planID}
	}

	lock := e.entityLock(plan.EntityID)
	lock.Lock()
	defer lock.Unlock()

	plan, err = e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	if plan.State != types.PlanPending && plan.State != types.PlanBlocked {
		return nil, &types.InvalidStateError{PlanID: planID, State: plan.State, Op: "cancel"}
	}

	from := plan.State
	now := e.now()
	plan.State = types.PlanCancelled
	plan.CompletedAt = &now
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("cancelling plan: %w", err)
	}
	e.recordTransition(ctx, plan.ID, from, types.PlanCancelled, reason, "operator")

	e.logger.Info("plan cancelled", "plan_id", plan.ID, "reason", reason)
	return plan, nil
}

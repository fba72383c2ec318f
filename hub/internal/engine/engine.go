// Package engine implements the orchestration engine: it compares desired
// against reported entity state, proposes gated remediation plans, and
// applies agent outcome reports to the plan and entity state machines.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/deployhub/hub/internal/approval"
	"github.com/fleetops/deployhub/hub/internal/catalog"
	"github.com/fleetops/deployhub/hub/internal/constraint"
	"github.com/fleetops/deployhub/hub/internal/dispatch"
	"github.com/fleetops/deployhub/hub/internal/events"
	"github.com/fleetops/deployhub/pkg/types"
)

// Store is the persistence the engine needs.
type Store interface {
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	UpdateEntity(ctx context.Context, e *types.Entity) error

	CreatePlan(ctx context.Context, p *types.Plan) error
	GetPlan(ctx context.Context, id string) (*types.Plan, error)
	UpdatePlan(ctx context.Context, p *types.Plan) error
	UpdatePlanStateCAS(ctx context.Context, id string, from, to types.PlanState) (bool, error)
	GetActivePlan(ctx context.Context, entityID string) (*types.Plan, error)
	AppendTransition(ctx context.Context, t *types.PlanTransition) error
}

// Config wires the engine's collaborators. The catalog is an explicit
// dependency so multiple engines (per environment, or in tests) can coexist
// without shared state.
type Config struct {
	Store       Store
	Catalog     catalog.Catalog
	Constraints constraint.Source
	Router      *approval.Router
	Dedup       dispatch.Deduper
	Bus         *events.Bus
	Logger      *slog.Logger
}

// Engine reconciles entities toward their desired state through plans.
type Engine struct {
	store       Store
	catalog     catalog.Catalog
	constraints constraint.Source
	router      *approval.Router
	dedup       dispatch.Deduper
	bus         *events.Bus
	logger      *slog.Logger

	now func() time.Time

	// Per-entity locks serialize check-and-create so concurrent evaluations
	// cannot race two plans for one entity.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine.
func New(cfg Config) *Engine {
	return &Engine{
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		constraints: cfg.Constraints,
		router:      cfg.Router,
		dedup:       cfg.Dedup,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With("component", "engine"),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (e *Engine) entityLock(entityID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[entityID] = l
	}
	return l
}

// Evaluate computes the delta for one entity and proposes a plan when one is
// needed. An entity that already has a non-terminal plan gets no new plan;
// a BLOCKED plan is re-checked against its constraints and promoted to
// PENDING once they clear.
func (e *Engine) Evaluate(ctx context.Context, entityID string) (*types.Plan, error) {
	lock := e.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := e.catalog.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("reading entity: %w", err)
	}
	if entity == nil {
		return nil, &types.NotFoundError{Kind: "entity", ID: entityID}
	}

	active, err := e.store.GetActivePlan(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("checking active plan: %w", err)
	}
	if active != nil {
		if active.State == types.PlanBlocked {
			return e.reevaluateBlocked(ctx, entity, active)
		}
		return active, nil
	}

	planType := Classify(entity)
	if planType == "" {
		return nil, nil
	}
	return e.propose(ctx, entity, planType)
}

// propose creates a gated plan of the given type for the entity. Runs under
// the entity lock.
func (e *Engine) propose(ctx context.Context, entity *types.Entity, planType types.PlanType) (*types.Plan, error) {
	plan := e.buildPlan(entity, planType)

	result, err := e.checkConstraints(ctx, entity, plan)
	if err != nil {
		return nil, err
	}
	if result.Satisfied {
		plan.State = types.PlanPending
	} else {
		plan.State = types.PlanBlocked
		plan.Violations = result.Violations
	}

	if err := e.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	e.recordTransition(ctx, plan.ID, "", plan.State, "proposed by evaluation", "evaluation")

	if planType == types.PlanInstall && entity.Lifecycle == types.EntityUnmanaged {
		e.setLifecycle(ctx, entity, types.EntityPending)
	}

	e.logger.Info("plan proposed",
		"plan_id", plan.ID, "entity_id", entity.ID, "type", plan.Type,
		"state", plan.State, "violations", len(plan.Violations))
	return plan, nil
}

// EvaluateAll evaluates every entity in the catalog. Entities with no delta
// produce no plan; evaluation errors on individual entities are logged and
// do not abort the pass.
func (e *Engine) EvaluateAll(ctx context.Context) ([]*types.Plan, error) {
	entities, err := e.catalog.ListEntities(ctx, catalog.Filter{})
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	var plans []*types.Plan
	for _, entity := range entities {
		plan, err := e.Evaluate(ctx, entity.ID)
		if err != nil {
			e.logger.Error("evaluation failed", "entity_id", entity.ID, "error", err)
			continue
		}
		if plan != nil {
			plans = append(plans, plan)
		}
	}
	return plans, nil
}

func (e *Engine) buildPlan(entity *types.Entity, planType types.PlanType) *types.Plan {
	now := e.now()
	plan := &types.Plan{
		ID:        uuid.NewString(),
		EntityID:  entity.ID,
		ClusterID: entity.ClusterID,
		Type:      planType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch planType {
	case types.PlanInstall, types.PlanUpgrade, types.PlanRollback:
		plan.TargetVersion = entity.DesiredVersion
		plan.TargetConfig = entity.DesiredConfig
	case types.PlanConfigUpdate:
		plan.TargetConfig = entity.DesiredConfig
	}

	req := e.router.Resolve(entity, planType)
	plan.RequiredRoles = req.Roles
	plan.RequiredApprovers = req.Approvers
	plan.ApprovalTTL = req.TTL

	return plan
}

func (e *Engine) checkConstraints(ctx context.Context, entity *types.Entity, plan *types.Plan) (types.ConstraintResult, error) {
	constraints, err := e.constraints.ConstraintsFor(ctx, entity)
	if err != nil {
		return types.ConstraintResult{}, fmt.Errorf("resolving constraints: %w", err)
	}
	req := constraint.Request{Plan: plan, Entity: entity, Now: e.now()}
	return constraint.Evaluate(ctx, req, constraints), nil
}

// reevaluateBlocked refreshes a blocked plan's violation list and promotes
// it to PENDING once all constraints clear. Desired state may have moved
// while the plan sat blocked; a plan that no longer matches the entity's
// delta is cancelled and replaced instead of promoted.
func (e *Engine) reevaluateBlocked(ctx context.Context, entity *types.Entity, plan *types.Plan) (*types.Plan, error) {
	want := Classify(entity)
	if !planCurrent(entity, plan, want) {
		now := e.now()
		plan.State = types.PlanCancelled
		plan.CompletedAt = &now
		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("cancelling superseded plan: %w", err)
		}
		e.recordTransition(ctx, plan.ID, types.PlanBlocked, types.PlanCancelled,
			"desired state changed while blocked", "evaluation")
		e.logger.Info("blocked plan superseded",
			"plan_id", plan.ID, "entity_id", entity.ID, "type", plan.Type, "now_needs", string(want))

		if want == "" {
			return nil, nil
		}
		return e.propose(ctx, entity, want)
	}

	result, err := e.checkConstraints(ctx, entity, plan)
	if err != nil {
		return nil, err
	}

	if result.Satisfied {
		plan.State = types.PlanPending
		plan.Violations = nil
		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("promoting blocked plan: %w", err)
		}
		e.recordTransition(ctx, plan.ID, types.PlanBlocked, types.PlanPending, "constraints cleared", "evaluation")
		e.logger.Info("blocked plan promoted", "plan_id", plan.ID, "entity_id", entity.ID)
		return plan, nil
	}

	plan.Violations = result.Violations
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("refreshing blocked plan: %w", err)
	}
	return plan, nil
}

// planCurrent reports whether a plan still matches the remediation the
// entity needs.
func planCurrent(entity *types.Entity, plan *types.Plan, want types.PlanType) bool {
	if want != plan.Type {
		return false
	}
	switch plan.Type {
	case types.PlanInstall, types.PlanUpgrade, types.PlanRollback:
		return plan.TargetVersion == entity.DesiredVersion &&
			maps.Equal(plan.TargetConfig, entity.DesiredConfig)
	case types.PlanConfigUpdate:
		return maps.Equal(plan.TargetConfig, entity.DesiredConfig)
	}
	return true
}

func (e *Engine) recordTransition(ctx context.Context, planID string, from, to types.PlanState, reason, trigger string) {
	err := e.store.AppendTransition(ctx, &types.PlanTransition{
		PlanID:      planID,
		FromState:   from,
		ToState:     to,
		Reason:      reason,
		TriggeredBy: trigger,
		CreatedAt:   e.now(),
	})
	if err != nil {
		e.logger.Error("recording transition failed", "plan_id", planID, "to", to, "error", err)
	}
}

// setLifecycle moves an entity to a new lifecycle state, persists it and
// emits entity_state_changed. No-op when the state is unchanged.
func (e *Engine) setLifecycle(ctx context.Context, entity *types.Entity, to types.EntityState) {
	if entity.Lifecycle == to {
		return
	}
	from := entity.Lifecycle
	entity.Lifecycle = to
	entity.StateChangedAt = e.now()
	if err := e.store.UpdateEntity(ctx, entity); err != nil {
		e.logger.Error("persisting entity state failed", "entity_id", entity.ID, "to", to, "error", err)
		return
	}

	e.logger.Info("entity state changed", "entity_id", entity.ID, "from", from, "to", to)
	if e.bus != nil {
		e.bus.Emit(types.Event{
			Type:     types.EventEntityStateChanged,
			EntityID: entity.ID,
			OldState: string(from),
			NewState: string(to),
		})
	}
}

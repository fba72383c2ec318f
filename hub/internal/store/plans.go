package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetops/deployhub/pkg/types"
)

// =============================================================================
// PLANS
// =============================================================================

const planColumns = `id, entity_id, cluster_id, type, state, target_version,
	target_config, previous_version, violations, required_roles,
	required_approvers, approval_ttl_seconds, approvals, rollback_of, stuck,
	error, observed_version, created_at, dispatched_at, completed_at, updated_at`

// CreatePlan inserts a new plan.
func (s *Store) CreatePlan(ctx context.Context, p *types.Plan) error {
	targetCfg, _ := json.Marshal(p.TargetConfig)
	violations, _ := json.Marshal(p.Violations)
	roles, _ := json.Marshal(p.RequiredRoles)
	approvals, _ := json.Marshal(p.Approvals)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plans (
			id, entity_id, cluster_id, type, state, target_version,
			target_config, previous_version, violations, required_roles,
			required_approvers, approval_ttl_seconds, approvals, rollback_of,
			stuck, error, observed_version, created_at, dispatched_at,
			completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)
	`,
		p.ID, p.EntityID, p.ClusterID, p.Type, p.State, p.TargetVersion,
		targetCfg, p.PreviousVersion, violations, roles,
		p.RequiredApprovers, int64(p.ApprovalTTL/time.Second), approvals, p.RollbackOf,
		p.Stuck, p.Error, p.ObservedVersion, p.CreatedAt, p.DispatchedAt,
		p.CompletedAt, p.UpdatedAt,
	)
	return err
}

// GetPlan retrieves a plan by ID. Returns nil, nil when absent.
func (s *Store) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return scanPlan(row)
}

// UpdatePlan persists the full plan record.
func (s *Store) UpdatePlan(ctx context.Context, p *types.Plan) error {
	targetCfg, _ := json.Marshal(p.TargetConfig)
	violations, _ := json.Marshal(p.Violations)
	roles, _ := json.Marshal(p.RequiredRoles)
	approvals, _ := json.Marshal(p.Approvals)
	tag, err := s.pool.Exec(ctx, `
		UPDATE plans SET
			state = $2, target_version = $3, target_config = $4,
			previous_version = $5, violations = $6, required_roles = $7,
			required_approvers = $8, approval_ttl_seconds = $9, approvals = $10,
			rollback_of = $11, stuck = $12, error = $13, observed_version = $14,
			dispatched_at = $15, completed_at = $16, updated_at = $17
		WHERE id = $1
	`,
		p.ID, p.State, p.TargetVersion, targetCfg,
		p.PreviousVersion, violations, roles,
		p.RequiredApprovers, int64(p.ApprovalTTL/time.Second), approvals,
		p.RollbackOf, p.Stuck, p.Error, p.ObservedVersion,
		p.DispatchedAt, p.CompletedAt, time.Now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Kind: "plan", ID: p.ID}
	}
	return nil
}

// UpdatePlanStateCAS transitions a plan from one state to another atomically.
// Returns false when the plan was not in the expected state, which callers
// treat as losing the race.
func (s *Store) UpdatePlanStateCAS(ctx context.Context, id string, from, to types.PlanState) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plans SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2
	`, id, from, to, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListPlansByEntity returns all plans for an entity, newest first.
func (s *Store) ListPlansByEntity(ctx context.Context, entityID string) ([]*types.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE entity_id = $1 ORDER BY created_at DESC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlans(rows)
}

// ListPlansByState returns all plans in a given state, oldest first.
func (s *Store) ListPlansByState(ctx context.Context, state types.PlanState) ([]*types.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE state = $1 ORDER BY created_at
	`, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlans(rows)
}

// ListPlansByCluster returns the plans targeting a cluster in a given state,
// oldest first. The dispatch path uses this to answer agent polls.
func (s *Store) ListPlansByCluster(ctx context.Context, clusterID string, state types.PlanState) ([]*types.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE cluster_id = $1 AND state = $2 ORDER BY created_at
	`, clusterID, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlans(rows)
}

// GetActivePlan returns the entity's single non-terminal plan, or nil.
func (s *Store) GetActivePlan(ctx context.Context, entityID string) (*types.Plan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE entity_id = $1 AND state IN ('pending', 'blocked', 'executing')
		ORDER BY created_at DESC LIMIT 1
	`, entityID)
	return scanPlan(row)
}

// ListStuckPlans returns executing plans flagged by the sweep.
func (s *Store) ListStuckPlans(ctx context.Context) ([]*types.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE stuck = true AND state = 'executing' ORDER BY dispatched_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlans(rows)
}

// AppendTransition records a plan state change in the audit log.
func (s *Store) AppendTransition(ctx context.Context, t *types.PlanTransition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plan_transitions (plan_id, from_state, to_state, reason, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.PlanID, t.FromState, t.ToState, t.Reason, t.TriggeredBy, t.CreatedAt)
	return err
}

// ListTransitions returns a plan's state history in order.
func (s *Store) ListTransitions(ctx context.Context, planID string) ([]types.PlanTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, plan_id, from_state, to_state, reason, triggered_by, created_at
		FROM plan_transitions WHERE plan_id = $1 ORDER BY id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []types.PlanTransition
	for rows.Next() {
		var t types.PlanTransition
		if err := rows.Scan(&t.ID, &t.PlanID, &t.FromState, &t.ToState, &t.Reason, &t.TriggeredBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func scanPlan(row rowScanner) (*types.Plan, error) {
	var p types.Plan
	var targetCfg, violations, roles, approvals []byte
	var ttlSeconds int64
	err := row.Scan(
		&p.ID, &p.EntityID, &p.ClusterID, &p.Type, &p.State, &p.TargetVersion,
		&targetCfg, &p.PreviousVersion, &violations, &roles,
		&p.RequiredApprovers, &ttlSeconds, &approvals, &p.RollbackOf, &p.Stuck,
		&p.Error, &p.ObservedVersion, &p.CreatedAt, &p.DispatchedAt,
		&p.CompletedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.ApprovalTTL = time.Duration(ttlSeconds) * time.Second
	json.Unmarshal(targetCfg, &p.TargetConfig)
	json.Unmarshal(violations, &p.Violations)
	json.Unmarshal(roles, &p.RequiredRoles)
	json.Unmarshal(approvals, &p.Approvals)
	return &p, nil
}

func collectPlans(rows pgx.Rows) ([]*types.Plan, error) {
	var plans []*types.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

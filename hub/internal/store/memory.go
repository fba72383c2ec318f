package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// Memory is an in-memory store used by tests and ephemeral deployments. All
// methods are safe for concurrent use and return deep copies so callers
// cannot mutate stored records in place.
type Memory struct {
	mu sync.RWMutex

	entities     map[string]*types.Entity
	plans        map[string]*types.Plan
	transitions  []types.PlanTransition
	windows      map[string]types.MaintenanceWindow
	suppressions map[string]types.Suppression
	agents       map[string]*types.Agent

	nextTransitionID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities:     make(map[string]*types.Entity),
		plans:        make(map[string]*types.Plan),
		windows:      make(map[string]types.MaintenanceWindow),
		suppressions: make(map[string]types.Suppression),
		agents:       make(map[string]*types.Agent),
	}
}

func clone[T any](src *T) *T {
	if src == nil {
		return nil
	}
	b, _ := json.Marshal(src)
	dst := new(T)
	json.Unmarshal(b, dst)
	return dst
}

// =============================================================================
// ENTITIES
// =============================================================================

func (m *Memory) CreateEntity(ctx context.Context, e *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = clone(e)
	return nil
}

func (m *Memory) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.entities[id]), nil
}

func (m *Memory) UpdateEntity(ctx context.Context, e *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[e.ID]; !ok {
		return &types.NotFoundError{Kind: "entity", ID: e.ID}
	}
	updated := clone(e)
	updated.UpdatedAt = time.Now()
	m.entities[e.ID] = updated
	return nil
}

func (m *Memory) ListEntities(ctx context.Context) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entities []*types.Entity
	for _, e := range m.entities {
		entities = append(entities, clone(e))
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].CreatedAt.Before(entities[j].CreatedAt) })
	return entities, nil
}

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) CreatePlan(ctx context.Context, p *types.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = clone(p)
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.plans[id]), nil
}

func (m *Memory) UpdatePlan(ctx context.Context, p *types.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		return &types.NotFoundError{Kind: "plan", ID: p.ID}
	}
	updated := clone(p)
	updated.UpdatedAt = time.Now()
	m.plans[p.ID] = updated
	return nil
}

func (m *Memory) UpdatePlanStateCAS(ctx context.Context, id string, from, to types.PlanState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.State != from {
		return false, nil
	}
	p.State = to
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *Memory) ListPlansByEntity(ctx context.Context, entityID string) ([]*types.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var plans []*types.Plan
	for _, p := range m.plans {
		if p.EntityID == entityID {
			plans = append(plans, clone(p))
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	return plans, nil
}

func (m *Memory) ListPlansByState(ctx context.Context, state types.PlanState) ([]*types.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var plans []*types.Plan
	for _, p := range m.plans {
		if p.State == state {
			plans = append(plans, clone(p))
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.Before(plans[j].CreatedAt) })
	return plans, nil
}

func (m *Memory) ListPlansByCluster(ctx context.Context, clusterID string, state types.PlanState) ([]*types.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var plans []*types.Plan
	for _, p := range m.plans {
		if p.ClusterID == clusterID && p.State == state {
			plans = append(plans, clone(p))
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.Before(plans[j].CreatedAt) })
	return plans, nil
}

func (m *Memory) GetActivePlan(ctx context.Context, entityID string) (*types.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active *types.Plan
	for _, p := range m.plans {
		if p.EntityID != entityID || p.State.Terminal() {
			continue
		}
		if active == nil || p.CreatedAt.After(active.CreatedAt) {
			active = p
		}
	}
	return clone(active), nil
}

func (m *Memory) ListStuckPlans(ctx context.Context) ([]*types.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var plans []*types.Plan
	for _, p := range m.plans {
		if p.Stuck && p.State == types.PlanExecuting {
			plans = append(plans, clone(p))
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.Before(plans[j].CreatedAt) })
	return plans, nil
}

func (m *Memory) AppendTransition(ctx context.Context, t *types.PlanTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTransitionID++
	rec := *t
	rec.ID = m.nextTransitionID
	m.transitions = append(m.transitions, rec)
	return nil
}

func (m *Memory) ListTransitions(ctx context.Context, planID string) ([]types.PlanTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.PlanTransition
	for _, t := range m.transitions {
		if t.PlanID == planID {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// MAINTENANCE WINDOWS / SUPPRESSIONS
// =============================================================================

func (m *Memory) CreateMaintenanceWindow(ctx context.Context, w *types.MaintenanceWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.ID] = *w
	return nil
}

func (m *Memory) ListMaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var windows []types.MaintenanceWindow
	for _, w := range m.windows {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].CreatedAt.Before(windows[j].CreatedAt) })
	return windows, nil
}

func (m *Memory) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[id]; !ok {
		return &types.NotFoundError{Kind: "maintenance window", ID: id}
	}
	delete(m.windows, id)
	return nil
}

func (m *Memory) CreateSuppression(ctx context.Context, s *types.Suppression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressions[s.ID] = *s
	return nil
}

func (m *Memory) ListSuppressions(ctx context.Context) ([]types.Suppression, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var suppressions []types.Suppression
	for _, s := range m.suppressions {
		suppressions = append(suppressions, s)
	}
	sort.Slice(suppressions, func(i, j int) bool { return suppressions[i].Start.Before(suppressions[j].Start) })
	return suppressions, nil
}

func (m *Memory) DeleteSuppression(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suppressions[id]; !ok {
		return &types.NotFoundError{Kind: "suppression", ID: id}
	}
	delete(m.suppressions, id)
	return nil
}

// =============================================================================
// AGENTS
// =============================================================================

func (m *Memory) UpsertAgent(ctx context.Context, a *types.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = clone(a)
	return nil
}

func (m *Memory) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.agents[id]), nil
}

func (m *Memory) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var agents []*types.Agent
	for _, a := range m.agents {
		agents = append(agents, clone(a))
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].CreatedAt.Before(agents[j].CreatedAt) })
	return agents, nil
}

func (m *Memory) TouchAgentHeartbeat(ctx context.Context, id string, status types.AgentStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return &types.NotFoundError{Kind: "agent", ID: id}
	}
	a.Status = status
	a.LastHeartbeat = at
	return nil
}

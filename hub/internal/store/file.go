package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// File is a JSON-file-backed store for single-node deployments that do not
// run Postgres. It keeps the working set in memory and rewrites the file
// after every mutation; plan volumes at this tier are small enough that a
// full rewrite is cheaper than maintaining an incremental format.
type File struct {
	*Memory
	path string
}

type fileSnapshot struct {
	Entities     []*types.Entity           `json:"entities"`
	Plans        []*types.Plan             `json:"plans"`
	Transitions  []types.PlanTransition    `json:"transitions"`
	Windows      []types.MaintenanceWindow `json:"maintenance_windows"`
	Suppressions []types.Suppression       `json:"suppressions"`
	Agents       []*types.Agent            `json:"agents"`
}

// OpenFile loads (or initializes) a file store at the given path.
func OpenFile(path string) (*File, error) {
	f := &File{Memory: NewMemory(), path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing store file %s: %w", path, err)
	}

	ctx := context.Background()
	for _, e := range snap.Entities {
		f.Memory.CreateEntity(ctx, e)
	}
	for _, p := range snap.Plans {
		f.Memory.CreatePlan(ctx, p)
	}
	for _, w := range snap.Windows {
		w := w
		f.Memory.CreateMaintenanceWindow(ctx, &w)
	}
	for _, s := range snap.Suppressions {
		s := s
		f.Memory.CreateSuppression(ctx, &s)
	}
	for _, a := range snap.Agents {
		f.Memory.UpsertAgent(ctx, a)
	}
	f.Memory.mu.Lock()
	f.Memory.transitions = snap.Transitions
	for _, t := range snap.Transitions {
		if t.ID > f.Memory.nextTransitionID {
			f.Memory.nextTransitionID = t.ID
		}
	}
	f.Memory.mu.Unlock()

	return f, nil
}

// save writes the full snapshot atomically via rename.
func (f *File) save(ctx context.Context) error {
	entities, _ := f.Memory.ListEntities(ctx)
	var plans []*types.Plan
	f.Memory.mu.RLock()
	for _, p := range f.Memory.plans {
		plans = append(plans, clone(p))
	}
	transitions := append([]types.PlanTransition(nil), f.Memory.transitions...)
	f.Memory.mu.RUnlock()
	windows, _ := f.Memory.ListMaintenanceWindows(ctx)
	suppressions, _ := f.Memory.ListSuppressions(ctx)
	agents, _ := f.Memory.ListAgents(ctx)

	snap := fileSnapshot{
		Entities:     entities,
		Plans:        plans,
		Transitions:  transitions,
		Windows:      windows,
		Suppressions: suppressions,
		Agents:       agents,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *File) CreateEntity(ctx context.Context, e *types.Entity) error {
	if err := f.Memory.CreateEntity(ctx, e); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) UpdateEntity(ctx context.Context, e *types.Entity) error {
	if err := f.Memory.UpdateEntity(ctx, e); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) CreatePlan(ctx context.Context, p *types.Plan) error {
	if err := f.Memory.CreatePlan(ctx, p); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) UpdatePlan(ctx context.Context, p *types.Plan) error {
	if err := f.Memory.UpdatePlan(ctx, p); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) UpdatePlanStateCAS(ctx context.Context, id string, from, to types.PlanState) (bool, error) {
	swapped, err := f.Memory.UpdatePlanStateCAS(ctx, id, from, to)
	if err != nil || !swapped {
		return swapped, err
	}
	return true, f.save(ctx)
}

func (f *File) AppendTransition(ctx context.Context, t *types.PlanTransition) error {
	if err := f.Memory.AppendTransition(ctx, t); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) CreateMaintenanceWindow(ctx context.Context, w *types.MaintenanceWindow) error {
	if err := f.Memory.CreateMaintenanceWindow(ctx, w); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	if err := f.Memory.DeleteMaintenanceWindow(ctx, id); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) CreateSuppression(ctx context.Context, s *types.Suppression) error {
	if err := f.Memory.CreateSuppression(ctx, s); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) DeleteSuppression(ctx context.Context, id string) error {
	if err := f.Memory.DeleteSuppression(ctx, id); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) UpsertAgent(ctx context.Context, a *types.Agent) error {
	if err := f.Memory.UpsertAgent(ctx, a); err != nil {
		return err
	}
	return f.save(ctx)
}

func (f *File) TouchAgentHeartbeat(ctx context.Context, id string, status types.AgentStatus, at time.Time) error {
	if err := f.Memory.TouchAgentHeartbeat(ctx, id, status, at); err != nil {
		return err
	}
	return f.save(ctx)
}

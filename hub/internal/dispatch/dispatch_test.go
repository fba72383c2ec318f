package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockPollStore struct {
	mu       sync.Mutex
	plans    []*types.Plan
	entities map[string]*types.Entity
}

func (m *mockPollStore) ListPlansByCluster(ctx context.Context, clusterID string, state types.PlanState) ([]*types.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Plan
	for _, p := range m.plans {
		if p.ClusterID == clusterID && p.State == state {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPollStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[id], nil
}

func TestOperationFor(t *testing.T) {
	tests := []struct {
		planType types.PlanType
		want     types.Operation
	}{
		{types.PlanInstall, types.OperationCreate},
		{types.PlanUpgrade, types.OperationUpdate},
		{types.PlanConfigUpdate, types.OperationUpdate},
		{types.PlanRollback, types.OperationRevert},
		{types.PlanUninstall, types.OperationRemove},
	}
	for _, tc := range tests {
		if got := OperationFor(tc.planType); got != tc.want {
			t.Errorf("OperationFor(%s) = %s, want %s", tc.planType, got, tc.want)
		}
	}
}

func TestBuildDispatchedPlanConfigUpdate(t *testing.T) {
	plan := &types.Plan{
		ID:           "p1",
		EntityID:     "e1",
		Type:         types.PlanConfigUpdate,
		TargetConfig: map[string]string{"replicas": "3"},
	}
	entity := &types.Entity{ID: "e1", ProductID: "prod-1", Name: "api"}

	dp := BuildDispatchedPlan(plan, entity, time.Now())
	if !dp.ValuesOnly {
		t.Error("config_update must dispatch values-only")
	}
	if dp.Operation != types.OperationUpdate {
		t.Errorf("expected update operation, got %s", dp.Operation)
	}
	if dp.TargetConfig["replicas"] != "3" {
		t.Errorf("expected target config carried, got %v", dp.TargetConfig)
	}
}

func TestPlansForResolvesEntities(t *testing.T) {
	store := &mockPollStore{
		plans: []*types.Plan{
			{ID: "p1", EntityID: "e1", ClusterID: "c1", Type: types.PlanUpgrade, State: types.PlanExecuting, TargetVersion: "2.0.0"},
			{ID: "p2", EntityID: "e2", ClusterID: "c1", Type: types.PlanInstall, State: types.PlanExecuting},
			{ID: "p3", EntityID: "e3", ClusterID: "c2", Type: types.PlanInstall, State: types.PlanExecuting},
			{ID: "p4", EntityID: "e1", ClusterID: "c1", Type: types.PlanInstall, State: types.PlanPending},
		},
		entities: map[string]*types.Entity{
			"e1": {ID: "e1", ProductID: "prod-1", Name: "api"},
			"e2": {ID: "e2", ProductID: "prod-2", Name: "worker"},
		},
	}
	d := NewDispatcher(store, testLogger())

	plans, err := d.PlansFor(context.Background(), "c1")
	if err != nil {
		t.Fatalf("PlansFor: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 dispatchable plans, got %d", len(plans))
	}
	if plans[0].PlanID != "p1" || plans[0].ProductID != "prod-1" {
		t.Errorf("unexpected first plan: %+v", plans[0])
	}
	if plans[1].Operation != types.OperationCreate {
		t.Errorf("expected create operation for install, got %s", plans[1].Operation)
	}
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	outcome := &types.Outcome{PlanID: "p1", Success: true, ObservedVersion: "2.0.0"}
	hash := outcome.Hash()

	first, err := d.FirstApplication(ctx, "p1", hash)
	if err != nil {
		t.Fatalf("FirstApplication: %v", err)
	}
	if !first {
		t.Error("expected first application to be new")
	}

	again, err := d.FirstApplication(ctx, "p1", hash)
	if err != nil {
		t.Fatalf("FirstApplication: %v", err)
	}
	if again {
		t.Error("expected repeat application to be deduplicated")
	}

	// A different outcome for the same plan is a distinct application.
	other := &types.Outcome{PlanID: "p1", Success: false, Error: "timeout"}
	distinct, _ := d.FirstApplication(ctx, "p1", other.Hash())
	if !distinct {
		t.Error("expected different hash to be new")
	}
}

func TestMemoryDeduperRelease(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	if first, _ := d.FirstApplication(ctx, "p1", "h1"); !first {
		t.Fatal("expected first application to be new")
	}
	if err := d.Release(ctx, "p1", "h1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// A released hash applies again.
	if first, _ := d.FirstApplication(ctx, "p1", "h1"); !first {
		t.Error("expected released hash to be new again")
	}
}

func TestMemoryDeduperConcurrent(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	const n = 32
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, _ := d.FirstApplication(ctx, "p1", "h1")
			results <- first
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for first := range results {
		if first {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one first application, got %d", wins)
	}
}

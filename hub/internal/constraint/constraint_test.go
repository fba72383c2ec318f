package constraint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// fakeConstraint returns a canned result.
type fakeConstraint struct {
	name   string
	result types.ConstraintResult
	err    error
}

func (f *fakeConstraint) Name() string { return f.name }

func (f *fakeConstraint) Evaluate(ctx context.Context, req Request) (types.ConstraintResult, error) {
	return f.result, f.err
}

func TestEvaluateAllSatisfied(t *testing.T) {
	result := Evaluate(context.Background(), Request{}, []Constraint{
		&fakeConstraint{name: "a", result: types.ConstraintResult{Satisfied: true}},
		&fakeConstraint{name: "b", result: types.ConstraintResult{Satisfied: true}},
	})

	if !result.Satisfied {
		t.Error("expected aggregate satisfied")
	}
	if len(result.Violations) != 0 {
		t.Errorf("expected no violations, got %v", result.Violations)
	}
}

func TestEvaluateNoShortCircuit(t *testing.T) {
	// Every constraint contributes its violations even after an earlier one
	// already failed, and order follows input order.
	result := Evaluate(context.Background(), Request{}, []Constraint{
		&fakeConstraint{name: "a", result: types.ConstraintResult{Satisfied: false, Violations: []string{"first"}}},
		&fakeConstraint{name: "b", result: types.ConstraintResult{Satisfied: true}},
		&fakeConstraint{name: "c", result: types.ConstraintResult{Satisfied: false, Violations: []string{"second", "third"}}},
	})

	if result.Satisfied {
		t.Error("expected aggregate unsatisfied")
	}
	want := []string{"first", "second", "third"}
	if len(result.Violations) != len(want) {
		t.Fatalf("expected %d violations, got %v", len(want), result.Violations)
	}
	for i, v := range want {
		if result.Violations[i] != v {
			t.Errorf("violation[%d] = %q, want %q", i, result.Violations[i], v)
		}
	}
}

func TestEvaluateMetadataMerge(t *testing.T) {
	result := Evaluate(context.Background(), Request{}, []Constraint{
		&fakeConstraint{name: "a", result: types.ConstraintResult{Satisfied: true, Metadata: map[string]string{"k": "old", "a": "1"}}},
		&fakeConstraint{name: "b", result: types.ConstraintResult{Satisfied: true, Metadata: map[string]string{"k": "new"}}},
	})

	if result.Metadata["k"] != "new" {
		t.Errorf("expected later constraint to win on key collision, got %q", result.Metadata["k"])
	}
	if result.Metadata["a"] != "1" {
		t.Errorf("expected earlier key preserved, got %q", result.Metadata["a"])
	}
}

func TestEvaluateConstraintError(t *testing.T) {
	result := Evaluate(context.Background(), Request{}, []Constraint{
		&fakeConstraint{name: "broken", err: errors.New("catalog unreachable")},
		&fakeConstraint{name: "ok", result: types.ConstraintResult{Satisfied: true}},
	})

	if result.Satisfied {
		t.Error("expected evaluation error to count as unsatisfied")
	}
	if len(result.Violations) != 1 || !strings.Contains(result.Violations[0], "broken") {
		t.Errorf("expected violation naming the failed constraint, got %v", result.Violations)
	}
}

func TestEvaluateEmptySet(t *testing.T) {
	result := Evaluate(context.Background(), Request{}, nil)
	if !result.Satisfied {
		t.Error("empty constraint set must be satisfied")
	}
}

// ============================================================================
// Window
// ============================================================================

func TestInWindow(t *testing.T) {
	daily := types.MaintenanceWindow{
		Name:     "nightly",
		Cron:     "0 2 * * *",
		Duration: time.Hour,
		Timezone: "UTC",
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside", time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC), true},
		{"at open", time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), false},
		{"before open", time.Date(2026, 3, 10, 1, 59, 0, 0, time.UTC), false},
		{"well outside", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := InWindow(daily, tc.at)
			if err != nil {
				t.Fatalf("InWindow: %v", err)
			}
			if got != tc.want {
				t.Errorf("InWindow(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestInWindowTimezone(t *testing.T) {
	w := types.MaintenanceWindow{
		Name:     "east-coast-nightly",
		Cron:     "0 2 * * *",
		Duration: time.Hour,
		Timezone: "America/New_York",
	}

	// Mid-January: EST, UTC-5. 02:30 local is 07:30 UTC.
	inside := time.Date(2026, 1, 15, 7, 30, 0, 0, time.UTC)
	got, err := InWindow(w, inside)
	if err != nil {
		t.Fatalf("InWindow: %v", err)
	}
	if !got {
		t.Error("expected 07:30 UTC to be inside a 02:00 EST window")
	}

	outside := time.Date(2026, 1, 15, 2, 30, 0, 0, time.UTC)
	got, err = InWindow(w, outside)
	if err != nil {
		t.Fatalf("InWindow: %v", err)
	}
	if got {
		t.Error("expected 02:30 UTC (21:30 EST previous day) to be outside")
	}
}

func TestInWindowBadCron(t *testing.T) {
	w := types.MaintenanceWindow{Cron: "not a cron", Duration: time.Hour}
	if _, err := InWindow(w, time.Now()); err == nil {
		t.Error("expected error for malformed cron expression")
	}
}

func TestWindowConstraintViolation(t *testing.T) {
	c := NewWindowConstraint([]types.MaintenanceWindow{{
		Name:     "saturday",
		Cron:     "0 2 * * 6",
		Duration: 2 * time.Hour,
		Timezone: "UTC",
	}})

	// A Tuesday, nowhere near the window.
	req := Request{Now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	result, err := c.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Satisfied {
		t.Error("expected unsatisfied outside window")
	}
	if len(result.Violations) != 1 || result.Violations[0] != "outside maintenance window" {
		t.Errorf("unexpected violations: %v", result.Violations)
	}
}

func TestWindowConstraintAnyWindowSatisfies(t *testing.T) {
	c := NewWindowConstraint([]types.MaintenanceWindow{
		{Name: "saturday", Cron: "0 2 * * 6", Duration: time.Hour, Timezone: "UTC"},
		{Name: "always", Cron: "* * * * *", Duration: time.Minute, Timezone: "UTC"},
	})

	req := Request{Now: time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)}
	result, err := c.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Satisfied {
		t.Error("expected satisfied when any window covers the instant")
	}
	if result.Metadata["window"] != "always" {
		t.Errorf("expected matching window name in metadata, got %q", result.Metadata["window"])
	}
}

// ============================================================================
// Suppression
// ============================================================================

func TestSuppressionConstraint(t *testing.T) {
	start := time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 27, 0, 0, 0, 0, time.UTC)
	c := NewSuppressionConstraint(types.Suppression{
		Start:  start,
		End:    end,
		Reason: "holiday freeze",
	})

	during := Request{Now: time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)}
	result, err := c.Evaluate(context.Background(), during)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Satisfied {
		t.Error("expected unsatisfied during suppression")
	}
	if len(result.Violations) != 1 || !strings.Contains(result.Violations[0], "holiday freeze") {
		t.Errorf("expected violation to carry the reason, got %v", result.Violations)
	}

	// End is exclusive.
	atEnd := Request{Now: end}
	result, err = c.Evaluate(context.Background(), atEnd)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Satisfied {
		t.Error("expected satisfied at the exclusive end instant")
	}
}

// ============================================================================
// Dependency
// ============================================================================

type fakeCatalog struct {
	entities map[string]*types.Entity
	err      error
}

func (f *fakeCatalog) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[id], nil
}

func depRequest(deps ...types.DependencyRef) Request {
	return Request{
		Entity: &types.Entity{ID: "app-1", Dependencies: deps},
		Now:    time.Now(),
	}
}

func TestDependencyConstraintAllRunning(t *testing.T) {
	cat := &fakeCatalog{entities: map[string]*types.Entity{
		"db-1": {ID: "db-1", Lifecycle: types.EntityRunning, ReportedVersion: "1.4.2"},
	}}
	c := NewDependencyConstraint(cat)

	result, err := c.Evaluate(context.Background(), depRequest(
		types.DependencyRef{EntityID: "db-1", CompatibleRange: ">=1.2.0 <2.0.0"},
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Satisfied {
		t.Errorf("expected satisfied, got violations %v", result.Violations)
	}
	if result.Metadata["dependencies_checked"] != "1" {
		t.Errorf("expected dependencies_checked=1, got %q", result.Metadata["dependencies_checked"])
	}
}

func TestDependencyConstraintDown(t *testing.T) {
	cat := &fakeCatalog{entities: map[string]*types.Entity{
		"db-1": {ID: "db-1", Lifecycle: types.EntityDegraded, ReportedVersion: "1.4.2"},
	}}
	c := NewDependencyConstraint(cat)

	result, err := c.Evaluate(context.Background(), depRequest(types.DependencyRef{EntityID: "db-1"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Satisfied {
		t.Error("expected unsatisfied for non-running dependency")
	}
	if len(result.Violations) != 1 || !strings.Contains(result.Violations[0], "degraded") {
		t.Errorf("expected violation naming the state, got %v", result.Violations)
	}
}

func TestDependencyConstraintVersionOutsideRange(t *testing.T) {
	cat := &fakeCatalog{entities: map[string]*types.Entity{
		"db-1": {ID: "db-1", Lifecycle: types.EntityRunning, ReportedVersion: "2.1.0"},
	}}
	c := NewDependencyConstraint(cat)

	result, err := c.Evaluate(context.Background(), depRequest(
		types.DependencyRef{EntityID: "db-1", CompatibleRange: ">=1.2.0 <2.0.0"},
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Satisfied {
		t.Error("expected unsatisfied for out-of-range version")
	}
	if len(result.Violations) != 1 || !strings.Contains(result.Violations[0], "2.1.0") {
		t.Errorf("expected violation naming the version, got %v", result.Violations)
	}
}

func TestDependencyConstraintNotFound(t *testing.T) {
	c := NewDependencyConstraint(&fakeCatalog{entities: map[string]*types.Entity{}})

	result, err := c.Evaluate(context.Background(), depRequest(types.DependencyRef{EntityID: "ghost"}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Satisfied {
		t.Error("expected unsatisfied for missing dependency")
	}
}

func TestDependencyConstraintCatalogError(t *testing.T) {
	c := NewDependencyConstraint(&fakeCatalog{err: fmt.Errorf("connection refused")})

	if _, err := c.Evaluate(context.Background(), depRequest(types.DependencyRef{EntityID: "db-1"})); err == nil {
		t.Error("expected catalog errors to propagate")
	}
}

// ============================================================================
// StoreSource
// ============================================================================

type fakeConfigStore struct {
	windows      []types.MaintenanceWindow
	suppressions []types.Suppression
}

func (f *fakeConfigStore) ListMaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error) {
	return f.windows, nil
}

func (f *fakeConfigStore) ListSuppressions(ctx context.Context) ([]types.Suppression, error) {
	return f.suppressions, nil
}

func TestStoreSourceScoping(t *testing.T) {
	store := &fakeConfigStore{
		windows: []types.MaintenanceWindow{
			{Name: "prod-only", Cron: "0 2 * * *", Duration: time.Hour, Environments: []string{"production"}},
			{Name: "global", Cron: "0 4 * * *", Duration: time.Hour},
		},
		suppressions: []types.Suppression{
			{Reason: "staging freeze", Start: time.Now(), End: time.Now().Add(time.Hour), Environments: []string{"staging"}},
		},
	}
	source := NewStoreSource(store, &fakeCatalog{})

	entity := &types.Entity{ID: "app-1", Environment: "production"}
	constraints, err := source.ConstraintsFor(context.Background(), entity)
	if err != nil {
		t.Fatalf("ConstraintsFor: %v", err)
	}

	// One window constraint (covering both applicable windows), no
	// dependency constraint, no staging suppression.
	if len(constraints) != 1 {
		t.Fatalf("expected 1 constraint, got %d", len(constraints))
	}
	if constraints[0].Name() != "maintenance_window" {
		t.Errorf("unexpected constraint %s", constraints[0].Name())
	}

	entity.Dependencies = []types.DependencyRef{{EntityID: "db-1"}}
	entity.Environment = "staging"
	constraints, err = source.ConstraintsFor(context.Background(), entity)
	if err != nil {
		t.Fatalf("ConstraintsFor: %v", err)
	}
	// Global window + dependency + staging suppression.
	if len(constraints) != 3 {
		t.Fatalf("expected 3 constraints, got %d", len(constraints))
	}
	if constraints[1].Name() != "dependency" || constraints[2].Name() != "suppression" {
		t.Errorf("unexpected ordering: %s, %s, %s", constraints[0].Name(), constraints[1].Name(), constraints[2].Name())
	}
}

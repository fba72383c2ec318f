// Package constraint provides the rule engine that gates plan execution.
//
// # Design
//
// Constraints are a small closed set of implementations behind one interface
// so the evaluator can enumerate and merge results uniformly. Every
// constraint in a set is evaluated - no short-circuiting - so a blocked plan
// carries the complete set of violation reasons in one pass, which is what
// operators need for triage.
package constraint

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// Request carries the inputs for one constraint evaluation pass.
type Request struct {
	Plan   *types.Plan
	Entity *types.Entity

	// Now is the proposed execution instant.
	Now time.Time
}

// Constraint is a named precondition that must hold for a plan to proceed.
// Constraints are stateless configuration objects; they never mutate the plan.
type Constraint interface {
	Name() string
	Evaluate(ctx context.Context, req Request) (types.ConstraintResult, error)
}

// Evaluate runs every constraint and aggregates the results.
//
// The aggregate satisfied is the logical AND of every member's satisfied;
// violations are concatenated in input order; metadata maps are
// shallow-merged with later constraints overriding on key collision.
// A constraint whose evaluation errors counts as unsatisfied, with the
// failure recorded as a violation.
func Evaluate(ctx context.Context, req Request, constraints []Constraint) types.ConstraintResult {
	agg := types.ConstraintResult{Satisfied: true}

	for _, c := range constraints {
		result, err := c.Evaluate(ctx, req)
		if err != nil {
			agg.Satisfied = false
			agg.Violations = append(agg.Violations, fmt.Sprintf("constraint %s evaluation failed: %v", c.Name(), err))
			continue
		}

		if !result.Satisfied {
			agg.Satisfied = false
			agg.Violations = append(agg.Violations, result.Violations...)
		}
		if len(result.Metadata) > 0 {
			if agg.Metadata == nil {
				agg.Metadata = make(map[string]string, len(result.Metadata))
			}
			for k, v := range result.Metadata {
				agg.Metadata[k] = v
			}
		}
	}

	return agg
}

// Source assembles the applicable constraint set for an entity.
type Source interface {
	ConstraintsFor(ctx context.Context, entity *types.Entity) ([]Constraint, error)
}

// ConfigStore provides the persisted window and suppression definitions a
// StoreSource reads.
type ConfigStore interface {
	ListMaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error)
	ListSuppressions(ctx context.Context) ([]types.Suppression, error)
}

// StoreSource builds constraint sets from persisted configuration plus the
// catalog. Order is deterministic: maintenance window, dependency,
// suppressions.
type StoreSource struct {
	store   ConfigStore
	catalog CatalogReader
}

// NewStoreSource creates a constraint source backed by persisted config.
func NewStoreSource(store ConfigStore, catalog CatalogReader) *StoreSource {
	return &StoreSource{store: store, catalog: catalog}
}

// ConstraintsFor returns the constraints applicable to the entity.
func (s *StoreSource) ConstraintsFor(ctx context.Context, entity *types.Entity) ([]Constraint, error) {
	var constraints []Constraint

	windows, err := s.store.ListMaintenanceWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing maintenance windows: %w", err)
	}
	var applicable []types.MaintenanceWindow
	for _, w := range windows {
		if w.AppliesTo(entity.Environment) {
			applicable = append(applicable, w)
		}
	}
	if len(applicable) > 0 {
		constraints = append(constraints, NewWindowConstraint(applicable))
	}

	if len(entity.Dependencies) > 0 {
		constraints = append(constraints, NewDependencyConstraint(s.catalog))
	}

	suppressions, err := s.store.ListSuppressions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing suppressions: %w", err)
	}
	for _, sup := range suppressions {
		if sup.AppliesTo(entity.Environment) {
			constraints = append(constraints, NewSuppressionConstraint(sup))
		}
	}

	return constraints, nil
}

// Static is a Source returning a fixed constraint list, used in tests and
// single-environment deployments.
type Static []Constraint

// ConstraintsFor returns the fixed list.
func (s Static) ConstraintsFor(ctx context.Context, entity *types.Entity) ([]Constraint, error) {
	return s, nil
}

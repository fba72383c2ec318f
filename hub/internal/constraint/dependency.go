package constraint

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"

	"github.com/fleetops/deployhub/pkg/types"
)

// CatalogReader is the slice of the catalog the dependency constraint needs.
type CatalogReader interface {
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
}

// DependencyConstraint verifies that every entity the plan's entity depends
// on is running, and where a compatible range is declared, that the
// dependency's reported version satisfies it.
type DependencyConstraint struct {
	catalog CatalogReader
}

// NewDependencyConstraint creates a dependency constraint reading from the
// given catalog.
func NewDependencyConstraint(catalog CatalogReader) *DependencyConstraint {
	return &DependencyConstraint{catalog: catalog}
}

func (c *DependencyConstraint) Name() string { return "dependency" }

// Evaluate checks each declared dependency in order.
func (c *DependencyConstraint) Evaluate(ctx context.Context, req Request) (types.ConstraintResult, error) {
	result := types.ConstraintResult{Satisfied: true}

	for _, dep := range req.Entity.Dependencies {
		target, err := c.catalog.GetEntity(ctx, dep.EntityID)
		if err != nil {
			return types.ConstraintResult{}, fmt.Errorf("looking up dependency %s: %w", dep.EntityID, err)
		}
		if target == nil {
			result.Satisfied = false
			result.Violations = append(result.Violations, fmt.Sprintf("dependency %s not found", dep.EntityID))
			continue
		}

		if target.Lifecycle != types.EntityRunning {
			result.Satisfied = false
			result.Violations = append(result.Violations, fmt.Sprintf("dependency %s is %s, requires running", dep.EntityID, target.Lifecycle))
			continue
		}

		if dep.CompatibleRange == "" {
			continue
		}
		rng, err := semver.NewConstraint(dep.CompatibleRange)
		if err != nil {
			return types.ConstraintResult{}, fmt.Errorf("parsing compatible range %q for dependency %s: %w", dep.CompatibleRange, dep.EntityID, err)
		}
		ver, err := semver.NewVersion(target.ReportedVersion)
		if err != nil {
			result.Satisfied = false
			result.Violations = append(result.Violations, fmt.Sprintf("dependency %s version %q is not semver, cannot check range %s", dep.EntityID, target.ReportedVersion, dep.CompatibleRange))
			continue
		}
		if !rng.Check(ver) {
			result.Satisfied = false
			result.Violations = append(result.Violations, fmt.Sprintf("dependency %s version %s outside compatible range %s", dep.EntityID, target.ReportedVersion, dep.CompatibleRange))
		}
	}

	result.Metadata = map[string]string{"dependencies_checked": strconv.Itoa(len(req.Entity.Dependencies))}
	return result, nil
}

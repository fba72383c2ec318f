package constraint

import (
	"context"
	"fmt"

	"github.com/fleetops/deployhub/pkg/types"
)

// SuppressionConstraint blocks all changes during an absolute time range,
// e.g. a change freeze over a holiday weekend.
type SuppressionConstraint struct {
	suppression types.Suppression
}

// NewSuppressionConstraint creates a constraint for one suppression range.
func NewSuppressionConstraint(s types.Suppression) *SuppressionConstraint {
	return &SuppressionConstraint{suppression: s}
}

func (c *SuppressionConstraint) Name() string { return "suppression" }

// Evaluate is unsatisfied while the suppression range covers the instant.
func (c *SuppressionConstraint) Evaluate(ctx context.Context, req Request) (types.ConstraintResult, error) {
	if c.suppression.Active(req.Now) {
		return types.ConstraintResult{
			Satisfied:  false,
			Violations: []string{fmt.Sprintf("changes suppressed until %s: %s", c.suppression.End.Format("2006-01-02 15:04 MST"), c.suppression.Reason)},
		}, nil
	}
	return types.ConstraintResult{Satisfied: true}, nil
}

package constraint

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetops/deployhub/pkg/types"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// WindowConstraint is satisfied only while the proposed instant falls inside
// at least one of its maintenance windows.
type WindowConstraint struct {
	windows []types.MaintenanceWindow
}

// NewWindowConstraint creates a window constraint over the given windows.
func NewWindowConstraint(windows []types.MaintenanceWindow) *WindowConstraint {
	return &WindowConstraint{windows: windows}
}

func (c *WindowConstraint) Name() string { return "maintenance_window" }

// Evaluate checks the proposed instant against every configured window.
func (c *WindowConstraint) Evaluate(ctx context.Context, req Request) (types.ConstraintResult, error) {
	for _, w := range c.windows {
		inside, err := InWindow(w, req.Now)
		if err != nil {
			return types.ConstraintResult{}, fmt.Errorf("window %s: %w", w.Name, err)
		}
		if inside {
			return types.ConstraintResult{
				Satisfied: true,
				Metadata:  map[string]string{"window": w.Name},
			}, nil
		}
	}
	return types.ConstraintResult{
		Satisfied:  false,
		Violations: []string{"outside maintenance window"},
	}, nil
}

// InWindow reports whether the instant falls inside the window.
//
// The window opens at each cron activation and stays open for the configured
// duration, evaluated in the window's timezone. An instant is inside a window
// of [activation, activation+duration).
func InWindow(w types.MaintenanceWindow, at time.Time) (bool, error) {
	loc := time.UTC
	if w.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(w.Timezone)
		if err != nil {
			return false, fmt.Errorf("loading timezone %q: %w", w.Timezone, err)
		}
	}

	sched, err := cronParser.Parse(w.Cron)
	if err != nil {
		return false, fmt.Errorf("parsing cron %q: %w", w.Cron, err)
	}

	at = at.In(loc)

	// Any activation that could still cover `at` happened within the last
	// `duration`. Scan forward from there; cron.Next returns instants
	// strictly after its argument.
	t := sched.Next(at.Add(-w.Duration))
	for !t.After(at) {
		if at.Before(t.Add(w.Duration)) {
			return true, nil
		}
		t = sched.Next(t)
	}
	return false, nil
}

// Package driver defines the plugin interface for applying plan operations.
//
// A driver turns a dispatched plan into real changes on the cluster the
// agent manages. The hub never sees drivers; it only sees the outcome
// report, so drivers are free to shell out, call a package manager, or
// talk to an orchestrator API.
//
// # Adding New Drivers
//
// To add a new driver:
//
//  1. Create a new file (e.g., helm.go) implementing the Driver interface
//  2. Map each Operation (create/update/revert/remove) onto your backend
//  3. Wire it up in the agent's driver selection
package driver

import (
	"context"

	"github.com/fleetops/deployhub/pkg/types"
)

// Driver applies plan operations to the managed cluster.
type Driver interface {
	// Kind returns the unique identifier for this driver (e.g., "exec")
	Kind() string

	// Apply executes one operation. On success it returns the version
	// actually running afterwards, which the agent reports back so the
	// hub can reconcile reported state. For remove operations the
	// returned version is empty.
	Apply(ctx context.Context, plan types.DispatchedPlan) (observedVersion string, err error)
}

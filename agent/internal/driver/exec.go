package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// ExecDriver applies operations by invoking an external command.
//
// The command is called as:
//
//	<command> <operation> <product_id> <entity_id>
//
// with the plan details passed in the environment:
//
//	DEPLOY_PLAN_ID        plan identifier
//	DEPLOY_OPERATION      create | update | revert | remove
//	DEPLOY_TARGET_VERSION target version (empty for remove)
//	DEPLOY_TARGET_CONFIG  target configuration as a JSON object
//	DEPLOY_VALUES_ONLY    "true" for configuration-only updates
//
// A zero exit status means the operation succeeded; anything else is
// reported to the hub as a failure with the command's combined output.
type ExecDriver struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecDriver creates an exec driver. A zero timeout defaults to
// ten minutes per operation.
func NewExecDriver(command string, timeout time.Duration, logger *slog.Logger) *ExecDriver {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ExecDriver{
		command: command,
		timeout: timeout,
		logger:  logger.With("component", "exec_driver"),
	}
}

func (d *ExecDriver) Kind() string { return "exec" }

func (d *ExecDriver) Apply(ctx context.Context, plan types.DispatchedPlan) (string, error) {
	if d.command == "" {
		return "", fmt.Errorf("exec driver has no command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	configJSON, err := json.Marshal(plan.TargetConfig)
	if err != nil {
		return "", fmt.Errorf("encoding target config: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.command,
		string(plan.Operation), plan.ProductID, plan.EntityID)
	cmd.Env = append(cmd.Environ(),
		"DEPLOY_PLAN_ID="+plan.PlanID,
		"DEPLOY_OPERATION="+string(plan.Operation),
		"DEPLOY_TARGET_VERSION="+plan.TargetVersion,
		"DEPLOY_TARGET_CONFIG="+string(configJSON),
		fmt.Sprintf("DEPLOY_VALUES_ONLY=%t", plan.ValuesOnly),
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	d.logger.Info("applying operation",
		"plan_id", plan.PlanID,
		"operation", plan.Operation,
		"entity_id", plan.EntityID,
		"target_version", plan.TargetVersion)

	if err := cmd.Run(); err != nil {
		d.logger.Error("operation failed",
			"plan_id", plan.PlanID,
			"duration", time.Since(start),
			"error", err)
		return "", fmt.Errorf("%s %s failed: %w: %s",
			plan.Operation, plan.EntityID, err, truncate(output.String(), 512))
	}

	d.logger.Info("operation complete",
		"plan_id", plan.PlanID,
		"duration", time.Since(start))

	if plan.Operation == types.OperationRemove {
		return "", nil
	}
	return plan.TargetVersion, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

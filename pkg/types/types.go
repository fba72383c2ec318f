// Package types defines the core domain types shared between the hub and
// spoke agents.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport
// 3. Immutability: Prefer value types; mutations create new instances
// 4. Validation: Types include Validate() methods for business rule enforcement
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// ENTITY
// =============================================================================

// Entity represents a deployed (or to-be-deployed) unit of a product in an
// environment, tracked by desired vs. reported state.
//
// Entities are never deleted, only superseded. Lifecycle state transitions
// are driven exclusively by plan execution outcomes and periodic health
// reports; API callers never set lifecycle state directly.
type Entity struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`

	// Placement
	Environment string `json:"environment"` // e.g. "staging", "production"
	ClusterID   string `json:"cluster_id"`
	Criticality string `json:"criticality"` // e.g. "low", "standard", "critical"

	// Desired state
	DesiredVersion string            `json:"desired_version"`
	DesiredConfig  map[string]string `json:"desired_config,omitempty"`

	// Reported state (from agent outcome reports and health snapshots)
	ReportedVersion string            `json:"reported_version,omitempty"`
	ReportedConfig  map[string]string `json:"reported_config,omitempty"`
	ReportedHealth  string            `json:"reported_health,omitempty"` // "healthy", "degraded", "unhealthy"

	// Dependencies on other entities, with compatible version ranges.
	Dependencies []DependencyRef `json:"dependencies,omitempty"`

	// MarkedForRemoval requests an uninstall on the next evaluation.
	MarkedForRemoval bool `json:"marked_for_removal,omitempty"`

	// Lifecycle state machine
	Lifecycle      EntityState `json:"lifecycle"`
	StateChangedAt time.Time   `json:"state_changed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DependencyRef names another entity this entity depends on, and the version
// range of that dependency it is compatible with.
type DependencyRef struct {
	EntityID string `json:"entity_id"`

	// CompatibleRange is a semver range constraint, e.g. ">=1.2.0 <2.0.0".
	// Empty means any version.
	CompatibleRange string `json:"compatible_range,omitempty"`
}

// EntityState represents the lifecycle state of an entity.
type EntityState string

const (
	// EntityUnmanaged - registered but never installed
	EntityUnmanaged EntityState = "unmanaged"
	// EntityPending - an install plan exists but has not been dispatched
	EntityPending EntityState = "pending"
	// EntityInstalling - an install plan is executing
	EntityInstalling EntityState = "installing"
	// EntityRunning - installed and healthy
	EntityRunning EntityState = "running"
	// EntityDegraded - installed but reporting unhealthy
	EntityDegraded EntityState = "degraded"
	// EntityFailed - a fatal execution or health outcome
	EntityFailed EntityState = "failed"
)

// Validate checks that the entity has required fields.
func (e *Entity) Validate() error {
	if e.ProductID == "" {
		return fmt.Errorf("entity product_id is required")
	}
	if e.Environment == "" {
		return fmt.Errorf("entity environment is required")
	}
	if e.ClusterID == "" {
		return fmt.Errorf("entity cluster_id is required")
	}
	if e.DesiredVersion == "" && !e.MarkedForRemoval {
		return fmt.Errorf("entity desired_version is required")
	}
	return nil
}

// ConfigDiffers reports whether desired and reported configuration differ.
func (e *Entity) ConfigDiffers() bool {
	if len(e.DesiredConfig) != len(e.ReportedConfig) {
		return true
	}
	for k, v := range e.DesiredConfig {
		if e.ReportedConfig[k] != v {
			return true
		}
	}
	return false
}

// =============================================================================
// PLAN
// =============================================================================

// PlanType classifies the remediation a plan performs.
type PlanType string

const (
	PlanInstall      PlanType = "install"
	PlanUpgrade      PlanType = "upgrade"
	PlanRollback     PlanType = "rollback"
	PlanUninstall    PlanType = "uninstall"
	PlanConfigUpdate PlanType = "config_update"
)

// PlanState represents the lifecycle state of a plan.
type PlanState string

const (
	PlanPending    PlanState = "pending"
	PlanBlocked    PlanState = "blocked"
	PlanExecuting  PlanState = "executing"
	PlanSucceeded  PlanState = "succeeded"
	PlanFailed     PlanState = "failed"
	PlanCancelled  PlanState = "cancelled"
	PlanRolledBack PlanState = "rolled_back"
)

// Terminal reports whether the state is terminal for the plan.
// FAILED counts as terminal; a later rollback success moves it to ROLLED_BACK
// but no other operation may act on it.
func (s PlanState) Terminal() bool {
	switch s {
	case PlanSucceeded, PlanFailed, PlanCancelled, PlanRolledBack:
		return true
	}
	return false
}

// Plan is a proposed, gated remediation action reconciling an entity toward
// its desired state.
//
// Once a plan leaves PENDING/BLOCKED into EXECUTING, its type, target and
// violation snapshot are immutable; only execution-outcome fields change.
// Plans are never physically deleted.
type Plan struct {
	ID        string `json:"id"`
	EntityID  string `json:"entity_id"`
	ClusterID string `json:"cluster_id"`

	Type  PlanType  `json:"type"`
	State PlanState `json:"state"`

	// Target of the remediation.
	TargetVersion string            `json:"target_version,omitempty"`
	TargetConfig  map[string]string `json:"target_config,omitempty"`

	// PreviousVersion is the entity's reported version captured at dispatch
	// time; a rollback proposed after failure targets this.
	PreviousVersion string `json:"previous_version,omitempty"`

	// Constraint violations frozen at the evaluation that produced the
	// current state. Empty for a PENDING plan.
	Violations []string `json:"violations,omitempty"`

	// Approval gate requirements resolved at evaluation time, and the
	// approvals collected so far.
	RequiredRoles     []string      `json:"required_roles,omitempty"`
	RequiredApprovers int           `json:"required_approvers"`
	ApprovalTTL       time.Duration `json:"approval_ttl,omitempty"`
	Approvals         []Approval    `json:"approvals,omitempty"`

	// RollbackOf references the failed plan this rollback compensates for.
	RollbackOf string `json:"rollback_of,omitempty"`

	// Stuck is set by the sweep when an EXECUTING plan has not received a
	// report within the configured timeout. Surfaced, never auto-retried.
	Stuck bool `json:"stuck,omitempty"`

	// Execution outcome
	Error           string `json:"error,omitempty"`
	ObservedVersion string `json:"observed_version,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Validate checks that the plan has required fields and valid enums.
func (p *Plan) Validate() error {
	if p.EntityID == "" {
		return fmt.Errorf("plan entity_id is required")
	}
	switch p.Type {
	case PlanInstall, PlanUpgrade, PlanRollback, PlanUninstall, PlanConfigUpdate:
	default:
		return fmt.Errorf("invalid plan type: %s", p.Type)
	}
	switch p.State {
	case PlanPending, PlanBlocked, PlanExecuting, PlanSucceeded, PlanFailed, PlanCancelled, PlanRolledBack:
	default:
		return fmt.Errorf("invalid plan state: %s", p.State)
	}
	if (p.Type == PlanUpgrade || p.Type == PlanRollback) && p.TargetVersion == "" {
		return fmt.Errorf("plan target_version is required for %s", p.Type)
	}
	return nil
}

// PlanTransition records a plan state change for audit purposes.
type PlanTransition struct {
	ID          int64     `json:"id"`
	PlanID      string    `json:"plan_id"`
	FromState   PlanState `json:"from_state,omitempty"`
	ToState     PlanState `json:"to_state"`
	Reason      string    `json:"reason,omitempty"`
	TriggeredBy string    `json:"triggered_by"` // "evaluation", "operator", "agent_report", "sweep"
	CreatedAt   time.Time `json:"created_at"`
}

// =============================================================================
// APPROVALS
// =============================================================================

// Approval is a single recorded approval against a plan's gate.
type Approval struct {
	Approver   string    `json:"approver"`
	Role       string    `json:"role"`
	ApprovedAt time.Time `json:"approved_at"`
}

// ApprovalRule maps predicates over (environment, plan type, criticality) to
// a set of required roles and an approver count. An empty predicate slice
// matches everything.
type ApprovalRule struct {
	Name          string     `json:"name"`
	Environments  []string   `json:"environments,omitempty"`
	PlanTypes     []PlanType `json:"plan_types,omitempty"`
	Criticalities []string   `json:"criticalities,omitempty"`

	RequiredRoles     []string `json:"required_roles"`
	RequiredApprovers int      `json:"required_approvers"`
}

// Matches reports whether the rule applies to the given plan coordinates.
func (r *ApprovalRule) Matches(environment string, planType PlanType, criticality string) bool {
	if len(r.Environments) > 0 && !containsString(r.Environments, environment) {
		return false
	}
	if len(r.Criticalities) > 0 && !containsString(r.Criticalities, criticality) {
		return false
	}
	if len(r.PlanTypes) > 0 {
		found := false
		for _, t := range r.PlanTypes {
			if t == planType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

// ConstraintResult is the immutable outcome of one constraint evaluation.
type ConstraintResult struct {
	Satisfied  bool              `json:"satisfied"`
	Violations []string          `json:"violations,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MaintenanceWindow defines a recurring window during which plans may execute.
// Cron matching uses standard 5-field semantics (minute, hour, day-of-month,
// month, day-of-week).
type MaintenanceWindow struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Cron     string        `json:"cron"` // e.g. "0 2 * * 6"
	Duration time.Duration `json:"duration"`
	Timezone string        `json:"timezone"` // IANA name, e.g. "America/New_York"

	// Scoping: empty means all environments.
	Environments []string `json:"environments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the window definition.
func (w *MaintenanceWindow) Validate() error {
	if w.Cron == "" {
		return fmt.Errorf("maintenance window cron is required")
	}
	if w.Duration <= 0 {
		return fmt.Errorf("maintenance window duration must be positive")
	}
	return nil
}

// AppliesTo reports whether the window covers the given environment.
func (w *MaintenanceWindow) AppliesTo(environment string) bool {
	return len(w.Environments) == 0 || containsString(w.Environments, environment)
}

// Suppression is an absolute time range during which all changes are blocked
// regardless of other constraints.
type Suppression struct {
	ID     string    `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`

	// Scoping: empty means all environments.
	Environments []string `json:"environments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the suppression interval.
func (s *Suppression) Validate() error {
	if !s.End.After(s.Start) {
		return fmt.Errorf("suppression end must be after start")
	}
	if s.Reason == "" {
		return fmt.Errorf("suppression reason is required")
	}
	return nil
}

// Active reports whether the instant falls within [start, end).
func (s *Suppression) Active(at time.Time) bool {
	return !at.Before(s.Start) && at.Before(s.End)
}

// AppliesTo reports whether the suppression covers the given environment.
func (s *Suppression) AppliesTo(environment string) bool {
	return len(s.Environments) == 0 || containsString(s.Environments, environment)
}

// =============================================================================
// DISPATCH (Hub <-> Spoke Agent protocol)
// =============================================================================

// Operation is the infrastructure operation an agent performs for a plan.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationRevert Operation = "revert"
	OperationRemove Operation = "remove"
)

// DispatchedPlan is what an agent receives from a poll: the plan with its
// resolved operation and target.
type DispatchedPlan struct {
	PlanID    string   `json:"plan_id"`
	EntityID  string   `json:"entity_id"`
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Type      PlanType `json:"type"`

	// Operation resolved from the plan type by the hub.
	Operation Operation `json:"operation"`

	// ValuesOnly is set for config_update: apply configuration without a
	// version change.
	ValuesOnly bool `json:"values_only,omitempty"`

	TargetVersion string            `json:"target_version,omitempty"`
	TargetConfig  map[string]string `json:"target_config,omitempty"`

	DispatchedAt time.Time `json:"dispatched_at"`
}

// Outcome is the agent's report for an executed plan.
type Outcome struct {
	PlanID  string `json:"plan_id"`
	AgentID string `json:"agent_id"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	ObservedVersion string          `json:"observed_version,omitempty"`
	Health          *HealthSnapshot `json:"health,omitempty"`

	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Validate checks that the outcome has required fields.
func (o *Outcome) Validate() error {
	if o.PlanID == "" {
		return fmt.Errorf("outcome plan_id is required")
	}
	if !o.Success && o.Error == "" {
		return fmt.Errorf("outcome error is required on failure")
	}
	return nil
}

// Hash returns a stable digest of the outcome's identity-relevant fields.
// The hub applies a given (plan, hash) pair exactly once; agents may report
// the same outcome multiple times after retried network calls.
func (o *Outcome) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%t|%s|%s", o.PlanID, o.Success, o.ObservedVersion, o.Error)
	return hex.EncodeToString(h.Sum(nil))
}

// HealthSnapshot captures observed entity health at report time.
type HealthSnapshot struct {
	Status     string  `json:"status"` // "healthy", "degraded", "unhealthy"
	Message    string  `json:"message,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryMB   float64 `json:"memory_mb,omitempty"`
}

// =============================================================================
// AGENT
// =============================================================================

// Agent represents a spoke agent serving one target cluster.
type Agent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClusterID string `json:"cluster_id"`

	Environment string `json:"environment"`
	Version     string `json:"version"`

	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`

	CreatedAt time.Time `json:"created_at"`
}

// AgentStatus represents the health state of an agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDegraded AgentStatus = "degraded"
	AgentStatusOffline  AgentStatus = "offline"
)

// Heartbeat is the periodic health report from agent to hub.
type Heartbeat struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`

	Status AgentStatus `json:"status"`

	// Resource usage of the agent process
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	GoroutineCount int     `json:"goroutine_count"`

	// Per-entity health observations, keyed by entity ID.
	EntityHealth map[string]HealthSnapshot `json:"entity_health,omitempty"`

	PlansExecuting int   `json:"plans_executing"`
	PlansCompleted int64 `json:"plans_completed_total"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventType names an emitted engine event.
type EventType string

const (
	EventEntityStateChanged EventType = "entity_state_changed"
	EventPlanCompleted      EventType = "plan_completed"
	EventPlanFailed         EventType = "plan_failed"
)

// Event is delivered to registered listeners in emission order. Delivery
// completion is not awaited by the emitter beyond a configurable timeout.
type Event struct {
	Type      EventType `json:"type"`
	EntityID  string    `json:"entity_id,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	OldState  string    `json:"old_state,omitempty"`
	NewState  string    `json:"new_state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

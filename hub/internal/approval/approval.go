// Package approval resolves which approvals a plan requires and checks
// whether the collected approvals satisfy them.
package approval

import (
	"sort"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// Requirement is the resolved approval gate for one plan.
type Requirement struct {
	// Roles that must each be represented by at least one unexpired approval.
	Roles []string

	// Approvers is the minimum number of distinct unexpired approvers.
	Approvers int

	// TTL bounds how long an approval counts; zero means approvals never
	// expire.
	TTL time.Duration
}

// Router maps a plan to its approval requirement from configured rules.
//
// When multiple rules match, the requirement is the union of their role sets
// and the maximum of their approver counts, so adding a rule can only
// tighten the gate.
type Router struct {
	rules []types.ApprovalRule

	// DefaultTTL applies to every resolved requirement.
	defaultTTL time.Duration
}

// NewRouter creates a router over the given rules.
func NewRouter(rules []types.ApprovalRule, defaultTTL time.Duration) *Router {
	return &Router{rules: rules, defaultTTL: defaultTTL}
}

// Resolve returns the approval requirement for a plan against its entity.
// A plan no rule matches requires no approvals.
func (r *Router) Resolve(entity *types.Entity, planType types.PlanType) Requirement {
	req := Requirement{TTL: r.defaultTTL}
	roleSet := make(map[string]struct{})

	for _, rule := range r.rules {
		if !rule.Matches(entity.Environment, planType, entity.Criticality) {
			continue
		}
		for _, role := range rule.RequiredRoles {
			roleSet[role] = struct{}{}
		}
		if rule.RequiredApprovers > req.Approvers {
			req.Approvers = rule.RequiredApprovers
		}
	}

	if len(roleSet) > 0 {
		req.Roles = make([]string, 0, len(roleSet))
		for role := range roleSet {
			req.Roles = append(req.Roles, role)
		}
		sort.Strings(req.Roles)
	}
	return req
}

// Check evaluates collected approvals against the requirement at the given
// instant. Expired approvals are ignored but left in place so the audit
// record stays complete. Returns nil when the gate is satisfied.
func Check(planID string, req Requirement, approvals []types.Approval, now time.Time) error {
	valid := approvals[:0:0]
	for _, a := range approvals {
		if req.TTL > 0 && now.Sub(a.ApprovedAt) > req.TTL {
			continue
		}
		valid = append(valid, a)
	}

	// Distinct approvers only; the same person approving twice counts once.
	approvers := make(map[string]struct{}, len(valid))
	rolesSeen := make(map[string]struct{}, len(valid))
	for _, a := range valid {
		approvers[a.Approver] = struct{}{}
		rolesSeen[a.Role] = struct{}{}
	}

	var missing []string
	for _, role := range req.Roles {
		if _, ok := rolesSeen[role]; !ok {
			missing = append(missing, role)
		}
	}

	if len(missing) > 0 || len(approvers) < req.Approvers {
		return &types.NotApprovedError{
			PlanID:       planID,
			MissingRoles: missing,
			Have:         len(approvers),
			Need:         req.Approvers,
		}
	}
	return nil
}

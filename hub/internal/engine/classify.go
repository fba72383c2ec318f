package engine

import (
	"github.com/Masterminds/semver/v3"

	"github.com/fleetops/deployhub/pkg/types"
)

// Classify determines the remediation an entity needs. Rules are evaluated
// in order, first match wins; an empty result means the entity is already
// reconciled.
func Classify(entity *types.Entity) types.PlanType {
	if entity.Lifecycle == types.EntityUnmanaged {
		if entity.MarkedForRemoval || entity.DesiredVersion == "" {
			return ""
		}
		return types.PlanInstall
	}

	if entity.ReportedVersion != entity.DesiredVersion && entity.DesiredVersion != "" {
		if versionLess(entity.DesiredVersion, entity.ReportedVersion) {
			return types.PlanRollback
		}
		return types.PlanUpgrade
	}

	if entity.ConfigDiffers() {
		return types.PlanConfigUpdate
	}

	if entity.MarkedForRemoval {
		return types.PlanUninstall
	}

	return ""
}

// versionLess reports whether a is a provable semver downgrade from b.
// Unparseable versions are never a downgrade, so a mismatch classifies as
// an upgrade rather than risking an unintended rollback.
func versionLess(a, b string) bool {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return false
	}
	return va.LessThan(vb)
}

package authorization

import (
	_ "embed"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// NewEnforcer builds the role-policy enforcer over the shared database.
// Role grants are domain-scoped ("org:<id>") so a role in one tenant
// carries nothing into another.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Guests see the organization they were invited into, nothing more.
		{"role:guest", "*", ObjectOrganization, ActionOrganizationView},

		// Members additionally see the roster and quota standing.
		{"role:member", "*", ObjectOrganization, ActionOrganizationView},
		{"role:member", "*", ObjectMember, ActionMemberView},
		{"role:member", "*", ObjectQuota, ActionQuotaView},

		// Admins manage the roster and consume quota.
		{"role:admin", "*", ObjectOrganization, ActionOrganizationView},
		{"role:admin", "*", ObjectOrganization, ActionOrganizationUpdate},
		{"role:admin", "*", ObjectMember, ActionMemberView},
		{"role:admin", "*", ObjectMember, ActionMemberAdd},
		{"role:admin", "*", ObjectMember, ActionMemberRemove},
		{"role:admin", "*", ObjectMember, ActionMemberUpdateRole},
		{"role:admin", "*", ObjectQuota, ActionQuotaView},
		{"role:admin", "*", ObjectQuota, ActionQuotaReserve},
		{"role:admin", "*", ObjectQuota, ActionQuotaRelease},
		{"role:admin", "*", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", "*", ObjectProvisioning, ActionProvisioningView},

		// Owners additionally control the tenant's lifecycle.
		{"role:owner", "*", ObjectOrganization, ActionOrganizationView},
		{"role:owner", "*", ObjectOrganization, ActionOrganizationUpdate},
		{"role:owner", "*", ObjectOrganization, ActionOrganizationDelete},
		{"role:owner", "*", ObjectMember, ActionMemberView},
		{"role:owner", "*", ObjectMember, ActionMemberAdd},
		{"role:owner", "*", ObjectMember, ActionMemberRemove},
		{"role:owner", "*", ObjectMember, ActionMemberUpdateRole},
		{"role:owner", "*", ObjectQuota, ActionQuotaView},
		{"role:owner", "*", ObjectQuota, ActionQuotaReserve},
		{"role:owner", "*", ObjectQuota, ActionQuotaRelease},
		{"role:owner", "*", ObjectAuditLog, ActionAuditLogView},
		{"role:owner", "*", ObjectProvisioning, ActionProvisioningView},
		{"role:owner", "*", ObjectProvisioning, ActionProvisioningTrigger},

		// The scheduler and other automated processes.
		{"role:system", "*", ObjectQuota, ActionQuotaReserve},
		{"role:system", "*", ObjectQuota, ActionQuotaRelease},
		{"role:system", "*", ObjectProvisioning, ActionProvisioningTrigger},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

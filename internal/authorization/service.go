// Package authorization is the capability facade over the tenant store,
// quota ledger and role policies. Feature modules consult it before
// touching tenant-scoped resources; it never trusts the caller's own
// filtering.
package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
)

// Objects guarded by role policy.
const (
	ObjectOrganization = "organization"
	ObjectMember       = "member"
	ObjectQuota        = "quota"
	ObjectAuditLog     = "audit_log"
	ObjectProvisioning = "provisioning"
)

// Actions on guarded objects.
const (
	ActionOrganizationView   = "organization.view"
	ActionOrganizationUpdate = "organization.update"
	ActionOrganizationDelete = "organization.delete"

	ActionMemberView       = "member.view"
	ActionMemberAdd        = "member.add"
	ActionMemberRemove     = "member.remove"
	ActionMemberUpdateRole = "member.update_role"

	ActionQuotaView    = "quota.view"
	ActionQuotaReserve = "quota.reserve"
	ActionQuotaRelease = "quota.release"

	ActionAuditLogView = "audit_log.view"

	ActionProvisioningView    = "provisioning.view"
	ActionProvisioningTrigger = "provisioning.trigger"
)

type Service interface {
	// Authorize answers whether the request's actor may perform action on
	// object within the active organization. Privileged overrides pass;
	// everyone else goes through the role policy.
	Authorize(ctx context.Context, object, action string) error

	// CheckMembership is the cheap membership predicate for collaborators.
	CheckMembership(ctx context.Context, orgID, userID snowflake.ID) (bool, error)

	// CheckAndReserveQuota atomically consumes quota in the active
	// organization. A denial is reported in the Decision, not as an error.
	CheckAndReserveQuota(ctx context.Context, resource quotadomain.ResourceType, amount int64) (quotadomain.Decision, error)

	// ReleaseQuota returns quota in the active organization.
	ReleaseQuota(ctx context.Context, resource quotadomain.ResourceType, amount int64) error

	// GetOrganization and ListOrganizations expose visibility-filtered
	// tenant reads.
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error)
	ListOrganizations(ctx context.Context, req orgdomain.ListRequest) (orgdomain.ListResponse, error)

	// UpdateRole changes a membership role under the rank rules.
	UpdateRole(ctx context.Context, orgID, userID snowflake.ID, newRole string) error
}

var (
	ErrMissingTenant       = errors.New("missing_tenant")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)

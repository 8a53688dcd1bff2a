package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/tier"
	"github.com/smallbiznis/tenantcore/pkg/db/pagination"
)

// Membership roles, strongest first. Rank ordering drives every role
// change decision: a caller may only assign or strip roles they outrank.
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
	RoleGuest  = "GUEST"
)

var roleRank = map[string]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleMember: 2,
	RoleGuest:  1,
}

// RoleRank returns the ordering rank of a role, 0 for unknown roles.
func RoleRank(role string) int { return roleRank[role] }

// ValidRole reports whether role is one of the closed membership roles.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

type Service interface {
	// Create validates slug uniqueness, persists the organization in Trial
	// status with its owner membership, seeds zeroed usage counters, and
	// hands the org to the provisioning trigger. The caller becomes Owner.
	Create(ctx context.Context, req CreateOrganizationRequest) (*Organization, error)

	// GetByID returns the organization if it is visible to the caller.
	// Absent, soft-deleted and other-tenant organizations are all reported
	// as ErrNotFound.
	GetByID(ctx context.Context, orgID snowflake.ID) (*Organization, error)

	// List returns the organizations visible to the caller: their own
	// memberships, or every live organization under a privileged override.
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// UpdateRole changes a member's role. The caller must outrank both the
	// member's current role and the new role. Demoting the only Owner is
	// rejected.
	UpdateRole(ctx context.Context, orgID, userID snowflake.ID, newRole string) error

	// AddMember reserves user quota and inserts the membership; the
	// reservation is rolled back if the insert fails.
	AddMember(ctx context.Context, orgID, userID snowflake.ID, role string) (*Member, error)

	// RemoveMember hard-deletes the membership and releases its quota.
	RemoveMember(ctx context.Context, orgID, userID snowflake.ID) error

	// IsMember answers the hot-path membership check. Results are cached
	// briefly; any membership mutation invalidates the cached entry.
	IsMember(ctx context.Context, orgID, userID snowflake.ID) (bool, error)

	// RoleOf returns the member's role, or ErrNotFound.
	RoleOf(ctx context.Context, orgID, userID snowflake.ID) (string, error)

	// SoftDelete marks the organization Cancelled and stamps deleted_at on
	// it and its dependent tenant-scoped rows in one transaction.
	SoftDelete(ctx context.Context, orgID snowflake.ID) error

	// TransitionStatus moves the org from one lifecycle status to another.
	// The from-status guard makes concurrent transitions race-safe.
	TransitionStatus(ctx context.Context, orgID snowflake.ID, from, to Status) error
}

// Provisioner receives newly created organizations for out-of-band
// provisioning. Create enqueues; it never provisions inline.
type Provisioner interface {
	Enqueue(orgID snowflake.ID)
}

type CreateOrganizationRequest struct {
	Name string    `json:"name"`
	Slug string    `json:"slug"`
	Tier tier.Tier `json:"tier"`
}

type ListRequest struct {
	pagination.Pagination
}

type ListResponse struct {
	Organizations []Organization      `json:"organizations"`
	PageInfo      pagination.PageInfo `json:"page_info"`
}

// ListItem joins an organization with the caller's role in it.
type ListItem struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	Status    Status
	Tier      tier.Tier
	Role      string
	CreatedAt time.Time
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidSlug         = errors.New("invalid_slug")
	ErrInvalidTier         = errors.New("invalid_tier")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrDuplicateSlug       = errors.New("duplicate_slug")
	ErrDuplicateMember     = errors.New("duplicate_member")
	ErrNotFound            = errors.New("not_found")
	ErrPermissionDenied    = errors.New("permission_denied")
	ErrQuotaExceeded       = errors.New("quota_exceeded")
	ErrLastOwner           = errors.New("last_owner")
	ErrStatusConflict      = errors.New("status_conflict")
	ErrSettingsConflict    = errors.New("settings_conflict")
)

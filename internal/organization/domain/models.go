// Package domain contains persistence models for the tenant store.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/tier"
	"gorm.io/datatypes"
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusTrial     Status = "TRIAL"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCancelled Status = "CANCELLED"
)

// Organization represents a tenant. The slug is globally unique and
// immutable after creation. Rows are never hard-deleted: cancellation
// sets deleted_at and flips the status, keeping the row for audit.
type Organization struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	Slug      string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	Status    Status            `gorm:"type:text;not null;default:'TRIAL'" json:"status"`
	Tier      tier.Tier         `gorm:"type:text;not null;default:'TRIAL'" json:"tier"`
	Settings  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"settings"`
	CreatedBy snowflake.ID      `gorm:"column:created_by" json:"created_by"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt *time.Time        `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// Member represents membership of a user in an organization. Membership
// rows are hard-deleted on removal; there is nothing to audit-recover in
// a revoked membership beyond the audit log entry.
type Member struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_members_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_members_org_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "organization_members" }

// Feature is one enabled feature flag for a tenant.
type Feature struct {
	OrgID     snowflake.ID `gorm:"primaryKey;column:org_id" json:"org_id"`
	Feature   string       `gorm:"primaryKey;type:text" json:"feature"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Feature) TableName() string { return "organization_features" }

// Package domain contains persistence models for the quota ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ResourceType names a tracked per-tenant resource.
type ResourceType string

const (
	ResourceUsers        ResourceType = "users"
	ResourceClasses      ResourceType = "classes"
	ResourceStorageBytes ResourceType = "storage_bytes"
	ResourceAPICalls     ResourceType = "api_calls"
	ResourceSessions     ResourceType = "sessions"
)

// All lists every tracked resource type. CreateOrganization seeds one
// counter row per entry.
func All() []ResourceType {
	return []ResourceType{
		ResourceUsers,
		ResourceClasses,
		ResourceStorageBytes,
		ResourceAPICalls,
		ResourceSessions,
	}
}

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceUsers, ResourceClasses, ResourceStorageBytes, ResourceAPICalls, ResourceSessions:
		return true
	default:
		return false
	}
}

// Periodic reports whether the counter is zeroed at period boundaries.
// Standing counters (users, classes, storage, sessions) are adjusted on
// create/delete and never bulk-reset.
func (rt ResourceType) Periodic() bool {
	return rt == ResourceAPICalls
}

// UsageCounter is one (tenant, resource) usage row. CurrentValue is only
// ever mutated through the ledger's guarded updates; the limit is consulted
// at mutation time and is deliberately not a storage constraint so limits
// can be lowered below historical usage.
type UsageCounter struct {
	OrgID        snowflake.ID `gorm:"primaryKey;column:org_id"`
	ResourceType ResourceType `gorm:"primaryKey;type:text;column:resource_type"`
	CurrentValue int64        `gorm:"not null;default:0"`
	LimitValue   int64        `gorm:"not null;default:0"`
	Periodic     bool         `gorm:"not null;default:false"`
	PeriodStart  time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageCounter) TableName() string { return "usage_counters" }

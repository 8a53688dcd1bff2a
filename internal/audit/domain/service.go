// Package domain defines the audit trail written by the tenancy core.
// Every resolved request, denied authorization and isolation violation
// lands here.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Severity classifies an audit entry. Isolation violations are always
// SeverityCritical and are never downgraded.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AuditLog is one persisted audit record.
type AuditLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"index;column:org_id" json:"org_id"`
	ActorID   snowflake.ID      `gorm:"column:actor_id" json:"actor_id"`
	Action    string            `gorm:"type:text;not null;index" json:"action"`
	Target    string            `gorm:"type:text" json:"target"`
	Severity  Severity          `gorm:"type:text;not null;default:'INFO'" json:"severity"`
	Override  bool              `gorm:"column:privileged_override;not null;default:false" json:"privileged_override"`
	Path      string            `gorm:"type:text" json:"path"`
	IPAddress *string           `gorm:"column:ip_address" json:"ip_address,omitempty"`
	UserAgent *string           `gorm:"column:user_agent" json:"user_agent,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Entry is the write-side payload; request attributes (ip, user agent,
// request id) are pulled from context by the service.
type Entry struct {
	OrgID    snowflake.ID
	ActorID  snowflake.ID
	Action   string
	Target   string
	Path     string
	Override bool
	Severity Severity
	Metadata map[string]any
}

type ListRequest struct {
	Action    string
	Severity  string
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	AuditLogs []AuditLog `json:"audit_logs"`
	PageInfo  PageInfo   `json:"page_info"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// Cursor is the keyset position for audit listing, newest first.
type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID    snowflake.ID
	Action   string
	Severity string
	Cursor   *Cursor
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, entry *AuditLog) error
	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	// Record appends an audit entry. Failures are logged by the caller's
	// choice; the tenancy core treats audit writes as best effort except
	// for isolation violations.
	Record(ctx context.Context, entry Entry) error

	// RecordIsolationViolation writes the security-incident class entry.
	// It forces SeverityCritical regardless of what the caller supplied.
	RecordIsolationViolation(ctx context.Context, entry Entry) error

	// List pages the active organization's audit trail, newest first.
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)

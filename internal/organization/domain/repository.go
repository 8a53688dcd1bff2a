package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListCursor is a keyset position in a (created_at, id) ordered listing.
// The id tie-break keeps pagination exact when rows share a timestamp.
type ListCursor struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListByUser(ctx context.Context, userID snowflake.ID, after *ListCursor, limit int) ([]*Organization, error)
	ListAll(ctx context.Context, after *ListCursor, limit int) ([]*Organization, error)
	TransitionStatus(ctx context.Context, orgID snowflake.ID, from, to Status) (bool, error)
	SoftDelete(ctx context.Context, orgID snowflake.ID, at time.Time) (bool, error)
	UpdateSettings(ctx context.Context, orgID snowflake.ID, settings map[string]any) error

	AddMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, orgID, userID snowflake.ID) (*Member, error)
	RemoveMember(ctx context.Context, orgID, userID snowflake.ID) (bool, error)
	UpdateMemberRole(ctx context.Context, orgID, userID snowflake.ID, role string) error
	CountByRole(ctx context.Context, orgID snowflake.ID, role string) (int64, error)

	ReplaceFeatures(ctx context.Context, orgID snowflake.ID, features []string) error
	ListFeatures(ctx context.Context, orgID snowflake.ID) ([]string, error)
}

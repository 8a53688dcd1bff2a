package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/pkg/rls"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Settings merges retry this many times before reporting a conflict.
const settingsUpdateAttempts = 5

type repository struct {
	db *gorm.DB
	// bound marks db as a transaction the caller already tenant-bound;
	// methods then run on it directly instead of opening their own.
	bound bool
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx, bound: true}
}

// scoped runs fn in a tenant-bound transaction. The request context wins
// when present; internal callers without one bind the target org.
func (r *repository) scoped(ctx context.Context, orgID snowflake.ID, fn func(tx *gorm.DB) error) error {
	if r.bound {
		return fn(r.db.WithContext(ctx))
	}
	return rls.Bind(ctx, r.db, orgID, fn)
}

// system runs fn with the bypass bound, for the few reads that are
// cross-tenant by nature.
func (r *repository) system(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.bound {
		return fn(r.db.WithContext(ctx))
	}
	return rls.System(ctx, r.db, fn)
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.scoped(ctx, org.ID, func(tx *gorm.DB) error {
		return tx.Create(&org).Error
	})
}

func (r *repository) GetOrganization(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		return tx.Where("id = ? AND deleted_at IS NULL", orgID).First(&org).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// SlugExists checks slug uniqueness across all tenants; the unique index
// remains the authoritative backstop.
func (r *repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.system(ctx, func(tx *gorm.DB) error {
		return tx.Model(&domain.Organization{}).
			Where("slug = ?", slug).
			Count(&count).Error
	})
	return count > 0, err
}

// ListByUser spans every organization the user belongs to, so it runs
// under the bypass and filters by membership instead of by binding.
func (r *repository) ListByUser(ctx context.Context, userID snowflake.ID, after *domain.ListCursor, limit int) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	err := r.system(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&domain.Organization{}).
			Joins("JOIN organization_members m ON m.org_id = organizations.id").
			Where("m.user_id = ? AND organizations.deleted_at IS NULL", userID).
			Order("organizations.created_at ASC, organizations.id ASC").
			Limit(limit)
		if after != nil {
			query = query.Where(
				"(organizations.created_at > ?) OR (organizations.created_at = ? AND organizations.id > ?)",
				after.CreatedAt, after.CreatedAt, after.ID,
			)
		}
		return query.Find(&orgs).Error
	})
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) ListAll(ctx context.Context, after *domain.ListCursor, limit int) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	err := r.system(ctx, func(tx *gorm.DB) error {
		query := tx.
			Where("deleted_at IS NULL").
			Order("created_at ASC, id ASC").
			Limit(limit)
		if after != nil {
			query = query.Where(
				"(created_at > ?) OR (created_at = ? AND id > ?)",
				after.CreatedAt, after.CreatedAt, after.ID,
			)
		}
		return query.Find(&orgs).Error
	})
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

// TransitionStatus only succeeds when the row is still in the expected
// from-status; a lost race reports false rather than clobbering.
func (r *repository) TransitionStatus(ctx context.Context, orgID snowflake.ID, from, to domain.Status) (bool, error) {
	var affected int64
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		result := tx.Model(&domain.Organization{}).
			Where("id = ? AND status = ? AND deleted_at IS NULL", orgID, from).
			Updates(map[string]any{
				"status":     to,
				"updated_at": time.Now().UTC(),
			})
		affected = result.RowsAffected
		return result.Error
	})
	return affected > 0, err
}

func (r *repository) SoftDelete(ctx context.Context, orgID snowflake.ID, at time.Time) (bool, error) {
	var affected int64
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		result := tx.Model(&domain.Organization{}).
			Where("id = ? AND deleted_at IS NULL", orgID).
			Updates(map[string]any{
				"status":     domain.StatusCancelled,
				"deleted_at": at,
				"updated_at": at,
			})
		affected = result.RowsAffected
		return result.Error
	})
	return affected > 0, err
}

// UpdateSettings merges the given keys into the stored settings. The
// write is guarded on the updated_at read alongside the merge input, so
// two concurrent merges serialize instead of one overwriting the other;
// the loser re-reads and retries.
func (r *repository) UpdateSettings(ctx context.Context, orgID snowflake.ID, settings map[string]any) error {
	for attempt := 0; attempt < settingsUpdateAttempts; attempt++ {
		org, err := r.GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}

		merged := make(datatypes.JSONMap, len(org.Settings)+len(settings))
		for key, value := range org.Settings {
			merged[key] = value
		}
		for key, value := range settings {
			merged[key] = value
		}

		var affected int64
		err = r.scoped(ctx, orgID, func(tx *gorm.DB) error {
			result := tx.Model(&domain.Organization{}).
				Where("id = ? AND deleted_at IS NULL AND updated_at = ?", orgID, org.UpdatedAt).
				Updates(map[string]any{
					"settings":   merged,
					"updated_at": time.Now().UTC(),
				})
			affected = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
	}
	return domain.ErrSettingsConflict
}

func (r *repository) AddMember(ctx context.Context, member domain.Member) error {
	return r.scoped(ctx, member.OrgID, func(tx *gorm.DB) error {
		return tx.Create(&member).Error
	})
}

// GetMember resolves a membership in a live organization. A cancelled
// org's memberships read as absent, so every role lookup downstream of a
// soft delete comes back ErrNotFound.
func (r *repository) GetMember(ctx context.Context, orgID, userID snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		return tx.
			Joins("JOIN organizations ON organizations.id = organization_members.org_id AND organizations.deleted_at IS NULL").
			Where("organization_members.org_id = ? AND organization_members.user_id = ?", orgID, userID).
			First(&member).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *repository) RemoveMember(ctx context.Context, orgID, userID snowflake.ID) (bool, error) {
	var affected int64
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		result := tx.
			Where("org_id = ? AND user_id = ?", orgID, userID).
			Delete(&domain.Member{})
		affected = result.RowsAffected
		return result.Error
	})
	return affected > 0, err
}

func (r *repository) UpdateMemberRole(ctx context.Context, orgID, userID snowflake.ID, role string) error {
	var affected int64
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		result := tx.Model(&domain.Member{}).
			Where("org_id = ? AND user_id = ?", orgID, userID).
			Updates(map[string]any{
				"role":       role,
				"updated_at": time.Now().UTC(),
			})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repository) CountByRole(ctx context.Context, orgID snowflake.ID, role string) (int64, error) {
	var count int64
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		return tx.Model(&domain.Member{}).
			Where("org_id = ? AND role = ?", orgID, role).
			Count(&count).Error
	})
	return count, err
}

func (r *repository) ReplaceFeatures(ctx context.Context, orgID snowflake.ID, features []string) error {
	return r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		if err := tx.Where("org_id = ?", orgID).Delete(&domain.Feature{}).Error; err != nil {
			return err
		}
		if len(features) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]domain.Feature, 0, len(features))
		for _, feature := range features {
			rows = append(rows, domain.Feature{
				OrgID:     orgID,
				Feature:   feature,
				CreatedAt: now,
			})
		}
		return tx.Create(&rows).Error
	})
}

func (r *repository) ListFeatures(ctx context.Context, orgID snowflake.ID) ([]string, error) {
	var features []string
	err := r.scoped(ctx, orgID, func(tx *gorm.DB) error {
		return tx.Model(&domain.Feature{}).
			Where("org_id = ?", orgID).
			Order("feature ASC").
			Pluck("feature", &features).Error
	})
	return features, err
}

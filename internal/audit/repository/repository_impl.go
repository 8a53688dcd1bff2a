package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/pkg/rls"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

// Insert appends under the bypass binding: denied requests are recorded
// before any tenant is resolved, and an isolation violation is attributed
// to the org the caller aimed at, not one the session could bind.
func (r *repo) Insert(ctx context.Context, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return rls.System(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Create(entry).Error
	})
}

func (r *repo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	err := rls.Bind(ctx, r.db, filter.OrgID, func(tx *gorm.DB) error {
		stmt := tx.
			Model(&domain.AuditLog{}).
			Where("org_id = ?", filter.OrgID)

		if action := strings.TrimSpace(filter.Action); action != "" {
			stmt = stmt.Where("action = ?", action)
		}
		if severity := strings.TrimSpace(filter.Severity); severity != "" {
			stmt = stmt.Where("severity = ?", severity)
		}
		if filter.Cursor != nil {
			stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
				filter.Cursor.CreatedAt,
				filter.Cursor.CreatedAt,
				filter.Cursor.ID,
			)
		}

		stmt = stmt.Order("created_at desc, id desc")
		if filter.Limit > 0 {
			stmt = stmt.Limit(filter.Limit + 1)
		}
		return stmt.Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// Package rls binds the active tenant to the storage session so postgres
// row-level-security policies filter every tenant-scoped query. It is the
// second, independent enforcement layer under the application-level org
// filters: a bug above it still cannot read another tenant's rows.
package rls

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	"gorm.io/gorm"
)

var (
	// ErrNoTenant is returned when a scoped transaction is requested
	// without a resolved tenant and without the override capability.
	// Queries must fail closed, never run unfiltered.
	ErrNoTenant = errors.New("no tenant bound")

	// ErrBypassRole is returned by VerifyRuntimeRole when the connected
	// database role can skip row security, which would silently disable
	// the policies.
	ErrBypassRole = errors.New("database role bypasses row security")
)

// WithTenant binds tenantID to the current transaction. SET LOCAL scopes
// the variable to the transaction, so nothing leaks across pooled
// connections.
func WithTenant(tx *gorm.DB, tenantID snowflake.ID) error {
	if !isPostgres(tx) {
		return nil
	}
	return tx.Exec(
		"SET LOCAL app.current_org_id = ?",
		fmt.Sprintf("%d", tenantID),
	).Error
}

// WithBypass disables the tenant predicate for the current transaction.
// Only the audited privileged-override path may call this.
func WithBypass(tx *gorm.DB) error {
	if !isPostgres(tx) {
		return nil
	}
	return tx.Exec("SET LOCAL app.rls_bypass = 'on'").Error
}

// Bind runs fn inside a transaction with a tenant bound. The binding
// comes from the request context when one is present: the resolved org,
// or the bypass for a privileged override. Without a resolved org the
// explicit orgID argument is bound instead, which carries the flows that
// establish the tenant themselves (credential resolution before the
// context exists, background provisioning, per-org sweeps). With neither
// it fails closed before fn runs.
func Bind(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, fn func(tx *gorm.DB) error) error {
	tc, ok := orgcontext.FromContext(ctx)

	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch {
		case ok && tc.PrivilegedOverride:
			if err := WithBypass(tx); err != nil {
				return err
			}
		case ok && tc.OrgID != 0:
			if err := WithTenant(tx, tc.OrgID); err != nil {
				return err
			}
		case orgID != 0:
			if err := WithTenant(tx, orgID); err != nil {
				return err
			}
		default:
			return ErrNoTenant
		}
		return fn(tx)
	})
}

// Tenant runs fn inside a transaction bound to an explicit tenant,
// ignoring any request context. Organization creation uses it: the row
// being inserted belongs to the new org, not to whatever org the
// creator's credential is bound to.
func Tenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, fn func(tx *gorm.DB) error) error {
	if tenantID == 0 {
		return ErrNoTenant
	}
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := WithTenant(tx, tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// System runs fn with the bypass bound, for trusted work that is
// cross-tenant by nature: slug uniqueness checks, a user's cross-org
// membership listing, fleet-wide scheduler scans, and audit appends
// recorded before a tenant is resolved.
func System(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := WithBypass(tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

// VerifyRuntimeRole fails when the connected role holds bypassrls or
// superuser rights. A bypassing role makes every policy a no-op while all
// tests keep passing, so this is a hard startup precondition on postgres.
func VerifyRuntimeRole(conn *gorm.DB) error {
	if !isPostgres(conn) {
		return nil
	}

	var row struct {
		RolName      string `gorm:"column:rolname"`
		RolSuper     bool   `gorm:"column:rolsuper"`
		RolBypassRLS bool   `gorm:"column:rolbypassrls"`
	}
	err := conn.Raw(
		`SELECT rolname, rolsuper, rolbypassrls
		 FROM pg_roles
		 WHERE rolname = current_user`,
	).Scan(&row).Error
	if err != nil {
		return fmt.Errorf("inspect runtime role: %w", err)
	}

	if row.RolSuper || row.RolBypassRLS {
		return fmt.Errorf("%w: role %q (superuser=%t bypassrls=%t)",
			ErrBypassRole, row.RolName, row.RolSuper, row.RolBypassRLS)
	}
	return nil
}

func isPostgres(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && tx.Dialector.Name() == "postgres"
}

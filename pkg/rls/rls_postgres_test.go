//go:build postgres

package rls

import (
	"context"
	"os"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// These tests need a real postgres with a non-superuser role, because
// sqlite has no row security. Run them with
//
//	TENANTCORE_TEST_POSTGRES_DSN="host=... user=... dbname=..." go test -tags postgres ./pkg/rls/...
//
// against a scratch database.

func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TENANTCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TENANTCORE_TEST_POSTGRES_DSN not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}

	stmts := []string{
		`DROP TABLE IF EXISTS rls_scratch_orgs`,
		`CREATE TABLE rls_scratch_orgs (id BIGINT PRIMARY KEY, name TEXT NOT NULL)`,
		`ALTER TABLE rls_scratch_orgs ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE rls_scratch_orgs FORCE ROW LEVEL SECURITY`,
		`CREATE POLICY org_isolation ON rls_scratch_orgs
		    USING (
		        current_setting('app.rls_bypass', true) = 'on'
		        OR id = NULLIF(current_setting('app.current_org_id', true), '')::BIGINT
		    )`,
	}
	for _, stmt := range stmts {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}
	t.Cleanup(func() {
		conn.Exec(`DROP TABLE IF EXISTS rls_scratch_orgs`)
	})
	return conn
}

type scratchOrg struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Name string
}

func (scratchOrg) TableName() string { return "rls_scratch_orgs" }

func seedScratchOrg(t *testing.T, conn *gorm.DB, id snowflake.ID, name string) {
	t.Helper()
	err := Tenant(context.Background(), conn, id, func(tx *gorm.DB) error {
		return tx.Create(&scratchOrg{ID: id, Name: name}).Error
	})
	if err != nil {
		t.Fatalf("seed org %d: %v", id, err)
	}
}

func TestPoliciesHideForeignRows(t *testing.T) {
	conn := newPostgresDB(t)
	if err := VerifyRuntimeRole(conn); err != nil {
		t.Fatalf("runtime role bypasses row security, tests meaningless: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	orgA := node.Generate()
	orgB := node.Generate()
	seedScratchOrg(t, conn, orgA, "org a")
	seedScratchOrg(t, conn, orgB, "org b")

	// Bound to A, only A's row is visible; B reads as absent.
	ctxA := orgcontext.WithContext(context.Background(), orgcontext.Context{OrgID: orgA, UserID: node.Generate()})
	var rows []scratchOrg
	if err := Bind(ctxA, conn, 0, func(tx *gorm.DB) error {
		return tx.Find(&rows).Error
	}); err != nil {
		t.Fatalf("bound read: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != orgA {
		t.Fatalf("tenant A must see exactly its own row, got %+v", rows)
	}

	// An unbound transaction sees nothing at all.
	var unbound []scratchOrg
	if err := conn.Transaction(func(tx *gorm.DB) error {
		return tx.Find(&unbound).Error
	}); err != nil {
		t.Fatalf("unbound read: %v", err)
	}
	if len(unbound) != 0 {
		t.Fatalf("unbound session must see no rows, got %+v", unbound)
	}

	// The bypass sees the whole fleet.
	var all []scratchOrg
	if err := System(context.Background(), conn, func(tx *gorm.DB) error {
		return tx.Find(&all).Error
	}); err != nil {
		t.Fatalf("system read: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("bypass must see both rows, got %+v", all)
	}
}

func TestPoliciesRejectForeignWrites(t *testing.T) {
	conn := newPostgresDB(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	orgA := node.Generate()
	orgB := node.Generate()
	seedScratchOrg(t, conn, orgA, "org a")

	// Bound to A, inserting a row owned by B must fail WITH CHECK.
	ctxA := orgcontext.WithContext(context.Background(), orgcontext.Context{OrgID: orgA, UserID: node.Generate()})
	err = Bind(ctxA, conn, 0, func(tx *gorm.DB) error {
		return tx.Create(&scratchOrg{ID: orgB, Name: "smuggled"}).Error
	})
	if err == nil {
		t.Fatalf("cross-tenant insert must be rejected by the policy")
	}

	// And A's update cannot touch B's row once it exists.
	seedScratchOrg(t, conn, orgB, "org b")
	var touched int64
	if err := Bind(ctxA, conn, 0, func(tx *gorm.DB) error {
		res := tx.Model(&scratchOrg{}).Where("id = ?", orgB).Update("name", "defaced")
		touched = res.RowsAffected
		return res.Error
	}); err != nil {
		t.Fatalf("cross-tenant update errored instead of matching nothing: %v", err)
	}
	if touched != 0 {
		t.Fatalf("cross-tenant update must match zero rows, touched %d", touched)
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/internal/audit/repository"
	"github.com/smallbiznis/tenantcore/internal/auditcontext"
	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	"github.com/smallbiznis/tenantcore/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(conn),
	})
	return svc, conn, node, fake
}

func TestRecordCapturesRequestMetadata(t *testing.T) {
	svc, conn, node, _ := newTestService(t)
	orgID := node.Generate()

	ctx := auditcontext.WithRequestID(context.Background(), "req-42")
	ctx = auditcontext.WithIPAddress(ctx, "10.1.2.3")
	ctx = auditcontext.WithUserAgent(ctx, "tenantcore-cli/1.0")

	err := svc.Record(ctx, auditdomain.Entry{
		OrgID:   orgID,
		ActorID: node.Generate(),
		Action:  "organization.view",
		Target:  "organization",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var row auditdomain.AuditLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if row.Severity != auditdomain.SeverityInfo {
		t.Fatalf("default severity must be INFO, got %s", row.Severity)
	}
	if row.IPAddress == nil || *row.IPAddress != "10.1.2.3" {
		t.Fatalf("ip address not captured: %+v", row.IPAddress)
	}
	if row.Metadata["request_id"] != "req-42" {
		t.Fatalf("request id not captured: %v", row.Metadata)
	}
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _, node, _ := newTestService(t)

	err := svc.Record(context.Background(), auditdomain.Entry{OrgID: node.Generate(), Action: "  "})
	if !errors.Is(err, auditdomain.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestIsolationViolationAlwaysCritical(t *testing.T) {
	svc, conn, node, _ := newTestService(t)
	orgID := node.Generate()

	// Even a caller trying to downgrade severity gets CRITICAL.
	err := svc.RecordIsolationViolation(context.Background(), auditdomain.Entry{
		OrgID:    orgID,
		ActorID:  node.Generate(),
		Target:   "usage_counters",
		Severity: auditdomain.SeverityInfo,
	})
	if err != nil {
		t.Fatalf("record violation: %v", err)
	}

	var row auditdomain.AuditLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if row.Severity != auditdomain.SeverityCritical {
		t.Fatalf("violation severity must be CRITICAL, got %s", row.Severity)
	}
	if row.Action != "isolation.violation" {
		t.Fatalf("unexpected action: %s", row.Action)
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _, node, fake := newTestService(t)
	orgID := node.Generate()
	ctx := orgcontext.WithContext(context.Background(), orgcontext.Context{
		OrgID:  orgID,
		UserID: node.Generate(),
	})

	for i := 0; i < 5; i++ {
		if err := svc.Record(ctx, auditdomain.Entry{
			OrgID:  orgID,
			Action: "quota.reserve",
		}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		fake.Advance(time.Second)
	}
	// Another org's entries must never appear.
	if err := svc.Record(ctx, auditdomain.Entry{OrgID: node.Generate(), Action: "quota.reserve"}); err != nil {
		t.Fatalf("record foreign: %v", err)
	}

	page, err := svc.List(ctx, auditdomain.ListRequest{PageSize: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.AuditLogs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(page.AuditLogs))
	}
	if !page.PageInfo.HasMore {
		t.Fatalf("expected more pages")
	}
	if !page.AuditLogs[0].CreatedAt.After(page.AuditLogs[2].CreatedAt) {
		t.Fatalf("entries not newest first")
	}

	rest, err := svc.List(ctx, auditdomain.ListRequest{PageSize: 3, PageToken: page.PageInfo.NextPageToken})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.AuditLogs) != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", len(rest.AuditLogs))
	}
	if rest.PageInfo.HasMore {
		t.Fatalf("unexpected extra page")
	}
}

func TestListRequiresTenant(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.List(context.Background(), auditdomain.ListRequest{})
	if !errors.Is(err, auditdomain.ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/internal/auditcontext"
	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/metrics"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	"github.com/smallbiznis/tenantcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    auditdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    auditdomain.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		log:     p.Log.Named("audit.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	severity := entry.Severity
	if severity == "" {
		severity = auditdomain.SeverityInfo
	}

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	record := auditdomain.AuditLog{
		ID:        s.genID.Generate(),
		OrgID:     entry.OrgID,
		ActorID:   entry.ActorID,
		Action:    action,
		Target:    strings.TrimSpace(entry.Target),
		Severity:  severity,
		Override:  entry.Override,
		Path:      entry.Path,
		Metadata:  datatypes.JSONMap(payload),
		CreatedAt: s.clock.Now().UTC(),
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		record.IPAddress = &ip
	}
	if ua := auditcontext.UserAgentFromContext(ctx); ua != "" {
		record.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, &record); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

// RecordIsolationViolation is the security-incident path. The entry is
// forced to critical severity and mirrored to the log and metrics so it
// can never pass unnoticed even if the database write fails.
func (s *Service) RecordIsolationViolation(ctx context.Context, entry auditdomain.Entry) error {
	entry.Severity = auditdomain.SeverityCritical
	if entry.Action == "" {
		entry.Action = "isolation.violation"
	}

	s.log.Error("tenant isolation violation",
		zap.String("org_id", entry.OrgID.String()),
		zap.String("actor_id", entry.ActorID.String()),
		zap.String("target", entry.Target),
		zap.String("path", entry.Path),
	)
	if s.metrics != nil {
		s.metrics.IsolationViolations.Inc()
	}
	return s.Record(ctx, entry)
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOrganization
	}

	var cursor *auditdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, auditdomain.ListFilter{
		OrgID:    orgID,
		Action:   req.Action,
		Severity: req.Severity,
		Cursor:   cursor,
		Limit:    int(pageSize),
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListResponse{AuditLogs: logs}
	if pageInfo != nil {
		resp.PageInfo = auditdomain.PageInfo{
			NextPageToken: pageInfo.NextPageToken,
			HasMore:       pageInfo.HasMore,
		}
	}
	return resp, nil
}

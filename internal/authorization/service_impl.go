package authorization

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	orgdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	OrgSvc   orgdomain.Service
	Quota    quotadomain.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	orgSvc   orgdomain.Service
	quota    quotadomain.Service
	auditSvc auditdomain.Service
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		orgSvc:   p.OrgSvc,
		quota:    p.Quota,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	tc, ok := orgcontext.FromContext(ctx)
	if !ok {
		return ErrMissingTenant
	}
	if tc.PrivilegedOverride {
		return nil
	}
	if tc.OrgID == 0 {
		return ErrMissingTenant
	}
	if tc.UserID == 0 {
		return ErrInvalidActor
	}

	role := tc.Role
	if role == "" {
		resolved, err := s.orgSvc.RoleOf(ctx, tc.OrgID, tc.UserID)
		if err != nil {
			s.auditDenied(ctx, tc, object, action)
			return ErrForbidden
		}
		role = resolved
	}

	subject := "user:" + tc.UserID.String()
	domain := "org:" + tc.OrgID.String()
	roleName := "role:" + strings.ToLower(role)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, tc, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) CheckMembership(ctx context.Context, orgID, userID snowflake.ID) (bool, error) {
	return s.orgSvc.IsMember(ctx, orgID, userID)
}

func (s *ServiceImpl) CheckAndReserveQuota(ctx context.Context, resource quotadomain.ResourceType, amount int64) (quotadomain.Decision, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return quotadomain.Decision{}, ErrMissingTenant
	}
	if err := s.Authorize(ctx, ObjectQuota, ActionQuotaReserve); err != nil {
		return quotadomain.Decision{}, err
	}
	return s.quota.Reserve(ctx, orgID, resource, amount)
}

func (s *ServiceImpl) ReleaseQuota(ctx context.Context, resource quotadomain.ResourceType, amount int64) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return ErrMissingTenant
	}
	if err := s.Authorize(ctx, ObjectQuota, ActionQuotaRelease); err != nil {
		return err
	}
	return s.quota.Release(ctx, orgID, resource, amount)
}

func (s *ServiceImpl) GetOrganization(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	return s.orgSvc.GetByID(ctx, orgID)
}

func (s *ServiceImpl) ListOrganizations(ctx context.Context, req orgdomain.ListRequest) (orgdomain.ListResponse, error) {
	return s.orgSvc.List(ctx, req)
}

func (s *ServiceImpl) UpdateRole(ctx context.Context, orgID, userID snowflake.ID, newRole string) error {
	if err := s.Authorize(ctx, ObjectMember, ActionMemberUpdateRole); err != nil {
		return err
	}
	return s.orgSvc.UpdateRole(ctx, orgID, userID, newRole)
}

// ensureGrouping keeps exactly one role grant per (user, org) domain so a
// role change replaces the old grant instead of accumulating.
func (s *ServiceImpl) ensureGrouping(subject, roleName, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, tc orgcontext.Context, object, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:    tc.OrgID,
		ActorID:  tc.UserID,
		Action:   "authorization.denied",
		Target:   object,
		Severity: auditdomain.SeverityWarning,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
}

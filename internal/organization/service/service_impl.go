package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tenantcore/internal/cache"
	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/config"
	"github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"github.com/smallbiznis/tenantcore/internal/tier"
	"github.com/smallbiznis/tenantcore/pkg/db"
	"github.com/smallbiznis/tenantcore/pkg/db/pagination"
	"github.com/smallbiznis/tenantcore/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const membershipCacheTTL = 30 * time.Second

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Quota       quotadomain.Service
	Clock       clock.Clock
	QuotaCfg    *config.QuotaConfigHolder `optional:"true"`
	Provisioner domain.Provisioner        `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	quota       quotadomain.Service
	clock       clock.Clock
	quotaCfg    *config.QuotaConfigHolder
	provisioner domain.Provisioner

	members cache.Cache[string, string]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("organization.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		quota:       p.Quota,
		clock:       p.Clock,
		quotaCfg:    p.QuotaCfg,
		provisioner: p.Provisioner,
		members:     cache.NewTTLCache[string, string](),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.Organization, error) {
	tc, ok := orgcontext.FromContext(ctx)
	if !ok || tc.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	orgSlug := strings.TrimSpace(req.Slug)
	if orgSlug == "" {
		orgSlug = slug.Make(name)
	} else {
		orgSlug = slug.Make(orgSlug)
	}
	if orgSlug == "" {
		return nil, domain.ErrInvalidSlug
	}

	orgTier := req.Tier
	if orgTier == "" {
		orgTier = tier.Trial
	}
	if !orgTier.Valid() {
		return nil, domain.ErrInvalidTier
	}

	exists, err := s.repo.SlugExists(ctx, orgSlug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateSlug
	}

	now := s.clock.Now().UTC()
	org := domain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      orgSlug,
		Status:    domain.StatusTrial,
		Tier:      orgTier,
		Settings:  map[string]any{},
		CreatedBy: tc.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The insert transaction binds the org being created, not whatever
	// org the creator's credential is currently resolved to.
	err = rls.Tenant(ctx, s.db, org.ID, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return repo.AddMember(ctx, domain.Member{
			ID:        s.genID.Generate(),
			OrgID:     org.ID,
			UserID:    tc.UserID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSlug
		}
		return nil, err
	}

	quotaCtx := orgcontext.WithContext(ctx, orgcontext.Context{UserID: tc.UserID, OrgID: org.ID})
	limits := tier.EffectiveLimits(orgTier, s.overrideSource())
	if err := s.quota.InitCounters(quotaCtx, org.ID, limits, now); err != nil {
		return nil, err
	}
	// The owner membership occupies the first user slot.
	if _, err := s.quota.Reserve(quotaCtx, org.ID, quotadomain.ResourceUsers, 1); err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
		zap.String("tier", string(org.Tier)),
	)

	if s.provisioner != nil {
		s.provisioner.Enqueue(org.ID)
	}
	return &org, nil
}

func (s *Service) GetByID(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if err := s.requireVisibility(ctx, orgID); err != nil {
		return nil, err
	}
	return s.repo.GetOrganization(ctx, orgID)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	tc, ok := orgcontext.FromContext(ctx)
	if !ok || (tc.UserID == 0 && !tc.PrivilegedOverride) {
		return domain.ListResponse{}, domain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var after *domain.ListCursor
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		if cursor.CreatedAt != "" {
			parsed, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				return domain.ListResponse{}, err
			}
			id, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				return domain.ListResponse{}, err
			}
			after = &domain.ListCursor{CreatedAt: parsed, ID: id}
		}
	}

	var (
		orgs []*domain.Organization
		err  error
	)
	if tc.PrivilegedOverride {
		orgs, err = s.repo.ListAll(ctx, after, pageSize+1)
	} else {
		orgs, err = s.repo.ListByUser(ctx, tc.UserID, after, pageSize+1)
	}
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(orgs, int32(pageSize), func(org *domain.Organization) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        org.ID.String(),
			CreatedAt: org.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(orgs) > pageSize {
		orgs = orgs[:pageSize]
	}

	resp := domain.ListResponse{Organizations: make([]domain.Organization, 0, len(orgs))}
	for _, org := range orgs {
		resp.Organizations = append(resp.Organizations, *org)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) UpdateRole(ctx context.Context, orgID, userID snowflake.ID, newRole string) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	if !domain.ValidRole(newRole) {
		return domain.ErrInvalidRole
	}

	target, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		return err
	}

	if !orgcontext.IsPrivileged(ctx) {
		callerRole, err := s.callerRole(ctx, orgID)
		if err != nil {
			return err
		}
		callerRank := domain.RoleRank(callerRole)
		if callerRank <= domain.RoleRank(target.Role) || callerRank <= domain.RoleRank(newRole) {
			return domain.ErrPermissionDenied
		}
	}

	// An org must always keep at least one Owner.
	if target.Role == domain.RoleOwner && newRole != domain.RoleOwner {
		owners, err := s.repo.CountByRole(ctx, orgID, domain.RoleOwner)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return domain.ErrLastOwner
		}
	}

	if err := s.repo.UpdateMemberRole(ctx, orgID, userID, newRole); err != nil {
		return err
	}
	s.members.Delete(memberKey(orgID, userID))
	s.log.Info("member role updated",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", newRole),
	)
	return nil
}

func (s *Service) AddMember(ctx context.Context, orgID, userID snowflake.ID, role string) (*domain.Member, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if !domain.ValidRole(role) {
		return nil, domain.ErrInvalidRole
	}

	if err := s.requireVisibility(ctx, orgID); err != nil {
		return nil, err
	}
	if !orgcontext.IsPrivileged(ctx) {
		callerRole, err := s.callerRole(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if domain.RoleRank(callerRole) < domain.RoleRank(domain.RoleAdmin) {
			return nil, domain.ErrPermissionDenied
		}
		if domain.RoleRank(callerRole) <= domain.RoleRank(role) {
			return nil, domain.ErrPermissionDenied
		}
	}

	decision, err := s.quota.Reserve(ctx, orgID, quotadomain.ResourceUsers, 1)
	if err != nil {
		return nil, err
	}
	if !decision.Granted {
		return nil, domain.ErrQuotaExceeded
	}

	now := s.clock.Now().UTC()
	member := domain.Member{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		// Return the reserved slot so a failed insert never leaks quota.
		if releaseErr := s.quota.Release(ctx, orgID, quotadomain.ResourceUsers, 1); releaseErr != nil {
			s.log.Error("quota release after failed member insert",
				zap.String("org_id", orgID.String()),
				zap.Error(releaseErr),
			)
		}
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateMember
		}
		return nil, err
	}

	s.members.Delete(memberKey(orgID, userID))
	return &member, nil
}

func (s *Service) RemoveMember(ctx context.Context, orgID, userID snowflake.ID) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}

	target, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		return err
	}

	tc, _ := orgcontext.FromContext(ctx)
	if !tc.PrivilegedOverride && tc.UserID != userID {
		callerRole, err := s.callerRole(ctx, orgID)
		if err != nil {
			return err
		}
		if domain.RoleRank(callerRole) <= domain.RoleRank(target.Role) {
			return domain.ErrPermissionDenied
		}
	}

	if target.Role == domain.RoleOwner {
		owners, err := s.repo.CountByRole(ctx, orgID, domain.RoleOwner)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return domain.ErrLastOwner
		}
	}

	removed, err := s.repo.RemoveMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrNotFound
	}

	s.members.Delete(memberKey(orgID, userID))
	if err := s.quota.Release(ctx, orgID, quotadomain.ResourceUsers, 1); err != nil {
		s.log.Error("quota release after member removal",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Service) IsMember(ctx context.Context, orgID, userID snowflake.ID) (bool, error) {
	_, err := s.RoleOf(ctx, orgID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) RoleOf(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	if orgID == 0 || userID == 0 {
		return "", domain.ErrNotFound
	}

	key := memberKey(orgID, userID)
	if role, ok := s.members.Get(key); ok {
		return role, nil
	}

	member, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		return "", err
	}
	s.members.Set(key, member.Role, membershipCacheTTL)
	return member.Role, nil
}

func (s *Service) SoftDelete(ctx context.Context, orgID snowflake.ID) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	if !orgcontext.IsPrivileged(ctx) {
		callerRole, err := s.callerRole(ctx, orgID)
		if err != nil {
			return err
		}
		if callerRole != domain.RoleOwner {
			return domain.ErrPermissionDenied
		}
	}

	now := s.clock.Now().UTC()
	deleted := false
	err := rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		deleted, err = repo.SoftDelete(ctx, orgID, now)
		return err
	})
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}

	s.log.Info("organization soft-deleted", zap.String("org_id", orgID.String()))
	return nil
}

func (s *Service) TransitionStatus(ctx context.Context, orgID snowflake.ID, from, to domain.Status) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	moved, err := s.repo.TransitionStatus(ctx, orgID, from, to)
	if err != nil {
		return err
	}
	if !moved {
		return domain.ErrStatusConflict
	}
	s.log.Info("organization status transition",
		zap.String("org_id", orgID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// requireVisibility hides organizations the caller has no membership in.
// The caller cannot distinguish "absent" from "not yours".
func (s *Service) requireVisibility(ctx context.Context, orgID snowflake.ID) error {
	if orgcontext.IsPrivileged(ctx) {
		return nil
	}
	tc, ok := orgcontext.FromContext(ctx)
	if !ok || tc.UserID == 0 {
		return domain.ErrNotFound
	}
	member, err := s.IsMember(ctx, orgID, tc.UserID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) callerRole(ctx context.Context, orgID snowflake.ID) (string, error) {
	tc, ok := orgcontext.FromContext(ctx)
	if !ok || tc.UserID == 0 {
		return "", domain.ErrNotFound
	}
	return s.RoleOf(ctx, orgID, tc.UserID)
}

func (s *Service) overrideSource() tier.OverrideSource {
	if s.quotaCfg == nil {
		return nil
	}
	return s.quotaCfg
}

func memberKey(orgID, userID snowflake.ID) string {
	return orgID.String() + ":" + userID.String()
}

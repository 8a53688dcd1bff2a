package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/config"
	"github.com/smallbiznis/tenantcore/internal/metrics"
	"github.com/smallbiznis/tenantcore/internal/notify"
	orgdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/internal/provisioning/domain"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"github.com/smallbiznis/tenantcore/internal/ratelimit"
	"github.com/smallbiznis/tenantcore/internal/tier"
	"github.com/smallbiznis/tenantcore/pkg/db"
	"github.com/smallbiznis/tenantcore/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const provisionLockTTL = 2 * time.Minute

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Locker   ratelimit.Locker
	OrgRepo  orgdomain.Repository
	Quota    quotadomain.Service
	Notifier notify.Notifier
	QuotaCfg *config.QuotaConfigHolder `optional:"true"`
	Metrics  *metrics.Metrics          `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	locker   ratelimit.Locker
	orgRepo  orgdomain.Repository
	quota    quotadomain.Service
	notifier notify.Notifier
	quotaCfg *config.QuotaConfigHolder
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("provisioning.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		locker:   p.Locker,
		orgRepo:  p.OrgRepo,
		quota:    p.Quota,
		notifier: p.Notifier,
		quotaCfg: p.QuotaCfg,
		metrics:  p.Metrics,
	}
}

func (s *Service) Provision(ctx context.Context, orgID snowflake.ID) (*domain.Record, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	token, locked, err := s.locker.TryLock(ctx, lockKey(orgID), provisionLockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, domain.ErrProvisionInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey(orgID), token); err != nil {
			s.log.Warn("provision lock release", zap.String("org_id", orgID.String()), zap.Error(err))
		}
	}()

	started := time.Now()
	record, err := s.run(ctx, orgID)
	s.observe(started, err)
	return record, err
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (*domain.Record, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	var record domain.Record
	err := rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		return tx.Where("org_id = ?", orgID).First(&record).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListFailed scans the whole fleet for the retry sweep, so it runs under
// the bypass binding.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*domain.Record
	err := rls.System(ctx, s.db, func(tx *gorm.DB) error {
		return tx.
			Where("state = ?", domain.StateFailed).
			Order("updated_at ASC").
			Limit(limit).
			Find(&records).Error
	})
	return records, err
}

func (s *Service) run(ctx context.Context, orgID snowflake.ID) (*domain.Record, error) {
	record, err := s.loadOrCreateRecord(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if record.State == domain.StateComplete {
		return record, nil
	}

	for _, step := range domain.Steps() {
		if record.StepDone(step) {
			continue
		}

		record.State = domain.StateForStep(step)
		record.LastError = nil
		if err := s.saveRecord(ctx, record); err != nil {
			return nil, err
		}

		if err := s.runStep(ctx, record, step); err != nil {
			reason := err.Error()
			record.State = domain.StateFailed
			record.LastError = &reason
			if saveErr := s.saveRecord(ctx, record); saveErr != nil {
				s.log.Error("persist failed provisioning state",
					zap.String("org_id", orgID.String()),
					zap.Error(saveErr),
				)
			}
			s.log.Error("provisioning step failed",
				zap.String("org_id", orgID.String()),
				zap.String("step", step),
				zap.Error(err),
			)
			return record, err
		}

		record.StepsCompleted = append(record.StepsCompleted, step)
		if err := s.saveRecord(ctx, record); err != nil {
			return nil, err
		}
	}

	record.State = domain.StateComplete
	if err := s.saveRecord(ctx, record); err != nil {
		return nil, err
	}

	// Activation is guarded by the Trial status; an org that was already
	// activated (or suspended meanwhile) is left alone.
	if _, err := s.orgRepo.TransitionStatus(ctx, orgID, orgdomain.StatusTrial, orgdomain.StatusActive); err != nil {
		return nil, err
	}

	s.log.Info("provisioning complete", zap.String("org_id", orgID.String()))
	return record, nil
}

func (s *Service) runStep(ctx context.Context, record *domain.Record, step string) error {
	switch step {
	case domain.StepValidateOrganization:
		return s.validateOrganization(ctx, record.OrgID)
	case domain.StepCreateAdminAccount:
		return s.createAdminAccount(ctx, record)
	case domain.StepApplyDefaultSettings:
		return s.applyDefaultSettings(ctx, record.OrgID)
	case domain.StepConfigureFeatureSet:
		return s.configureFeatureSet(ctx, record.OrgID)
	case domain.StepNotifyAdmin:
		return s.notifyAdmin(ctx, record)
	default:
		return errors.New("unknown provisioning step: " + step)
	}
}

func (s *Service) validateOrganization(ctx context.Context, orgID snowflake.ID) error {
	org, err := s.orgRepo.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, orgdomain.ErrNotFound) {
			return domain.ErrValidationFailed
		}
		return err
	}
	if org.Status != orgdomain.StatusTrial {
		return domain.ErrValidationFailed
	}

	// Counters exist from here on, so every later step can reserve
	// against them. An org created through the API already has them;
	// seeding never overwrites live usage.
	limits := tier.EffectiveLimits(org.Tier, s.overrideSource())
	return s.quota.InitCounters(ctx, orgID, limits, s.clock.Now().UTC())
}

// createAdminAccount establishes exactly one administrator for the tenant.
// The org creator is reused when present; otherwise an identity is minted
// with a generated credential. Resumed runs reuse the recorded admin.
func (s *Service) createAdminAccount(ctx context.Context, record *domain.Record) error {
	if record.AdminUserID != nil && *record.AdminUserID != 0 {
		return nil
	}

	org, err := s.orgRepo.GetOrganization(ctx, record.OrgID)
	if err != nil {
		return err
	}

	adminID := org.CreatedBy
	if adminID == 0 {
		adminID = s.genID.Generate()
		s.log.Info("generated admin identity",
			zap.String("org_id", record.OrgID.String()),
			zap.String("admin_user_id", adminID.String()),
			zap.String("credential_ref", uuid.NewString()),
		)
	}

	if _, err := s.orgRepo.GetMember(ctx, record.OrgID, adminID); err != nil {
		if !errors.Is(err, orgdomain.ErrNotFound) {
			return err
		}

		// The admin occupies a user slot like any other member.
		decision, err := s.quota.Reserve(ctx, record.OrgID, quotadomain.ResourceUsers, 1)
		if err != nil {
			return err
		}
		if !decision.Granted {
			return orgdomain.ErrQuotaExceeded
		}

		now := s.clock.Now().UTC()
		err = s.orgRepo.AddMember(ctx, orgdomain.Member{
			ID:        s.genID.Generate(),
			OrgID:     record.OrgID,
			UserID:    adminID,
			Role:      orgdomain.RoleOwner,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			// Someone else inserted the membership and holds its slot,
			// or the insert failed outright: either way the reservation
			// goes back.
			if releaseErr := s.quota.Release(ctx, record.OrgID, quotadomain.ResourceUsers, 1); releaseErr != nil {
				s.log.Error("quota release after failed admin insert",
					zap.String("org_id", record.OrgID.String()),
					zap.Error(releaseErr),
				)
			}
			if !db.IsDuplicateKeyErr(err) {
				return err
			}
		}
	}

	record.AdminUserID = &adminID
	return nil
}

func (s *Service) applyDefaultSettings(ctx context.Context, orgID snowflake.ID) error {
	org, err := s.orgRepo.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	defaults := tier.DefaultsFor(org.Tier)
	return s.orgRepo.UpdateSettings(ctx, orgID, defaults.Settings)
}

func (s *Service) configureFeatureSet(ctx context.Context, orgID snowflake.ID) error {
	org, err := s.orgRepo.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	return s.orgRepo.ReplaceFeatures(ctx, orgID, tier.DefaultsFor(org.Tier).Features)
}

// notifyAdmin is fire-and-forget: a delivery failure is logged and the
// step still completes, so notification outages never block tenants.
func (s *Service) notifyAdmin(ctx context.Context, record *domain.Record) error {
	if s.notifier == nil || record.AdminUserID == nil {
		return nil
	}
	org, err := s.orgRepo.GetOrganization(ctx, record.OrgID)
	if err != nil {
		return err
	}
	err = s.notifier.NotifyAdminProvisioned(ctx, notify.AdminWelcome{
		OrgID:       record.OrgID,
		OrgName:     org.Name,
		AdminUserID: *record.AdminUserID,
	})
	if err != nil {
		s.log.Warn("admin notification failed",
			zap.String("org_id", record.OrgID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Service) loadOrCreateRecord(ctx context.Context, orgID snowflake.ID) (*domain.Record, error) {
	now := s.clock.Now().UTC()
	seed := domain.Record{
		OrgID:          orgID,
		State:          domain.StatePending,
		StepsCompleted: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var record domain.Record
	err := rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "org_id"}},
				DoNothing: true,
			}).
			Create(&seed).Error
		if err != nil {
			return err
		}
		return tx.Where("org_id = ?", orgID).First(&record).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) saveRecord(ctx context.Context, record *domain.Record) error {
	record.UpdatedAt = s.clock.Now().UTC()
	return rls.Bind(ctx, s.db, record.OrgID, func(tx *gorm.DB) error {
		return tx.Save(record).Error
	})
}

func (s *Service) overrideSource() tier.OverrideSource {
	if s.quotaCfg == nil {
		return nil
	}
	return s.quotaCfg
}

func (s *Service) observe(started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "complete"
	switch {
	case errors.Is(err, domain.ErrProvisionInProgress):
		outcome = "in_progress"
	case err != nil:
		outcome = "failed"
	}
	s.metrics.ProvisioningRuns.WithLabelValues(outcome).Inc()
	s.metrics.ProvisioningDuration.Observe(time.Since(started).Seconds())
}

func lockKey(orgID snowflake.ID) string {
	return "tenantcore:provision:" + orgID.String()
}

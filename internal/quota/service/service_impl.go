package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/metrics"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"github.com/smallbiznis/tenantcore/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("quota.service"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// Reserve consumes amount with a single guarded update. The limit check and
// the increment happen in one statement, so two racing reservations can
// never both observe the same headroom.
func (s *Service) Reserve(ctx context.Context, orgID snowflake.ID, resource quotadomain.ResourceType, amount int64) (quotadomain.Decision, error) {
	if orgID == 0 {
		return quotadomain.Decision{}, quotadomain.ErrInvalidOrganization
	}
	if !resource.Valid() {
		return quotadomain.Decision{}, quotadomain.ErrInvalidResourceType
	}
	if amount <= 0 {
		return quotadomain.Decision{}, quotadomain.ErrInvalidAmount
	}

	var decision quotadomain.Decision
	err := rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		result := tx.Model(&quotadomain.UsageCounter{}).
			Where("org_id = ? AND resource_type = ? AND current_value + ? <= limit_value", orgID, resource, amount).
			Updates(map[string]any{
				"current_value": gorm.Expr("current_value + ?", amount),
				"updated_at":    s.clock.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}

		var counter quotadomain.UsageCounter
		if err := tx.Where("org_id = ? AND resource_type = ?", orgID, resource).First(&counter).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return quotadomain.ErrCounterNotFound
			}
			return err
		}

		decision = quotadomain.Decision{
			Granted: result.RowsAffected > 0,
			Current: counter.CurrentValue,
			Limit:   counter.LimitValue,
		}
		return nil
	})
	if err != nil {
		return quotadomain.Decision{}, err
	}

	s.recordReservation(resource, decision)
	if !decision.Granted {
		s.log.Info("quota reservation denied",
			zap.String("org_id", orgID.String()),
			zap.String("resource", string(resource)),
			zap.Int64("amount", amount),
			zap.Int64("current", decision.Current),
			zap.Int64("limit", decision.Limit),
		)
	}
	return decision, nil
}

// Release returns amount to the counter, never passing zero. The decrement
// and the floor are one statement, so a reservation granted while the
// release is in flight is decremented against, never wiped. A clamped
// release means some caller double-released; the anomaly is logged rather
// than propagated.
func (s *Service) Release(ctx context.Context, orgID snowflake.ID, resource quotadomain.ResourceType, amount int64) error {
	if orgID == 0 {
		return quotadomain.ErrInvalidOrganization
	}
	if !resource.Valid() {
		return quotadomain.ErrInvalidResourceType
	}
	if amount <= 0 {
		return quotadomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	return rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		// Advisory read: it only drives the anomaly signal. The update
		// below re-evaluates the counter atomically regardless.
		var counter quotadomain.UsageCounter
		if err := tx.Where("org_id = ? AND resource_type = ?", orgID, resource).First(&counter).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return quotadomain.ErrCounterNotFound
			}
			return err
		}
		if counter.CurrentValue < amount {
			s.log.Warn("quota release clamped at zero",
				zap.String("org_id", orgID.String()),
				zap.String("resource", string(resource)),
				zap.Int64("amount", amount),
				zap.Int64("current", counter.CurrentValue),
			)
			if s.metrics != nil {
				s.metrics.QuotaReleaseAnomalies.Inc()
			}
		}

		return tx.Model(&quotadomain.UsageCounter{}).
			Where("org_id = ? AND resource_type = ?", orgID, resource).
			Updates(map[string]any{
				"current_value": gorm.Expr(
					"CASE WHEN current_value >= ? THEN current_value - ? ELSE 0 END",
					amount, amount,
				),
				"updated_at": now,
			}).Error
	})
}

// ResetPeriodic zeroes periodic counters whose period predates the boundary.
// The period_start guard makes the sweep idempotent under concurrent
// scheduler runs.
func (s *Service) ResetPeriodic(ctx context.Context, orgID snowflake.ID, periodStart time.Time) error {
	if orgID == 0 {
		return quotadomain.ErrInvalidOrganization
	}

	var affected int64
	err := rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		result := tx.Model(&quotadomain.UsageCounter{}).
			Where("org_id = ? AND periodic = ? AND period_start < ?", orgID, true, periodStart).
			Updates(map[string]any{
				"current_value": int64(0),
				"period_start":  periodStart,
				"updated_at":    s.clock.Now().UTC(),
			})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		s.log.Info("periodic counters reset",
			zap.String("org_id", orgID.String()),
			zap.Int64("counters", affected),
			zap.Time("period_start", periodStart),
		)
	}
	return nil
}

// InitCounters seeds one zeroed row per tracked resource. Seeding is
// idempotent so a resumed provisioning run cannot clobber live usage.
func (s *Service) InitCounters(ctx context.Context, orgID snowflake.ID, limits map[quotadomain.ResourceType]int64, periodStart time.Time) error {
	if orgID == 0 {
		return quotadomain.ErrInvalidOrganization
	}

	now := s.clock.Now().UTC()
	counters := make([]quotadomain.UsageCounter, 0, len(quotadomain.All()))
	for _, resource := range quotadomain.All() {
		counters = append(counters, quotadomain.UsageCounter{
			OrgID:        orgID,
			ResourceType: resource,
			CurrentValue: 0,
			LimitValue:   limits[resource],
			Periodic:     resource.Periodic(),
			PeriodStart:  periodStart,
			UpdatedAt:    now,
		})
	}

	return rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "org_id"}, {Name: "resource_type"}},
				DoNothing: true,
			}).
			Create(&counters).Error
	})
}

func (s *Service) Usage(ctx context.Context, orgID snowflake.ID, resource quotadomain.ResourceType) (*quotadomain.UsageCounter, error) {
	if orgID == 0 {
		return nil, quotadomain.ErrInvalidOrganization
	}
	if !resource.Valid() {
		return nil, quotadomain.ErrInvalidResourceType
	}

	var counter quotadomain.UsageCounter
	err := rls.Bind(ctx, s.db, orgID, func(tx *gorm.DB) error {
		return tx.Where("org_id = ? AND resource_type = ?", orgID, resource).First(&counter).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, quotadomain.ErrCounterNotFound
		}
		return nil, err
	}
	return &counter, nil
}

func (s *Service) recordReservation(resource quotadomain.ResourceType, decision quotadomain.Decision) {
	if s.metrics == nil {
		return
	}
	outcome := "granted"
	if !decision.Granted {
		outcome = "denied"
		s.metrics.QuotaDenials.WithLabelValues(string(resource)).Inc()
	}
	s.metrics.QuotaReservations.WithLabelValues(string(resource), outcome).Inc()
}

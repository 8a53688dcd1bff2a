// Package scheduler runs the background sweeps: zeroing periodic usage
// counters at period boundaries and retrying failed provisioning runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/metrics"
	orgdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	provisioningdomain "github.com/smallbiznis/tenantcore/internal/provisioning/domain"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"github.com/smallbiznis/tenantcore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// sweepLockKey serializes the sweep across replicas so a fleet of
// schedulers doesn't hammer the same rows every interval.
const sweepLockKey = "tenantcore:sweep"

var ErrInvalidConfig = errors.New("scheduler: missing required dependency")

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	OrgRepo         orgdomain.Repository
	QuotaSvc        quotadomain.Service
	ProvisioningSvc provisioningdomain.Service
	Locker          ratelimit.Locker
	Metrics         *metrics.Metrics `optional:"true"`
	Config          Config           `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	orgRepo         orgdomain.Repository
	quotaSvc        quotadomain.Service
	provisioningSvc provisioningdomain.Service
	locker          ratelimit.Locker
	metrics         *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.OrgRepo == nil || p.QuotaSvc == nil || p.ProvisioningSvc == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		orgRepo:         p.OrgRepo,
		quotaSvc:        p.QuotaSvc,
		provisioningSvc: p.ProvisioningSvc,
		locker:          p.Locker,
		metrics:         p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := fn(ctx)

	if s.metrics != nil {
		s.metrics.SchedulerJobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.SchedulerJobRuns.WithLabelValues(name, outcome).Inc()
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one full sweep. The sweep lock keeps multiple
// replicas from doing the same work; losing the race is not an error.
func (s *Scheduler) RunOnce(parent context.Context) error {
	token, ok, err := s.locker.TryLock(parent, sweepLockKey, s.cfg.SweepLockTTL)
	if err != nil {
		return fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		s.log.Debug("sweep lock held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if relErr := s.locker.Release(context.WithoutCancel(parent), sweepLockKey, token); relErr != nil {
			s.log.Warn("failed to release sweep lock", zap.Error(relErr))
		}
	}()

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"quota_reset", s.isJobEnabled("quota_reset"), func(ctx context.Context) error {
			return s.runJob(ctx, "quota_reset", 2*time.Minute, s.QuotaResetJob)
		}},
		{"provisioning_retry", s.isJobEnabled("provisioning_retry"), func(ctx context.Context) error {
			return s.runJob(ctx, "provisioning_retry", 5*time.Minute, s.ProvisioningRetryJob)
		}},
	}

	var runErr error
	for _, job := range jobs {
		if job.Enabled {
			runErr = errors.Join(runErr, job.Run(parent))
		}
	}
	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means everything runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// QuotaResetJob zeroes every live organization's periodic counters whose
// recorded period predates the current one. The reset itself is guarded
// by period_start, so re-running within the same period is a no-op.
func (s *Scheduler) QuotaResetJob(ctx context.Context) error {
	boundary := CurrentPeriodStart(s.clock.Now())
	var jobErr error
	var cursor *orgdomain.ListCursor

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		orgs, err := s.orgRepo.ListAll(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(orgs) == 0 {
			break
		}

		for _, org := range orgs {
			if err := s.quotaSvc.ResetPeriodic(ctx, org.ID, boundary); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("periodic counter reset failed",
					zap.String("org_id", org.ID.String()),
					zap.Error(err),
				)
			}
		}

		last := orgs[len(orgs)-1]
		cursor = &orgdomain.ListCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		if len(orgs) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// ProvisioningRetryJob re-drives organizations stuck in a failed
// provisioning state. Each retry resumes from the first incomplete
// step; a tenant already being provisioned is skipped.
func (s *Scheduler) ProvisioningRetryJob(ctx context.Context) error {
	records, err := s.provisioningSvc.ListFailed(ctx, s.cfg.RetryBatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, record := range records {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		result, err := s.provisioningSvc.Provision(ctx, record.OrgID)
		switch {
		case errors.Is(err, provisioningdomain.ErrProvisionInProgress):
			continue
		case err != nil:
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("provisioning retry failed",
				zap.String("org_id", record.OrgID.String()),
				zap.Error(err),
			)
		case result.State == provisioningdomain.StateComplete:
			s.log.Info("provisioning retry completed",
				zap.String("org_id", record.OrgID.String()),
			)
		}
	}
	return jobErr
}

// CurrentPeriodStart returns the UTC start of the calendar month
// containing now. Periodic counters reset at this boundary.
func CurrentPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

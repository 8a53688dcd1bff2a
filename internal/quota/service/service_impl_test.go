package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/clock"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"github.com/smallbiznis/tenantcore/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (quotadomain.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&quotadomain.UsageCounter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	return svc, conn
}

var (
	orgIDNodeOnce sync.Once
	orgIDNode     *snowflake.Node
	orgIDNodeErr  error
)

func newOrgID(t *testing.T) snowflake.ID {
	t.Helper()
	orgIDNodeOnce.Do(func() {
		orgIDNode, orgIDNodeErr = snowflake.NewNode(1)
	})
	if orgIDNodeErr != nil {
		t.Fatalf("snowflake node: %v", orgIDNodeErr)
	}
	return orgIDNode.Generate()
}

func seedCounters(t *testing.T, svc quotadomain.Service, orgID snowflake.ID, limits map[quotadomain.ResourceType]int64) {
	t.Helper()
	if err := svc.InitCounters(context.Background(), orgID, limits, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("init counters: %v", err)
	}
}

func TestReserveGrantsWithinLimit(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	decision, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !decision.Granted {
		t.Fatalf("expected grant, got %+v", decision)
	}
	if decision.Current != 3 || decision.Limit != 5 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestReserveDeniesBeyondLimit(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 5); err != nil {
		t.Fatalf("reserve to limit: %v", err)
	}

	decision, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 1)
	if err != nil {
		t.Fatalf("reserve past limit: %v", err)
	}
	if decision.Granted {
		t.Fatalf("expected denial at limit, got %+v", decision)
	}
	if decision.Current != 5 {
		t.Fatalf("denied reservation must not mutate the counter: %+v", decision)
	}
}

func TestReserveExactlyToLimit(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceClasses: 10})

	decision, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceClasses, 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !decision.Granted || decision.Current != 10 {
		t.Fatalf("filling to the limit exactly must be granted: %+v", decision)
	}
}

func TestReserveValidation(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)

	if _, err := svc.Reserve(context.Background(), 0, quotadomain.ResourceUsers, 1); !errors.Is(err, quotadomain.ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
	if _, err := svc.Reserve(context.Background(), orgID, "widgets", 1); !errors.Is(err, quotadomain.ErrInvalidResourceType) {
		t.Fatalf("expected ErrInvalidResourceType, got %v", err)
	}
	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 0); !errors.Is(err, quotadomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, -2); !errors.Is(err, quotadomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestReserveUnknownCounter(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)

	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 1); !errors.Is(err, quotadomain.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound for unseeded org, got %v", err)
	}
}

func TestConcurrentReservationsNeverOversubscribe(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceSessions: 5})

	const workers = 20
	var granted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			decision, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceSessions, 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if decision.Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 5 {
		t.Fatalf("expected exactly 5 grants under contention, got %d", granted.Load())
	}
	counter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceSessions)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if counter.CurrentValue != 5 {
		t.Fatalf("counter drifted under contention: %d", counter.CurrentValue)
	}
}

func TestReleaseReturnsHeadroom(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 5); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Release(context.Background(), orgID, quotadomain.ResourceUsers, 2); err != nil {
		t.Fatalf("release: %v", err)
	}

	decision, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 2)
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if !decision.Granted || decision.Current != 5 {
		t.Fatalf("released capacity must be reusable: %+v", decision)
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Release(context.Background(), orgID, quotadomain.ResourceUsers, 10); err != nil {
		t.Fatalf("over-release must not error: %v", err)
	}

	counter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceUsers)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if counter.CurrentValue != 0 {
		t.Fatalf("expected counter clamped at zero, got %d", counter.CurrentValue)
	}
}

func TestReleaseUnknownCounter(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)

	if err := svc.Release(context.Background(), orgID, quotadomain.ResourceUsers, 1); !errors.Is(err, quotadomain.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound for unseeded org, got %v", err)
	}
}

func TestOverReleaseNeverErasesRacingGrant(t *testing.T) {
	svc, _ := newTestService(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	// A clamping release racing a reservation: whichever order the two
	// statements land in, the counter must read as one of the two serial
	// outcomes. An over-release may only ever remove what is held at the
	// moment it executes, never a grant that lands around it.
	for round := 0; round < 25; round++ {
		orgID := node.Generate()
		seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceSessions: 10})
		if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceSessions, 1); err != nil {
			t.Fatalf("seed reservation: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := svc.Release(context.Background(), orgID, quotadomain.ResourceSessions, 10); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceSessions, 5); err != nil {
				t.Errorf("reserve: %v", err)
			}
		}()
		wg.Wait()

		counter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceSessions)
		if err != nil {
			t.Fatalf("usage: %v", err)
		}
		// Release first: 1 floors to 0, then the grant lands at 5.
		// Reserve first: 6 held, the release of 10 floors to 0.
		if counter.CurrentValue != 0 && counter.CurrentValue != 5 {
			t.Fatalf("round %d: counter = %d, want a serial outcome (0 or 5)", round, counter.CurrentValue)
		}
	}
}

func TestResetPeriodicZeroesOnlyPeriodicCounters(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{
		quotadomain.ResourceUsers:    5,
		quotadomain.ResourceAPICalls: 1000,
	})

	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 3); err != nil {
		t.Fatalf("reserve users: %v", err)
	}
	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceAPICalls, 400); err != nil {
		t.Fatalf("reserve api calls: %v", err)
	}

	boundary := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.ResetPeriodic(context.Background(), orgID, boundary); err != nil {
		t.Fatalf("reset: %v", err)
	}

	apiCounter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceAPICalls)
	if err != nil {
		t.Fatalf("usage api calls: %v", err)
	}
	if apiCounter.CurrentValue != 0 {
		t.Fatalf("periodic counter not reset: %d", apiCounter.CurrentValue)
	}
	if !apiCounter.PeriodStart.Equal(boundary) {
		t.Fatalf("period start not advanced: %v", apiCounter.PeriodStart)
	}

	userCounter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceUsers)
	if err != nil {
		t.Fatalf("usage users: %v", err)
	}
	if userCounter.CurrentValue != 3 {
		t.Fatalf("standing counter must survive the sweep: %d", userCounter.CurrentValue)
	}
}

func TestResetPeriodicIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceAPICalls: 1000})

	boundary := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.ResetPeriodic(context.Background(), orgID, boundary); err != nil {
		t.Fatalf("first reset: %v", err)
	}

	// Usage accrued after the reset must survive a duplicate sweep for
	// the same boundary.
	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceAPICalls, 25); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.ResetPeriodic(context.Background(), orgID, boundary); err != nil {
		t.Fatalf("second reset: %v", err)
	}

	counter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceAPICalls)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if counter.CurrentValue != 25 {
		t.Fatalf("duplicate sweep clobbered live usage: %d", counter.CurrentValue)
	}
}

func TestInitCountersIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := newOrgID(t)
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	if _, err := svc.Reserve(context.Background(), orgID, quotadomain.ResourceUsers, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Re-seeding (a resumed provisioning run) must not reset live usage.
	seedCounters(t, svc, orgID, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	counter, err := svc.Usage(context.Background(), orgID, quotadomain.ResourceUsers)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if counter.CurrentValue != 2 {
		t.Fatalf("reseeding reset the counter: %d", counter.CurrentValue)
	}
}

func TestCountersAreTenantScoped(t *testing.T) {
	svc, _ := newTestService(t)
	orgA := newOrgID(t)
	orgB := newOrgID(t)
	seedCounters(t, svc, orgA, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})
	seedCounters(t, svc, orgB, map[quotadomain.ResourceType]int64{quotadomain.ResourceUsers: 5})

	if _, err := svc.Reserve(context.Background(), orgA, quotadomain.ResourceUsers, 5); err != nil {
		t.Fatalf("reserve org A: %v", err)
	}

	decision, err := svc.Reserve(context.Background(), orgB, quotadomain.ResourceUsers, 1)
	if err != nil {
		t.Fatalf("reserve org B: %v", err)
	}
	if !decision.Granted || decision.Current != 1 {
		t.Fatalf("one tenant's exhaustion leaked into another: %+v", decision)
	}
}

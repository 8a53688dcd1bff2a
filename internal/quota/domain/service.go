package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Decision is the outcome of a reservation attempt. Current and Limit are
// reported so callers can surface "4 of 5 used" without a second query.
type Decision struct {
	Granted bool  `json:"granted"`
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

type Service interface {
	// Reserve atomically consumes amount against the counter's limit.
	// It is the only sanctioned way to consume quota: the check and the
	// increment are a single conditional update, so concurrent callers
	// cannot both pass a stale check.
	Reserve(ctx context.Context, orgID snowflake.ID, resource ResourceType, amount int64) (Decision, error)

	// Release returns amount to the counter, flooring at zero. An attempt
	// to drive the counter negative is clamped and logged as an anomaly.
	Release(ctx context.Context, orgID snowflake.ID, resource ResourceType, amount int64) error

	// ResetPeriodic zeroes the org's periodic counters whose period
	// predates the given boundary. Resetting an already-reset period is a
	// no-op.
	ResetPeriodic(ctx context.Context, orgID snowflake.ID, periodStart time.Time) error

	// InitCounters seeds zeroed counters for every tracked resource type
	// with the supplied limits. Existing rows are left untouched.
	InitCounters(ctx context.Context, orgID snowflake.ID, limits map[ResourceType]int64, periodStart time.Time) error

	// Usage reads the current counter state for one resource.
	Usage(ctx context.Context, orgID snowflake.ID, resource ResourceType) (*UsageCounter, error)
}

var (
	ErrInvalidResourceType = errors.New("invalid_resource_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrCounterNotFound     = errors.New("counter_not_found")
)

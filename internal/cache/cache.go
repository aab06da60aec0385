package cache

import (
	"context"
	"time"

	"fuelstation/backend/internal/domain"
)

// ReportCache is a read-through cache for assembled report aggregates.
// Invalidate is called after every save so readers never see a stale replaced
// report beyond the TTL.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ReportAggregate, bool, error)
	Set(ctx context.Context, key string, value *domain.ReportAggregate, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Key builds the cache key for one (date, shift) report.
func Key(date string, shift string) string {
	return "report:" + date + "|" + shift
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ReportAggregate, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ReportAggregate, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

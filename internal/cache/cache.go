package cache

import (
	"context"
	"time"

	"salonpos/backend/internal/domain"
)

// ReportCache stores daily financial reports keyed by "2006-01-02" dates.
//
// Every Invalidate bumps the day's generation. A report computed after
// reading generation g is stored with g and is dropped if the day was
// invalidated in between, so a slow reader never caches figures older than
// the latest write.
type ReportCache interface {
	GetFinancial(ctx context.Context, date string) (*domain.FinancialReport, bool, error)
	Generation(ctx context.Context, date string) (int64, error)
	SetFinancial(ctx context.Context, date string, generation int64, report *domain.FinancialReport, ttl time.Duration) error
	Invalidate(ctx context.Context, date string) error
}

type NoopReportCache struct{}

func (NoopReportCache) GetFinancial(_ context.Context, _ string) (*domain.FinancialReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopReportCache) SetFinancial(_ context.Context, _ string, _ int64, _ *domain.FinancialReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

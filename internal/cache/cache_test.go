package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonpos/backend/internal/domain"
)

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	gen, err := c.Generation(ctx, "2026-04-14")
	require.NoError(t, err)
	assert.Zero(t, gen)
	require.NoError(t, c.SetFinancial(ctx, "2026-04-14", gen, &domain.FinancialReport{Date: "2026-04-14"}, time.Minute))
	report, ok, err := c.GetFinancial(ctx, "2026-04-14")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, report)
	assert.NoError(t, c.Invalidate(ctx, "2026-04-14"))
}

func TestFinancialKeyIsScopedPerDay(t *testing.T) {
	assert.Equal(t, "salonpos:report:financial:2026-04-14", FinancialKey("2026-04-14"))
	assert.NotEqual(t, FinancialKey("2026-04-14"), FinancialKey("2026-04-15"))
}

func TestVersionedKeysSeparateGenerations(t *testing.T) {
	assert.Equal(t, "salonpos:report:financial:2026-04-14:0", VersionedFinancialKey("2026-04-14", 0))
	assert.NotEqual(t, VersionedFinancialKey("2026-04-14", 0), VersionedFinancialKey("2026-04-14", 1))
	assert.Equal(t, "salonpos:report:financial-gen:2026-04-14", GenerationKey("2026-04-14"))
	assert.NotContains(t, GenerationKey("2026-04-14"), FinancialKey("2026-04-14"))
}

func TestRedisReportCacheSatisfiesInterface(t *testing.T) {
	var _ ReportCache = (*RedisReportCache)(nil)
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"salonpos/backend/internal/domain"
)

const (
	keyPrefix        = "salonpos:report:financial:"
	generationPrefix = "salonpos:report:financial-gen:"
)

type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client}
}

func FinancialKey(date string) string {
	return keyPrefix + date
}

// VersionedFinancialKey names the report slot for one generation of a day.
// Slots of older generations are never read again and expire with their TTL.
func VersionedFinancialKey(date string, generation int64) string {
	return FinancialKey(date) + ":" + strconv.FormatInt(generation, 10)
}

func GenerationKey(date string) string {
	return generationPrefix + date
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) Generation(ctx context.Context, date string) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisReportCache) GetFinancial(ctx context.Context, date string) (*domain.FinancialReport, bool, error) {
	gen, err := c.Generation(ctx, date)
	if err != nil {
		return nil, false, err
	}
	val, err := c.client.Get(ctx, VersionedFinancialKey(date, gen)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.FinancialReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

// SetFinancial writes into the slot of the given generation. When the day has
// been invalidated since, that slot is already unreachable and the write is
// harmless.
func (c *RedisReportCache) SetFinancial(ctx context.Context, date string, generation int64, report *domain.FinancialReport, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, VersionedFinancialKey(date, generation), payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context, date string) error {
	gen, err := c.client.Incr(ctx, GenerationKey(date)).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, VersionedFinancialKey(date, gen-1)).Err()
}

// Package counter keeps running per-artifact download totals in Redis.
package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	downloadsKey     = "downloads:counters"
	dailyKeyPrefix   = "downloads:daily:"
	dailyRetention   = 90 * 24 * time.Hour
	dailyKeyDateForm = "2006-01-02"
)

// Count is the number of downloads of one artifact.
type Count struct {
	Slug  string
	Total int64
}

// Counter increments download counts. A nil client turns every call into a no-op.
type Counter struct {
	client *redis.Client
	now    func() time.Time
}

func New(client *redis.Client) *Counter {
	return &Counter{client: client, now: time.Now}
}

func dailyKey(day time.Time) string {
	return dailyKeyPrefix + day.UTC().Format(dailyKeyDateForm)
}

// AddDownload increments the overall and today's counter for slug.
func (c *Counter) AddDownload(ctx context.Context, slug string) error {
	if c == nil || c.client == nil {
		return nil
	}
	day := dailyKey(c.now())
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, downloadsKey, slug, 1)
	pipe.HIncrBy(ctx, day, slug, 1)
	pipe.Expire(ctx, day, dailyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("count download of %s: %w", slug, err)
	}
	return nil
}

// Totals returns all-time counts, highest first.
func (c *Counter) Totals(ctx context.Context) ([]Count, error) {
	return c.read(ctx, downloadsKey)
}

// Day returns the counts recorded on the UTC day containing t.
func (c *Counter) Day(ctx context.Context, t time.Time) ([]Count, error) {
	return c.read(ctx, dailyKey(t))
}

func (c *Counter) read(ctx context.Context, key string) ([]Count, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	data, err := c.client.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]Count, 0, len(data))
	for slug, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n == 0 {
			continue
		}
		out = append(out, Count{Slug: slug, Total: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

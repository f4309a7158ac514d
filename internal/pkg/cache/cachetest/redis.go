// Package cachetest finds a reachable Redis for integration tests and
// skips the test when there is none.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thirdpath/thirdpath/internal/pkg/env"
)

func resolve(t *testing.T) (string, string, string) {
	t.Helper()

	hosts := unique(env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1")
	ports := unique(env.GetEnv("CACHE_PORT", "6379"), "6379")
	passwords := append(unique(env.GetEnv("CACHE_PASSWORD", "")), "")

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, password := range passwords {
				client := redis.NewClient(&redis.Options{
					Addr:     fmt.Sprintf("%s:%s", host, port),
					Password: password,
				})
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return host, port, password
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", "", ""
}

// Client returns a client on an isolated, flushed database. The database
// is flushed again when the test ends.
func Client(t *testing.T, db int) *redis.Client {
	t.Helper()

	host, port, password := resolve(t)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: flush of db %d failed (%v)", db, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func unique(vals ...string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

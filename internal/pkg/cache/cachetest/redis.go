// Package cachetest finds a reachable Redis for integration tests and skips
// the calling test when there is none.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

func resolve(t *testing.T) (string, string, string) {
	t.Helper()

	hosts := unique([]string{env.GetEnv("CACHE_HOST", ""), "cache", "duesfox-cache", "localhost", "127.0.0.1"}, false)
	ports := unique([]string{env.GetEnv("CACHE_PORT", "6379"), "6379"}, false)
	passwords := unique([]string{env.GetEnv("CACHE_PASSWORD", ""), ""}, true)

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, password := range passwords {
				client := redis.NewClient(&redis.Options{
					Addr:     fmt.Sprintf("%s:%s", host, port),
					Password: password,
				})

				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
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

func unique(values []string, keepEmpty bool) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" && !keepEmpty {
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

// NewIsolatedClient connects to database db, flushes it and flushes it again
// when the test ends. Pick a different db per package so parallel package
// runs do not collide.
func NewIsolatedClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	host, port, password := resolve(t)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: isolated DB ping failed (%v)", err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush isolated redis db %d: %v", db, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}

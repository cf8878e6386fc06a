package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const (
	pingAttempts = 5
	pingBackoff  = 200 * time.Millisecond
)

// NewClient creates a go-redis client from a URL (e.g. "redis://localhost:6379"),
// installs hooks and pings the server until it answers or the attempts run out.
func NewClient(ctx context.Context, redisURL string, hooks ...goredis.Hook) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	for _, hook := range hooks {
		rdb.AddHook(hook)
	}

	policy := retry.Policy{
		MaxAttempts:    pingAttempts,
		InitialBackoff: pingBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	err = retry.DoVoid(ctx, policy, retry.Always, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	"rewardmint/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// New returns the client shared by the task queue and readiness checks. The
// connection is verified on start, not on construction.
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	zapLog := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := Ping(ctx, rdb, pingAttempts, pingBackoff); err != nil {
				zapLog.Error("[Redis] unreachable", zap.Error(err))
				return err
			}
			zapLog.Info("[Redis] Connected to Redis")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

// Ping retries until the server answers, attempts run out, or ctx ends.
func Ping(ctx context.Context, rdb redis.UniversalClient, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		zap.L().Warn("[Redis] Redis not ready, retrying", zap.Int("retry", i+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("redis ping failed after %d attempts: %w", attempts, err)
}

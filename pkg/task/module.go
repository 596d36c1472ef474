package task

import (
	"context"
	"fmt"
	"time"

	"rewardmint/pkg/config"
	"rewardmint/pkg/errutil"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client shares the process redis connection with asynq.
var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

func registerClient(lc fx.Lifecycle, rdb *redis.Client) (*asynq.Client, error) {
	client := asynq.NewClientFromRedisClient(rdb)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("asynq client: %w", err)
	}
	zap.L().Info("[Asynq] client connected")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// Server runs the worker and exposes its ServeMux for handler registration.
var Server = fx.Module("asynq:server",
	fx.Provide(asynq.NewServeMux),
	fx.Invoke(registerServer),
)

// zapLogger routes asynq's internal logging through the global zap logger.
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Debug(args ...any) { l.s.Debug(args...) }
func (l zapLogger) Info(args ...any)  { l.s.Info(args...) }
func (l zapLogger) Warn(args ...any)  { l.s.Warn(args...) }
func (l zapLogger) Error(args ...any) { l.s.Error(args...) }
func (l zapLogger) Fatal(args ...any) { l.s.Fatal(args...) }

// isFailure keeps lease contention out of asynq's failure counters; the task
// is still retried.
func isFailure(err error) bool {
	return !errutil.IsStatus(err, errutil.StatusConflict)
}

// queues weights the reward queue over "default". An unset reward queue
// means reward tasks go to "default", which then carries the reward weight.
func queues(name string) map[string]int {
	if name == "" {
		name = "default"
	}
	q := map[string]int{name: 10}
	if name != "default" {
		q["default"] = 1
	}
	return q
}

func serverConfig(cfg *config.Config) asynq.Config {
	return asynq.Config{
		Concurrency:     10,
		Logger:          zapLogger{s: zap.L().Named("asynq").Sugar()},
		IsFailure:       isFailure,
		ShutdownTimeout: cfg.Ledger.MintTimeout + 5*time.Second,
		Queues:          queues(cfg.Reward.Queue),

		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			id, _ := asynq.GetTaskID(ctx)
			zap.L().Warn("asynq task failed",
				zap.String("task_type", t.Type()),
				zap.String("task_id", id),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	}
}

func registerServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, serverConfig(cfg))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("asynq server: %w", err)
			}
			zap.L().Info("[Asynq] worker started", zap.String("addr", cfg.Redis.Addr), zap.String("queue", cfg.Reward.Queue))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}

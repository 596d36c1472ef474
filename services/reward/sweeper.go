package reward

import (
	"context"
	"time"

	"rewardmint/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sweeper periodically enqueues a sweep task.
type Sweeper struct {
	task     *Task
	interval time.Duration
}

func NewSweeper(cfg *config.Config, t *Task) *Sweeper {
	return &Sweeper{task: t, interval: cfg.Reward.SweepInterval}
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		zap.L().Info("reward sweeper disabled")
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				zap.L().Info("reward sweeper stopped")
				return
			case <-time.After(s.interval):
				if err := s.task.EnqueueSweep(ctx, s.interval); err != nil {
					zap.L().Error("failed to enqueue reward sweep", zap.Error(err))
				}
			}
		}
	}()
}

func runSweeper(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

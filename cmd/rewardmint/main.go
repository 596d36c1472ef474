package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/config"
	"rewardmint/pkg/db"
	"rewardmint/pkg/featureflags"
	"rewardmint/pkg/hashistack/secretmanager"
	"rewardmint/pkg/hashistack/servicediscover"
	"rewardmint/pkg/health"
	"rewardmint/pkg/httpapi"
	"rewardmint/pkg/logger"
	"rewardmint/pkg/otelcol"
	"rewardmint/pkg/profiling"
	"rewardmint/pkg/redis"
	"rewardmint/pkg/server"
	"rewardmint/pkg/task"
	"rewardmint/services/asset"
	"rewardmint/services/contract"
	"rewardmint/services/mint"
	"rewardmint/services/order"
	"rewardmint/services/reward"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.FromEnv(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		featureflags.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		fx.Invoke(
			migrate,
		),
		chain.Module,
		asset.Module,
		mint.Module,
		order.Module,
		contract.Module,
		contract.Gateway,
		reward.Module,
		reward.Gateway,
		httpapi.Module,
		health.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB, cfg *config.Config) error {
	if err := contract.Migrate(gdb, cfg); err != nil {
		return err
	}
	return reward.Migrate(gdb, cfg)
}

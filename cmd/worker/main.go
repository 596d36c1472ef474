package main

import (
	"log"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/config"
	"rewardmint/pkg/db"
	"rewardmint/pkg/featureflags"
	"rewardmint/pkg/hashistack/secretmanager"
	"rewardmint/pkg/logger"
	"rewardmint/pkg/otelcol"
	"rewardmint/pkg/profiling"
	"rewardmint/pkg/redis"
	"rewardmint/pkg/task"
	"rewardmint/services/mint"
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
		task.Server,
		featureflags.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		chain.Module,
		mint.Module,
		reward.Module,
		reward.TaskModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

// provideSnowflakeNode reads the node id from WORKER_NODE_ID so that workers
// and the API never share a snowflake node.
func provideSnowflakeNode() (*snowflake.Node, error) {
	id := int64(2)
	if v, ok := os.LookupEnv("WORKER_NODE_ID"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		id = n
	}
	return snowflake.NewNode(id)
}

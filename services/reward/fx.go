package reward

import (
	"rewardmint/pkg/config"
	"rewardmint/pkg/db"
	"rewardmint/pkg/taskname"
	"rewardmint/services/contract"
	"rewardmint/services/mint"
	"rewardmint/services/order"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the reward store and reconciliation engine.
var Module = fx.Module("reward.service",
	fx.Provide(
		NewStore,
		NewEngine,
		provideMinter,
		provideReconciler,
		NewTask,
	),
)

// Gateway registers the HTTP routes and the gRPC health service.
var Gateway = fx.Module("reward.gateway",
	fx.Provide(
		NewHandler,
		NewHealth,
		provideNormalizer,
		provideEligibility,
	),
	fx.Invoke(
		registerHandlers,
		registerHealthServer,
	),
)

// TaskModule runs the asynq handlers and the periodic sweep.
var TaskModule = fx.Module("reward.task",
	fx.Provide(NewSweeper),
	fx.Invoke(
		registerTaskHandlers,
		runSweeper,
	),
)

func provideMinter(e *mint.Executor) Minter {
	return e
}

func provideReconciler(e *Engine) Reconciler {
	return e
}

func provideNormalizer(s *order.Source) Normalizer {
	return s
}

func provideEligibility(s *contract.Service) Eligibility {
	return s
}

func registerTaskHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.RewardReconcile, t.HandleReconcileTask)
	mux.HandleFunc(taskname.RewardSweep, t.HandleSweepTask)
}

// Migrate creates the reward tables when DATABASE.AUTO_MIGRATE is set.
func Migrate(gdb *gorm.DB, cfg *config.Config) error {
	return db.Migrate(gdb, cfg, &RewardRecord{})
}

package contract

import (
	"rewardmint/pkg/celengine"
	"rewardmint/pkg/config"
	"rewardmint/pkg/db"
	"rewardmint/services/asset"
	"rewardmint/services/order"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("contract.service",
	fx.Provide(
		NewService,
		celengine.New,
		provideResolver,
		provideAssetLookup,
	),
)

var Gateway = fx.Module("contract.gateway",
	fx.Invoke(registerHandlers),
)

func provideResolver(r *asset.Resolver) AssetResolver {
	return r
}

func provideAssetLookup(s *Service) order.AssetLookup {
	return s
}

// Migrate creates the contract tables when DATABASE.AUTO_MIGRATE is set.
func Migrate(gdb *gorm.DB, cfg *config.Config) error {
	return db.Migrate(gdb, cfg, &Contract{}, &ProductAsset{})
}

package asset

import (
	"context"
	"errors"
	"time"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/config"

	"github.com/holiman/uint256"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("asset.resolver",
	fx.Provide(NewResolver),
)

type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Resolver finds or creates the on-ledger asset a contract mints from.
type Resolver struct {
	conn     chain.Connector
	registry *chain.ErrorRegistry

	deposit    *uint256.Int
	minBalance *uint256.Int
	timeout    time.Duration
}

type ResolverParams struct {
	fx.In
	Config    *config.Config
	Connector chain.Connector
	Registry  *chain.ErrorRegistry
}

func NewResolver(p ResolverParams) (*Resolver, error) {
	deposit, err := chain.ParseAmount(p.Config.Ledger.AssetDeposit)
	if err != nil {
		return nil, err
	}
	minBalance, err := chain.ParseAmount(p.Config.Ledger.AssetMinBalance)
	if err != nil {
		return nil, err
	}
	if minBalance.IsZero() {
		minBalance = uint256.NewInt(1)
	}
	timeout := p.Config.Ledger.MintTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Resolver{
		conn:       p.Connector,
		registry:   p.Registry,
		deposit:    deposit,
		minBalance: minBalance,
		timeout:    timeout,
	}, nil
}

// ResolveOrCreate returns an asset id the signer may mint from. An existing
// desired asset is reused when the signer is its issuer or admin; otherwise a
// new asset is created at the ledger's next id, which must equal desired when
// desired is given.
func (r *Resolver) ResolveOrCreate(ctx context.Context, desired *uint32, meta Metadata) (uint32, error) {
	conn, err := r.conn.Connection(ctx)
	if err != nil {
		return 0, err
	}

	zapLog := zap.L().With(zap.String("signer", conn.Address().Hex()))
	if desired != nil {
		zapLog = zapLog.With(zap.Uint32("desired_asset_id", *desired))
	}

	next, err := conn.NextAssetID(ctx)
	if err != nil {
		return 0, err
	}

	if desired != nil {
		existing, err := conn.Asset(ctx, *desired)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			if !existing.CanMint(conn.Address()) {
				zapLog.Warn("desired asset is owned by another account",
					zap.String("issuer", existing.Issuer.Hex()),
					zap.String("admin", existing.Admin.Hex()),
				)
				return 0, chain.OwnershipError("asset %d exists but signer %s is neither issuer nor admin", *desired, conn.Address().Hex())
			}
			zapLog.Info("reusing existing asset")
			return *desired, nil
		}
		if *desired != next {
			return 0, chain.AllocationMismatchError(false, "asset %d cannot be created: next available id is %d", *desired, next)
		}
	}

	info, err := conn.NativeBalance(ctx, conn.Address())
	if err != nil {
		return 0, err
	}
	if info.Free.Lt(r.deposit) {
		return 0, chain.InsufficientBalanceError("free balance %s is below the asset deposit %s", info.Free.Dec(), r.deposit.Dec())
	}

	// The ledger has no reservation; re-read right before submitting.
	fresh, err := conn.NextAssetID(ctx)
	if err != nil {
		return 0, err
	}
	if desired != nil && *desired != fresh {
		return 0, chain.AllocationMismatchError(true, "asset %d was taken concurrently: next available id is now %d", *desired, fresh)
	}

	watch, err := conn.SubmitCreateAsset(ctx, fresh, conn.Address(), r.minBalance)
	if err != nil {
		return 0, err
	}
	if _, err := chain.Await(ctx, watch, r.timeout, r.registry); err != nil {
		var ce *chain.Error
		if errors.As(err, &ce) && ce.Kind == chain.KindAllocationMismatch {
			ce.Race = true
		}
		zapLog.Error("asset creation failed", zap.Uint32("asset_id", fresh), zap.Error(err))
		return 0, err
	}
	zapLog.Info("asset created", zap.Uint32("asset_id", fresh), zap.String("tx_hash", watch.Hash.Hex()))

	r.setMetadata(ctx, conn, fresh, meta)

	return fresh, nil
}

func (r *Resolver) setMetadata(ctx context.Context, conn chain.Ledger, id uint32, meta Metadata) {
	if meta.Name == "" && meta.Symbol == "" {
		return
	}

	zapLog := zap.L().With(zap.Uint32("asset_id", id), zap.String("symbol", meta.Symbol))

	watch, err := conn.SubmitSetMetadata(ctx, id, chain.AssetMetadata{
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	})
	if err != nil {
		zapLog.Warn("failed to submit asset metadata", zap.Error(err))
		return
	}
	if _, err := chain.Await(ctx, watch, r.timeout, r.registry); err != nil {
		zapLog.Warn("asset metadata not applied", zap.Error(err))
	}
}

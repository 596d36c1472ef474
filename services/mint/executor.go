package mint

import (
	"context"
	"time"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/config"
	"rewardmint/pkg/errutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("mint.executor",
	fx.Provide(NewExecutor),
)

// Executor submits one mint and waits for its inclusion.
type Executor struct {
	conn     chain.Connector
	registry *chain.ErrorRegistry

	minNative *uint256.Int
	timeout   time.Duration
}

type ExecutorParams struct {
	fx.In
	Config    *config.Config
	Connector chain.Connector
	Registry  *chain.ErrorRegistry
}

func NewExecutor(p ExecutorParams) (*Executor, error) {
	minNative, err := chain.ParseAmount(p.Config.Ledger.MinNativeBalance)
	if err != nil {
		return nil, err
	}
	timeout := p.Config.Ledger.MintTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Executor{
		conn:      p.Connector,
		registry:  p.Registry,
		minNative: minNative,
		timeout:   timeout,
	}, nil
}

// Mint credits amount of assetID to recipient and returns the transaction
// hash once the transaction is in a block.
func (e *Executor) Mint(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error) {
	if amount == nil || amount.IsZero() {
		return "", errutil.ValidationFailed("mint amount must be positive", nil)
	}

	conn, err := e.conn.Connection(ctx)
	if err != nil {
		observe(err)
		return "", err
	}

	zapLog := zap.L().With(
		zap.Uint32("asset_id", assetID),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.Dec()),
	)

	if err := e.checkPreconditions(ctx, conn, assetID); err != nil {
		zapLog.Warn("mint precondition failed", zap.Error(err))
		observe(err)
		return "", err
	}

	watch, err := conn.SubmitMint(ctx, assetID, recipient, amount)
	if err != nil {
		zapLog.Error("mint submission failed", zap.Error(err))
		observe(err)
		return "", err
	}

	hash := watch.Hash.Hex()
	rcpt, err := chain.Await(ctx, watch, e.timeout, e.registry)
	observe(err)
	if err != nil {
		zapLog.Error("mint failed", zap.String("tx_hash", hash), zap.Error(err))
		return "", err
	}

	zapLog.Info("mint included",
		zap.String("tx_hash", hash),
		zap.String("block_hash", rcpt.BlockHash.Hex()),
		zap.String("status", string(rcpt.Status)),
	)
	return hash, nil
}

func (e *Executor) checkPreconditions(ctx context.Context, conn chain.Ledger, assetID uint32) error {
	info, err := conn.NativeBalance(ctx, conn.Address())
	if err != nil {
		return err
	}
	if !info.Free.Gt(e.minNative) {
		return chain.InsufficientBalanceError("native balance %s does not exceed the required minimum %s", info.Free.Dec(), e.minNative.Dec())
	}

	asset, err := conn.Asset(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return chain.OwnershipError("asset %d does not exist", assetID)
	}
	if !asset.CanMint(conn.Address()) {
		return chain.OwnershipError("signer %s is neither issuer nor admin of asset %d", conn.Address().Hex(), assetID)
	}
	return nil
}

// Lookup reports what the ledger knows about an earlier submission.
func (e *Executor) Lookup(ctx context.Context, hash string) (*chain.TxReport, error) {
	conn, err := e.conn.Connection(ctx)
	if err != nil {
		return nil, err
	}
	return conn.TransactionStatus(ctx, common.HexToHash(hash))
}

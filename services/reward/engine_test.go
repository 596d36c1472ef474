package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/chain/chaintest"
	"rewardmint/pkg/config"
	"rewardmint/pkg/errutil"
	"rewardmint/services/mint"
	"rewardmint/services/order"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const wallet = "0x3333333333333333333333333333333333333333"

var (
	signer   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	stranger = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fixture struct {
	ledger *chaintest.Ledger
	store  Store
	engine *Engine
	clock  time.Time
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Ledger.MintTimeout = 50 * time.Millisecond
	for _, m := range mutate {
		m(cfg)
	}

	l := chaintest.New(signer)
	exec, err := mint.NewExecutor(mint.ExecutorParams{
		Config:    cfg,
		Connector: chaintest.Connector{Ledger: l},
		Registry:  chaintest.Registry(),
	})
	require.NoError(t, err)

	return newFixtureWith(t, cfg, l, exec)
}

func newFixtureWith(t *testing.T, cfg *config.Config, l *chaintest.Ledger, minter Minter) *fixture {
	t.Helper()

	store := newTestStore(t)
	engine, err := NewEngine(EngineParams{Config: cfg, Store: store, Minter: minter})
	require.NoError(t, err)

	f := &fixture{ledger: l, store: store, engine: engine, clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine.now = func() time.Time { return f.clock }
	return f
}

func assetID(v uint32) *uint32 { return &v }

func line(price string, qty int64, asset *uint32) order.LineItem {
	return order.LineItem{Price: decimal.RequireFromString(price), Quantity: qty, AssetID: asset}
}

func newOrder(id, total string, items ...order.LineItem) *order.Order {
	return &order.Order{ID: id, Total: decimal.RequireFromString(total), LineItems: items}
}

func TestReconcileSingleAsset(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(1, signer, signer, signer)

	res, err := f.engine.Reconcile(context.Background(), newOrder("1001", "12.50", line("12.50", 1, assetID(1))), 5, wallet)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)

	rec := res.Record
	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, "125", rec.Amount)
	require.Nil(t, rec.Error)
	require.Empty(t, rec.PendingTxHash)
	require.Equal(t, f.ledger.Mints[0].Hash.Hex(), rec.TxHash)
	require.NotNil(t, rec.ProcessedAt)

	// 125 tokens at 12 decimals
	want, err := uint256.FromDecimal("125000000000000")
	require.NoError(t, err)
	require.Equal(t, want, f.ledger.Balance(1, common.HexToAddress(wallet)))

	stored, err := f.store.Get(context.Background(), 5, "1001")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, stored.Status)
	require.Nil(t, stored.LeaseUntil)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(1, signer, signer, signer)
	o := newOrder("1001", "12.50", line("12.50", 1, assetID(1)))

	first, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
		require.NoError(t, err)
		require.True(t, again.AlreadyProcessed)
		require.Equal(t, first.Record.TxHash, again.Record.TxHash)
	}
	require.Len(t, f.ledger.Mints, 1)

	// the same order id under another contract is a different reward
	f.ledger.AddAsset(2, signer, signer, signer)
	other, err := f.engine.Reconcile(context.Background(), newOrder("1001", "1", line("1", 1, assetID(2))), 6, wallet)
	require.NoError(t, err)
	require.False(t, other.AlreadyProcessed)
	require.Len(t, f.ledger.Mints, 2)
}

func TestReconcileGroupsByAsset(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(1, signer, signer, signer)
	f.ledger.AddAsset(2, signer, signer, signer)

	o := newOrder("2002", "17",
		line("5", 2, assetID(1)),
		line("3", 1, assetID(2)),
		line("4", 1, nil),
	)
	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)

	require.Len(t, f.ledger.Mints, 2)
	require.Equal(t, uint32(1), f.ledger.Mints[0].Asset)
	require.Equal(t, uint32(2), f.ledger.Mints[1].Asset)

	rec := res.Record
	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, "130", rec.Amount)
	require.Equal(t, f.ledger.Mints[0].Hash.Hex()+","+f.ledger.Mints[1].Hash.Hex(), rec.TxHash)

	groups := rec.PreviousGroups()
	require.Equal(t, "100", groups[1].Amount)
	require.Equal(t, "30", groups[2].Amount)
}

func TestReconcileTruncatesToBaseUnits(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Reward.Decimals = 2 })
	f.ledger.AddAsset(1, signer, signer, signer)

	_, err := f.engine.Reconcile(context.Background(), newOrder("3003", "1.2345", line("1.2345", 1, assetID(1))), 5, wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), f.ledger.Mints[0].Amount.Uint64())
}

func TestReconcilePartialFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(7, stranger, stranger, stranger)
	f.ledger.AddAsset(8, signer, signer, signer)

	o := newOrder("4004", "20", line("10", 1, assetID(7)), line("10", 1, assetID(8)))
	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)

	rec := res.Record
	require.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	require.True(t, strings.HasPrefix(*rec.Error, "Asset 7: "))
	require.NotContains(t, *rec.Error, "Asset 8")
	require.Len(t, f.ledger.Mints, 1)
	require.Equal(t, f.ledger.Mints[0].Hash.Hex(), rec.TxHash)
	require.Equal(t, "100", rec.Amount)

	// a retry does not mint asset 8 again
	res, err = f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Record.Status)
	require.Len(t, f.ledger.Mints, 1)
	require.Equal(t, 2, res.Record.Attempts)

	// once asset 7 is fixed the order completes
	f.ledger.AddAsset(7, stranger, signer, stranger)
	res, err = f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Record.Status)
	require.Len(t, f.ledger.Mints, 2)
	require.Equal(t, "200", res.Record.Amount)
}

func TestReconcileNoPermissionOnSecondAsset(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(7, signer, signer, signer)
	f.ledger.AddAsset(8, signer, signer, signer)
	f.ledger.FailMint[8] = chaintest.ModuleError(chaintest.AssetsPallet, chaintest.ErrNoPermission)

	o := newOrder("4005", "20", line("10", 1, assetID(7)), line("10", 1, assetID(8)))
	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)

	rec := res.Record
	require.Equal(t, StatusFailed, rec.Status)
	require.True(t, strings.HasPrefix(*rec.Error, "Asset 8: no permission"), *rec.Error)
	require.NotContains(t, *rec.Error, "Asset 7")
	require.Len(t, f.ledger.Mints, 2)
	require.Equal(t, f.ledger.Mints[0].Hash.Hex(), rec.TxHash)
	require.Equal(t, "100", rec.Amount)

	groups := rec.PreviousGroups()
	require.Equal(t, GroupMinted, groups[7].State)
	require.Equal(t, GroupFailed, groups[8].State)
}

func TestReconcileRejectsInput(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(1, signer, signer, signer)

	t.Run("invalid wallet", func(t *testing.T) {
		_, err := f.engine.Reconcile(context.Background(), newOrder("5005", "1", line("1", 1, assetID(1))), 5, "3333")
		require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

		rec, err := f.store.Get(context.Background(), 5, "5005")
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("non-positive total", func(t *testing.T) {
		res, err := f.engine.Reconcile(context.Background(), newOrder("5006", "0", line("1", 1, assetID(1))), 5, wallet)
		require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
		require.Equal(t, StatusFailed, res.Record.Status)
		require.Contains(t, *res.Record.Error, "order total must be positive")

		rec, err := f.store.Get(context.Background(), 5, "5006")
		require.NoError(t, err)
		require.Equal(t, StatusFailed, rec.Status)
	})

	t.Run("no rewardable items", func(t *testing.T) {
		res, err := f.engine.Reconcile(context.Background(), newOrder("5007", "4", line("4", 1, nil)), 5, wallet)
		require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
		require.Contains(t, *res.Record.Error, "no line items")
	})

	require.Empty(t, f.ledger.Mints)
}

func TestReconcileRespectsLiveLease(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(1, signer, signer, signer)
	o := newOrder("6006", "1", line("1", 1, assetID(1)))

	_, err := f.store.Claim(context.Background(), &RewardRecord{ContractID: 5, OrderID: "6006", Wallet: wallet, Amount: "10"},
		f.clock, f.clock.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
	require.Empty(t, f.ledger.Mints)

	// an abandoned claim is taken over once its lease expires
	f.clock = f.clock.Add(2 * time.Minute)
	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Record.Status)
	require.Equal(t, 2, res.Record.Attempts)
}

func TestReconcileRejectRespectsLiveLease(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Claim(context.Background(), &RewardRecord{ContractID: 5, OrderID: "6007", Wallet: wallet, Amount: "10"},
		f.clock, f.clock.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.engine.Reconcile(context.Background(), newOrder("6007", "0", line("1", 1, assetID(1))), 5, wallet)
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	rec, err := f.store.Get(context.Background(), 5, "6007")
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Nil(t, rec.Error)
}

func TestReconcileProvisionalSubmission(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(3, signer, signer, signer)
	f.ledger.Stall[3] = true
	o := newOrder("7007", "2", line("2", 1, assetID(3)))

	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	hash := f.ledger.Mints[0].Hash.Hex()

	rec := res.Record
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, "3:"+hash, rec.PendingTxHash)
	require.Empty(t, rec.TxHash)
	require.Equal(t, GroupProvisional, rec.PreviousGroups()[3].State)

	// still in the pool: nothing is resubmitted
	res, err = f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Record.Status)
	require.Contains(t, *res.Record.Error, "still pending")
	require.Len(t, f.ledger.Mints, 1)

	f.ledger.Complete(f.ledger.Mints[0].Hash)
	res, err = f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Record.Status)
	require.Equal(t, hash, res.Record.TxHash)
	require.Empty(t, res.Record.PendingTxHash)
	require.Len(t, f.ledger.Mints, 1)
	require.Equal(t, uint64(20_000_000_000_000), f.ledger.Balance(3, common.HexToAddress(wallet)).Uint64())
}

func TestReconcileDroppedSubmissionIsRetried(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddAsset(3, signer, signer, signer)
	f.ledger.Stall[3] = true
	o := newOrder("8008", "2", line("2", 1, assetID(3)))

	_, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)

	f.ledger.Drop(f.ledger.Mints[0].Hash)
	f.ledger.Stall[3] = false

	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Record.Status)
	require.Len(t, f.ledger.Mints, 2)
	require.Equal(t, f.ledger.Mints[1].Hash.Hex(), res.Record.TxHash)
}

type minterMock struct {
	mintFn   func(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error)
	lookupFn func(ctx context.Context, hash string) (*chain.TxReport, error)
}

func (m *minterMock) Mint(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error) {
	if m.mintFn != nil {
		return m.mintFn(ctx, assetID, recipient, amount)
	}
	return "", nil
}

func (m *minterMock) Lookup(ctx context.Context, hash string) (*chain.TxReport, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, hash)
	}
	return nil, errors.New("not found")
}

func TestReconcileLedgerUnavailable(t *testing.T) {
	minter := &minterMock{
		mintFn: func(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error) {
			return "", chain.ConnectionError(errors.New("dial tcp: connection refused"), "connect ledger")
		},
	}
	f := newFixtureWith(t, config.Default(), nil, minter)

	res, err := f.engine.Reconcile(context.Background(), newOrder("9009", "1", line("1", 1, assetID(1))), 5, wallet)
	require.ErrorIs(t, err, chain.ErrConnection)
	require.NotNil(t, res)
	require.Equal(t, StatusFailed, res.Record.Status)
	require.Contains(t, *res.Record.Error, "Asset 1: connect ledger")
}

func TestReconcileTakeoverDuringMint(t *testing.T) {
	o := newOrder("1212", "3", line("1", 1, assetID(1)), line("2", 1, assetID(2)))
	mints := map[uint32]int{}

	var (
		f         *fixture
		second    *Result
		secondErr error
	)
	minter := &minterMock{
		mintFn: func(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error) {
			mints[assetID]++
			if assetID == 2 && mints[2] == 1 {
				// the first worker stalls past its lease and a second one takes over
				f.clock = f.clock.Add(6 * time.Minute)
				second, secondErr = f.engine.Reconcile(ctx, o, 5, wallet)
			}
			return fmt.Sprintf("0x%02d01", assetID), nil
		},
	}
	f = newFixtureWith(t, config.Default(), nil, minter)

	first, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.Equal(t, map[uint32]int{1: 1, 2: 1}, mints)

	// the second worker found asset 2 in flight and left it alone
	require.NoError(t, secondErr)
	require.Equal(t, StatusFailed, second.Record.Status)
	require.Equal(t, 2, second.Record.Attempts)
	require.Contains(t, *second.Record.Error, "Asset 2: submission by attempt 1 has no recorded outcome")

	// the first worker's outcome still lands and completes the record
	require.True(t, first.AlreadyProcessed)
	require.Equal(t, StatusSuccess, first.Record.Status)
	require.Equal(t, "0x0101,0x0201", first.Record.TxHash)
	require.Equal(t, "30", first.Record.Amount)
	require.Nil(t, first.Record.Error)

	again, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)
	require.Equal(t, map[uint32]int{1: 1, 2: 1}, mints)
}

func TestReconcileStopsAfterLosingLease(t *testing.T) {
	o := newOrder("1313", "3", line("1", 1, assetID(1)), line("2", 1, assetID(2)))
	mints := map[uint32]int{}

	var f *fixture
	minter := &minterMock{
		mintFn: func(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error) {
			mints[assetID]++
			f.clock = f.clock.Add(6 * time.Minute)
			_, err := f.store.Claim(ctx, &RewardRecord{ContractID: 5, OrderID: o.ID, Wallet: wallet, Amount: "30"}, f.clock, f.clock.Add(5*time.Minute))
			require.NoError(t, err)
			return fmt.Sprintf("0x%02d01", assetID), nil
		},
	}
	f = newFixtureWith(t, config.Default(), nil, minter)

	res, err := f.engine.Reconcile(context.Background(), o, 5, wallet)
	require.NoError(t, err)
	require.False(t, res.AlreadyProcessed)
	require.Equal(t, map[uint32]int{1: 1}, mints)

	rec := res.Record
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, 2, rec.Attempts)
	g := rec.PreviousGroups()[1]
	require.Equal(t, GroupMinted, g.State)
	require.Equal(t, "0x0101", g.TxHash)
	require.Equal(t, 1, g.Attempt)
}

func TestGroupByAsset(t *testing.T) {
	groups := GroupByAsset([]order.LineItem{
		line("2", 3, assetID(9)),
		line("1", 1, nil),
		line("5", 1, assetID(4)),
		line("0.5", 2, assetID(9)),
	})

	require.Len(t, groups, 2)
	require.Equal(t, uint32(9), groups[0].AssetID)
	require.True(t, decimal.NewFromInt(7).Equal(groups[0].Total))
	require.Len(t, groups[0].Items, 2)
	require.Equal(t, uint32(4), groups[1].AssetID)
	require.True(t, decimal.NewFromInt(5).Equal(groups[1].Total))

	require.Empty(t, GroupByAsset(nil))
}

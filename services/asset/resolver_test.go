package asset

import (
	"context"
	"errors"
	"testing"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/chain/chaintest"
	"rewardmint/pkg/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	signer   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	stranger = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newResolver(t *testing.T, l *chaintest.Ledger, mutate ...func(*config.Config)) *Resolver {
	t.Helper()
	cfg := config.Default()
	cfg.Ledger.AssetDeposit = "1000"
	for _, m := range mutate {
		m(cfg)
	}
	r, err := NewResolver(ResolverParams{
		Config:    cfg,
		Connector: chaintest.Connector{Ledger: l},
		Registry:  chaintest.Registry(),
	})
	require.NoError(t, err)
	return r
}

func ptr(v uint32) *uint32 { return &v }

func TestResolveReusesOwnedAsset(t *testing.T) {
	l := chaintest.New(signer)
	l.AddAsset(4, stranger, signer, stranger)

	id, err := newResolver(t, l).ResolveOrCreate(context.Background(), ptr(4), Metadata{Name: "Points", Symbol: "PTS"})
	require.NoError(t, err)
	require.Equal(t, uint32(4), id)
	require.Empty(t, l.Creates)
	require.Zero(t, l.MetadataCalls)
}

func TestResolveRejectsForeignAsset(t *testing.T) {
	l := chaintest.New(signer)
	l.AddAsset(4, stranger, stranger, stranger)

	_, err := newResolver(t, l).ResolveOrCreate(context.Background(), ptr(4), Metadata{})
	require.ErrorIs(t, err, chain.ErrOwnership)
	require.Empty(t, l.Creates)
}

func TestResolveCreatesAtNextID(t *testing.T) {
	l := chaintest.New(signer)
	l.Next = 12

	id, err := newResolver(t, l).ResolveOrCreate(context.Background(), nil, Metadata{Name: "Points", Symbol: "PTS", Decimals: 12})
	require.NoError(t, err)
	require.Equal(t, uint32(12), id)
	require.Equal(t, []uint32{12}, l.Creates)
	require.Equal(t, uint32(13), l.Next)

	a, err := l.Asset(context.Background(), 12)
	require.NoError(t, err)
	require.True(t, a.CanMint(signer))
	require.Equal(t, "PTS", a.Metadata.Symbol)
	require.Equal(t, 1, l.MetadataCalls)
}

func TestResolveCreatesDesiredWhenNext(t *testing.T) {
	l := chaintest.New(signer)
	l.Next = 8

	id, err := newResolver(t, l).ResolveOrCreate(context.Background(), ptr(8), Metadata{})
	require.NoError(t, err)
	require.Equal(t, uint32(8), id)
	require.Equal(t, []uint32{8}, l.Creates)
	// empty metadata is not submitted
	require.Zero(t, l.MetadataCalls)
}

func TestResolveAllocationMismatch(t *testing.T) {
	l := chaintest.New(signer)
	l.Next = 10

	_, err := newResolver(t, l).ResolveOrCreate(context.Background(), ptr(15), Metadata{})
	require.ErrorIs(t, err, chain.ErrAllocationMismatch)

	var ce *chain.Error
	require.True(t, errors.As(err, &ce))
	require.False(t, ce.Race)
	require.Empty(t, l.Creates)
}

func TestResolveConcurrentCreatorRace(t *testing.T) {
	l := chaintest.New(signer)
	l.Next = 10

	reads := 0
	l.NextIDHook = func(l *chaintest.Ledger) {
		reads++
		if reads == 2 {
			// another creator takes id 10 between the two reads
			l.AddAsset(10, stranger, stranger, stranger)
		}
	}

	_, err := newResolver(t, l).ResolveOrCreate(context.Background(), ptr(10), Metadata{})
	require.ErrorIs(t, err, chain.ErrAllocationMismatch)

	var ce *chain.Error
	require.True(t, errors.As(err, &ce))
	require.True(t, ce.Race)
	require.Empty(t, l.Creates)
}

func TestResolveLedgerReportsInUse(t *testing.T) {
	l := chaintest.New(signer)
	l.FailCreate = chaintest.ModuleError(chaintest.AssetsPallet, chaintest.ErrInUse)

	_, err := newResolver(t, l).ResolveOrCreate(context.Background(), nil, Metadata{})
	require.ErrorIs(t, err, chain.ErrAllocationMismatch)

	var ce *chain.Error
	require.True(t, errors.As(err, &ce))
	require.True(t, ce.Race)
	require.NotEmpty(t, ce.TxHash)
}

func TestResolveInsufficientDeposit(t *testing.T) {
	l := chaintest.New(signer)
	l.Native = uint256.NewInt(999)

	_, err := newResolver(t, l).ResolveOrCreate(context.Background(), nil, Metadata{})
	require.ErrorIs(t, err, chain.ErrInsufficientBalance)
	require.Empty(t, l.Creates)
}

func TestResolveMetadataFailureIsNotFatal(t *testing.T) {
	l := chaintest.New(signer)
	l.FailMetadata = true

	id, err := newResolver(t, l).ResolveOrCreate(context.Background(), nil, Metadata{Name: "Points", Symbol: "PTS"})
	require.NoError(t, err)
	require.Equal(t, uint32(0), id)
	require.Equal(t, 1, l.MetadataCalls)
}

func TestResolveConnectionFailure(t *testing.T) {
	cfg := config.Default()
	r, err := NewResolver(ResolverParams{
		Config:    cfg,
		Connector: chaintest.Connector{Err: chain.ConnectionError(nil, "ledger unreachable")},
		Registry:  chaintest.Registry(),
	})
	require.NoError(t, err)

	_, err = r.ResolveOrCreate(context.Background(), nil, Metadata{})
	require.ErrorIs(t, err, chain.ErrConnection)
}

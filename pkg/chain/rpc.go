package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Pallets holds the runtime indices used to build calls and decode errors.
type Pallets struct {
	Assets   uint8
	Balances uint8
}

type header struct {
	Number hexutil.Uint64 `json:"number"`
	Hash   common.Hash    `json:"hash"`
}

type assetJSON struct {
	ID         uint32         `json:"id"`
	Owner      common.Address `json:"owner"`
	Issuer     common.Address `json:"issuer"`
	Admin      common.Address `json:"admin"`
	Freezer    common.Address `json:"freezer"`
	Supply     string         `json:"supply"`
	MinBalance string         `json:"minBalance"`
	Status     string         `json:"status"`
	Metadata   AssetMetadata  `json:"metadata"`
}

type accountJSON struct {
	Nonce    uint64 `json:"nonce"`
	Free     string `json:"free"`
	Reserved string `json:"reserved"`
	Frozen   string `json:"frozen"`
}

// RPCLedger talks JSON-RPC to the ledger gateway over a single websocket.
type RPCLedger struct {
	client  *rpc.Client
	signer  *Signer
	pallets Pallets
	genesis common.Hash

	// mu serialises nonce assignment for the single signer.
	mu    sync.Mutex
	nonce *uint64

	head    atomic.Uint64
	closed  atomic.Bool
	headSub *rpc.ClientSubscription
}

func Dial(ctx context.Context, endpoint string, signer *Signer, pallets Pallets) (*RPCLedger, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, ConnectionError(err, "dial ledger %s", endpoint)
	}
	l, err := NewRPCLedger(ctx, client, signer, pallets)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

// NewRPCLedger completes the handshake on an existing client: it reads the
// genesis hash and subscribes to new heads.
func NewRPCLedger(ctx context.Context, client *rpc.Client, signer *Signer, pallets Pallets) (*RPCLedger, error) {
	l := &RPCLedger{client: client, signer: signer, pallets: pallets}

	if err := client.CallContext(ctx, &l.genesis, "chain_genesisHash"); err != nil {
		return nil, ConnectionError(err, "read genesis hash")
	}

	heads := make(chan header, 8)
	sub, err := client.Subscribe(ctx, "chain", heads, "newHeads")
	if err != nil {
		return nil, ConnectionError(err, "subscribe new heads")
	}
	l.headSub = sub
	go l.trackHeads(heads)

	return l, nil
}

func (l *RPCLedger) trackHeads(heads <-chan header) {
	for {
		select {
		case h := <-heads:
			l.head.Store(uint64(h.Number))
		case err := <-l.headSub.Err():
			if err != nil {
				zap.L().Warn("[Ledger] head subscription ended", zap.Error(err))
			}
			l.closed.Store(true)
			return
		}
	}
}

func (l *RPCLedger) Address() common.Address {
	return l.signer.Address()
}

func (l *RPCLedger) Genesis() common.Hash {
	return l.genesis
}

// Head is the latest block number seen on the newHeads subscription.
func (l *RPCLedger) Head() uint64 {
	return l.head.Load()
}

// Closed reports whether the underlying subscription has dropped.
func (l *RPCLedger) Closed() bool {
	return l.closed.Load()
}

func (l *RPCLedger) Close() {
	if l.headSub != nil {
		l.headSub.Unsubscribe()
	}
	l.client.Close()
	l.closed.Store(true)
}

func (l *RPCLedger) NextAssetID(ctx context.Context) (uint32, error) {
	var id uint32
	if err := l.client.CallContext(ctx, &id, "assets_nextAssetId"); err != nil {
		return 0, l.callError(err, "read next asset id")
	}
	return id, nil
}

func (l *RPCLedger) Asset(ctx context.Context, id uint32) (*Asset, error) {
	var raw *assetJSON
	if err := l.client.CallContext(ctx, &raw, "assets_asset", id); err != nil {
		return nil, l.callError(err, "read asset %d", id)
	}
	if raw == nil {
		return nil, nil
	}
	supply, err := ParseAmount(raw.Supply)
	if err != nil {
		return nil, err
	}
	minBalance, err := ParseAmount(raw.MinBalance)
	if err != nil {
		return nil, err
	}
	return &Asset{
		ID:         raw.ID,
		Owner:      raw.Owner,
		Issuer:     raw.Issuer,
		Admin:      raw.Admin,
		Freezer:    raw.Freezer,
		Supply:     supply,
		MinBalance: minBalance,
		Status:     raw.Status,
		Metadata:   raw.Metadata,
	}, nil
}

func (l *RPCLedger) AssetBalance(ctx context.Context, id uint32, who common.Address) (*uint256.Int, error) {
	var raw string
	if err := l.client.CallContext(ctx, &raw, "assets_balance", id, who); err != nil {
		return nil, l.callError(err, "read balance of asset %d", id)
	}
	return ParseAmount(raw)
}

func (l *RPCLedger) NativeBalance(ctx context.Context, who common.Address) (*AccountInfo, error) {
	var raw accountJSON
	if err := l.client.CallContext(ctx, &raw, "system_account", who); err != nil {
		return nil, l.callError(err, "read account %s", who.Hex())
	}
	info := &AccountInfo{Nonce: raw.Nonce}
	var err error
	if info.Free, err = ParseAmount(raw.Free); err != nil {
		return nil, err
	}
	if info.Reserved, err = ParseAmount(raw.Reserved); err != nil {
		return nil, err
	}
	if info.Frozen, err = ParseAmount(raw.Frozen); err != nil {
		return nil, err
	}
	return info, nil
}

func (l *RPCLedger) SubmitCreateAsset(ctx context.Context, id uint32, admin common.Address, minBalance *uint256.Int) (*Watch, error) {
	tx, err := NewCreateCall(l.pallets.Assets, id, admin, minBalance)
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, tx)
}

func (l *RPCLedger) SubmitSetMetadata(ctx context.Context, id uint32, meta AssetMetadata) (*Watch, error) {
	tx, err := NewSetMetadataCall(l.pallets.Assets, id, meta)
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, tx)
}

func (l *RPCLedger) SubmitMint(ctx context.Context, id uint32, beneficiary common.Address, amount *uint256.Int) (*Watch, error) {
	tx, err := NewMintCall(l.pallets.Assets, id, beneficiary, amount)
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, tx)
}

func (l *RPCLedger) TransactionStatus(ctx context.Context, hash common.Hash) (*TxReport, error) {
	var report TxReport
	if err := l.client.CallContext(ctx, &report, "author_transactionStatus", hash); err != nil {
		return nil, l.callError(err, "read status of %s", hash.Hex())
	}
	if report.Status == "" {
		report.Status = TxStatusUnknown
	}
	report.Hash = hash
	return &report, nil
}

func (l *RPCLedger) submit(ctx context.Context, tx UnsignedTx) (*Watch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nonce, err := l.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	signed, err := SignTx(l.signer, tx, l.genesis, nonce)
	if err != nil {
		return nil, err
	}

	events := make(chan TxEvent, 16)
	sub, err := l.client.Subscribe(ctx, "author", events, "submitAndWatch", signed)
	if err != nil {
		// the pool may have rejected the nonce; resync on next submission
		l.nonce = nil
		return nil, l.submitError(err, tx.Call)
	}
	next := nonce + 1
	l.nonce = &next

	out := make(chan TxEvent)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-events:
				select {
				case out <- ev:
				case <-done:
					return
				}
			case <-sub.Err():
				return
			case <-done:
				return
			}
		}
	}()

	hash := signed.Hash()
	zap.L().Debug("[Ledger] submitted transaction",
		zap.String("call", tx.Call),
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("nonce", nonce),
	)

	return NewWatch(hash, out, func() {
		close(done)
		sub.Unsubscribe()
	}), nil
}

func (l *RPCLedger) nextNonce(ctx context.Context) (uint64, error) {
	if l.nonce != nil {
		return *l.nonce, nil
	}
	info, err := l.NativeBalance(ctx, l.signer.Address())
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

func (l *RPCLedger) callError(err error, format string, args ...any) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	return ConnectionError(err, format, args...)
}

func (l *RPCLedger) submitError(err error, call string) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return ConnectionError(err, "submit %s", call)
	}
	msg := rpcErr.Error()
	if strings.Contains(strings.ToLower(msg), "pay") {
		return &Error{Kind: KindInsufficientBalance, Message: fmt.Sprintf("submit %s rejected: %s", call, msg)}
	}
	return &Error{Kind: KindUnknownDispatch, Message: fmt.Sprintf("submit %s rejected: %s", call, msg)}
}

// Package chaintest provides an in-memory Ledger for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"rewardmint/pkg/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const AssetsPallet uint8 = 50

// Indices into the assets pallet error table.
const (
	ErrBalanceLow   uint8 = 0
	ErrNoPermission uint8 = 2
	ErrUnknown      uint8 = 3
	ErrInUse        uint8 = 5
	ErrBadAssetID   uint8 = 20
)

// ModuleError renders a raw module dispatch error in the gateway's shape.
func ModuleError(pallet, index uint8) string {
	return fmt.Sprintf(`{"module":{"index":%d,"error":"0x%02x000000"}}`, pallet, index)
}

func Registry() *chain.ErrorRegistry {
	return chain.DefaultRegistry(AssetsPallet, 10)
}

type Mint struct {
	Asset  uint32
	To     common.Address
	Amount *uint256.Int
	Hash   common.Hash
}

// Ledger mimics the assets pallet: sequential ids, issuer/admin checks and
// dispatch errors reported at inclusion.
type Ledger struct {
	mu sync.Mutex

	Signer   common.Address
	Next     uint32
	Assets   map[uint32]*chain.Asset
	Balances map[uint32]map[common.Address]*uint256.Int
	Native   *uint256.Int
	Statuses map[common.Hash]*chain.TxReport

	// FailMint maps an asset id to the raw dispatch error reported on inclusion.
	FailMint   map[uint32]string
	FailCreate string
	// Stall leaves mints of these assets in the pool without further events.
	Stall        map[uint32]bool
	FailMetadata bool
	// NextIDHook runs before every NextAssetID read.
	NextIDHook func(l *Ledger)

	Creates       []uint32
	Mints         []Mint
	MetadataCalls int

	pending map[common.Hash]func()
	seq     uint64
}

func New(signer common.Address) *Ledger {
	return &Ledger{
		Signer:   signer,
		Assets:   make(map[uint32]*chain.Asset),
		Balances: make(map[uint32]map[common.Address]*uint256.Int),
		Native:   uint256.NewInt(1_000_000_000_000),
		Statuses: make(map[common.Hash]*chain.TxReport),
		FailMint: make(map[uint32]string),
		Stall:    make(map[uint32]bool),
		pending:  make(map[common.Hash]func()),
	}
}

// AddAsset registers an existing asset and bumps Next past it.
func (l *Ledger) AddAsset(id uint32, owner, issuer, admin common.Address) *chain.Asset {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := &chain.Asset{
		ID:         id,
		Owner:      owner,
		Issuer:     issuer,
		Admin:      admin,
		Freezer:    owner,
		Supply:     new(uint256.Int),
		MinBalance: uint256.NewInt(1),
		Status:     "Live",
	}
	l.Assets[id] = a
	if id >= l.Next {
		l.Next = id + 1
	}
	return a
}

// Complete includes a stalled transaction and applies its effect.
func (l *Ledger) Complete(hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if apply, ok := l.pending[hash]; ok {
		apply()
		delete(l.pending, hash)
	}
	if r, ok := l.Statuses[hash]; ok {
		r.Status = chain.TxStatusInBlock
	}
}

// Drop marks a stalled transaction as dropped from the pool.
func (l *Ledger) Drop(hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.pending, hash)
	if r, ok := l.Statuses[hash]; ok {
		r.Status = chain.TxStatusDropped
	}
}

func (l *Ledger) Balance(id uint32, who common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.Balances[id][who]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (l *Ledger) Address() common.Address {
	return l.Signer
}

func (l *Ledger) NextAssetID(ctx context.Context) (uint32, error) {
	if l.NextIDHook != nil {
		l.NextIDHook(l)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Next, nil
}

func (l *Ledger) Asset(ctx context.Context, id uint32) (*chain.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.Assets[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (l *Ledger) AssetBalance(ctx context.Context, id uint32, who common.Address) (*uint256.Int, error) {
	return l.Balance(id, who), nil
}

func (l *Ledger) NativeBalance(ctx context.Context, who common.Address) (*chain.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	free := new(uint256.Int)
	if who == l.Signer {
		free.Set(l.Native)
	}
	return &chain.AccountInfo{Nonce: l.seq, Free: free, Reserved: new(uint256.Int), Frozen: new(uint256.Int)}, nil
}

func (l *Ledger) SubmitCreateAsset(ctx context.Context, id uint32, admin common.Address, minBalance *uint256.Int) (*chain.Watch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Creates = append(l.Creates, id)
	hash := l.nextHash("create", id)

	if l.FailCreate != "" {
		return l.resolve(hash, l.FailCreate), nil
	}
	if id != l.Next {
		return l.resolve(hash, ModuleError(AssetsPallet, ErrBadAssetID)), nil
	}
	if _, taken := l.Assets[id]; taken {
		return l.resolve(hash, ModuleError(AssetsPallet, ErrInUse)), nil
	}

	l.Assets[id] = &chain.Asset{
		ID:         id,
		Owner:      l.Signer,
		Issuer:     l.Signer,
		Admin:      admin,
		Freezer:    l.Signer,
		Supply:     new(uint256.Int),
		MinBalance: new(uint256.Int).Set(minBalance),
		Status:     "Live",
	}
	l.Next = id + 1
	return l.resolve(hash, ""), nil
}

func (l *Ledger) SubmitSetMetadata(ctx context.Context, id uint32, meta chain.AssetMetadata) (*chain.Watch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.MetadataCalls++
	hash := l.nextHash("metadata", id)
	if l.FailMetadata {
		return nil, fmt.Errorf("metadata submission refused")
	}
	if a, ok := l.Assets[id]; ok {
		a.Metadata = meta
	}
	return l.resolve(hash, ""), nil
}

func (l *Ledger) SubmitMint(ctx context.Context, id uint32, beneficiary common.Address, amount *uint256.Int) (*chain.Watch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash := l.nextHash("mint", id)
	l.Mints = append(l.Mints, Mint{Asset: id, To: beneficiary, Amount: new(uint256.Int).Set(amount), Hash: hash})

	if raw, ok := l.FailMint[id]; ok {
		return l.resolve(hash, raw), nil
	}
	a, ok := l.Assets[id]
	if !ok {
		return l.resolve(hash, ModuleError(AssetsPallet, ErrUnknown)), nil
	}
	if !a.CanMint(l.Signer) {
		return l.resolve(hash, ModuleError(AssetsPallet, ErrNoPermission)), nil
	}

	apply := func() {
		if l.Balances[id] == nil {
			l.Balances[id] = make(map[common.Address]*uint256.Int)
		}
		cur, ok := l.Balances[id][beneficiary]
		if !ok {
			cur = new(uint256.Int)
		}
		l.Balances[id][beneficiary] = new(uint256.Int).Add(cur, amount)
		a.Supply = new(uint256.Int).Add(a.Supply, amount)
	}

	if l.Stall[id] {
		l.pending[hash] = apply
		l.Statuses[hash] = &chain.TxReport{Hash: hash, Status: chain.TxStatusReady}
		events := make(chan chain.TxEvent, 1)
		events <- chain.TxEvent{Status: chain.TxStatusReady}
		return chain.NewWatch(hash, events, nil), nil
	}

	apply()
	return l.resolve(hash, ""), nil
}

func (l *Ledger) TransactionStatus(ctx context.Context, hash common.Hash) (*chain.TxReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.Statuses[hash]
	if !ok {
		return &chain.TxReport{Hash: hash, Status: chain.TxStatusUnknown}, nil
	}
	cp := *r
	return &cp, nil
}

func (l *Ledger) nextHash(call string, id uint32) common.Hash {
	l.seq++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%d", call, id, l.seq)))
}

// resolve emits ready, broadcast and inBlock, with the dispatch error if any.
func (l *Ledger) resolve(hash common.Hash, dispatchErr string) *chain.Watch {
	blockHash := crypto.Keccak256Hash(hash.Bytes())
	report := &chain.TxReport{Hash: hash, Status: chain.TxStatusInBlock, BlockHash: blockHash}

	events := make(chan chain.TxEvent, 3)
	events <- chain.TxEvent{Status: chain.TxStatusReady}
	events <- chain.TxEvent{Status: chain.TxStatusBroadcast}
	ev := chain.TxEvent{Status: chain.TxStatusInBlock, BlockHash: blockHash}
	if dispatchErr != "" {
		ev.DispatchError = json.RawMessage(dispatchErr)
		report.DispatchError = ev.DispatchError
	}
	events <- ev
	close(events)

	l.Statuses[hash] = report
	return chain.NewWatch(hash, events, nil)
}

// Connector hands out a fixed ledger, or Err when set.
type Connector struct {
	Ledger chain.Ledger
	Err    error
}

func (c Connector) Connection(ctx context.Context) (chain.Ledger, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Ledger, nil
}

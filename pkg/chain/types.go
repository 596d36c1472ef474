package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger is the set of primitives the reward pipeline needs from the asset ledger.
type Ledger interface {
	// Address is the signing identity used for every submission.
	Address() common.Address
	NextAssetID(ctx context.Context) (uint32, error)
	// Asset returns nil, nil when the asset does not exist.
	Asset(ctx context.Context, id uint32) (*Asset, error)
	AssetBalance(ctx context.Context, id uint32, who common.Address) (*uint256.Int, error)
	NativeBalance(ctx context.Context, who common.Address) (*AccountInfo, error)
	SubmitCreateAsset(ctx context.Context, id uint32, admin common.Address, minBalance *uint256.Int) (*Watch, error)
	SubmitSetMetadata(ctx context.Context, id uint32, meta AssetMetadata) (*Watch, error)
	SubmitMint(ctx context.Context, id uint32, beneficiary common.Address, amount *uint256.Int) (*Watch, error)
	TransactionStatus(ctx context.Context, hash common.Hash) (*TxReport, error)
}

type AssetMetadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type Asset struct {
	ID         uint32
	Owner      common.Address
	Issuer     common.Address
	Admin      common.Address
	Freezer    common.Address
	Supply     *uint256.Int
	MinBalance *uint256.Int
	Status     string
	Metadata   AssetMetadata
}

// CanMint reports whether who holds the issuer or admin role.
func (a *Asset) CanMint(who common.Address) bool {
	if a == nil {
		return false
	}
	return a.Issuer == who || a.Admin == who
}

type AccountInfo struct {
	Nonce    uint64
	Free     *uint256.Int
	Reserved *uint256.Int
	Frozen   *uint256.Int
}

type TxStatus string

const (
	TxStatusReady         TxStatus = "ready"
	TxStatusBroadcast     TxStatus = "broadcast"
	TxStatusInBlock       TxStatus = "inBlock"
	TxStatusFinalized     TxStatus = "finalized"
	TxStatusInvalid       TxStatus = "invalid"
	TxStatusDropped       TxStatus = "dropped"
	TxStatusUsurped       TxStatus = "usurped"
	TxStatusRetracted     TxStatus = "retracted"
	TxStatusUnknown       TxStatus = "unknown"
	TxStatusFutureQueue   TxStatus = "future"
	TxStatusFinalityLimit TxStatus = "finalityTimeout"
)

// TxEvent is one lifecycle notification for a submitted transaction.
// DispatchError is set alongside InBlock or Finalized when the call failed.
type TxEvent struct {
	Status        TxStatus        `json:"status"`
	BlockHash     common.Hash     `json:"blockHash,omitempty"`
	DispatchError json.RawMessage `json:"dispatchError,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// TxReport is the gateway's point-in-time view of a submission.
type TxReport struct {
	Hash          common.Hash     `json:"hash"`
	Status        TxStatus        `json:"status"`
	BlockHash     common.Hash     `json:"blockHash,omitempty"`
	DispatchError json.RawMessage `json:"dispatchError,omitempty"`
}

// Included reports whether the transaction landed in a block.
func (r *TxReport) Included() bool {
	return r != nil && (r.Status == TxStatusInBlock || r.Status == TxStatusFinalized)
}

// Succeeded reports whether the transaction was included without a dispatch error.
func (r *TxReport) Succeeded() bool {
	if !r.Included() {
		return false
	}
	d := strings.TrimSpace(string(r.DispatchError))
	return d == "" || d == "null"
}

// Pending reports whether the transaction may still be included.
func (r *TxReport) Pending() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case TxStatusReady, TxStatusBroadcast, TxStatusFutureQueue, TxStatusRetracted:
		return true
	}
	return false
}

// Receipt is the resolution of a successful submission.
type Receipt struct {
	Hash      common.Hash
	BlockHash common.Hash
	Status    TxStatus
}

// Watch streams lifecycle events for a submitted transaction. Closing a watch
// only stops the stream; the transaction stays in the pool.
type Watch struct {
	Hash   common.Hash
	Events <-chan TxEvent

	once    sync.Once
	closeFn func()
}

func NewWatch(hash common.Hash, events <-chan TxEvent, closeFn func()) *Watch {
	return &Watch{Hash: hash, Events: events, closeFn: closeFn}
}

func (w *Watch) Close() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		if w.closeFn != nil {
			w.closeFn()
		}
	})
}

// ParseAmount parses a non-negative integer in the smallest unit.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

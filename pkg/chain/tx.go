package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

const (
	CallCreate      = "create"
	CallSetMetadata = "set_metadata"
	CallMint        = "mint"
)

// UnsignedTx is the RLP payload accepted by the ledger gateway.
type UnsignedTx struct {
	Genesis common.Hash
	Nonce   uint64
	Pallet  uint8
	Call    string
	Args    []byte
}

type createArgs struct {
	ID         uint32
	Admin      common.Address
	MinBalance []byte
}

type metadataArgs struct {
	ID       uint32
	Name     []byte
	Symbol   []byte
	Decimals uint8
}

type mintArgs struct {
	ID          uint32
	Beneficiary common.Address
	Amount      []byte
}

// SignedTx is the submission body for author_submitAndWatch.
type SignedTx struct {
	Payload   hexutil.Bytes `json:"payload"`
	Signature hexutil.Bytes `json:"signature"`
}

// Hash is keccak256(payload || signature).
func (t *SignedTx) Hash() common.Hash {
	return crypto.Keccak256Hash(t.Payload, t.Signature)
}

func encodeCall(pallet uint8, call string, args any) (UnsignedTx, error) {
	enc, err := rlp.EncodeToBytes(args)
	if err != nil {
		return UnsignedTx{}, fmt.Errorf("encode %s args: %w", call, err)
	}
	return UnsignedTx{Pallet: pallet, Call: call, Args: enc}, nil
}

func NewCreateCall(pallet uint8, id uint32, admin common.Address, minBalance *uint256.Int) (UnsignedTx, error) {
	if minBalance == nil || minBalance.IsZero() {
		return UnsignedTx{}, errors.New("min balance must be non-zero")
	}
	return encodeCall(pallet, CallCreate, createArgs{ID: id, Admin: admin, MinBalance: minBalance.Bytes()})
}

func NewSetMetadataCall(pallet uint8, id uint32, meta AssetMetadata) (UnsignedTx, error) {
	return encodeCall(pallet, CallSetMetadata, metadataArgs{
		ID:       id,
		Name:     []byte(meta.Name),
		Symbol:   []byte(meta.Symbol),
		Decimals: meta.Decimals,
	})
}

func NewMintCall(pallet uint8, id uint32, beneficiary common.Address, amount *uint256.Int) (UnsignedTx, error) {
	if amount == nil || amount.IsZero() {
		return UnsignedTx{}, errors.New("mint amount must be positive")
	}
	return encodeCall(pallet, CallMint, mintArgs{ID: id, Beneficiary: beneficiary, Amount: amount.Bytes()})
}

// SignTx stamps genesis and nonce, then signs the RLP payload.
func SignTx(s *Signer, tx UnsignedTx, genesis common.Hash, nonce uint64) (*SignedTx, error) {
	tx.Genesis = genesis
	tx.Nonce = nonce
	payload, err := rlp.EncodeToBytes(&tx)
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return &SignedTx{Payload: payload, Signature: sig}, nil
}

// DecodeTx recovers the unsigned payload and its signer.
func DecodeTx(signed *SignedTx) (UnsignedTx, common.Address, error) {
	var tx UnsignedTx
	if err := rlp.DecodeBytes(signed.Payload, &tx); err != nil {
		return UnsignedTx{}, common.Address{}, fmt.Errorf("decode tx: %w", err)
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(signed.Payload), signed.Signature)
	if err != nil {
		return UnsignedTx{}, common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return tx, crypto.PubkeyToAddress(*pub), nil
}

// DecodeMintArgs inspects the arguments of a mint call.
func DecodeMintArgs(tx UnsignedTx) (id uint32, beneficiary common.Address, amount *uint256.Int, err error) {
	var a mintArgs
	if err = rlp.DecodeBytes(tx.Args, &a); err != nil {
		return 0, common.Address{}, nil, err
	}
	return a.ID, a.Beneficiary, new(uint256.Int).SetBytes(a.Amount), nil
}

// DecodeCreateArgs inspects the arguments of a create call.
func DecodeCreateArgs(tx UnsignedTx) (id uint32, admin common.Address, minBalance *uint256.Int, err error) {
	var a createArgs
	if err = rlp.DecodeBytes(tx.Args, &a); err != nil {
		return 0, common.Address{}, nil, err
	}
	return a.ID, a.Admin, new(uint256.Int).SetBytes(a.MinBalance), nil
}

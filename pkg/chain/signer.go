package chain

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the single signing identity of this deployment.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// LoadSigner parses a hex encoded secp256k1 key, with or without 0x prefix.
func LoadSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ConnectionError(nil, "signing key is not configured")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, ConnectionError(err, "signing key is malformed")
	}
	return NewSigner(key), nil
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns the 65-byte recoverable signature over keccak256(payload).
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("signer not initialised")
	}
	return crypto.Sign(crypto.Keccak256(payload), s.key)
}

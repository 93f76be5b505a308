// Package auth rebuilds the teacher SDK's own (unretrieved) pkg/auth
// package from its observed call sites in pkg/clob/order_builder.go
// (auth.Signer.Address, auth.SignatureType/SignatureEOA) to the extent
// this substrate needs it: a wallet identity for BudgetManager.NextNonce's
// authoritative external source and a message signer for gateway
// requests that require one. Keys are read from the environment per
// spec.md §6.6 — the core never reads secrets from disk.
package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureType mirrors the teacher SDK's auth.SignatureType enum,
// trimmed to the EOA case this substrate exercises; the swarm signs
// with a plain externally-owned account, not a proxy or Gnosis Safe
// wallet.
type SignatureType int

const (
	SignatureEOA SignatureType = 0
)

// Signer is the identity contract pkg/gateway and pkg/budget depend on,
// matching the teacher SDK's auth.Signer shape (Address() plus a raw
// digest signer) so call sites transplanted from pkg/clob/order_builder.go
// compile unchanged against it.
type Signer interface {
	Address() common.Address
	Sign(digest [32]byte) ([]byte, error)
}

// EOASigner signs with a single in-memory private key, derived once
// from an environment variable at process start.
type EOASigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewEOASigner parses hexKey (with or without a leading 0x) into an
// EOASigner. hexKey must come from an environment variable per
// spec.md §6.6.
func NewEOASigner(hexKey string) (*EOASigner, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("auth: parse wallet private key: %w", err)
	}
	return &EOASigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the wallet address derived from the signing key.
func (s *EOASigner) Address() common.Address { return s.address }

// Sign produces an ECDSA signature over digest in the 65-byte
// r||s||v form go-ethereum's crypto package uses.
func (s *EOASigner) Sign(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("auth: sign digest: %w", err)
	}
	return sig, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

package auth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// PendingNonce satisfies budget.NonceSource, fetching wallet's
// authoritative pending-transaction-count nonce from an Ethereum RPC
// endpoint. It is the "initialize from an authoritative external
// source" requirement spec.md §4.5 places on BudgetManager.NextNonce's
// first use of a wallet.
type PendingNonce struct {
	client *ethclient.Client
}

// NewPendingNonce dials rpcURL once and reuses the connection for every
// lookup.
func NewPendingNonce(rpcURL string) (*PendingNonce, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("auth: dial rpc endpoint: %w", err)
	}
	return &PendingNonce{client: client}, nil
}

// Fetch matches budget.NonceSource's signature: (ctx, wallet) -> nonce.
func (p *PendingNonce) Fetch(ctx context.Context, wallet string) (uint64, error) {
	nonce, err := p.client.PendingNonceAt(ctx, common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("auth: fetch pending nonce for %s: %w", wallet, err)
	}
	return nonce, nil
}

// Close releases the underlying RPC connection.
func (p *PendingNonce) Close() { p.client.Close() }

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCapitalLedgerBalanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	require.NoError(t, l.SetBalance(ctx, "arbitrage", decimal.NewFromFloat(4000)))
	bal, err := l.Balance(ctx, "arbitrage")
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.NewFromFloat(4000)))
}

func TestCapitalLedgerUnknownBalanceIsZero(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())
	bal, err := l.Balance(ctx, "nonexistent")
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestCapitalLedgerReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	r := Reservation{
		ID: "res-1", Strategy: "arbitrage", Amount: decimal.NewFromFloat(100),
		CreatedAt: time.Now(), Priority: PriorityNormal,
	}
	require.NoError(t, l.PutReservation(ctx, r))

	got, err := l.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, r.Strategy, got.Strategy)
	require.True(t, got.Amount.Equal(r.Amount))

	all, err := l.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, l.DeleteReservation(ctx, "res-1"))
	_, err = l.GetReservation(ctx, "res-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCapitalLedgerNonceRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	_, ok, err := l.Nonce(ctx, "0xabc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.SetNonce(ctx, "0xabc", 42))
	n, ok, err := l.Nonce(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), n)
}

func TestCapitalLedgerSnapshotIncludesReserve(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())
	require.NoError(t, l.SetBalance(ctx, "arbitrage", decimal.NewFromFloat(400)))
	require.NoError(t, l.SetBalance(ctx, ReserveStrategy, decimal.NewFromFloat(100)))

	snap, err := l.Snapshot(ctx, []string{"arbitrage"})
	require.NoError(t, err)
	require.True(t, snap.Balances["arbitrage"].Equal(decimal.NewFromFloat(400)))
	require.True(t, snap.Balances[ReserveStrategy].Equal(decimal.NewFromFloat(100)))
}

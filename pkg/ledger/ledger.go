package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Priority mirrors spec.md §4.5's reservation priority tiers.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Reservation is one outstanding capital hold, per spec.md §3. Borrowed
// records how much of Amount was drawn from sources other than the
// requesting strategy's own balance (key "reserve" for the shared
// buffer, or another strategy's name for a critical-priority
// cross-strategy draw), so release can credit unspent capital back
// proportionally to where it came from.
type Reservation struct {
	ID         string
	Strategy   string
	Amount     decimal.Decimal
	OwnPortion decimal.Decimal
	Borrowed   map[string]decimal.Decimal `json:"borrowed,omitempty"`
	CreatedAt  time.Time
	Priority   Priority
}

// Metric is the per-strategy trade counter spec.md §3 defines, folding
// in the original prototype's separate PnL tracker per SPEC_FULL §3.
type Metric struct {
	Trades      int64
	Wins        int64
	Losses      int64
	RealizedPnL decimal.Decimal
}

// Snapshot is the read-only view returned by CapitalLedger.Snapshot.
type Snapshot struct {
	Balances     map[string]decimal.Decimal
	Reservations map[string]Reservation
	Metrics      map[string]Metric
}

const (
	balanceKeyPrefix     = "balance:"
	reservationKeyPrefix = "reservation:"
	nonceKeyPrefix       = "nonce:"
	metricKeyPrefix      = "metric:"

	// ReserveStrategy is the pseudo-strategy name for the shared reserve
	// buffer that high/critical priority reservations may draw from.
	ReserveStrategy = "reserve"
)

// CapitalLedger is the typed view of balances, reservations, nonces, and
// metrics durably stored in a KVStore, per spec.md §3/§4.4. It does not
// itself enforce reservation policy; pkg/budget.Manager does that under
// the store's named locks.
type CapitalLedger struct {
	store KVStore
}

// New wraps store as a CapitalLedger.
func New(store KVStore) *CapitalLedger {
	return &CapitalLedger{store: store}
}

// Store returns the underlying KVStore, so callers (e.g. BudgetManager)
// can take out named locks alongside ledger reads/writes.
func (l *CapitalLedger) Store() KVStore { return l.store }

func balanceKey(strategy string) string { return balanceKeyPrefix + strategy }

// Balance returns the unreserved available capital for strategy, 0 if
// never initialized.
func (l *CapitalLedger) Balance(ctx context.Context, strategy string) (decimal.Decimal, error) {
	raw, err := l.store.Get(ctx, balanceKey(strategy))
	if err == ErrNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// SetBalance unconditionally sets strategy's balance, used at startup to
// load the allocation policy's fractions against total capital.
func (l *CapitalLedger) SetBalance(ctx context.Context, strategy string, amount decimal.Decimal) error {
	return l.store.Set(ctx, balanceKey(strategy), amount.String())
}

func reservationKey(id string) string { return reservationKeyPrefix + id }

// PutReservation stores a reservation record.
func (l *CapitalLedger) PutReservation(ctx context.Context, r Reservation) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, reservationKey(r.ID), string(raw))
}

// GetReservation returns a reservation by id, or ErrNotFound.
func (l *CapitalLedger) GetReservation(ctx context.Context, id string) (Reservation, error) {
	raw, err := l.store.Get(ctx, reservationKey(id))
	if err != nil {
		return Reservation{}, err
	}
	var r Reservation
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Reservation{}, fmt.Errorf("ledger: decode reservation %s: %w", id, err)
	}
	return r, nil
}

// DeleteReservation removes a reservation record.
func (l *CapitalLedger) DeleteReservation(ctx context.Context, id string) error {
	return l.store.Delete(ctx, reservationKey(id))
}

// ListReservations returns every outstanding reservation, used by the
// janitor and by Snapshot.
func (l *CapitalLedger) ListReservations(ctx context.Context) ([]Reservation, error) {
	keys, err := l.store.Keys(ctx, reservationKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Reservation, 0, len(keys))
	for _, k := range keys {
		raw, err := l.store.Get(ctx, k)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		var r Reservation
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("ledger: decode reservation %s: %w", k, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func nonceKey(wallet string) string { return nonceKeyPrefix + wallet }

// Nonce returns the last-issued nonce for wallet, and whether it has
// ever been initialized.
func (l *CapitalLedger) Nonce(ctx context.Context, wallet string) (uint64, bool, error) {
	raw, err := l.store.Get(ctx, nonceKey(wallet))
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("ledger: decode nonce for %s: %w", wallet, err)
	}
	return v, true, nil
}

// SetNonce unconditionally writes the nonce for wallet.
func (l *CapitalLedger) SetNonce(ctx context.Context, wallet string, value uint64) error {
	return l.store.Set(ctx, nonceKey(wallet), strconv.FormatUint(value, 10))
}

func metricKey(strategy string) string { return metricKeyPrefix + strategy }

// Metric returns strategy's trade metrics, zero-valued if never recorded.
func (l *CapitalLedger) Metric(ctx context.Context, strategy string) (Metric, error) {
	raw, err := l.store.Get(ctx, metricKey(strategy))
	if err == ErrNotFound {
		return Metric{RealizedPnL: decimal.Zero}, nil
	}
	if err != nil {
		return Metric{}, err
	}
	var m Metric
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metric{}, fmt.Errorf("ledger: decode metric for %s: %w", strategy, err)
	}
	return m, nil
}

// SetMetric writes strategy's trade metrics.
func (l *CapitalLedger) SetMetric(ctx context.Context, strategy string, m Metric) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, metricKey(strategy), string(raw))
}

// Snapshot returns a read-only view of the balances and metrics of the
// given strategies, the reserve buffer's balance, and every outstanding
// reservation. Strategies not listed are left out.
func (l *CapitalLedger) Snapshot(ctx context.Context, strategies []string) (Snapshot, error) {
	snap := Snapshot{
		Balances:     make(map[string]decimal.Decimal, len(strategies)),
		Reservations: make(map[string]Reservation),
		Metrics:      make(map[string]Metric, len(strategies)),
	}
	for _, s := range strategies {
		bal, err := l.Balance(ctx, s)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Balances[s] = bal

		m, err := l.Metric(ctx, s)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Metrics[s] = m
	}
	reserveBal, err := l.Balance(ctx, ReserveStrategy)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Balances[ReserveStrategy] = reserveBal

	reservations, err := l.ListReservations(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, r := range reservations {
		snap.Reservations[r.ID] = r
	}
	return snap, nil
}

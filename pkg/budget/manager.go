// Package budget implements BudgetManager: capital reservation and
// nonce issuance serialized under the ledger's named locks, grounded on
// original_source/src/core/budget_manager.py's reserve-then-fallback-to-
// reserve-buffer logic (spec.md §4.4/§4.5 adds explicit priority tiers
// and a durable KVStore in place of that prototype's in-memory dict).
package budget

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/metrics"
)

const (
	budgetLockName        = "budget:lock"
	budgetLockTTL         = 5 * time.Second
	defaultReservationTTL = 60 * time.Second
	lockPollBase          = 20 * time.Millisecond
	lockPollJitter        = 15 * time.Millisecond
)

// ErrStoreUnavailable wraps a failure of the underlying KVStore.
// RequestReservation fails closed on it: it logs DENY:BUDGET and returns
// an empty reservation id with a nil error, exactly like a denial.
// ReleaseReservation and NextNonce return it to the caller.
var ErrStoreUnavailable = errors.New("budget: capital ledger store unavailable")

// ErrLockLost is a CRITICAL-severity condition: a named lock's TTL
// expired while the holder still believed it owned it. spec.md §4.5
// requires this be logged as CRITICAL rather than silently retried.
var ErrLockLost = errors.New("budget: named lock lost after acquisition")

// NonceSource fetches the authoritative first-use nonce for a wallet
// from an external chain RPC, used only the first time a wallet is seen.
type NonceSource func(ctx context.Context, wallet string) (uint64, error)

// Config tunes reservation TTL and the critical-priority cross-strategy
// borrowing cap.
type Config struct {
	ReservationTTL             time.Duration
	CriticalCrossStrategyCapUSD decimal.Decimal
	Strategies                 []string
}

func (c Config) normalize() Config {
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = defaultReservationTTL
	}
	return c
}

// Manager is the BudgetManager of spec.md §4.5: it issues capital
// reservations and blockchain nonces under the ledger's distributed
// locks, fails closed on store loss, and reclaims stale reservations via
// a janitor.
type Manager struct {
	ledger      *ledger.CapitalLedger
	cfg         Config
	nonceSource NonceSource

	reclaimedCount atomic.Int64
	lockLostCount  atomic.Int64
	idSeq          atomic.Uint64
	blocked        atomic.Bool
}

// SetBlocked is called by RiskController when the circuit breaker trips:
// spec.md §4.6 requires BudgetManager refuse all new reservations while
// tripped, independent of the store's own health.
func (m *Manager) SetBlocked(blocked bool) { m.blocked.Store(blocked) }

// Blocked reports whether new reservations are currently refused.
func (m *Manager) Blocked() bool { return m.blocked.Load() }

// New returns a Manager over cl, using nonceSource for a wallet's
// first-ever nonce lookup.
func New(cl *ledger.CapitalLedger, cfg Config, nonceSource NonceSource) *Manager {
	return &Manager{ledger: cl, cfg: cfg.normalize(), nonceSource: nonceSource}
}

func (m *Manager) nextReservationID(strategy string) string {
	return fmt.Sprintf("%s:%d", strategy, m.idSeq.Add(1))
}

// acquireLock blocks, polling name every ~20ms, until it is acquired or
// ctx is done. Lock returning ok=false is ordinary contention between
// two concurrent owners, the routine case this coordination substrate
// exists to serialize per its own PURPOSE ("independent strategies run
// concurrently against a shared capital pool"), not a store failure, so
// it is not treated as one; original_source/src/core/budget_manager.py:78's
// `async with self._lock:` blocks the same way rather than failing
// instantly on contention. ErrStoreUnavailable is reserved for a genuine
// err returned by Lock itself.
func (m *Manager) acquireLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	for {
		unlock, ok, err := m.ledger.Store().Lock(ctx, name, ttl)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if ok {
			return unlock, nil
		}
		wait := lockPollBase + time.Duration(rand.Float64()*float64(lockPollJitter))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Manager) withBudgetLock(ctx context.Context, fn func(ctx context.Context) error) error {
	unlock, err := m.acquireLock(ctx, budgetLockName, budgetLockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			m.lockLostCount.Add(1)
			logger.Critical("budget: failed to release budget:lock: %v", err)
		}
	}()
	return fn(ctx)
}

// RequestReservation implements spec.md §4.5's allocation algorithm:
// take the amount from the strategy's own balance if sufficient; else,
// for high/critical priority, draw the shortfall from the shared reserve
// buffer; else, for critical priority only, draw any remainder from
// other strategies' balances up to Config.CriticalCrossStrategyCapUSD.
// Returns "", nil on denial — callers MUST treat that as "do not trade."
func (m *Manager) RequestReservation(ctx context.Context, strategy string, amount decimal.Decimal, priority ledger.Priority) (string, error) {
	if m.blocked.Load() {
		logger.Tag("DENY:BUDGET", "budget: denied %s reservation for %s: circuit breaker has blocked new reservations", priority, strategy)
		metrics.ReservationsTotal.WithLabelValues(strategy, "denied").Inc()
		return "", nil
	}

	var reservationID string
	err := m.withBudgetLock(ctx, func(ctx context.Context) error {
		id, err := m.allocateLocked(ctx, strategy, amount, priority)
		if err != nil {
			return err
		}
		reservationID = id
		return nil
	})
	if errors.Is(err, ErrStoreUnavailable) {
		logger.Tag("DENY:BUDGET", "budget: request_reservation failed closed: %v", err)
		metrics.ReservationsTotal.WithLabelValues(strategy, "denied").Inc()
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if reservationID == "" {
		metrics.ReservationsTotal.WithLabelValues(strategy, "denied").Inc()
	} else {
		metrics.ReservationsTotal.WithLabelValues(strategy, "approved").Inc()
	}
	return reservationID, nil
}

func (m *Manager) allocateLocked(ctx context.Context, strategy string, amount decimal.Decimal, priority ledger.Priority) (string, error) {
	balance, err := m.ledger.Balance(ctx, strategy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if amount.LessThanOrEqual(balance) {
		if err := m.ledger.SetBalance(ctx, strategy, balance.Sub(amount)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return m.commitReservation(ctx, strategy, amount, amount, nil, priority)
	}

	if priority != ledger.PriorityHigh && priority != ledger.PriorityCritical {
		logger.Tag("DENY:BUDGET", "budget: denied %s reservation for %s: requested %s, available %s", priority, strategy, amount, balance)
		return "", nil
	}

	shortfall := amount.Sub(balance)
	reserveBal, err := m.ledger.Balance(ctx, ledger.ReserveStrategy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if shortfall.LessThanOrEqual(reserveBal) {
		if err := m.ledger.SetBalance(ctx, strategy, decimal.Zero); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := m.ledger.SetBalance(ctx, ledger.ReserveStrategy, reserveBal.Sub(shortfall)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		logger.Warn("budget: reserve buffer used for %s: %s", strategy, shortfall)
		return m.commitReservation(ctx, strategy, amount, balance, map[string]decimal.Decimal{ledger.ReserveStrategy: shortfall}, priority)
	}

	if priority != ledger.PriorityCritical {
		logger.Tag("DENY:BUDGET", "budget: denied %s reservation for %s: shortfall %s exceeds reserve %s", priority, strategy, shortfall, reserveBal)
		return "", nil
	}

	// Critical priority may additionally draw from other strategies' own
	// balances, up to the configured cross-strategy cap.
	remaining := shortfall.Sub(reserveBal)
	if remaining.GreaterThan(m.cfg.CriticalCrossStrategyCapUSD) {
		logger.Tag("DENY:BUDGET", "budget: denied critical reservation for %s: remaining shortfall %s exceeds cross-strategy cap %s", strategy, remaining, m.cfg.CriticalCrossStrategyCapUSD)
		return "", nil
	}

	borrowed := map[string]decimal.Decimal{ledger.ReserveStrategy: reserveBal}
	if err := m.ledger.SetBalance(ctx, ledger.ReserveStrategy, decimal.Zero); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, other := range m.cfg.Strategies {
		if other == strategy || remaining.IsZero() {
			continue
		}
		otherBal, err := m.ledger.Balance(ctx, other)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		take := decimal.Min(otherBal, remaining)
		if take.IsZero() {
			continue
		}
		if err := m.ledger.SetBalance(ctx, other, otherBal.Sub(take)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		borrowed[other] = take
		remaining = remaining.Sub(take)
	}
	if !remaining.IsZero() {
		return "", fmt.Errorf("budget: insufficient cross-strategy capital to cover critical reservation for %s", strategy)
	}

	if err := m.ledger.SetBalance(ctx, strategy, decimal.Zero); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	logger.Warn("budget: cross-strategy draw for critical reservation on %s: %v", strategy, borrowed)
	return m.commitReservation(ctx, strategy, amount, balance, borrowed, priority)
}

func (m *Manager) commitReservation(ctx context.Context, strategy string, amount, ownPortion decimal.Decimal, borrowed map[string]decimal.Decimal, priority ledger.Priority) (string, error) {
	id := m.nextReservationID(strategy)
	r := ledger.Reservation{
		ID: id, Strategy: strategy, Amount: amount, OwnPortion: ownPortion,
		Borrowed: borrowed, CreatedAt: time.Now(), Priority: priority,
	}
	if err := m.ledger.PutReservation(ctx, r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

// ReleaseReservation credits actuallySpent's unspent remainder back to
// the balances it was drawn from, in proportion to Borrowed, and returns
// the reservation to the pool. actuallySpent must be <= the reservation
// amount.
func (m *Manager) ReleaseReservation(ctx context.Context, strategy, reservationID string, actuallySpent decimal.Decimal) error {
	return m.withBudgetLock(ctx, func(ctx context.Context) error {
		r, err := m.ledger.GetReservation(ctx, reservationID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		unspent := r.Amount.Sub(actuallySpent)
		if unspent.IsNegative() {
			unspent = decimal.Zero
		}

		if err := m.refund(ctx, strategy, r, unspent); err != nil {
			return err
		}
		return m.ledger.DeleteReservation(ctx, reservationID)
	})
}

func (m *Manager) refund(ctx context.Context, strategy string, r ledger.Reservation, unspent decimal.Decimal) error {
	if unspent.IsZero() {
		return nil
	}
	if len(r.Borrowed) == 0 {
		bal, err := m.ledger.Balance(ctx, strategy)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return m.ledger.SetBalance(ctx, strategy, bal.Add(unspent))
	}

	remaining := unspent
	ownShare := unspent.Mul(r.OwnPortion).Div(r.Amount)
	if !ownShare.IsZero() {
		bal, err := m.ledger.Balance(ctx, strategy)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := m.ledger.SetBalance(ctx, strategy, bal.Add(ownShare)); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		remaining = remaining.Sub(ownShare)
	}
	for source, amount := range r.Borrowed {
		share := unspent.Mul(amount).Div(r.Amount)
		if share.IsZero() {
			continue
		}
		bal, err := m.ledger.Balance(ctx, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := m.ledger.SetBalance(ctx, source, bal.Add(share)); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		remaining = remaining.Sub(share)
	}
	if !remaining.IsZero() {
		bal, err := m.ledger.Balance(ctx, strategy)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return m.ledger.SetBalance(ctx, strategy, bal.Add(remaining))
	}
	return nil
}

// NextNonce returns the next monotonic nonce for wallet under a
// per-wallet named lock, initializing from the authoritative external
// source on first use.
func (m *Manager) NextNonce(ctx context.Context, wallet string) (uint64, error) {
	lockName := fmt.Sprintf("nonce:%s:lock", wallet)
	unlock, err := m.acquireLock(ctx, lockName, budgetLockTTL)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			m.lockLostCount.Add(1)
			logger.Critical("budget: failed to release %s: %v", lockName, err)
		}
	}()

	current, initialized, err := m.ledger.Nonce(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !initialized {
		if m.nonceSource == nil {
			return 0, fmt.Errorf("budget: no nonce source configured for first use of wallet %s", wallet)
		}
		current, err = m.nonceSource(ctx, wallet)
		if err != nil {
			return 0, fmt.Errorf("budget: fetch authoritative nonce for %s: %w", wallet, err)
		}
	} else {
		current++
	}
	if err := m.ledger.SetNonce(ctx, wallet, current); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return current, nil
}

// Snapshot returns a read-only view of every configured strategy's
// balance, the reserve buffer, and outstanding reservations.
func (m *Manager) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	return m.ledger.Snapshot(ctx, m.cfg.Strategies)
}

// RunJanitor reclaims any reservation older than the configured TTL,
// crediting its full amount back to the balances it was drawn from, and
// blocks until ctx is canceled. Callers should run it in its own
// goroutine.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.reclaimStale(ctx); err != nil {
				logger.Error("budget: janitor pass failed: %v", err)
			}
		}
	}
}

func (m *Manager) reclaimStale(ctx context.Context) error {
	return m.withBudgetLock(ctx, func(ctx context.Context) error {
		reservations, err := m.ledger.ListReservations(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		now := time.Now()
		for _, r := range reservations {
			if now.Sub(r.CreatedAt) <= m.cfg.ReservationTTL {
				continue
			}
			if err := m.refund(ctx, r.Strategy, r, r.Amount); err != nil {
				return err
			}
			if err := m.ledger.DeleteReservation(ctx, r.ID); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			m.reclaimedCount.Add(1)
			logger.Warn("budget: janitor reclaimed stale reservation %s (%s, age %s)", r.ID, r.Strategy, now.Sub(r.CreatedAt))
		}
		return nil
	})
}

// ReclaimedCount reports how many stale reservations the janitor has
// reclaimed since startup.
func (m *Manager) ReclaimedCount() int64 { return m.reclaimedCount.Load() }

// LockLostCount reports how many times a named lock's release failed
// after use, a CRITICAL-severity condition per spec.md §4.5.
func (m *Manager) LockLostCount() int64 { return m.lockLostCount.Load() }

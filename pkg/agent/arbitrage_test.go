package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/orderbook"
	"github.com/arbswarm/swarm-core/pkg/risk"
	"github.com/arbswarm/swarm-core/pkg/signal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeGateway struct {
	mu       sync.Mutex
	submits  []OrderRequest
	submitFn func(n int, req OrderRequest) (OrderResult, error)
	n        int
}

func (g *fakeGateway) Submit(ctx context.Context, req OrderRequest) (OrderResult, error) {
	g.mu.Lock()
	g.submits = append(g.submits, req)
	g.n++
	n := g.n
	g.mu.Unlock()
	return g.submitFn(n, req)
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error { return nil }

type fakeBudget struct {
	mu          sync.Mutex
	reservation string
	deny        bool
	released    []releasedReservation
}

type releasedReservation struct {
	Strategy string
	ID       string
	Spent    decimal.Decimal
}

func (b *fakeBudget) RequestReservation(ctx context.Context, strategy string, amount decimal.Decimal, priority ledger.Priority) (string, error) {
	if b.deny {
		return "", nil
	}
	return b.reservation, nil
}

func (b *fakeBudget) ReleaseReservation(ctx context.Context, strategy, reservationID string, actualSpent decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, releasedReservation{Strategy: strategy, ID: reservationID, Spent: actualSpent})
	return nil
}

type fakeRisk struct {
	decision risk.Decision
}

func (r *fakeRisk) Evaluate(req risk.EntryRequest) risk.Decision { return r.decision }
func (r *fakeRisk) RegisterEntity(tokenID, entity string) {}

func newBooks(t *testing.T, yesPrice, yesSize, noPrice, noSize float64) *orderbook.Registry {
	t.Helper()
	reg := orderbook.NewRegistry()
	reg.GetOrCreate("yes1").ApplySnapshot(nil, []orderbook.Level{{Price: d(yesPrice), Size: d(yesSize)}})
	reg.GetOrCreate("no1").ApplySnapshot(nil, []orderbook.Level{{Price: d(noPrice), Size: d(noSize)}})
	return reg
}

func testMarket() WatchedMarket {
	return WatchedMarket{MarketID: "m1", Entity: "mkt1", YesToken: "yes1", NoToken: "no1"}
}

func TestDetectFindsViableOpportunity(t *testing.T) {
	// 0.40 + 0.55 = 0.95, well under 1 minus fees/gas/min-profit.
	books := newBooks(t, 0.40, 50, 0.55, 50)
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()
	cfg := DefaultConfig("arb-1")
	cfg.Markets = []WatchedMarket{testMarket()}

	a := New(cfg, bus, books, &fakeBudget{}, &fakeRisk{decision: risk.Decision{Approve: true}}, &fakeGateway{}, DefaultFeeModel(), NewClaimRegistry())
	o := a.detect(testMarket())
	require.NotNil(t, o)
	require.True(t, o.ExpectedProfitUSD.IsPositive())
}

func TestDetectRejectsTightMarketBelowMinProfit(t *testing.T) {
	// 0.499 + 0.500 = 0.999, edge of 0.001 doesn't clear min_profit_per_unit 0.01.
	books := newBooks(t, 0.499, 50, 0.500, 50)
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()
	cfg := DefaultConfig("arb-1")
	cfg.Markets = []WatchedMarket{testMarket()}

	a := New(cfg, bus, books, &fakeBudget{}, &fakeRisk{decision: risk.Decision{Approve: true}}, &fakeGateway{}, DefaultFeeModel(), NewClaimRegistry())
	o := a.detect(testMarket())
	require.Nil(t, o)
}

func TestExecuteHappyPathSettles(t *testing.T) {
	books := newBooks(t, 0.40, 50, 0.55, 50)
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()

	var updates []signal.PositionUpdatePayload
	bus.Subscribe(signal.KindPositionUpdate, "test", func(s signal.Signal) {
		if p, ok := s.Payload.(signal.PositionUpdatePayload); ok {
			updates = append(updates, p)
		}
	})

	gw := &fakeGateway{submitFn: func(n int, req OrderRequest) (OrderResult, error) {
		return OrderResult{OrderID: "o", Status: OrderStatusFilled, FilledSize: req.Size, AvgPrice: req.LimitPrice}, nil
	}}
	budget := &fakeBudget{reservation: "res-1"}
	cfg := DefaultConfig("arb-1")
	cfg.Markets = []WatchedMarket{testMarket()}

	a := New(cfg, bus, books, budget, &fakeRisk{decision: risk.Decision{Approve: true}}, gw, DefaultFeeModel(), NewClaimRegistry())
	require.NoError(t, a.Start(context.Background()))
	o := a.detect(testMarket())
	require.NotNil(t, o)

	a.execute(context.Background(), o)

	require.Len(t, budget.released, 1)
	require.Equal(t, "res-1", budget.released[0].ID)
	require.True(t, budget.released[0].Spent.IsPositive())
	require.Len(t, updates, 2)
	_, stillOpen := a.opps.Get(o.ID)
	require.False(t, stillOpen, "settled opportunity must be removed from the working set")
}

func TestExecuteDeniedByClaimExclusivity(t *testing.T) {
	books := newBooks(t, 0.40, 50, 0.55, 50)
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()

	claims := NewClaimRegistry()
	claims.TryClaim("m1", "other-agent", time.Minute)

	gw := &fakeGateway{submitFn: func(n int, req OrderRequest) (OrderResult, error) {
		t.Fatal("gateway should not be called when claim is denied")
		return OrderResult{}, nil
	}}
	budget := &fakeBudget{reservation: "res-1"}
	cfg := DefaultConfig("arb-1")
	cfg.Markets = []WatchedMarket{testMarket()}

	a := New(cfg, bus, books, budget, &fakeRisk{decision: risk.Decision{Approve: true}}, gw, DefaultFeeModel(), claims)
	o := a.detect(testMarket())
	require.NotNil(t, o)

	a.execute(context.Background(), o)
	require.Empty(t, budget.released)
}

func TestExecuteDeniedByRiskPublishesZeroSizeUpdate(t *testing.T) {
	books := newBooks(t, 0.40, 50, 0.55, 50)
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()

	var updates []signal.PositionUpdatePayload
	bus.Subscribe(signal.KindPositionUpdate, "test", func(s signal.Signal) {
		if p, ok := s.Payload.(signal.PositionUpdatePayload); ok {
			updates = append(updates, p)
		}
	})

	gw := &fakeGateway{submitFn: func(n int, req OrderRequest) (OrderResult, error) {
		t.Fatal("gateway should not be called when risk denies entry")
		return OrderResult{}, nil
	}}
	cfg := DefaultConfig("arb-1")
	cfg.Markets = []WatchedMarket{testMarket()}

	a := New(cfg, bus, books, &fakeBudget{reservation: "res-1"}, &fakeRisk{decision: risk.Decision{Approve: false, DenyReason: "max_total_exposure_usd"}}, gw, DefaultFeeModel(), NewClaimRegistry())
	o := a.detect(testMarket())
	require.NotNil(t, o)

	a.execute(context.Background(), o)
	require.Len(t, updates, 1)
	require.True(t, updates[0].Size.IsZero())
	require.Equal(t, "max_total_exposure_usd", updates[0].DenialReason)
}

func TestExecuteLegBRejectHedgesLegAAndPublishesRiskAlert(t *testing.T) {
	books := newBooks(t, 0.40, 50, 0.55, 50)
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()

	alerts := make(chan signal.RiskAlertPayload, 1)
	bus.Subscribe(signal.KindRiskAlert, "test", func(s signal.Signal) {
		if p, ok := s.Payload.(signal.RiskAlertPayload); ok {
			alerts <- p
		}
	})

	gw := &fakeGateway{submitFn: func(n int, req OrderRequest) (OrderResult, error) {
		switch {
		case n == 1: // BUY yes1 leg A
			return OrderResult{OrderID: "a", Status: OrderStatusFilled, FilledSize: req.Size, AvgPrice: req.LimitPrice}, nil
		case n == 2: // BUY no1 leg B, rejected persistently
			return OrderResult{OrderID: "b", Status: OrderStatusRejected, RejectReason: RejectReasonPersistent}, nil
		default: // hedge sell of leg A at market
			return OrderResult{OrderID: "c", Status: OrderStatusFilled, FilledSize: req.Size, AvgPrice: req.LimitPrice}, nil
		}
	}}
	budget := &fakeBudget{reservation: "res-1"}
	cfg := DefaultConfig("arb-1")
	cfg.Markets = []WatchedMarket{testMarket()}

	a := New(cfg, bus, books, budget, &fakeRisk{decision: risk.Decision{Approve: true}}, gw, DefaultFeeModel(), NewClaimRegistry())
	o := a.detect(testMarket())
	require.NotNil(t, o)

	a.execute(context.Background(), o)

	require.Len(t, budget.released, 1)
	select {
	case p := <-alerts:
		require.Equal(t, signal.RiskSeverityHigh, p.Severity)
		require.Equal(t, signal.RiskScopeAgent, p.Scope)
	case <-time.After(time.Second):
		t.Fatal("expected a RISK_ALERT after leg B rejection")
	}
}

func TestFeeModelComputesTakerAndMakerRates(t *testing.T) {
	fm := DefaultFeeModel()
	fee, gas := fm.Compute(d(100), true)
	require.True(t, fee.Equal(d(0.2)))
	require.True(t, gas.Equal(fm.GasEstimateUSD))

	makerFee, _ := fm.Compute(d(100), false)
	require.True(t, makerFee.IsZero())
}

func TestClaimRegistryExclusivityAndExpiry(t *testing.T) {
	c := NewClaimRegistry()
	require.True(t, c.TryClaim("m1", "a1", 20*time.Millisecond))
	require.False(t, c.TryClaim("m1", "a2", time.Minute))

	time.Sleep(30 * time.Millisecond)
	require.True(t, c.TryClaim("m1", "a2", time.Minute))

	c.Release("m1", "a2")
	_, held := c.ClaimedBy("m1")
	require.False(t, held)
}

func TestOpportunityStoreRejectsTransitionAfterTerminal(t *testing.T) {
	s := NewOpportunityStore()
	o := &Opportunity{ID: "o1", MarketID: "m1"}
	require.NoError(t, s.Open(o))
	_, err := s.Transition("o1", OppStateSettled)
	require.NoError(t, err)
	_, err = s.Transition("o1", OppStateReserve)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

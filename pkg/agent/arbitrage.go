package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/orderbook"
	"github.com/arbswarm/swarm-core/pkg/risk"
	"github.com/arbswarm/swarm-core/pkg/signal"
)

// WatchedMarket is one binary market ArbitrageAgent scans for a pure
// arbitrage between its YES and NO tokens, per spec.md §4.7.
type WatchedMarket struct {
	MarketID string
	Entity   string
	YesToken string
	NoToken  string
}

// Config configures one ArbitrageAgent instance.
type Config struct {
	StrategyName     string
	Markets          []WatchedMarket
	MinProfitPerUnit decimal.Decimal
	MaxSlippage      decimal.Decimal // fraction, e.g. 0.02 for 2%
	SizeCapUSD       decimal.Decimal
	BaseScanInterval time.Duration
	FastScanInterval time.Duration
	ReserveTimeout   time.Duration // spec.md §4.7: unstarted legs released after 10s
	LegCloseTimeout  time.Duration // spec.md §4.7: residual leg A closed within 5s
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	HeartbeatEvery   time.Duration
}

// DefaultConfig fills in spec.md §4.7's recommended defaults.
func DefaultConfig(strategyName string) Config {
	return Config{
		StrategyName:     strategyName,
		MinProfitPerUnit: decimal.NewFromFloat(0.01),
		MaxSlippage:      decimal.NewFromFloat(0.02),
		SizeCapUSD:       decimal.NewFromFloat(100),
		BaseScanInterval: 5 * time.Second,
		FastScanInterval: time.Second,
		ReserveTimeout:   10 * time.Second,
		LegCloseTimeout:  5 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryMaxDelay:    2 * time.Second,
		HeartbeatEvery:   10 * time.Second,
	}
}

// ArbitrageAgent is spec.md §4.7's exemplar strategy: it detects and
// executes pure arbitrages where a binary market's YES and NO best
// asks sum to less than one unit net of fees and gas.
type ArbitrageAgent struct {
	cfg      Config
	bus      *signal.Bus
	books    *orderbook.Registry
	budget   ReservationRequester
	risk     RiskEvaluator
	gateway  OrderGateway
	fees     FeeModel
	claims   *ClaimRegistry
	opps     *OpportunityStore
	idSeq    uint64
	stopping chan struct{}
}

// New constructs an ArbitrageAgent. claims must be shared across every
// ArbitrageAgent instance in the process for CLAIM exclusivity to hold.
func New(cfg Config, bus *signal.Bus, books *orderbook.Registry, budget ReservationRequester, risk RiskEvaluator, gateway OrderGateway, fees FeeModel, claims *ClaimRegistry) *ArbitrageAgent {
	return &ArbitrageAgent{
		cfg:      cfg,
		bus:      bus,
		books:    books,
		budget:   budget,
		risk:     risk,
		gateway:  gateway,
		fees:     fees,
		claims:   claims,
		opps:     NewOpportunityStore(),
		stopping: make(chan struct{}),
	}
}

// Name returns the agent's strategy name.
func (a *ArbitrageAgent) Name() string { return a.cfg.StrategyName }

// HeartbeatInterval implements Agent.
func (a *ArbitrageAgent) HeartbeatInterval() time.Duration { return a.cfg.HeartbeatEvery }

// Start registers RiskController entity mappings and bus subscriptions.
// Run does the scanning; Start only wires state that must exist before
// the first Run tick.
func (a *ArbitrageAgent) Start(ctx context.Context) error {
	for _, m := range a.cfg.Markets {
		a.risk.RegisterEntity(m.YesToken, m.Entity)
		a.risk.RegisterEntity(m.NoToken, m.Entity)
	}
	return nil
}

// Stop signals Run to exit; Run itself honors ctx for the actual
// in-flight-opportunity draining per spec.md §5's cancellation
// semantics.
func (a *ArbitrageAgent) Stop(ctx context.Context) error {
	close(a.stopping)
	return nil
}

// Run scans every watched market on a timer, executing any viable
// opportunity found, until ctx is canceled.
func (a *ArbitrageAgent) Run(ctx context.Context, hb chan<- time.Time) error {
	interval := a.cfg.BaseScanInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hbTicker := time.NewTicker(a.cfg.HeartbeatEvery)
	defer hbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stopping:
			return nil
		case <-hbTicker.C:
			select {
			case hb <- time.Now():
			default:
			}
		case <-ticker.C:
			a.scan(ctx)
			next := a.cfg.BaseScanInterval
			for _, m := range a.cfg.Markets {
				if a.bus.ShouldIncreaseScanFrequency(m.Entity, time.Now()) {
					next = a.cfg.FastScanInterval
					break
				}
			}
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// scan evaluates every watched market and executes the single most
// profitable viable opportunity found this tick, per spec.md §4.7's
// tie-break policy.
func (a *ArbitrageAgent) scan(ctx context.Context) {
	var best *Opportunity
	for _, m := range a.cfg.Markets {
		o := a.detect(m)
		if o == nil {
			continue
		}
		if best == nil || better(o, best) {
			best = o
		}
	}
	if best == nil {
		return
	}
	a.execute(ctx, best)
}

// better implements spec.md §4.7's tie-break: higher absolute expected
// profit; ties broken by tighter market (lower a+b), then by
// lexicographic market id.
func better(x, y *Opportunity) bool {
	if !x.ExpectedProfitUSD.Equal(y.ExpectedProfitUSD) {
		return x.ExpectedProfitUSD.GreaterThan(y.ExpectedProfitUSD)
	}
	xSum := x.YesPrice.Add(x.NoPrice)
	ySum := y.YesPrice.Add(y.NoPrice)
	if !xSum.Equal(ySum) {
		return xSum.LessThan(ySum)
	}
	return x.MarketID < y.MarketID
}

// detect evaluates spec.md §4.7's opportunity condition for m and
// returns a candidate Opportunity, or nil if not viable.
func (a *ArbitrageAgent) detect(m WatchedMarket) *Opportunity {
	yesBook, ok := a.books.Get(m.YesToken)
	if !ok {
		return nil
	}
	noBook, ok := a.books.Get(m.NoToken)
	if !ok {
		return nil
	}
	yesAsk, ok := yesBook.BestAsk()
	if !ok {
		return nil
	}
	noAsk, ok := noBook.BestAsk()
	if !ok {
		return nil
	}

	q := decimal.Min(yesAsk.Size, noAsk.Size, a.cfg.SizeCapUSD)
	if q.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	sum := yesAsk.Price.Add(noAsk.Price)
	fee, gas := a.fees.Compute(q, true)
	// per-unit edge must exceed min_profit_per_unit + (fees+gas)/q
	edge := decimal.NewFromInt(1).Sub(sum)
	requiredEdge := a.cfg.MinProfitPerUnit.Add(fee.Add(gas).Div(q))
	if edge.LessThanOrEqual(requiredEdge) {
		return nil
	}

	expectedProfit := edge.Sub(requiredEdge).Mul(q)
	a.idSeq++
	return &Opportunity{
		ID:                fmt.Sprintf("%s-%s-%d", a.cfg.StrategyName, m.MarketID, a.idSeq),
		MarketID:          m.MarketID,
		Entity:            m.Entity,
		YesToken:          m.YesToken,
		NoToken:           m.NoToken,
		Size:              q,
		YesPrice:          yesAsk.Price,
		NoPrice:           noAsk.Price,
		ExpectedProfitUSD: expectedProfit,
		CreatedAt:         time.Now(),
	}
}

// execute drives o through the CLAIM→RESERVE→PLACE_A→PLACE_B→
// SETTLED/ABORT lifecycle.
func (a *ArbitrageAgent) execute(ctx context.Context, o *Opportunity) {
	if !a.claims.TryClaim(o.MarketID, a.cfg.StrategyName, a.cfg.ReserveTimeout+a.cfg.LegCloseTimeout) {
		return // on claim denied -> IDLE
	}
	if err := a.opps.Open(o); err != nil {
		a.claims.Release(o.MarketID, a.cfg.StrategyName)
		logger.Warn("agent %s: %v", a.cfg.StrategyName, err)
		return
	}
	_ = a.bus.Publish(signal.Signal{
		Kind:      signal.KindMarketOpportunity,
		Priority:  signal.PriorityMedium,
		Source:    a.cfg.StrategyName,
		CreatedAt: time.Now(),
		Payload: signal.MarketOpportunityPayload{
			OpportunityID:     o.ID,
			OppKind:           signal.OpportunityPureArb,
			MarketIDs:         []string{o.MarketID},
			TokenIDs:          []string{o.YesToken, o.NoToken},
			ExpectedProfitUSD: o.ExpectedProfitUSD,
			Confidence:        decimal.NewFromFloat(1),
			ClaimedBy:         a.cfg.StrategyName,
		},
	})

	defer func() {
		a.opps.Close(o.ID)
		a.claims.Release(o.MarketID, a.cfg.StrategyName)
	}()

	decision := a.risk.Evaluate(risk.EntryRequest{
		Agent:       a.cfg.StrategyName,
		Entity:      o.Entity,
		TokenID:     o.YesToken,
		SizeUSD:     o.Size.Mul(o.YesPrice.Add(o.NoPrice)),
		SignalGated: false,
	})
	if !decision.Approve {
		a.publishDenial(o, decision.DenyReason)
		return
	}

	if _, err := a.opps.Transition(o.ID, OppStateReserve); err != nil {
		logger.Warn("agent %s: %v", a.cfg.StrategyName, err)
		return
	}
	cost := o.Size.Mul(o.YesPrice.Add(o.NoPrice))
	reservationID, err := a.budget.RequestReservation(ctx, a.cfg.StrategyName, cost, ledger.PriorityNormal)
	if err != nil {
		logger.Error("agent %s: reservation request failed: %v", a.cfg.StrategyName, err)
		return
	}
	if reservationID == "" {
		logger.Info("agent %s: capital denial for opportunity %s, skipping", a.cfg.StrategyName, o.ID)
		return
	}
	o.ReservationID = reservationID

	if _, err := a.opps.Transition(o.ID, OppStatePlaceA); err != nil {
		a.abort(ctx, o, decimal.Zero)
		return
	}
	resultA, err := a.submitWithRetry(ctx, OrderRequest{
		TokenID:        o.YesToken,
		Side:           signal.SideBuy,
		LimitPrice:     slippagePrice(o.YesPrice, a.cfg.MaxSlippage),
		Size:           o.Size,
		TimeInForce:    TimeInForceIOC,
		MaxSlippageBps: a.cfg.MaxSlippage.Mul(decimal.NewFromInt(10000)),
	})
	if err != nil || resultA.Status == OrderStatusRejected {
		a.abort(ctx, o, decimal.Zero)
		return
	}
	o.OrderAID = resultA.OrderID
	o.FilledA = resultA.FilledSize

	if _, err := a.opps.Transition(o.ID, OppStatePlaceB); err != nil {
		a.abort(ctx, o, resultA.FilledSize.Mul(resultA.AvgPrice))
		return
	}
	if o.FilledA.IsZero() {
		a.cancelLeg(ctx, o.OrderAID)
		a.abort(ctx, o, decimal.Zero)
		return
	}

	resultB, err := a.submitWithRetry(ctx, OrderRequest{
		TokenID:        o.NoToken,
		Side:           signal.SideBuy,
		LimitPrice:     slippagePrice(o.NoPrice, a.cfg.MaxSlippage),
		Size:           o.FilledA,
		TimeInForce:    TimeInForceIOC,
		MaxSlippageBps: a.cfg.MaxSlippage.Mul(decimal.NewFromInt(10000)),
	})
	if err != nil || resultB.Status == OrderStatusRejected {
		a.marketCloseAAndAbort(ctx, o, resultA)
		return
	}
	o.OrderBID = resultB.OrderID
	o.FilledB = resultB.FilledSize

	feeA, gasA := a.fees.Compute(resultA.FilledSize, true)
	feeB, gasB := a.fees.Compute(resultB.FilledSize, true)
	o.SpentUSD = resultA.FilledSize.Mul(resultA.AvgPrice).
		Add(resultB.FilledSize.Mul(resultB.AvgPrice)).
		Add(feeA).Add(feeB).Add(gasA).Add(gasB)

	a.opps.Transition(o.ID, OppStateSettled)
	if err := a.budget.ReleaseReservation(ctx, a.cfg.StrategyName, o.ReservationID, o.SpentUSD); err != nil {
		logger.Error("agent %s: release reservation failed: %v", a.cfg.StrategyName, err)
	}
	profit := o.Size.Sub(o.SpentUSD)
	a.publishFill(o, o.YesToken, resultA.FilledSize, resultA.AvgPrice, profit.Div(decimal.NewFromInt(2)))
	a.publishFill(o, o.NoToken, resultB.FilledSize, resultB.AvgPrice, profit.Sub(profit.Div(decimal.NewFromInt(2))))
}

// marketCloseAAndAbort implements spec.md §4.7's leg-risk path: leg B
// rejected after leg A filled, so leg A's residual is hedged at market
// within the bounded LegCloseTimeout before releasing the claim.
func (a *ArbitrageAgent) marketCloseAAndAbort(ctx context.Context, o *Opportunity, resultA OrderResult) {
	a.opps.Transition(o.ID, OppStateMarketCloseA)
	closeCtx, cancel := context.WithTimeout(ctx, a.cfg.LegCloseTimeout)
	defer cancel()

	hedge, err := a.gateway.Submit(closeCtx, OrderRequest{
		TokenID:     o.YesToken,
		Side:        signal.SideSell,
		LimitPrice:  o.YesPrice.Mul(decimal.NewFromFloat(1 - 0.05)),
		Size:        resultA.FilledSize,
		TimeInForce: TimeInForceIOC,
	})
	spent := resultA.FilledSize.Mul(resultA.AvgPrice)
	realized := decimal.Zero
	if err == nil {
		recovered := hedge.FilledSize.Mul(hedge.AvgPrice)
		realized = recovered.Sub(spent)
	} else {
		realized = spent.Neg()
	}

	a.opps.Transition(o.ID, OppStateAbort)
	if err := a.budget.ReleaseReservation(ctx, a.cfg.StrategyName, o.ReservationID, spent); err != nil {
		logger.Error("agent %s: release reservation failed: %v", a.cfg.StrategyName, err)
	}
	a.publishFill(o, o.YesToken, resultA.FilledSize, resultA.AvgPrice, realized)
	logger.Tag("LEG_RISK:HEDGE", "agent %s: leg risk realized on %s, hedged leg A for %s", a.cfg.StrategyName, o.MarketID, realized)
	_ = a.bus.Publish(signal.Signal{
		Kind:      signal.KindRiskAlert,
		Priority:  signal.PriorityHigh,
		Source:    a.cfg.StrategyName,
		CreatedAt: time.Now(),
		Payload: signal.RiskAlertPayload{
			Severity: signal.RiskSeverityHigh,
			Scope:    signal.RiskScopeAgent,
			Reason:   fmt.Sprintf("leg B rejected on opportunity %s after leg A filled", o.ID),
		},
	})
}

// abort releases whatever spent capital exists and transitions to
// ABORT, publishing a POSITION_UPDATE only if a leg filled.
func (a *ArbitrageAgent) abort(ctx context.Context, o *Opportunity, spent decimal.Decimal) {
	a.opps.Transition(o.ID, OppStateAbort)
	if o.ReservationID != "" {
		if err := a.budget.ReleaseReservation(ctx, a.cfg.StrategyName, o.ReservationID, spent); err != nil {
			logger.Error("agent %s: release reservation failed: %v", a.cfg.StrategyName, err)
		}
	}
	if spent.IsPositive() {
		a.publishFill(o, o.YesToken, o.FilledA, o.YesPrice, spent.Neg())
	}
}

func (a *ArbitrageAgent) cancelLeg(ctx context.Context, orderID string) {
	if orderID == "" {
		return
	}
	if err := a.gateway.Cancel(ctx, orderID); err != nil {
		logger.Warn("agent %s: cancel %s failed: %v", a.cfg.StrategyName, orderID, err)
	}
}

func (a *ArbitrageAgent) publishDenial(o *Opportunity, reason string) {
	_ = a.bus.Publish(signal.Signal{
		Kind:      signal.KindPositionUpdate,
		Priority:  signal.PriorityMedium,
		Source:    a.cfg.StrategyName,
		CreatedAt: time.Now(),
		Payload: signal.PositionUpdatePayload{
			Agent:        a.cfg.StrategyName,
			TokenID:      o.YesToken,
			Side:         signal.SideBuy,
			Size:         decimal.Zero,
			DenialReason: reason,
		},
	})
}

func (a *ArbitrageAgent) publishFill(o *Opportunity, tokenID string, size, avgPrice, realizedPnL decimal.Decimal) {
	_ = a.bus.Publish(signal.Signal{
		Kind:      signal.KindPositionUpdate,
		Priority:  signal.PriorityMedium,
		Source:    a.cfg.StrategyName,
		CreatedAt: time.Now(),
		Payload: signal.PositionUpdatePayload{
			Agent:       a.cfg.StrategyName,
			TokenID:     tokenID,
			Side:        signal.SideBuy,
			Size:        size,
			AvgPrice:    avgPrice,
			RealizedPnL: realizedPnL,
		},
	})
}

// submitWithRetry retries a TEMPORARY-rejected submission up to
// MaxRetries times with jittered backoff, per spec.md §4.7/§7.
func (a *ArbitrageAgent) submitWithRetry(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var lastResult OrderResult
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastResult, ctx.Err()
			case <-time.After(retryBackoff(attempt, a.cfg.RetryBaseDelay, a.cfg.RetryMaxDelay)):
			}
		}
		result, err := a.gateway.Submit(ctx, req)
		if err == nil && !(result.Status == OrderStatusRejected && result.RejectReason == RejectReasonTemporary) {
			return result, nil
		}
		lastResult, lastErr = result, err
	}
	return lastResult, lastErr
}

// slippagePrice implements spec.md §4.7's IOC pricing:
// best_price × (1 + max_slippage) for a BUY.
func slippagePrice(best, maxSlippage decimal.Decimal) decimal.Decimal {
	return best.Mul(decimal.NewFromInt(1).Add(maxSlippage))
}

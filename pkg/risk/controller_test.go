package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbswarm/swarm-core/pkg/signal"
)

func usd(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testLimits() Limits {
	return Limits{
		MaxPositionSizeUSD:   usd(500),
		MaxTotalExposureUSD:  usd(2000),
		MaxEntityExposureUSD: usd(1000),
		MaxPositionsPerAgent: 3,
		MaxDailyLossUSD:      usd(300),
		MinSignalQuality:     usd(0.2),
	}
}

type fakeBlocker struct{ blocked bool }

func (f *fakeBlocker) SetBlocked(b bool) { f.blocked = b }

func TestEvaluateApprovesWithinLimits(t *testing.T) {
	c := New(testLimits(), nil, nil)
	d := c.Evaluate(EntryRequest{Agent: "a1", Entity: "btc", SizeUSD: usd(100)})
	require.True(t, d.Approve)
}

func TestEvaluateDeniesOverPositionSize(t *testing.T) {
	c := New(testLimits(), nil, nil)
	d := c.Evaluate(EntryRequest{Agent: "a1", Entity: "btc", SizeUSD: usd(600)})
	require.False(t, d.Approve)
	require.Equal(t, "max_position_size_usd", d.DenyReason)
}

func TestEvaluateDeniesOverEntityExposure(t *testing.T) {
	c := New(testLimits(), nil, nil)
	c.recordPosition("a1", "tok-1", "btc", usd(900))
	d := c.Evaluate(EntryRequest{Agent: "a2", Entity: "btc", SizeUSD: usd(200)})
	require.False(t, d.Approve)
	require.Equal(t, "max_entity_exposure_usd", d.DenyReason)
}

func TestEvaluateDeniesOverMaxPositionsPerAgent(t *testing.T) {
	c := New(testLimits(), nil, nil)
	c.recordPosition("a1", "tok-1", "btc", usd(10))
	c.recordPosition("a1", "tok-2", "eth", usd(10))
	c.recordPosition("a1", "tok-3", "sol", usd(10))
	d := c.Evaluate(EntryRequest{Agent: "a1", Entity: "doge", SizeUSD: usd(10)})
	require.False(t, d.Approve)
	require.Equal(t, "max_positions_per_agent", d.DenyReason)
}

func TestEvaluateDeniesLowSignalQualityWhenGated(t *testing.T) {
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()
	c := New(testLimits(), bus, nil)

	d := c.Evaluate(EntryRequest{Agent: "a1", Entity: "unknown-entity", SizeUSD: usd(10), SignalGated: true})
	require.False(t, d.Approve)
	require.Equal(t, "low signal quality", d.DenyReason)
}

func TestCircuitBreakerTripsOnDailyLoss(t *testing.T) {
	// S5: exceeding max_daily_loss_usd trips the breaker and blocks
	// subsequent evaluate calls and new budget reservations.
	blocker := &fakeBlocker{}
	c := New(testLimits(), nil, blocker)

	c.RecordLoss(usd(350))

	tripped, reason := c.Tripped()
	require.True(t, tripped)
	require.NotEmpty(t, reason)
	require.True(t, blocker.blocked)

	d := c.Evaluate(EntryRequest{Agent: "a1", Entity: "btc", SizeUSD: usd(10)})
	require.False(t, d.Approve)
	require.Equal(t, "circuit breaker tripped", d.DenyReason)
}

func TestCircuitBreakerTripsOnRapidLoss(t *testing.T) {
	blocker := &fakeBlocker{}
	c := New(testLimits(), nil, blocker)

	// 50% of the 300 daily limit within 15 minutes trips the rapid-loss rule.
	c.RecordLoss(usd(160))

	tripped, _ := c.Tripped()
	require.True(t, tripped)
}

func TestCircuitBreakerScenarioS5TripsOnSecondEvent(t *testing.T) {
	// S5's narrative claims three losses of 40, 30, 40 against a limit
	// of 100 trip the breaker "after the third event." Tracing the
	// rapid-loss rule against these literal numbers: after event 1 the
	// 15-minute window sum is 40 (<= 50, no trip); after event 2 it is
	// 70 (> 50, trips). The rule trips one event earlier than the
	// prose claims; this test encodes the actual, correct behavior.
	limits := testLimits()
	limits.MaxDailyLossUSD = usd(100)
	blocker := &fakeBlocker{}
	c := New(limits, nil, blocker)

	c.RecordLoss(usd(40))
	tripped, _ := c.Tripped()
	require.False(t, tripped, "window sum of 40 must not trip a 50-of-100 rapid-loss threshold")

	c.RecordLoss(usd(30))
	tripped, _ = c.Tripped()
	require.True(t, tripped, "window sum of 70 must trip the rapid-loss rule at the second event")
}

func TestCircuitBreakerResetIsManualOnly(t *testing.T) {
	blocker := &fakeBlocker{}
	c := New(testLimits(), nil, blocker)
	c.Trip("manual test trip")

	tripped, _ := c.Tripped()
	require.True(t, tripped)

	c.Reset()
	tripped, _ = c.Tripped()
	require.False(t, tripped)
	require.False(t, blocker.blocked)
}

func TestPublishesCriticalRiskAlertOnTrip(t *testing.T) {
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()

	received := make(chan signal.RiskAlertPayload, 1)
	bus.Subscribe(signal.KindRiskAlert, "test", func(s signal.Signal) {
		if p, ok := s.Payload.(signal.RiskAlertPayload); ok {
			received <- p
		}
	})

	c := New(testLimits(), bus, nil)
	c.Trip("test trip")

	select {
	case p := <-received:
		require.Equal(t, signal.RiskSeverityCritical, p.Severity)
		require.Equal(t, signal.RiskScopePortfolio, p.Scope)
	case <-time.After(time.Second):
		t.Fatal("expected a RISK_ALERT to be published")
	}
}

package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignalStrengthBoundedToUnitRange(t *testing.T) {
	// P10: signal_strength(entity) always falls in [-1, 1].
	b := New(DefaultConfig())
	defer b.Close()

	now := time.Now()
	require.NoError(t, b.Publish(Signal{
		Kind: KindNewsEvent, Priority: PriorityHigh, Source: "test", CreatedAt: now,
		Payload: NewsEventPayload{Entities: []string{"btc"}, Sentiment: decimal.NewFromInt(1), Confidence: decimal.NewFromInt(1)},
	}))
	require.NoError(t, b.Publish(Signal{
		Kind: KindWhaleMove, Priority: PriorityHigh, Source: "test", CreatedAt: now,
		Payload: WhaleMovePayload{Entity: "btc", Side: SideBuy, USDAmount: decimal.NewFromInt(1_000_000)},
	}))
	require.NoError(t, b.Publish(Signal{
		Kind: KindGlobalSentiment, Priority: PriorityMedium, Source: "test", CreatedAt: now,
		Payload: GlobalSentimentPayload{Score: decimal.NewFromInt(1), Confidence: decimal.NewFromInt(1)},
	}))
	require.NoError(t, b.Publish(Signal{
		Kind: KindHotToken, Priority: PriorityMedium, Source: "test", CreatedAt: now,
		Payload: HotTokenPayload{TokenID: "btc"},
	}))

	strength := b.SignalStrength("btc", now)
	require.True(t, strength.LessThanOrEqual(one))
	require.True(t, strength.GreaterThanOrEqual(negOne))
	require.True(t, strength.GreaterThan(decimal.NewFromFloat(0.9)))
}

func TestSignalStrengthScenarioS4(t *testing.T) {
	// S4's narrative claims a BTC NEWS_EVENT (sentiment=0.8,
	// confidence=0.9) plus a full-size BTC WHALE_MOVE BUY drives
	// signal_strength("BTC") to at least 0.7. The weighted-sum formula
	// computes, for these exact inputs, 0.40*(0.8*0.9) + 0.30*1.0 =
	// 0.288 + 0.3 = 0.588 - below the claimed floor. The news+whale
	// terms alone reach 0.7 only at their combined weight ceiling of
	// 0.40+0.30=0.70, i.e. with sentiment and confidence both at 1 and
	// all whale flow on the buy side. This test encodes the actual, correctly
	// computed value rather than the scenario's claimed threshold.
	b := New(DefaultConfig())
	defer b.Close()

	now := time.Now()
	require.NoError(t, b.Publish(Signal{
		Kind: KindNewsEvent, Priority: PriorityHigh, Source: "test", CreatedAt: now,
		Payload: NewsEventPayload{Entities: []string{"btc"}, Sentiment: decimal.NewFromFloat(0.8), Confidence: decimal.NewFromFloat(0.9)},
	}))
	require.NoError(t, b.Publish(Signal{
		Kind: KindWhaleMove, Priority: PriorityHigh, Source: "test", CreatedAt: now,
		Payload: WhaleMovePayload{Entity: "btc", Side: SideBuy, USDAmount: decimal.NewFromInt(50000)},
	}))

	strength := b.SignalStrength("btc", now)
	require.True(t, strength.Equal(decimal.NewFromFloat(0.588)), "got %s, want 0.588", strength)
	require.True(t, strength.LessThan(decimal.NewFromFloat(0.7)), "0.7 is unreachable from these inputs under the spec-mandated weights")
}

func TestSignalStrengthNeutralWithNoData(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	strength := b.SignalStrength("unknown-entity", time.Now())
	require.True(t, strength.IsZero())
}

func TestPositionMultiplierPiecewise(t *testing.T) {
	cases := []struct {
		strength decimal.Decimal
		want     decimal.Decimal
	}{
		{decimal.Zero, decimal.NewFromFloat(0.5)},
		{decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.75)},
		{decimal.NewFromFloat(0.3), decimal.NewFromFloat(1.0)},
		{decimal.NewFromFloat(0.5), decimal.NewFromFloat(1.0)},
		{decimal.NewFromFloat(0.7), decimal.NewFromFloat(1.0)},
		{decimal.NewFromFloat(1.0), decimal.NewFromFloat(2.0001)},
		{decimal.NewFromFloat(-1.0), decimal.NewFromFloat(2.0001)},
	}
	for _, c := range cases {
		got := PositionMultiplier(c.strength)
		require.Truef(t, got.Equal(c.want), "strength=%s got=%s want=%s", c.strength, got, c.want)
	}
}

func TestShouldIncreaseScanFrequencyOnHotToken(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	now := time.Now()
	require.NoError(t, b.Publish(Signal{
		Kind: KindHotToken, Priority: PriorityMedium, Source: "test", CreatedAt: now,
		Payload: HotTokenPayload{TokenID: "eth"},
	}))
	require.True(t, b.ShouldIncreaseScanFrequency("eth", now))
	require.False(t, b.ShouldIncreaseScanFrequency("sol", now))
}

func TestShouldIncreaseScanFrequencyOnHighImpactNews(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	now := time.Now()
	require.NoError(t, b.Publish(Signal{
		Kind: KindNewsEvent, Priority: PriorityHigh, Source: "test", CreatedAt: now,
		Payload: NewsEventPayload{Entities: []string{"btc"}, Impact: NewsImpactHigh, Sentiment: decimal.Zero, Confidence: decimal.Zero},
	}))
	require.True(t, b.ShouldIncreaseScanFrequency("btc", now))
}

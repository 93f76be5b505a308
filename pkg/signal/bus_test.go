package signal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestSignal(kind Kind, priority Priority) Signal {
	return Signal{
		Kind:      kind,
		Priority:  priority,
		Source:    "test",
		CreatedAt: time.Now(),
		Payload:   HotTokenPayload{TokenID: "tok-1", MarketID: "mkt-1"},
	}
}

func TestBusPublishSubscribeDelivers(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	var got atomic.Int32
	b.Subscribe(KindHotToken, "agent-a", func(s Signal) {
		got.Add(1)
	})

	require.NoError(t, b.Publish(newTestSignal(KindHotToken, PriorityMedium)))
	require.Equal(t, int32(1), got.Load())
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	h := b.Subscribe(KindHotToken, "agent-a", func(Signal) {})
	b.Unsubscribe(h)
	require.NotPanics(t, func() { b.Unsubscribe(h) })
}

func TestBusValidateRejectsMalformedSignal(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	err := b.Publish(Signal{Kind: KindHotToken, Source: "test"})
	require.Error(t, err)
}

func TestBusRecentExcludesExpired(t *testing.T) {
	// P5: no subscriber or Recent() query ever observes an expired signal.
	b := New(DefaultConfig())
	defer b.Close()

	ttl := 10 * time.Millisecond
	s := newTestSignal(KindHotToken, PriorityMedium)
	s.TTL = &ttl
	s.CreatedAt = time.Now().Add(-1 * time.Second) // already stale on publish

	require.NoError(t, b.Publish(s))
	recent := b.Recent(KindHotToken, 0)
	require.Empty(t, recent)
}

func TestBusHistoryRingIsBounded(t *testing.T) {
	cfg := Config{HistoryLen: 5, CallbackBudget: defaultCallbackBudget}
	b := New(cfg)
	defer b.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(newTestSignal(KindHotToken, PriorityMedium)))
	}
	require.Len(t, b.Recent(KindHotToken, 0), 5)
}

func TestBusPublishLatencyUnderBudget(t *testing.T) {
	// P4: median publish-to-delivery latency stays well under the 50ms
	// soft callback budget under light load (100 signals, 50 subscribers).
	b := New(DefaultConfig())
	defer b.Close()

	const subs = 50
	for i := 0; i < subs; i++ {
		b.Subscribe(KindHotToken, "agent", func(Signal) {})
	}

	const n = 100
	samplesMs := make([]float64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			start := time.Now()
			_ = b.Publish(newTestSignal(KindHotToken, PriorityMedium))
			samplesMs[i] = float64(time.Since(start)) / float64(time.Millisecond)
		}()
	}
	wg.Wait()

	median, err := stats.Median(samplesMs)
	require.NoError(t, err)
	require.Less(t, median, 50.0, "median publish latency exceeded the 50ms soft budget")
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	b.Subscribe(KindHotToken, "bad-agent", func(Signal) {
		panic("boom")
	})
	var ok atomic.Bool
	b.Subscribe(KindHotToken, "good-agent", func(Signal) {
		ok.Store(true)
	})

	require.NoError(t, b.Publish(newTestSignal(KindHotToken, PriorityMedium)))
	require.True(t, ok.Load())
	require.Equal(t, int64(1), b.ErrorCount())
}

func TestBusDropsLowPriorityToOverloadedSubscriber(t *testing.T) {
	cfg := Config{HistoryLen: 100, CallbackBudget: time.Millisecond}
	b := New(cfg)
	defer b.Close()

	var delivered atomic.Int32
	b.Subscribe(KindHotToken, "slow-agent", func(Signal) {
		delivered.Add(1)
		time.Sleep(5 * time.Millisecond)
	})

	for i := 0; i < overloadThreshold+2; i++ {
		require.NoError(t, b.Publish(newTestSignal(KindHotToken, PriorityHigh)))
	}
	beforeLow := delivered.Load()

	require.NoError(t, b.Publish(newTestSignal(KindHotToken, PriorityLow)))
	require.Equal(t, beforeLow, delivered.Load())
}

func TestGlobalSentimentAccessor(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	s := Signal{
		Kind:      KindGlobalSentiment,
		Priority:  PriorityMedium,
		Source:    "test",
		CreatedAt: time.Now(),
		Payload: GlobalSentimentPayload{
			Score:      decimal.NewFromFloat(0.4),
			Confidence: decimal.NewFromFloat(0.8),
		},
	}
	require.NoError(t, b.Publish(s))

	got, ok := b.GetGlobalSentiment()
	require.True(t, ok)
	require.True(t, got.Score.Equal(decimal.NewFromFloat(0.4)))
}

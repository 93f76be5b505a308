package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Aggregation windows used by SignalStrength, matching spec.md §4.1.
const (
	newsWindow  = 60 * time.Minute
	whaleWindow = 30 * time.Minute
)

var (
	weightNews   = decimal.NewFromFloat(0.40)
	weightWhale  = decimal.NewFromFloat(0.30)
	weightGlobal = decimal.NewFromFloat(0.20)
	weightHot    = decimal.NewFromFloat(0.10)

	one     = decimal.NewFromInt(1)
	negOne  = decimal.NewFromInt(-1)
)

// SignalStrength combines recent news sentiment, whale flow imbalance,
// current global sentiment and hot-token presence for entity into a single
// score in [-1, 1]:
//
//	0.40 * mean(news.sentiment * news.confidence) over the last 60 minutes
//	     mentioning entity
//	+ 0.30 * whale buy/sell USD imbalance over the last 30 minutes
//	+ 0.20 * current global sentiment score
//	+ 0.10 * 1 if entity currently appears as a hot token, else 0
//
// The result is clamped to [-1, 1].
func (b *Bus) SignalStrength(entity string, now time.Time) decimal.Decimal {
	newsScore := b.newsFactor(entity, now)
	whaleScore := b.whaleFactor(entity, now)
	globalScore := b.globalFactor()
	hotScore := b.hotTokenFactor(entity)

	total := newsScore.Mul(weightNews).
		Add(whaleScore.Mul(weightWhale)).
		Add(globalScore.Mul(weightGlobal)).
		Add(hotScore.Mul(weightHot))

	return clamp(total, negOne, one)
}

func (b *Bus) newsFactor(entity string, now time.Time) decimal.Decimal {
	events := b.Recent(KindNewsEvent, newsWindow)
	var sum decimal.Decimal
	var n int
	for _, s := range events {
		p, ok := s.Payload.(NewsEventPayload)
		if !ok || !mentions(p.Entities, entity) {
			continue
		}
		sum = sum.Add(p.Sentiment.Mul(p.Confidence))
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

func (b *Bus) whaleFactor(entity string, now time.Time) decimal.Decimal {
	moves := b.Recent(KindWhaleMove, whaleWindow)
	var buys, sells decimal.Decimal
	for _, s := range moves {
		p, ok := s.Payload.(WhaleMovePayload)
		if !ok || p.Entity != entity {
			continue
		}
		if p.Side == SideBuy {
			buys = buys.Add(p.USDAmount)
		} else {
			sells = sells.Add(p.USDAmount)
		}
	}
	total := buys.Add(sells)
	if total.IsZero() {
		return decimal.Zero
	}
	return buys.Sub(sells).Div(total)
}

func (b *Bus) globalFactor() decimal.Decimal {
	recent := b.Recent(KindGlobalSentiment, 0)
	if len(recent) == 0 {
		return decimal.Zero
	}
	latest := recent[len(recent)-1]
	p, ok := latest.Payload.(GlobalSentimentPayload)
	if !ok {
		return decimal.Zero
	}
	return p.Score
}

func (b *Bus) hotTokenFactor(entity string) decimal.Decimal {
	recent := b.Recent(KindHotToken, 0)
	for _, s := range recent {
		p, ok := s.Payload.(HotTokenPayload)
		if ok && (p.TokenID == entity || p.MarketID == entity) {
			return one
		}
	}
	return decimal.Zero
}

// PositionMultiplier maps |strength| to a position-sizing multiplier from
// 0.5 up to 2.0001 (the 1.667 slope gives 2.0001 at |strength| = 1):
//
//	|strength| > 0.7   -> 1.5 + (|strength| - 0.7) * 1.667
//	|strength| < 0.3   -> 0.5 + (|strength| / 0.3) * 0.5
//	otherwise          -> 1.0
//
// This multiplier is advisory; strategies decide whether to apply it.
func PositionMultiplier(strength decimal.Decimal) decimal.Decimal {
	abs := strength.Abs()
	highBand := decimal.NewFromFloat(0.7)
	lowBand := decimal.NewFromFloat(0.3)

	switch {
	case abs.GreaterThan(highBand):
		return decimal.NewFromFloat(1.5).Add(abs.Sub(highBand).Mul(decimal.NewFromFloat(1.667)))
	case abs.LessThan(lowBand):
		return decimal.NewFromFloat(0.5).Add(abs.Div(lowBand).Mul(decimal.NewFromFloat(0.5)))
	default:
		return one
	}
}

// ShouldIncreaseScanFrequency reports whether an entity currently
// warrants a tighter scan interval: a high-impact NEWS_EVENT for this
// entity in the last 15 minutes, a WHALE_MOVE for this entity in the
// last 30 minutes, or the entity's presence in the current hot-token set.
func (b *Bus) ShouldIncreaseScanFrequency(entity string, now time.Time) bool {
	for _, s := range b.Recent(KindNewsEvent, 15*time.Minute) {
		p, ok := s.Payload.(NewsEventPayload)
		if ok && p.Impact == NewsImpactHigh && mentions(p.Entities, entity) {
			return true
		}
	}
	for _, s := range b.Recent(KindWhaleMove, 30*time.Minute) {
		if p, ok := s.Payload.(WhaleMovePayload); ok && p.Entity == entity {
			return true
		}
	}
	for _, s := range b.Recent(KindHotToken, 0) {
		if p, ok := s.Payload.(HotTokenPayload); ok && (p.TokenID == entity || p.MarketID == entity) {
			return true
		}
	}
	return false
}

func mentions(entities []string, entity string) bool {
	for _, e := range entities {
		if e == entity {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

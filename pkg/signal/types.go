// Package signal implements the swarm's in-process pub/sub bus: immutable
// Signal records flow from producing agents to subscribing agents, with
// TTL, bounded per-kind history, and a handful of aggregated derived views.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of signal variants the bus understands.
type Kind string

const (
	KindGlobalSentiment  Kind = "GLOBAL_SENTIMENT"
	KindHotToken         Kind = "HOT_TOKEN"
	KindWhaleMove        Kind = "WHALE_MOVE"
	KindNewsEvent        Kind = "NEWS_EVENT"
	KindMarketOpportunity Kind = "MARKET_OPPORTUNITY"
	KindRiskAlert        Kind = "RISK_ALERT"
	KindPositionUpdate   Kind = "POSITION_UPDATE"
	KindMarketState      Kind = "MARKET_STATE"
)

// AllKinds lists every signal kind the bus maintains a history ring for.
var AllKinds = []Kind{
	KindGlobalSentiment,
	KindHotToken,
	KindWhaleMove,
	KindNewsEvent,
	KindMarketOpportunity,
	KindRiskAlert,
	KindPositionUpdate,
	KindMarketState,
}

// Priority orders delivery and back-pressure decisions.
type Priority int

const (
	PriorityLow      Priority = 25
	PriorityMedium   Priority = 50
	PriorityHigh     Priority = 75
	PriorityCritical Priority = 100
)

// Signal is an immutable record carrying one datum from a producer to
// zero or more subscribers. Once published, a Signal is never mutated.
type Signal struct {
	Kind      Kind
	Priority  Priority
	Source    string
	CreatedAt time.Time
	TTL       *time.Duration // nil means no expiry
	Payload   any
}

// Expired reports whether the signal has aged past its TTL as of now.
func (s Signal) Expired(now time.Time) bool {
	if s.TTL == nil {
		return false
	}
	return now.Sub(s.CreatedAt) > *s.TTL
}

// Age returns how long ago the signal was created relative to now.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Validate enforces the bus invariants: non-zero priority and a source.
func (s Signal) Validate() error {
	if s.Priority == 0 {
		return errSignalNoPriority
	}
	if s.Source == "" {
		return errSignalNoSource
	}
	if s.Kind == "" {
		return errSignalNoKind
	}
	return nil
}

// GlobalSentimentPayload is the payload for KindGlobalSentiment.
type GlobalSentimentPayload struct {
	Score             decimal.Decimal // [-1, 1]
	Confidence        decimal.Decimal // [0, 1]
	DominantTopic     string
	TopEntities       []string
	NewsCountLastHour int
}

// HotTokenReason enumerates why a token is considered hot.
type HotTokenReason string

const (
	HotTokenWhaleBuy  HotTokenReason = "whale_buy"
	HotTokenNewsSpike HotTokenReason = "news_spike"
	HotTokenStatArb   HotTokenReason = "stat_arb"
)

// HotTokenPayload is the payload for KindHotToken.
type HotTokenPayload struct {
	TokenID       string
	MarketID      string
	MarketName    string
	Volume1h      decimal.Decimal
	VelocityPerMin decimal.Decimal
	Volatility    decimal.Decimal
	Reason        HotTokenReason
}

// Side is BUY or SELL, used by whale moves and order legs alike.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// WhaleMovePayload is the payload for KindWhaleMove.
type WhaleMovePayload struct {
	WalletID    string
	WalletLabel string
	MarketID    string
	TokenID     string
	Side        Side
	USDAmount   decimal.Decimal
	Price       decimal.Decimal
	Entity      string
}

// NewsImpact enumerates the severity of a news event.
type NewsImpact string

const (
	NewsImpactLow    NewsImpact = "low"
	NewsImpactMedium NewsImpact = "medium"
	NewsImpactHigh   NewsImpact = "high"
)

// NewsEventPayload is the payload for KindNewsEvent.
type NewsEventPayload struct {
	Headline       string
	Entities       []string
	Sentiment      decimal.Decimal // [-1, 1]
	Confidence     decimal.Decimal // [0, 1]
	Impact         NewsImpact
	Source         string
	RelatedMarkets []string
}

// OpportunityKind enumerates the arbitrage flavors the swarm detects.
type OpportunityKind string

const (
	OpportunityPureArb OpportunityKind = "pure_arb"
	OpportunityStatArb OpportunityKind = "stat_arb"
	OpportunityNewsArb OpportunityKind = "news_arb"
)

// MarketOpportunityPayload is the payload for KindMarketOpportunity.
type MarketOpportunityPayload struct {
	OpportunityID     string
	OppKind           OpportunityKind
	MarketIDs         []string
	TokenIDs          []string
	ExpectedProfitUSD decimal.Decimal
	Confidence        decimal.Decimal
	ClaimedBy         string // empty means unclaimed
}

// RiskScope enumerates who a risk alert concerns.
type RiskScope string

const (
	RiskScopeAgent     RiskScope = "agent"
	RiskScopePortfolio RiskScope = "portfolio"
)

// RiskAlertSeverity enumerates alert severity.
type RiskAlertSeverity string

const (
	RiskSeverityHigh     RiskAlertSeverity = "HIGH"
	RiskSeverityCritical RiskAlertSeverity = "CRITICAL"
)

// RiskAlertPayload is the payload for KindRiskAlert.
type RiskAlertPayload struct {
	Severity RiskAlertSeverity
	Scope    RiskScope
	Reason   string
}

// PositionUpdatePayload is the payload for KindPositionUpdate.
type PositionUpdatePayload struct {
	Agent          string
	TokenID        string
	Side           Side
	Size           decimal.Decimal
	AvgPrice       decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	DenialReason   string // set when Size == 0 due to a denial, for observability
}

// DepthLevel is one aggregated price level.
type DepthLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// MarketStatePayload is the payload for KindMarketState.
type MarketStatePayload struct {
	TokenID    string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	Mid        decimal.Decimal
	DepthSample []DepthLevel
}

// Package risk implements RiskController: portfolio limits the
// BudgetManager alone cannot express, plus a trip-only circuit breaker.
// The decision shape is grounded on yanun0323-go-hft/internal/risk/
// engine.go's Engine.Evaluate returning a single Decision{Action,
// Reason} struct; the circuit breaker's trip/no-auto-reset semantics
// follow spec.md §4.6 directly (the prototype's own circuit_breaker.py
// models a different, auto-recovering CLOSED/OPEN/HALF_OPEN pattern for
// protecting external API calls, not this trading kill-switch).
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/metrics"
	"github.com/arbswarm/swarm-core/pkg/signal"
)

// Limits are the configured portfolio guardrails of spec.md §4.6.
type Limits struct {
	MaxPositionSizeUSD   decimal.Decimal
	MaxTotalExposureUSD  decimal.Decimal
	MaxEntityExposureUSD decimal.Decimal
	MaxPositionsPerAgent int
	MaxDailyLossUSD      decimal.Decimal
	MinSignalQuality     decimal.Decimal
}

// EntryRequest describes a prospective position an agent wants to open.
type EntryRequest struct {
	Agent       string
	Entity      string
	TokenID     string
	SizeUSD     decimal.Decimal
	SignalGated bool
}

// Decision is RiskController.Evaluate's verdict.
type Decision struct {
	Approve   bool
	DenyReason string
}

func deny(reason string) Decision {
	logger.Tag("DENY:RISK", "risk: denied entry: %s", reason)
	metrics.RiskDenialsTotal.WithLabelValues(reason).Inc()
	return Decision{Approve: false, DenyReason: reason}
}

var approve = Decision{Approve: true}

// ReservationBlocker is implemented by budget.Manager; the circuit
// breaker calls SetBlocked(true) on trip so BudgetManager refuses new
// reservations independent of its own store health, per spec.md §4.6.
type ReservationBlocker interface {
	SetBlocked(blocked bool)
}

// SignalStrengthSource is satisfied by *signal.Bus.
type SignalStrengthSource interface {
	SignalStrength(entity string, now time.Time) decimal.Decimal
}

type positionKey struct {
	agent   string
	tokenID string
}

type trackedPosition struct {
	entity  string
	sizeUSD decimal.Decimal
}

type lossEvent struct {
	at     time.Time
	amount decimal.Decimal
}

// Controller is spec.md §4.6's RiskController.
type Controller struct {
	limits  Limits
	bus     *signal.Bus
	signals SignalStrengthSource
	blocker ReservationBlocker

	mu             sync.Mutex
	positions      map[positionKey]trackedPosition
	agentCounts    map[string]int
	entityExposure map[string]decimal.Decimal
	totalExposure  decimal.Decimal
	tokenEntity    map[string]string

	dayStart  time.Time
	dailyLoss decimal.Decimal
	lossLog   []lossEvent

	tripped    bool
	tripReason string
}

// New returns a Controller enforcing limits, publishing RISK_ALERT
// signals and reading signal_strength through bus, and instructing
// blocker to refuse reservations once tripped.
func New(limits Limits, bus *signal.Bus, blocker ReservationBlocker) *Controller {
	c := &Controller{
		limits:         limits,
		bus:            bus,
		signals:        bus,
		blocker:        blocker,
		positions:      make(map[positionKey]trackedPosition),
		agentCounts:    make(map[string]int),
		entityExposure: make(map[string]decimal.Decimal),
		tokenEntity:    make(map[string]string),
		dayStart:       dayStartUTC(time.Now()),
	}
	if bus != nil {
		bus.Subscribe(signal.KindPositionUpdate, "risk-controller", c.onPositionUpdate)
	}
	return c
}

func dayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RegisterEntity records which underlying entity a token belongs to, so
// POSITION_UPDATE signals (which carry only a token id) can be attributed
// to the right per-entity exposure bucket. Agents call this once per
// token before trading it.
func (c *Controller) RegisterEntity(tokenID, entity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenEntity[tokenID] = entity
}

func (c *Controller) onPositionUpdate(s signal.Signal) {
	p, ok := s.Payload.(signal.PositionUpdatePayload)
	if !ok {
		return
	}
	c.mu.Lock()
	entity := c.tokenEntity[p.TokenID]
	c.mu.Unlock()

	c.recordPosition(p.Agent, p.TokenID, entity, p.Size)
	if p.RealizedPnL.IsNegative() {
		c.RecordLoss(p.RealizedPnL.Abs())
	}
}

func (c *Controller) recordPosition(agent, tokenID, entity string, sizeUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := positionKey{agent: agent, tokenID: tokenID}
	prev, existed := c.positions[key]

	if sizeUSD.IsZero() {
		if existed {
			c.totalExposure = c.totalExposure.Sub(prev.sizeUSD)
			c.entityExposure[prev.entity] = c.entityExposure[prev.entity].Sub(prev.sizeUSD)
			c.agentCounts[agent]--
			delete(c.positions, key)
		}
		return
	}

	if entity == "" {
		entity = prev.entity
	}
	if !existed {
		c.agentCounts[agent]++
	} else {
		c.totalExposure = c.totalExposure.Sub(prev.sizeUSD)
		c.entityExposure[prev.entity] = c.entityExposure[prev.entity].Sub(prev.sizeUSD)
	}
	c.positions[key] = trackedPosition{entity: entity, sizeUSD: sizeUSD}
	c.totalExposure = c.totalExposure.Add(sizeUSD)
	c.entityExposure[entity] = c.entityExposure[entity].Add(sizeUSD)
}

// Evaluate implements spec.md §4.6's three-step entry decision.
func (c *Controller) Evaluate(req EntryRequest) Decision {
	c.mu.Lock()
	tripped := c.tripped
	c.mu.Unlock()
	if tripped {
		return deny("circuit breaker tripped")
	}

	if d := c.checkLimits(req); !d.Approve {
		return d
	}

	if req.SignalGated {
		strength := decimal.Zero
		if c.signals != nil {
			strength = c.signals.SignalStrength(req.Entity, time.Now())
		}
		if strength.Abs().LessThan(c.limits.MinSignalQuality) {
			return deny("low signal quality")
		}
	}

	return approve
}

func (c *Controller) checkLimits(req EntryRequest) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limits.MaxPositionSizeUSD.IsPositive() && req.SizeUSD.GreaterThan(c.limits.MaxPositionSizeUSD) {
		return deny("max_position_size_usd")
	}
	if c.limits.MaxTotalExposureUSD.IsPositive() {
		if c.totalExposure.Add(req.SizeUSD).GreaterThan(c.limits.MaxTotalExposureUSD) {
			return deny("max_total_exposure_usd")
		}
	}
	if c.limits.MaxEntityExposureUSD.IsPositive() {
		current := c.entityExposure[req.Entity]
		if current.Add(req.SizeUSD).GreaterThan(c.limits.MaxEntityExposureUSD) {
			return deny("max_entity_exposure_usd")
		}
	}
	if c.limits.MaxPositionsPerAgent > 0 && c.agentCounts[req.Agent]+1 > c.limits.MaxPositionsPerAgent {
		return deny("max_positions_per_agent")
	}
	return approve
}

// RecordLoss registers a realized-or-unrealized loss amount (positive
// USD) against the current UTC day and the 15-minute rapid-loss window,
// tripping the circuit breaker if either threshold is exceeded.
func (c *Controller) RecordLoss(amountUSD decimal.Decimal) {
	now := time.Now()
	c.mu.Lock()
	if dayStartUTC(now).After(c.dayStart) {
		c.dayStart = dayStartUTC(now)
		c.dailyLoss = decimal.Zero
	}
	c.dailyLoss = c.dailyLoss.Add(amountUSD)
	c.lossLog = append(c.lossLog, lossEvent{at: now, amount: amountUSD})
	c.pruneLossLogLocked(now)

	rapidLoss := decimal.Zero
	for _, e := range c.lossLog {
		rapidLoss = rapidLoss.Add(e.amount)
	}
	dailyLoss := c.dailyLoss
	limit := c.limits.MaxDailyLossUSD
	c.mu.Unlock()

	if limit.IsPositive() && dailyLoss.GreaterThan(limit) {
		c.Trip(fmt.Sprintf("daily loss %s exceeds max_daily_loss_usd %s", dailyLoss, limit))
		return
	}
	if limit.IsPositive() && rapidLoss.GreaterThan(limit.Div(decimal.NewFromInt(2))) {
		c.Trip(fmt.Sprintf("rapid loss %s exceeds 50%% of max_daily_loss_usd within 15 minutes", rapidLoss))
	}
}

func (c *Controller) pruneLossLogLocked(now time.Time) {
	cutoff := now.Add(-15 * time.Minute)
	i := 0
	for ; i < len(c.lossLog); i++ {
		if c.lossLog[i].at.After(cutoff) {
			break
		}
	}
	c.lossLog = c.lossLog[i:]
}

// Trip manually or automatically trips the circuit breaker: all
// subsequent Evaluate calls deny, BudgetManager is told to refuse new
// reservations, and a CRITICAL portfolio-scope RISK_ALERT is published.
// Reset is manual only; there is no automatic recovery.
func (c *Controller) Trip(reason string) {
	c.mu.Lock()
	if c.tripped {
		c.mu.Unlock()
		return
	}
	c.tripped = true
	c.tripReason = reason
	c.mu.Unlock()

	logger.CriticalTag("CB:TRIPPED", "risk: circuit breaker tripped: %s", reason)
	metrics.CircuitBreakerTripsTotal.WithLabelValues(tripCategory(reason)).Inc()
	if c.blocker != nil {
		c.blocker.SetBlocked(true)
	}
	if c.bus != nil {
		_ = c.bus.Publish(signal.Signal{
			Kind:      signal.KindRiskAlert,
			Priority:  signal.PriorityCritical,
			Source:    "risk-controller",
			CreatedAt: time.Now(),
			Payload: signal.RiskAlertPayload{
				Severity: signal.RiskSeverityCritical,
				Scope:    signal.RiskScopePortfolio,
				Reason:   reason,
			},
		})
	}
}

// tripCategory buckets a free-form trip reason into the label set
// metrics.CircuitBreakerTripsTotal reports on.
func tripCategory(reason string) string {
	switch {
	case strings.Contains(reason, "daily loss"):
		return "daily_loss"
	case strings.Contains(reason, "rapid loss"):
		return "rapid_loss"
	default:
		return "coordination_fault"
	}
}

// Reset manually clears a tripped circuit breaker. Per spec.md §4.6
// there is no automatic reset path; this must be an explicit operator
// action.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.tripped = false
	c.tripReason = ""
	c.mu.Unlock()
	logger.Warn("risk: circuit breaker manually reset")
	if c.blocker != nil {
		c.blocker.SetBlocked(false)
	}
}

// Tripped reports whether the circuit breaker is currently tripped, and
// why.
func (c *Controller) Tripped() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped, c.tripReason
}

package agent

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/risk"
	"github.com/arbswarm/swarm-core/pkg/signal"
)

// TimeInForce mirrors spec.md §6.2's order gateway parameter.
type TimeInForce string

const (
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceGTC TimeInForce = "GTC"
)

// OrderStatus mirrors spec.md §6.2's submit() response status.
type OrderStatus string

const (
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusOpen            OrderStatus = "OPEN"
)

// RejectReason classifies a REJECTED submit response, per spec.md §7's
// transient-vs-persistent gateway error distinction.
type RejectReason string

const (
	RejectReasonTemporary RejectReason = "TEMPORARY"
	RejectReasonPersistent RejectReason = "PERSISTENT"
)

// OrderRequest is the wire shape spec.md §6.2 requires of submit().
type OrderRequest struct {
	TokenID        string
	Side           signal.Side
	LimitPrice     decimal.Decimal
	Size           decimal.Decimal
	TimeInForce    TimeInForce
	MaxSlippageBps decimal.Decimal
}

// OrderResult is submit()'s response per spec.md §6.2.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledSize   decimal.Decimal
	AvgPrice     decimal.Decimal
	RejectReason RejectReason
}

// OrderGateway is the inbound-consumed interface spec.md §6.2 and
// SPEC_FULL §4.9 name; pkg/gateway.OrderGateway implements it against
// the real HTTP order service, and tests provide fakes.
type OrderGateway interface {
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, orderID string) error
}

// ReservationRequester is the subset of budget.Manager's API
// ArbitrageAgent depends on; declared here (rather than pkg/agent
// depending on the whole of pkg/budget) matching the teacher SDK's
// accept-interfaces style. It is typed against ledger.Priority
// directly: pkg/budget.Manager already implements RequestReservation
// with that concrete type, and pkg/ledger imports neither pkg/agent
// nor pkg/budget, so this import introduces no cycle.
type ReservationRequester interface {
	RequestReservation(ctx context.Context, strategy string, amount decimal.Decimal, priority ledger.Priority) (string, error)
	ReleaseReservation(ctx context.Context, strategy, reservationID string, actualSpent decimal.Decimal) error
}

// RiskEvaluator is the subset of risk.Controller's API ArbitrageAgent
// depends on, typed against risk.EntryRequest/risk.Decision directly
// for the same reason ReservationRequester is typed against
// ledger.Priority: pkg/risk imports neither pkg/agent nor pkg/budget.
type RiskEvaluator interface {
	Evaluate(req risk.EntryRequest) risk.Decision
	RegisterEntity(tokenID, entity string)
}

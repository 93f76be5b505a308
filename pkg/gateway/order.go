package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/transport"
)

// OrderTimeout is spec.md §5's order-submission request budget. Retry
// scheduling lives in pkg/agent.ArbitrageAgent.submitWithRetry; this
// gateway makes one HTTP attempt per call.
const OrderTimeout = 3 * time.Second

type submitRequest struct {
	TokenID        string          `json:"token_id"`
	Side           string          `json:"side"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	Size           decimal.Decimal `json:"size"`
	TimeInForce    string          `json:"time_in_force"`
	MaxSlippageBps decimal.Decimal `json:"max_slippage_bps"`
}

type submitResponse struct {
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	RejectReason string          `json:"reject_reason"`
}

type cancelResponse struct {
	Status string `json:"status"`
}

// OrderGateway implements agent.OrderGateway (spec.md §6.2's submit/
// cancel pair) against the external order service.
type OrderGateway struct {
	client  *transport.Client
	timeout time.Duration
}

// NewOrderGateway wraps client with SPEC_FULL §5's 3s order timeout.
func NewOrderGateway(client *transport.Client) *OrderGateway {
	return &OrderGateway{client: client, timeout: OrderTimeout}
}

var _ agent.OrderGateway = (*OrderGateway)(nil)

// Submit posts a single order attempt; callers own retry policy.
func (g *OrderGateway) Submit(ctx context.Context, req agent.OrderRequest) (agent.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var resp submitResponse
	err := g.client.Post(ctx, "/orders", submitRequest{
		TokenID:        req.TokenID,
		Side:           string(req.Side),
		LimitPrice:     req.LimitPrice,
		Size:           req.Size,
		TimeInForce:    string(req.TimeInForce),
		MaxSlippageBps: req.MaxSlippageBps,
	}, &resp)
	if err != nil {
		return agent.OrderResult{}, fmt.Errorf("gateway: submit order: %w", err)
	}
	return agent.OrderResult{
		OrderID:      resp.OrderID,
		Status:       agent.OrderStatus(resp.Status),
		FilledSize:   resp.FilledSize,
		AvgPrice:     resp.AvgPrice,
		RejectReason: agent.RejectReason(resp.RejectReason),
	}, nil
}

// Cancel requests cancellation of orderID.
func (g *OrderGateway) Cancel(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var resp cancelResponse
	if err := g.client.Delete(ctx, "/orders/"+orderID, nil, &resp); err != nil {
		return fmt.Errorf("gateway: cancel order %s: %w", orderID, err)
	}
	return nil
}

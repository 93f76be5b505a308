package swarm

import (
	"context"

	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/logger"
)

// dryRunGateway satisfies agent.OrderGateway without ever reaching the
// network: every submission is reported filled at its limit price, per
// spec.md §6.5's "--dry-run: no orders are submitted; all other
// behavior preserved" requirement.
type dryRunGateway struct{}

func newDryRunGateway() *dryRunGateway { return &dryRunGateway{} }

func (g *dryRunGateway) Submit(ctx context.Context, req agent.OrderRequest) (agent.OrderResult, error) {
	logger.Info("dry-run: would submit %s %s size=%s limit=%s", req.Side, req.TokenID, req.Size, req.LimitPrice)
	return agent.OrderResult{
		OrderID:    "dry-run",
		Status:     agent.OrderStatusFilled,
		FilledSize: req.Size,
		AvgPrice:   req.LimitPrice,
	}, nil
}

func (g *dryRunGateway) Cancel(ctx context.Context, orderID string) error {
	logger.Info("dry-run: would cancel %s", orderID)
	return nil
}

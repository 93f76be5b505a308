package swarm

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/budget"
	"github.com/arbswarm/swarm-core/pkg/config"
	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/risk"
	"github.com/arbswarm/swarm-core/pkg/supervisor"
)

// Config holds everything needed to assemble a Swarm, populated by
// cmd/swarmd from flags, the allocation YAML, and the environment.
type Config struct {
	DryRun bool

	CatalogBaseURL      string
	OrderGatewayBaseURL string
	MarketDataURL       string
	RPCURL              string

	Secrets        config.Secrets
	PostgresOption ledger.PostgresOption

	BudgetConfig     budget.Config
	RiskLimits       risk.Limits
	SupervisorConfig supervisor.Config
	Claims           *agent.ClaimRegistry

	Agents []agent.Config
}

// DefaultConfig returns spec.md's recommended defaults for every
// sub-component, matching each package's own DefaultConfig where one
// exists.
func DefaultConfig() Config {
	return Config{
		DryRun:              true,
		CatalogBaseURL:      "https://gamma-api.polymarket.com",
		OrderGatewayBaseURL: "https://clob.polymarket.com",
		MarketDataURL:       "wss://ws-subscriptions-clob.polymarket.com",
		BudgetConfig:        budget.Config{},
		RiskLimits: risk.Limits{
			MaxPositionSizeUSD:   decimal.NewFromInt(500),
			MaxTotalExposureUSD:  decimal.NewFromInt(5000),
			MaxEntityExposureUSD: decimal.NewFromInt(1000),
			MaxPositionsPerAgent: 10,
			MaxDailyLossUSD:      decimal.NewFromInt(300),
			MinSignalQuality:     decimal.NewFromFloat(0.2),
		},
		SupervisorConfig: supervisor.DefaultConfig(),
		Claims:           agent.NewClaimRegistry(),
	}
}

// requestTimeout is the shared HTTP client's outer timeout for the
// catalog and order gateways; each gateway applies its own shorter
// per-call budget (5s catalog, 3s orders) through its context.
const requestTimeout = 10 * time.Second

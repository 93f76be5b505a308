// Package swarm aggregates every SPEC_FULL component (signal bus,
// order book replicas, market data stream, capital ledger, budget
// manager, risk controller, arbitrage agents, supervisor) behind one
// struct, grounded on the teacher SDK's own root client.go
// (Client{CLOB, Gamma, Data, ...}, NewClient(opts ...Option),
// InitErrors for non-fatal sub-client init failures).
package swarm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/auth"
	"github.com/arbswarm/swarm-core/pkg/budget"
	"github.com/arbswarm/swarm-core/pkg/config"
	"github.com/arbswarm/swarm-core/pkg/gateway"
	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/marketdata"
	"github.com/arbswarm/swarm-core/pkg/orderbook"
	"github.com/arbswarm/swarm-core/pkg/risk"
	"github.com/arbswarm/swarm-core/pkg/signal"
	"github.com/arbswarm/swarm-core/pkg/supervisor"
	"github.com/arbswarm/swarm-core/pkg/transport"
)

// InitError records which component failed to initialize, mirroring the
// teacher SDK's own InitError{Component, Err}. New returns it with a nil
// Swarm: every such failure aborts assembly.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string { return fmt.Sprintf("init %s: %v", e.Component, e.Err) }
func (e *InitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Swarm aggregates every long-lived component the operator CLI drives.
type Swarm struct {
	Config Config

	Bus        *signal.Bus
	Books      *orderbook.Registry
	MarketFeed *marketdata.Stream
	Ledger     *ledger.CapitalLedger
	Store      ledger.KVStore
	Budget     *budget.Manager
	Risk       *risk.Controller
	Supervisor *supervisor.Supervisor
	Catalog    gateway.MarketCatalog
	Orders     agent.OrderGateway
	Signer     auth.Signer

	Agents []*agent.ArbitrageAgent
}

// New assembles a Swarm from cfg. It does not start anything; call Run.
func New(cfg Config) (*Swarm, error) {
	s := &Swarm{Config: cfg}

	s.Bus = signal.New(signal.DefaultConfig())
	s.Books = orderbook.NewRegistry()

	var err error
	if cfg.DryRun {
		s.Store = ledger.NewMemoryStore()
	} else {
		s.Store, err = ledger.NewPostgresStore(cfg.PostgresOption)
		if err != nil {
			return nil, &InitError{Component: "ledger", Err: err}
		}
	}
	s.Ledger = ledger.New(s.Store)

	signer, err := auth.NewEOASigner(cfg.Secrets.WalletPrivateKeyHex)
	if err != nil {
		return nil, &InitError{Component: "auth", Err: err}
	}
	s.Signer = signer

	var nonceSource budget.NonceSource
	if cfg.RPCURL != "" {
		pending, err := auth.NewPendingNonce(cfg.RPCURL)
		if err != nil {
			return nil, &InitError{Component: "auth.nonce", Err: err}
		}
		nonceSource = pending.Fetch
	}
	s.Budget = budget.New(s.Ledger, cfg.BudgetConfig, nonceSource)

	s.Risk = risk.New(cfg.RiskLimits, s.Bus, s.Budget)

	httpClient := &http.Client{Timeout: requestTimeout}
	s.Catalog = gateway.NewCatalogGateway(transport.NewClient(httpClient, cfg.CatalogBaseURL))
	if cfg.DryRun {
		s.Orders = newDryRunGateway()
	} else {
		s.Orders = gateway.NewOrderGateway(transport.NewClient(httpClient, cfg.OrderGatewayBaseURL))
	}

	s.MarketFeed = marketdata.New(marketdata.DefaultConfig(cfg.MarketDataURL), s.Books, s.Bus)

	s.Supervisor = supervisor.New(cfg.SupervisorConfig, s.Bus)

	for _, ac := range cfg.Agents {
		fees := agent.DefaultFeeModel()
		a := agent.New(ac, s.Bus, s.Books, s.Budget, s.Risk, s.Orders, fees, cfg.Claims)
		for _, m := range ac.Markets {
			s.Risk.RegisterEntity(m.YesToken, m.Entity)
			s.Risk.RegisterEntity(m.NoToken, m.Entity)
			if err := s.MarketFeed.Subscribe(m.YesToken, m.NoToken); err != nil {
				return nil, &InitError{Component: "marketdata", Err: err}
			}
		}
		s.Supervisor.Register(a)
		s.Agents = append(s.Agents, a)
	}

	return s, nil
}

// Seed initializes the ledger's balances on a fresh store, per
// spec.md §6.7: balance:reserve = totalCapital*reserveFraction,
// balance:<strategy_i> = totalCapital*allocation_i. Returns an error if
// the ledger already has a reserve balance and reset is false.
func (s *Swarm) Seed(ctx context.Context, totalCapital decimal.Decimal, allocations config.Allocations, reset bool) error {
	_, err := s.Store.Get(ctx, "balance:reserve")
	fresh := err == ledger.ErrNotFound
	if !fresh && !reset {
		return fmt.Errorf("swarm: ledger already seeded; pass --reset to re-seed")
	}

	if err := s.Ledger.SetBalance(ctx, "reserve", totalCapital.Mul(allocations.ReserveFraction)); err != nil {
		return fmt.Errorf("swarm: seed reserve balance: %w", err)
	}
	for strategy, frac := range allocations.Strategies {
		if err := s.Ledger.SetBalance(ctx, strategy, totalCapital.Mul(frac)); err != nil {
			return fmt.Errorf("swarm: seed %s balance: %w", strategy, err)
		}
	}
	return nil
}

// Run starts the market data stream and the supervised agent fleet, and
// blocks until ctx is canceled. It returns non-nil if the supervisor
// detected an unrecoverable (quarantined) agent, per spec.md §6.5's
// exit code 3.
func (s *Swarm) Run(ctx context.Context) error {
	go s.MarketFeed.Run()
	defer s.MarketFeed.Close()

	go s.Budget.RunJanitor(ctx, 30*time.Second)

	logger.Info("swarm: running %d agents (dry_run=%v)", len(s.Agents), s.Config.DryRun)
	return s.Supervisor.Run(ctx)
}

// Command swarmd is the operator CLI for the swarm-coordination
// substrate, grounded on the teacher SDK's own cmd/polymarket-bot/
// main.go (flag-based CLI, POLYMARKET_PK env var, dry-run gate before
// order submission), generalized from a single-shot bot invocation to
// a long-running supervised agent fleet per spec.md §6.5.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	swarm "github.com/arbswarm/swarm-core"
	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/config"
	"github.com/arbswarm/swarm-core/pkg/ledger"
	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/metrics"
)

// Exit codes per spec.md §6.5.
const (
	exitOK          = 0
	exitConfigError = 2
	exitUnrecovered = 3
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dryRun      = flag.Bool("dry-run", true, "no orders are submitted; all other behavior preserved")
		budgetUSD   = flag.String("budget", "", "seed total capital on first run")
		agentsList  = flag.String("agents", "", "comma-separated subset of strategy names to enable (default: all in --config)")
		storeURL    = flag.String("store-url", "", "postgres connection string (ignored in --dry-run)")
		verbose     = flag.Bool("verbose", false, "debug-level logging")
		reset       = flag.Bool("reset", false, "re-seed an existing ledger's balances")
		configPath  = flag.String("config", "", "path to the YAML allocation file")
		metricsAddr = flag.String("metrics-addr", ":9090", "address for the Prometheus /metrics endpoint")
	)
	flag.Parse()

	if *verbose {
		logger.SetLevel("debug")
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		logger.Error("config: %v", err)
		return exitConfigError
	}

	if *configPath == "" {
		logger.Error("config: --config is required")
		return exitConfigError
	}
	allocations, err := config.LoadAllocations(*configPath)
	if err != nil {
		logger.Error("config: %v", err)
		return exitConfigError
	}

	cfg := swarm.DefaultConfig()
	cfg.DryRun = *dryRun
	cfg.Secrets = secrets
	if *storeURL != "" {
		cfg.PostgresOption = pgOptionFromURL(*storeURL)
	}

	enabled := enabledStrategies(*agentsList, allocations)
	if len(enabled) == 0 {
		logger.Error("config: no strategies enabled (allocation file names none, or --agents matched none)")
		return exitConfigError
	}
	for _, name := range enabled {
		ac := agent.DefaultConfig(name)
		cfg.Agents = append(cfg.Agents, ac)
	}
	cfg.BudgetConfig.Strategies = enabled

	s, err := swarm.New(cfg)
	if err != nil {
		logger.Error("swarm: init failed: %v", err)
		return exitConfigError
	}

	metricsSrv := metrics.Serve(*metricsAddr)
	defer func() { _ = metrics.Shutdown(context.Background(), metricsSrv) }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *budgetUSD != "" {
		total, err := decimal.NewFromString(*budgetUSD)
		if err != nil {
			logger.Error("config: --budget %q is not a valid amount: %v", *budgetUSD, err)
			return exitConfigError
		}
		if err := s.Seed(ctx, total, allocations, *reset); err != nil {
			logger.Error("swarm: %v", err)
			return exitConfigError
		}
	}

	err = s.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("swarm: shutdown complete")
		return exitInterrupted
	}
	if err != nil {
		logger.Critical("swarm: %v", err)
		return exitUnrecovered
	}
	return exitOK
}

func enabledStrategies(flagValue string, allocations config.Allocations) []string {
	if strings.TrimSpace(flagValue) == "" {
		names := make([]string, 0, len(allocations.Strategies))
		for name := range allocations.Strategies {
			names = append(names, name)
		}
		return names
	}
	var names []string
	for _, n := range strings.Split(flagValue, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := allocations.Strategies[n]; !ok {
			logger.Warn("config: --agents names %q, which the allocation file does not define", n)
			continue
		}
		names = append(names, n)
	}
	return names
}

func pgOptionFromURL(url string) ledger.PostgresOption {
	return ledger.PostgresOption{ConnString: url}
}

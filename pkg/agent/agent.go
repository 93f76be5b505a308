// Package agent implements the swarm's polymorphic agent contract and
// the ArbitrageAgent exemplar strategy, per spec.md §4.7/§9's
// polymorphic-agent design note and the two-leg opportunity lifecycle.
package agent

import (
	"context"
	"time"

	"github.com/arbswarm/swarm-core/pkg/signal"
)

// Agent is the capability set every strategy implements: start, stop,
// heartbeat, handle_signal (spec.md §9). AgentSupervisor drives agents
// exclusively through this interface.
type Agent interface {
	// Name identifies the agent for logging and quarantine bookkeeping.
	Name() string

	// Start wires the agent's bus subscriptions and launches its
	// internal goroutine(s). It returns once the agent is running;
	// Run does the blocking work.
	Start(ctx context.Context) error

	// Run blocks until ctx is canceled or the agent hits an
	// unrecoverable error. Heartbeats are sent on hb every interval
	// while Run is alive, satisfying AgentSupervisor's liveness check.
	Run(ctx context.Context, hb chan<- time.Time) error

	// Stop requests a graceful shutdown: open positions are closed or
	// their reservations released before Stop returns or ctx expires.
	Stop(ctx context.Context) error

	// HeartbeatInterval is how often Run must send on hb.
	HeartbeatInterval() time.Duration
}

// SignalHandler is implemented by agents that react to bus signals
// outside their own Run loop's subscriptions (used by the supervisor
// only for documentation purposes; agents typically subscribe directly
// in Start).
type SignalHandler interface {
	HandleSignal(s signal.Signal)
}

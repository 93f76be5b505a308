// Package supervisor implements AgentSupervisor: starts each agent as
// an independently scheduled task, restarts it on missed heartbeat
// with exponential backoff, quarantines agents that restart too often,
// and drives graceful shutdown, per spec.md §4.8.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/metrics"
	"github.com/arbswarm/swarm-core/pkg/signal"
)

// Config configures restart/backoff/quarantine and shutdown behavior.
type Config struct {
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	RestartWindow time.Duration
	MaxRestarts   int
	GracePeriod   time.Duration
}

// DefaultConfig matches spec.md §4.8's recommended defaults.
func DefaultConfig() Config {
	return Config{
		BackoffBase:   5 * time.Second,
		BackoffMax:    60 * time.Second,
		RestartWindow: 15 * time.Minute,
		MaxRestarts:   5,
		GracePeriod:   30 * time.Second,
	}
}

type managedAgent struct {
	agent       agent.Agent
	cancel      context.CancelFunc
	restarts    []time.Time
	quarantined bool
}

// Supervisor is spec.md §4.8's AgentSupervisor.
type Supervisor struct {
	cfg Config
	bus *signal.Bus

	mu      sync.Mutex
	agents  map[string]*managedAgent
	unrecov chan string
}

// New returns a Supervisor publishing RISK_ALERT signals onto bus when
// an agent is quarantined.
func New(cfg Config, bus *signal.Bus) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		bus:     bus,
		agents:  make(map[string]*managedAgent),
		unrecov: make(chan string, 8),
	}
}

// Register adds a agent to be started by Run. Must be called before Run.
func (s *Supervisor) Register(a agent.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.Name()] = &managedAgent{agent: a}
}

// Run starts every registered agent and blocks until ctx is canceled,
// at which point it broadcasts cancellation, waits up to GracePeriod
// for agents to finish, and returns. It returns a non-nil error if any
// agent was quarantined during the run, so callers can map that to
// spec.md §6.5's exit code 3.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	s.mu.Lock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.superviseAgent(ctx, name)
		}(name)
	}

	<-ctx.Done()
	logger.Info("supervisor: shutdown signal received, waiting up to %s for agents to drain", s.cfg.GracePeriod)

	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		s.stopAll(graceCtx)
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("supervisor: all agents drained")
	case <-graceCtx.Done():
		logger.Warn("supervisor: grace period exceeded, forcing termination")
	}

	select {
	case name := <-s.unrecov:
		return fmt.Errorf("supervisor: agent %s quarantined", name)
	default:
		return nil
	}
}

func (s *Supervisor) stopAll(ctx context.Context) {
	s.mu.Lock()
	managed := make([]*managedAgent, 0, len(s.agents))
	for _, m := range s.agents {
		managed = append(managed, m)
	}
	s.mu.Unlock()

	for _, m := range managed {
		s.mu.Lock()
		cancel := m.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	for _, m := range managed {
		if err := m.agent.Stop(ctx); err != nil {
			logger.Warn("supervisor: agent %s stop error: %v", m.agent.Name(), err)
		}
	}
}

// superviseAgent runs one agent's start/monitor/restart loop until the
// top-level ctx is canceled or the agent is quarantined.
func (s *Supervisor) superviseAgent(ctx context.Context, name string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		m := s.agents[name]
		quarantined := m.quarantined
		s.mu.Unlock()
		if quarantined {
			return
		}

		agentCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		m.cancel = cancel
		s.mu.Unlock()

		if err := m.agent.Start(agentCtx); err != nil {
			logger.Error("agent %s: start failed: %v", name, err)
			cancel()
			if !s.recordRestartAndCheckQuarantine(m) {
				return
			}
			s.sleepBackoff(ctx, s.restartCount(m))
			continue
		}

		hb := make(chan time.Time, 1)
		runErr := make(chan error, 1)
		go func() { runErr <- m.agent.Run(agentCtx, hb) }()

		missed := s.monitor(agentCtx, name, hb, m.agent.HeartbeatInterval(), runErr)
		cancel()

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !missed {
			// The agent's own context was canceled while the parent
			// context is still live; do not restart.
			return
		}

		if !s.recordRestartAndCheckQuarantine(m) {
			return
		}
		s.sleepBackoff(ctx, s.restartCount(m))
	}
}

func (s *Supervisor) restartCount(m *managedAgent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(m.restarts)
}

// monitor watches hb and runErr, returning true if the agent should be
// restarted (missed heartbeat, or Run returning, with or without an
// error, while ctx is still live), false once ctx is canceled.
func (s *Supervisor) monitor(ctx context.Context, name string, hb <-chan time.Time, interval time.Duration, runErr <-chan error) bool {
	timeout := interval * 2
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-runErr:
			if ctx.Err() != nil {
				return false // parent canceled Run; this is a normal stop
			}
			if err != nil {
				logger.Error("agent %s: run error: %v", name, err)
			} else {
				logger.Warn("agent %s: run exited unexpectedly without error", name)
			}
			return true
		case <-hb:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		case <-timer.C:
			logger.Warn("agent %s: missed heartbeat (%s), restarting", name, timeout)
			return true
		}
	}
}

// recordRestartAndCheckQuarantine appends a restart timestamp, prunes
// the sliding window, and quarantines the agent if it has restarted
// more than MaxRestarts times within RestartWindow. Returns false if
// the agent was just quarantined.
func (s *Supervisor) recordRestartAndCheckQuarantine(m *managedAgent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := m.restarts[:0]
	for _, t := range m.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.restarts = append(kept, now)
	metrics.AgentRestartsTotal.WithLabelValues(m.agent.Name()).Inc()

	if len(m.restarts) > s.cfg.MaxRestarts {
		m.quarantined = true
		metrics.AgentsQuarantinedTotal.WithLabelValues(m.agent.Name()).Inc()
		logger.Critical("supervisor: agent %s quarantined after %d restarts in %s", m.agent.Name(), len(m.restarts), s.cfg.RestartWindow)
		if s.bus != nil {
			_ = s.bus.Publish(signal.Signal{
				Kind:      signal.KindRiskAlert,
				Priority:  signal.PriorityCritical,
				Source:    "supervisor",
				CreatedAt: time.Now(),
				Payload: signal.RiskAlertPayload{
					Severity: signal.RiskSeverityCritical,
					Scope:    signal.RiskScopeAgent,
					Reason:   fmt.Sprintf("agent %s quarantined after repeated restarts", m.agent.Name()),
				},
			})
		}
		select {
		case s.unrecov <- m.agent.Name():
		default:
		}
		return false
	}
	return true
}

func (s *Supervisor) sleepBackoff(ctx context.Context, attempt int) {
	wait := backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, attempt)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// backoff doubles from base up to max per restart attempt, grounded on
// the attempt-counter reconnect policy of
// GoPolymarket-polymarket-go-sdk/pkg/rtds/impl.go's shouldReconnect,
// generalized from "reconnect a socket" to "restart an agent."
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait > max {
			return max
		}
	}
	return wait
}

// Quarantined returns the names of all currently quarantined agents.
func (s *Supervisor) Quarantined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, m := range s.agents {
		if m.quarantined {
			out = append(out, name)
		}
	}
	return out
}

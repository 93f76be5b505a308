package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbswarm/swarm-core/pkg/signal"
)

type fakeAgent struct {
	name       string
	startCount atomic.Int64
	startErr   error
	runFn      func(ctx context.Context, hb chan<- time.Time) error
	hbInterval time.Duration
	stopped    atomic.Int64
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Start(ctx context.Context) error {
	f.startCount.Add(1)
	return f.startErr
}

func (f *fakeAgent) Run(ctx context.Context, hb chan<- time.Time) error {
	return f.runFn(ctx, hb)
}

func (f *fakeAgent) Stop(ctx context.Context) error {
	f.stopped.Add(1)
	return nil
}

func (f *fakeAgent) HeartbeatInterval() time.Duration { return f.hbInterval }

func healthyRun(ctx context.Context, hb chan<- time.Time) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case hb <- time.Now():
			default:
			}
		}
	}
}

func TestSupervisorRunsHealthyAgentWithoutRestart(t *testing.T) {
	a := &fakeAgent{name: "arb-1", runFn: healthyRun, hbInterval: 10 * time.Millisecond}
	s := New(Config{BackoffBase: 5 * time.Millisecond, BackoffMax: 10 * time.Millisecond, RestartWindow: time.Second, MaxRestarts: 3, GracePeriod: 200 * time.Millisecond}, nil)
	s.Register(a)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), a.startCount.Load())
	require.Empty(t, s.Quarantined())
}

func TestSupervisorRestartsOnMissedHeartbeat(t *testing.T) {
	// Sends one heartbeat then hangs, forcing the supervisor's
	// missed-heartbeat timeout to fire and restart the agent.
	runFn := func(ctx context.Context, hb chan<- time.Time) error {
		select {
		case hb <- time.Now():
		default:
		}
		<-ctx.Done()
		return nil
	}
	a := &fakeAgent{name: "arb-1", runFn: runFn, hbInterval: 10 * time.Millisecond}
	s := New(Config{BackoffBase: 5 * time.Millisecond, BackoffMax: 10 * time.Millisecond, RestartWindow: time.Second, MaxRestarts: 10, GracePeriod: 100 * time.Millisecond}, nil)
	s.Register(a)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	require.Greater(t, a.startCount.Load(), int64(1), "agent should have been restarted at least once")
}

func TestSupervisorQuarantinesAfterMaxRestarts(t *testing.T) {
	runFn := func(ctx context.Context, hb chan<- time.Time) error {
		return nil // exits immediately every time -> monitor treats the unexpected exit as a restart
	}
	a := &fakeAgent{name: "arb-1", runFn: runFn, hbInterval: 5 * time.Millisecond}
	bus := signal.New(signal.DefaultConfig())
	defer bus.Close()

	alerts := make(chan signal.RiskAlertPayload, 1)
	bus.Subscribe(signal.KindRiskAlert, "test", func(s signal.Signal) {
		if p, ok := s.Payload.(signal.RiskAlertPayload); ok {
			select {
			case alerts <- p:
			default:
			}
		}
	})

	s := New(Config{BackoffBase: 2 * time.Millisecond, BackoffMax: 4 * time.Millisecond, RestartWindow: time.Minute, MaxRestarts: 1, GracePeriod: 100 * time.Millisecond}, bus)
	s.Register(a)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)

	require.Error(t, err)
	require.Contains(t, s.Quarantined(), "arb-1")
	select {
	case p := <-alerts:
		require.Equal(t, signal.RiskSeverityCritical, p.Severity)
	case <-time.After(time.Second):
		t.Fatal("expected a RISK_ALERT on quarantine")
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	require.Equal(t, 5*time.Millisecond, backoff(5*time.Millisecond, 100*time.Millisecond, 1))
	require.Equal(t, 10*time.Millisecond, backoff(5*time.Millisecond, 100*time.Millisecond, 2))
	require.Equal(t, 20*time.Millisecond, backoff(5*time.Millisecond, 100*time.Millisecond, 3))
	require.Equal(t, 100*time.Millisecond, backoff(5*time.Millisecond, 100*time.Millisecond, 10))
}

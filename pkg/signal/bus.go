package signal

import (
	"sync/atomic"
	"time"

	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/metrics"
)

const (
	defaultHistoryLen  = 100
	defaultCallbackBudget = 50 * time.Millisecond
	overloadThreshold  = 3
)

// Callback is a subscriber's handler for newly published signals. Per the
// bus contract it MUST NOT block; a callback that panics is isolated and
// logged, and one that exceeds the soft time budget is flagged but not
// unregistered.
type Callback func(Signal)

// Handle identifies a registered subscription, returned by Subscribe and
// consumed by Unsubscribe.
type Handle uint64

// Config tunes the bus's history retention and callback budget.
type Config struct {
	HistoryLen     int
	CallbackBudget time.Duration
}

// DefaultConfig returns the spec.md defaults: 100-entry history rings and
// a 50ms soft per-callback time budget.
func DefaultConfig() Config {
	return Config{HistoryLen: defaultHistoryLen, CallbackBudget: defaultCallbackBudget}
}

type subscription struct {
	handle    Handle
	kind      Kind
	agentID   string
	cb        Callback
	slowCount int
}

type command struct {
	fn   func(*busState)
	done chan struct{}
}

// Bus is the single-process pub/sub dispatcher described in spec.md §4.1.
// All mutable state lives in busState and is only ever touched from the
// dispatcher goroutine started by New; every public method sends a
// closure over a channel and waits for it to run, so there are no locks
// on the in-process hot path.
type Bus struct {
	cfg     Config
	cmds    chan command
	nextID  uint64
	errCount atomic.Int64
	slowCount atomic.Int64
	closed  chan struct{}
}

type busState struct {
	history map[Kind][]Signal
	subs    map[Kind][]*subscription
	byHandle map[Handle]*subscription
}

// New starts the bus's dispatcher goroutine and returns a ready Bus.
func New(cfg Config) *Bus {
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = defaultHistoryLen
	}
	if cfg.CallbackBudget <= 0 {
		cfg.CallbackBudget = defaultCallbackBudget
	}
	b := &Bus{
		cfg:    cfg,
		cmds:   make(chan command, 256),
		closed: make(chan struct{}),
	}
	state := &busState{
		history:  make(map[Kind][]Signal, len(AllKinds)),
		subs:     make(map[Kind][]*subscription, len(AllKinds)),
		byHandle: make(map[Handle]*subscription),
	}
	go b.run(state)
	return b
}

func (b *Bus) run(state *busState) {
	for {
		select {
		case cmd := <-b.cmds:
			cmd.fn(state)
			if cmd.done != nil {
				close(cmd.done)
			}
		case <-b.closed:
			return
		}
	}
}

// exec runs fn on the dispatcher goroutine and blocks until it completes.
func (b *Bus) exec(fn func(*busState)) {
	done := make(chan struct{})
	select {
	case b.cmds <- command{fn: fn, done: done}:
	case <-b.closed:
		return
	}
	<-done
}

// Close stops the dispatcher goroutine. Callbacks in flight complete first.
func (b *Bus) Close() {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
}

// Publish appends the signal to its per-kind history, evicting the oldest
// entry when the ring is full, and immediately fans it out to current
// subscribers of that kind in registration order. Delivery runs on the
// dispatcher goroutine and Publish returns only after every callback has
// returned; LOW-priority signals are skipped for a subscriber flagged as
// overloaded.
func (b *Bus) Publish(s Signal) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := s.Validate(); err != nil {
		return err
	}

	publishStart := time.Now()
	defer func() {
		metrics.PublishLatencySeconds.WithLabelValues(string(s.Kind)).Observe(time.Since(publishStart).Seconds())
	}()

	b.exec(func(st *busState) {
		hist := st.history[s.Kind]
		hist = append(hist, s)
		if len(hist) > b.cfg.HistoryLen {
			hist = hist[len(hist)-b.cfg.HistoryLen:]
		}
		st.history[s.Kind] = hist

		for _, sub := range st.subs[s.Kind] {
			if s.Priority == PriorityLow && sub.slowCount >= overloadThreshold {
				continue // back-pressure: drop LOW deliveries to an overloaded subscriber
			}
			b.deliver(sub, s)
		}
	})
	return nil
}

func (b *Bus) deliver(sub *subscription, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.errCount.Add(1)
			logger.Error("signal: subscriber %s panicked on %s: %v", sub.agentID, s.Kind, r)
		}
	}()
	start := time.Now()
	sub.cb(s)
	if time.Since(start) > b.cfg.CallbackBudget {
		sub.slowCount++
		b.slowCount.Add(1)
	} else if sub.slowCount > 0 {
		sub.slowCount--
	}
}

// Subscribe registers a callback for future publications of kind, returning
// a handle used to unsubscribe. Late subscribers do not see history; call
// Recent for that.
func (b *Bus) Subscribe(kind Kind, agentID string, cb Callback) Handle {
	id := Handle(atomic.AddUint64(&b.nextID, 1))
	sub := &subscription{handle: id, kind: kind, agentID: agentID, cb: cb}
	b.exec(func(st *busState) {
		st.subs[kind] = append(st.subs[kind], sub)
		st.byHandle[id] = sub
	})
	return id
}

// Unsubscribe removes a subscription. It is idempotent.
func (b *Bus) Unsubscribe(h Handle) {
	b.exec(func(st *busState) {
		sub, ok := st.byHandle[h]
		if !ok {
			return
		}
		delete(st.byHandle, h)
		list := st.subs[sub.kind]
		for i, s := range list {
			if s.handle == h {
				st.subs[sub.kind] = append(list[:i], list[i+1:]...)
				break
			}
		}
	})
}

// Recent returns the unexpired subset of history for kind whose age is at
// most window (and, independently, at most its own TTL).
func (b *Bus) Recent(kind Kind, window time.Duration) []Signal {
	now := time.Now()
	var out []Signal
	b.exec(func(st *busState) {
		for _, s := range st.history[kind] {
			if s.Expired(now) {
				continue
			}
			if window > 0 && s.Age(now) > window {
				continue
			}
			out = append(out, s)
		}
	})
	return out
}

// ErrorCount reports how many subscriber callbacks have panicked since
// startup, isolated by the dispatcher.
func (b *Bus) ErrorCount() int64 { return b.errCount.Load() }

// SlowCallbackCount reports how many callback invocations have exceeded
// the soft time budget since startup.
func (b *Bus) SlowCallbackCount() int64 { return b.slowCount.Load() }

// SubscriberCount returns the number of live subscriptions for kind,
// mostly useful for tests and diagnostics.
func (b *Bus) SubscriberCount(kind Kind) int {
	var n int
	b.exec(func(st *busState) { n = len(st.subs[kind]) })
	return n
}

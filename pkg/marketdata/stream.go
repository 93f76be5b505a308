// Package marketdata maintains a WebSocket subscription to one venue's
// order book feed, updates OrderBookReplica instances, and derives
// MARKET_STATE signals onto the SignalBus.
package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbswarm/swarm-core/pkg/logger"
	"github.com/arbswarm/swarm-core/pkg/orderbook"
	"github.com/arbswarm/swarm-core/pkg/signal"
)

// ErrTooManyAssets is returned by Subscribe when the combined asset count
// would exceed MaxAssets.
var ErrTooManyAssets = errors.New("marketdata: subscription would exceed max assets")

// Stream is a single WebSocket connection feeding one or more
// OrderBookReplica instances and the SignalBus. Grounded on the
// connect/run/readLoop/pingLoop shape of the teacher SDK's
// pkg/rtds/impl.go and pkg/clob/ws/impl.go, generalized to the explicit
// IDLE/CONNECTING/SUBSCRIBED/STREAMING/RESYNCING/CLOSED state machine
// spec.md §4.3 names.
type Stream struct {
	cfg      Config
	registry *orderbook.Registry
	bus      *signal.Bus

	mu      sync.Mutex
	conn    *websocket.Conn
	assets  map[string]bool
	pending map[string]bool // assets awaiting a fresh snapshot while RESYNCING

	state     atomic.Int32
	lastPong  atomic.Int64 // unix nanos
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New returns a stream that will publish MARKET_STATE signals to bus and
// mirror book state into registry.
func New(cfg Config, registry *orderbook.Registry, bus *signal.Bus) *Stream {
	cfg = cfg.normalize()
	s := &Stream{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		assets:   make(map[string]bool),
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

func (s *Stream) setState(st State) { s.state.Store(int32(st)) }

// Subscribe adds assetIDs to the live subscription set, creating a
// replica for each in the registry, and (if connected) sends an updated
// subscribe message.
func (s *Stream) Subscribe(assetIDs ...string) error {
	s.mu.Lock()
	if len(s.assets)+len(assetIDs) > MaxAssets {
		s.mu.Unlock()
		return ErrTooManyAssets
	}
	for _, id := range assetIDs {
		s.assets[id] = true
		s.registry.GetOrCreate(id)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		return s.sendSubscribe(conn)
	}
	return nil
}

// Unsubscribe removes assetIDs from the live set and destroys their
// replicas.
func (s *Stream) Unsubscribe(assetIDs ...string) {
	s.mu.Lock()
	for _, id := range assetIDs {
		delete(s.assets, id)
		delete(s.pending, id)
		s.registry.Remove(id)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = s.sendSubscribe(conn)
	}
}

func (s *Stream) sendSubscribe(conn *websocket.Conn) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	msg := subscribeMessage{Type: "market", AssetsIDs: ids}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Run connects and drives the reconnect loop until Close is called. It
// blocks; callers should invoke it in its own goroutine.
func (s *Stream) Run() {
	go s.pingLoop()

	attempts := 0
	for {
		if s.closing.Load() {
			s.setState(StateClosed)
			return
		}

		s.setState(StateConnecting)
		conn, err := s.connect()
		if err != nil {
			logger.Error("marketdata: connect error: %v", err)
			time.Sleep(backoff(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempts))
			attempts++
			continue
		}

		s.mu.Lock()
		s.conn = conn
		// A fresh connection must re-snapshot every currently subscribed
		// asset before any delta is trusted.
		s.pending = make(map[string]bool, len(s.assets))
		for id := range s.assets {
			s.pending[id] = true
		}
		s.mu.Unlock()

		if err := s.sendSubscribe(conn); err != nil {
			logger.Error("marketdata: subscribe error: %v", err)
			s.closeConnLocked()
			time.Sleep(backoff(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempts))
			attempts++
			continue
		}
		s.setState(StateSubscribed)
		if s.pendingCount() == 0 {
			s.setState(StateStreaming)
		} else {
			s.setState(StateResyncing)
		}
		attempts = 0

		if err := s.readLoop(conn); err != nil {
			if s.closing.Load() {
				s.setState(StateClosed)
				return
			}
			logger.Error("marketdata: read error: %v", err)
			s.closeConnLocked()
			time.Sleep(backoff(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempts))
			attempts++
			continue
		}
	}
}

func (s *Stream) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Stream) connect() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	s.lastPong.Store(time.Now().UnixNano())
	conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	return conn, nil
}

func (s *Stream) closeConnLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close stops the stream permanently.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.closeConnLocked()
		close(s.done)
	})
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				continue
			}
			if time.Since(time.Unix(0, s.lastPong.Load())) > s.cfg.PongTimeout {
				logger.Warn("marketdata: missed pong within %s, forcing reconnect", s.cfg.PongTimeout)
				s.closeConnLocked()
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeConnLocked()
			}
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			logger.Debug("marketdata: skipping unparseable message: %v", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Stream) dispatch(msg any) {
	switch m := msg.(type) {
	case bookMessage:
		s.handleBook(m)
	case priceChangeMessage:
		s.handlePriceChange(m)
	}
}

func (s *Stream) handleBook(m bookMessage) {
	s.mu.Lock()
	subscribed := s.assets[m.AssetID]
	s.mu.Unlock()
	if !subscribed {
		return
	}

	rep := s.registry.GetOrCreate(m.AssetID)
	rep.ApplySnapshot(toLevels(m.Bids), toLevels(m.Asks))

	s.mu.Lock()
	delete(s.pending, m.AssetID)
	stillPending := len(s.pending)
	s.mu.Unlock()

	if stillPending == 0 && s.State() == StateResyncing {
		s.setState(StateStreaming)
	}
	s.publishMarketState(rep)
}

func (s *Stream) handlePriceChange(m priceChangeMessage) {
	s.mu.Lock()
	subscribed := s.assets[m.AssetID]
	stillResyncing := s.pending[m.AssetID]
	s.mu.Unlock()
	if !subscribed {
		return
	}
	if s.State() == StateResyncing && stillResyncing {
		// Deltas received before this asset's fresh snapshot are discarded.
		return
	}

	side, err := parseSide(m.Side)
	if err != nil {
		logger.Debug("marketdata: %v", err)
		return
	}
	rep := s.registry.GetOrCreate(m.AssetID)
	rep.ApplyDelta(side, m.Price, m.Size)
	s.publishMarketState(rep)
}

func (s *Stream) publishMarketState(rep *orderbook.Replica) {
	if s.bus == nil {
		return
	}
	bid, okBid := rep.BestBid()
	ask, okAsk := rep.BestAsk()
	mid, _ := rep.Mid()

	payload := signal.MarketStatePayload{TokenID: rep.AssetID(), Mid: mid}
	if okBid {
		payload.BestBid = bid.Price
	}
	if okAsk {
		payload.BestAsk = ask.Price
	}
	for _, l := range rep.Depth(orderbook.Bid, 5) {
		payload.DepthSample = append(payload.DepthSample, signal.DepthLevel{Price: l.Price, Size: l.Size})
	}

	err := s.bus.Publish(signal.Signal{
		Kind:      signal.KindMarketState,
		Priority:  signal.PriorityLow,
		Source:    fmt.Sprintf("marketdata:%s", rep.AssetID()),
		CreatedAt: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		logger.Debug("marketdata: publish MARKET_STATE failed: %v", err)
	}
}

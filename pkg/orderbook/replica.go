// Package orderbook implements an in-memory mirror of one market side for
// one asset, fed by snapshot and delta events from a market data stream.
package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Side identifies one of the two book sides.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Level is one aggregated price level: the total size resting at Price.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Replica mirrors best prices and aggregated liquidity for one asset.
// Bids are kept price-descending, asks price-ascending, each as an
// ordered slice. A level is located by binary search in O(log n), but
// inserting or removing a level shifts the slice, so those updates are
// O(n); top-of-book lookup is O(1). A size of zero at a level
// always means the level is absent, never a zero-size entry.
type Replica struct {
	mu      sync.RWMutex
	assetID string
	bids    []Level // descending by price
	asks    []Level // ascending by price
}

// New returns an empty replica for assetID.
func New(assetID string) *Replica {
	return &Replica{assetID: assetID}
}

// AssetID returns the asset this replica mirrors.
func (r *Replica) AssetID() string { return r.assetID }

// ApplySnapshot atomically replaces both sides from a full view. Zero or
// negative-size levels in the input are dropped rather than stored.
func (r *Replica) ApplySnapshot(bids, asks []Level) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = sortedNonZero(bids, true)
	r.asks = sortedNonZero(asks, false)
}

func sortedNonZero(levels []Level, descending bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Size.IsPositive() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return dedupe(out)
}

// dedupe collapses any duplicate price levels left over from a
// pathological snapshot, summing their sizes; input must already be
// sorted by price.
func dedupe(levels []Level) []Level {
	if len(levels) < 2 {
		return levels
	}
	out := levels[:1]
	for _, l := range levels[1:] {
		last := &out[len(out)-1]
		if last.Price.Equal(l.Price) {
			last.Size = last.Size.Add(l.Size)
			continue
		}
		out = append(out, l)
	}
	return out
}

// ApplyDelta inserts, updates, or removes a single price level. size > 0
// upserts the level; size == 0 removes it, and is a no-op if the level
// was already absent.
func (r *Replica) ApplyDelta(side Side, price, size decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	levels, descending := r.sideLocked(side)
	idx, found := search(levels, price, descending)

	switch {
	case size.IsZero() || size.IsNegative():
		if found {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
	case found:
		levels[idx].Size = size
	default:
		levels = append(levels, Level{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = Level{Price: price, Size: size}
	}

	r.setSideLocked(side, levels)
}

func (r *Replica) sideLocked(side Side) (levels []Level, descending bool) {
	if side == Bid {
		return r.bids, true
	}
	return r.asks, false
}

func (r *Replica) setSideLocked(side Side, levels []Level) {
	if side == Bid {
		r.bids = levels
	} else {
		r.asks = levels
	}
}

// search returns the index of price in levels (sorted per descending) and
// whether it was found; if not found, the index is where it should be
// inserted to preserve order.
func search(levels []Level, price decimal.Decimal, descending bool) (int, bool) {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})
	if idx < len(levels) && levels[idx].Price.Equal(price) {
		return idx, true
	}
	return idx, false
}

// BestBid returns the top bid level and whether the bid side is
// non-empty. Callers must check ok before using the level.
func (r *Replica) BestBid() (Level, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bids) == 0 {
		return Level{}, false
	}
	return r.bids[0], true
}

// BestAsk returns the top ask level and whether the ask side is
// non-empty.
func (r *Replica) BestAsk() (Level, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.asks) == 0 {
		return Level{}, false
	}
	return r.asks[0], true
}

// Mid returns the midpoint of best bid and best ask. ok is false unless
// both sides are non-empty.
func (r *Replica) Mid() (decimal.Decimal, bool) {
	bid, okBid := r.BestBid()
	ask, okAsk := r.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	two := decimal.NewFromInt(2)
	return bid.Price.Add(ask.Price).Div(two), true
}

// Depth returns up to n levels for side, best price first.
func (r *Replica) Depth(side Side, n int) []Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	levels, _ := r.sideLocked(side)
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]Level, n)
	copy(out, levels[:n])
	return out
}

// Consistent reports whether best_bid < best_ask, the invariant that must
// hold whenever both sides are non-empty.
func (r *Replica) Consistent() bool {
	bid, okBid := r.BestBid()
	ask, okAsk := r.BestAsk()
	if !okBid || !okAsk {
		return true
	}
	return bid.Price.LessThan(ask.Price)
}

package marketdata

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arbswarm/swarm-core/pkg/orderbook"
)

// subscribeMessage is sent on connect per spec.md §4.3.
type subscribeMessage struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

type wireLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// bookMessage is a full side refresh for one asset.
type bookMessage struct {
	Type    string      `json:"event_type"`
	AssetID string      `json:"asset_id"`
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
}

// priceChangeMessage is a single delta for one asset.
type priceChangeMessage struct {
	Type    string          `json:"event_type"`
	AssetID string          `json:"asset_id"`
	Side    string          `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

type envelope struct {
	EventType string `json:"event_type"`
}

func toLevels(in []wireLevel) []orderbook.Level {
	out := make([]orderbook.Level, len(in))
	for i, l := range in {
		out[i] = orderbook.Level{Price: l.Price, Size: l.Size}
	}
	return out
}

func parseSide(raw string) (orderbook.Side, error) {
	switch raw {
	case "BUY", "bid", "buy":
		return orderbook.Bid, nil
	case "SELL", "ask", "sell":
		return orderbook.Ask, nil
	default:
		return "", fmt.Errorf("marketdata: unrecognized side %q", raw)
	}
}

func decodeMessage(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.EventType {
	case "book":
		var m bookMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "price_change":
		var m priceChangeMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("marketdata: unrecognized event_type %q", env.EventType)
	}
}

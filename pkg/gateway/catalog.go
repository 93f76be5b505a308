// Package gateway provides thin typed wrappers over the external
// services named in spec.md §6.1-§6.2: market catalog discovery and
// order submission/cancellation. Both are built on pkg/transport.Client,
// mirroring the teacher SDK's pkg/gamma.Client (a read-only discovery
// API) and pkg/clob's order-submission surface.
package gateway

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/arbswarm/swarm-core/pkg/transport"
)

// MarketToken is one outcome token of a market descriptor, per
// spec.md §6.1.
type MarketToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// Market is spec.md §6.1's market descriptor.
type Market struct {
	ID          string        `json:"id"`
	Question    string        `json:"question"`
	EndDateISO  string        `json:"end_date_iso"`
	Volume      float64       `json:"volume"`
	Tokens      []MarketToken `json:"tokens"`
}

// MarketCatalog is the inbound-consumed interface spec.md §6.1 names.
type MarketCatalog interface {
	Markets(ctx context.Context, closed bool, limit int) ([]Market, error)
}

// CatalogGateway implements MarketCatalog against the external market
// catalog service. Discovery is advisory per spec.md §6.1: callers must
// not treat its output as authoritative for order construction.
type CatalogGateway struct {
	client  *transport.Client
	timeout time.Duration
}

// CatalogTimeout is spec.md §5's catalog request budget.
const CatalogTimeout = 5 * time.Second

// NewCatalogGateway wraps client with SPEC_FULL §5's 5s catalog timeout.
func NewCatalogGateway(client *transport.Client) *CatalogGateway {
	return &CatalogGateway{client: client, timeout: CatalogTimeout}
}

// Markets fetches GET /markets?closed=<closed>&limit=<limit> per
// spec.md §6.1.
func (g *CatalogGateway) Markets(ctx context.Context, closed bool, limit int) ([]Market, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	q := url.Values{
		"closed": {strconv.FormatBool(closed)},
		"limit":  {strconv.Itoa(limit)},
	}
	var markets []Market
	if err := g.client.Get(ctx, "/markets", q, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbswarm/swarm-core/pkg/agent"
	"github.com/arbswarm/swarm-core/pkg/signal"
	"github.com/arbswarm/swarm-core/pkg/transport"
)

type staticDoer struct {
	responses map[string]string
}

func (d *staticDoer) Do(req *http.Request) (*http.Response, error) {
	key := req.URL.Path
	if req.URL.RawQuery != "" {
		key += "?" + req.URL.RawQuery
	}
	payload, ok := d.responses[key]
	if !ok {
		payload = `{}`
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(payload)),
		Header:     make(http.Header),
	}, nil
}

func TestCatalogGatewayMarkets(t *testing.T) {
	doer := &staticDoer{responses: map[string]string{
		"/markets?closed=false&limit=10": `[{"id":"m1","question":"Will X happen?","tokens":[{"token_id":"y1","outcome":"Yes"},{"token_id":"n1","outcome":"No"}]}]`,
	}}
	g := NewCatalogGateway(transport.NewClient(doer, "http://example"))

	markets, err := g.Markets(context.Background(), false, 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Equal(t, "m1", markets[0].ID)
	require.Len(t, markets[0].Tokens, 2)
}

func TestOrderGatewaySubmit(t *testing.T) {
	doer := &staticDoer{responses: map[string]string{
		"/orders": `{"order_id":"o1","status":"FILLED","filled_size":"50","avg_price":"0.40"}`,
	}}
	g := NewOrderGateway(transport.NewClient(doer, "http://example"))

	var _ agent.OrderGateway = g
	result, err := g.Submit(context.Background(), agent.OrderRequest{
		TokenID:     "y1",
		Side:        signal.SideBuy,
		LimitPrice:  decimal.NewFromFloat(0.41),
		Size:        decimal.NewFromInt(50),
		TimeInForce: agent.TimeInForceIOC,
	})
	require.NoError(t, err)
	require.Equal(t, agent.OrderStatusFilled, result.Status)
	require.True(t, result.FilledSize.Equal(decimal.NewFromInt(50)))
}

func TestOrderGatewayCancel(t *testing.T) {
	doer := &staticDoer{responses: map[string]string{
		"/orders/o1": `{"status":"CANCELED"}`,
	}}
	g := NewOrderGateway(transport.NewClient(doer, "http://example"))
	require.NoError(t, g.Cancel(context.Background(), "o1"))
}

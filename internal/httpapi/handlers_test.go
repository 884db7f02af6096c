package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"matchcore/internal/apperr"
	"matchcore/internal/engine"
	"matchcore/internal/money"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assertNotFoundErr = apperr.New(apperr.NotFound, "order not found")

func mustTestPrice(s string) money.Price {
	p, err := money.ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// stubGateway is the minimal PersistenceGateway a handler test needs: it
// never fails and never looks anything up beyond what was written.
type stubGateway struct {
	orders map[string]engine.Order
	trades []engine.Trade
}

func newStubGateway() *stubGateway {
	return &stubGateway{orders: make(map[string]engine.Order)}
}

func (g *stubGateway) CommitSubmit(_ context.Context, order engine.Order, trades []engine.Trade, counterparties []engine.Order) error {
	g.orders[order.OrderID] = order
	for _, cp := range counterparties {
		g.orders[cp.OrderID] = cp
	}
	g.trades = append(g.trades, trades...)
	return nil
}

func (g *stubGateway) CommitCancel(_ context.Context, order engine.Order) error {
	g.orders[order.OrderID] = order
	return nil
}

func (g *stubGateway) CommitModify(_ context.Context, order engine.Order, _ []engine.Trade, counterparties []engine.Order) error {
	g.orders[order.OrderID] = order
	for _, cp := range counterparties {
		g.orders[cp.OrderID] = cp
	}
	return nil
}

func (g *stubGateway) GetOrder(_ context.Context, orderID string) (engine.Order, error) {
	o, ok := g.orders[orderID]
	if !ok {
		return engine.Order{}, assertNotFoundErr
	}
	return o, nil
}

func (g *stubGateway) ListUserOrders(_ context.Context, userID string) ([]engine.Order, error) {
	var out []engine.Order
	for _, o := range g.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *stubGateway) ListTrades(_ context.Context, symbol string, limit int) ([]engine.Trade, error) {
	var out []engine.Trade
	for i := len(g.trades) - 1; i >= 0; i-- {
		t := g.trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestRouter() (*mux.Router, *engine.MatchingEngine) {
	eng := engine.NewMatchingEngine(newStubGateway())
	router := mux.NewRouter()
	NewHandler(eng).Register(router)
	return router, eng
}

func TestSubmitOrder_CreatesRestingOrder(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(submitOrderRequest{
		UserID: "alice", Symbol: "XYZ", Side: "BUY", Quantity: 10, Price: "50.00",
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp submitOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Order.Status)
	assert.Empty(t, resp.Trades)
}

func TestSubmitOrder_RejectsInvalidSide(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(submitOrderRequest{UserID: "alice", Symbol: "XYZ", Side: "SIDEWAYS", Quantity: 10, Price: "50.00"})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrder_RequiresSymbol(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodDelete, "/orders/some-id", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketDepth_ReflectsRestingOrders(t *testing.T) {
	router, eng := newTestRouter()

	_, _, err := eng.Submit(context.Background(), engine.NewOrderRequest{
		UserID: "alice", Symbol: "XYZ", Side: engine.Buy, Quantity: 10, Price: mustTestPrice("50.00"),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/market/XYZ/depth", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	bids := body["bids"].([]interface{})
	require.Len(t, bids, 1)
}

func TestMarketSummary_IncludesBestPricesAndLastTrade(t *testing.T) {
	router, eng := newTestRouter()

	_, _, err := eng.Submit(context.Background(), engine.NewOrderRequest{
		UserID: "alice", Symbol: "XYZ", Side: engine.Sell, Quantity: 10, Price: mustTestPrice("50.00"),
	})
	require.NoError(t, err)
	_, trades, err := eng.Submit(context.Background(), engine.NewOrderRequest{
		UserID: "bob", Symbol: "XYZ", Side: engine.Buy, Quantity: 4, Price: mustTestPrice("50.00"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	req := httptest.NewRequest(http.MethodGet, "/market/XYZ", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "50.0000", body["best_ask"])
	assert.NotContains(t, body, "best_bid", "no resting bid means no best_bid field")

	lastTrade, ok := body["last_trade"].(map[string]interface{})
	require.True(t, ok, "last_trade must be present once a trade has occurred")
	assert.EqualValues(t, 4, lastTrade["quantity"])
}

func TestHealth_AlwaysOK(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

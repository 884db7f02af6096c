package engine

import (
	"context"
	"sync"
	"testing"

	"matchcore/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory PersistenceGateway stand-in, mirroring the
// shape the Postgres Gateway implements without touching a database.
type fakeGateway struct {
	mu      sync.Mutex
	orders  map[string]Order
	trades  []Trade
	failNextCommit bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: make(map[string]Order)}
}

func (g *fakeGateway) commit(order Order, trades []Trade, counterparties []Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNextCommit {
		g.failNextCommit = false
		return apperr.New(apperr.Persistence, "simulated failure")
	}
	g.orders[order.OrderID] = order
	for _, cp := range counterparties {
		g.orders[cp.OrderID] = cp
	}
	g.trades = append(g.trades, trades...)
	return nil
}

func (g *fakeGateway) CommitSubmit(_ context.Context, order Order, trades []Trade, counterparties []Order) error {
	return g.commit(order, trades, counterparties)
}

func (g *fakeGateway) CommitCancel(_ context.Context, order Order) error {
	return g.commit(order, nil, nil)
}

func (g *fakeGateway) CommitModify(_ context.Context, order Order, trades []Trade, counterparties []Order) error {
	return g.commit(order, trades, counterparties)
}

func (g *fakeGateway) GetOrder(_ context.Context, orderID string) (Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return Order{}, apperr.New(apperr.NotFound, "order not found")
	}
	return o, nil
}

func (g *fakeGateway) ListUserOrders(_ context.Context, userID string) ([]Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Order
	for _, o := range g.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *fakeGateway) ListTrades(_ context.Context, symbol string, limit int) ([]Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Trade
	for _, t := range g.trades {
		if symbol == "" || t.Symbol == symbol {
			out = append(out, t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestMatchingEngine_SubmitAndCross(t *testing.T) {
	gw := newFakeGateway()
	eng := NewMatchingEngine(gw)
	ctx := context.Background()

	price := mustPrice(t, "50.00")
	maker, _, err := eng.Submit(ctx, NewOrderRequest{UserID: "alice", Symbol: "xyz", Side: Sell, Quantity: 10, Price: price})
	require.NoError(t, err)
	assert.Equal(t, "XYZ", maker.Symbol, "symbols are normalized to uppercase")

	taker, trades, err := eng.Submit(ctx, NewOrderRequest{UserID: "bob", Symbol: "XYZ", Side: Buy, Quantity: 10, Price: price})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, Filled, taker.Status)

	persisted, err := eng.GetOrder(ctx, taker.OrderID)
	require.NoError(t, err)
	assert.Equal(t, Filled, persisted.Status)
}

func TestMatchingEngine_SubmitRejectsNonPositiveQuantity(t *testing.T) {
	eng := NewMatchingEngine(newFakeGateway())
	_, _, err := eng.Submit(context.Background(), NewOrderRequest{UserID: "alice", Symbol: "XYZ", Side: Buy, Quantity: 0, Price: mustPrice(t, "10.00")})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestMatchingEngine_RollsBackInMemoryStateOnPersistenceFailure(t *testing.T) {
	gw := newFakeGateway()
	eng := NewMatchingEngine(gw)
	ctx := context.Background()

	gw.failNextCommit = true
	_, _, err := eng.Submit(ctx, NewOrderRequest{UserID: "alice", Symbol: "XYZ", Side: Buy, Quantity: 10, Price: mustPrice(t, "50.00")})
	require.Error(t, err)

	bid, ok, _, _ := eng.BestPrices("XYZ")
	assert.False(t, ok, "failed commit must not leave the order resting in memory")
	_ = bid
}

func TestMatchingEngine_RollsBackCounterpartyFillsOnPersistenceFailure(t *testing.T) {
	gw := newFakeGateway()
	eng := NewMatchingEngine(gw)
	ctx := context.Background()

	_, _, err := eng.Submit(ctx, NewOrderRequest{UserID: "alice", Symbol: "XYZ", Side: Sell, Quantity: 10, Price: mustPrice(t, "50.00")})
	require.NoError(t, err)

	gw.failNextCommit = true
	_, _, err = eng.Submit(ctx, NewOrderRequest{UserID: "bob", Symbol: "XYZ", Side: Buy, Quantity: 10, Price: mustPrice(t, "50.00")})
	require.Error(t, err)

	_, _, ask, askOK := eng.BestPrices("XYZ")
	require.True(t, askOK, "a maker consumed by the rolled-back match must be restored to the book")
	assert.True(t, ask.Equal(mustPrice(t, "50.00")))

	bids, asks := eng.Depth("XYZ", 10)
	assert.Empty(t, bids, "the failed taker must not remain resting either")
	require.Len(t, asks, 1)
	assert.EqualValues(t, 10, asks[0].Quantity, "the maker's restored quantity matches its pre-match remaining")
}

func TestMatchingEngine_CancelUnknownOrderFails(t *testing.T) {
	eng := NewMatchingEngine(newFakeGateway())
	_, err := eng.Cancel(context.Background(), "XYZ", "nope")
	assert.Error(t, err)
}

func TestMatchingEngine_ModifyPersistsCarriedFill(t *testing.T) {
	gw := newFakeGateway()
	eng := NewMatchingEngine(gw)
	ctx := context.Background()

	_, _, err := eng.Submit(ctx, NewOrderRequest{UserID: "alice", Symbol: "XYZ", Side: Sell, Quantity: 5, Price: mustPrice(t, "50.00")})
	require.NoError(t, err)

	taker, trades, err := eng.Submit(ctx, NewOrderRequest{UserID: "bob", Symbol: "XYZ", Side: Buy, Quantity: 10, Price: mustPrice(t, "50.00")})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, Partial, taker.Status)

	newQty := int64(20)
	modified, _, err := eng.Modify(ctx, "XYZ", taker.OrderID, &newQty, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, modified.FilledQuantity, "filled quantity carries through a cancel+resubmit modify")
	assert.EqualValues(t, 20, modified.Quantity)
}

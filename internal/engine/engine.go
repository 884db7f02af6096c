// Package engine implements the matching core: per-symbol order books under
// per-symbol locks, coordinated by MatchingEngine, which hands completed
// matches to a PersistenceGateway. See spec.md §4.4 and §9.
package engine

import (
	"context"
	"strings"
	"sync"

	"matchcore/internal/apperr"
	"matchcore/internal/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PersistenceGateway is the abstract writer/reader the engine hands match
// results to (spec.md §4.5). Implementations must make CommitSubmit and
// CommitModify atomic: either every write in the batch lands, or none does.
type PersistenceGateway interface {
	CommitSubmit(ctx context.Context, order Order, trades []Trade, counterparties []Order) error
	CommitCancel(ctx context.Context, order Order) error
	CommitModify(ctx context.Context, order Order, trades []Trade, counterparties []Order) error

	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]Order, error)
	ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
}

type bookEntry struct {
	book *OrderBook
	mu   sync.Mutex
}

// MatchingEngine is the registry of per-symbol OrderBooks (spec.md §4.4). It
// owns no global lock — different symbols progress fully in parallel, and
// all mutation of a given symbol is linearized by that symbol's mutex.
type MatchingEngine struct {
	persistence PersistenceGateway

	mapMu sync.RWMutex
	books map[string]*bookEntry

	selfTrade SelfTradePolicy
}

// NewMatchingEngine constructs an engine backed by the given persistence
// gateway. Books are created lazily on first reference to a symbol.
func NewMatchingEngine(persistence PersistenceGateway) *MatchingEngine {
	return &MatchingEngine{
		persistence: persistence,
		books:       make(map[string]*bookEntry),
		selfTrade:   AllowSelfTrade,
	}
}

// SetSelfTradePolicy installs a policy applied to every symbol's book from
// this point forward (existing books are updated in place).
func (e *MatchingEngine) SetSelfTradePolicy(p SelfTradePolicy) {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	e.selfTrade = p
	for _, be := range e.books {
		be.book.SetSelfTradePolicy(p)
	}
}

// entryFor returns the bookEntry for symbol, creating it under a write lock
// the first time the symbol is referenced. Mirrors the lazily-created
// per-symbol mutex registry pattern (double-checked under mapMu).
func (e *MatchingEngine) entryFor(symbol string) *bookEntry {
	e.mapMu.RLock()
	be, ok := e.books[symbol]
	e.mapMu.RUnlock()
	if ok {
		return be
	}

	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	if be, ok = e.books[symbol]; ok {
		return be
	}
	be = &bookEntry{book: NewOrderBook(symbol)}
	be.book.SetSelfTradePolicy(e.selfTrade)
	e.books[symbol] = be
	return be
}

// NewOrderRequest is the validated input to Submit.
type NewOrderRequest struct {
	UserID   string
	Symbol   string
	Side     Side
	Quantity int64
	Price    money.Price
}

// Submit places a brand-new order: matches it under the symbol's lock, then
// persists the resulting order/trade/counterparty state in one transaction.
// On persistence failure the in-memory book is rolled back to its pre-call
// state (spec.md §4.5).
func (e *MatchingEngine) Submit(ctx context.Context, req NewOrderRequest) (Order, []Trade, error) {
	symbol := strings.ToUpper(req.Symbol)
	if req.Quantity <= 0 {
		return Order{}, nil, apperr.New(apperr.Validation, "quantity must be positive")
	}

	be := e.entryFor(symbol)
	be.mu.Lock()
	defer be.mu.Unlock()

	order := Order{
		OrderID:  uuid.New().String(),
		UserID:   req.UserID,
		Symbol:   symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
	}

	result, trades, counterparties, undo, err := be.book.Submit(order)
	if err != nil {
		return Order{}, nil, err
	}

	if err := e.persistence.CommitSubmit(ctx, result, trades, counterparties); err != nil {
		be.book.Rollback(result, undo)
		log.Error().Err(err).Str("symbol", symbol).Str("order_id", result.OrderID).Msg("persistence commit failed, rolled back in-memory submit")
		return Order{}, nil, apperr.Wrap(apperr.Persistence, "failed to commit order submission", err)
	}

	log.Info().
		Str("symbol", symbol).
		Str("order_id", result.OrderID).
		Str("status", result.Status.String()).
		Int("trades", len(trades)).
		Msg("order submitted")

	return result, trades, nil
}

// Cancel removes a resting order under its symbol's lock and persists the
// cancellation.
func (e *MatchingEngine) Cancel(ctx context.Context, symbol, orderID string) (Order, error) {
	symbol = strings.ToUpper(symbol)
	be := e.entryFor(symbol)
	be.mu.Lock()
	defer be.mu.Unlock()

	order, err := be.book.Cancel(orderID)
	if err != nil {
		return Order{}, err
	}

	if err := e.persistence.CommitCancel(ctx, order); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Str("order_id", orderID).Msg("persistence commit failed for cancel")
		return Order{}, apperr.Wrap(apperr.Persistence, "failed to commit cancellation", err)
	}

	log.Info().Str("symbol", symbol).Str("order_id", orderID).Msg("order cancelled")
	return order, nil
}

// Modify applies spec.md §4.3 semantics to a resting order.
func (e *MatchingEngine) Modify(ctx context.Context, symbol, orderID string, newQuantity *int64, newPrice *money.Price) (Order, []Trade, error) {
	symbol = strings.ToUpper(symbol)
	be := e.entryFor(symbol)
	be.mu.Lock()
	defer be.mu.Unlock()

	result, trades, counterparties, undo, err := be.book.Modify(orderID, newQuantity, newPrice)
	if err != nil {
		return Order{}, nil, err
	}

	if err := e.persistence.CommitModify(ctx, result, trades, counterparties); err != nil {
		be.book.Rollback(result, undo)
		log.Error().Err(err).Str("symbol", symbol).Str("order_id", orderID).Msg("persistence commit failed, rolled back in-memory modify")
		return Order{}, nil, apperr.Wrap(apperr.Persistence, "failed to commit modification", err)
	}

	log.Info().Str("symbol", symbol).Str("order_id", orderID).Str("status", result.Status.String()).Msg("order modified")
	return result, trades, nil
}

// BestPrices returns the best bid/ask for symbol, each ok=false if that
// side is empty.
func (e *MatchingEngine) BestPrices(symbol string) (bid money.Price, bidOK bool, ask money.Price, askOK bool) {
	be := e.entryFor(strings.ToUpper(symbol))
	be.mu.Lock()
	defer be.mu.Unlock()
	bid, bidOK = be.book.BestBid()
	ask, askOK = be.book.BestAsk()
	return
}

// Depth returns the top n aggregated levels per side for symbol.
func (e *MatchingEngine) Depth(symbol string, n int) (bids, asks []LevelAgg) {
	be := e.entryFor(strings.ToUpper(symbol))
	be.mu.Lock()
	defer be.mu.Unlock()
	return be.book.Depth(n)
}

// Symbols lists every symbol with a lazily-created book so far.
func (e *MatchingEngine) Symbols() []string {
	e.mapMu.RLock()
	defer e.mapMu.RUnlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}

// GetOrder, ListUserOrders and ListTrades are read-only query paths that do
// not need the symbol lock — they are served straight from persistence,
// which is the authoritative source across restarts (spec.md §4.5).
func (e *MatchingEngine) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return e.persistence.GetOrder(ctx, orderID)
}

func (e *MatchingEngine) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	return e.persistence.ListUserOrders(ctx, userID)
}

func (e *MatchingEngine) ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	return e.persistence.ListTrades(ctx, strings.ToUpper(symbol), limit)
}

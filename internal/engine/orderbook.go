package engine

import (
	"container/list"
	"fmt"
	"time"

	"matchcore/internal/apperr"
	"matchcore/internal/money"

	"github.com/tidwall/btree"
)

// priceLevels is an ordered price -> PriceLevel map, per spec.md §4.2's
// recommended "balanced tree (ordered map)" choice — it sidesteps the lazy
// heap-deletion bookkeeping the source's flat-array approach required. The
// teacher's OrderBook already reaches for tidwall/btree for exactly this.
type priceLevels = btree.BTreeG[*PriceLevel]

// LevelAgg is one row of an aggregated depth snapshot.
type LevelAgg struct {
	Price    money.Price
	Quantity int64
}

// SelfTradePolicy decides whether a taker may match against a resting order
// from the same user. spec.md §9 leaves self-trade prevention as an open
// policy question; the default below is "allow", with the hook left so a
// caller can plug in prevention later without touching the matching
// algorithm itself.
type SelfTradePolicy func(taker, maker Order) bool

// AllowSelfTrade is the default SelfTradePolicy: self-trades are permitted.
func AllowSelfTrade(taker, maker Order) bool { return true }

// indexEntry is the id-index's O(1) handle onto a resting order: which side
// and price level it lives on, plus its list element for O(1) removal.
type indexEntry struct {
	side  Side
	level *PriceLevel
	elem  *list.Element
	node  *priceLevelNode
}

// restorePoint is enough state to put one priceLevelNode back exactly the
// way it was before Submit/Modify mutated or removed it: its own fields,
// plus (when it was removed from its list, by the call itself or by
// Rollback's own Cancel of a resting result) the element to reinsert after.
// A nil prevElem with removed=true means "was at the front".
type restorePoint struct {
	level        *PriceLevel
	side         Side
	node         *priceLevelNode
	prevElem     *list.Element
	preRemaining int64
	preOrder     Order
	removed      bool
}

// MatchUndo is an opaque token capturing every in-memory mutation a Submit
// or Modify call made beyond the order's own rest/cancel, so OrderBook.Rollback
// can restore the book to its exact pre-call state when a persistence
// commit fails (spec.md §4.5).
type MatchUndo struct {
	restores []restorePoint
}

// OrderBook is the per-symbol matching structure of spec.md §4.1. It is not
// itself synchronized: every exported method here is documented to run
// under the owning MatchingEngine's per-symbol mutex.
type OrderBook struct {
	Symbol string

	bids *priceLevels
	asks *priceLevels

	index map[string]*indexEntry

	seq      uint64
	tradeSeq uint64

	selfTrade SelfTradePolicy

	now func() time.Time
}

// NewOrderBook constructs an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.Compare(b.Price) > 0 // descending: highest bid first
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.Compare(b.Price) < 0 // ascending: lowest ask first
	})
	return &OrderBook{
		Symbol:    symbol,
		bids:      bids,
		asks:      asks,
		index:     make(map[string]*indexEntry),
		selfTrade: AllowSelfTrade,
		now:       time.Now,
	}
}

// SetSelfTradePolicy overrides the default allow-all policy.
func (b *OrderBook) SetSelfTradePolicy(p SelfTradePolicy) { b.selfTrade = p }

func (b *OrderBook) nextSequence() uint64 {
	b.seq++
	return b.seq
}

func (b *OrderBook) nextTradeID() string {
	b.tradeSeq++
	return fmt.Sprintf("%s-%010d", b.Symbol, b.tradeSeq)
}

func (b *OrderBook) levelsFor(side Side) *priceLevels {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting buy price, if any.
func (b *OrderBook) BestBid() (money.Price, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return money.Price{}, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest resting sell price, if any.
func (b *OrderBook) BestAsk() (money.Price, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return money.Price{}, false
	}
	return lvl.Price, true
}

// Depth returns up to n aggregated levels per side, bids descending and
// asks ascending, as spec.md §4.1 requires.
func (b *OrderBook) Depth(n int) (bids []LevelAgg, asks []LevelAgg) {
	collect := func(tree *priceLevels) []LevelAgg {
		out := make([]LevelAgg, 0, n)
		tree.Scan(func(lvl *PriceLevel) bool {
			if len(out) >= n {
				return false
			}
			var qty int64
			for _, node := range lvl.Orders() {
				qty += node.remaining
			}
			if qty > 0 {
				out = append(out, LevelAgg{Price: lvl.Price, Quantity: qty})
			}
			return true
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// Submit runs the matching algorithm of spec.md §4.1 for a brand-new order,
// then rests any residual quantity. The caller is expected to have already
// validated quantity > 0 and price > 0 (money.NewPrice enforces the latter
// at construction); Submit additionally rejects a zero quantity defensively.
// The returned *MatchUndo, passed to Rollback, undoes everything this call
// did to the book (including a subsequent Cancel of the order's own residual)
// if the caller's persistence commit fails.
func (b *OrderBook) Submit(order Order) (Order, []Trade, []Order, *MatchUndo, error) {
	if order.Quantity <= 0 {
		return Order{}, nil, nil, nil, apperr.New(apperr.Validation, "quantity must be positive")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = b.now()
	}
	order.UpdatedAt = b.now()
	if order.FilledQuantity == 0 {
		order.Status = Pending
	}

	trades, counterparties, newlyFilled, restores := b.match(&order)
	order.FilledQuantity += newlyFilled
	undo := &MatchUndo{restores: restores}

	residual := order.Quantity - order.FilledQuantity
	if residual == 0 {
		order.Status = Filled
		return order, trades, counterparties, undo, nil
	}

	if order.FilledQuantity > 0 {
		order.Status = Partial
	}
	order.Sequence = b.rest(order, residual)
	return order, trades, counterparties, undo, nil
}

// match sweeps the opposite side while it crosses the incoming order's
// limit, emitting trades at the resting (maker) price — the hard contract
// of spec.md §4.1 step 1.c. Returns the trades in execution order, a
// snapshot of every resting (maker) order whose fill state changed so the
// caller can persist them, the quantity newly filled against the incoming
// order during this call (on top of whatever it already carried in
// FilledQuantity), and a restorePoint per touched maker node so the sweep
// can be undone in full if the caller's persistence commit later fails.
func (b *OrderBook) match(incoming *Order) ([]Trade, []Order, int64, []restorePoint) {
	opp := b.levelsFor(incoming.Side.Opposite())

	var trades []Trade
	var counterparties []Order
	var restores []restorePoint
	var filled int64
	remaining := incoming.Quantity - incoming.FilledQuantity

	for remaining > 0 {
		lvl, ok := opp.Min()
		if !ok {
			break
		}
		if !crosses(incoming.Side, incoming.Price, lvl.Price) {
			break
		}

		for remaining > 0 {
			head := lvl.head()
			if head == nil {
				break
			}
			restingNode := head.Value.(*priceLevelNode)

			if !b.selfTrade(*incoming, restingNode.order) {
				// Policy hook rejected this pairing. Stop sweeping
				// entirely rather than skip ahead, so strict price-time
				// priority for everyone resting behind it is preserved.
				remaining = 0
				break
			}

			preRemaining := restingNode.remaining
			preOrder := restingNode.order

			fill := min64(remaining, restingNode.remaining)

			trade := b.makeTrade(incoming, &restingNode.order, lvl.Price, fill)
			trades = append(trades, trade)

			remaining -= fill
			filled += fill
			restingNode.remaining -= fill
			restingNode.order.FilledQuantity += fill

			removed := restingNode.remaining == 0
			if removed {
				restingNode.order.Status = Filled
				restingNode.order.UpdatedAt = trade.ExecutedAt
				delete(b.index, restingNode.order.OrderID)
				lvl.removeHead()
			} else {
				restingNode.order.Status = Partial
				restingNode.order.UpdatedAt = trade.ExecutedAt
			}
			counterparties = append(counterparties, restingNode.order)
			// removeHead always takes the front element, so the undo for a
			// removed node always reinserts at the front (prevElem nil).
			restores = append(restores, restorePoint{
				level:        lvl,
				side:         incoming.Side.Opposite(),
				node:         restingNode,
				prevElem:     nil,
				preRemaining: preRemaining,
				preOrder:     preOrder,
				removed:      removed,
			})
		}

		if lvl.Empty() {
			opp.Delete(lvl)
		}
	}

	return trades, counterparties, filled, restores
}

func crosses(side Side, limit, restingPrice money.Price) bool {
	if side == Buy {
		return restingPrice.LessOrEqual(limit) // best_ask <= p
	}
	return restingPrice.GreaterOrEqual(limit) // best_bid >= p
}

func (b *OrderBook) makeTrade(incoming, resting *Order, price money.Price, qty int64) Trade {
	var buyID, sellID string
	if incoming.Side == Buy {
		buyID, sellID = incoming.OrderID, resting.OrderID
	} else {
		buyID, sellID = resting.OrderID, incoming.OrderID
	}
	return Trade{
		TradeID:     b.nextTradeID(),
		BuyOrderID:  buyID,
		SellOrderID: sellID,
		Symbol:      b.Symbol,
		Quantity:    qty,
		Price:       price,
		ExecutedAt:  b.now(),
	}
}

// rest appends the residual of order to the tail of its price level,
// creating the level if needed, and registers it in the id-index.
func (b *OrderBook) rest(order Order, residual int64) uint64 {
	levels := b.levelsFor(order.Side)

	lvl, ok := levels.Get(&PriceLevel{Price: order.Price})
	if !ok {
		lvl = newPriceLevel(order.Price)
		levels.Set(lvl)
	}

	seq := b.nextSequence()
	order.Sequence = seq
	node := &priceLevelNode{order: order, remaining: residual, sequence: seq}
	elem := lvl.pushBack(node)

	b.index[order.OrderID] = &indexEntry{side: order.Side, level: lvl, elem: elem, node: node}
	return seq
}

// Cancel removes a resting order from its PriceLevel and the id-index.
// Returns NOT_FOUND if the order is unknown or already terminal.
func (b *OrderBook) Cancel(orderID string) (Order, error) {
	entry, ok := b.index[orderID]
	if !ok {
		return Order{}, apperr.New(apperr.NotFound, "order not found or already terminal")
	}

	order := entry.node.order
	order.Status = Cancelled
	order.UpdatedAt = b.now()

	entry.level.remove(entry.elem)
	if entry.level.Empty() {
		b.levelsFor(entry.side).Delete(entry.level)
	}
	delete(b.index, orderID)

	return order, nil
}

// Rollback restores every node match() touched during a Submit or Modify
// call (in reverse order, so siblings land back in their original relative
// order) and, if order itself ended up resting, cancels that resting
// residual too. Pass the Order and *MatchUndo a Submit/Modify call returned;
// safe to call with a nil undo.
func (b *OrderBook) Rollback(order Order, undo *MatchUndo) {
	if order.Status != Filled {
		_, _ = b.Cancel(order.OrderID)
	}
	if undo == nil {
		return
	}
	for i := len(undo.restores) - 1; i >= 0; i-- {
		b.restore(undo.restores[i])
	}
}

func (b *OrderBook) restore(rp restorePoint) {
	rp.node.remaining = rp.preRemaining
	rp.node.order = rp.preOrder
	if !rp.removed {
		return
	}

	var elem *list.Element
	if rp.prevElem != nil {
		elem = rp.level.insertAfter(rp.node, rp.prevElem)
	} else {
		elem = rp.level.pushFront(rp.node)
	}
	b.index[rp.node.order.OrderID] = &indexEntry{side: rp.side, level: rp.level, elem: elem, node: rp.node}

	levels := b.levelsFor(rp.side)
	if _, ok := levels.Get(rp.level); !ok {
		levels.Set(rp.level)
	}
}

// Modify applies spec.md §4.3's modify semantics. newQuantity/newPrice are
// nil when the caller did not request a change to that field. Returns the
// resulting Order (carrying cumulative FilledQuantity and status), any
// trades generated by a resubmit, and a *MatchUndo the caller can pass to
// Rollback if persisting the result fails.
func (b *OrderBook) Modify(orderID string, newQuantity *int64, newPrice *money.Price) (Order, []Trade, []Order, *MatchUndo, error) {
	entry, ok := b.index[orderID]
	if !ok {
		return Order{}, nil, nil, nil, apperr.New(apperr.NotFound, "order not found or already terminal")
	}

	node := entry.node
	current := node.order
	origRemaining := node.remaining
	filled := current.FilledQuantity

	priceChanged := newPrice != nil && !newPrice.Equal(current.Price)
	qtyIncreased := newQuantity != nil && *newQuantity > current.Quantity

	if priceChanged || qtyIncreased {
		resubmit := current
		if newPrice != nil {
			resubmit.Price = *newPrice
		}
		if newQuantity != nil {
			resubmit.Quantity = *newQuantity
		}
		if resubmit.Quantity < filled {
			return Order{}, nil, nil, nil, apperr.New(apperr.InvalidState, "new_quantity must not be less than filled_quantity")
		}

		// Capture the original order's restore point before Cancel detaches
		// its list element — Prev() is only valid while it's still linked.
		origRestore := restorePoint{
			level:        entry.level,
			side:         entry.side,
			node:         entry.node,
			prevElem:     entry.elem.Prev(),
			preRemaining: origRemaining,
			preOrder:     current,
			removed:      true,
		}

		// Cancel + resubmit loses time priority: Submit assigns a fresh
		// sequence when the residual rests again. FilledQuantity carries
		// forward so the persisted totals stay correct; Submit's match()
		// only ever matches the quantity still outstanding.
		if _, err := b.Cancel(orderID); err != nil {
			return Order{}, nil, nil, nil, err
		}
		resubmit.CreatedAt = current.CreatedAt

		result, trades, counterparties, subUndo, err := b.Submit(resubmit)
		if err != nil {
			return Order{}, nil, nil, nil, err
		}

		restores := []restorePoint{origRestore}
		if subUndo != nil {
			restores = append(restores, subUndo.restores...)
		}
		return result, trades, counterparties, &MatchUndo{restores: restores}, nil
	}

	if newQuantity != nil {
		if *newQuantity < filled {
			return Order{}, nil, nil, nil, apperr.New(apperr.InvalidState, "new_quantity must not be less than filled_quantity")
		}
		newRemaining := *newQuantity - filled
		node.remaining = newRemaining
		node.order.Quantity = *newQuantity
		node.order.UpdatedAt = b.now()

		if newRemaining == 0 {
			node.order.Status = Filled
			result := node.order
			prevElem := entry.elem.Prev()
			delete(b.index, orderID)
			entry.level.remove(entry.elem)
			if entry.level.Empty() {
				b.levelsFor(entry.side).Delete(entry.level)
			}
			undo := &MatchUndo{restores: []restorePoint{{
				level: entry.level, side: entry.side, node: node,
				prevElem: prevElem, preRemaining: origRemaining, preOrder: current, removed: true,
			}}}
			return result, nil, nil, undo, nil
		}

		if filled == 0 {
			node.order.Status = Pending
		} else {
			node.order.Status = Partial
		}
		// Rollback cancels a still-resting result before restoring, so the
		// undo reinserts the node at its current queue position.
		undo := &MatchUndo{restores: []restorePoint{{
			level: entry.level, side: entry.side, node: node,
			prevElem: entry.elem.Prev(), preRemaining: origRemaining, preOrder: current, removed: true,
		}}}
		return node.order, nil, nil, undo, nil
	}

	// Nothing to change (no field supplied, or only an unchanged price): no-op.
	undo := &MatchUndo{restores: []restorePoint{{
		level: entry.level, side: entry.side, node: node,
		prevElem: entry.elem.Prev(), preRemaining: origRemaining, preOrder: current, removed: true,
	}}}
	return current, nil, nil, undo, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

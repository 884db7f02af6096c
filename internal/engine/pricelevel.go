package engine

import (
	"container/list"

	"matchcore/internal/money"
)

// priceLevelNode is the in-book mirror of an Order (spec.md §3's
// "OrderNode"): it carries the sequence tiebreak assigned at book insertion
// and the live remaining quantity, while order is a snapshot of the
// authoritative fields needed to emit trades and persist fills.
type priceLevelNode struct {
	order     Order
	remaining int64
	sequence  uint64
}

// PriceLevel is a FIFO queue of resting orders at one price on one side.
// container/list gives O(1) head peek/pop, tail append, and O(1) removal of
// an arbitrary element when the caller already holds its *list.Element — the
// "doubly linked structure" spec.md §3 calls for. No third-party queue in
// the reference pack offers intrusive O(1) handle-based removal with FIFO
// order preserved; the standard library's container/list is the idiomatic
// fit here and needs no dependency (see DESIGN.md).
type PriceLevel struct {
	Price  money.Price
	orders *list.List
}

func newPriceLevel(p money.Price) *PriceLevel {
	return &PriceLevel{Price: p, orders: list.New()}
}

func (pl *PriceLevel) Empty() bool { return pl.orders.Len() == 0 }

func (pl *PriceLevel) Len() int { return pl.orders.Len() }

// head returns the front node without removing it.
func (pl *PriceLevel) head() *list.Element { return pl.orders.Front() }

// pushBack appends a new node and returns its handle for the id-index.
func (pl *PriceLevel) pushBack(n *priceLevelNode) *list.Element {
	return pl.orders.PushBack(n)
}

// removeHead removes the front node once it is fully consumed.
func (pl *PriceLevel) removeHead() {
	pl.orders.Remove(pl.orders.Front())
}

// pushFront reinserts a node at the head of the queue, used to undo a
// match-driven removeHead when a commit fails and the node must go back to
// the position it was consumed from.
func (pl *PriceLevel) pushFront(n *priceLevelNode) *list.Element {
	return pl.orders.PushFront(n)
}

// insertAfter reinserts a node immediately after mark, used to undo an
// arbitrary-position removal (Cancel) at the position it was removed from.
// mark must still belong to this list.
func (pl *PriceLevel) insertAfter(n *priceLevelNode, mark *list.Element) *list.Element {
	return pl.orders.InsertAfter(n, mark)
}

// remove deletes an arbitrary element in O(1) given its handle (cancel,
// modify-in-place-to-terminal).
func (pl *PriceLevel) remove(e *list.Element) {
	pl.orders.Remove(e)
}

// Orders returns the resting nodes front-to-back, ascending sequence. Used
// by depth aggregation; not on any hot matching path.
func (pl *PriceLevel) Orders() []*priceLevelNode {
	out := make([]*priceLevelNode, 0, pl.orders.Len())
	for e := pl.orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*priceLevelNode))
	}
	return out
}

package engine

import (
	"time"

	"matchcore/internal/money"
)

// Order is the authoritative, persisted record for one limit order
// (spec.md §3). Quantities are whole units — fractional quantities are a
// non-goal.
type Order struct {
	OrderID        string
	UserID         string
	Symbol         string
	Side           Side
	Quantity       int64
	Price          money.Price
	Status         Status
	FilledQuantity int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Sequence is the book-insertion tiebreak (§3's "OrderNode" sequence).
	// Zero for an order that never rested (fully filled as a taker without
	// ever touching the book).
	Sequence uint64
}

// Remaining is Quantity - FilledQuantity, kept as a method rather than a
// stored field so it can never drift from its source fields.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Trade is one execution resulting from a crossing match (spec.md §3).
type Trade struct {
	TradeID     string
	BuyOrderID  string
	SellOrderID string
	Symbol      string
	Quantity    int64
	Price       money.Price
	ExecutedAt  time.Time
}

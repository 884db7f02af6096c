package httpapi

import (
	"time"

	"matchcore/internal/engine"
)

// orderDTO is the wire representation of engine.Order (spec.md §6): prices
// travel as decimal strings so no client ever has to reconstruct scale.
type orderDTO struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Quantity       int64     `json:"quantity"`
	Price          string    `json:"price"`
	Status         string    `json:"status"`
	FilledQuantity int64     `json:"filled_quantity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toOrderDTO(o engine.Order) orderDTO {
	return orderDTO{
		OrderID:        o.OrderID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Side:           o.Side.String(),
		Quantity:       o.Quantity,
		Price:          o.Price.String(),
		Status:         o.Status.String(),
		FilledQuantity: o.FilledQuantity,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type tradeDTO struct {
	TradeID     string    `json:"trade_id"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Symbol      string    `json:"symbol"`
	Quantity    int64     `json:"quantity"`
	Price       string    `json:"price"`
	ExecutedAt  time.Time `json:"executed_at"`
}

func toTradeDTO(t engine.Trade) tradeDTO {
	return tradeDTO{
		TradeID:     t.TradeID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Symbol:      t.Symbol,
		Quantity:    t.Quantity,
		Price:       t.Price.String(),
		ExecutedAt:  t.ExecutedAt,
	}
}

func toTradeDTOs(trades []engine.Trade) []tradeDTO {
	out := make([]tradeDTO, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeDTO(t))
	}
	return out
}

type levelDTO struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

func toLevelDTOs(levels []engine.LevelAgg) []levelDTO {
	out := make([]levelDTO, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelDTO{Price: l.Price.String(), Quantity: l.Quantity})
	}
	return out
}

// submitOrderRequest is the POST /orders request body.
type submitOrderRequest struct {
	UserID   string `json:"user_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	Price    string `json:"price"`
}

// modifyOrderRequest is the PUT /orders/{id} request body. Nil fields mean
// "leave unchanged", matching engine.MatchingEngine.Modify's pointer args.
type modifyOrderRequest struct {
	NewQuantity *int64  `json:"new_quantity,omitempty"`
	NewPrice    *string `json:"new_price,omitempty"`
}

type submitOrderResponse struct {
	Order  orderDTO   `json:"order"`
	Trades []tradeDTO `json:"trades"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

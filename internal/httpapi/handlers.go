package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"matchcore/internal/apperr"
	"matchcore/internal/engine"
	"matchcore/internal/money"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Handler groups the HTTP surface of spec.md §6 around a single
// *engine.MatchingEngine.
type Handler struct {
	engine *engine.MatchingEngine
}

// NewHandler builds a Handler over eng.
func NewHandler(eng *engine.MatchingEngine) *Handler {
	return &Handler{engine: eng}
}

// Register wires every route onto router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/orders", h.SubmitOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders/user/{user_id}", h.ListUserOrders).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}", h.ModifyOrder).Methods(http.MethodPut)
	router.HandleFunc("/orders/{id}", h.CancelOrder).Methods(http.MethodDelete)
	router.HandleFunc("/trades", h.ListTrades).Methods(http.MethodGet)
	router.HandleFunc("/market/{symbol}", h.MarketSummary).Methods(http.MethodGet)
	router.HandleFunc("/market/{symbol}/depth", h.MarketDepth).Methods(http.MethodGet)
}

// Health reports liveness; used by orchestrators, never authenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitOrder handles POST /orders.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}

	side, err := engine.ParseSide(req.Side)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid side", err))
		return
	}
	price, err := money.ParsePrice(req.Price)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid price", err))
		return
	}
	if req.UserID == "" || req.Symbol == "" {
		writeError(w, apperr.New(apperr.Validation, "user_id and symbol are required"))
		return
	}

	order, trades, err := h.engine.Submit(r.Context(), engine.NewOrderRequest{
		UserID:   req.UserID,
		Symbol:   req.Symbol,
		Side:     side,
		Quantity: req.Quantity,
		Price:    price,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitOrderResponse{
		Order:  toOrderDTO(order),
		Trades: toTradeDTOs(trades),
	})
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := h.engine.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// CancelOrder handles DELETE /orders/{id}. The symbol is required as a
// query parameter since the id-index lives inside a specific symbol's book.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, apperr.New(apperr.Validation, "symbol query parameter is required"))
		return
	}
	order, err := h.engine.Cancel(r.Context(), symbol, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// ModifyOrder handles PUT /orders/{id}.
func (h *Handler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, apperr.New(apperr.Validation, "symbol query parameter is required"))
		return
	}

	var req modifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}

	var newPrice *money.Price
	if req.NewPrice != nil {
		p, err := money.ParsePrice(*req.NewPrice)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.Validation, "invalid new_price", err))
			return
		}
		newPrice = &p
	}

	order, trades, err := h.engine.Modify(r.Context(), symbol, id, req.NewQuantity, newPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitOrderResponse{
		Order:  toOrderDTO(order),
		Trades: toTradeDTOs(trades),
	})
}

// ListUserOrders handles GET /orders/user/{user_id}.
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	orders, err := h.engine.ListUserOrders(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTrades handles GET /trades?symbol=&limit=.
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	trades, err := h.engine.ListTrades(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeDTOs(trades))
}

// MarketSummary handles GET /market/{symbol}: best bid/ask plus the most
// recent trade, per spec.md §6's `{best_bid, best_ask, last_trade}` shape.
func (h *Handler) MarketSummary(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	bid, bidOK, ask, askOK := h.engine.BestPrices(symbol)

	resp := map[string]interface{}{"symbol": symbol}
	if bidOK {
		resp["best_bid"] = bid.String()
	}
	if askOK {
		resp["best_ask"] = ask.String()
	}

	trades, err := h.engine.ListTrades(r.Context(), symbol, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(trades) > 0 {
		resp["last_trade"] = toTradeDTO(trades[0])
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarketDepth handles GET /market/{symbol}/depth?levels=.
func (h *Handler) MarketDepth(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	levels := 10
	if raw := r.URL.Query().Get("levels"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			levels = n
		}
	}
	bids, asks := h.engine.Depth(symbol, levels)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"bids":   toLevelDTOs(bids),
		"asks":   toLevelDTOs(asks),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

// writeError maps an apperr.Kind to its HTTP status (spec.md §7) and writes
// a JSON error body. Errors that aren't *apperr.Error are treated as
// internal.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", kind.String()).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidState:
		return http.StatusConflict
	case apperr.Persistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package persistence implements engine.PersistenceGateway against
// PostgreSQL, the durable store spec.md §4.5 and §6 describe: the in-memory
// order book is a cache, the Orders/Trades tables are authoritative across
// restarts.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"matchcore/internal/apperr"
	"matchcore/internal/engine"
	"matchcore/internal/money"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	order_id         TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             SMALLINT NOT NULL,
	quantity         BIGINT NOT NULL,
	price            NUMERIC(20,4) NOT NULL,
	status           SMALLINT NOT NULL,
	filled_quantity  BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	sequence         BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders (symbol, status);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id);

CREATE TABLE IF NOT EXISTS trades (
	trade_id      TEXT PRIMARY KEY,
	buy_order_id  TEXT NOT NULL REFERENCES orders(order_id),
	sell_order_id TEXT NOT NULL REFERENCES orders(order_id),
	symbol        TEXT NOT NULL,
	quantity      BIGINT NOT NULL,
	price         NUMERIC(20,4) NOT NULL,
	executed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades (symbol, executed_at DESC);
`

// Gateway implements engine.PersistenceGateway over database/sql and the
// lib/pq driver, following the prepared-statement-per-operation style the
// manangoyal18 matching-engine example uses, plus pq.CopyIn bulk trade
// inserts in the style of quantcup's PersistDeals.
type Gateway struct {
	db *sql.DB

	insertOrderStmt     *sql.Stmt
	updateOrderFillStmt *sql.Stmt
	selectOrderStmt     *sql.Stmt
	selectUserOrders    *sql.Stmt
	selectTradesStmt    *sql.Stmt
}

var _ engine.PersistenceGateway = (*Gateway)(nil)

// New opens a Gateway against an already-open *sql.DB, ensures the schema
// exists, and prepares the statements used on every hot path.
func New(db *sql.DB) (*Gateway, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	g := &Gateway{db: db}
	stmts := []struct {
		dst  **sql.Stmt
		name string
		sql  string
	}{
		{&g.insertOrderStmt, "insert_order", `
			INSERT INTO orders (order_id, user_id, symbol, side, quantity, price, status, filled_quantity, created_at, updated_at, sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (order_id) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				price = EXCLUDED.price,
				status = EXCLUDED.status,
				filled_quantity = EXCLUDED.filled_quantity,
				updated_at = EXCLUDED.updated_at,
				sequence = EXCLUDED.sequence`},
		{&g.updateOrderFillStmt, "update_order_fill", `
			UPDATE orders SET filled_quantity = $2, status = $3, updated_at = $4 WHERE order_id = $1`},
		{&g.selectOrderStmt, "select_order", `
			SELECT order_id, user_id, symbol, side, quantity, price, status, filled_quantity, created_at, updated_at, sequence
			FROM orders WHERE order_id = $1`},
		{&g.selectUserOrders, "select_user_orders", `
			SELECT order_id, user_id, symbol, side, quantity, price, status, filled_quantity, created_at, updated_at, sequence
			FROM orders WHERE user_id = $1 ORDER BY created_at DESC`},
		{&g.selectTradesStmt, "select_trades", `
			SELECT trade_id, buy_order_id, sell_order_id, symbol, quantity, price, executed_at
			FROM trades WHERE ($1 = '' OR symbol = $1) ORDER BY executed_at DESC LIMIT $2`},
	}
	for _, s := range stmts {
		stmt, err := db.Prepare(s.sql)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s statement: %w", s.name, err)
		}
		*s.dst = stmt
	}
	return g, nil
}

// Close releases prepared statements. The underlying *sql.DB is owned by
// the caller.
func (g *Gateway) Close() error {
	for _, s := range []*sql.Stmt{g.insertOrderStmt, g.updateOrderFillStmt, g.selectOrderStmt, g.selectUserOrders, g.selectTradesStmt} {
		if s != nil {
			if err := s.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// CommitSubmit atomically persists a new taker order, the trades it
// generated, and the counterparty orders whose fill state changed.
func (g *Gateway) CommitSubmit(ctx context.Context, order engine.Order, trades []engine.Trade, counterparties []engine.Order) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := g.upsertOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := g.insertTrades(ctx, tx, trades); err != nil {
			return err
		}
		return g.updateCounterparties(ctx, tx, counterparties)
	})
}

// CommitCancel atomically persists a cancellation.
func (g *Gateway) CommitCancel(ctx context.Context, order engine.Order) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.StmtContext(ctx, g.updateOrderFillStmt).ExecContext(ctx, order.OrderID, order.FilledQuantity, int(order.Status), order.UpdatedAt)
		return err
	})
}

// CommitModify atomically persists a modified order plus any trades and
// counterparty updates a resubmit produced.
func (g *Gateway) CommitModify(ctx context.Context, order engine.Order, trades []engine.Trade, counterparties []engine.Order) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := g.upsertOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := g.insertTrades(ctx, tx, trades); err != nil {
			return err
		}
		return g.updateCounterparties(ctx, tx, counterparties)
	})
}

func (g *Gateway) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Persistence, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("failed to roll back transaction after error")
		}
		return apperr.Wrap(apperr.Persistence, "transaction failed", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Persistence, "failed to commit transaction", err)
	}
	return nil
}

func (g *Gateway) upsertOrder(ctx context.Context, tx *sql.Tx, o engine.Order) error {
	_, err := tx.StmtContext(ctx, g.insertOrderStmt).ExecContext(ctx,
		o.OrderID, o.UserID, o.Symbol, int(o.Side), o.Quantity, o.Price,
		int(o.Status), o.FilledQuantity, o.CreatedAt, o.UpdatedAt, o.Sequence,
	)
	return err
}

func (g *Gateway) updateCounterparties(ctx context.Context, tx *sql.Tx, counterparties []engine.Order) error {
	stmt := tx.StmtContext(ctx, g.updateOrderFillStmt)
	for _, cp := range counterparties {
		if _, err := stmt.ExecContext(ctx, cp.OrderID, cp.FilledQuantity, int(cp.Status), cp.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

// insertTrades bulk-loads trades via pq.CopyIn within the caller's
// transaction, the same batching approach quantcup's PersistDeals uses for
// its "deals" table.
func (g *Gateway) insertTrades(ctx context.Context, tx *sql.Tx, trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("trades", "trade_id", "buy_order_id", "sell_order_id", "symbol", "quantity", "price", "executed_at"))
	if err != nil {
		return fmt.Errorf("prepare trade copy-in: %w", err)
	}
	for _, t := range trades {
		if t.TradeID == "" {
			t.TradeID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, t.TradeID, t.BuyOrderID, t.SellOrderID, t.Symbol, t.Quantity, t.Price, t.ExecutedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copy-in trade row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush trade copy-in: %w", err)
	}
	return stmt.Close()
}

func (g *Gateway) GetOrder(ctx context.Context, orderID string) (engine.Order, error) {
	row := g.selectOrderStmt.QueryRowContext(ctx, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return engine.Order{}, apperr.New(apperr.NotFound, "order not found")
	}
	if err != nil {
		return engine.Order{}, apperr.Wrap(apperr.Persistence, "failed to load order", err)
	}
	return o, nil
}

func (g *Gateway) ListUserOrders(ctx context.Context, userID string) ([]engine.Order, error) {
	rows, err := g.selectUserOrders.QueryContext(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to list user orders", err)
	}
	defer rows.Close()

	var out []engine.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Persistence, "failed to scan order", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (g *Gateway) ListTrades(ctx context.Context, symbol string, limit int) ([]engine.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := g.selectTradesStmt.QueryContext(ctx, symbol, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Persistence, "failed to list trades", err)
	}
	defer rows.Close()

	var out []engine.Trade
	for rows.Next() {
		var t engine.Trade
		var price money.Price
		if err := rows.Scan(&t.TradeID, &t.BuyOrderID, &t.SellOrderID, &t.Symbol, &t.Quantity, &price, &t.ExecutedAt); err != nil {
			return nil, apperr.Wrap(apperr.Persistence, "failed to scan trade", err)
		}
		t.Price = price
		out = append(out, t)
	}
	return out, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which satisfy it.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s rowScanner) (engine.Order, error) {
	var o engine.Order
	var side, status int
	var price money.Price
	var createdAt, updatedAt time.Time
	err := s.Scan(&o.OrderID, &o.UserID, &o.Symbol, &side, &o.Quantity, &price, &status, &o.FilledQuantity, &createdAt, &updatedAt, &o.Sequence)
	if err != nil {
		return engine.Order{}, err
	}
	o.Side = engine.Side(side)
	o.Status = engine.Status(status)
	o.Price = price
	o.CreatedAt = createdAt
	o.UpdatedAt = updatedAt
	return o, nil
}

package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// --- Models corresponding to DB tables ---
type OrderRecord struct {
	ID           uint64          `db:"id"`
	UserID       int64           `db:"user_id"`
	InstrumentID string          `db:"instrument_id"`
	Side         string          `db:"side"` // BUY or SELL
	Price        decimal.Decimal `db:"price"`
	Quantity     decimal.Decimal `db:"quantity"`
	Filled       decimal.Decimal `db:"filled"`
	Complete     bool            `db:"complete"`
	Halted       bool            `db:"halted"`
	CreatedAt    time.Time       `db:"created_at"`
}

func (r OrderRecord) ToOrder() (*model.Order, error) {
	side, err := model.ParseSide(r.Side)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", r.ID, err)
	}
	return model.RestoreOrder(model.OrderId(r.ID), r.UserID, r.InstrumentID, side, r.Price, r.Quantity, r.Filled), nil
}

type TradeRecord struct {
	ID           uint64          `db:"id"`
	InstrumentID string          `db:"instrument_id"`
	MakerOrderID uint64          `db:"maker_order_id"`
	TakerOrderID uint64          `db:"taker_order_id"`
	TakerSide    string          `db:"taker_side"`
	Price        decimal.Decimal `db:"price"`
	Quantity     decimal.Decimal `db:"quantity"`
	CreatedAt    time.Time       `db:"created_at"`
}

func (r TradeRecord) ToTrade() model.Trade {
	side, _ := model.ParseSide(r.TakerSide)
	return model.Trade{
		ID:           model.TradeId(r.ID),
		InstrumentID: r.InstrumentID,
		MakerOrderID: model.OrderId(r.MakerOrderID),
		TakerOrderID: model.OrderId(r.TakerOrderID),
		TakerSide:    side,
		Price:        r.Price,
		Quantity:     r.Quantity,
		Timestamp:    r.CreatedAt.UTC(),
	}
}

const orderColumns = `id, user_id, instrument_id, side, price, quantity, filled, complete, halted, created_at`
const tradeColumns = `id, instrument_id, maker_order_id, taker_order_id, taker_side, price, quantity, created_at`

// --- Repository Interface ---
type OrderRepository interface {
	repository.OrderStore
	repository.TradeStore
}

// --- Implementation ---
type orderRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) OrderRepository {
	return &orderRepositoryImpl{db: db}
}

func (r *orderRepositoryImpl) SaveOrder(ctx context.Context, userID int64, instrumentID string, side model.Side, price, quantity decimal.Decimal) (*model.Order, error) {
	var id uint64
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO orders (user_id, instrument_id, side, price, quantity)
         VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		userID, instrumentID, side.String(), price, quantity,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return model.NewOrder(model.OrderId(id), userID, instrumentID, side, price, quantity), nil
}

func (r *orderRepositoryImpl) IsOrderComplete(ctx context.Context, orderID model.OrderId) (bool, error) {
	var complete bool
	err := r.db.GetContext(ctx, &complete, `SELECT complete OR halted FROM orders WHERE id=$1`, uint64(orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("order %d: %w", orderID, repository.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("select order %d: %w", orderID, err)
	}
	return complete, nil
}

func (r *orderRepositoryImpl) MarkHalted(ctx context.Context, orderID model.OrderId) error {
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET halted=true WHERE id=$1`, uint64(orderID))
	if err != nil {
		return fmt.Errorf("mark order %d halted: %w", orderID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("mark order %d halted: %w", orderID, repository.ErrNotFound)
	}
	return nil
}

func (r *orderRepositoryImpl) OpenOrders(ctx context.Context, instrumentID string) ([]*model.Order, error) {
	var records []OrderRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT `+orderColumns+`
         FROM orders WHERE instrument_id=$1 AND complete=false AND halted=false ORDER BY id`,
		instrumentID)
	if err != nil {
		return nil, fmt.Errorf("select open orders: %w", err)
	}
	return toOrders(records)
}

func (r *orderRepositoryImpl) ListOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error) {
	var records []OrderRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT `+orderColumns+`
         FROM orders WHERE user_id=$1 ORDER BY id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("select user orders: %w", err)
	}
	return toOrders(records)
}

func toOrders(records []OrderRecord) ([]*model.Order, error) {
	out := make([]*model.Order, 0, len(records))
	for _, rec := range records {
		o, err := rec.ToOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// SaveTrade inserts the trade and applies the fill to both orders in one transaction.
func (r *orderRepositoryImpl) SaveTrade(ctx context.Context, trade model.Trade) (model.TradeId, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback()

	var id uint64
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO trades (instrument_id, maker_order_id, taker_order_id, taker_side, price, quantity, created_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		trade.InstrumentID, uint64(trade.MakerOrderID), uint64(trade.TakerOrderID), trade.TakerSide.String(),
		trade.Price, trade.Quantity, trade.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET filled = filled + $1, complete = (filled + $1 >= quantity)
         WHERE id IN ($2, $3)`,
		trade.Quantity, uint64(trade.MakerOrderID), uint64(trade.TakerOrderID))
	if err != nil {
		return 0, fmt.Errorf("apply fill: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 2 {
		return 0, fmt.Errorf("apply fill: expected 2 orders updated, got %d: %w", n, repository.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trade: %w", err)
	}
	return model.TradeId(id), nil
}

func (r *orderRepositoryImpl) GetTrades(ctx context.Context, orderID model.OrderId, since *time.Time) ([]model.Trade, error) {
	var records []TradeRecord
	var err error
	if since == nil {
		err = r.db.SelectContext(ctx, &records,
			`SELECT `+tradeColumns+`
             FROM trades WHERE maker_order_id=$1 OR taker_order_id=$1 ORDER BY created_at, id`,
			uint64(orderID))
	} else {
		err = r.db.SelectContext(ctx, &records,
			`SELECT `+tradeColumns+`
             FROM trades WHERE (maker_order_id=$1 OR taker_order_id=$1) AND created_at >= $2 ORDER BY created_at, id`,
			uint64(orderID), *since)
	}
	if err != nil {
		return nil, fmt.Errorf("select trades: %w", err)
	}

	trades := make([]model.Trade, 0, len(records))
	for _, rec := range records {
		trades = append(trades, rec.ToTrade())
	}
	return trades, nil
}

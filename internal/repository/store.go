package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// OrderStore persists orders and assigns their monotonic ids.
//
// An order is terminal once it is fully filled or marked halted. IsOrderComplete reports
// terminal orders and OpenOrders never returns them.
type OrderStore interface {
	SaveOrder(ctx context.Context, userID int64, instrumentID string, side model.Side, price, quantity decimal.Decimal) (*model.Order, error)
	IsOrderComplete(ctx context.Context, orderID model.OrderId) (bool, error)
	// MarkHalted records that matching of the order stopped on a refused settlement.
	// The order takes no further part in matching.
	MarkHalted(ctx context.Context, orderID model.OrderId) error
	OpenOrders(ctx context.Context, instrumentID string) ([]*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error)
}

// TradeStore persists trades. SaveTrade also advances the filled quantity of both orders
// in the same write.
type TradeStore interface {
	SaveTrade(ctx context.Context, trade model.Trade) (model.TradeId, error)
	GetTrades(ctx context.Context, orderID model.OrderId, since *time.Time) ([]model.Trade, error)
}

type InstrumentStore interface {
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
	UpsertInstrument(ctx context.Context, instrument model.Instrument) error
}

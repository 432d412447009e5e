package order

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/engine"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/propagation"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrSettlementHalted = errors.New("settlement halted")
)

const defaultStoreTimeout = 5 * time.Second

type OrderUseCase interface {
	// PlaceOrder persists and matches a limit order. A halted settlement returns the
	// order id together with ErrSettlementHalted.
	PlaceOrder(ctx context.Context, userID int64, instrumentID string, side model.Side, price, quantity decimal.Decimal) (model.OrderId, error)

	SubscribeOrderUpdates(ctx context.Context, orderID model.OrderId, since *time.Time, sub propagation.Subscriber) bool

	GetMarketDepth(ctx context.Context, instrumentID string, levels int) (*model.MarketDepth, error)

	GetTopOfBook(ctx context.Context, instrumentID string) (*model.TopOfBook, error)

	ListInstruments(ctx context.Context) []model.Instrument

	ListOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error)

	RegisterTradeHandler(handler TradeHandler)
}

// TradeHandler receives every settled trade. It runs inside the instrument's critical
// section and must not block.
type TradeHandler func(model.Trade)

// UpdatePropagator is the subset of the propagator the order flow needs.
type UpdatePropagator interface {
	Propagate(trade model.Trade)
	Subscribe(ctx context.Context, orderID model.OrderId, since *time.Time, sub propagation.Subscriber) bool
}

type InstrumentCatalog interface {
	engine.InstrumentLookup
	List() []model.Instrument
}

type OrderUseCaseOpts struct {
	Books        *engine.Registry
	Orders       repository.OrderStore
	Trades       repository.TradeStore
	Instruments  InstrumentCatalog
	Propagator   UpdatePropagator
	MatchWorkers int64
	StoreTimeout time.Duration
	Logger       *zap.Logger
}

type orderUseCaseImpl struct {
	books        *engine.Registry
	orders       repository.OrderStore
	trades       repository.TradeStore
	instruments  InstrumentCatalog
	propagator   UpdatePropagator
	workers      *semaphore.Weighted
	storeTimeout time.Duration

	handlerMu sync.RWMutex
	handlers  []TradeHandler

	logger *zap.Logger
}

func NewOrderUseCase(opts OrderUseCaseOpts) OrderUseCase {
	if opts.MatchWorkers <= 0 {
		opts.MatchWorkers = int64(runtime.NumCPU())
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &orderUseCaseImpl{
		books:        opts.Books,
		orders:       opts.Orders,
		trades:       opts.Trades,
		instruments:  opts.Instruments,
		propagator:   opts.Propagator,
		workers:      semaphore.NewWeighted(opts.MatchWorkers),
		storeTimeout: opts.StoreTimeout,
		logger:       util.OrNop(opts.Logger),
	}
}

func (ou *orderUseCaseImpl) RegisterTradeHandler(handler TradeHandler) {
	ou.handlerMu.Lock()
	defer ou.handlerMu.Unlock()
	ou.handlers = append(ou.handlers, handler)
}

func (ou *orderUseCaseImpl) validate(instrumentID string, side model.Side, price, quantity decimal.Decimal) error {
	if !side.IsValid() {
		return fmt.Errorf("%w: unknown side", ErrInvalidOrder)
	}
	if !price.IsPositive() || !quantity.IsPositive() {
		return fmt.Errorf("%w: price and quantity must be positive", ErrInvalidOrder)
	}
	inst, ok := ou.instruments.Lookup(instrumentID)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownInstrument, instrumentID)
	}
	if quantity.LessThan(inst.MinOrderQuantity) {
		return fmt.Errorf("%w: quantity %s below minimum %s", ErrInvalidOrder, quantity, inst.MinOrderQuantity)
	}
	return nil
}

func (ou *orderUseCaseImpl) PlaceOrder(ctx context.Context, userID int64, instrumentID string, side model.Side, price, quantity decimal.Decimal) (model.OrderId, error) {
	if err := ou.validate(instrumentID, side, price, quantity); err != nil {
		return 0, err
	}

	if err := ou.workers.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer ou.workers.Release(1)

	var (
		orderID model.OrderId
		result  engine.ProcessResult
	)
	err := ou.books.WithBook(ctx, instrumentID, func(book engine.OrderBook) error {
		saveCtx, cancel := context.WithTimeout(ctx, ou.storeTimeout)
		order, err := ou.orders.SaveOrder(saveCtx, userID, instrumentID, side, price, quantity)
		cancel()
		if err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		orderID = order.GetId()
		result = book.ProcessOrder(order, ou.settlement(ctx, instrumentID, side))
		if result == engine.RESULT_HALTED {
			ou.markHalted(ctx, orderID)
		}
		return nil
	})
	if err != nil {
		return orderID, err
	}

	ou.logger.Info("order_processed",
		zap.Uint64("order_id", uint64(orderID)),
		zap.Int64("user_id", userID),
		zap.String("instrument_id", instrumentID),
		zap.Stringer("side", side),
		zap.Stringer("result", result),
	)

	switch result {
	case engine.RESULT_HALTED:
		return orderID, ErrSettlementHalted
	case engine.RESULT_REJECTED:
		return orderID, ErrInvalidOrder
	}
	return orderID, nil
}

// markHalted keeps a halted order out of every later rebuild of its book. It runs under
// the instrument lock, before any rebuild can read the open set.
func (ou *orderUseCaseImpl) markHalted(ctx context.Context, orderID model.OrderId) {
	haltCtx, cancel := context.WithTimeout(ctx, ou.storeTimeout)
	defer cancel()
	if err := ou.orders.MarkHalted(haltCtx, orderID); err != nil {
		ou.logger.Error("mark_halted_failed",
			zap.Uint64("order_id", uint64(orderID)),
			zap.Error(err),
		)
	}
}

// settlement persists each match before it is applied to the book. A store failure
// halts the rest of the match loop.
func (ou *orderUseCaseImpl) settlement(ctx context.Context, instrumentID string, takerSide model.Side) engine.SettlementFunc {
	return func(makerID, takerID model.OrderId, price, quantity decimal.Decimal) bool {
		trade := model.NewTrade(instrumentID, makerID, takerID, takerSide, price, quantity)

		saveCtx, cancel := context.WithTimeout(ctx, ou.storeTimeout)
		id, err := ou.trades.SaveTrade(saveCtx, trade)
		cancel()
		if err != nil {
			ou.logger.Warn("settlement_failed",
				zap.String("instrument_id", instrumentID),
				zap.Uint64("maker_order_id", uint64(makerID)),
				zap.Uint64("taker_order_id", uint64(takerID)),
				zap.Error(err),
			)
			return false
		}
		trade.ID = id

		ou.propagator.Propagate(trade)
		ou.handlerMu.RLock()
		for _, h := range ou.handlers {
			h(trade)
		}
		ou.handlerMu.RUnlock()
		return true
	}
}

func (ou *orderUseCaseImpl) SubscribeOrderUpdates(ctx context.Context, orderID model.OrderId, since *time.Time, sub propagation.Subscriber) bool {
	return ou.propagator.Subscribe(ctx, orderID, since, sub)
}

func (ou *orderUseCaseImpl) GetMarketDepth(ctx context.Context, instrumentID string, levels int) (*model.MarketDepth, error) {
	var depth *model.MarketDepth
	err := ou.books.WithBook(ctx, instrumentID, func(book engine.OrderBook) error {
		depth = book.GetMarketDepth(levels)
		return nil
	})
	return depth, err
}

func (ou *orderUseCaseImpl) GetTopOfBook(ctx context.Context, instrumentID string) (*model.TopOfBook, error) {
	var top *model.TopOfBook
	err := ou.books.WithBook(ctx, instrumentID, func(book engine.OrderBook) error {
		top = book.GetTopOfBook()
		return nil
	})
	return top, err
}

func (ou *orderUseCaseImpl) ListInstruments(ctx context.Context) []model.Instrument {
	return ou.instruments.List()
}

func (ou *orderUseCaseImpl) ListOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error) {
	return ou.orders.ListOrdersByUser(ctx, userID)
}

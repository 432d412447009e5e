package engine

import (
	"sync/atomic"
	"time"

	bookModel "github.com/Yusufzhafir/go-matching-engine/backend/internal/engine/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// SettlementFunc persists a single match before the book applies it.
// Returning false halts matching for the incoming order.
type SettlementFunc func(makerID, takerID model.OrderId, price, quantity decimal.Decimal) bool

type ProcessResult uint8

const (
	// RESULT_REJECTED the order was not matched and not inserted
	RESULT_REJECTED ProcessResult = iota
	// RESULT_HALTED settlement failed; the order stopped matching and was not inserted
	RESULT_HALTED
	// RESULT_RESTING the order rests in the book with remaining quantity
	RESULT_RESTING
	// RESULT_FILLED the order was fully filled
	RESULT_FILLED
)

func (r ProcessResult) String() string {
	switch r {
	case RESULT_REJECTED:
		return "rejected"
	case RESULT_HALTED:
		return "halted"
	case RESULT_RESTING:
		return "resting"
	case RESULT_FILLED:
		return "filled"
	default:
		return "unknown"
	}
}

// OrderBook is the matching structure of a single instrument.
// It is not safe for concurrent use; the Registry serializes access.
type OrderBook interface {
	ProcessOrder(order *model.Order, settle SettlementFunc) ProcessResult
	InstrumentId() string
	OrderSize() int
	HasOrder(id model.OrderId) bool
	GetTopOfBook() *model.TopOfBook
	GetMarketDepth(levels int) *model.MarketDepth
}

type orderBookImpl struct {
	instrumentId string
	bids, asks   *btree.BTree                   // resting orders by (price, id)
	orders       map[model.OrderId]*model.Order // lookup by ID
	size         atomic.Int64
}

func NewOrderBook(instrumentId string) OrderBook {
	return &orderBookImpl{
		instrumentId: instrumentId,
		bids:         btree.New(32), // degree tuned for performance
		asks:         btree.New(32),
		orders:       make(map[model.OrderId]*model.Order),
	}
}

func (o *orderBookImpl) InstrumentId() string {
	return o.instrumentId
}

// OrderSize is safe to call without holding the book's lock.
func (o *orderBookImpl) OrderSize() int {
	return int(o.size.Load())
}

func (o *orderBookImpl) HasOrder(id model.OrderId) bool {
	_, ok := o.orders[id]
	return ok
}

func (o *orderBookImpl) sideOf(side model.Side) *btree.BTree {
	if side == model.BUY {
		return o.bids
	}
	return o.asks
}

// crosses reports whether the incoming order accepts the resting order's price.
func crosses(incoming, resting *model.Order) bool {
	if incoming.GetSide() == model.BUY {
		return incoming.GetPrice().GreaterThanOrEqual(resting.GetPrice())
	}
	return incoming.GetPrice().LessThanOrEqual(resting.GetPrice())
}

func (o *orderBookImpl) ProcessOrder(order *model.Order, settle SettlementFunc) ProcessResult {
	if order == nil || order.GetInstrumentId() != o.instrumentId || !order.GetSide().IsValid() {
		return RESULT_REJECTED
	}
	if _, ok := o.orders[order.GetId()]; ok {
		return RESULT_REJECTED
	}

	opposite := o.sideOf(order.GetSide().Opposite())
	for opposite.Len() > 0 && !order.IsFilled() {
		best := opposite.Min().(bookModel.Entry)
		maker := best.GetOrder()
		if !crosses(order, maker) {
			break
		}

		quantity := decimal.Min(maker.GetRemainingQuantity(), order.GetRemainingQuantity())
		price := maker.GetPrice()

		if !settle(maker.GetId(), order.GetId(), price, quantity) {
			return RESULT_HALTED
		}

		// quantity never exceeds either remaining quantity, Fill cannot fail here
		_ = maker.Fill(quantity)
		_ = order.Fill(quantity)

		if maker.IsFilled() {
			opposite.Delete(best)
			delete(o.orders, maker.GetId())
			o.size.Add(-1)
		}
	}

	if order.IsFilled() {
		return RESULT_FILLED
	}

	o.sideOf(order.GetSide()).ReplaceOrInsert(bookModel.NewEntry(order))
	o.orders[order.GetId()] = order
	o.size.Add(1)
	return RESULT_RESTING
}

// collectLevels aggregates consecutive equal-price entries into at most levels price levels.
func collectLevels(tree *btree.BTree, levels int) []model.MarketDepthLevel {
	out := make([]model.MarketDepthLevel, 0, levels)
	tree.Ascend(func(item btree.Item) bool {
		resting := item.(bookModel.Entry).GetOrder()
		if n := len(out); n > 0 && out[n-1].Price.Equal(resting.GetPrice()) {
			out[n-1].Volume = out[n-1].Volume.Add(resting.GetRemainingQuantity())
			out[n-1].OrderCount++
			return true
		}
		if len(out) >= levels {
			return false // Stop iteration
		}
		out = append(out, model.MarketDepthLevel{
			Price:      resting.GetPrice(),
			Volume:     resting.GetRemainingQuantity(),
			OrderCount: 1,
		})
		return true
	})
	return out
}

func (o *orderBookImpl) GetMarketDepth(levels int) *model.MarketDepth {
	if levels <= 0 {
		levels = 10
	}
	return &model.MarketDepth{
		InstrumentID: o.instrumentId,
		Bids:         collectLevels(o.bids, levels),
		Asks:         collectLevels(o.asks, levels),
		Timestamp:    time.Now().UnixMilli(),
	}
}

// GetTopOfBook returns best bid and ask
func (o *orderBookImpl) GetTopOfBook() *model.TopOfBook {
	tob := &model.TopOfBook{}

	if bids := collectLevels(o.bids, 1); len(bids) > 0 {
		tob.BestBid = &bids[0]
	}
	if asks := collectLevels(o.asks, 1); len(asks) > 0 {
		tob.BestAsk = &asks[0]
	}

	if tob.BestBid != nil && tob.BestAsk != nil {
		spread := tob.BestAsk.Price.Sub(tob.BestBid.Price)
		tob.Spread = &spread
	}

	return tob
}

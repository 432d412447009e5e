package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultBookCapacity = 10_000
)

// OpenOrderLoader returns the unfilled orders of an instrument, used to rebuild a book.
type OpenOrderLoader func(ctx context.Context, instrumentId string) ([]*model.Order, error)

// InstrumentLookup resolves instrument metadata.
type InstrumentLookup interface {
	Lookup(instrumentId string) (model.Instrument, bool)
}

type RegistryOpts struct {
	Capacity    int
	LockShards  int
	Loader      OpenOrderLoader
	Instruments InstrumentLookup
	Logger      *zap.Logger
}

// Registry owns one OrderBook per instrument, bounded in count.
//
// Each instrument has its own lock, kept outside the cache, so a book that is evicted and
// rebuilt can never be matched against concurrently with its predecessor. Different
// instruments never wait on each other.
type Registry struct {
	books       *lru.Cache[string, OrderBook]
	locks       *bookLocks
	loader      OpenOrderLoader
	instruments InstrumentLookup
	logger      *zap.Logger
}

func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultBookCapacity
	}
	r := &Registry{
		locks:       newBookLocks(opts.LockShards),
		loader:      opts.Loader,
		instruments: opts.Instruments,
		logger:      util.OrNop(opts.Logger),
	}
	books, err := lru.NewWithEvict[string, OrderBook](opts.Capacity, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create book cache: %w", err)
	}
	r.books = books
	return r, nil
}

func (r *Registry) onEvict(instrumentId string, book OrderBook) {
	if n := book.OrderSize(); n > 0 {
		r.logger.Warn("evicted_non_empty_book",
			zap.String("instrument_id", instrumentId),
			zap.Int("resting_orders", n),
		)
		return
	}
	r.logger.Debug("evicted_book", zap.String("instrument_id", instrumentId))
}

// WithBook runs fn with exclusive access to the instrument's book, creating it if needed.
func (r *Registry) WithBook(ctx context.Context, instrumentId string, fn func(book OrderBook) error) error {
	release := r.locks.acquire(instrumentId)
	defer release()

	book, err := r.getOrCreate(ctx, instrumentId)
	if err != nil {
		return err
	}
	return fn(book)
}

// ProcessOrder routes the order to its instrument's book.
func (r *Registry) ProcessOrder(ctx context.Context, order *model.Order, settle SettlementFunc) (ProcessResult, error) {
	result := RESULT_REJECTED
	err := r.WithBook(ctx, order.GetInstrumentId(), func(book OrderBook) error {
		result = book.ProcessOrder(order, settle)
		return nil
	})
	return result, err
}

// Len returns the number of resident books.
func (r *Registry) Len() int {
	return r.books.Len()
}

func (r *Registry) Resident(instrumentId string) bool {
	return r.books.Contains(instrumentId)
}

// must be called with the instrument's lock held
func (r *Registry) getOrCreate(ctx context.Context, instrumentId string) (OrderBook, error) {
	if book, ok := r.books.Get(instrumentId); ok {
		return book, nil
	}
	if r.instruments != nil {
		if _, ok := r.instruments.Lookup(instrumentId); !ok {
			return nil, ErrUnknownInstrument
		}
	}

	book := NewOrderBook(instrumentId)
	if r.loader != nil {
		open, err := r.loader(ctx, instrumentId)
		if err != nil {
			return nil, fmt.Errorf("%w: load open orders for %s: %v", ErrBookUnavailable, instrumentId, err)
		}
		r.restore(book, open)
	}

	r.books.Add(instrumentId, book)
	r.logger.Info("book_created",
		zap.String("instrument_id", instrumentId),
		zap.Int("resting_orders", book.OrderSize()),
	)
	return book, nil
}

func refuseAll(model.OrderId, model.OrderId, decimal.Decimal, decimal.Decimal) bool {
	return false
}

// restore replays open orders in arrival order without settling anything. An order that
// would cross the rebuilt book is one whose matching halted earlier; it stays out of memory.
func (r *Registry) restore(book OrderBook, open []*model.Order) {
	sort.Slice(open, func(i, j int) bool { return open[i].GetId() < open[j].GetId() })
	for _, o := range open {
		if o.IsFilled() {
			continue
		}
		if result := book.ProcessOrder(o, refuseAll); result != RESULT_RESTING {
			r.logger.Warn("restore_skipped_order",
				zap.String("instrument_id", book.InstrumentId()),
				zap.Uint64("order_id", uint64(o.GetId())),
				zap.Stringer("result", result),
			)
		}
	}
}

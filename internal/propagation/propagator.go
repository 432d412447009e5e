package propagation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultReplayWorkers     = 10
	DefaultQueueSize         = 4096
	DefaultStoreTimeout      = 5 * time.Second
	DefaultPendingLimit      = 1024
)

var (
	ErrReplayAborted   = errors.New("historical replay aborted")
	ErrPendingOverflow = errors.New("too many live updates buffered during replay")
)

type OrderStatusReader interface {
	IsOrderComplete(ctx context.Context, orderID model.OrderId) (bool, error)
}

type TradeHistoryReader interface {
	// GetTrades returns the trades of the order at or after since (all when nil), oldest first.
	GetTrades(ctx context.Context, orderID model.OrderId, since *time.Time) ([]model.Trade, error)
}

type Opts struct {
	Orders            OrderStatusReader
	Trades            TradeHistoryReader
	KeepAliveInterval time.Duration
	ReplayWorkers     int64
	QueueSize         int
	// PendingLimit caps the live trades buffered per subscriber while its replay runs.
	PendingLimit      int
	StoreTimeout      time.Duration
	Logger            *zap.Logger
}

// Propagator fans settled trades out to the subscribers of the orders involved.
//
// Subscriber lists are copy-on-write: writers replace the slice under mu, readers take the
// current slice and iterate it without holding any lock.
type Propagator struct {
	orders OrderStatusReader
	trades TradeHistoryReader

	mu   sync.RWMutex
	subs map[model.OrderId][]*subscription

	queue        chan model.Trade
	replaySem    *semaphore.Weighted
	keepAlive    time.Duration
	storeTimeout time.Duration
	pendingLimit int

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func New(opts Opts) *Propagator {
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.ReplayWorkers <= 0 {
		opts.ReplayWorkers = DefaultReplayWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Propagator{
		orders:       opts.Orders,
		trades:       opts.Trades,
		subs:         make(map[model.OrderId][]*subscription),
		queue:        make(chan model.Trade, opts.QueueSize),
		replaySem:    semaphore.NewWeighted(opts.ReplayWorkers),
		keepAlive:    opts.KeepAliveInterval,
		storeTimeout: opts.StoreTimeout,
		pendingLimit: opts.PendingLimit,
		ctx:          ctx,
		cancel:       cancel,
		logger:       util.OrNop(opts.Logger),
	}
}

// Run dispatches propagated trades and runs the liveness sweep until ctx is cancelled.
// Call as: go propagator.Run(ctx).
func (p *Propagator) Run(ctx context.Context) {
	defer p.cancel()

	ticker := time.NewTicker(p.keepAlive)
	defer ticker.Stop()

	p.logger.Info("propagator_started", zap.Duration("keepalive_interval", p.keepAlive))
	for {
		select {
		case trade := <-p.queue:
			p.dispatch(trade)
		case <-ticker.C:
			p.Sweep()
		case <-ctx.Done():
			p.logger.Info("propagator_stopped")
			return
		}
	}
}

// Subscribe attaches sub to the updates of orderID. since filters the historical replay.
// The replay runs asynchronously; Subscribe returns false only if the order state could not be read.
func (p *Propagator) Subscribe(ctx context.Context, orderID model.OrderId, since *time.Time, sub Subscriber) bool {
	if sub == nil {
		return false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	complete, err := p.orders.IsOrderComplete(lookupCtx, orderID)
	cancel()
	if err != nil {
		p.logger.Warn("subscribe_order_lookup_failed",
			zap.Uint64("order_id", uint64(orderID)),
			zap.Error(err),
		)
		return false
	}

	s := newSubscription(orderID, sub, p.pendingLimit)
	if !complete {
		p.add(s)
	}
	s.beginReplay()
	p.scheduleReplay(s, since, complete)

	p.logger.Debug("subscribed",
		zap.Uint64("order_id", uint64(orderID)),
		zap.Bool("order_complete", complete),
	)
	return true
}

func (p *Propagator) scheduleReplay(s *subscription, since *time.Time, terminal bool) {
	go func() {
		if err := p.replaySem.Acquire(p.ctx, 1); err != nil {
			p.remove(s)
			s.fail(fmt.Errorf("%w: %v", ErrReplayAborted, err))
			return
		}
		defer p.replaySem.Release(1)
		p.replay(s, since, terminal)
	}()
}

func (p *Propagator) replay(s *subscription, since *time.Time, terminal bool) {
	ctx, cancel := context.WithTimeout(p.ctx, p.storeTimeout)
	trades, err := p.trades.GetTrades(ctx, s.orderID, since)
	cancel()
	if err != nil {
		p.logger.Warn("replay_load_failed",
			zap.Uint64("order_id", uint64(s.orderID)),
			zap.Error(err),
		)
		p.remove(s)
		s.fail(fmt.Errorf("%w: %v", ErrReplayAborted, err))
		return
	}

	if !s.replayHistory(trades) || (!terminal && !s.goLive()) {
		p.remove(s)
		s.fail(s.detachReason())
		return
	}

	if terminal {
		s.complete()
	}
}

// Propagate queues the trade for delivery to the subscribers of its maker and taker orders.
// Trades are delivered in the order they are propagated.
//
// A full queue applies backpressure: the call waits for the dispatcher, and so does the
// settlement that made it. Trades are never dropped while the propagator runs.
func (p *Propagator) Propagate(trade model.Trade) {
	select {
	case p.queue <- trade:
		return
	case <-p.ctx.Done():
		return
	default:
	}

	p.logger.Warn("propagation_queue_full",
		zap.Int("queue_size", cap(p.queue)),
		zap.Uint64("trade_id", uint64(trade.ID)),
		zap.String("instrument_id", trade.InstrumentID),
	)
	select {
	case p.queue <- trade:
	case <-p.ctx.Done():
	}
}

func (p *Propagator) dispatch(trade model.Trade) {
	for _, id := range []model.OrderId{trade.MakerOrderID, trade.TakerOrderID} {
		for _, s := range p.snapshot(id) {
			s.deliver(trade)
		}
	}
}

// Sweep probes every subscriber with a keep-alive and prunes those that are gone.
func (p *Propagator) Sweep() {
	p.mu.RLock()
	all := make(map[model.OrderId][]*subscription, len(p.subs))
	for id, list := range p.subs {
		all[id] = list
	}
	p.mu.RUnlock()

	dead := make(map[*subscription]struct{})
	for _, list := range all {
		for _, s := range list {
			if !s.probe() {
				dead[s] = struct{}{}
			}
		}
	}
	if len(dead) == 0 {
		return
	}

	p.mu.Lock()
	for id, list := range p.subs {
		kept := make([]*subscription, 0, len(list))
		for _, s := range list {
			if _, ok := dead[s]; !ok {
				kept = append(kept, s)
			}
		}
		p.setLocked(id, kept)
	}
	p.mu.Unlock()

	p.logger.Debug("sweep_pruned", zap.Int("subscribers", len(dead)))
}

// Unsubscribe completes and removes every subscriber of the order.
func (p *Propagator) Unsubscribe(orderID model.OrderId) {
	p.mu.Lock()
	list := p.subs[orderID]
	delete(p.subs, orderID)
	p.mu.Unlock()

	for _, s := range list {
		s.complete()
	}
}

// SubscriberCount returns the number of subscribers registered for the order.
func (p *Propagator) SubscriberCount(orderID model.OrderId) int {
	return len(p.snapshot(orderID))
}

// OrderCount returns the number of orders with at least one subscriber.
func (p *Propagator) OrderCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

func (p *Propagator) snapshot(orderID model.OrderId) []*subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subs[orderID]
}

func (p *Propagator) add(s *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.subs[s.orderID]
	next := make([]*subscription, len(cur), len(cur)+1)
	copy(next, cur)
	p.subs[s.orderID] = append(next, s)
}

func (p *Propagator) remove(s *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.subs[s.orderID]
	next := make([]*subscription, 0, len(cur))
	for _, other := range cur {
		if other != s {
			next = append(next, other)
		}
	}
	p.setLocked(s.orderID, next)
}

// no empty lists are kept
func (p *Propagator) setLocked(orderID model.OrderId, list []*subscription) {
	if len(list) == 0 {
		delete(p.subs, orderID)
		return
	}
	p.subs[orderID] = list
}

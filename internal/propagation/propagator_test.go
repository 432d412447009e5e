package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var errGone = errors.New("subscriber gone")

type fakeSubscriber struct {
	mu        sync.Mutex
	updates   []model.OrderUpdate
	completed bool
	failErr   error
	broken    bool
}

func (f *fakeSubscriber) Send(u model.OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errGone
	}
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeSubscriber) Complete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
}

func (f *fakeSubscriber) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeSubscriber) setBroken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = true
}

// fills returns the trade ids delivered as fills, in order.
func (f *fakeSubscriber) fills() []model.TradeId {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]model.TradeId, 0, len(f.updates))
	for _, u := range f.updates {
		if u.Type == model.UPDATE_FILL {
			ids = append(ids, u.TradeID)
		}
	}
	return ids
}

func (f *fakeSubscriber) keepAlives() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.updates {
		if u.Type == model.UPDATE_KEEPALIVE {
			n++
		}
	}
	return n
}

func (f *fakeSubscriber) isCompleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *fakeSubscriber) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

type fakeStore struct {
	mu        sync.Mutex
	complete  map[model.OrderId]bool
	trades    map[model.OrderId][]model.Trade
	statusErr error
	tradesErr error
	gate      chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		complete: make(map[model.OrderId]bool),
		trades:   make(map[model.OrderId][]model.Trade),
	}
}

func (s *fakeStore) IsOrderComplete(_ context.Context, id model.OrderId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete[id], s.statusErr
}

func (s *fakeStore) GetTrades(ctx context.Context, id model.OrderId, since *time.Time) ([]model.Trade, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tradesErr != nil {
		return nil, s.tradesErr
	}
	out := make([]model.Trade, 0)
	for _, t := range s.trades[id] {
		if since == nil || !t.Timestamp.Before(*since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) addTrade(t model.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.MakerOrderID] = append(s.trades[t.MakerOrderID], t)
	s.trades[t.TakerOrderID] = append(s.trades[t.TakerOrderID], t)
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func trade(id model.TradeId, maker, taker model.OrderId) model.Trade {
	return model.Trade{
		ID:           id,
		InstrumentID: "BTC-USD",
		MakerOrderID: maker,
		TakerOrderID: taker,
		TakerSide:    model.SELL,
		Price:        decimal.NewFromInt(65000),
		Quantity:     decimal.New(int64(id), -1),
		Timestamp:    epoch.Add(time.Duration(id) * time.Second),
	}
}

func startPropagator(t *testing.T, store *fakeStore) *Propagator {
	t.Helper()
	return startPropagatorWith(t, Opts{Orders: store, Trades: store})
}

func startPropagatorWith(t *testing.T, opts Opts) *Propagator {
	t.Helper()
	opts.KeepAliveInterval = time.Hour
	opts.StoreTimeout = time.Second
	p := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p
}

func isLive(p *Propagator, orderID model.OrderId) bool {
	list := p.snapshot(orderID)
	if len(list) == 0 {
		return false
	}
	for _, s := range list {
		s.mu.Lock()
		live := s.state == stateLive
		s.mu.Unlock()
		if !live {
			return false
		}
	}
	return true
}

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func TestSubscribeReplaysHistoryThenLive(t *testing.T) {
	store := newFakeStore()
	store.addTrade(trade(1, 10, 20))
	store.addTrade(trade(2, 10, 21))
	p := startPropagator(t, store)

	sub := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, sub))
	assert.Equal(t, 1, p.SubscriberCount(10))

	assert.Eventually(t, func() bool { return isLive(p, 10) }, wait, tick)

	live := trade(3, 10, 22)
	store.addTrade(live)
	p.Propagate(live)

	assert.Eventually(t, func() bool { return len(sub.fills()) == 3 }, wait, tick)
	assert.Equal(t, []model.TradeId{1, 2, 3}, sub.fills())
	assert.False(t, sub.isCompleted())
}

func TestSubscribeSinceFiltersHistory(t *testing.T) {
	store := newFakeStore()
	store.addTrade(trade(1, 10, 20))
	store.addTrade(trade(2, 10, 21))
	store.addTrade(trade(3, 10, 22))
	p := startPropagator(t, store)

	since := trade(2, 0, 0).Timestamp
	sub := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, &since, sub))

	assert.Eventually(t, func() bool { return isLive(p, 10) }, wait, tick)
	assert.Equal(t, []model.TradeId{2, 3}, sub.fills())
}

func TestLiveTradesDuringReplayDeliveredOnceAfterHistory(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	store.addTrade(trade(1, 10, 20))
	p := startPropagator(t, store)

	sub := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, sub))

	// trade 2 is persisted before the replay reads history and also propagated live
	second := trade(2, 10, 21)
	store.addTrade(second)
	p.Propagate(second)
	third := trade(3, 22, 10)
	p.Propagate(third)

	assert.Eventually(t, func() bool {
		s := p.snapshot(10)[0]
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.pending) == 2
	}, wait, tick)
	assert.Empty(t, sub.fills())

	close(store.gate)

	assert.Eventually(t, func() bool { return len(sub.fills()) == 3 }, wait, tick)
	assert.Equal(t, []model.TradeId{1, 2, 3}, sub.fills())
}

func TestSubscribeCompletedOrderReplaysThenCompletes(t *testing.T) {
	store := newFakeStore()
	store.complete[10] = true
	store.addTrade(trade(1, 10, 20))
	store.addTrade(trade(2, 10, 21))
	p := startPropagator(t, store)

	sub := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, sub))
	assert.Equal(t, 0, p.SubscriberCount(10))

	assert.Eventually(t, sub.isCompleted, wait, tick)
	assert.Equal(t, []model.TradeId{1, 2}, sub.fills())
	assert.NoError(t, sub.failure())

	p.Propagate(trade(3, 10, 22))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sub.fills(), 2)
	assert.Equal(t, 0, p.OrderCount())
}

func TestSubscribeFailsWhenOrderStateUnreadable(t *testing.T) {
	store := newFakeStore()
	store.statusErr = errors.New("db down")
	p := startPropagator(t, store)

	sub := &fakeSubscriber{}
	assert.False(t, p.Subscribe(context.Background(), 10, nil, sub))
	assert.False(t, p.Subscribe(context.Background(), 10, nil, nil))
	assert.Equal(t, 0, p.OrderCount())
	assert.Empty(t, sub.fills())
}

func TestReplayLoadFailureDetachesWithError(t *testing.T) {
	store := newFakeStore()
	store.tradesErr = errors.New("timeout")
	p := startPropagator(t, store)

	sub := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, sub))

	assert.Eventually(t, func() bool { return sub.failure() != nil }, wait, tick)
	assert.ErrorIs(t, sub.failure(), ErrReplayAborted)
	assert.False(t, sub.isCompleted())
	assert.Equal(t, 0, p.SubscriberCount(10))
}

func TestReplaySendFailureDetachesWithError(t *testing.T) {
	store := newFakeStore()
	store.addTrade(trade(1, 10, 20))
	p := startPropagator(t, store)

	sub := &fakeSubscriber{broken: true}
	require.True(t, p.Subscribe(context.Background(), 10, nil, sub))

	assert.Eventually(t, func() bool { return sub.failure() != nil }, wait, tick)
	assert.Equal(t, 0, p.OrderCount())
}

func TestPropagateSwallowsDeliveryFailures(t *testing.T) {
	store := newFakeStore()
	p := startPropagator(t, store)

	healthy := &fakeSubscriber{}
	gone := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, gone))
	require.True(t, p.Subscribe(context.Background(), 10, nil, healthy))
	assert.Eventually(t, func() bool { return isLive(p, 10) }, wait, tick)

	gone.setBroken()
	p.Propagate(trade(1, 10, 20))
	p.Propagate(trade(2, 21, 10))

	assert.Eventually(t, func() bool { return len(healthy.fills()) == 2 }, wait, tick)
	// pruning is left to the sweep
	assert.Equal(t, 2, p.SubscriberCount(10))
	assert.NoError(t, gone.failure())
}

func TestSweepPrunesDeadSubscribers(t *testing.T) {
	store := newFakeStore()
	p := startPropagator(t, store)

	alive := &fakeSubscriber{}
	dead := &fakeSubscriber{}
	lonely := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, alive))
	require.True(t, p.Subscribe(context.Background(), 10, nil, dead))
	require.True(t, p.Subscribe(context.Background(), 11, nil, lonely))
	assert.Eventually(t, func() bool { return isLive(p, 10) && isLive(p, 11) }, wait, tick)

	dead.setBroken()
	lonely.setBroken()
	p.Sweep()

	assert.Equal(t, 1, p.SubscriberCount(10))
	assert.Equal(t, 0, p.SubscriberCount(11))
	assert.Equal(t, 1, p.OrderCount())
	assert.Equal(t, 1, alive.keepAlives())
}

func TestUnsubscribeCompletesEverySubscriber(t *testing.T) {
	store := newFakeStore()
	p := startPropagator(t, store)

	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, a))
	require.True(t, p.Subscribe(context.Background(), 10, nil, b))
	assert.Eventually(t, func() bool { return isLive(p, 10) }, wait, tick)

	p.Unsubscribe(10)

	assert.True(t, a.isCompleted())
	assert.True(t, b.isCompleted())
	assert.Equal(t, 0, p.OrderCount())

	p.Propagate(trade(1, 10, 20))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, a.fills())
}

func TestPendingOverflowDuringReplayFailsSubscriber(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	p := startPropagatorWith(t, Opts{Orders: store, Trades: store, PendingLimit: 2})

	sub := &fakeSubscriber{}
	require.True(t, p.Subscribe(context.Background(), 10, nil, sub))

	for id := model.TradeId(1); id <= 3; id++ {
		p.Propagate(trade(id, 10, 20+model.OrderId(id)))
	}
	assert.Eventually(t, func() bool {
		s := p.snapshot(10)[0]
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.state == stateDetached
	}, wait, tick)

	close(store.gate)

	assert.Eventually(t, func() bool { return sub.failure() != nil }, wait, tick)
	assert.ErrorIs(t, sub.failure(), ErrPendingOverflow)
	assert.Empty(t, sub.fills())
	assert.Equal(t, 0, p.SubscriberCount(10))
}

func TestPropagateWaitsAndWarnsWhenQueueFull(t *testing.T) {
	store := newFakeStore()
	core, logs := observer.New(zap.WarnLevel)
	p := New(Opts{
		Orders:            store,
		Trades:            store,
		QueueSize:         1,
		KeepAliveInterval: time.Hour,
		Logger:            zap.New(core),
	})

	// nothing drains the queue yet
	p.Propagate(trade(1, 10, 20))
	done := make(chan struct{})
	go func() {
		p.Propagate(trade(2, 10, 21))
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("propagation_queue_full").Len() == 1
	}, wait, tick)
	select {
	case <-done:
		t.Fatal("trade accepted past a full queue")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)

	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, wait, tick)
}

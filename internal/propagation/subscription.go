package propagation

import (
	"sync"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
)

// Subscriber receives the updates of one order. Send must not block; an error means
// the subscriber is gone.
type Subscriber interface {
	Send(update model.OrderUpdate) error
	Complete()
	Fail(err error)
}

type subState uint8

const (
	stateRegistered subState = iota
	stateReplaying
	stateLive
	stateDetached
	stateTerminal
)

// subscription tracks one (order, subscriber) pair. Live trades that arrive before the
// historical replay finishes are held in pending, up to maxPending, and released once it does.
type subscription struct {
	orderID    model.OrderId
	sub        Subscriber
	maxPending int

	mu       sync.Mutex
	state    subState
	pending  []model.Trade
	replayed map[model.TradeId]struct{}
	detached error
}

func newSubscription(orderID model.OrderId, sub Subscriber, maxPending int) *subscription {
	return &subscription{
		orderID:    orderID,
		sub:        sub,
		maxPending: maxPending,
		state:      stateRegistered,
		replayed:   make(map[model.TradeId]struct{}),
	}
}

func (s *subscription) beginReplay() {
	s.mu.Lock()
	if s.state == stateRegistered {
		s.state = stateReplaying
	}
	s.mu.Unlock()
}

// deliver pushes a live trade. A failed send detaches the subscription; it is removed by the sweep.
func (s *subscription) deliver(trade model.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRegistered, stateReplaying:
		if len(s.pending) >= s.maxPending {
			// the replay notices the detach and fails the subscriber
			s.state = stateDetached
			s.pending = nil
			s.detached = ErrPendingOverflow
			return
		}
		s.pending = append(s.pending, trade)
	case stateLive:
		s.sendLocked(trade)
	}
}

func (s *subscription) sendLocked(trade model.Trade) bool {
	if _, dup := s.replayed[trade.ID]; dup {
		return true
	}
	if err := s.sub.Send(model.NewFillUpdate(s.orderID, trade)); err != nil {
		s.state = stateDetached
		s.pending = nil
		return false
	}
	return true
}

// replayHistory sends the historical trades in order. It returns false, leaving the
// subscription detached, when a send fails or the subscription is no longer replaying.
func (s *subscription) replayHistory(trades []model.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateReplaying {
		return false
	}
	for _, t := range trades {
		if _, dup := s.replayed[t.ID]; dup {
			continue
		}
		if err := s.sub.Send(model.NewFillUpdate(s.orderID, t)); err != nil {
			s.state = stateDetached
			s.pending = nil
			return false
		}
		s.replayed[t.ID] = struct{}{}
	}
	return true
}

// goLive flushes trades buffered during replay, then switches to direct delivery.
// False means the subscription was detached instead.
func (s *subscription) goLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateReplaying {
		return false
	}
	pending := s.pending
	s.pending = nil
	s.state = stateLive
	for _, t := range pending {
		if !s.sendLocked(t) {
			return false
		}
	}
	return true
}

func (s *subscription) detachReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached != nil {
		return s.detached
	}
	return ErrReplayAborted
}

// probe sends a keep-alive. False means the subscription should be pruned.
func (s *subscription) probe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateDetached, stateTerminal:
		return false
	}
	if err := s.sub.Send(model.NewKeepAlive()); err != nil {
		s.state = stateDetached
		s.pending = nil
		return false
	}
	return true
}

// complete ends the stream normally. Only the first terminal transition reaches the subscriber.
func (s *subscription) complete() {
	s.mu.Lock()
	if s.state == stateTerminal {
		s.mu.Unlock()
		return
	}
	s.state = stateTerminal
	s.pending = nil
	s.mu.Unlock()
	s.sub.Complete()
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.state == stateTerminal {
		s.mu.Unlock()
		return
	}
	s.state = stateTerminal
	s.pending = nil
	s.mu.Unlock()
	s.sub.Fail(err)
}

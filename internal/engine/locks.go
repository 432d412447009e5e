package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultLockShards = 64

// bookLocks hands out one mutex per instrument. Entries are reference counted and
// dropped once nobody holds or waits on them, so the table follows the set of
// instruments in use, not the set of resident books.
//
// The shard lock only guards the map and is never held while waiting on a book lock.
type bookLocks struct {
	shards []lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*bookLock
}

type bookLock struct {
	mu   sync.Mutex
	refs int
}

func newBookLocks(shards int) *bookLocks {
	if shards <= 0 {
		shards = DefaultLockShards
	}
	l := &bookLocks{shards: make([]lockShard, shards)}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*bookLock)
	}
	return l
}

func (l *bookLocks) shard(instrumentId string) *lockShard {
	return &l.shards[xxhash.Sum64String(instrumentId)%uint64(len(l.shards))]
}

// acquire blocks until the caller owns the instrument and returns the release func.
func (l *bookLocks) acquire(instrumentId string) func() {
	s := l.shard(instrumentId)

	s.mu.Lock()
	bl, ok := s.locks[instrumentId]
	if !ok {
		bl = &bookLock{}
		s.locks[instrumentId] = bl
	}
	bl.refs++
	s.mu.Unlock()

	bl.mu.Lock()
	return func() {
		bl.mu.Unlock()

		s.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(s.locks, instrumentId)
		}
		s.mu.Unlock()
	}
}

// size returns the number of instruments currently held or waited on.
func (l *bookLocks) size() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}

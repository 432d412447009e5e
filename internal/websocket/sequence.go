package websocket

import (
	"sync"
	"sync/atomic"
)

// sequencer hands out a gap-free sequence number per instrument.
type sequencer struct {
	counters sync.Map // map[string]*atomic.Uint64
}

func (s *sequencer) next(instrumentID string) uint64 {
	v, _ := s.counters.LoadOrStore(instrumentID, new(atomic.Uint64))
	return v.(*atomic.Uint64).Add(1)
}

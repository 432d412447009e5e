package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
)

// orderRecord is the stored form of an order.
type orderRecord struct {
	ID           model.OrderId   `json:"id"`
	UserID       int64           `json:"userId"`
	InstrumentID string          `json:"instrumentId"`
	Side         model.Side      `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Filled       decimal.Decimal `json:"filled"`
	Complete     bool            `json:"complete"`
	Halted       bool            `json:"halted,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (r orderRecord) toOrder() *model.Order {
	return model.RestoreOrder(r.ID, r.UserID, r.InstrumentID, r.Side, r.Price, r.Quantity, r.Filled)
}

// PebbleStore is an embedded order, trade and instrument store.
// Writes that read-modify-write are serialized by mu; every write is a synced batch.
type PebbleStore struct {
	db *pebble.DB

	mu        sync.Mutex
	lastOrder uint64
	lastTrade uint64
}

var (
	_ repository.OrderStore      = (*PebbleStore)(nil)
	_ repository.TradeStore      = (*PebbleStore)(nil)
	_ repository.InstrumentStore = (*PebbleStore)(nil)
)

func NewPebbleStore(path string) (*PebbleStore, error) {
	return openPebble(path, &pebble.Options{})
}

// NewInMemoryPebbleStore is backed by an in-memory filesystem.
func NewInMemoryPebbleStore() (*PebbleStore, error) {
	return openPebble("matching", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &PebbleStore{db: db}
	if s.lastOrder, err = s.readSeq(keyOrderSeq); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.lastTrade, err = s.readSeq(keyTradeSeq); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) readSeq(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence %s: %w", key, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt sequence %s", key)
	}
	return binary.BigEndian.Uint64(val), nil
}

func seqValue(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (s *PebbleStore) getJSON(key []byte, out any) error {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, out)
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, data, nil)
}

// scanIDs collects the id suffixes of every key under prefix.
func (s *PebbleStore) scanIDs(prefix []byte, reverse bool) ([]uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []uint64
	step := iter.Next
	valid := iter.First()
	if reverse {
		step = iter.Prev
		valid = iter.Last()
	}
	for ; valid; valid = step() {
		id, err := idSuffix(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("corrupt index key %q: %w", iter.Key(), err)
		}
		ids = append(ids, id)
	}
	return ids, iter.Error()
}

func (s *PebbleStore) SaveOrder(ctx context.Context, userID int64, instrumentID string, side model.Side, price, quantity decimal.Decimal) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := model.OrderId(s.lastOrder + 1)
	rec := orderRecord{
		ID:           id,
		UserID:       userID,
		InstrumentID: instrumentID,
		Side:         side,
		Price:        price,
		Quantity:     quantity,
		Filled:       decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, orderKey(id), rec); err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	_ = b.Set(openKey(instrumentID, id), nil, nil)
	_ = b.Set(userOrderKey(userID, id), nil, nil)
	_ = b.Set(keyOrderSeq, seqValue(uint64(id)), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.lastOrder = uint64(id)
	return rec.toOrder(), nil
}

func (s *PebbleStore) loadOrder(id model.OrderId) (orderRecord, error) {
	var rec orderRecord
	if err := s.getJSON(orderKey(id), &rec); err != nil {
		return orderRecord{}, fmt.Errorf("order %d: %w", id, err)
	}
	return rec, nil
}

func (s *PebbleStore) IsOrderComplete(ctx context.Context, orderID model.OrderId) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec, err := s.loadOrder(orderID)
	if err != nil {
		return false, err
	}
	return rec.Complete || rec.Halted, nil
}

// MarkHalted flags the order and drops it from the open index in one synced batch.
func (s *PebbleStore) MarkHalted(ctx context.Context, orderID model.OrderId) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadOrder(orderID)
	if err != nil {
		return err
	}
	rec.Halted = true

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, orderKey(orderID), rec); err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_ = b.Delete(openKey(rec.InstrumentID, orderID), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("mark order %d halted: %w", orderID, err)
	}
	return nil
}

func (s *PebbleStore) loadOrders(ids []uint64) ([]*model.Order, error) {
	out := make([]*model.Order, 0, len(ids))
	for _, id := range ids {
		rec, err := s.loadOrder(model.OrderId(id))
		if err != nil {
			return nil, err
		}
		out = append(out, rec.toOrder())
	}
	return out, nil
}

func (s *PebbleStore) OpenOrders(ctx context.Context, instrumentID string) ([]*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.scanIDs(openPrefix(instrumentID), false)
	if err != nil {
		return nil, fmt.Errorf("scan open orders: %w", err)
	}
	return s.loadOrders(ids)
}

func (s *PebbleStore) ListOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.scanIDs(userOrderPrefix(userID), true)
	if err != nil {
		return nil, fmt.Errorf("scan user orders: %w", err)
	}
	return s.loadOrders(ids)
}

// SaveTrade writes the trade, its order indexes and both order fills in one batch.
func (s *PebbleStore) SaveTrade(ctx context.Context, trade model.Trade) (model.TradeId, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	maker, err := s.loadOrder(trade.MakerOrderID)
	if err != nil {
		return 0, err
	}
	taker, err := s.loadOrder(trade.TakerOrderID)
	if err != nil {
		return 0, err
	}

	id := model.TradeId(s.lastTrade + 1)
	trade.ID = id

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, tradeKey(id), trade); err != nil {
		return 0, fmt.Errorf("encode trade: %w", err)
	}
	_ = b.Set(orderTradeKey(trade.MakerOrderID, id), nil, nil)
	_ = b.Set(orderTradeKey(trade.TakerOrderID, id), nil, nil)
	_ = b.Set(keyTradeSeq, seqValue(uint64(id)), nil)

	for _, rec := range []orderRecord{maker, taker} {
		rec.Filled = rec.Filled.Add(trade.Quantity)
		rec.Complete = rec.Filled.GreaterThanOrEqual(rec.Quantity)
		if err := setJSON(b, orderKey(rec.ID), rec); err != nil {
			return 0, fmt.Errorf("encode order: %w", err)
		}
		if rec.Complete {
			_ = b.Delete(openKey(rec.InstrumentID, rec.ID), nil)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("save trade: %w", err)
	}
	s.lastTrade = uint64(id)
	return id, nil
}

func (s *PebbleStore) GetTrades(ctx context.Context, orderID model.OrderId, since *time.Time) ([]model.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.scanIDs(orderTradePrefix(orderID), false)
	if err != nil {
		return nil, fmt.Errorf("scan order trades: %w", err)
	}

	trades := make([]model.Trade, 0, len(ids))
	for _, id := range ids {
		var t model.Trade
		if err := s.getJSON(tradeKey(model.TradeId(id)), &t); err != nil {
			return nil, fmt.Errorf("trade %d: %w", id, err)
		}
		if since != nil && t.Timestamp.Before(*since) {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func (s *PebbleStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(prefixInstrument)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []model.Instrument
	for iter.First(); iter.Valid(); iter.Next() {
		var i model.Instrument
		if err := json.Unmarshal(iter.Value(), &i); err != nil {
			return nil, fmt.Errorf("decode instrument %q: %w", iter.Key(), err)
		}
		out = append(out, i)
	}
	return out, iter.Error()
}

func (s *PebbleStore) UpsertInstrument(ctx context.Context, i model.Instrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("encode instrument: %w", err)
	}
	if err := s.db.Set(instrumentKey(i.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save instrument %s: %w", i.ID, err)
	}
	return nil
}

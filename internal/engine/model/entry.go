package model

import (
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/google/btree"
)

// Entry is a resting order as stored in one side of the book.
type Entry interface {
	btree.Item
	GetOrder() *model.Order
}

// AskEntry ascending by price, then by order id
type AskEntry struct {
	Order *model.Order
}

func (e *AskEntry) Less(than btree.Item) bool {
	other := than.(*AskEntry)
	if c := e.Order.GetPrice().Cmp(other.Order.GetPrice()); c != 0 {
		return c < 0
	}
	return e.Order.GetId() < other.Order.GetId()
}

func (e *AskEntry) GetOrder() *model.Order {
	return e.Order
}

// BidEntry descending by price, then ascending by order id
type BidEntry struct {
	Order *model.Order
}

func (e *BidEntry) Less(than btree.Item) bool {
	other := than.(*BidEntry)
	if c := e.Order.GetPrice().Cmp(other.Order.GetPrice()); c != 0 {
		return c > 0 // Reverse
	}
	return e.Order.GetId() < other.Order.GetId()
}

func (e *BidEntry) GetOrder() *model.Order {
	return e.Order
}

// NewEntry wraps the order for the side it rests on. Returns nil for an invalid side.
func NewEntry(order *model.Order) Entry {
	switch order.GetSide() {
	case model.BUY:
		return &BidEntry{Order: order}
	case model.SELL:
		return &AskEntry{Order: order}
	default:
		return nil
	}
}

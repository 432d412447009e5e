package model

import (
	"testing"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/google/btree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func order(id model.OrderId, side model.Side, price string) *model.Order {
	return model.NewOrder(id, 1, "BTC-USD", side, decimal.RequireFromString(price), decimal.NewFromInt(1))
}

func collect(tree *btree.BTree) []model.OrderId {
	ids := make([]model.OrderId, 0, tree.Len())
	tree.Ascend(func(item btree.Item) bool {
		ids = append(ids, item.(Entry).GetOrder().GetId())
		return true
	})
	return ids
}

func TestAskEntryOrdering(t *testing.T) {
	tree := btree.New(4)
	tree.ReplaceOrInsert(NewEntry(order(3, model.SELL, "101")))
	tree.ReplaceOrInsert(NewEntry(order(2, model.SELL, "100.5")))
	tree.ReplaceOrInsert(NewEntry(order(5, model.SELL, "100.50")))
	tree.ReplaceOrInsert(NewEntry(order(1, model.SELL, "102")))

	assert.Equal(t, []model.OrderId{2, 5, 3, 1}, collect(tree))
}

func TestBidEntryOrdering(t *testing.T) {
	tree := btree.New(4)
	tree.ReplaceOrInsert(NewEntry(order(3, model.BUY, "99")))
	tree.ReplaceOrInsert(NewEntry(order(4, model.BUY, "100")))
	tree.ReplaceOrInsert(NewEntry(order(1, model.BUY, "100")))
	tree.ReplaceOrInsert(NewEntry(order(2, model.BUY, "98")))

	assert.Equal(t, []model.OrderId{1, 4, 3, 2}, collect(tree))
}

func TestNewEntryInvalidSide(t *testing.T) {
	assert.Nil(t, NewEntry(order(1, model.SIDE_UNKNOWN, "1")))
}

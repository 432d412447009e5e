package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Order struct {
	id             OrderId
	userId         int64
	instrumentId   string
	side           Side // BUY or SELL
	price          decimal.Decimal
	totalQuantity  decimal.Decimal
	filledQuantity decimal.Decimal
}

func NewOrder(id OrderId, userId int64, instrumentId string, side Side, price, quantity decimal.Decimal) *Order {
	return &Order{
		id:             id,
		userId:         userId,
		instrumentId:   instrumentId,
		side:           side,
		price:          price,
		totalQuantity:  quantity,
		filledQuantity: decimal.Zero,
	}
}

// RestoreOrder rebuilds an order that already carries fills, as read back from a store.
func RestoreOrder(id OrderId, userId int64, instrumentId string, side Side, price, quantity, filled decimal.Decimal) *Order {
	o := NewOrder(id, userId, instrumentId, side, price, quantity)
	o.filledQuantity = filled
	return o
}

func (o *Order) Fill(quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("fill quantity must be positive for order %d", o.id)
	}
	if quantity.GreaterThan(o.GetRemainingQuantity()) {
		return fmt.Errorf("order cannot be filled for more than its remaining quantity %d", o.id)
	}
	o.filledQuantity = o.filledQuantity.Add(quantity)
	return nil
}

func (o *Order) IsFilled() bool {
	return o.filledQuantity.GreaterThanOrEqual(o.totalQuantity)
}

func (o *Order) GetRemainingQuantity() decimal.Decimal {
	return o.totalQuantity.Sub(o.filledQuantity)
}

func (o *Order) GetFilledQuantity() decimal.Decimal {
	return o.filledQuantity
}

func (o *Order) GetTotalQuantity() decimal.Decimal {
	return o.totalQuantity
}

func (o *Order) GetPrice() decimal.Decimal {
	return o.price
}

func (o *Order) GetId() OrderId {
	return o.id
}

func (o *Order) GetUserId() int64 {
	return o.userId
}

func (o *Order) GetInstrumentId() string {
	return o.instrumentId
}

func (o *Order) GetSide() Side {
	return o.side
}

type OrderId uint64
type TradeId uint64

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type UpdateType string

const (
	UPDATE_FILL      UpdateType = "fill"
	UPDATE_KEEPALIVE UpdateType = "keepalive"
)

// OrderUpdate is what a subscriber of an order receives.
type OrderUpdate struct {
	Type           UpdateType      `json:"type"`
	OrderID        OrderId         `json:"orderId,omitempty"`
	TradeID        TradeId         `json:"tradeId,omitempty"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	TradePrice     decimal.Decimal `json:"tradePrice"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewFillUpdate(orderID OrderId, t Trade) OrderUpdate {
	return OrderUpdate{
		Type:           UPDATE_FILL,
		OrderID:        orderID,
		TradeID:        t.ID,
		FilledQuantity: t.Quantity,
		TradePrice:     t.Price,
		Timestamp:      t.Timestamp,
	}
}

func NewKeepAlive() OrderUpdate {
	return OrderUpdate{Type: UPDATE_KEEPALIVE, Timestamp: time.Now().UTC()}
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single match between a resting maker and an incoming taker.
// Price is always the maker's price.
type Trade struct {
	ID           TradeId         `json:"tradeId"`
	InstrumentID string          `json:"instrumentId"`
	MakerOrderID OrderId         `json:"makerOrderId"`
	TakerOrderID OrderId         `json:"takerOrderId"`
	TakerSide    Side            `json:"takerSide"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    time.Time       `json:"timestamp"`
}

func NewTrade(instrumentID string, maker, taker OrderId, takerSide Side, price, quantity decimal.Decimal) Trade {
	return Trade{
		InstrumentID: instrumentID,
		MakerOrderID: maker,
		TakerOrderID: taker,
		TakerSide:    takerSide,
		Price:        price,
		Quantity:     quantity,
		Timestamp:    time.Now().UTC(),
	}
}

// Involves reports whether the order took part in the trade on either side.
func (t Trade) Involves(id OrderId) bool {
	return t.MakerOrderID == id || t.TakerOrderID == id
}

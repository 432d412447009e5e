package model

import "github.com/shopspring/decimal"

type MarketDepthLevel struct {
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	OrderCount int             `json:"orderCount"`
}

// MarketDepth represents the aggregated order book depth
type MarketDepth struct {
	InstrumentID string             `json:"instrumentId"`
	Bids         []MarketDepthLevel `json:"bids"` // Highest to lowest price
	Asks         []MarketDepthLevel `json:"asks"` // Lowest to highest price
	Timestamp    int64              `json:"timestamp"`
}

// TopOfBook represents best bid/ask
type TopOfBook struct {
	BestBid *MarketDepthLevel `json:"bestBid"`
	BestAsk *MarketDepthLevel `json:"bestAsk"`
	Spread  *decimal.Decimal  `json:"spread,omitempty"`
}

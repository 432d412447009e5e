package model

import "github.com/shopspring/decimal"

type Instrument struct {
	ID               string          `json:"instrumentId" db:"instrument_id"`
	Name             string          `json:"name" db:"name"`
	MinOrderQuantity decimal.Decimal `json:"minOrderQuantity" db:"min_order_quantity"`
	MinDustQuantity  decimal.Decimal `json:"minDustQuantity" db:"min_dust_quantity"`
}

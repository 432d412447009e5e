package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderFill(t *testing.T) {
	o := NewOrder(1, 7, "BTC-USD", BUY, dec("65000"), dec("1.0"))

	require.NoError(t, o.Fill(dec("0.6")))
	assert.True(t, o.GetRemainingQuantity().Equal(dec("0.4")))
	assert.False(t, o.IsFilled())

	require.NoError(t, o.Fill(dec("0.4")))
	assert.True(t, o.IsFilled())
	assert.True(t, o.GetRemainingQuantity().IsZero())
	assert.True(t, o.GetFilledQuantity().Equal(o.GetTotalQuantity()))
}

func TestOrderFillRejectsOverfill(t *testing.T) {
	o := NewOrder(1, 7, "BTC-USD", SELL, dec("1"), dec("0.3"))

	assert.Error(t, o.Fill(dec("0.31")))
	assert.Error(t, o.Fill(decimal.Zero))
	assert.True(t, o.GetFilledQuantity().IsZero())
}

func TestRestoreOrderKeepsFills(t *testing.T) {
	o := RestoreOrder(3, 1, "ETH-USD", SELL, dec("3000"), dec("2"), dec("1.5"))
	assert.True(t, o.GetRemainingQuantity().Equal(dec("0.5")))
	assert.False(t, o.IsFilled())
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"BUY", BUY, false},
		{"buy", BUY, false},
		{"BID", BUY, false},
		{"SELL", SELL, false},
		{" ask ", SELL, false},
		{"HOLD", SIDE_UNKNOWN, true},
		{"", SIDE_UNKNOWN, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSide(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SELL, BUY.Opposite())
	assert.Equal(t, BUY, SELL.Opposite())
	assert.Equal(t, SIDE_UNKNOWN, SIDE_UNKNOWN.Opposite())
}

package order

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (OrderRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewOrderRepository(sqlx.NewDb(db, "postgres")), mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSaveOrderAssignsId(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders (user_id, instrument_id, side, price, quantity)`)).
		WithArgs(int64(7), "BTC-USD", "BUY", "65000", "1.5").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	o, err := repo.SaveOrder(context.Background(), 7, "BTC-USD", model.BUY, dec("65000"), dec("1.5"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderId(42), o.GetId())
	assert.True(t, o.GetFilledQuantity().IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsOrderComplete(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT complete OR halted FROM orders WHERE id=$1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"complete"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT complete OR halted FROM orders WHERE id=$1`)).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"complete"}))

	complete, err := repo.IsOrderComplete(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, complete)

	_, err = repo.IsOrderComplete(context.Background(), 2)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenOrdersRestoresFills(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "instrument_id", "side", "price", "quantity", "filled", "complete", "halted", "created_at"}).
		AddRow(3, 7, "BTC-USD", "SELL", "66000", "0.5", "0.2", false, false, now).
		AddRow(5, 8, "BTC-USD", "BUY", "64000", "1", "0", false, false, now)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE instrument_id=$1 AND complete=false AND halted=false ORDER BY id`)).
		WithArgs("BTC-USD").
		WillReturnRows(rows)

	orders, err := repo.OpenOrders(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, model.SELL, orders[0].GetSide())
	assert.True(t, orders[0].GetRemainingQuantity().Equal(dec("0.3")))
	assert.Equal(t, int64(8), orders[1].GetUserId())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkHalted(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET halted=true WHERE id=$1`)).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET halted=true WHERE id=$1`)).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkHalted(context.Background(), 4))
	assert.ErrorIs(t, repo.MarkHalted(context.Background(), 99), repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTradeAppliesFillsInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	trade := model.NewTrade("BTC-USD", 1, 2, model.SELL, dec("65000"), dec("0.6"))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO trades`)).
		WithArgs("BTC-USD", int64(1), int64(2), "SELL", "65000", "0.6", trade.Timestamp).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET filled = filled + $1`)).
		WithArgs("0.6", int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	id, err := repo.SaveTrade(context.Background(), trade)
	require.NoError(t, err)
	assert.Equal(t, model.TradeId(9), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTradeRollsBackWhenOrderMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	trade := model.NewTrade("BTC-USD", 1, 99, model.BUY, dec("65000"), dec("0.6"))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO trades`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET filled`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := repo.SaveTrade(context.Background(), trade)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTradesSince(t *testing.T) {
	repo, mock := newMockRepo(t)
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "instrument_id", "maker_order_id", "taker_order_id", "taker_side", "price", "quantity", "created_at"}).
		AddRow(1, "BTC-USD", 1, 2, "SELL", "65000", "0.6", since.Add(time.Second)).
		AddRow(2, "BTC-USD", 1, 3, "SELL", "65000", "0.4", since.Add(2*time.Second))
	mock.ExpectQuery(regexp.QuoteMeta(`AND created_at >= $2 ORDER BY created_at, id`)).
		WithArgs(int64(1), since).
		WillReturnRows(rows)

	trades, err := repo.GetTrades(context.Background(), 1, &since)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, model.TradeId(1), trades[0].ID)
	assert.True(t, trades[1].Quantity.Equal(dec("0.4")))
	assert.Equal(t, model.SELL, trades[1].TakerSide)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/repositories"
)

func lockedPaymentRows(status string, processed, notified bool) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"payment_id", "tg_user_id", "chat_id", "username", "journal_id", "quantity",
		"amount", "currency", "status", "processed", "notification_sent",
		"full_name", "city", "postcode", "phone", "email", "created_at", "updated_at",
	}).AddRow("pay-1", int64(100), int64(100), "reader", int64(7), 2,
		"300.00", "RUB", status, processed, notified,
		"Ivan Petrov", "Kazan", "420000", "+79990000000", "ivan@example.com", now, now)
}

func TestWithinTxCommitsSettlement(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM payments WHERE payment_id = \$1 FOR UPDATE`).
		WithArgs("pay-1").
		WillReturnRows(lockedPaymentRows("pending", false, false))
	mock.ExpectExec(`UPDATE payments`).
		WithArgs("pay-1", "succeeded", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	uow := store.Txns()
	err := uow.WithinTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		record, err := tx.LockPayment(ctx, "pay-1")
		if err != nil {
			return err
		}
		assert.Equal(t, domain.PaymentStatusPending, record.Status)
		assert.False(t, record.Processed)
		assert.True(t, record.Amount.Equal(decimal.RequireFromString("300.00")))
		return tx.UpdatePaymentStatus(ctx, "pay-1", domain.PaymentStatusSucceeded, true)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM payments WHERE payment_id = \$1 FOR UPDATE`).
		WithArgs("pay-1").
		WillReturnRows(lockedPaymentRows("pending", false, false))
	mock.ExpectRollback()

	boom := errors.New("settlement failed")
	err := store.Txns().WithinTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		if _, err := tx.LockPayment(ctx, "pay-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrderReturnsSettledOrder(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orderRows := sqlmock.NewRows([]string{
		"id", "payment_id", "tg_user_id", "chat_id", "username", "journal_id", "quantity",
		"amount", "currency", "status", "full_name", "city", "postcode", "phone", "email",
		"track_number", "created_at", "updated_at",
	}).AddRow(int64(10), "pay-1", int64(100), int64(100), "reader", int64(7), 2,
		"300.00", "RUB", "paid", "Ivan Petrov", "Kazan", "420000",
		"+79990000000", "ivan@example.com", "", now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnRows(orderRows)
	mock.ExpectCommit()

	var settled domain.Order
	err := store.Txns().WithinTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.InsertOrder(ctx, domain.Order{
			PaymentID: "pay-1",
			TGUserID:  100,
			ChatID:    100,
			Username:  "reader",
			JournalID: 7,
			Quantity:  2,
			Amount:    decimal.RequireFromString("300.00"),
			Currency:  "RUB",
			Status:    domain.OrderStatusPaid,
		})
		settled = order
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), settled.ID)
	assert.Equal(t, domain.OrderStatusPaid, settled.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStockInsideTx(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE journals`).
		WithArgs(int64(7), 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Txns().WithinTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		return tx.ReleaseStock(ctx, 7, 2)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

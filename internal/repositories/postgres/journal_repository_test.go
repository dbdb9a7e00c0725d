package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iglaboq/shop/internal/repositories"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, WithClock(func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return store, mock
}

func TestJournalReserveDecrementsOnlyWithEnoughStock(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE journals`).
		WithArgs(int64(7), 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.Journals().Reserve(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalReserveReportsInsufficientStock(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE journals`).
		WithArgs(int64(7), 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Journals().Reserve(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalFindByID(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "title", "description", "price", "quantity", "cover_url", "created_at", "updated_at",
	}).AddRow(int64(3), "Issue 12", "Spring archive", "450.00", 4, "https://cdn.example/3.jpg", now, now)

	mock.ExpectQuery(`SELECT .+ FROM journals WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(rows)

	journal, err := store.Journals().FindByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Issue 12", journal.Title)
	assert.True(t, journal.Price.Equal(decimal.RequireFromString("450.00")))
	assert.Equal(t, 4, journal.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalFindByIDTranslatesNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT .+ FROM journals WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "description", "price", "quantity", "cover_url", "created_at", "updated_at",
		}))

	_, err := store.Journals().FindByID(context.Background(), 99)
	require.Error(t, err)

	var storeErr *repositories.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.True(t, storeErr.IsNotFound())
}

func TestJournalReleaseRequiresExistingRow(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE journals`).
		WithArgs(int64(42), 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Journals().Release(context.Background(), 42, 1)
	require.Error(t, err)

	var storeErr *repositories.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.True(t, storeErr.IsNotFound())
}

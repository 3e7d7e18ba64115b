package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func beginTx(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *sql.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	return tx
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestNumberRepo_TryReserveTx(t *testing.T) {
	ctx := context.Background()
	selectQ := `SELECT number_value, status FROM raffle_numbers`
	updateQ := `UPDATE raffle_numbers SET status = \?, reservation_id = \?, owner_user_id = \?`

	t.Run("reserves all", func(t *testing.T) {
		db, mock := newMock(t)
		tx := beginTx(t, db, mock)
		mock.ExpectQuery(selectQ).WillReturnRows(
			sqlmock.NewRows([]string{"number_value", "status"}).AddRow(3, "available").AddRow(7, "available"))
		mock.ExpectExec(updateQ).WillReturnResult(sqlmock.NewResult(0, 2))

		err := NewNumberRepo(db).TryReserveTx(ctx, tx, 1, "r1", 42, []int{3, 7})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict lists unavailable numbers and writes nothing", func(t *testing.T) {
		db, mock := newMock(t)
		tx := beginTx(t, db, mock)
		mock.ExpectQuery(selectQ).WillReturnRows(
			sqlmock.NewRows([]string{"number_value", "status"}).AddRow(3, "available").AddRow(7, "reserved"))

		err := NewNumberRepo(db).TryReserveTx(ctx, tx, 1, "r1", 42, []int{3, 7})
		var ce *ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, []int{7}, ce.Numbers)
		assert.ErrorIs(t, err, ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown number", func(t *testing.T) {
		db, mock := newMock(t)
		tx := beginTx(t, db, mock)
		mock.ExpectQuery(selectQ).WillReturnRows(
			sqlmock.NewRows([]string{"number_value", "status"}).AddRow(3, "available"))

		err := NewNumberRepo(db).TryReserveTx(ctx, tx, 1, "r1", 42, []int{3, 999})
		assert.ErrorIs(t, err, ErrUnknownNumber)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost compare and set is a conflict", func(t *testing.T) {
		db, mock := newMock(t)
		tx := beginTx(t, db, mock)
		mock.ExpectQuery(selectQ).WillReturnRows(
			sqlmock.NewRows([]string{"number_value", "status"}).AddRow(3, "available").AddRow(7, "available"))
		mock.ExpectExec(updateQ).WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewNumberRepo(db).TryReserveTx(ctx, tx, 1, "r1", 42, []int{3, 7})
		assert.ErrorIs(t, err, ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNumberRepo_ReleaseTx(t *testing.T) {
	ctx := context.Background()

	t.Run("releases held numbers only", func(t *testing.T) {
		db, mock := newMock(t)
		tx := beginTx(t, db, mock)
		mock.ExpectQuery(`SELECT number_value FROM raffle_numbers`).
			WillReturnRows(sqlmock.NewRows([]string{"number_value"}).AddRow(4))
		mock.ExpectExec(`UPDATE raffle_numbers SET status = \?, reservation_id = NULL, owner_user_id = NULL`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		got, err := NewNumberRepo(db).ReleaseTx(ctx, tx, 1, "r1", []int{4, 5})
		require.NoError(t, err)
		assert.Equal(t, []int{4}, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing held issues no update", func(t *testing.T) {
		db, mock := newMock(t)
		tx := beginTx(t, db, mock)
		mock.ExpectQuery(`SELECT number_value FROM raffle_numbers`).
			WillReturnRows(sqlmock.NewRows([]string{"number_value"}))

		got, err := NewNumberRepo(db).ReleaseTx(ctx, tx, 1, "r1", nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNumberRepo_MarkSoldTx(t *testing.T) {
	ctx := context.Background()
	db, mock := newMock(t)
	tx := beginTx(t, db, mock)
	mock.ExpectExec(`UPDATE raffle_numbers SET status = \?, reservation_id = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewNumberRepo(db).MarkSoldTx(ctx, tx, 1, "r1", []int{1, 2})
	assert.ErrorIs(t, err, ErrStateMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNumberRepo_CountByStatus(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM raffle_numbers`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("available", 90).AddRow("reserved", 7).AddRow("sold", 3))

	sum, err := NewNumberRepo(db).CountByStatus(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, model.NumberSummary{RaffleID: 5, Total: 100, Available: 90, Reserved: 7, Sold: 3}, sum)
}

func TestMySQLStore_InRaffle(t *testing.T) {
	ctx := context.Background()
	lockQ := `SELECT id, status, total_numbers, version, created_at, updated_at\s+FROM raffles WHERE id = \? FOR UPDATE`
	now := time.Now().UTC()

	t.Run("missing raffle is not sellable", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQ).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		called := false
		err := NewMySQLStore(db).InRaffle(ctx, 9, func(RaffleTx) error { called = true; return nil })
		assert.ErrorIs(t, err, ErrRaffleNotSellable)
		assert.False(t, called)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("read-only unit commits without a version bump", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQ).WillReturnRows(sqlmock.NewRows(
			[]string{"id", "status", "total_numbers", "version", "created_at", "updated_at"}).
			AddRow(9, "active", 100, 4, now, now))
		mock.ExpectCommit()

		err := NewMySQLStore(db).InRaffle(ctx, 9, func(tx RaffleTx) error {
			assert.Equal(t, uint64(5), tx.Version())
			assert.Equal(t, model.RaffleActive, tx.Raffle().Status)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed unit rolls back", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQ).WillReturnRows(sqlmock.NewRows(
			[]string{"id", "status", "total_numbers", "version", "created_at", "updated_at"}).
			AddRow(9, "active", 100, 4, now, now))
		mock.ExpectQuery(`SELECT number_value, status FROM raffle_numbers`).WillReturnRows(
			sqlmock.NewRows([]string{"number_value", "status"}).AddRow(1, "sold"))
		mock.ExpectRollback()

		err := NewMySQLStore(db).InRaffle(ctx, 9, func(tx RaffleTx) error {
			return tx.TryReserve(ctx, &model.Reservation{ID: "r1", OwnerUserID: 2}, []int{1})
		})
		assert.ErrorIs(t, err, ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

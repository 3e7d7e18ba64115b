package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

func newRes(id string, owner uint64, numbers ...int) *model.Reservation {
	now := time.Now().UTC()
	return &model.Reservation{
		ID: id, RaffleID: 1, OwnerUserID: owner, Numbers: numbers,
		Status: model.ReservationActive, CreatedAt: now, ExpiresAt: now.Add(time.Minute), UpdatedAt: now,
	}
}

func TestMemoryStore_PublishRaffle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PublishRaffle(ctx, 1, 10))
	assert.ErrorIs(t, s.PublishRaffle(ctx, 1, 10), ErrInvalidState)
	assert.ErrorIs(t, s.PublishRaffle(ctx, 2, 0), ErrInvalidInput)

	sum, err := s.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.NumberSummary{RaffleID: 1, Total: 10, Available: 10}, sum)

	nums, err := s.NumberStates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, nums, 10)
	assert.Equal(t, 0, nums[0].Value)
	assert.Equal(t, 9, nums[9].Value)
}

func TestMemoryStore_InRaffle_UnknownRaffle(t *testing.T) {
	err := NewMemoryStore().InRaffle(context.Background(), 7, func(RaffleTx) error { return nil })
	assert.ErrorIs(t, err, ErrRaffleNotSellable)
}

func TestMemoryStore_FailedUnitIsUndone(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PublishRaffle(ctx, 1, 5))

	boom := errors.New("boom")
	err := s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		res := newRes("r1", 9, 1, 2)
		require.NoError(t, tx.TryReserve(ctx, res, res.Numbers))
		require.NoError(t, tx.InsertReservation(ctx, res))
		return boom
	})
	require.ErrorIs(t, err, boom)

	sum, err := s.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Available)
	_, err = s.FindReservation(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	// nothing committed, so the version did not move
	require.NoError(t, s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		assert.Equal(t, uint64(1), tx.Version())
		return nil
	}))
}

func TestMemoryStore_TryReserveIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PublishRaffle(ctx, 1, 5))

	require.NoError(t, s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		return tx.TryReserve(ctx, newRes("a", 1, 2), []int{2})
	}))
	err := s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		return tx.TryReserve(ctx, newRes("b", 2, 1, 2, 3), []int{1, 2, 3})
	})
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []int{2}, ce.Numbers)

	sum, _ := s.Summary(ctx, 1)
	assert.Equal(t, 1, sum.Reserved)
	assert.Equal(t, 4, sum.Available)

	err = s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		return tx.TryReserve(ctx, newRes("c", 3, 99), []int{99})
	})
	assert.ErrorIs(t, err, ErrUnknownNumber)
}

func TestMemoryStore_ReleaseAndMarkSold(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PublishRaffle(ctx, 1, 5))
	require.NoError(t, s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		if err := tx.TryReserve(ctx, newRes("a", 1), []int{0, 1}); err != nil {
			return err
		}
		return tx.TryReserve(ctx, newRes("b", 2), []int{2, 3})
	}))

	require.NoError(t, s.InRaffle(ctx, 1, func(tx RaffleTx) error {
		// numbers of another reservation are ignored
		released, err := tx.Release(ctx, "a", 1, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, released)

		assert.ErrorIs(t, tx.MarkSold(ctx, "b", []int{2, 4}), ErrStateMismatch)
		return tx.MarkSold(ctx, "b", []int{2, 3})
	}))

	nums, err := s.NumberStates(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.NumberReserved, nums[0].Status)
	assert.Equal(t, model.NumberAvailable, nums[1].Status)
	assert.Equal(t, model.NumberSold, nums[2].Status)
	assert.Nil(t, nums[2].ReservationID)
	require.NotNil(t, nums[2].OwnerUserID)
	assert.Equal(t, uint64(2), *nums[2].OwnerUserID)
}

func TestMemoryStore_DueRaffles(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PublishRaffle(ctx, 1, 5))
	require.NoError(t, s.PublishRaffle(ctx, 2, 5))

	past := newRes("old", 1)
	past.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, s.InRaffle(ctx, 1, func(tx RaffleTx) error { return tx.InsertReservation(ctx, past) }))
	fresh := newRes("new", 2)
	fresh.RaffleID = 2
	require.NoError(t, s.InRaffle(ctx, 2, func(tx RaffleTx) error { return tx.InsertReservation(ctx, fresh) }))

	ids, err := s.DueRaffles(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	active, err := s.FindActive(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "new", active.ID)
}

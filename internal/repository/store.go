package repository

import (
	"context"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// Store is the durable record of number states (NumberStore) together
// with the index of reservations (ReservationTable).  Every mutation of
// either happens through InRaffle so both change in one atomic unit.
type Store interface {
	// InRaffle runs fn while holding the raffle's exclusive lock.  If fn
	// returns nil the unit is committed, otherwise every change made
	// through the RaffleTx is discarded.  A missing raffle yields
	// ErrRaffleNotSellable.
	InRaffle(ctx context.Context, raffleID uint64, fn func(tx RaffleTx) error) error

	// FindReservation is an unlocked read used to learn a reservation's
	// raffle before locking it.
	FindReservation(ctx context.Context, id string) (*model.Reservation, error)
	// FindActive is an unlocked read of the owner's active reservation
	// for the raffle, or ErrNotFound.
	FindActive(ctx context.Context, raffleID, ownerID uint64) (*model.Reservation, error)
	// NumberStates returns every number of the raffle ordered by value.
	NumberStates(ctx context.Context, raffleID uint64) ([]model.Number, error)
	// Summary returns per-status counts for the raffle.
	Summary(ctx context.Context, raffleID uint64) (model.NumberSummary, error)
	// DueRaffles returns up to limit raffle ids that have active
	// reservations with expires_at <= now.
	DueRaffles(ctx context.Context, now time.Time, limit int) ([]uint64, error)

	// PublishRaffle creates the raffle as active with numbers
	// 0..total-1 all available.  Publishing an existing raffle fails
	// with ErrInvalidState.
	PublishRaffle(ctx context.Context, raffleID uint64, total int) error
	// SetRaffleStatus changes the raffle status.  It does not touch
	// reservations; those keep being cancellable and expirable.
	SetRaffleStatus(ctx context.Context, raffleID uint64, status model.RaffleStatus) error
}

// RaffleTx is the view of one raffle inside an atomic unit.
type RaffleTx interface {
	// Raffle returns the locked raffle row.
	Raffle() model.Raffle
	// Version is the raffle version this unit commits as.
	Version() uint64

	// TryReserve moves every number from available to reserved under
	// res.  It is all-or-nothing: if any number is unavailable nothing
	// changes and a *ConflictError lists them.
	TryReserve(ctx context.Context, res *model.Reservation, numbers []int) error
	// Release sets numbers still reserved under resID back to
	// available and returns the values released.  With no numbers
	// given every number of the reservation is considered.  Numbers
	// already sold or held by someone else are left untouched.
	Release(ctx context.Context, resID string, numbers ...int) ([]int, error)
	// MarkSold moves numbers from reserved to sold.  It fails with
	// ErrStateMismatch if any of them is not reserved under resID.
	MarkSold(ctx context.Context, resID string, numbers []int) error

	// Reservation reads a reservation of this raffle.
	Reservation(ctx context.Context, id string) (*model.Reservation, error)
	// ActiveReservation returns the owner's active reservation or
	// ErrNotFound.
	ActiveReservation(ctx context.Context, ownerID uint64) (*model.Reservation, error)
	// DueReservations returns active reservations with expires_at <= now.
	DueReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error)
	InsertReservation(ctx context.Context, res *model.Reservation) error
	// UpdateReservation persists status, numbers, expires_at and
	// updated_at.
	UpdateReservation(ctx context.Context, res *model.Reservation) error
}

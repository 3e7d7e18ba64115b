package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// MySQLStore implements Store on MySQL.  The raffle row lock taken by
// InRaffle is held by the database, so units on the same raffle are
// serialized across every service instance.
type MySQLStore struct {
	db           *sql.DB
	Raffles      *RaffleRepo
	Numbers      *NumberRepo
	Reservations *ReservationRepo
}

// NewMySQLStore wires the repositories around one connection pool.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:           db,
		Raffles:      NewRaffleRepo(db),
		Numbers:      NewNumberRepo(db),
		Reservations: NewReservationRepo(db),
	}
}

// DB returns the underlying database handle.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// InRaffle implements Store.
func (s *MySQLStore) InRaffle(ctx context.Context, raffleID uint64, fn func(tx RaffleTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	raffle, err := s.Raffles.LockTx(ctx, tx, raffleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRaffleNotSellable
		}
		return err
	}
	mt := &mysqlTx{store: s, tx: tx, raffle: raffle}
	if err := fn(mt); err != nil {
		return err
	}
	if mt.dirty {
		if err := s.Raffles.BumpVersionTx(ctx, tx, raffleID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// FindReservation implements Store.
func (s *MySQLStore) FindReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return s.Reservations.Find(ctx, id)
}

// FindActive implements Store.
func (s *MySQLStore) FindActive(ctx context.Context, raffleID, ownerID uint64) (*model.Reservation, error) {
	return s.Reservations.ActiveByOwner(ctx, raffleID, ownerID)
}

// NumberStates implements Store.
func (s *MySQLStore) NumberStates(ctx context.Context, raffleID uint64) ([]model.Number, error) {
	nums, err := s.Numbers.ListByRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, ErrNotFound
	}
	return nums, nil
}

// Summary implements Store.
func (s *MySQLStore) Summary(ctx context.Context, raffleID uint64) (model.NumberSummary, error) {
	sum, err := s.Numbers.CountByStatus(ctx, raffleID)
	if err != nil {
		return sum, err
	}
	if sum.Total == 0 {
		return sum, ErrNotFound
	}
	return sum, nil
}

// DueRaffles implements Store.
func (s *MySQLStore) DueRaffles(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	return s.Reservations.DueRaffles(ctx, now, limit)
}

// PublishRaffle implements Store.
func (s *MySQLStore) PublishRaffle(ctx context.Context, raffleID uint64, total int) error {
	if raffleID == 0 || total <= 0 {
		return ErrInvalidInput
	}
	return s.Raffles.Publish(ctx, raffleID, total)
}

// SetRaffleStatus implements Store.
func (s *MySQLStore) SetRaffleStatus(ctx context.Context, raffleID uint64, status model.RaffleStatus) error {
	if !status.Valid() {
		return ErrInvalidInput
	}
	return s.Raffles.SetStatus(ctx, raffleID, status)
}

// mysqlTx adapts the repositories to RaffleTx for one transaction.
type mysqlTx struct {
	store  *MySQLStore
	tx     *sql.Tx
	raffle model.Raffle
	dirty  bool
}

func (t *mysqlTx) Raffle() model.Raffle { return t.raffle }

func (t *mysqlTx) Version() uint64 { return t.raffle.Version + 1 }

func (t *mysqlTx) TryReserve(ctx context.Context, res *model.Reservation, numbers []int) error {
	if err := t.store.Numbers.TryReserveTx(ctx, t.tx, t.raffle.ID, res.ID, res.OwnerUserID, numbers); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *mysqlTx) Release(ctx context.Context, resID string, numbers ...int) ([]int, error) {
	released, err := t.store.Numbers.ReleaseTx(ctx, t.tx, t.raffle.ID, resID, numbers)
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		t.dirty = true
	}
	return released, nil
}

func (t *mysqlTx) MarkSold(ctx context.Context, resID string, numbers []int) error {
	if err := t.store.Numbers.MarkSoldTx(ctx, t.tx, t.raffle.ID, resID, numbers); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *mysqlTx) Reservation(ctx context.Context, id string) (*model.Reservation, error) {
	return t.store.Reservations.GetTx(ctx, t.tx, t.raffle.ID, id)
}

func (t *mysqlTx) ActiveReservation(ctx context.Context, ownerID uint64) (*model.Reservation, error) {
	return t.store.Reservations.ActiveByOwnerTx(ctx, t.tx, t.raffle.ID, ownerID)
}

func (t *mysqlTx) DueReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error) {
	return t.store.Reservations.DueTx(ctx, t.tx, t.raffle.ID, now)
}

func (t *mysqlTx) InsertReservation(ctx context.Context, res *model.Reservation) error {
	if err := t.store.Reservations.InsertTx(ctx, t.tx, res); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *mysqlTx) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	if err := t.store.Reservations.UpdateTx(ctx, t.tx, res); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

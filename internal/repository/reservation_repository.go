package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// ReservationRepo provides access to the reservations table, the
// store-backed index of holds.  Held numbers are kept as a JSON array
// on the row; raffle_numbers.reservation_id is the authoritative link
// and both are written in the same transaction.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the provided database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, raffle_id, owner_user_id, session_id, status, numbers, created_at, expires_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	var status string
	var numbers []byte
	if err := s.Scan(&res.ID, &res.RaffleID, &res.OwnerUserID, &res.SessionID, &status, &numbers,
		&res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	res.Status = model.ReservationStatus(status)
	if len(numbers) > 0 {
		if err := json.Unmarshal(numbers, &res.Numbers); err != nil {
			return nil, err
		}
	}
	res.Numbers = model.NormalizeNumbers(res.Numbers)
	return &res, nil
}

func encodeNumbers(ns []int) (string, error) {
	if ns == nil {
		ns = []int{}
	}
	b, err := json.Marshal(ns)
	return string(b), err
}

// InsertTx writes a new reservation row.
func (r *ReservationRepo) InsertTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	nums, err := encodeNumbers(res.Numbers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.RaffleID, res.OwnerUserID, res.SessionID, string(res.Status), nums,
		res.CreatedAt.UTC(), res.ExpiresAt.UTC(), res.UpdatedAt.UTC(),
	)
	return err
}

// UpdateTx persists status, numbers, expires_at and updated_at.  The
// row must have been read in the same transaction.
func (r *ReservationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	nums, err := encodeNumbers(res.Numbers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, numbers = ?, expires_at = ?, updated_at = ?
         WHERE id = ? AND raffle_id = ?`,
		string(res.Status), nums, res.ExpiresAt.UTC(), res.UpdatedAt.UTC(), res.ID, res.RaffleID,
	)
	return err
}

// GetTx reads one reservation of the raffle inside the transaction.
func (r *ReservationRepo) GetTx(ctx context.Context, tx *sql.Tx, raffleID uint64, id string) (*model.Reservation, error) {
	res, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? AND raffle_id = ?`, id, raffleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func activeByOwner(ctx context.Context, q rowQuerier, raffleID, ownerID uint64) (*model.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
         WHERE raffle_id = ? AND owner_user_id = ? AND status = ?
         ORDER BY created_at DESC LIMIT 1`,
		raffleID, ownerID, string(model.ReservationActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ActiveByOwnerTx returns the owner's active reservation for the raffle.
func (r *ReservationRepo) ActiveByOwnerTx(ctx context.Context, tx *sql.Tx, raffleID, ownerID uint64) (*model.Reservation, error) {
	return activeByOwner(ctx, tx, raffleID, ownerID)
}

// ActiveByOwner is the unlocked variant of ActiveByOwnerTx.
func (r *ReservationRepo) ActiveByOwner(ctx context.Context, raffleID, ownerID uint64) (*model.Reservation, error) {
	return activeByOwner(ctx, r.db, raffleID, ownerID)
}

// DueTx returns the raffle's active reservations whose deadline has
// passed, oldest deadline first.
func (r *ReservationRepo) DueTx(ctx context.Context, tx *sql.Tx, raffleID uint64, now time.Time) ([]*model.Reservation, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
         WHERE raffle_id = ? AND status = ? AND expires_at <= ?
         ORDER BY expires_at`,
		raffleID, string(model.ReservationActive), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Find reads a reservation without locking.  The result is only a hint
// of which raffle to lock; it must be re-read inside the unit.
func (r *ReservationRepo) Find(ctx context.Context, id string) (*model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// DueRaffles lists raffles holding overdue active reservations.
func (r *ReservationRepo) DueRaffles(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT raffle_id FROM reservations
         WHERE status = ? AND expires_at <= ?
         ORDER BY raffle_id LIMIT ?`,
		string(model.ReservationActive), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

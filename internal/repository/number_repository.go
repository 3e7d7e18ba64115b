package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// NumberRepo provides data access to the raffle_numbers table.  Every
// state change is a conditional UPDATE on the expected current status,
// so a write that lost a race affects fewer rows than requested.  The
// Tx methods expect the caller to hold the raffle lock.
type NumberRepo struct {
	db *sql.DB
}

// NewNumberRepo returns a new NumberRepo bound to the provided database.
func NewNumberRepo(db *sql.DB) *NumberRepo { return &NumberRepo{db: db} }

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// intArgs converts number values to query arguments.
func intArgs(prefix []interface{}, vals []int) []interface{} {
	args := make([]interface{}, 0, len(prefix)+len(vals))
	args = append(args, prefix...)
	for _, v := range vals {
		args = append(args, v)
	}
	return args
}

// TryReserveTx moves the requested numbers from available to reserved
// under the given reservation.  All numbers are read with FOR UPDATE
// first; if any is missing ErrUnknownNumber is returned, and if any is
// not available a *ConflictError lists them.  Nothing is written in
// either case.
func (r *NumberRepo) TryReserveTx(ctx context.Context, tx *sql.Tx, raffleID uint64, resID string, ownerID uint64, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT number_value, status FROM raffle_numbers
         WHERE raffle_id = ? AND number_value IN (`+placeholders(len(numbers))+`) FOR UPDATE`,
		intArgs([]interface{}{raffleID}, numbers)...,
	)
	if err != nil {
		return err
	}
	status := make(map[int]string, len(numbers))
	for rows.Next() {
		var v int
		var s string
		if scanErr := rows.Scan(&v, &s); scanErr != nil {
			rows.Close()
			return scanErr
		}
		status[v] = s
	}
	if err = rows.Close(); err != nil {
		return err
	}
	var unavailable []int
	for _, v := range numbers {
		s, ok := status[v]
		if !ok {
			return ErrUnknownNumber
		}
		if s != string(model.NumberAvailable) {
			unavailable = append(unavailable, v)
		}
	}
	if len(unavailable) > 0 {
		return &ConflictError{Numbers: unavailable}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE raffle_numbers SET status = ?, reservation_id = ?, owner_user_id = ?
         WHERE raffle_id = ? AND status = ? AND number_value IN (`+placeholders(len(numbers))+`)`,
		intArgs([]interface{}{string(model.NumberReserved), resID, ownerID, raffleID, string(model.NumberAvailable)}, numbers)...,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if int(n) != len(numbers) {
		return &ConflictError{Numbers: numbers}
	}
	return nil
}

// ReleaseTx returns the numbers still reserved under resID to
// available and reports which values were released.  When numbers is
// empty every number of the reservation is considered.  Rows that are
// sold or belong to another reservation are not touched.
func (r *NumberRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, raffleID uint64, resID string, numbers []int) ([]int, error) {
	q := `SELECT number_value FROM raffle_numbers
          WHERE raffle_id = ? AND reservation_id = ? AND status = ?`
	args := []interface{}{raffleID, resID, string(model.NumberReserved)}
	if len(numbers) > 0 {
		q += ` AND number_value IN (` + placeholders(len(numbers)) + `)`
		args = intArgs(args, numbers)
	}
	rows, err := tx.QueryContext(ctx, q+` ORDER BY number_value FOR UPDATE`, args...)
	if err != nil {
		return nil, err
	}
	var held []int
	for rows.Next() {
		var v int
		if scanErr := rows.Scan(&v); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		held = append(held, v)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE raffle_numbers SET status = ?, reservation_id = NULL, owner_user_id = NULL
         WHERE raffle_id = ? AND reservation_id = ? AND status = ? AND number_value IN (`+placeholders(len(held))+`)`,
		intArgs([]interface{}{string(model.NumberAvailable), raffleID, resID, string(model.NumberReserved)}, held)...,
	)
	if err != nil {
		return nil, err
	}
	return held, nil
}

// MarkSoldTx moves the numbers from reserved to sold.  The owner is kept
// and the reservation reference is cleared.  If fewer rows than
// requested match, ErrStateMismatch is returned and the caller must
// roll back.
func (r *NumberRepo) MarkSoldTx(ctx context.Context, tx *sql.Tx, raffleID uint64, resID string, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE raffle_numbers SET status = ?, reservation_id = NULL
         WHERE raffle_id = ? AND reservation_id = ? AND status = ? AND number_value IN (`+placeholders(len(numbers))+`)`,
		intArgs([]interface{}{string(model.NumberSold), raffleID, resID, string(model.NumberReserved)}, numbers)...,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if int(n) != len(numbers) {
		return ErrStateMismatch
	}
	return nil
}

// ListByRaffle returns every number of the raffle ordered by value.
func (r *NumberRepo) ListByRaffle(ctx context.Context, raffleID uint64) ([]model.Number, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT raffle_id, number_value, status, reservation_id, owner_user_id
         FROM raffle_numbers WHERE raffle_id = ? ORDER BY number_value`, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Number
	for rows.Next() {
		var n model.Number
		var status string
		var resID sql.NullString
		var owner sql.NullInt64
		if err := rows.Scan(&n.RaffleID, &n.Value, &status, &resID, &owner); err != nil {
			return nil, err
		}
		n.Status = model.NumberStatus(status)
		if resID.Valid {
			id := resID.String
			n.ReservationID = &id
		}
		if owner.Valid {
			uid := uint64(owner.Int64)
			n.OwnerUserID = &uid
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountByStatus returns per-status counts for the raffle.
func (r *NumberRepo) CountByStatus(ctx context.Context, raffleID uint64) (model.NumberSummary, error) {
	sum := model.NumberSummary{RaffleID: raffleID}
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM raffle_numbers WHERE raffle_id = ? GROUP BY status`, raffleID)
	if err != nil {
		return sum, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return sum, err
		}
		switch model.NumberStatus(status) {
		case model.NumberAvailable:
			sum.Available = n
		case model.NumberReserved:
			sum.Reserved = n
		case model.NumberSold:
			sum.Sold = n
		}
		sum.Total += n
	}
	return sum, rows.Err()
}

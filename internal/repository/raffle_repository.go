package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// numberInsertChunk bounds the rows of one multi-row INSERT when a
// raffle is published.
const numberInsertChunk = 500

// RaffleRepo provides access to the raffles table.  The raffle row is
// the lock every reservation unit takes, so LockTx must be the first
// statement of such a transaction.
type RaffleRepo struct {
	db *sql.DB
}

// NewRaffleRepo returns a new RaffleRepo bound to the provided database.
func NewRaffleRepo(db *sql.DB) *RaffleRepo { return &RaffleRepo{db: db} }

// LockTx reads the raffle row with SELECT ... FOR UPDATE, blocking
// other units on the same raffle until the transaction ends.  It
// returns sql.ErrNoRows when the raffle does not exist.
func (r *RaffleRepo) LockTx(ctx context.Context, tx *sql.Tx, raffleID uint64) (model.Raffle, error) {
	var rf model.Raffle
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT id, status, total_numbers, version, created_at, updated_at
         FROM raffles WHERE id = ? FOR UPDATE`, raffleID,
	).Scan(&rf.ID, &status, &rf.TotalNumbers, &rf.Version, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		return model.Raffle{}, err
	}
	rf.Status = model.RaffleStatus(status)
	return rf, nil
}

// BumpVersionTx increments the raffle version.  It runs once per
// committed unit that changed numbers or reservations.
func (r *RaffleRepo) BumpVersionTx(ctx context.Context, tx *sql.Tx, raffleID uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE raffles SET version = version + 1, updated_at = UTC_TIMESTAMP() WHERE id = ?`, raffleID)
	return err
}

// Publish inserts the raffle as active together with all of its
// numbers in one transaction.  A duplicate raffle id yields
// ErrInvalidState.
func (r *RaffleRepo) Publish(ctx context.Context, raffleID uint64, total int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO raffles (id, status, total_numbers, version, created_at, updated_at)
         VALUES (?, ?, ?, 0, UTC_TIMESTAMP(), UTC_TIMESTAMP())`,
		raffleID, string(model.RaffleActive), total,
	); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrInvalidState
		}
		return err
	}
	for start := 0; start < total; start += numberInsertChunk {
		end := start + numberInsertChunk
		if end > total {
			end = total
		}
		var b strings.Builder
		b.WriteString(`INSERT INTO raffle_numbers (raffle_id, number_value, status) VALUES `)
		args := make([]interface{}, 0, (end-start)*3)
		for v := start; v < end; v++ {
			if v > start {
				b.WriteString(",")
			}
			b.WriteString("(?, ?, ?)")
			args = append(args, raffleID, v, string(model.NumberAvailable))
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SetStatus updates the raffle status.  It returns ErrNotFound when the
// raffle does not exist.
func (r *RaffleRepo) SetStatus(ctx context.Context, raffleID uint64, status model.RaffleStatus) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE raffles SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`, string(status), raffleID,
	); err != nil {
		return err
	}
	// MySQL reports zero affected rows for an unchanged value, so check
	// existence separately.
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM raffles WHERE id = ?`, raffleID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

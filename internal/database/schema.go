package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the tables the reservation engine owns.  raffles is a
// projection of the raffle lifecycle service; its row doubles as the
// per-raffle lock.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS raffles (
        id            BIGINT UNSIGNED NOT NULL PRIMARY KEY,
        status        VARCHAR(16)     NOT NULL,
        total_numbers INT             NOT NULL,
        version       BIGINT UNSIGNED NOT NULL DEFAULT 0,
        created_at    DATETIME        NOT NULL,
        updated_at    DATETIME        NOT NULL
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS raffle_numbers (
        raffle_id      BIGINT UNSIGNED NOT NULL,
        number_value   INT             NOT NULL,
        status         VARCHAR(16)     NOT NULL,
        reservation_id CHAR(36)        NULL,
        owner_user_id  BIGINT UNSIGNED NULL,
        PRIMARY KEY (raffle_id, number_value),
        KEY idx_numbers_reservation (raffle_id, reservation_id),
        CONSTRAINT fk_numbers_raffle FOREIGN KEY (raffle_id) REFERENCES raffles (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reservations (
        id            CHAR(36)        NOT NULL PRIMARY KEY,
        raffle_id     BIGINT UNSIGNED NOT NULL,
        owner_user_id BIGINT UNSIGNED NOT NULL,
        session_id    VARCHAR(128)    NOT NULL DEFAULT '',
        status        VARCHAR(16)     NOT NULL,
        numbers       JSON            NOT NULL,
        created_at    DATETIME(3)     NOT NULL,
        expires_at    DATETIME(3)     NOT NULL,
        updated_at    DATETIME(3)     NOT NULL,
        KEY idx_reservations_due (status, expires_at, raffle_id),
        KEY idx_reservations_owner (raffle_id, owner_user_id, status),
        CONSTRAINT fk_reservations_raffle FOREIGN KEY (raffle_id) REFERENCES raffles (id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

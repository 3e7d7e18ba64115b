// Package queue defines message payloads exchanged over the message broker
// with the payment service.
package queue

import "time"

// PaymentCapturedEvent is consumed from the captured queue.  The payment
// service sends it once it has taken the money for a reservation.
type PaymentCapturedEvent struct {
	ReservationID string `json:"reservation_id"`
	PaymentID     string `json:"payment_id"`
}

// RefundRequiredEvent is published when a captured payment cannot be
// turned into a sale, for example because the hold expired first.
type RefundRequiredEvent struct {
	ReservationID string    `json:"reservation_id"`
	PaymentID     string    `json:"payment_id"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ReservationConfirmedEvent is published after a reservation's numbers
// became sold.  It carries enough for downstream consumers to notify or
// trigger analytics without querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID string    `json:"reservation_id"`
	RaffleID      uint64    `json:"raffle_id"`
	UserID        uint64    `json:"user_id"`
	Numbers       []int     `json:"numbers"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

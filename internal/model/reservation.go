package model

import (
	"sort"
	"time"
)

// ReservationStatus is the state of a Reservation.  Every status other
// than active is terminal.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a temporary hold of one or more numbers by a single
// buyer.  It is created on the first hold and destroyed by cancel,
// expiry or payment confirmation.
//
// Fields:
//  ID          – server generated UUID.
//  RaffleID    – raffle the numbers belong to.
//  OwnerUserID – buyer holding the numbers.
//  SessionID   – client supplied correlation token.
//  Numbers     – held number values, sorted and unique.
//  Status      – active, confirmed, cancelled or expired.
//  CreatedAt   – creation timestamp.
//  ExpiresAt   – hold deadline, enforced by the sweeper.
//  UpdatedAt   – last mutation timestamp.
type Reservation struct {
	ID          string            // reservations.id
	RaffleID    uint64            // reservations.raffle_id
	OwnerUserID uint64            // reservations.owner_user_id
	SessionID   string            // reservations.session_id
	Numbers     []int             // reservations.numbers (JSON array)
	Status      ReservationStatus // reservations.status
	CreatedAt   time.Time         // reservations.created_at
	ExpiresAt   time.Time         // reservations.expires_at
	UpdatedAt   time.Time         // reservations.updated_at
}

// IsActive reports whether the reservation still holds its numbers.
func (r *Reservation) IsActive() bool { return r.Status == ReservationActive }

// Due reports whether an active reservation has reached its deadline.
func (r *Reservation) Due(now time.Time) bool {
	return r.IsActive() && !now.Before(r.ExpiresAt)
}

// Has reports whether n is one of the held numbers.
func (r *Reservation) Has(n int) bool {
	i := sort.SearchInts(r.Numbers, n)
	return i < len(r.Numbers) && r.Numbers[i] == n
}

// AddNumbers merges ns into the held set, keeping it sorted and unique.
func (r *Reservation) AddNumbers(ns ...int) {
	r.Numbers = NormalizeNumbers(append(append([]int(nil), r.Numbers...), ns...))
}

// RemoveNumber drops n from the held set.
func (r *Reservation) RemoveNumber(n int) {
	out := r.Numbers[:0:0]
	for _, v := range r.Numbers {
		if v != n {
			out = append(out, v)
		}
	}
	r.Numbers = out
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *Reservation) Clone() *Reservation {
	cp := *r
	cp.Numbers = append([]int(nil), r.Numbers...)
	return &cp
}

// NormalizeNumbers returns ns sorted with duplicates removed.
func NormalizeNumbers(ns []int) []int {
	out := append([]int(nil), ns...)
	sort.Ints(out)
	w := 0
	for i, v := range out {
		if i > 0 && v == out[w-1] {
			continue
		}
		out[w] = v
		w++
	}
	return out[:w]
}

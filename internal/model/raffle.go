package model

import "time"

// RaffleStatus is owned by the raffle lifecycle collaborator.  The
// reservation engine only reads it, except for the admin endpoints.
type RaffleStatus string

const (
	RaffleDraft     RaffleStatus = "draft"
	RaffleActive    RaffleStatus = "active"
	RaffleSuspended RaffleStatus = "suspended"
	RaffleCancelled RaffleStatus = "cancelled"
	RaffleFinished  RaffleStatus = "finished"
)

// Valid reports whether s is a known raffle status.
func (s RaffleStatus) Valid() bool {
	switch s {
	case RaffleDraft, RaffleActive, RaffleSuspended, RaffleCancelled, RaffleFinished:
		return true
	}
	return false
}

// Sellable reports whether numbers may be reserved or confirmed.
func (s RaffleStatus) Sellable() bool { return s == RaffleActive }

// Raffle is the slice of the raffle record this service needs.  Version
// is bumped by every committed change to the raffle's numbers and is
// carried on emitted events so subscribers can order them per number.
type Raffle struct {
	ID           uint64       // raffles.id
	Status       RaffleStatus // raffles.status
	TotalNumbers int          // raffles.total_numbers
	Version      uint64       // raffles.version
	CreatedAt    time.Time    // raffles.created_at
	UpdatedAt    time.Time    // raffles.updated_at
}

// Package repository defines error types that are reused across the
// store backends and the service layer.  These sentinel values allow
// higher layers such as handlers to distinguish between different
// failure scenarios and translate them into HTTP responses.  All of
// them except ErrStateMismatch and ErrInvariant are expected, user
// recoverable outcomes.
package repository

import (
	"errors"
	"fmt"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// ErrForbidden is returned when the caller attempts an operation
// on a reservation they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when one or more requested numbers are not
// available.  The concrete error is a *ConflictError listing them.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a reservation does not exist or is
// already terminal, or when a number is not part of a reservation.
var ErrNotFound = errors.New("not found")

// ErrAlreadyActive is returned by Create when the owner already holds
// an active reservation for the raffle.
var ErrAlreadyActive = errors.New("already active")

// ErrInvalidState is returned when an operation is not valid for the
// reservation's status, such as cancelling a confirmed reservation.
var ErrInvalidState = errors.New("invalid state")

// ErrExpired is returned when the hold deadline has already passed.
var ErrExpired = errors.New("expired")

// ErrRaffleNotSellable is returned when the raffle is missing or its
// status does not allow reservations.
var ErrRaffleNotSellable = errors.New("raffle not sellable")

// ErrUnknownNumber is returned when a requested number does not exist
// in the raffle.
var ErrUnknownNumber = errors.New("unknown number")

// ErrInvalidInput covers malformed requests (empty number set, too many
// numbers, bad status values).
var ErrInvalidInput = errors.New("invalid input")

// ErrStateMismatch is returned by MarkSold when a number of the
// reservation is not reserved under it.
var ErrStateMismatch = errors.New("number state mismatch")

// ErrInvariant marks a broken store invariant.  It is fatal: it trips
// the circuit breaker instead of being returned as a client error.
var ErrInvariant = errors.New("invariant violation")

// ErrUnavailable is returned while the datastore circuit is open.
var ErrUnavailable = errors.New("datastore unavailable")

// ConflictError lists the requested numbers that were not available.
type ConflictError struct {
	Numbers []int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("numbers not available: %v", e.Numbers)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// AlreadyActiveError carries the reservation the owner already holds so
// the client can resume it.
type AlreadyActiveError struct {
	Reservation *model.Reservation
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("owner already holds reservation %s", e.Reservation.ID)
}

// Is lets errors.Is(err, ErrAlreadyActive) match.
func (e *AlreadyActiveError) Is(target error) bool { return target == ErrAlreadyActive }

// IsClientError reports whether err is one of the expected outcomes
// that must be returned to the caller rather than treated as fatal.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrForbidden, ErrConflict, ErrNotFound, ErrAlreadyActive, ErrInvalidState,
		ErrExpired, ErrRaffleNotSellable, ErrUnknownNumber, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

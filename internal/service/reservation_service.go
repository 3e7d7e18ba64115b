// Package service holds the reservation engine: the operations that
// move numbers between available, reserved and sold, and the sweeper
// that expires abandoned holds.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/raffle-reservation/internal/events"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// Options is the hold policy.
type Options struct {
	// HoldDuration is how long a reservation lives without being
	// confirmed.
	HoldDuration time.Duration
	// RefreshOnAdd resets expires_at to now+HoldDuration whenever a
	// number is added.  Removal never changes the deadline.
	RefreshOnAdd bool
	// MaxNumbers caps the numbers of one reservation; 0 means no cap.
	MaxNumbers int
	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// ConfirmationNotifier is told about every confirmed reservation after
// the commit.  Errors are logged only.
type ConfirmationNotifier interface {
	ReservationConfirmed(ctx context.Context, res *model.Reservation) error
}

// CreateInput is the request of Create.
type CreateInput struct {
	RaffleID    uint64
	Numbers     []int
	OwnerUserID uint64
	SessionID   string
}

// ReservationService is the transactional core.  Every operation runs
// inside one Store.InRaffle unit and publishes its events only after
// that unit committed.
type ReservationService struct {
	store    repository.Store
	bus      events.Publisher
	opts     Options
	log      logging.Logger
	notifier ConfirmationNotifier
}

// NewReservationService wires the service.  Zero options get defaults.
func NewReservationService(store repository.Store, bus events.Publisher, opts Options, log logging.Logger) *ReservationService {
	if opts.HoldDuration <= 0 {
		opts.HoldDuration = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &ReservationService{store: store, bus: bus, opts: opts, log: log}
}

// SetNotifier registers the confirmation notifier.
func (s *ReservationService) SetNotifier(n ConfirmationNotifier) { s.notifier = n }

// HoldDuration returns the configured hold window.
func (s *ReservationService) HoldDuration() time.Duration { return s.opts.HoldDuration }

// now is truncated to milliseconds, the precision the store keeps.
func (s *ReservationService) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Millisecond)
}

// Create holds numbers for a new reservation.  The whole batch is
// reserved or nothing is.
func (s *ReservationService) Create(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	numbers := model.NormalizeNumbers(in.Numbers)
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%w: number_values is required", repository.ErrInvalidInput)
	}
	if s.opts.MaxNumbers > 0 && len(numbers) > s.opts.MaxNumbers {
		return nil, fmt.Errorf("%w: at most %d numbers per reservation", repository.ErrInvalidInput, s.opts.MaxNumbers)
	}
	if in.OwnerUserID == 0 {
		return nil, repository.ErrForbidden
	}

	var res *model.Reservation
	var evs []model.Event
	var expired int
	err := s.store.InRaffle(ctx, in.RaffleID, func(tx repository.RaffleTx) error {
		if !tx.Raffle().Status.Sellable() {
			return repository.ErrRaffleNotSellable
		}
		now := s.now()
		released, err := s.expireDue(ctx, tx, now)
		if err != nil {
			return err
		}
		expired = len(released)
		evs = released

		cur, err := tx.ActiveReservation(ctx, in.OwnerUserID)
		if err == nil {
			return &repository.AlreadyActiveError{Reservation: cur}
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		res = &model.Reservation{
			ID:          s.opts.NewID(),
			RaffleID:    in.RaffleID,
			OwnerUserID: in.OwnerUserID,
			SessionID:   in.SessionID,
			Numbers:     numbers,
			Status:      model.ReservationActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.opts.HoldDuration),
			UpdatedAt:   now,
		}
		if err := tx.TryReserve(ctx, res, numbers); err != nil {
			return err
		}
		if err := tx.InsertReservation(ctx, res); err != nil {
			return err
		}
		owner := in.OwnerUserID
		evs = append(evs, model.NumberEvents(model.EventNumberReserved, in.RaffleID, tx.Version(), &owner, numbers, now)...)
		return nil
	})
	s.record("create", err)
	if err != nil {
		return nil, err
	}
	metrics.NumbersExpired.Add(float64(expired))
	s.bus.Publish(evs...)
	return res, nil
}

// AddNumber adds one number to the caller's active reservation.  Adding
// a number already held is a no-op.
func (s *ReservationService) AddNumber(ctx context.Context, caller uint64, resID string, number int) (*model.Reservation, error) {
	hint, err := s.store.FindReservation(ctx, resID)
	if err != nil {
		s.record("add", err)
		return nil, err
	}

	var out *model.Reservation
	var evs []model.Event
	var expired int
	err = s.store.InRaffle(ctx, hint.RaffleID, func(tx repository.RaffleTx) error {
		res, err := s.ownedActive(ctx, tx, caller, resID)
		if err != nil {
			return err
		}
		now := s.now()
		if res.Due(now) {
			return repository.ErrExpired
		}
		if !tx.Raffle().Status.Sellable() {
			return repository.ErrRaffleNotSellable
		}
		if res.Has(number) {
			out = res
			return nil
		}
		if s.opts.MaxNumbers > 0 && len(res.Numbers) >= s.opts.MaxNumbers {
			return fmt.Errorf("%w: at most %d numbers per reservation", repository.ErrInvalidInput, s.opts.MaxNumbers)
		}
		released, err := s.expireDue(ctx, tx, now)
		if err != nil {
			return err
		}
		expired = len(released)
		evs = released

		if err := tx.TryReserve(ctx, res, []int{number}); err != nil {
			return err
		}
		res.AddNumbers(number)
		if s.opts.RefreshOnAdd {
			res.ExpiresAt = now.Add(s.opts.HoldDuration)
		}
		res.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		owner := res.OwnerUserID
		evs = append(evs, model.NumberEvents(model.EventNumberReserved, res.RaffleID, tx.Version(), &owner, []int{number}, now)...)
		out = res
		return nil
	})
	s.record("add", err)
	if err != nil {
		return nil, err
	}
	metrics.NumbersExpired.Add(float64(expired))
	s.bus.Publish(evs...)
	return out, nil
}

// RemoveNumber releases one number of the caller's active reservation.
// Removing the last number cancels the reservation in the same unit.
func (s *ReservationService) RemoveNumber(ctx context.Context, caller uint64, resID string, number int) (*model.Reservation, error) {
	hint, err := s.store.FindReservation(ctx, resID)
	if err != nil {
		s.record("remove", err)
		return nil, err
	}

	var out *model.Reservation
	var evs []model.Event
	err = s.store.InRaffle(ctx, hint.RaffleID, func(tx repository.RaffleTx) error {
		res, err := s.ownedActive(ctx, tx, caller, resID)
		if err != nil {
			return err
		}
		now := s.now()
		if res.Due(now) {
			return repository.ErrExpired
		}
		if !res.Has(number) {
			return fmt.Errorf("%w: number %d is not part of the reservation", repository.ErrNotFound, number)
		}
		released, err := tx.Release(ctx, res.ID, number)
		if err != nil {
			return err
		}
		if len(released) != 1 {
			return fmt.Errorf("%w: reservation %s lists number %d it does not hold", repository.ErrInvariant, res.ID, number)
		}
		res.RemoveNumber(number)
		res.UpdatedAt = now
		if len(res.Numbers) == 0 {
			res.Status = model.ReservationCancelled
		}
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		evs = model.NumberEvents(model.EventNumberReleased, res.RaffleID, tx.Version(), nil, released, now)
		out = res
		return nil
	})
	s.record("remove", err)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(evs...)
	return out, nil
}

// Cancel releases every number of the caller's reservation.  Cancelling
// a reservation that is already cancelled or expired succeeds without
// changes; a confirmed one fails with ErrInvalidState.
func (s *ReservationService) Cancel(ctx context.Context, caller uint64, resID string) (*model.Reservation, error) {
	hint, err := s.store.FindReservation(ctx, resID)
	if err != nil {
		s.record("cancel", err)
		return nil, err
	}

	var out *model.Reservation
	var evs []model.Event
	err = s.store.InRaffle(ctx, hint.RaffleID, func(tx repository.RaffleTx) error {
		res, err := tx.Reservation(ctx, resID)
		if err != nil {
			return err
		}
		if res.OwnerUserID != caller {
			return repository.ErrForbidden
		}
		switch res.Status {
		case model.ReservationCancelled, model.ReservationExpired:
			out = res
			return nil
		case model.ReservationConfirmed:
			return repository.ErrInvalidState
		}
		now := s.now()
		released, err := tx.Release(ctx, res.ID)
		if err != nil {
			return err
		}
		// A hold already past its deadline ends as expired, the same as
		// if the sweeper had reached it first.
		if res.Due(now) {
			res.Status = model.ReservationExpired
		} else {
			res.Status = model.ReservationCancelled
		}
		res.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		evs = model.NumberEvents(model.EventNumberReleased, res.RaffleID, tx.Version(), nil, released, now)
		out = res
		return nil
	})
	s.record("cancel", err)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(evs...)
	return out, nil
}

// Confirm marks the reservation's numbers sold once payment has been
// captured.  It is called by the payment collaborator and performs no
// ownership check.  Confirming an already confirmed reservation returns
// it unchanged, so redelivered payment messages are harmless.
func (s *ReservationService) Confirm(ctx context.Context, resID string) (*model.Reservation, error) {
	hint, err := s.store.FindReservation(ctx, resID)
	if err != nil {
		s.record("confirm", err)
		return nil, err
	}

	var out *model.Reservation
	var evs []model.Event
	fresh := false
	err = s.store.InRaffle(ctx, hint.RaffleID, func(tx repository.RaffleTx) error {
		res, err := tx.Reservation(ctx, resID)
		if err != nil {
			return err
		}
		switch res.Status {
		case model.ReservationConfirmed:
			out = res
			return nil
		case model.ReservationCancelled:
			return repository.ErrNotFound
		case model.ReservationExpired:
			return repository.ErrExpired
		}
		now := s.now()
		if res.Due(now) {
			return repository.ErrExpired
		}
		if !tx.Raffle().Status.Sellable() {
			return repository.ErrRaffleNotSellable
		}
		if err := tx.MarkSold(ctx, res.ID, res.Numbers); err != nil {
			if errors.Is(err, repository.ErrStateMismatch) {
				return fmt.Errorf("%w: active reservation %s: %v", repository.ErrInvariant, res.ID, err)
			}
			return err
		}
		res.Status = model.ReservationConfirmed
		res.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		evs = model.NumberEvents(model.EventNumberSold, res.RaffleID, tx.Version(), nil, res.Numbers, now)
		out = res
		fresh = true
		return nil
	})
	s.record("confirm", err)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(evs...)
	if fresh && s.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.notifier.ReservationConfirmed(nctx, out); err != nil {
			s.log.Errorf("reservation: confirmation notify failed for %s: %v", out.ID, err)
		}
	}
	return out, nil
}

// Get returns one of the caller's reservations in any status.
func (s *ReservationService) Get(ctx context.Context, caller uint64, resID string) (*model.Reservation, error) {
	res, err := s.store.FindReservation(ctx, resID)
	if err != nil {
		return nil, err
	}
	if res.OwnerUserID != caller {
		return nil, repository.ErrForbidden
	}
	return res, nil
}

// Active returns the caller's live reservation for the raffle.  A hold
// past its deadline that the sweeper has not reached yet is reported as
// absent.
func (s *ReservationService) Active(ctx context.Context, caller, raffleID uint64) (*model.Reservation, error) {
	res, err := s.store.FindActive(ctx, raffleID, caller)
	if err != nil {
		return nil, err
	}
	if res.Due(s.now()) {
		return nil, repository.ErrNotFound
	}
	return res, nil
}

// Numbers returns the current state of every number of the raffle,
// for clients reconciling after a realtime reconnect.
func (s *ReservationService) Numbers(ctx context.Context, raffleID uint64) ([]model.Number, error) {
	return s.store.NumberStates(ctx, raffleID)
}

// Summary returns the per-status counts of the raffle.
func (s *ReservationService) Summary(ctx context.Context, raffleID uint64) (model.NumberSummary, error) {
	return s.store.Summary(ctx, raffleID)
}

// PublishRaffle creates a raffle with total available numbers.
func (s *ReservationService) PublishRaffle(ctx context.Context, raffleID uint64, total int) error {
	return s.store.PublishRaffle(ctx, raffleID, total)
}

// SetRaffleStatus records a raffle lifecycle change.  Reservations in
// flight are left to be cancelled or expired as usual.
func (s *ReservationService) SetRaffleStatus(ctx context.Context, raffleID uint64, status model.RaffleStatus) error {
	return s.store.SetRaffleStatus(ctx, raffleID, status)
}

// ownedActive loads the reservation inside the unit and checks it
// belongs to caller and is still active.
func (s *ReservationService) ownedActive(ctx context.Context, tx repository.RaffleTx, caller uint64, resID string) (*model.Reservation, error) {
	res, err := tx.Reservation(ctx, resID)
	if err != nil {
		return nil, err
	}
	if res.OwnerUserID != caller {
		return nil, repository.ErrForbidden
	}
	if !res.IsActive() {
		return nil, repository.ErrNotFound
	}
	return res, nil
}

// expireDue expires every overdue active reservation of the locked
// raffle and returns the release events to publish after commit.
func (s *ReservationService) expireDue(ctx context.Context, tx repository.RaffleTx, now time.Time) ([]model.Event, error) {
	due, err := tx.DueReservations(ctx, now)
	if err != nil {
		return nil, err
	}
	var evs []model.Event
	for _, res := range due {
		released, err := tx.Release(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		if len(released) != len(res.Numbers) {
			s.log.Warnf("reservation: expiring %s released %d of %d numbers", res.ID, len(released), len(res.Numbers))
		}
		res.Status = model.ReservationExpired
		res.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return nil, err
		}
		evs = append(evs, model.NumberEvents(model.EventNumberReleased, res.RaffleID, tx.Version(), nil, released, now)...)
	}
	return evs, nil
}

// record counts the outcome and logs the failures that are not
// ordinary client errors.
func (s *ReservationService) record(op string, err error) {
	metrics.ReservationOps.WithLabelValues(op, ResultLabel(err)).Inc()
	switch {
	case err == nil, repository.IsClientError(err):
	case errors.Is(err, repository.ErrInvariant):
		s.log.Errorf("reservation: %s: %v", op, err)
	default:
		s.log.Warnf("reservation: %s failed: %v", op, err)
	}
}

// ResultLabel maps an operation error to a short label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repository.ErrConflict):
		return "conflict"
	case errors.Is(err, repository.ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrForbidden):
		return "forbidden"
	case errors.Is(err, repository.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, repository.ErrExpired):
		return "expired"
	case errors.Is(err, repository.ErrRaffleNotSellable):
		return "raffle_not_sellable"
	case errors.Is(err, repository.ErrUnknownNumber):
		return "unknown_number"
	case errors.Is(err, repository.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, repository.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, repository.ErrInvariant):
		return "invariant"
	}
	return "error"
}

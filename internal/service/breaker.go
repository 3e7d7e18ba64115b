package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// BreakerStore guards a Store with a circuit breaker.  Only datastore
// failures and invariant violations count against it; the typed
// outcomes of reservation operations are successes from the breaker's
// point of view.  While open every call fails fast with
// repository.ErrUnavailable.
type BreakerStore struct {
	next repository.Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next repository.Store, cfg config.BreakerConfig, log logging.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			log.Warnf("breaker: %s changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || repository.IsClientError(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the breaker state for health checks.
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

func (b *BreakerStore) do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return err
}

func (b *BreakerStore) InRaffle(ctx context.Context, raffleID uint64, fn func(tx repository.RaffleTx) error) error {
	return b.do(func() error { return b.next.InRaffle(ctx, raffleID, fn) })
}

func (b *BreakerStore) FindReservation(ctx context.Context, id string) (res *model.Reservation, err error) {
	err = b.do(func() error {
		res, err = b.next.FindReservation(ctx, id)
		return err
	})
	return res, err
}

func (b *BreakerStore) FindActive(ctx context.Context, raffleID, ownerID uint64) (res *model.Reservation, err error) {
	err = b.do(func() error {
		res, err = b.next.FindActive(ctx, raffleID, ownerID)
		return err
	})
	return res, err
}

func (b *BreakerStore) NumberStates(ctx context.Context, raffleID uint64) (out []model.Number, err error) {
	err = b.do(func() error {
		out, err = b.next.NumberStates(ctx, raffleID)
		return err
	})
	return out, err
}

func (b *BreakerStore) Summary(ctx context.Context, raffleID uint64) (sum model.NumberSummary, err error) {
	err = b.do(func() error {
		sum, err = b.next.Summary(ctx, raffleID)
		return err
	})
	return sum, err
}

func (b *BreakerStore) DueRaffles(ctx context.Context, now time.Time, limit int) (ids []uint64, err error) {
	err = b.do(func() error {
		ids, err = b.next.DueRaffles(ctx, now, limit)
		return err
	})
	return ids, err
}

func (b *BreakerStore) PublishRaffle(ctx context.Context, raffleID uint64, total int) error {
	return b.do(func() error { return b.next.PublishRaffle(ctx, raffleID, total) })
}

func (b *BreakerStore) SetRaffleStatus(ctx context.Context, raffleID uint64, status model.RaffleStatus) error {
	return b.do(func() error { return b.next.SetRaffleStatus(ctx, raffleID, status) })
}

package service

import (
	"context"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/lock"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// sweeperLockKey is the Redis lease shared by every instance.
const sweeperLockKey = "raffle:sweeper"

// Lease is the part of a held lock the sweeper needs.
type Lease interface {
	Release(ctx context.Context) (bool, error)
}

// Locker elects one sweeping instance per tick.  It is optional.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RedisLeaser adapts lock.RedisLocker to Locker.
type RedisLeaser struct{ L *lock.RedisLocker }

func (r RedisLeaser) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	le, err := r.L.TryAcquire(ctx, key, ttl)
	if err != nil || le == nil {
		return nil, err
	}
	return le, nil
}

// Sweeper periodically expires reservations whose deadline has passed
// and releases their numbers.  Each raffle is expired in its own unit,
// under the same lock as the user operations, so a sweep racing a
// Confirm resolves one way or the other and never both.
type Sweeper struct {
	svc      *ReservationService
	store    repository.Store
	locker   Locker
	interval time.Duration
	batch    int
	lockTTL  time.Duration
	log      logging.Logger
}

// SweeperOptions configures NewSweeper.  With a nil Locker every
// instance sweeps on every tick.
type SweeperOptions struct {
	Interval time.Duration
	Batch    int
	LockTTL  time.Duration
	Locker   Locker
}

func NewSweeper(svc *ReservationService, opts SweeperOptions, log logging.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.Interval
	}
	return &Sweeper{
		svc:      svc,
		store:    svc.store,
		locker:   opts.Locker,
		interval: opts.Interval,
		batch:    opts.Batch,
		lockTTL:  opts.LockTTL,
		log:      log,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Infof("sweeper: started interval=%s batch=%d", s.interval, s.batch)
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("sweeper: stopped")
			return
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorf("sweeper: %v", err)
			}
		}
	}
}

// RunOnce performs a single sweep and returns the number of numbers it
// released.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		lease, err := s.locker.TryAcquire(ctx, sweeperLockKey, s.lockTTL)
		if err != nil {
			// Sweep without the lease while Redis is down.
			s.log.Warnf("sweeper: lease unavailable, sweeping anyway: %v", err)
		} else if lease == nil {
			metrics.SweepRuns.WithLabelValues("skipped").Inc()
			return 0, nil
		} else {
			defer func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				if _, err := lease.Release(rctx); err != nil {
					s.log.Warnf("sweeper: release lease: %v", err)
				}
			}()
		}
	}

	ids, err := s.store.DueRaffles(ctx, s.svc.now(), s.batch)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return 0, err
	}
	total := 0
	var firstErr error
	for _, id := range ids {
		n, err := s.svc.expireRaffle(ctx, id)
		if err != nil {
			s.log.Errorf("sweeper: raffle %d: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	if firstErr != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
	} else {
		metrics.SweepRuns.WithLabelValues("ran").Inc()
	}
	if total > 0 {
		s.log.Debugf("sweeper: released %d numbers across %d raffles", total, len(ids))
	}
	return total, firstErr
}

// expireRaffle expires every due reservation of one raffle in a single
// unit and publishes the release events after it commits.
func (s *ReservationService) expireRaffle(ctx context.Context, raffleID uint64) (int, error) {
	var evs []model.Event
	err := s.store.InRaffle(ctx, raffleID, func(tx repository.RaffleTx) error {
		var err error
		evs, err = s.expireDue(ctx, tx, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.NumbersExpired.Add(float64(len(evs)))
	s.bus.Publish(evs...)
	return len(evs), nil
}

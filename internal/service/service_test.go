package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// captureBus records published events.
type captureBus struct {
	mu  sync.Mutex
	evs []model.Event
}

func (b *captureBus) Publish(evs ...model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evs = append(b.evs, evs...)
}

func (b *captureBus) take() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.evs
	b.evs = nil
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *ReservationService
	store *repository.MemoryStore
	bus   *captureBus
	clock *fakeClock
}

const (
	testRaffle = uint64(1)
	userA      = uint64(100)
	userB      = uint64(200)
	hold       = 10 * time.Minute
)

func newFixture(t *testing.T, total int, mutate ...func(*Options)) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.PublishRaffle(context.Background(), testRaffle, total))
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	bus := &captureBus{}
	opts := Options{HoldDuration: hold, RefreshOnAdd: true, MaxNumbers: 20, Now: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}
	return &fixture{
		svc:   NewReservationService(store, bus, opts, logging.Nop{}),
		store: store,
		bus:   bus,
		clock: clock,
	}
}

func (f *fixture) create(t *testing.T, owner uint64, numbers ...int) *model.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), CreateInput{RaffleID: testRaffle, Numbers: numbers, OwnerUserID: owner})
	require.NoError(t, err)
	return res
}

// states returns value -> status for the raffle.
func (f *fixture) states(t *testing.T) map[int]model.NumberStatus {
	t.Helper()
	nums, err := f.store.NumberStates(context.Background(), testRaffle)
	require.NoError(t, err)
	out := make(map[int]model.NumberStatus, len(nums))
	for _, n := range nums {
		out[n.Value] = n.Status
	}
	return out
}

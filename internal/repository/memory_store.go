package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/model"
)

// MemoryStore keeps numbers and reservations in process memory.  The
// per-raffle mutex only serializes units inside one process, so it is
// meant for single-instance development and for tests; multi-instance
// deployments must use MySQLStore.
type MemoryStore struct {
	mu      sync.Mutex
	raffles map[uint64]*memRaffle
	owners  map[string]uint64 // reservation id -> raffle id
	now     func() time.Time
}

type memRaffle struct {
	lock         sync.Mutex
	raffle       model.Raffle
	numbers      map[int]*model.Number
	reservations map[string]*model.Reservation
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles: make(map[uint64]*memRaffle),
		owners:  make(map[string]uint64),
		now:     time.Now,
	}
}

func (s *MemoryStore) get(raffleID uint64) *memRaffle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raffles[raffleID]
}

// InRaffle implements Store.
func (s *MemoryStore) InRaffle(ctx context.Context, raffleID uint64, fn func(tx RaffleTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := s.get(raffleID)
	if r == nil {
		return ErrRaffleNotSellable
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	tx := &memTx{s: s, r: r}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	if tx.dirty {
		r.raffle.Version++
		r.raffle.UpdatedAt = s.now().UTC()
	}
	return nil
}

// FindReservation implements Store.
func (s *MemoryStore) FindReservation(ctx context.Context, id string) (*model.Reservation, error) {
	s.mu.Lock()
	raffleID, ok := s.owners[id]
	r := s.raffles[raffleID]
	s.mu.Unlock()
	if !ok || r == nil {
		return nil, ErrNotFound
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return res.Clone(), nil
}

// FindActive implements Store.
func (s *MemoryStore) FindActive(ctx context.Context, raffleID, ownerID uint64) (*model.Reservation, error) {
	r := s.get(raffleID)
	if r == nil {
		return nil, ErrNotFound
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, res := range r.reservations {
		if res.OwnerUserID == ownerID && res.IsActive() {
			return res.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// NumberStates implements Store.
func (s *MemoryStore) NumberStates(ctx context.Context, raffleID uint64) ([]model.Number, error) {
	r := s.get(raffleID)
	if r == nil {
		return nil, ErrNotFound
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]model.Number, 0, len(r.numbers))
	for _, n := range r.numbers {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

// Summary implements Store.
func (s *MemoryStore) Summary(ctx context.Context, raffleID uint64) (model.NumberSummary, error) {
	r := s.get(raffleID)
	if r == nil {
		return model.NumberSummary{}, ErrNotFound
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	sum := model.NumberSummary{RaffleID: raffleID, Total: len(r.numbers)}
	for _, n := range r.numbers {
		switch n.Status {
		case model.NumberAvailable:
			sum.Available++
		case model.NumberReserved:
			sum.Reserved++
		case model.NumberSold:
			sum.Sold++
		}
	}
	return sum, nil
}

// DueRaffles implements Store.
func (s *MemoryStore) DueRaffles(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	all := make([]*memRaffle, 0, len(s.raffles))
	for _, r := range s.raffles {
		all = append(all, r)
	}
	s.mu.Unlock()

	var ids []uint64
	for _, r := range all {
		r.lock.Lock()
		for _, res := range r.reservations {
			if res.Due(now) {
				ids = append(ids, r.raffle.ID)
				break
			}
		}
		r.lock.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// PublishRaffle implements Store.
func (s *MemoryStore) PublishRaffle(ctx context.Context, raffleID uint64, total int) error {
	if raffleID == 0 || total <= 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.raffles[raffleID]; ok {
		return ErrInvalidState
	}
	now := s.now().UTC()
	r := &memRaffle{
		raffle:       model.Raffle{ID: raffleID, Status: model.RaffleActive, TotalNumbers: total, CreatedAt: now, UpdatedAt: now},
		numbers:      make(map[int]*model.Number, total),
		reservations: make(map[string]*model.Reservation),
	}
	for v := 0; v < total; v++ {
		r.numbers[v] = &model.Number{RaffleID: raffleID, Value: v, Status: model.NumberAvailable}
	}
	s.raffles[raffleID] = r
	return nil
}

// SetRaffleStatus implements Store.
func (s *MemoryStore) SetRaffleStatus(ctx context.Context, raffleID uint64, status model.RaffleStatus) error {
	if !status.Valid() {
		return ErrInvalidInput
	}
	r := s.get(raffleID)
	if r == nil {
		return ErrNotFound
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.raffle.Status = status
	r.raffle.UpdatedAt = s.now().UTC()
	return nil
}

// memTx records an undo closure for every change so a failed unit can
// be rolled back.
type memTx struct {
	s     *MemoryStore
	r     *memRaffle
	undo  []func()
	dirty bool
}

func (t *memTx) Raffle() model.Raffle { return t.r.raffle }

func (t *memTx) Version() uint64 { return t.r.raffle.Version + 1 }

func (t *memTx) saveNumber(n *model.Number) {
	prev := *n
	t.undo = append(t.undo, func() { *n = prev })
	t.dirty = true
}

func (t *memTx) TryReserve(ctx context.Context, res *model.Reservation, numbers []int) error {
	var unavailable []int
	for _, v := range numbers {
		n, ok := t.r.numbers[v]
		if !ok {
			return ErrUnknownNumber
		}
		if n.Status != model.NumberAvailable {
			unavailable = append(unavailable, v)
		}
	}
	if len(unavailable) > 0 {
		return &ConflictError{Numbers: unavailable}
	}
	for _, v := range numbers {
		n := t.r.numbers[v]
		t.saveNumber(n)
		id, owner := res.ID, res.OwnerUserID
		n.Status = model.NumberReserved
		n.ReservationID = &id
		n.OwnerUserID = &owner
	}
	return nil
}

func (t *memTx) Release(ctx context.Context, resID string, numbers ...int) ([]int, error) {
	if len(numbers) == 0 {
		for v, n := range t.r.numbers {
			if n.ReservationID != nil && *n.ReservationID == resID {
				numbers = append(numbers, v)
			}
		}
		sort.Ints(numbers)
	}
	var released []int
	for _, v := range numbers {
		n, ok := t.r.numbers[v]
		if !ok || n.Status != model.NumberReserved || n.ReservationID == nil || *n.ReservationID != resID {
			continue
		}
		t.saveNumber(n)
		n.Status = model.NumberAvailable
		n.ReservationID = nil
		n.OwnerUserID = nil
		released = append(released, v)
	}
	return released, nil
}

func (t *memTx) MarkSold(ctx context.Context, resID string, numbers []int) error {
	for _, v := range numbers {
		n, ok := t.r.numbers[v]
		if !ok || n.Status != model.NumberReserved || n.ReservationID == nil || *n.ReservationID != resID {
			return ErrStateMismatch
		}
	}
	for _, v := range numbers {
		n := t.r.numbers[v]
		t.saveNumber(n)
		n.Status = model.NumberSold
		n.ReservationID = nil
	}
	return nil
}

func (t *memTx) Reservation(ctx context.Context, id string) (*model.Reservation, error) {
	res, ok := t.r.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return res.Clone(), nil
}

func (t *memTx) ActiveReservation(ctx context.Context, ownerID uint64) (*model.Reservation, error) {
	for _, res := range t.r.reservations {
		if res.OwnerUserID == ownerID && res.IsActive() {
			return res.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) DueReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error) {
	var out []*model.Reservation
	for _, res := range t.r.reservations {
		if res.Due(now) {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (t *memTx) InsertReservation(ctx context.Context, res *model.Reservation) error {
	if _, ok := t.r.reservations[res.ID]; ok {
		return ErrInvalidState
	}
	t.r.reservations[res.ID] = res.Clone()
	t.s.mu.Lock()
	t.s.owners[res.ID] = t.r.raffle.ID
	t.s.mu.Unlock()
	t.undo = append(t.undo, func() {
		delete(t.r.reservations, res.ID)
		t.s.mu.Lock()
		delete(t.s.owners, res.ID)
		t.s.mu.Unlock()
	})
	t.dirty = true
	return nil
}

func (t *memTx) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	cur, ok := t.r.reservations[res.ID]
	if !ok {
		return ErrNotFound
	}
	prev := cur.Clone()
	t.r.reservations[res.ID] = res.Clone()
	t.undo = append(t.undo, func() { t.r.reservations[res.ID] = prev })
	t.dirty = true
	return nil
}

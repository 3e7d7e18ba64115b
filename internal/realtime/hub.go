// Package realtime pushes number state changes to connected clients.
// Each raffle has its own broadcast group; delivery is best effort and
// clients reconcile through GET /v1/raffles/:id/numbers after a
// reconnect.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

var (
	// ErrSlowConsumer is reported by a subscription that was dropped
	// because its buffer was full.
	ErrSlowConsumer = errors.New("subscriber too slow")
	// ErrHubClosed is reported by subscriptions closed on shutdown.
	ErrHubClosed = errors.New("hub closed")
)

// Hub keeps one broadcast group per raffle.
type Hub struct {
	mu      sync.Mutex
	groups  map[uint64]*group
	bufSize int
	closed  bool
	log     logging.Logger
}

type group struct {
	subs map[*Subscription]struct{}
	// last is the highest raffle version delivered per number; older
	// events for that number are dropped.
	last map[int]uint64
}

// NewHub returns a hub whose subscriptions buffer bufSize messages.
func NewHub(bufSize int, log logging.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Hub{groups: make(map[uint64]*group), bufSize: bufSize, log: log}
}

// Subscription is one client's view of a raffle.  C is closed when the
// subscription ends; Err then tells why.
type Subscription struct {
	RaffleID uint64
	C        <-chan []byte

	c    chan []byte
	hub  *Hub
	once sync.Once
	err  error
}

// Subscribe joins the raffle's group.
func (h *Hub) Subscribe(raffleID uint64) *Subscription {
	c := make(chan []byte, h.bufSize)
	sub := &Subscription{RaffleID: raffleID, C: c, c: c, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.terminate(ErrHubClosed)
		return sub
	}
	g, ok := h.groups[raffleID]
	if !ok {
		g = &group{subs: make(map[*Subscription]struct{}), last: make(map[int]uint64)}
		h.groups[raffleID] = g
	}
	g.subs[sub] = struct{}{}
	return sub
}

// Close leaves the group.  It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	s.hub.remove(s)
	s.hub.mu.Unlock()
	s.terminate(nil)
}

// Err reports why the subscription ended, nil when closed by its owner.
// It is only meaningful after C has been closed.
func (s *Subscription) Err() error { return s.err }

func (s *Subscription) terminate(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.c)
	})
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscription) {
	g, ok := h.groups[s.RaffleID]
	if !ok {
		return
	}
	delete(g.subs, s)
	if len(g.subs) == 0 {
		delete(h.groups, s.RaffleID)
	}
}

// Broadcast sends ev to every subscriber of its raffle without
// blocking.  A subscriber whose buffer is full is disconnected.
func (h *Hub) Broadcast(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[ev.RaffleID]
	if !ok {
		return
	}
	if ev.Version < g.last[ev.NumberValue] {
		metrics.EventsDropped.WithLabelValues("stale").Inc()
		return
	}
	g.last[ev.NumberValue] = ev.Version

	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorf("realtime: marshal event: %v", err)
		return
	}
	for sub := range g.subs {
		select {
		case sub.c <- payload:
		default:
			metrics.EventsDropped.WithLabelValues("subscriber").Inc()
			h.remove(sub)
			sub.terminate(ErrSlowConsumer)
		}
	}
}

// Count returns the number of subscribers of a raffle.
func (h *Hub) Count(raffleID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[raffleID]; ok {
		return len(g.subs)
	}
	return 0
}

// Close ends every subscription.  Later Subscribe calls get an already
// closed subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, g := range h.groups {
		for sub := range g.subs {
			sub.terminate(ErrHubClosed)
		}
		delete(h.groups, id)
	}
}

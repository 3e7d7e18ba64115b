// Package events fans number state changes out to realtime
// subscribers and downstream streams.  Publishing never blocks the
// reservation path: events go into a bounded queue and are dropped,
// and counted, when it is full.
package events

import (
	"context"
	"time"

	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

// sinkTimeout bounds a single delivery so one slow sink cannot hold up
// the dispatcher for long.
const sinkTimeout = 2 * time.Second

// Publisher is what the reservation service emits into.
type Publisher interface {
	Publish(events ...model.Event)
}

// Sink receives every event the bus dispatches.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev model.Event) error
}

// Bus is an in-process queue with a single dispatcher goroutine, so
// sinks see events in the order they were published.
type Bus struct {
	queue chan model.Event
	sinks []Sink
	log   logging.Logger
}

// NewBus returns a bus with a queue of the given size.  Run must be
// started for events to flow.
func NewBus(size int, log logging.Logger, sinks ...Sink) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{queue: make(chan model.Event, size), sinks: sinks, log: log}
}

// Publish enqueues events without blocking.
func (b *Bus) Publish(events ...model.Event) {
	for _, ev := range events {
		select {
		case b.queue <- ev:
			metrics.EventsPublished.Inc()
		default:
			metrics.EventsDropped.WithLabelValues("bus").Inc()
			b.log.Warnf("event-bus: queue full, dropped %s raffle=%d number=%d", ev.Type, ev.RaffleID, ev.NumberValue)
		}
	}
}

// Run dispatches queued events to every sink until ctx is cancelled.
// Events still queued at that point are discarded.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev model.Event) {
	for _, s := range b.sinks {
		dctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.Deliver(dctx, ev)
		cancel()
		if err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			b.log.Errorf("event-bus: sink %s failed for %s raffle=%d number=%d: %v",
				s.Name(), ev.Type, ev.RaffleID, ev.NumberValue, err)
		}
	}
}

// Broadcaster is the realtime gateway side of a LocalSink.
type Broadcaster interface {
	Broadcast(ev model.Event)
}

// LocalSink hands events straight to the gateway of this process.  It
// is used when there is no Redis to relay through.
type LocalSink struct {
	Target Broadcaster
}

func (LocalSink) Name() string { return "local" }

func (s LocalSink) Deliver(_ context.Context, ev model.Event) error {
	s.Target.Broadcast(ev)
	return nil
}

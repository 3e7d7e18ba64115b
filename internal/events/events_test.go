package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

type recordSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []model.Event
}

func (s *recordSink) Name() string { return s.name }

func (s *recordSink) Deliver(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return s.err
}

func (s *recordSink) events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.got...)
}

type recordBroadcaster struct {
	mu  sync.Mutex
	got []model.Event
}

func (b *recordBroadcaster) Broadcast(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, ev)
}

func sampleEvents(n int) []model.Event {
	uid := uint64(5)
	nums := make([]int, n)
	for i := range nums {
		nums[i] = i
	}
	return model.NumberEvents(model.EventNumberReserved, 1, 3, &uid, nums, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func TestBus_DeliversInOrderToEverySink(t *testing.T) {
	ok := &recordSink{name: "ok"}
	failing := &recordSink{name: "failing", err: errors.New("down")}
	bus := NewBus(16, logging.Nop{}, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(sampleEvents(5)...)
	require.Eventually(t, func() bool { return len(ok.events()) == 5 }, time.Second, 5*time.Millisecond)
	for i, ev := range ok.events() {
		assert.Equal(t, i, ev.NumberValue)
	}
	assert.Len(t, failing.events(), 5, "a failing sink does not stop the others")
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	sink := &recordSink{name: "s"}
	bus := NewBus(2, logging.Nop{}, sink)

	done := make(chan struct{})
	go func() {
		bus.Publish(sampleEvents(10)...)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)
	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.events(), 2, "overflow was dropped")
}

func TestLocalSink(t *testing.T) {
	b := &recordBroadcaster{}
	ev := sampleEvents(1)[0]
	require.NoError(t, LocalSink{Target: b}.Deliver(context.Background(), ev))
	assert.Equal(t, []model.Event{ev}, b.got)
}

func TestRedisSink_Deliver(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ev := sampleEvents(1)[0]
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectPublish("raffle:events", string(payload)).SetVal(2)
	require.NoError(t, NewRedisSink(db, "raffle:events").Deliver(context.Background(), ev))

	mock.ExpectPublish("raffle:events", string(payload)).SetErr(errors.New("redis down"))
	assert.Error(t, NewRedisSink(db, "raffle:events").Deliver(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRelay_Handle(t *testing.T) {
	b := &recordBroadcaster{}
	r := NewRedisRelay(nil, "raffle:events", b, logging.Nop{})
	ev := sampleEvents(1)[0]
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	r.handle(string(payload))
	r.handle("{broken")
	require.Len(t, b.got, 1)
	assert.Equal(t, ev.NumberValue, b.got[0].NumberValue)
	assert.Equal(t, ev.Version, b.got[0].Version)
	assert.True(t, ev.OccurredAt.Equal(b.got[0].OccurredAt))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeysByRaffleAndNumber(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{w: w}
	for _, ev := range sampleEvents(2) {
		require.NoError(t, sink.Deliver(context.Background(), ev))
	}
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "1:0", string(w.msgs[0].Key))
	assert.Equal(t, "1:1", string(w.msgs[1].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, model.EventNumberReserved, string(w.msgs[0].Headers[0].Value))

	var decoded model.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, 1, decoded.NumberValue)
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink appends every event to a topic for reporting consumers.
// Messages are keyed by raffle and number so one number's history
// stays in one partition, in order.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink builds an async writer for topic.  Write errors surface
// through the completion callback.
func NewKafkaSink(brokers []string, topic string, log logging.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.SinkErrors.WithLabelValues("kafka").Add(float64(len(msgs)))
				log.Errorf("event-kafka: failed to write %d messages: %v", len(msgs), err)
			}
		},
	}
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d:%d", ev.RaffleID, ev.NumberValue)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	})
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error { return s.w.Close() }

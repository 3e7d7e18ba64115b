package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

// Confirmer turns a reservation into a sale.
type Confirmer interface {
	Confirm(ctx context.Context, resID string) (*model.Reservation, error)
}

// Refunder publishes refund requests.
type Refunder interface {
	RefundRequired(ctx context.Context, ev RefundRequiredEvent) error
}

// outcome is what to do with a delivery.
type outcome int

const (
	ack outcome = iota
	requeue
	reject
)

// PaymentConsumer confirms reservations from payment.captured messages.
type PaymentConsumer struct {
	url      string
	queue    string
	prefetch int
	svc      Confirmer
	refunds  Refunder
	log      logging.Logger
	now      func() time.Time
}

func NewPaymentConsumer(cfg config.RabbitMQConfig, svc Confirmer, refunds Refunder, log logging.Logger) *PaymentConsumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	return &PaymentConsumer{
		url:      cfg.URL,
		queue:    cfg.CapturedQueue,
		prefetch: prefetch,
		svc:      svc,
		refunds:  refunds,
		log:      log,
		now:      time.Now,
	}
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection drops.
func (c *PaymentConsumer) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warnf("payment-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warnf("payment-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *PaymentConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warnf("payment-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Infof("payment-consumer: consuming %s", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			switch c.handle(ctx, d.Body) {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			case reject:
				_ = d.Nack(false, false)
			}
		}
	}
}

// handle confirms the reservation named by body.  Captured payments that
// can no longer become a sale are refunded and acknowledged; transient
// datastore failures are requeued.
func (c *PaymentConsumer) handle(ctx context.Context, body []byte) outcome {
	var ev PaymentCapturedEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.ReservationID == "" {
		c.log.Errorf("payment-consumer: malformed message dropped: %s", body)
		metrics.PaymentMessages.WithLabelValues("malformed").Inc()
		return reject
	}

	res, err := c.svc.Confirm(ctx, ev.ReservationID)
	switch {
	case err == nil:
		c.log.Infof("payment-consumer: reservation %s confirmed numbers=%v payment=%s", res.ID, res.Numbers, ev.PaymentID)
		metrics.PaymentMessages.WithLabelValues("confirmed").Inc()
		return ack
	case errors.Is(err, repository.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		metrics.PaymentMessages.WithLabelValues("requeued").Inc()
		return requeue
	case repository.IsClientError(err):
		c.log.Warnf("payment-consumer: reservation %s cannot be confirmed: %v; requesting refund", ev.ReservationID, err)
		refund := RefundRequiredEvent{
			ReservationID: ev.ReservationID,
			PaymentID:     ev.PaymentID,
			Reason:        refundReason(err),
			OccurredAt:    c.now().UTC(),
		}
		if err := c.refunds.RefundRequired(ctx, refund); err != nil {
			metrics.PaymentMessages.WithLabelValues("requeued").Inc()
			return requeue
		}
		metrics.PaymentMessages.WithLabelValues("refunded").Inc()
		return ack
	case errors.Is(err, repository.ErrInvariant):
		c.log.Errorf("payment-consumer: confirm %s: %v; dead-lettering", ev.ReservationID, err)
		metrics.PaymentMessages.WithLabelValues("failed").Inc()
		return reject
	default:
		c.log.Errorf("payment-consumer: confirm %s failed: %v", ev.ReservationID, err)
		metrics.PaymentMessages.WithLabelValues("failed").Inc()
		return requeue
	}
}

func refundReason(err error) string {
	switch {
	case errors.Is(err, repository.ErrExpired):
		return "reservation_expired"
	case errors.Is(err, repository.ErrNotFound):
		return "reservation_not_found"
	case errors.Is(err, repository.ErrRaffleNotSellable):
		return "raffle_not_sellable"
	}
	return "not_confirmable"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

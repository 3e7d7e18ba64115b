package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

// Publisher sends refund and confirmation messages to RabbitMQ.  It
// keeps one connection open and redials it lazily after a failure; a
// fresh channel is opened for every publish.
type Publisher struct {
	url          string
	refundQueue  string
	confirmQueue string
	log          logging.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewPublisher(cfg config.RabbitMQConfig, log logging.Logger) *Publisher {
	return &Publisher{
		url:          cfg.URL,
		refundQueue:  cfg.RefundQueue,
		confirmQueue: cfg.ConfirmQueue,
		log:          log,
	}
}

// ReservationConfirmed publishes a ReservationConfirmedEvent.  It is
// called after the commit and its failure never undoes the sale.
func (p *Publisher) ReservationConfirmed(ctx context.Context, res *model.Reservation) error {
	return p.publish(ctx, p.confirmQueue, ReservationConfirmedEvent{
		ReservationID: res.ID,
		RaffleID:      res.RaffleID,
		UserID:        res.OwnerUserID,
		Numbers:       res.Numbers,
		ConfirmedAt:   res.UpdatedAt,
	})
}

// RefundRequired asks the payment service to give the money back.
func (p *Publisher) RefundRequired(ctx context.Context, ev RefundRequiredEvent) error {
	return p.publish(ctx, p.refundQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Errorf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	conn, err := p.connection()
	if err != nil {
		p.log.Errorf("rabbitmq: dial failed: %v", err)
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		p.log.Errorf("rabbitmq: channel open failed: %v", err)
		p.reset(conn)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.log.Errorf("rabbitmq: queue declare %s failed: %v", queue, err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Errorf("rabbitmq: publish to %s failed: %v", queue, err)
		return err
	}
	return nil
}

func (p *Publisher) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// reset drops conn so the next publish redials.
func (p *Publisher) reset(conn *amqp.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == conn {
		_ = conn.Close()
		p.conn = nil
	}
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
)

type stubConfirmer struct {
	err   error
	calls []string
}

func (s *stubConfirmer) Confirm(_ context.Context, id string) (*model.Reservation, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Reservation{ID: id, Numbers: []int{1}, Status: model.ReservationConfirmed}, nil
}

type stubRefunder struct {
	err  error
	sent []RefundRequiredEvent
}

func (s *stubRefunder) RefundRequired(_ context.Context, ev RefundRequiredEvent) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, ev)
	return nil
}

func newTestConsumer(c Confirmer, r Refunder) *PaymentConsumer {
	pc := NewPaymentConsumer(config.RabbitMQConfig{CapturedQueue: "payment.captured"}, c, r, logging.Nop{})
	pc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return pc
}

func TestPaymentConsumer_Handle(t *testing.T) {
	body := []byte(`{"reservation_id":"r-1","payment_id":"p-9"}`)

	tests := []struct {
		name       string
		confirmErr error
		refundErr  error
		want       outcome
		wantRefund string
	}{
		{name: "confirmed", want: ack},
		{name: "expired is refunded", confirmErr: repository.ErrExpired, want: ack, wantRefund: "reservation_expired"},
		{name: "cancelled is refunded", confirmErr: repository.ErrNotFound, want: ack, wantRefund: "reservation_not_found"},
		{name: "raffle closed is refunded", confirmErr: repository.ErrRaffleNotSellable, want: ack, wantRefund: "raffle_not_sellable"},
		{name: "refund publish failure requeues", confirmErr: repository.ErrExpired, refundErr: errors.New("broker down"), want: requeue},
		{name: "datastore unavailable requeues", confirmErr: fmt.Errorf("%w: circuit open", repository.ErrUnavailable), want: requeue},
		{name: "invariant is dead-lettered", confirmErr: fmt.Errorf("%w: mismatch", repository.ErrInvariant), want: reject},
		{name: "unknown error requeues", confirmErr: errors.New("driver: bad connection"), want: requeue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := &stubConfirmer{err: tt.confirmErr}
			ref := &stubRefunder{err: tt.refundErr}
			got := newTestConsumer(conf, ref).handle(context.Background(), body)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"r-1"}, conf.calls)
			if tt.wantRefund == "" {
				assert.Empty(t, ref.sent)
				return
			}
			require.Len(t, ref.sent, 1)
			assert.Equal(t, "r-1", ref.sent[0].ReservationID)
			assert.Equal(t, "p-9", ref.sent[0].PaymentID)
			assert.Equal(t, tt.wantRefund, ref.sent[0].Reason)
		})
	}
}

func TestPaymentConsumer_MalformedMessage(t *testing.T) {
	conf := &stubConfirmer{}
	pc := newTestConsumer(conf, &stubRefunder{})
	assert.Equal(t, reject, pc.handle(context.Background(), []byte(`not json`)))
	assert.Equal(t, reject, pc.handle(context.Background(), []byte(`{"payment_id":"p"}`)))
	assert.Empty(t, conf.calls)
}

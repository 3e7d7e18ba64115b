package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

var errChannelClosed = errors.New("subscription channel closed")

// RedisSink publishes events on a pub/sub channel so every instance's
// gateway can forward them to its own sockets.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

// NewRedisSink returns a sink publishing to channel.
func NewRedisSink(rdb *redis.Client, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, string(payload)).Err()
}

// RedisRelay subscribes to the channel and feeds the local gateway.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	target  Broadcaster
	log     logging.Logger
}

// NewRedisRelay returns a relay delivering into target.
func NewRedisRelay(rdb *redis.Client, channel string, target Broadcaster, log logging.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, target: target, log: log}
}

// Run keeps a subscription open until ctx is cancelled, resubscribing
// with backoff if the connection drops.
func (r *RedisRelay) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := r.consume(ctx); err != nil && ctx.Err() == nil {
			r.log.Errorf("event-relay: subscription ended: %v; retrying in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Infof("event-relay: subscribed to %s", r.channel)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errChannelClosed
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var ev model.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warnf("event-relay: bad payload: %v", err)
		return
	}
	r.target.Broadcast(ev)
}

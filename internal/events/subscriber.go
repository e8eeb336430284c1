package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Subscriber hands out subscriptions on the notification channels. The
// realtime layer consumes decoded events from them and fans out to its
// websocket clients.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// ChannelEvent pairs a decoded event with the channel it arrived on so
// consumers of multi-channel subscriptions can route it.
type ChannelEvent struct {
	Channel string
	Event   Event
}

// Subscription is a live set of channels that can grow and shrink as
// clients attach to and detach from rooms.
type Subscription interface {
	Events() <-chan ChannelEvent
	Add(ctx context.Context, channels ...string) error
	Remove(ctx context.Context, channels ...string) error
	Close() error
}

type RedisSubscriber struct {
	rdb *redis.Client
	log *log.Logger
}

func NewRedisSubscriber(rdb *redis.Client, logger *log.Logger) *RedisSubscriber {
	return &RedisSubscriber{rdb: rdb, log: logger}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, channels...)

	// force the connection so a dead transport surfaces here rather
	// than as a silent, empty event stream
	if len(channels) > 0 {
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, err
		}
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan ChannelEvent, 64),
		log:    s.log,
	}
	go sub.decodeLoop()

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan ChannelEvent
	log    *log.Logger
}

func (s *redisSubscription) decodeLoop() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.log.Printf("unmarshal event on %q: %v", msg.Channel, err)
			continue
		}

		s.events <- ChannelEvent{Channel: msg.Channel, Event: event}
	}
}

func (s *redisSubscription) Events() <-chan ChannelEvent {
	return s.events
}

func (s *redisSubscription) Add(ctx context.Context, channels ...string) error {
	return s.pubsub.Subscribe(ctx, channels...)
}

func (s *redisSubscription) Remove(ctx context.Context, channels ...string) error {
	return s.pubsub.Unsubscribe(ctx, channels...)
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

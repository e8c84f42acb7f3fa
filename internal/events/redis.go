package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var redisPatterns = []string{string(AudienceVendor) + ":*", string(AudienceUser) + ":*"}

// RedisBroker fans messages out across processes through Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	log    logrus.FieldLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroker connects and pings; an error means the caller should fall
// back to another broker.
func NewRedisBroker(ctx context.Context, url string, log logrus.FieldLogger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBroker{client: client, log: log.WithField("broker", "redis")}, nil
}

func (b *RedisBroker) Name() string { return "redis" }

// Client exposes the connection so other cross-instance coordination can share it.
func (b *RedisBroker) Client() *redis.Client { return b.client }

func (b *RedisBroker) Publish(ctx context.Context, aud Audience, payload Payload) error {
	data, err := encode(aud, payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, aud.Channel(), data).Err()
}

func (b *RedisBroker) SubscribeAll(ctx context.Context, sink Sink) error {
	ps := b.client.PSubscribe(ctx, redisPatterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("psubscribe %v: %w", redisPatterns, err)
	}

	done := make(chan struct{})
	b.mu.Lock()
	b.pubsub = ps
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			aud, ok := ParseChannel(msg.Channel)
			if !ok {
				b.log.WithField("channel", msg.Channel).Warn("dropping message on unknown channel")
				continue
			}
			sink.Deliver(aud, []byte(msg.Payload))
		}
	}()

	b.log.WithField("patterns", redisPatterns).Info("subscribed to live event channels")
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if ps != nil {
		_ = ps.Close()
		<-done
	}
	return b.client.Close()
}

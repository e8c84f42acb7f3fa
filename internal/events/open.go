package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	RedisURL    string
	AMQPURL     string
	DialTimeout time.Duration
}

// Open returns the first broker that connects and subscribes, in the order
// Redis, AMQP, local. It never fails: live events are an enhancement, so a
// broken shared bus degrades to process-local delivery.
func Open(ctx context.Context, opts Options, sink Sink, log logrus.FieldLogger) Broker {
	log = log.WithField("component", "events")
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	candidates := []struct {
		name string
		url  string
		dial func(ctx context.Context, url string) (Broker, error)
	}{
		{"redis", opts.RedisURL, func(ctx context.Context, url string) (Broker, error) {
			return NewRedisBroker(ctx, url, log)
		}},
		{"amqp", opts.AMQPURL, func(_ context.Context, url string) (Broker, error) {
			return NewAMQPBroker(url, opts.DialTimeout, log)
		}},
	}

	for _, c := range candidates {
		if c.url == "" {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		b, err := c.dial(dctx, c.url)
		if err == nil {
			err = b.SubscribeAll(dctx, sink)
			if err != nil {
				_ = b.Close()
			}
		}
		cancel()

		if err != nil {
			log.WithError(err).WithField("broker", c.name).Warn("shared event bus unavailable, falling back")
			continue
		}
		log.WithField("broker", b.Name()).Info("live event broker ready")
		return b
	}

	local := NewLocalBroker()
	_ = local.SubscribeAll(ctx, sink)
	log.WithField("broker", local.Name()).Info("live event broker ready")
	return local
}

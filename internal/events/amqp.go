package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const liveExchange = "live_events"

// AMQPBroker fans messages out across processes through a RabbitMQ topic
// exchange. Each process consumes from its own exclusive, auto-deleted queue.
type AMQPBroker struct {
	conn *amqp.Connection
	log  logrus.FieldLogger

	// amqp channels are not safe for concurrent publishing.
	mu    sync.Mutex
	pubCh *amqp.Channel
	subCh *amqp.Channel
}

func NewAMQPBroker(url string, dialTimeout time.Duration, log logrus.FieldLogger) (*AMQPBroker, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.ExchangeDeclare(liveExchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", liveExchange, err)
	}
	return &AMQPBroker{conn: conn, pubCh: ch, log: log.WithField("broker", "amqp")}, nil
}

func (b *AMQPBroker) Name() string { return "amqp" }

func routingKey(aud Audience) string { return string(aud.Kind) + "." + aud.ID }

func audienceFromRoutingKey(key string) (Audience, bool) {
	kind, id, ok := strings.Cut(key, ".")
	if !ok {
		return Audience{}, false
	}
	return ParseChannel(kind + ":" + id)
}

func (b *AMQPBroker) Publish(ctx context.Context, aud Audience, payload Payload) error {
	data, err := encode(aud, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubCh.PublishWithContext(ctx, liveExchange, routingKey(aud), false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         data,
	})
}

func (b *AMQPBroker) SubscribeAll(_ context.Context, sink Sink) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare live queue: %w", err)
	}
	// "#" so identifiers containing dots still route.
	for _, key := range []string{string(AudienceVendor) + ".#", string(AudienceUser) + ".#"} {
		if err := ch.QueueBind(q.Name, key, liveExchange, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	b.mu.Lock()
	b.subCh = ch
	b.mu.Unlock()

	go func() {
		for d := range msgs {
			aud, ok := audienceFromRoutingKey(d.RoutingKey)
			if !ok {
				b.log.WithField("routingKey", d.RoutingKey).Warn("dropping message with unknown routing key")
				continue
			}
			sink.Deliver(aud, d.Body)
		}
		b.log.Info("live event consumer stopped")
	}()

	b.log.WithField("queue", q.Name).Info("subscribed to live event exchange")
	return nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subCh != nil {
		_ = b.subCh.Close()
	}
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	return b.conn.Close()
}

// setup.go
package rabbit

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	orderPlacedExchange = "order_placed"
	ordersQueue         = "campus_fulfillment_orders"
	prefetch            = 16
)

// SetupConsumers binds the service queue to the order_placed fanout exchange
// and handles deliveries until ctx ends or the channel closes.
func SetupConsumers(ctx context.Context, ch *amqp.Channel, placer OrderPlacer, log logrus.FieldLogger) error {
	consumer := NewPlaceOrderConsumer(placer, log)

	if err := ch.ExchangeDeclare(orderPlacedExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", orderPlacedExchange, err)
	}
	q, err := ch.QueueDeclare(ordersQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare %s: %w", ordersQueue, err)
	}
	// fanout ignores the routing key
	if err := ch.QueueBind(q.Name, "", orderPlacedExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", q.Name, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					consumer.log.Warn("order_placed delivery channel closed")
					return
				}
				consumer.deliver(ctx, d)
			}
		}
	}()

	consumer.log.WithField("queue", q.Name).Info("subscribed to order_placed")
	return nil
}

package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/dto"
	"campus-fulfillment-service/internal/service"
)

// OrderPlacer is the part of the order service the consumer drives.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, in service.PlaceOrderInput) (*service.Result, error)
}

type PlaceOrderConsumer struct {
	Orders OrderPlacer
	log    logrus.FieldLogger
}

func NewPlaceOrderConsumer(o OrderPlacer, log logrus.FieldLogger) *PlaceOrderConsumer {
	return &PlaceOrderConsumer{Orders: o, log: log.WithField("component", "rabbit")}
}

// PlacedOrderMessage is the envelope published on the order_placed exchange
// by the checkout flow.
type PlacedOrderMessage struct {
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Message       struct {
		UserID string `json:"userId"`
		dto.PlaceOrderRequest
	} `json:"message"`
}

// Handle places the order described by msg. A redelivered order that already
// exists counts as handled.
func (c *PlaceOrderConsumer) Handle(ctx context.Context, msg []byte) error {
	var event PlacedOrderMessage
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("decode order_placed: %w: %w", apperr.ErrValidation, err)
	}

	log := c.log.WithFields(logrus.Fields{
		"correlationId": event.CorrelationID,
		"orderId":       event.Message.OrderID,
	})
	log.Debug("order_placed received")

	res, err := c.Orders.PlaceOrder(ctx, event.Message.ToInput(event.Message.UserID))
	if apperr.Kind(err) == "conflict" && event.Message.OrderID != "" {
		log.Info("order already placed, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	log.WithField("eta", res.Order.EstimatedPreparationTime).Info("order placed from queue")
	return nil
}

// deliver acks handled messages. Failures caused by the message itself are
// dropped; anything else is requeued once.
func (c *PlaceOrderConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	err := c.Handle(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	requeue := !permanent(err) && !d.Redelivered
	c.log.WithError(err).WithFields(logrus.Fields{
		"kind":    apperr.Kind(err),
		"requeue": requeue,
	}).Warn("order_placed not processed")
	_ = d.Nack(false, requeue)
}

func permanent(err error) bool {
	switch apperr.Kind(err) {
	case "validation", "not_found", "forbidden", "conflict":
		return true
	}
	return false
}

// Package events publishes audience-addressed live notifications.
//
// A Broker moves a serialized payload from the publishing process to every
// process that may hold connections for the audience, and hands it to that
// process's Sink (the live-connection gateway). Delivery is best-effort and
// at-most-once.
//
// Three brokers share the contract:
//
//   - Local: delivers straight into the in-process Sink. Single instance only.
//   - Redis: PUBLISH on "vendor:<id>" / "user:<id>", one PSUBSCRIBE per process.
//   - AMQP: topic exchange, routing keys "vendor.<id>" / "user.<id>", one
//     exclusive queue per process bound to "vendor.*" and "user.*".
//
// Pick one with Open; call sites never branch on configuration.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type AudienceKind string

const (
	AudienceVendor AudienceKind = "vendor"
	AudienceUser   AudienceKind = "user"
)

func (k AudienceKind) Valid() bool {
	return k == AudienceVendor || k == AudienceUser
}

type Audience struct {
	Kind AudienceKind
	ID   string
}

func Vendor(id string) Audience { return Audience{Kind: AudienceVendor, ID: id} }
func User(id string) Audience   { return Audience{Kind: AudienceUser, ID: id} }

// Channel is the shared-bus channel name, e.g. "vendor:V1".
func (a Audience) Channel() string { return string(a.Kind) + ":" + a.ID }

func (a Audience) String() string { return a.Channel() }

// ParseChannel is the inverse of Channel.
func ParseChannel(ch string) (Audience, bool) {
	kind, id, ok := strings.Cut(ch, ":")
	if !ok || id == "" || !AudienceKind(kind).Valid() {
		return Audience{}, false
	}
	return Audience{Kind: AudienceKind(kind), ID: id}, true
}

// Payload types seen by clients.
const (
	TypeConnected           = "connected"
	TypePing                = "ping"
	TypeOrderUpdated        = "order_updated"
	TypeNotification        = "notification"
	TypeSubscriptionCreated = "subscription_created"
)

// Payload is a flat JSON object carrying a "type" discriminator.
type Payload map[string]any

func (p Payload) Type() string {
	t, _ := p["type"].(string)
	return t
}

func OrderUpdated(orderID, state string) Payload {
	return Payload{"type": TypeOrderUpdated, "orderId": orderID, "state": state}
}

func Notification(id, title, message string) Payload {
	return Payload{"type": TypeNotification, "id": id, "title": title, "message": message}
}

func SubscriptionCreated(subscriptionID, userID, plan string) Payload {
	return Payload{"type": TypeSubscriptionCreated, "subscriptionId": subscriptionID, "userId": userID, "plan": plan}
}

// Sink receives serialized payloads for one audience. The gateway hub is the
// production Sink.
type Sink interface {
	Deliver(aud Audience, data []byte)
}

type Broker interface {
	Publish(ctx context.Context, aud Audience, payload Payload) error
	// SubscribeAll starts forwarding every audience's messages into sink and
	// returns once the subscription is established.
	SubscribeAll(ctx context.Context, sink Sink) error
	Name() string
	Close() error
}

func encode(aud Audience, payload Payload) ([]byte, error) {
	if !aud.Kind.Valid() || aud.ID == "" {
		return nil, fmt.Errorf("invalid audience %q", aud.Channel())
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.Type(), err)
	}
	return data, nil
}

package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/eta"
	"campus-fulfillment-service/internal/events"
	"campus-fulfillment-service/internal/model"
	"campus-fulfillment-service/internal/token"
)

// Repository contracts implemented by internal/repository.

type OrderRepository interface {
	// Insert fails with apperr.ErrConflict when the order id already exists.
	Insert(ctx context.Context, o *model.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*model.Order, error)
	// UpdateState persists o's state fields only if the stored state is still
	// from, and fails with apperr.ErrConflict otherwise.
	UpdateState(ctx context.Context, o *model.Order, from model.OrderState) error
	UpdateEstimate(ctx context.Context, orderID string, minutes int) error
	ActiveByVendor(ctx context.Context, vendorID string) ([]*model.Order, error)
}

type MenuRepository interface {
	FindMenuItem(ctx context.Context, id string) (*model.MenuItem, error)
}

type VendorRepository interface {
	FindVendor(ctx context.Context, id string) (*model.Vendor, error)
}

type NotificationRepository interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
}

type SubscriptionRepository interface {
	InsertSubscription(ctx context.Context, s *model.Subscription) error
	FindSubscription(ctx context.Context, id string) (*model.Subscription, error)
}

type Publisher interface {
	Publish(ctx context.Context, aud events.Audience, payload events.Payload) error
}

type Estimator interface {
	Estimate(ctx context.Context, in eta.Input) eta.Breakdown
}

// Recorder receives completed orders for analytics.
type Recorder interface {
	RecordCompletion(ctx context.Context, order *model.Order) error
}

type Tokens interface {
	IssueCapability(orderID, userID, vendorID string) (string, error)
	VerifyCapability(raw string) (*token.CapabilityClaims, error)
}

// SideEffect is the outcome of one best-effort step. A failed side effect is
// logged and reported to the caller but never undoes the operation it
// followed.
type SideEffect struct {
	Name string
	Err  error
}

func (s SideEffect) OK() bool { return s.Err == nil }

type sideEffects []SideEffect

func (se *sideEffects) run(name string, fn func() error) {
	*se = append(*se, SideEffect{Name: name, Err: fn()})
}

func (se sideEffects) log(log logrus.FieldLogger, fields logrus.Fields) {
	for _, s := range se {
		if s.Err != nil {
			log.WithFields(fields).WithField("sideEffect", s.Name).WithError(s.Err).Warn("best-effort step failed")
		}
	}
}

func publish(ctx context.Context, pub Publisher, se *sideEffects, name string, aud events.Audience, p events.Payload) {
	se.run(name, func() error { return pub.Publish(ctx, aud, p) })
}

package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/eta"
	"campus-fulfillment-service/internal/events"
	"campus-fulfillment-service/internal/model"
)

// Legal edges. States are never re-entered, so every timestamp is written once.
var transitions = map[model.OrderState][]model.OrderState{
	model.StatePending:   {model.StatePreparing, model.StateRejected},
	model.StatePreparing: {model.StateReady},
	model.StateReady:     {model.StateCompleted},
}

func canTransition(from, to model.OrderState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type milestone struct {
	title   string
	message func(o *model.Order) string
}

// User-facing milestones get a stored notification on top of the state event.
var milestones = map[model.OrderState]milestone{
	model.StatePreparing: {"Order accepted", func(o *model.Order) string {
		return fmt.Sprintf("Your order is being prepared. Estimated time: %d minutes.", o.EstimatedPreparationTime)
	}},
	model.StateRejected: {"Order rejected", func(*model.Order) string {
		return "The vendor could not accept your order."
	}},
	model.StateReady: {"Order ready", func(*model.Order) string {
		return "Your order is ready for pickup."
	}},
	model.StateCompleted: {"Order completed", func(*model.Order) string {
		return "Your order has been picked up. Enjoy your meal!"
	}},
}

type OrderDeps struct {
	Orders        OrderRepository
	Menu          MenuRepository
	Vendors       VendorRepository
	Notifications NotificationRepository
	Publisher     Publisher
	Estimator     Estimator
	Analytics     Recorder
	Tokens        Tokens
	Now           func() time.Time
}

type OrderService struct {
	orders        OrderRepository
	menu          MenuRepository
	vendors       VendorRepository
	notifications NotificationRepository
	pub           Publisher
	estimator     Estimator
	analytics     Recorder
	tokens        Tokens
	now           func() time.Time
	log           logrus.FieldLogger
}

func NewOrderService(d OrderDeps, log logrus.FieldLogger) *OrderService {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &OrderService{
		orders:        d.Orders,
		menu:          d.Menu,
		vendors:       d.Vendors,
		notifications: d.Notifications,
		pub:           d.Publisher,
		estimator:     d.Estimator,
		analytics:     d.Analytics,
		tokens:        d.Tokens,
		now:           d.Now,
		log:           log.WithField("component", "orders"),
	}
}

// Result is a committed order plus the best-effort steps that followed it.
type Result struct {
	Order       *model.Order
	SideEffects []SideEffect
}

func (r *Result) Failed() []SideEffect {
	var out []SideEffect
	for _, s := range r.SideEffects {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

type ItemRequest struct {
	MenuItemID string
	Quantity   int
}

type PlaceOrderInput struct {
	OrderID  string // minted when empty
	UserID   string
	VendorID string
	Items    []ItemRequest
}

// PlaceOrder denormalizes the requested menu items into a new pending order
// with an initial ETA for the back of the pending queue.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Result, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.VendorID) == "" {
		return nil, fmt.Errorf("user and vendor are required: %w", apperr.ErrValidation)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("order has no items: %w", apperr.ErrValidation)
	}

	vendor, err := s.vendors.FindVendor(ctx, in.VendorID)
	if err != nil {
		return nil, fmt.Errorf("vendor %s: %w", in.VendorID, err)
	}

	lines := make([]model.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("item %s quantity %d: %w", it.MenuItemID, it.Quantity, apperr.ErrValidation)
		}
		mi, err := s.menu.FindMenuItem(ctx, it.MenuItemID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("menu item %s does not exist: %w", it.MenuItemID, apperr.ErrValidation)
		}
		if err != nil {
			return nil, fmt.Errorf("menu item %s: %w", it.MenuItemID, err)
		}
		if mi.VendorID != vendor.ID {
			return nil, fmt.Errorf("menu item %s is not sold by vendor %s: %w", it.MenuItemID, vendor.ID, apperr.ErrValidation)
		}
		lines = append(lines, model.LineItem{
			MenuItemID: mi.ID,
			Name:       mi.Name,
			UnitPrice:  mi.Price,
			Quantity:   it.Quantity,
		})
	}

	active, err := s.orders.ActiveByVendor(ctx, vendor.ID)
	if err != nil {
		s.log.WithError(err).WithField("vendorId", vendor.ID).Warn("active queue unavailable, estimating as empty")
		active = nil
	}

	id := in.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()

	est := s.estimator.Estimate(ctx, eta.Input{
		Vendor:       vendor,
		Items:        lines,
		ActiveOrders: len(active) + 1,
		Position:     eta.PendingCount(active) + 1,
	})

	order := &model.Order{
		OrderID:                  id,
		VendorID:                 vendor.ID,
		UserID:                   in.UserID,
		Items:                    lines,
		State:                    model.StatePending,
		StateTimestamps:          map[model.OrderState]time.Time{model.StatePending: now},
		EstimatedPreparationTime: est.Minutes,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order %s: %w", id, err)
	}

	var se sideEffects
	payload := events.OrderUpdated(order.OrderID, string(order.State))
	publish(ctx, s.pub, &se, "publish_vendor", events.Vendor(order.VendorID), payload)
	publish(ctx, s.pub, &se, "publish_user", events.User(order.UserID), payload)
	se.log(s.log, logrus.Fields{"orderId": order.OrderID})

	s.log.WithFields(logrus.Fields{
		"orderId":  order.OrderID,
		"vendorId": order.VendorID,
		"eta":      order.EstimatedPreparationTime,
	}).Info("order placed")
	return &Result{Order: order, SideEffects: se}, nil
}

// Transition moves an order along a legal edge on behalf of its vendor. The
// state change is committed before any side effect runs; analytics, events
// and notifications are best-effort and reported in the result.
func (s *OrderService) Transition(ctx context.Context, orderID string, to model.OrderState, vendorID string) (*Result, error) {
	cur, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if cur.VendorID != vendorID {
		return nil, fmt.Errorf("order %s belongs to another vendor: %w", orderID, apperr.ErrForbidden)
	}
	if !canTransition(cur.State, to) {
		return nil, fmt.Errorf("%s -> %s: %w", cur.State, to, apperr.ErrIllegalTransition)
	}

	var se sideEffects
	now := s.now()
	next := *cur
	next.State = to
	next.UpdatedAt = now
	next.StateTimestamps = make(map[model.OrderState]time.Time, len(cur.StateTimestamps)+1)
	for k, v := range cur.StateTimestamps {
		next.StateTimestamps[k] = v
	}
	next.StateTimestamps[to] = now

	switch to {
	case model.StatePreparing:
		se.run("estimate", func() error { return s.refreshEstimate(ctx, &next) })
		qr, err := s.tokens.IssueCapability(next.OrderID, next.UserID, next.VendorID)
		if err != nil {
			return nil, fmt.Errorf("issue capability token for %s: %w", orderID, err)
		}
		next.QRCode = qr
	case model.StateReady:
		actual := int(math.Round(now.Sub(next.StateTimestamps[model.StatePreparing]).Minutes()))
		next.ActualPreparationTime = &actual
	}

	if err := s.orders.UpdateState(ctx, &next, cur.State); err != nil {
		return nil, fmt.Errorf("persist %s -> %s for %s: %w", cur.State, to, orderID, err)
	}

	if to == model.StateCompleted {
		se.run("analytics", func() error { return s.analytics.RecordCompletion(ctx, &next) })
	}

	payload := events.OrderUpdated(next.OrderID, string(next.State))
	publish(ctx, s.pub, &se, "publish_vendor", events.Vendor(next.VendorID), payload)
	publish(ctx, s.pub, &se, "publish_user", events.User(next.UserID), payload)

	if m, ok := milestones[to]; ok {
		s.notify(ctx, &se, &next, m)
	}

	fields := logrus.Fields{"orderId": orderID, "from": cur.State, "to": to}
	se.log(s.log, fields)
	s.log.WithFields(fields).Info("order transitioned")
	return &Result{Order: &next, SideEffects: se}, nil
}

// refreshEstimate recomputes o's ETA against the vendor's queue with o in its
// new state. On failure o keeps the estimate it had.
func (s *OrderService) refreshEstimate(ctx context.Context, o *model.Order) error {
	vendor, err := s.vendors.FindVendor(ctx, o.VendorID)
	if err != nil {
		return fmt.Errorf("vendor %s: %w", o.VendorID, err)
	}
	active, err := s.orders.ActiveByVendor(ctx, o.VendorID)
	if err != nil {
		return fmt.Errorf("active orders for %s: %w", o.VendorID, err)
	}

	queue := make([]*model.Order, 0, len(active)+1)
	for _, a := range active {
		if a.OrderID != o.OrderID {
			queue = append(queue, a)
		}
	}
	if o.State.Active() {
		queue = append(queue, o)
	}

	pos, ok := eta.QueuePosition(queue, o.OrderID)
	if !ok {
		pos = 1
	}
	o.EstimatedPreparationTime = s.estimator.Estimate(ctx, eta.Input{
		Vendor:       vendor,
		Items:        o.Items,
		ActiveOrders: len(queue),
		Position:     pos,
	}).Minutes
	return nil
}

func (s *OrderService) notify(ctx context.Context, se *sideEffects, o *model.Order, m milestone) {
	n := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    o.UserID,
		OrderID:   o.OrderID,
		Title:     m.title,
		Message:   m.message(o),
		CreatedAt: s.now(),
	}
	se.run("notification_store", func() error { return s.notifications.InsertNotification(ctx, n) })
	publish(ctx, s.pub, se, "notification_publish", events.User(o.UserID), events.Notification(n.ID, n.Title, n.Message))
}

// ETA is the live estimate for one order. QueuePosition is nil once the
// order has left the queue.
type ETA struct {
	OrderID       string
	State         model.OrderState
	EstimatedTime int
	QueuePosition *int
	ActualTime    *int
}

// Estimate returns a fresh ETA for the order's owner or vendor. Active orders
// are re-estimated against the current queue and the new figure is stored
// best-effort; if the queue cannot be read the stored estimate is returned.
func (s *OrderService) Estimate(ctx context.Context, orderID, actorID string) (*ETA, error) {
	o, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID != o.UserID && actorID != o.VendorID {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrForbidden)
	}

	out := &ETA{
		OrderID:       o.OrderID,
		State:         o.State,
		EstimatedTime: o.EstimatedPreparationTime,
		ActualTime:    o.ActualPreparationTime,
	}
	if !o.State.Active() {
		return out, nil
	}

	log := s.log.WithField("orderId", orderID)
	active, err := s.orders.ActiveByVendor(ctx, o.VendorID)
	if err != nil {
		log.WithError(err).Warn("active queue unavailable, returning stored estimate")
		return out, nil
	}
	pos, ok := eta.QueuePosition(active, o.OrderID)
	if !ok {
		// Not visible in the queue read; treat it as next in line.
		pos = 1
	}
	out.QueuePosition = &pos

	vendor, err := s.vendors.FindVendor(ctx, o.VendorID)
	if err != nil {
		log.WithError(err).Warn("vendor unavailable, returning stored estimate")
		return out, nil
	}

	minutes := s.estimator.Estimate(ctx, eta.Input{
		Vendor:       vendor,
		Items:        o.Items,
		ActiveOrders: len(active),
		Position:     pos,
	}).Minutes
	out.EstimatedTime = minutes

	if minutes != o.EstimatedPreparationTime {
		if err := s.orders.UpdateEstimate(ctx, o.OrderID, minutes); err != nil {
			log.WithError(err).Warn("persist refreshed estimate failed")
		}
	}
	return out, nil
}

// CompleteByScan completes a ready order from its pickup token. The token
// only proves which order it is; the current state is always re-read.
func (s *OrderService) CompleteByScan(ctx context.Context, rawToken, vendorID string) (*Result, error) {
	claims, err := s.tokens.VerifyCapability(rawToken)
	if err != nil {
		return nil, err
	}
	if claims.VendorID != vendorID {
		return nil, fmt.Errorf("token for vendor %s scanned by %s: %w", claims.VendorID, vendorID, apperr.ErrForbidden)
	}

	o, err := s.orders.FindByOrderID(ctx, claims.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != claims.UserID {
		return nil, fmt.Errorf("token user does not own order %s: %w", o.OrderID, apperr.ErrInvalidToken)
	}
	if o.State != model.StateReady {
		return nil, fmt.Errorf("order %s is %s, not ready: %w", o.OrderID, o.State, apperr.ErrIllegalTransition)
	}
	return s.Transition(ctx, o.OrderID, model.StateCompleted, vendorID)
}

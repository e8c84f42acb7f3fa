package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/eta"
	"campus-fulfillment-service/internal/events"
	"campus-fulfillment-service/internal/model"
	"campus-fulfillment-service/internal/token"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.LineItem(nil), o.Items...)
	c.StateTimestamps = make(map[model.OrderState]time.Time, len(o.StateTimestamps))
	for k, v := range o.StateTimestamps {
		c.StateTimestamps[k] = v
	}
	if o.ActualPreparationTime != nil {
		v := *o.ActualPreparationTime
		c.ActualPreparationTime = &v
	}
	return &c
}

type memOrders struct {
	mu        sync.Mutex
	byID      map[string]*model.Order
	activeErr error
}

func newMemOrders() *memOrders { return &memOrders{byID: make(map[string]*model.Order)} }

func (m *memOrders) Insert(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[o.OrderID]; ok {
		return apperr.ErrConflict
	}
	m.byID[o.OrderID] = cloneOrder(o)
	return nil
}

func (m *memOrders) FindByOrderID(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrders) UpdateState(_ context.Context, o *model.Order, from model.OrderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[o.OrderID]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.State != from {
		return apperr.ErrConflict
	}
	m.byID[o.OrderID] = cloneOrder(o)
	return nil
}

func (m *memOrders) UpdateEstimate(_ context.Context, id string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return apperr.ErrNotFound
	}
	o.EstimatedPreparationTime = minutes
	return nil
}

func (m *memOrders) ActiveByVendor(_ context.Context, vendorID string) ([]*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	var out []*model.Order
	for _, o := range m.byID {
		if o.VendorID == vendorID && o.State.Active() {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *memOrders) get(id string) *model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.byID[id])
}

type memCatalog struct {
	items   map[string]*model.MenuItem
	vendors map[string]*model.Vendor
}

func (c memCatalog) FindMenuItem(_ context.Context, id string) (*model.MenuItem, error) {
	if it, ok := c.items[id]; ok {
		return it, nil
	}
	return nil, apperr.ErrNotFound
}

func (c memCatalog) FindVendor(_ context.Context, id string) (*model.Vendor, error) {
	if v, ok := c.vendors[id]; ok {
		return v, nil
	}
	return nil, apperr.ErrNotFound
}

type memNotifications struct {
	mu  sync.Mutex
	got []*model.Notification
	err error
}

func (n *memNotifications) InsertNotification(_ context.Context, x *model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.got = append(n.got, x)
	return nil
}

type published struct {
	aud     events.Audience
	payload events.Payload
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []published
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, aud events.Audience, payload events.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, published{aud, payload})
	return nil
}

func (p *recordingPublisher) types(aud events.Audience) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, x := range p.got {
		if x.aud == aud {
			out = append(out, x.payload.Type())
		}
	}
	return out
}

type recordingAnalytics struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingAnalytics) RecordCompletion(_ context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, o.OrderID)
	return r.err
}

var errBoom = errors.New("boom")

type fixture struct {
	clock     *testClock
	orders    *memOrders
	catalog   memCatalog
	notes     *memNotifications
	pub       *recordingPublisher
	analytics *recordingAnalytics
	tokens    *token.Issuer
	svc       *OrderService
}

// newFixture wires an OrderService around vendor V1 (10 orders/hour, 10 minute
// average) selling m1 (10 minutes) and m2 (20 minutes).
func newFixture() *fixture {
	clk := &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	catalog := memCatalog{
		items: map[string]*model.MenuItem{
			"m1": {ID: "m1", VendorID: "V1", Name: "Veg wrap", Price: decimal.RequireFromString("3.50"), PreparationTime: 10},
			"m2": {ID: "m2", VendorID: "V1", Name: "Thali", Price: decimal.RequireFromString("6.25"), PreparationTime: 20},
			"x1": {ID: "x1", VendorID: "V2", Name: "Other", Price: decimal.RequireFromString("1"), PreparationTime: 5},
		},
		vendors: map[string]*model.Vendor{
			"V1": {
				ID:                     "V1",
				MaxOrdersPerHour:       10,
				AveragePreparationTime: 10,
				MealTimes: map[string]string{
					"breakfast": "8:00–10:00 AM",
					"lunch":     "11 to 3",
					"dinner":    "whenever",
				},
			},
		},
	}
	f := &fixture{
		clock:     clk,
		orders:    newMemOrders(),
		catalog:   catalog,
		notes:     &memNotifications{},
		pub:       &recordingPublisher{},
		analytics: &recordingAnalytics{},
		tokens:    token.NewIssuer("test-secret", 72*time.Hour, clk.Now),
	}
	f.svc = NewOrderService(OrderDeps{
		Orders:        f.orders,
		Menu:          catalog,
		Vendors:       catalog,
		Notifications: f.notes,
		Publisher:     f.pub,
		Estimator:     eta.New(catalog, clk.Now, quietLogger()),
		Analytics:     f.analytics,
		Tokens:        f.tokens,
		Now:           clk.Now,
	}, quietLogger())
	return f
}

// seed stores an order directly in the given state.
func (f *fixture) seed(id string, state model.OrderState, createdAt time.Time) *model.Order {
	o := &model.Order{
		OrderID:         id,
		VendorID:        "V1",
		UserID:          "U1",
		Items:           []model.LineItem{{MenuItemID: "m1", Quantity: 1}},
		State:           state,
		StateTimestamps: map[model.OrderState]time.Time{model.StatePending: createdAt},
		CreatedAt:       createdAt,
	}
	if state != model.StatePending && state != model.StateRejected {
		o.StateTimestamps[model.StatePreparing] = createdAt.Add(time.Minute)
	}
	if state == model.StateReady || state == model.StateCompleted {
		o.StateTimestamps[model.StateReady] = createdAt.Add(10 * time.Minute)
	}
	if state == model.StateCompleted {
		o.StateTimestamps[model.StateCompleted] = createdAt.Add(15 * time.Minute)
	}
	if state == model.StateRejected {
		o.StateTimestamps[model.StateRejected] = createdAt.Add(time.Minute)
	}
	_ = f.orders.Insert(context.Background(), o)
	return o
}

// Package analytics records actual-versus-estimated preparation times for
// completed orders and periodically recalibrates menu item prep times and
// vendor peak-hour windows from that history.
//
// Every store call runs under its own timeout. A timeout or failure degrades
// to zero or partial data; completing an order never waits on analytics
// succeeding.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"campus-fulfillment-service/internal/model"
)

const (
	DefaultQueryTimeout = 5 * time.Second
	RecomputeInterval   = time.Hour
	SuggestionTTL       = time.Hour
)

const (
	concurrencyWindow = 2 * time.Hour
	peakConcurrency   = 5
	historyWindow     = 30 * 24 * time.Hour
	peakWindow        = 7 * 24 * time.Hour
	minItemSamples    = 10
	recentRecordLimit = 50
	recomputeWorkers  = 4
)

type Store interface {
	// CountConcurrent counts the vendor's pending or preparing orders created
	// since the given time, other than excludeOrderID.
	CountConcurrent(ctx context.Context, vendorID, excludeOrderID string, since time.Time) (int, error)
	InsertRecords(ctx context.Context, recs []model.PrepTimeAnalyticsRecord) error
	CompletedOrdersSince(ctx context.Context, vendorID string, since time.Time) ([]*model.Order, error)
	// RecentRecords returns up to limit records for the pair, newest first.
	RecentRecords(ctx context.Context, menuItemID, vendorID string, limit int) ([]model.PrepTimeAnalyticsRecord, error)
	RecordsSince(ctx context.Context, vendorID string, since time.Time) ([]model.PrepTimeAnalyticsRecord, error)
	UpdateMenuItemPrepTime(ctx context.Context, menuItemID string, minutes int) error
	ReplacePeakHours(ctx context.Context, vendorID string, windows []model.PeakHourWindow) error
}

type Options struct {
	QueryTimeout time.Duration
	Limiter      Limiter
	Cache        *SuggestionCache
	Now          func() time.Time
}

type Aggregator struct {
	store        Store
	limiter      Limiter
	cache        *SuggestionCache
	queryTimeout time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
}

func NewAggregator(store Store, opts Options, log logrus.FieldLogger) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLocalLimiter(RecomputeInterval, opts.Now)
	}
	if opts.Cache == nil {
		opts.Cache = NewSuggestionCache(SuggestionTTL, opts.Now)
	}
	return &Aggregator{
		store:        store,
		limiter:      opts.Limiter,
		cache:        opts.Cache,
		queryTimeout: opts.QueryTimeout,
		now:          opts.Now,
		log:          log.WithField("component", "analytics"),
	}
}

func (a *Aggregator) query(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.queryTimeout)
}

// RecordCompletion writes one record per distinct menu item of a completed
// order and then runs the vendor's recomputation pass if the limiter admits
// it. Only a failed record write is returned.
//
// Day and hour buckets are read from the aggregator's clock, so the clock
// must run in the same zone as the estimator's.
func (a *Aggregator) RecordCompletion(ctx context.Context, order *model.Order) error {
	now := a.now()

	concurrent := a.concurrency(ctx, order, now)
	actual := actualMinutes(order)

	recs := make([]model.PrepTimeAnalyticsRecord, 0, len(order.Items))
	for _, itemID := range distinctItems(order) {
		recs = append(recs, model.PrepTimeAnalyticsRecord{
			ID:               uuid.NewString(),
			OrderID:          order.OrderID,
			MenuItemID:       itemID,
			VendorID:         order.VendorID,
			EstimatedTime:    order.EstimatedPreparationTime,
			ActualTime:       actual,
			ConcurrentOrders: concurrent,
			TimeOfDay:        TimeOfDay(now),
			DayOfWeek:        now.Weekday(),
			HourOfDay:        now.Hour(),
			IsPeakHour:       concurrent > peakConcurrency,
			CreatedAt:        now,
		})
	}

	if len(recs) > 0 {
		qctx, cancel := a.query(ctx)
		err := a.store.InsertRecords(qctx, recs)
		cancel()
		if err != nil {
			return fmt.Errorf("insert analytics records for order %s: %w", order.OrderID, err)
		}
	}

	if a.limiter.Allow(ctx, order.VendorID) {
		a.Recompute(ctx, order.VendorID)
	}
	return nil
}

func (a *Aggregator) concurrency(ctx context.Context, order *model.Order, now time.Time) int {
	qctx, cancel := a.query(ctx)
	defer cancel()

	n, err := a.store.CountConcurrent(qctx, order.VendorID, order.OrderID, now.Add(-concurrencyWindow))
	if err != nil {
		a.log.WithError(err).WithField("orderId", order.OrderID).Warn("concurrency count failed, using 0")
		return 0
	}
	return n
}

// distinctItems lists the order's menu items once each, in line order.
func distinctItems(o *model.Order) []string {
	seen := make(map[string]bool, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if !seen[it.MenuItemID] {
			seen[it.MenuItemID] = true
			ids = append(ids, it.MenuItemID)
		}
	}
	return ids
}

// actualMinutes prefers the stored actual time and otherwise measures
// preparing -> completed.
func actualMinutes(o *model.Order) int {
	if o.ActualPreparationTime != nil {
		return *o.ActualPreparationTime
	}
	start, ok := o.StateTimestamps[model.StatePreparing]
	if !ok {
		return 0
	}
	end, ok := o.StateTimestamps[model.StateCompleted]
	if !ok {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}

// Recompute refreshes suggested prep times for every menu item with enough
// completed orders in the last 30 days, then the vendor's peak hours.
func (a *Aggregator) Recompute(ctx context.Context, vendorID string) {
	log := a.log.WithField("vendorId", vendorID)

	qctx, cancel := a.query(ctx)
	orders, err := a.store.CompletedOrdersSince(qctx, vendorID, a.now().Add(-historyWindow))
	cancel()
	if err != nil {
		log.WithError(err).Warn("history query failed, continuing with what was returned")
	}

	samples := make(map[string]int)
	for _, o := range orders {
		for _, id := range distinctItems(o) {
			samples[id]++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeWorkers)
	for itemID, n := range samples {
		if n < minItemSamples {
			continue
		}
		itemID := itemID
		g.Go(func() error {
			s, ok, err := a.SuggestedPrepTime(gctx, itemID, vendorID)
			if err != nil {
				log.WithError(err).WithField("menuItemId", itemID).Warn("suggested prep time failed")
				return nil
			}
			if !ok {
				return nil
			}
			uctx, cancel := a.query(gctx)
			defer cancel()
			if err := a.store.UpdateMenuItemPrepTime(uctx, itemID, s.Minutes()); err != nil {
				log.WithError(err).WithField("menuItemId", itemID).Warn("persist suggested prep time failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if _, err := a.RecomputePeakHours(ctx, vendorID); err != nil {
		log.WithError(err).Warn("peak hour recomputation failed")
	}
}

// SuggestedPrepTime serves a cached suggestion while it is fresh and otherwise
// recomputes it from the 50 newest records of the pair.
func (a *Aggregator) SuggestedPrepTime(ctx context.Context, menuItemID, vendorID string) (Suggestion, bool, error) {
	if s, ok := a.cache.Get(menuItemID, vendorID); ok {
		return s, true, nil
	}

	qctx, cancel := a.query(ctx)
	recs, err := a.store.RecentRecords(qctx, menuItemID, vendorID, recentRecordLimit)
	cancel()
	if err != nil && len(recs) == 0 {
		return Suggestion{}, false, fmt.Errorf("recent records for %s/%s: %w", vendorID, menuItemID, err)
	}

	actuals := make([]int, len(recs))
	for i, r := range recs {
		actuals[i] = r.ActualTime
	}
	s, ok := Suggest(actuals)
	if !ok {
		return Suggestion{}, false, nil
	}
	a.cache.Put(menuItemID, vendorID, s)

	a.log.WithFields(logrus.Fields{
		"vendorId":   vendorID,
		"menuItemId": menuItemID,
		"samples":    len(actuals),
		"kept":       s.Kept,
		"suggested":  s.Value,
	}).Debug("suggested prep time computed")
	return s, true, nil
}

// RecomputePeakHours rebuilds the vendor's peak windows from the last 7 days
// and replaces the stored list wholesale. Nothing is replaced when the
// history cannot be read.
func (a *Aggregator) RecomputePeakHours(ctx context.Context, vendorID string) ([]model.PeakHourWindow, error) {
	qctx, cancel := a.query(ctx)
	recs, err := a.store.RecordsSince(qctx, vendorID, a.now().Add(-peakWindow))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("records since for vendor %s: %w", vendorID, err)
	}

	windows := PeakWindows(Buckets(recs))

	uctx, cancel := a.query(ctx)
	defer cancel()
	if err := a.store.ReplacePeakHours(uctx, vendorID, windows); err != nil {
		return windows, fmt.Errorf("replace peak hours for vendor %s: %w", vendorID, err)
	}
	return windows, nil
}

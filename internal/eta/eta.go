// Package eta estimates how long an order will take to prepare and where it
// sits in its vendor's queue.
package eta

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/model"
)

const (
	// Each additional unit sharing a prep time adds a quarter of that time.
	parallelUnitFactor = 0.25
	// Each queue position scales the wait by half.
	queuePositionFactor = 0.5
	// Worst-case displayed ETA is bounded by this multiple of the base time.
	maxBaseMultiple = 5.0
)

// MenuLookup resolves per-item preparation times.
type MenuLookup interface {
	FindMenuItem(ctx context.Context, id string) (*model.MenuItem, error)
}

type Estimator struct {
	menu MenuLookup
	now  func() time.Time
	log  logrus.FieldLogger
}

func New(menu MenuLookup, now func() time.Time, log logrus.FieldLogger) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{menu: menu, now: now, log: log.WithField("component", "eta")}
}

// Input carries everything an estimate depends on.
type Input struct {
	Vendor *model.Vendor
	Items  []model.LineItem
	// ActiveOrders is the vendor's current pending+preparing count.
	ActiveOrders int
	// Position is the order's 1-based queue position; values below 1 count as 1.
	Position int
}

// Breakdown exposes the intermediate factors for logging and tests.
type Breakdown struct {
	Base       float64
	Peak       float64
	LoadFactor float64
	Queue      float64
	Minutes    int
}

// Estimate never fails: an item whose lookup fails is timed with the vendor's
// average preparation time.
func (e *Estimator) Estimate(ctx context.Context, in Input) Breakdown {
	units := make([]Unit, 0, len(in.Items))
	for _, it := range in.Items {
		var prep int
		item, err := e.menu.FindMenuItem(ctx, it.MenuItemID)
		if err != nil || item == nil || item.PreparationTime <= 0 {
			prep = in.Vendor.AveragePreparationTime
			e.log.WithFields(logrus.Fields{
				"vendorId":   in.Vendor.ID,
				"menuItemId": it.MenuItemID,
			}).Debug("menu item lookup failed, using vendor average")
		} else {
			prep = item.PreparationTime
		}
		units = append(units, Unit{PrepTime: prep, Quantity: it.Quantity})
	}

	return Compute(Factors{
		Base:         BaseTime(units),
		PeakHours:    in.Vendor.PeakHours,
		At:           e.now(),
		ActiveOrders: in.ActiveOrders,
		MaxPerHour:   in.Vendor.MaxOrdersPerHour,
		Position:     in.Position,
	})
}

type Unit struct {
	PrepTime int
	Quantity int
}

// BaseTime groups units by preparation time and sums
// prep*(1+(qty-1)*0.25) over each group's lines, so [{10,1},{10,3}] is
// 10 + 15 = 25 minutes.
func BaseTime(units []Unit) float64 {
	groups := make(map[int][]int)
	for _, u := range units {
		if u.Quantity <= 0 {
			continue
		}
		groups[u.PrepTime] = append(groups[u.PrepTime], u.Quantity)
	}

	var total float64
	for prep, qtys := range groups {
		total += groupBase(prep, qtys)
	}
	return total
}

func groupBase(prep int, qtys []int) float64 {
	var sum float64
	for _, q := range qtys {
		sum += float64(prep) * (1 + float64(q-1)*parallelUnitFactor)
	}
	return sum
}

type Factors struct {
	Base         float64
	PeakHours    []model.PeakHourWindow
	At           time.Time
	ActiveOrders int
	MaxPerHour   int
	Position     int
}

func Compute(f Factors) Breakdown {
	b := Breakdown{Base: f.Base, Peak: PeakMultiplier(f.PeakHours, f.At)}

	if f.MaxPerHour > 0 {
		b.LoadFactor = float64(f.ActiveOrders) / float64(f.MaxPerHour)
	}

	p := f.Position
	if p < 1 {
		p = 1
	}
	b.Queue = math.Max(1, float64(p)*queuePositionFactor)

	t := f.Base * b.Peak * (1 + b.LoadFactor) * b.Queue
	t = math.Min(t, maxBaseMultiple*f.Base)
	b.Minutes = int(math.Ceil(t - 1e-9))
	return b
}

// PeakMultiplier returns the multiplier of the first window containing at, or 1.
func PeakMultiplier(windows []model.PeakHourWindow, at time.Time) float64 {
	m := at.Hour()*60 + at.Minute()
	for _, w := range windows {
		if w.Day == at.Weekday() && m >= w.StartMinute && m <= w.EndMinute && w.Multiplier > 0 {
			return w.Multiplier
		}
	}
	return 1
}

// QueueOrder returns the vendor's active queue: pending orders oldest first,
// then preparing orders by when they entered preparing. Pending always ranks
// ahead of preparing regardless of timestamps.
func QueueOrder(active []*model.Order) []*model.Order {
	var pending, preparing []*model.Order
	for _, o := range active {
		switch o.State {
		case model.StatePending:
			pending = append(pending, o)
		case model.StatePreparing:
			preparing = append(preparing, o)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	sort.SliceStable(preparing, func(i, j int) bool {
		return preparing[i].StateTimestamps[model.StatePreparing].Before(preparing[j].StateTimestamps[model.StatePreparing])
	})

	return append(pending, preparing...)
}

// QueuePosition returns the 1-based position of orderID, or ok=false when the
// order is not in the active queue.
func QueuePosition(active []*model.Order, orderID string) (int, bool) {
	for i, o := range QueueOrder(active) {
		if o.OrderID == orderID {
			return i + 1, true
		}
	}
	return 0, false
}

// PendingCount is the position a newly placed order would take, minus one.
func PendingCount(active []*model.Order) int {
	n := 0
	for _, o := range active {
		if o.State == model.StatePending {
			n++
		}
	}
	return n
}

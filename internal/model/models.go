// models.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderState string

const (
	StatePending   OrderState = "pending"
	StatePreparing OrderState = "preparing"
	StateReady     OrderState = "ready"
	StateCompleted OrderState = "completed"
	StateRejected  OrderState = "rejected"
)

func (s OrderState) Valid() bool {
	switch s {
	case StatePending, StatePreparing, StateReady, StateCompleted, StateRejected:
		return true
	}
	return false
}

// Active reports whether an order in this state still sits in the vendor queue.
func (s OrderState) Active() bool {
	return s == StatePending || s == StatePreparing
}

func (s OrderState) Final() bool {
	return s == StateCompleted || s == StateRejected
}

type Order struct {
	OrderID  string     `bson:"order_id" json:"orderId"`
	VendorID string     `bson:"vendor_id" json:"vendorId"`
	UserID   string     `bson:"user_id" json:"userId"`
	Items    []LineItem `bson:"items" json:"items"`
	State    OrderState `bson:"state" json:"state"`

	// Each key is written exactly once, when the order enters that state.
	StateTimestamps map[OrderState]time.Time `bson:"state_timestamps" json:"stateTimestamps"`

	EstimatedPreparationTime int  `bson:"estimated_preparation_time" json:"estimatedPreparationTime"`
	ActualPreparationTime    *int `bson:"actual_preparation_time,omitempty" json:"actualPreparationTime,omitempty"`

	// Capability token minted when the vendor accepts the order.
	QRCode string `bson:"qr_code,omitempty" json:"qrCode,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// LineItem is copied from the menu at placement so later menu edits do not
// rewrite history.
type LineItem struct {
	MenuItemID string          `bson:"menu_item_id" json:"menuItemId"`
	Name       string          `bson:"name" json:"name"`
	UnitPrice  decimal.Decimal `bson:"unit_price" json:"unitPrice"`
	Quantity   int             `bson:"quantity" json:"quantity"`
}

type MenuItem struct {
	ID              string          `bson:"menu_item_id" json:"id"`
	VendorID        string          `bson:"vendor_id" json:"vendorId"`
	Name            string          `bson:"name" json:"name"`
	Price           decimal.Decimal `bson:"price" json:"price"`
	PreparationTime int             `bson:"preparation_time" json:"preparationTime"` // minutes
}

type Vendor struct {
	ID                     string           `bson:"vendor_id" json:"id"`
	Name                   string           `bson:"name" json:"name"`
	MaxOrdersPerHour       int              `bson:"max_orders_per_hour" json:"maxOrdersPerHour"`
	AveragePreparationTime int              `bson:"average_preparation_time" json:"averagePreparationTime"`
	PeakHours              []PeakHourWindow `bson:"peak_hours" json:"peakHours"`

	// Meal slot name -> free-text range such as "8:00–10:00 AM".
	MealTimes map[string]string `bson:"meal_times" json:"mealTimes"`
}

type PeakHourWindow struct {
	Day         time.Weekday `bson:"day" json:"day"`
	StartMinute int          `bson:"start_minute" json:"startMinute"`
	EndMinute   int          `bson:"end_minute" json:"endMinute"`
	Multiplier  float64      `bson:"multiplier" json:"multiplier"`
}

// PrepTimeAnalyticsRecord is an append-only fact row, one per (order, menu item).
// DayOfWeek and HourOfDay are taken in the service clock's zone when the
// record is written. CreatedAt comes back from Mongo in UTC and is not used
// for bucketing.
type PrepTimeAnalyticsRecord struct {
	ID               string       `bson:"record_id" json:"id"`
	OrderID          string       `bson:"order_id" json:"orderId"`
	MenuItemID       string       `bson:"menu_item_id" json:"menuItemId"`
	VendorID         string       `bson:"vendor_id" json:"vendorId"`
	EstimatedTime    int          `bson:"estimated_time" json:"estimatedTime"`
	ActualTime       int          `bson:"actual_time" json:"actualTime"`
	ConcurrentOrders int          `bson:"concurrent_orders" json:"concurrentOrders"`
	TimeOfDay        string       `bson:"time_of_day" json:"timeOfDay"`
	DayOfWeek        time.Weekday `bson:"day_of_week" json:"dayOfWeek"`
	HourOfDay        int          `bson:"hour_of_day" json:"hourOfDay"`
	IsPeakHour       bool         `bson:"is_peak_hour" json:"isPeakHour"`
	CreatedAt        time.Time    `bson:"created_at" json:"createdAt"`
}

type Notification struct {
	ID        string    `bson:"notification_id" json:"id"`
	UserID    string    `bson:"user_id" json:"userId"`
	OrderID   string    `bson:"order_id,omitempty" json:"orderId,omitempty"`
	Title     string    `bson:"title" json:"title"`
	Message   string    `bson:"message" json:"message"`
	Read      bool      `bson:"read" json:"read"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionRejected SubscriptionStatus = "rejected"
)

type Subscription struct {
	ID        string             `bson:"subscription_id" json:"id"`
	UserID    string             `bson:"user_id" json:"userId"`
	VendorID  string             `bson:"vendor_id" json:"vendorId"`
	Plan      string             `bson:"plan" json:"plan"`
	MealSlots []string           `bson:"meal_slots" json:"mealSlots"`
	Status    SubscriptionStatus `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}

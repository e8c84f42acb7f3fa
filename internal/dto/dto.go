// dto.go
package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"campus-fulfillment-service/internal/gateway"
	"campus-fulfillment-service/internal/model"
	"campus-fulfillment-service/internal/service"
)

// PlaceOrderRequest is used by the API and the order_placed consumer.
type PlaceOrderRequest struct {
	OrderID  string             `json:"orderId"`
	VendorID string             `json:"vendorId" binding:"required"`
	Items    []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type OrderItemRequest struct {
	MenuItemID string `json:"menuItemId" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
}

func (r PlaceOrderRequest) ToInput(userID string) service.PlaceOrderInput {
	items := make([]service.ItemRequest, len(r.Items))
	for i, it := range r.Items {
		items[i] = service.ItemRequest{MenuItemID: it.MenuItemID, Quantity: it.Quantity}
	}
	return service.PlaceOrderInput{OrderID: r.OrderID, UserID: userID, VendorID: r.VendorID, Items: items}
}

type UpdateStateRequest struct {
	State model.OrderState `json:"state" binding:"required"`
}

type ScanOrderRequest struct {
	Token string `json:"token" binding:"required"`
}

type SubmitSubscriptionRequest struct {
	VendorID  string   `json:"vendorId" binding:"required"`
	Plan      string   `json:"plan" binding:"required"`
	MealSlots []string `json:"mealSlots" binding:"required,min=1"`
}

type LineItemResponse struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
}

type OrderResponse struct {
	OrderID                  string                         `json:"orderId"`
	VendorID                 string                         `json:"vendorId"`
	UserID                   string                         `json:"userId"`
	State                    model.OrderState               `json:"state"`
	Items                    []LineItemResponse             `json:"items"`
	Total                    decimal.Decimal                `json:"total"`
	StateTimestamps          map[model.OrderState]time.Time `json:"stateTimestamps"`
	EstimatedPreparationTime int                            `json:"estimatedPreparationTime"`
	ActualPreparationTime    *int                           `json:"actualPreparationTime,omitempty"`
	QRCode                   string                         `json:"qrCode,omitempty"`
	CreatedAt                time.Time                      `json:"createdAt"`
	UpdatedAt                time.Time                      `json:"updatedAt"`
	Warnings                 []string                       `json:"warnings,omitempty"`
}

// NewOrderResponse renders a committed order. Failed best-effort steps are
// listed as warnings; they never turn a committed change into an error.
func NewOrderResponse(res *service.Result) OrderResponse {
	o := res.Order
	out := OrderResponse{
		OrderID:                  o.OrderID,
		VendorID:                 o.VendorID,
		UserID:                   o.UserID,
		State:                    o.State,
		Items:                    make([]LineItemResponse, len(o.Items)),
		Total:                    decimal.Zero,
		StateTimestamps:          o.StateTimestamps,
		EstimatedPreparationTime: o.EstimatedPreparationTime,
		ActualPreparationTime:    o.ActualPreparationTime,
		QRCode:                   o.QRCode,
		CreatedAt:                o.CreatedAt,
		UpdatedAt:                o.UpdatedAt,
	}
	for i, it := range o.Items {
		out.Items[i] = LineItemResponse{MenuItemID: it.MenuItemID, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		out.Total = out.Total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	for _, s := range res.Failed() {
		out.Warnings = append(out.Warnings, s.Name)
	}
	return out
}

type ETAResponse struct {
	OrderID       string           `json:"orderId"`
	EstimatedTime int              `json:"estimatedTime"`
	QueuePosition *int             `json:"queuePosition"`
	State         model.OrderState `json:"state"`
	ActualTime    *int             `json:"actualTime,omitempty"`
}

func NewETAResponse(e *service.ETA) ETAResponse {
	return ETAResponse{
		OrderID:       e.OrderID,
		EstimatedTime: e.EstimatedTime,
		QueuePosition: e.QueuePosition,
		State:         e.State,
		ActualTime:    e.ActualTime,
	}
}

type MealScanResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	UserID         string `json:"userId"`
	Plan           string `json:"plan"`
	Slot           string `json:"slot"`
	Opens          string `json:"opens"`
	Closes         string `json:"closes"`
}

func NewMealScanResponse(m *service.MealScan) MealScanResponse {
	return MealScanResponse{
		SubscriptionID: m.Subscription.ID,
		UserID:         m.Subscription.UserID,
		Plan:           m.Subscription.Plan,
		Slot:           m.Slot,
		Opens:          m.Window.Start.String(),
		Closes:         m.Window.End.String(),
	}
}

type LiveStatsResponse struct {
	Broker string        `json:"broker"`
	Stats  gateway.Stats `json:"stats"`
}

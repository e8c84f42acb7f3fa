package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/config"
	"campus-fulfillment-service/internal/dto"
	"campus-fulfillment-service/internal/events"
	"campus-fulfillment-service/internal/gateway"
	"campus-fulfillment-service/internal/middleware"
	"campus-fulfillment-service/internal/service"
)

type OrderController struct {
	Orders *service.OrderService
	log    logrus.FieldLogger
}

func NewOrderController(s *service.OrderService, log logrus.FieldLogger) *OrderController {
	return &OrderController{Orders: s, log: log}
}

// respondError maps service errors to status codes. Internal errors are
// logged and reported without detail.
func respondError(c *gin.Context, log logrus.FieldLogger, funcName string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		config.LogError(log, "controller", funcName, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal error", "kind": apperr.Kind(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.Kind(err)})
}

func actorID(c *gin.Context) string { return c.GetString(middleware.ActorIDKey) }

// POST /orders - user
func (ctl *OrderController) PlaceOrder(c *gin.Context) {
	var req dto.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := ctl.Orders.PlaceOrder(c.Request.Context(), req.ToInput(actorID(c)))
	if err != nil {
		respondError(c, ctl.log, "PlaceOrder", err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewOrderResponse(res))
}

// PATCH /orders/:orderId/state - vendor
func (ctl *OrderController) UpdateState(c *gin.Context) {
	var req dto.UpdateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.State.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state " + string(req.State)})
		return
	}

	res, err := ctl.Orders.Transition(c.Request.Context(), c.Param("orderId"), req.State, actorID(c))
	if err != nil {
		respondError(c, ctl.log, "UpdateState", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewOrderResponse(res))
}

// GET /orders/:orderId/eta - owning user or vendor
func (ctl *OrderController) GetETA(c *gin.Context) {
	e, err := ctl.Orders.Estimate(c.Request.Context(), c.Param("orderId"), actorID(c))
	if err != nil {
		respondError(c, ctl.log, "GetETA", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewETAResponse(e))
}

// POST /orders/scan - vendor
func (ctl *OrderController) ScanOrder(c *gin.Context) {
	var req dto.ScanOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := ctl.Orders.CompleteByScan(c.Request.Context(), req.Token, actorID(c))
	if err != nil {
		respondError(c, ctl.log, "ScanOrder", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewOrderResponse(res))
}

type SubscriptionController struct {
	Subscriptions *service.SubscriptionService
	log           logrus.FieldLogger
}

func NewSubscriptionController(s *service.SubscriptionService, log logrus.FieldLogger) *SubscriptionController {
	return &SubscriptionController{Subscriptions: s, log: log}
}

// POST /subscriptions - user
func (ctl *SubscriptionController) Submit(c *gin.Context) {
	var req dto.SubmitSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, _, err := ctl.Subscriptions.Submit(c.Request.Context(), service.SubmitInput{
		UserID:    actorID(c),
		VendorID:  req.VendorID,
		Plan:      req.Plan,
		MealSlots: req.MealSlots,
	})
	if err != nil {
		respondError(c, ctl.log, "Submit", err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// POST /subscriptions/:id/scan - vendor
func (ctl *SubscriptionController) ScanMeal(c *gin.Context) {
	scan, err := ctl.Subscriptions.ScanMeal(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		respondError(c, ctl.log, "ScanMeal", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewMealScanResponse(scan))
}

type LiveController struct {
	Hub    *gateway.Hub
	Broker string
}

func NewLiveController(h *gateway.Hub, broker string) *LiveController {
	return &LiveController{Hub: h, Broker: broker}
}

// GET /vendors/stream - vendor
func (ctl *LiveController) VendorStream(c *gin.Context) {
	ctl.Hub.ServeStream(c, events.Vendor(actorID(c)))
}

// GET /users/stream - user
func (ctl *LiveController) UserStream(c *gin.Context) {
	ctl.Hub.ServeStream(c, events.User(actorID(c)))
}

// GET /live/stats - vendor
func (ctl *LiveController) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, dto.LiveStatsResponse{Broker: ctl.Broker, Stats: ctl.Hub.Stats()})
}

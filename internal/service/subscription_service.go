package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/events"
	"campus-fulfillment-service/internal/model"
	"campus-fulfillment-service/internal/timewindow"
)

type SubscriptionService struct {
	subs    SubscriptionRepository
	vendors VendorRepository
	pub     Publisher
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewSubscriptionService(subs SubscriptionRepository, vendors VendorRepository, pub Publisher, now func() time.Time, log logrus.FieldLogger) *SubscriptionService {
	if now == nil {
		now = time.Now
	}
	return &SubscriptionService{subs: subs, vendors: vendors, pub: pub, now: now, log: log.WithField("component", "subscriptions")}
}

type SubmitInput struct {
	UserID    string
	VendorID  string
	Plan      string
	MealSlots []string
}

// Submit stores a pending subscription for vendor approval and tells the
// vendor and the subscriber about it.
func (s *SubscriptionService) Submit(ctx context.Context, in SubmitInput) (*model.Subscription, []SideEffect, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Plan) == "" {
		return nil, nil, fmt.Errorf("user and plan are required: %w", apperr.ErrValidation)
	}
	if len(in.MealSlots) == 0 {
		return nil, nil, fmt.Errorf("at least one meal slot is required: %w", apperr.ErrValidation)
	}

	vendor, err := s.vendors.FindVendor(ctx, in.VendorID)
	if err != nil {
		return nil, nil, fmt.Errorf("vendor %s: %w", in.VendorID, err)
	}
	for _, slot := range in.MealSlots {
		if _, ok := vendor.MealTimes[slot]; !ok {
			return nil, nil, fmt.Errorf("vendor %s has no %q meal time: %w", vendor.ID, slot, apperr.ErrValidation)
		}
	}

	sub := &model.Subscription{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		VendorID:  vendor.ID,
		Plan:      in.Plan,
		MealSlots: in.MealSlots,
		Status:    model.SubscriptionPending,
		CreatedAt: s.now(),
	}
	if err := s.subs.InsertSubscription(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("insert subscription: %w", err)
	}

	var se sideEffects
	payload := events.SubscriptionCreated(sub.ID, sub.UserID, sub.Plan)
	publish(ctx, s.pub, &se, "publish_vendor", events.Vendor(sub.VendorID), payload)
	publish(ctx, s.pub, &se, "publish_user", events.User(sub.UserID), payload)
	se.log(s.log, logrus.Fields{"subscriptionId": sub.ID})

	return sub, se, nil
}

// MealScan is a validated subscription pickup.
type MealScan struct {
	Subscription *model.Subscription
	Slot         string
	Window       timewindow.Range
}

// ScanMeal validates a subscription QR presented at the vendor's counter and
// picks the subscribed meal slot open right now. Meal times that do not parse
// count as closed.
func (s *SubscriptionService) ScanMeal(ctx context.Context, subscriptionID, vendorID string) (*MealScan, error) {
	sub, err := s.subs.FindSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.VendorID != vendorID {
		return nil, fmt.Errorf("subscription %s belongs to another vendor: %w", sub.ID, apperr.ErrForbidden)
	}
	if sub.Status != model.SubscriptionActive {
		return nil, fmt.Errorf("subscription %s is %s: %w", sub.ID, sub.Status, apperr.ErrConflict)
	}

	vendor, err := s.vendors.FindVendor(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("vendor %s: %w", vendorID, err)
	}

	now := s.now()
	for _, slot := range sub.MealSlots {
		text, ok := vendor.MealTimes[slot]
		if !ok {
			continue
		}
		r, ok := timewindow.Parse(text)
		if !ok {
			s.log.WithFields(logrus.Fields{"vendorId": vendorID, "slot": slot, "range": text}).Warn("unparseable meal time, treating slot as closed")
			continue
		}
		if r.Contains(now) {
			return &MealScan{Subscription: sub, Slot: slot, Window: r}, nil
		}
	}
	return nil, fmt.Errorf("subscription %s at %s: %w", sub.ID, now.Format("15:04"), apperr.ErrNoMealSlot)
}

package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/model"
)

var activeStates = bson.A{model.StatePending, model.StatePreparing}

type MongoOrderRepository struct {
	col *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{col: db.Collection(ordersCollection)}
}

func (m *MongoOrderRepository) Insert(ctx context.Context, o *model.Order) error {
	_, err := m.col.InsertOne(ctx, o)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrConflict
	}
	return err
}

func (m *MongoOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	return findOne[model.Order](ctx, m.col, bson.M{"order_id": orderID})
}

// UpdateState is a compare-and-set on the current state so two concurrent
// transitions of the same order cannot both commit.
func (m *MongoOrderRepository) UpdateState(ctx context.Context, o *model.Order, from model.OrderState) error {
	set := bson.M{
		"state":                      o.State,
		"estimated_preparation_time": o.EstimatedPreparationTime,
		"updated_at":                 o.UpdatedAt,
	}
	// Only the entered state's stamp is written; earlier stamps are never touched.
	set[stampField(o.State)] = o.StateTimestamps[o.State]
	if o.ActualPreparationTime != nil {
		set["actual_preparation_time"] = *o.ActualPreparationTime
	}
	if o.QRCode != "" {
		set["qr_code"] = o.QRCode
	}

	res, err := m.col.UpdateOne(ctx, bson.M{"order_id": o.OrderID, "state": from}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := m.FindByOrderID(ctx, o.OrderID); err != nil {
			return err
		}
		return apperr.ErrConflict
	}
	return nil
}

func (m *MongoOrderRepository) UpdateEstimate(ctx context.Context, orderID string, minutes int) error {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"order_id": orderID},
		bson.M{"$set": bson.M{"estimated_preparation_time": minutes}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (m *MongoOrderRepository) ActiveByVendor(ctx context.Context, vendorID string) ([]*model.Order, error) {
	return findAll[*model.Order](ctx, m.col, bson.M{
		"vendor_id": vendorID,
		"state":     bson.M{"$in": activeStates},
	})
}

func (m *MongoOrderRepository) CountConcurrent(ctx context.Context, vendorID, excludeOrderID string, since time.Time) (int, error) {
	n, err := m.col.CountDocuments(ctx, bson.M{
		"vendor_id":  vendorID,
		"order_id":   bson.M{"$ne": excludeOrderID},
		"state":      bson.M{"$in": activeStates},
		"created_at": bson.M{"$gte": since},
	})
	return int(n), err
}

func (m *MongoOrderRepository) CompletedOrdersSince(ctx context.Context, vendorID string, since time.Time) ([]*model.Order, error) {
	filter := bson.M{
		"vendor_id": vendorID,
		"state":     model.StateCompleted,
	}
	filter[stampField(model.StateCompleted)] = bson.M{"$gte": since}
	return findAll[*model.Order](ctx, m.col, filter)
}

func stampField(s model.OrderState) string { return "state_timestamps." + string(s) }

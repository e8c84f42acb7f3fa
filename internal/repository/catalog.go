package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/model"
)

// Menu items and vendors are owned by the catalog service; this service only
// reads them and writes back the recalibrated prep times and peak hours.

type MongoMenuRepository struct {
	col *mongo.Collection
}

func NewMongoMenuRepository(db *mongo.Database) *MongoMenuRepository {
	return &MongoMenuRepository{col: db.Collection(menuItemsCollection)}
}

func (m *MongoMenuRepository) FindMenuItem(ctx context.Context, id string) (*model.MenuItem, error) {
	return findOne[model.MenuItem](ctx, m.col, bson.M{"menu_item_id": id})
}

func (m *MongoMenuRepository) UpdateMenuItemPrepTime(ctx context.Context, menuItemID string, minutes int) error {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"menu_item_id": menuItemID},
		bson.M{"$set": bson.M{"preparation_time": minutes}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type MongoVendorRepository struct {
	col *mongo.Collection
}

func NewMongoVendorRepository(db *mongo.Database) *MongoVendorRepository {
	return &MongoVendorRepository{col: db.Collection(vendorsCollection)}
}

func (m *MongoVendorRepository) FindVendor(ctx context.Context, id string) (*model.Vendor, error) {
	return findOne[model.Vendor](ctx, m.col, bson.M{"vendor_id": id})
}

// ReplacePeakHours overwrites the whole list; an empty list clears it.
func (m *MongoVendorRepository) ReplacePeakHours(ctx context.Context, vendorID string, windows []model.PeakHourWindow) error {
	if windows == nil {
		windows = []model.PeakHourWindow{}
	}
	res, err := m.col.UpdateOne(ctx,
		bson.M{"vendor_id": vendorID},
		bson.M{"$set": bson.M{"peak_hours": windows}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

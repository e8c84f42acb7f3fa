package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campus-fulfillment-service/internal/model"
)

// MongoAnalyticsRepository is append-only: records are inserted once and only
// ever read back in bulk.
type MongoAnalyticsRepository struct {
	col *mongo.Collection
}

func NewMongoAnalyticsRepository(db *mongo.Database) *MongoAnalyticsRepository {
	return &MongoAnalyticsRepository{col: db.Collection(analyticsCollection)}
}

func (m *MongoAnalyticsRepository) InsertRecords(ctx context.Context, recs []model.PrepTimeAnalyticsRecord) error {
	docs := make([]interface{}, len(recs))
	for i := range recs {
		docs[i] = recs[i]
	}
	_, err := m.col.InsertMany(ctx, docs)
	return err
}

func (m *MongoAnalyticsRepository) RecentRecords(ctx context.Context, menuItemID, vendorID string, limit int) ([]model.PrepTimeAnalyticsRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return findAll[model.PrepTimeAnalyticsRecord](ctx, m.col, bson.M{
		"menu_item_id": menuItemID,
		"vendor_id":    vendorID,
	}, opts)
}

func (m *MongoAnalyticsRepository) RecordsSince(ctx context.Context, vendorID string, since time.Time) ([]model.PrepTimeAnalyticsRecord, error) {
	return findAll[model.PrepTimeAnalyticsRecord](ctx, m.col, bson.M{
		"vendor_id":  vendorID,
		"created_at": bson.M{"$gte": since},
	})
}

// AnalyticsStore gathers the collections the analytics aggregator touches.
type AnalyticsStore struct {
	*MongoAnalyticsRepository
	*MongoOrderRepository
	*MongoMenuRepository
	*MongoVendorRepository
}

func NewAnalyticsStore(db *mongo.Database) *AnalyticsStore {
	return &AnalyticsStore{
		MongoAnalyticsRepository: NewMongoAnalyticsRepository(db),
		MongoOrderRepository:     NewMongoOrderRepository(db),
		MongoMenuRepository:      NewMongoMenuRepository(db),
		MongoVendorRepository:    NewMongoVendorRepository(db),
	}
}

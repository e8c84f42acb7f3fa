package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"campus-fulfillment-service/internal/apperr"
	"campus-fulfillment-service/internal/model"
)

type MongoSubscriptionRepository struct {
	col *mongo.Collection
}

func NewMongoSubscriptionRepository(db *mongo.Database) *MongoSubscriptionRepository {
	return &MongoSubscriptionRepository{col: db.Collection(subscriptionsCollection)}
}

func (m *MongoSubscriptionRepository) InsertSubscription(ctx context.Context, s *model.Subscription) error {
	_, err := m.col.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrConflict
	}
	return err
}

func (m *MongoSubscriptionRepository) FindSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return findOne[model.Subscription](ctx, m.col, bson.M{"subscription_id": id})
}

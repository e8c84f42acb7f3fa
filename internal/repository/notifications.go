package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"campus-fulfillment-service/internal/model"
)

type MongoNotificationRepository struct {
	col *mongo.Collection
}

func NewMongoNotificationRepository(db *mongo.Database) *MongoNotificationRepository {
	return &MongoNotificationRepository{col: db.Collection(notificationsCollection)}
}

func (m *MongoNotificationRepository) InsertNotification(ctx context.Context, n *model.Notification) error {
	_, err := m.col.InsertOne(ctx, n)
	return err
}

package webhook

import (
	"context"
	"time"

	"go-hermes/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type WebhookLogRepository interface {
	Create(ctx context.Context, log *WebhookLog) error
	List(ctx context.Context, filter LogFilter, limit int64) ([]WebhookLog, error)
}

type WebhookLogRepositoryImpl struct {
	collection *mongo.Collection
}

func NewWebhookLogRepository(db *database.MongodbDB) WebhookLogRepository {
	return &WebhookLogRepositoryImpl{
		collection: db.DB.Collection("webhook_logs"),
	}
}

func (r *WebhookLogRepositoryImpl) Create(ctx context.Context, log *WebhookLog) error {
	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	if log.ReceivedAt.IsZero() {
		log.ReceivedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, log)
	return err
}

func (r *WebhookLogRepositoryImpl) List(ctx context.Context, filter LogFilter, limit int64) ([]WebhookLog, error) {
	query := bson.M{}
	if filter.Source != "" {
		query["source"] = filter.Source
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.EventID != "" {
		query["event_id"] = filter.EventID
	}

	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(limit)
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []WebhookLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

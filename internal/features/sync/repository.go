package sync

import (
	"context"
	"time"

	"go-hermes/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SyncLogRepository interface {
	Create(ctx context.Context, log *SyncLog) error
	Update(ctx context.Context, log *SyncLog) error
	List(ctx context.Context, filter LogFilter, limit int64) ([]SyncLog, error)
}

type SyncLogRepositoryImpl struct {
	collection *mongo.Collection
}

func NewSyncLogRepository(db *database.MongodbDB) SyncLogRepository {
	return &SyncLogRepositoryImpl{
		collection: db.DB.Collection("sync_logs"),
	}
}

func (r *SyncLogRepositoryImpl) Create(ctx context.Context, log *SyncLog) error {
	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	if log.StartTime.IsZero() {
		log.StartTime = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, log)
	return err
}

func (r *SyncLogRepositoryImpl) Update(ctx context.Context, log *SyncLog) error {
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": log.ID},
		bson.M{"$set": bson.M{
			"end_time":        log.EndTime,
			"status":          log.Status,
			"processed_count": log.ProcessedCount,
			"error":           log.Error,
		}},
	)
	return err
}

func (r *SyncLogRepositoryImpl) List(ctx context.Context, filter LogFilter, limit int64) ([]SyncLog, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.TaskID != "" {
		query["task_id"] = filter.TaskID
	}
	if filter.Entity != "" {
		item := bson.M{"entity": filter.Entity}
		if filter.ID != 0 {
			item["id"] = filter.ID
		}
		query["items"] = bson.M{"$elemMatch": item}
	}

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}}).SetLimit(limit)
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []SyncLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

package audit

import (
	"context"

	common_models "go-hermes/internal/common/models"
	"go-hermes/internal/database"
	"go-hermes/internal/features/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditRepository interface {
	Create(ctx context.Context, log common_models.AuditLog) error
	List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error)
	CreateDecision(ctx context.Context, d entity.MatchDecision) error
	ListDecisions(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]entity.MatchDecision, error)
}

type AuditRepositoryImpl struct {
	Collection *mongo.Collection
	Decisions  *mongo.Collection
}

func NewAuditRepository(mongodb *database.MongodbDB) AuditRepository {
	return &AuditRepositoryImpl{
		Collection: mongodb.DB.Collection("audit_logs"),
		Decisions:  mongodb.DB.Collection("match_decisions"),
	}
}

func (r *AuditRepositoryImpl) Create(ctx context.Context, log common_models.AuditLog) error {
	_, err := r.Collection.InsertOne(ctx, log)
	return err
}

func (r *AuditRepositoryImpl) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	cursor, err := r.Collection.Find(ctx, buildQuery(filters), findOptions(limit, offset))
	if err != nil {
		return nil, err
	}
	var logs []common_models.AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *AuditRepositoryImpl) CreateDecision(ctx context.Context, d entity.MatchDecision) error {
	_, err := r.Decisions.InsertOne(ctx, d)
	return err
}

func (r *AuditRepositoryImpl) ListDecisions(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]entity.MatchDecision, error) {
	cursor, err := r.Decisions.Find(ctx, buildQuery(filters), findOptions(limit, offset))
	if err != nil {
		return nil, err
	}
	var decisions []entity.MatchDecision
	if err = cursor.All(ctx, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

func findOptions(limit, offset int64) *options.FindOptions {
	return options.Find().SetLimit(limit).SetSkip(offset).SetSort(bson.M{"timestamp": -1})
}

// buildQuery drops empty filter values.
func buildQuery(filters map[string]interface{}) bson.M {
	query := bson.M{}
	for k, v := range filters {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		query[k] = v
	}
	return query
}

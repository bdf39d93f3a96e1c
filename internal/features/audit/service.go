package audit

import (
	"context"
	"time"

	common_models "go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/pkg/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type AuditService interface {
	LogChange(ctx context.Context, action common_models.AuditAction, source common_models.System, module string, recordID string, changes map[string]common_models.Change) error
	// RecordMatch stores a natural-key decision. Failures are logged only.
	RecordMatch(ctx context.Context, d entity.MatchDecision)
	ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error)
	ListDecisions(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]entity.MatchDecision, error)
}

type AuditServiceImpl struct {
	Repo   AuditRepository
	logger *zap.Logger
}

func NewAuditService(repo AuditRepository, logger *zap.Logger) AuditService {
	return &AuditServiceImpl{
		Repo:   repo,
		logger: logger.Named("audit"),
	}
}

func (s *AuditServiceImpl) LogChange(ctx context.Context, action common_models.AuditAction, source common_models.System, module string, recordID string, changes map[string]common_models.Change) error {
	// Extract Actor from Context
	actorID := "system"
	if claims, ok := ctx.Value(utils.OperatorClaimsKey).(*utils.OperatorClaims); ok {
		actorID = claims.Operator()
	}
	eventID, _ := ctx.Value(common_models.EventIDKey).(string)

	log := common_models.AuditLog{
		ID:        primitive.NewObjectID(),
		Action:    action,
		Module:    module,
		RecordID:  recordID,
		Source:    source,
		ActorID:   actorID,
		EventID:   eventID,
		Changes:   changes,
		Timestamp: time.Now(),
	}

	return s.Repo.Create(ctx, log)
}

func (s *AuditServiceImpl) RecordMatch(ctx context.Context, d entity.MatchDecision) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	if err := s.Repo.CreateDecision(ctx, d); err != nil {
		s.logger.Warn("Match decision not stored",
			zap.String("entity", string(d.Entity)),
			zap.String("key", string(d.Key)),
			zap.String("outcome", d.Outcome),
			zap.Error(err))
	}
}

func pageOffset(page, limit int64) (int64, int64) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return limit, (page - 1) * limit
}

func (s *AuditServiceImpl) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	limit, offset := pageOffset(page, limit)
	return s.Repo.List(ctx, filters, limit, offset)
}

func (s *AuditServiceImpl) ListDecisions(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]entity.MatchDecision, error) {
	limit, offset := pageOffset(page, limit)
	return s.Repo.ListDecisions(ctx, filters, limit, offset)
}

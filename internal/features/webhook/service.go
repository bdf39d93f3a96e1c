package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/inbound"
	"go-hermes/internal/features/reconcile"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventApplier reconciles the intents of one event.
type EventApplier interface {
	ApplyEvent(ctx context.Context, source models.System, intents []inbound.Intent) ([]reconcile.Result, error)
}

// ClientFetcher loads a System A client by id.
type ClientFetcher interface {
	Client(ctx context.Context, id int64) (json.RawMessage, error)
}

// ClientNormalizer turns a fetched System A client into intents.
type ClientNormalizer interface {
	NormalizeClient(raw []byte) ([]inbound.Intent, error)
}

type WebhookService interface {
	// HandleInboundEvent normalizes and applies one raw payload. Malformed
	// System A and CRM events are acknowledged with StatusIgnored and a nil
	// error; every other failure is returned.
	HandleInboundEvent(ctx context.Context, source models.System, raw []byte) (*Ack, error)
	// CreateCompany applies one System A client record and returns the
	// company it resolved to.
	CreateCompany(ctx context.Context, raw []byte) (*entity.Company, error)
	ListLogs(ctx context.Context, filter LogFilter, limit int64) ([]WebhookLog, error)
}

type WebhookServiceImpl struct {
	registry   *inbound.Registry
	clients    ClientFetcher
	normalizer ClientNormalizer
	engine     EventApplier
	repo       WebhookLogRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewWebhookService(registry *inbound.Registry, clients ClientFetcher, normalizer ClientNormalizer, engine EventApplier, repo WebhookLogRepository, logger *zap.Logger) WebhookService {
	return &WebhookServiceImpl{
		registry:   registry,
		clients:    clients,
		normalizer: normalizer,
		engine:     engine,
		repo:       repo,
		logger:     logger.Named("webhook"),
		now:        time.Now,
	}
}

func (s *WebhookServiceImpl) HandleInboundEvent(ctx context.Context, source models.System, raw []byte) (*Ack, error) {
	eventID := uuid.NewString()
	ctx = context.WithValue(ctx, models.EventIDKey, eventID)
	start := s.now()
	entry := &WebhookLog{
		EventID:    eventID,
		Source:     source,
		Payload:    string(raw),
		ReceivedAt: start,
	}

	var results []reconcile.Result
	intents, err := s.registry.Normalize(source, raw)
	if err == nil {
		intents, err = s.expand(ctx, intents)
	}
	if err == nil {
		entry.Intents = len(intents)
		results, err = s.engine.ApplyEvent(ctx, source, intents)
	}

	ack := &Ack{Status: StatusOK, EventID: eventID, Results: results}
	switch {
	case err == nil:
	case errs.IsMalformed(err) && source != models.SystemCallbooker:
		ack.Status = StatusIgnored
		s.logger.Warn("Ignoring malformed event",
			zap.String("source", string(source)),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	default:
		ack.Status = StatusError
		s.logger.Error("Failed to handle event",
			zap.String("source", string(source)),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}

	entry.Status = ack.Status
	entry.Results = resultLogs(results)
	entry.Duration = s.now().Sub(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	}
	s.record(ctx, entry)

	if ack.Status == StatusError {
		return ack, err
	}
	return ack, nil
}

func (s *WebhookServiceImpl) CreateCompany(ctx context.Context, raw []byte) (*entity.Company, error) {
	eventID := uuid.NewString()
	ctx = context.WithValue(ctx, models.EventIDKey, eventID)
	start := s.now()
	entry := &WebhookLog{
		EventID:    eventID,
		Source:     models.SystemA,
		Payload:    string(raw),
		ReceivedAt: start,
		Status:     StatusOK,
	}

	company, results, err := s.createCompany(ctx, raw)
	entry.Results = resultLogs(results)
	entry.Duration = s.now().Sub(start).Milliseconds()
	if err != nil {
		entry.Status = StatusError
		entry.Error = err.Error()
		s.logger.Warn("Company create failed", zap.String("event_id", eventID), zap.Error(err))
	}
	s.record(ctx, entry)
	return company, err
}

func (s *WebhookServiceImpl) createCompany(ctx context.Context, raw []byte) (*entity.Company, []reconcile.Result, error) {
	intents, err := s.normalizer.NormalizeClient(raw)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.engine.ApplyEvent(ctx, models.SystemA, intents)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range results {
		if r.EntityType != models.EntityCompany {
			continue
		}
		if r.Err != nil {
			return nil, results, r.Err
		}
		if c, ok := r.Entity.(*entity.Company); ok {
			return c, results, nil
		}
	}
	return nil, results, errs.Malformed(models.SystemA, "client did not resolve to a company")
}

// expand replaces refresh intents with the intents of the freshly fetched
// System A client. Each client is fetched once per event.
func (s *WebhookServiceImpl) expand(ctx context.Context, intents []inbound.Intent) ([]inbound.Intent, error) {
	out := make([]inbound.Intent, 0, len(intents))
	seen := make(map[int64]bool)
	for _, in := range intents {
		if in.Operation != models.OpRefresh {
			out = append(out, in)
			continue
		}
		if in.Source != models.SystemA || in.EntityType != models.EntityCompany {
			return nil, errs.Malformed(in.Source, "cannot refresh %s", in.EntityType)
		}
		if seen[in.ExternalID] {
			continue
		}
		seen[in.ExternalID] = true

		raw, err := s.clients.Client(ctx, in.ExternalID)
		if err != nil {
			if apiErr, ok := errs.AsExternalAPI(err); ok && apiErr.NotFound() {
				s.logger.Warn("Refreshed client no longer exists", zap.Int64("external_id", in.ExternalID))
				continue
			}
			return nil, fmt.Errorf("refresh client %d: %w", in.ExternalID, err)
		}
		fresh, err := s.normalizer.NormalizeClient(raw)
		if err != nil {
			return nil, err
		}
		for i := range fresh {
			fresh[i].Group = in.Group
		}
		out = append(out, fresh...)
	}
	return out, nil
}

func (s *WebhookServiceImpl) record(ctx context.Context, entry *WebhookLog) {
	if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Failed to store webhook log", zap.String("event_id", entry.EventID), zap.Error(err))
	}
}

func (s *WebhookServiceImpl) ListLogs(ctx context.Context, filter LogFilter, limit int64) ([]WebhookLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, filter, limit)
}

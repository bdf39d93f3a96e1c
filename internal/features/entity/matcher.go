package entity

import (
	"context"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"

	"go.uber.org/zap"
)

const (
	MatchOutcomeMatched   = "matched"
	MatchOutcomeAmbiguous = "ambiguous"
	MatchOutcomeNewest    = "picked_newest"
	MatchOutcomeNone      = "none"
)

// MatchDecision records one natural-key lookup for later audit.
type MatchDecision struct {
	Entity     models.EntityType `json:"entity" bson:"entity"`
	Key        KeyField          `json:"key" bson:"key"`
	Value      string            `json:"value" bson:"value"`
	Scope      int64             `json:"scope,omitempty" bson:"scope,omitempty"`
	Candidates []int64           `json:"candidates" bson:"candidates"`
	Chosen     int64             `json:"chosen,omitempty" bson:"chosen,omitempty"`
	Outcome    string            `json:"outcome" bson:"outcome"`
	Strict     bool              `json:"strict" bson:"strict"`
	EventID    string            `json:"event_id,omitempty" bson:"event_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp" bson:"timestamp"`
}

type DecisionRecorder interface {
	RecordMatch(ctx context.Context, d MatchDecision)
}

// Matcher resolves an entity without an external id. It returns nil, nil when
// nothing matches.
type Matcher interface {
	Match(ctx context.Context, repo Repository, t models.EntityType, key NaturalKey) (Entity, error)
}

// DefaultPrecedence is the order natural keys are tried in.
var DefaultPrecedence = map[models.EntityType][]KeyField{
	models.EntityContact: {KeyEmail, KeyPhone, KeyLastName},
	models.EntityCompany: {KeyEmail, KeyPhone, KeyName},
}

type NaturalKeyMatcher struct {
	// Strict refuses to choose between several candidates.
	Strict     bool
	Precedence map[models.EntityType][]KeyField
	Recorder   DecisionRecorder
	Logger     *zap.Logger
}

func NewNaturalKeyMatcher(strict bool, recorder DecisionRecorder, logger *zap.Logger) *NaturalKeyMatcher {
	return &NaturalKeyMatcher{
		Strict:     strict,
		Precedence: DefaultPrecedence,
		Recorder:   recorder,
		Logger:     logger.Named("matcher"),
	}
}

func (m *NaturalKeyMatcher) Match(ctx context.Context, repo Repository, t models.EntityType, key NaturalKey) (Entity, error) {
	for _, field := range m.Precedence[t] {
		value, scope := keyValue(t, field, key)
		if value == "" {
			continue
		}
		// a bare last name is only meaningful inside a known company
		if field == KeyLastName && scope == 0 {
			continue
		}

		candidates, err := repo.FindByNaturalKey(ctx, t, field, value, scope)
		if err != nil {
			return nil, err
		}

		d := MatchDecision{
			Entity:    t,
			Key:       field,
			Value:     value,
			Scope:     scope,
			Strict:    m.Strict,
			Timestamp: time.Now().UTC(),
		}
		if id, ok := ctx.Value(models.EventIDKey).(string); ok {
			d.EventID = id
		}
		for _, c := range candidates {
			d.Candidates = append(d.Candidates, c.EntityID())
		}

		switch {
		case len(candidates) == 0:
			d.Outcome = MatchOutcomeNone
			m.record(ctx, d)
			continue
		case len(candidates) == 1:
			d.Outcome = MatchOutcomeMatched
			d.Chosen = candidates[0].EntityID()
		case m.Strict:
			d.Outcome = MatchOutcomeAmbiguous
			m.record(ctx, d)
			return nil, &errs.DuplicateMatchError{Entity: t, Key: string(field), Value: value, Candidates: d.Candidates}
		default:
			d.Outcome = MatchOutcomeNewest
			d.Chosen = candidates[0].EntityID()
		}

		m.record(ctx, d)
		m.Logger.Info("natural key fallback match",
			zap.String("entity", string(t)),
			zap.String("key", string(field)),
			zap.String("value", value),
			zap.Int64("entity_id", d.Chosen),
			zap.Int("candidates", len(candidates)),
			zap.String("outcome", d.Outcome))
		return candidates[0], nil
	}
	return nil, nil
}

func (m *NaturalKeyMatcher) record(ctx context.Context, d MatchDecision) {
	if m.Recorder != nil {
		m.Recorder.RecordMatch(ctx, d)
	}
}

func keyValue(t models.EntityType, field KeyField, key NaturalKey) (string, int64) {
	scope := int64(0)
	if t == models.EntityContact {
		scope = key.CompanyID
	}
	switch field {
	case KeyEmail:
		return key.Email, scope
	case KeyPhone:
		return key.Phone, scope
	case KeyLastName:
		return key.LastName, scope
	case KeyName:
		return key.CompanyName, scope
	}
	return "", scope
}

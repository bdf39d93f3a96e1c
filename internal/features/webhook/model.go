package webhook

import (
	"time"

	"go-hermes/internal/common/models"
	"go-hermes/internal/features/reconcile"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// Ack is returned to the sender of an inbound event.
type Ack struct {
	Status  string             `json:"status"`
	EventID string             `json:"event_id"`
	Results []reconcile.Result `json:"results,omitempty"`
}

// WebhookLog records one inbound event and what came of it.
type WebhookLog struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	EventID    string             `json:"event_id" bson:"event_id"`
	Source     models.System      `json:"source" bson:"source"`
	Payload    string             `json:"payload" bson:"payload"`
	Status     string             `json:"status" bson:"status"`
	Intents    int                `json:"intents" bson:"intents"`
	Results    []ResultLog        `json:"results,omitempty" bson:"results,omitempty"`
	Error      string             `json:"error,omitempty" bson:"error,omitempty"`
	Duration   int64              `json:"duration" bson:"duration"` // milliseconds
	ReceivedAt time.Time          `json:"received_at" bson:"received_at"`
}

type ResultLog struct {
	EntityType models.EntityType `json:"entity_type" bson:"entity_type"`
	Operation  models.Operation  `json:"operation" bson:"operation"`
	EntityID   int64             `json:"entity_id,omitempty" bson:"entity_id,omitempty"`
	Created    bool              `json:"created" bson:"created"`
	Deleted    bool              `json:"deleted,omitempty" bson:"deleted,omitempty"`
	Dropped    bool              `json:"dropped,omitempty" bson:"dropped,omitempty"`
	Reason     string            `json:"reason,omitempty" bson:"reason,omitempty"`
}

func resultLogs(results []reconcile.Result) []ResultLog {
	out := make([]ResultLog, 0, len(results))
	for _, r := range results {
		out = append(out, ResultLog{
			EntityType: r.EntityType,
			Operation:  r.Operation,
			EntityID:   r.EntityID,
			Created:    r.Created,
			Deleted:    r.Deleted,
			Dropped:    r.Dropped,
			Reason:     r.Reason,
		})
	}
	return out
}

type LogFilter struct {
	Source  models.System
	Status  string
	EventID string
}

package sync

import (
	"time"

	"go-hermes/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	// StatusPartial means some items failed and were not retried.
	StatusPartial  = "partial"
	StatusFailed   = "failed"
	StatusRetrying = "retrying"
)

// Task carries ids only; workers re-read entities when they run it.
type Task struct {
	ID      string            `json:"id" bson:"id"`
	Origin  models.System     `json:"origin" bson:"origin"`
	Items   []models.SyncItem `json:"items" bson:"items"`
	Targets []models.System   `json:"targets" bson:"targets"`
	Attempt int               `json:"attempt" bson:"attempt"`
}

type SyncLog struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TaskID         string             `json:"task_id" bson:"task_id"`
	Origin         models.System      `json:"origin" bson:"origin"`
	Items          []models.SyncItem  `json:"items" bson:"items"`
	Targets        []models.System    `json:"targets" bson:"targets"`
	Attempt        int                `json:"attempt" bson:"attempt"`
	StartTime      time.Time          `json:"start_time" bson:"start_time"`
	EndTime        time.Time          `json:"end_time" bson:"end_time"`
	Status         string             `json:"status" bson:"status"`
	ProcessedCount int                `json:"processed_count" bson:"processed_count"`
	Error          string             `json:"error,omitempty" bson:"error,omitempty"`
}

// LogFilter narrows ListLogs. Zero values match everything.
type LogFilter struct {
	Status string
	TaskID string
	Entity models.EntityType
	ID     int64
}

type pendingRetry struct {
	task Task
	due  time.Time
}

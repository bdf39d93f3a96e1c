package cron_feature

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	JobSyncRetry = "sync-retry"

	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// JobFunc runs one execution of a job and returns how many items it acted on.
type JobFunc func(ctx context.Context) (int, error)

// CronJob describes a scheduled background job.
type CronJob struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

// CronJobLog represents a single execution of a cron job
type CronJobLog struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	JobName         string             `json:"job_name" bson:"job_name"`
	StartTime       time.Time          `json:"start_time" bson:"start_time"`
	EndTime         *time.Time         `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Status          string             `json:"status" bson:"status"`
	RecordsAffected int                `json:"records_affected" bson:"records_affected"`
	Error           string             `json:"error,omitempty" bson:"error,omitempty"`
}

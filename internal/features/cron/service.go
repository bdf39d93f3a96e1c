package cron_feature

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	common_models "go-hermes/internal/common/models"
	"go-hermes/internal/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetrySweeper re-queues outbound sync tasks whose backoff has elapsed.
type RetrySweeper interface {
	RetryDue(ctx context.Context) int
}

type Auditor interface {
	LogChange(ctx context.Context, action common_models.AuditAction, source common_models.System, module string, recordID string, changes map[string]common_models.Change) error
}

type CronService interface {
	ListCronJobs() []CronJob
	ExecuteCronJob(ctx context.Context, name string) error
	GetCronJobLogs(ctx context.Context, name string, limit int) ([]CronJobLog, error)
	RegisterJob(job CronJob, run JobFunc) error
	InitializeScheduler(ctx context.Context) error
	StopScheduler() error
}

var ErrJobNotFound = errors.New("cron job not found")

type registeredJob struct {
	job     CronJob
	run     JobFunc
	entry   cron.EntryID
	running sync.Mutex
}

type CronServiceImpl struct {
	repo         CronRepository
	auditService Auditor
	logger       *zap.Logger

	scheduler *cron.Cron
	jobs      map[string]*registeredJob
	mu        sync.RWMutex
}

// NewCronService registers the sync retry sweep on cfg.Sync.RetrySchedule.
func NewCronService(cfg *config.Config, repo CronRepository, sweeper RetrySweeper, auditService Auditor, logger *zap.Logger) (CronService, error) {
	s := &CronServiceImpl{
		repo:         repo,
		auditService: auditService,
		logger:       logger.Named("cron"),
		scheduler:    cron.New(),
		jobs:         make(map[string]*registeredJob),
	}
	err := s.RegisterJob(CronJob{
		Name:        JobSyncRetry,
		Schedule:    cfg.Sync.RetrySchedule,
		Description: "Re-queue outbound sync tasks whose retry backoff has elapsed",
	}, func(ctx context.Context) (int, error) {
		return sweeper.RetryDue(ctx), nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CronServiceImpl) RegisterJob(job CronJob, run JobFunc) error {
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("cron job %s already registered", job.Name)
	}

	rj := &registeredJob{job: job, run: run}
	rj.entry = s.scheduler.Schedule(schedule, cron.FuncJob(func() {
		if err := s.execute(context.Background(), rj); err != nil {
			s.logger.Error("Cron job failed", zap.String("job", job.Name), zap.Error(err))
		}
	}))
	s.jobs[job.Name] = rj
	return nil
}

func (s *CronServiceImpl) ListCronJobs() []CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CronJob, 0, len(s.jobs))
	for _, rj := range s.jobs {
		job := rj.job
		if entry := s.scheduler.Entry(rj.entry); entry.Valid() {
			if !entry.Prev.IsZero() {
				prev := entry.Prev
				job.LastRun = &prev
			}
			if !entry.Next.IsZero() {
				next := entry.Next
				job.NextRun = &next
			}
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteCronJob runs a job now, outside its schedule.
func (s *CronServiceImpl) ExecuteCronJob(ctx context.Context, name string) error {
	s.mu.RLock()
	rj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	return s.execute(ctx, rj)
}

func (s *CronServiceImpl) execute(ctx context.Context, rj *registeredJob) error {
	if !rj.running.TryLock() {
		s.logger.Debug("Cron job still running, skipping", zap.String("job", rj.job.Name))
		return nil
	}
	defer rj.running.Unlock()

	logEntry := &CronJobLog{
		JobName:   rj.job.Name,
		StartTime: time.Now(),
		Status:    StatusRunning,
	}
	if err := s.repo.CreateLog(ctx, logEntry); err != nil {
		s.logger.Warn("Failed to create cron job log", zap.String("job", rj.job.Name), zap.Error(err))
	}

	affected, execErr := rj.run(ctx)

	endTime := time.Now()
	logEntry.EndTime = &endTime
	logEntry.RecordsAffected = affected
	logEntry.Status = StatusSuccess
	if execErr != nil {
		logEntry.Status = StatusFailed
		logEntry.Error = execErr.Error()
	}
	if err := s.repo.UpdateLog(ctx, logEntry); err != nil {
		s.logger.Warn("Failed to update cron job log", zap.String("job", rj.job.Name), zap.Error(err))
	}

	// idle sweeps are not worth an audit entry
	if affected > 0 || execErr != nil {
		s.auditService.LogChange(ctx, common_models.AuditActionCron, common_models.SystemHermes, "cron", rj.job.Name, map[string]common_models.Change{
			"status":   {New: logEntry.Status},
			"affected": {New: affected},
			"error":    {New: logEntry.Error},
		})
	}
	return execErr
}

func (s *CronServiceImpl) GetCronJobLogs(ctx context.Context, name string, limit int) ([]CronJobLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.GetLogs(ctx, name, limit)
}

func (s *CronServiceImpl) InitializeScheduler(ctx context.Context) error {
	s.logger.Info("Starting cron scheduler", zap.Int("jobs", len(s.jobs)))
	s.scheduler.Start()
	return nil
}

func (s *CronServiceImpl) StopScheduler() error {
	stopped := s.scheduler.Stop()
	<-stopped.Done()
	return nil
}

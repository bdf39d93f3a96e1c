package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/connectors"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SyncService interface {
	// Dispatch queues the items for every target. It never blocks.
	Dispatch(ctx context.Context, origin models.System, items []models.SyncItem, targets []models.System) error
	// DispatchOutboundSync queues a manual resync of one entity to every
	// system but the excluded ones.
	DispatchOutboundSync(ctx context.Context, t models.EntityType, id int64, exclude []models.System) (*Task, error)
	// RetryDue moves retries whose backoff has elapsed back onto the queue.
	RetryDue(ctx context.Context) int
	ListLogs(ctx context.Context, filter LogFilter, limit int64) ([]SyncLog, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Connectors holds the client for each sync target.
type Connectors map[models.System]connectors.Connector

type SyncServiceImpl struct {
	cfg     *config.Config
	store   entity.Store
	builder *payloadBuilder
	conns   Connectors
	LogRepo SyncLogRepository
	logger  *zap.Logger

	tasks chan Task

	mu      gosync.Mutex
	retries []pendingRetry
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
	now     func() time.Time
}

func NewSyncService(cfg *config.Config, store entity.Store, table *fieldmap.Table, conns Connectors, logRepo SyncLogRepository, logger *zap.Logger) SyncService {
	return newSyncService(cfg, store, table, conns, logRepo, logger)
}

func newSyncService(cfg *config.Config, store entity.Store, table *fieldmap.Table, conns Connectors, logRepo SyncLogRepository, logger *zap.Logger) *SyncServiceImpl {
	size := cfg.Sync.QueueSize
	if size <= 0 {
		size = 1
	}
	return &SyncServiceImpl{
		cfg:     cfg,
		store:   store,
		builder: &payloadBuilder{cfg: cfg, table: table, repo: store},
		conns:   conns,
		LogRepo: logRepo,
		logger:  logger.Named("sync"),
		tasks:   make(chan Task, size),
		now:     time.Now,
	}
}

func (s *SyncServiceImpl) Start(ctx context.Context) error {
	workers := s.cfg.Sync.Workers
	if workers <= 0 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}
	s.logger.Info("Sync workers started", zap.Int("workers", workers), zap.Int("queue_size", cap(s.tasks)))
	return nil
}

// Stop cancels in-flight tasks and waits for the workers to exit.
func (s *SyncServiceImpl) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Sync workers stopped", zap.Int("pending_retries", s.pendingRetries()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SyncServiceImpl) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			s.execute(ctx, task)
		}
	}
}

func (s *SyncServiceImpl) Dispatch(ctx context.Context, origin models.System, items []models.SyncItem, targets []models.System) error {
	if len(items) == 0 || len(targets) == 0 {
		return nil
	}
	task := Task{
		ID:      uuid.NewString(),
		Origin:  origin,
		Items:   append([]models.SyncItem(nil), items...),
		Targets: append([]models.System(nil), targets...),
	}
	s.enqueue(task)
	return nil
}

func (s *SyncServiceImpl) DispatchOutboundSync(ctx context.Context, t models.EntityType, id int64, exclude []models.System) (*Task, error) {
	switch t {
	case models.EntityCompany, models.EntityContact, models.EntityDeal, models.EntityMeeting:
	default:
		return nil, fmt.Errorf("%s records are not synced", t)
	}
	if _, err := s.store.Get(ctx, t, id); err != nil {
		return nil, err
	}

	var targets []models.System
	for _, target := range models.SyncTargets {
		skip := false
		for _, ex := range exclude {
			if ex == target {
				skip = true
			}
		}
		if !skip {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("every target is excluded")
	}

	task := Task{
		ID:      uuid.NewString(),
		Origin:  models.SystemHermes,
		Items:   []models.SyncItem{{Entity: t, ID: id}},
		Targets: targets,
	}
	s.enqueue(task)
	s.logger.Info("Manual sync queued", zap.String("task_id", task.ID), zap.String("entity", string(t)), zap.Int64("entity_id", id))
	return &task, nil
}

func (s *SyncServiceImpl) enqueue(task Task) {
	select {
	case s.tasks <- task:
	default:
		s.logger.Warn("Sync queue full, deferring task", zap.String("task_id", task.ID))
		s.later(task, s.cfg.Sync.RetryBase)
	}
}

func (s *SyncServiceImpl) later(task Task, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, pendingRetry{task: task, due: s.now().Add(delay)})
}

func (s *SyncServiceImpl) pendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

// backoff is RetryBase * 2^attempt.
func (s *SyncServiceImpl) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	return s.cfg.Sync.RetryBase * time.Duration(1<<attempt)
}

func (s *SyncServiceImpl) RetryDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	var due []Task
	kept := s.retries[:0]
	for _, r := range s.retries {
		if !r.due.After(now) {
			due = append(due, r.task)
			continue
		}
		kept = append(kept, r)
	}
	s.retries = kept
	s.mu.Unlock()

	for _, task := range due {
		s.enqueue(task)
	}
	if len(due) > 0 {
		s.logger.Info("Retries queued", zap.Int("count", len(due)))
	}
	return len(due)
}

func (s *SyncServiceImpl) ListLogs(ctx context.Context, filter LogFilter, limit int64) ([]SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.LogRepo.List(ctx, filter, limit)
}

// execute syncs the items target by target, in order, so parents get their
// external ids before children reference them. A failure stops the target; a
// retryable one reschedules the items that were not synced.
func (s *SyncServiceImpl) execute(ctx context.Context, task Task) *SyncLog {
	log := &SyncLog{
		TaskID:    task.ID,
		Origin:    task.Origin,
		Items:     task.Items,
		Targets:   task.Targets,
		Attempt:   task.Attempt,
		StartTime: s.now(),
		Status:    StatusInProgress,
	}
	if s.LogRepo != nil {
		if err := s.LogRepo.Create(ctx, log); err != nil {
			s.logger.Warn("Sync log write failed", zap.Error(err))
		}
	}

	var (
		failures []string
		retrying bool
	)
	for _, target := range task.Targets {
		conn, ok := s.conns[target]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: no connector", target))
			continue
		}
		for i, item := range task.Items {
			err := s.syncItem(ctx, task.Origin, item, target, conn)
			if err == nil {
				log.ProcessedCount++
				continue
			}

			fields := []zap.Field{
				zap.String("task_id", task.ID),
				zap.String("system", string(target)),
				zap.String("entity", string(item.Entity)),
				zap.Int64("entity_id", item.ID),
				zap.Int("attempt", task.Attempt),
				zap.Error(err),
			}
			failures = append(failures, fmt.Sprintf("%s %s %d: %v", target, item.Entity, item.ID, err))
			if apiErr, ok := errs.AsExternalAPI(err); ok && apiErr.Retryable() && task.Attempt+1 < s.cfg.Sync.MaxAttempts {
				delay := s.backoff(task.Attempt)
				s.later(Task{
					ID:      task.ID,
					Origin:  task.Origin,
					Items:   append([]models.SyncItem(nil), task.Items[i:]...),
					Targets: []models.System{target},
					Attempt: task.Attempt + 1,
				}, delay)
				retrying = true
				s.logger.Warn("Sync failed, retry scheduled", append(fields, zap.Duration("delay", delay))...)
			} else {
				s.logger.Error("Sync failed", fields...)
			}
			break
		}
	}

	log.EndTime = s.now()
	switch {
	case len(failures) == 0:
		log.Status = StatusSuccess
	case retrying:
		log.Status = StatusRetrying
	case log.ProcessedCount > 0:
		log.Status = StatusPartial
	default:
		log.Status = StatusFailed
	}
	log.Error = strings.Join(failures, "; ")
	if s.LogRepo != nil {
		if err := s.LogRepo.Update(context.WithoutCancel(ctx), log); err != nil {
			s.logger.Warn("Sync log write failed", zap.Error(err))
		}
	}
	return log
}

func (s *SyncServiceImpl) syncItem(ctx context.Context, origin models.System, item models.SyncItem, target models.System, conn connectors.Connector) error {
	ent, err := s.store.Get(ctx, item.Entity, item.ID)
	if errors.Is(err, entity.ErrNotFound) {
		s.logger.Debug("Entity gone before sync", zap.String("entity", string(item.Entity)), zap.Int64("entity_id", item.ID))
		return nil
	}
	if err != nil {
		return err
	}

	if target == models.SystemA {
		return s.syncSystemA(ctx, origin, ent, conn)
	}
	return s.syncRecord(ctx, origin, target, ent, conn)
}

// syncSystemA only updates clients System A already knows. Deal fields are
// written onto the deal's company.
func (s *SyncServiceImpl) syncSystemA(ctx context.Context, origin models.System, ent entity.Entity, conn connectors.Connector) error {
	var clientID int64
	switch v := ent.(type) {
	case *entity.Company:
		clientID = v.SystemAID
	case *entity.Deal:
		c, err := s.builder.company(ctx, v.CompanyID)
		if err != nil {
			return err
		}
		if c != nil {
			clientID = c.SystemAID
		}
	default:
		return nil
	}
	if clientID == 0 {
		s.logger.Debug("Not in System A, skipping", zap.String("entity", string(ent.Type())), zap.Int64("entity_id", ent.EntityID()))
		return nil
	}

	payload, err := s.builder.build(ctx, models.SystemA, origin, ent)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	found, err := s.pushUpdate(ctx, conn, models.EntityCompany, clientID, payload)
	if err == nil && !found {
		s.logger.Warn("System A client not found", zap.Int64("external_id", clientID))
	}
	return err
}

func (s *SyncServiceImpl) syncRecord(ctx context.Context, origin, target models.System, ent entity.Entity, conn connectors.Connector) error {
	switch ent.Type() {
	case models.EntityPipeline, models.EntityStage, models.EntityAdmin:
		return nil
	case models.EntityMeeting:
		if ent.ExternalID(target) != 0 {
			return nil
		}
	}

	payload, err := s.builder.build(ctx, target, origin, ent)
	if err != nil {
		return err
	}

	extID := ent.ExternalID(target)
	if c, ok := ent.(*entity.Company); ok && extID == 0 {
		if extID = s.findCompany(ctx, conn, c); extID != 0 {
			if err := s.persist(ctx, ent, target, extID); err != nil {
				return err
			}
		}
	}

	if extID != 0 {
		found, err := s.pushUpdate(ctx, conn, ent.Type(), extID, payload)
		if err != nil || found {
			return err
		}
		s.logger.Warn("Remote record gone, creating it again",
			zap.String("system", string(target)),
			zap.String("entity", string(ent.Type())),
			zap.Int64("external_id", extID))
	}

	newID, err := conn.Create(ctx, ent.Type(), payload)
	if err != nil {
		return err
	}
	s.logger.Info("External record created",
		zap.String("system", string(target)),
		zap.String("entity", string(ent.Type())),
		zap.Int64("entity_id", ent.EntityID()),
		zap.Int64("external_id", newID))
	return s.persist(ctx, ent, target, newID)
}

// pushUpdate sends the fields that differ from the remote record. It reports
// false when the remote record does not exist.
func (s *SyncServiceImpl) pushUpdate(ctx context.Context, conn connectors.Connector, t models.EntityType, extID int64, payload connectors.Record) (bool, error) {
	remote, err := conn.Get(ctx, t, extID)
	if apiErr, ok := errs.AsExternalAPI(err); ok && apiErr.NotFound() {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	delta := changed(payload, remote)
	if len(delta) == 0 {
		s.logger.Debug("Remote record up to date", zap.String("system", string(conn.System())), zap.Int64("external_id", extID))
		return true, nil
	}
	if err := conn.Update(ctx, t, extID, delta); err != nil {
		return true, err
	}
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	s.logger.Info("External record updated",
		zap.String("system", string(conn.System())),
		zap.String("entity", string(t)),
		zap.Int64("external_id", extID),
		zap.Strings("fields", keys))
	return true, nil
}

// findCompany looks for an existing CRM organization through the email of
// one of the company's contacts.
func (s *SyncServiceImpl) findCompany(ctx context.Context, conn connectors.Connector, c *entity.Company) int64 {
	searcher, ok := conn.(connectors.Searcher)
	if !ok {
		return 0
	}
	contacts, err := s.store.ListContacts(ctx, c.ID)
	if err != nil {
		s.logger.Warn("Listing contacts failed", zap.Int64("company_id", c.ID), zap.Error(err))
		return 0
	}
	for _, ct := range contacts {
		if ct.Email == "" {
			continue
		}
		found, err := searcher.Search(ctx, models.EntityContact, entity.FieldEmail, ct.Email)
		if err != nil {
			s.logger.Warn("Organization search failed", zap.String("email", ct.Email), zap.Error(err))
			continue
		}
		for _, rec := range found {
			orgID := connectors.IDOf(rec["organization"])
			if orgID == 0 {
				orgID = connectors.IDOf(rec["org_id"])
			}
			if orgID == 0 {
				continue
			}
			owner, err := s.store.FindByExternalID(ctx, models.EntityCompany, conn.System(), orgID)
			if err == nil && owner.EntityID() != c.ID {
				continue
			}
			s.logger.Info("Existing organization found",
				zap.Int64("company_id", c.ID),
				zap.Int64("external_id", orgID),
				zap.String("email", ct.Email))
			return orgID
		}
	}
	return 0
}

// persist stores the external id on a fresh copy of the entity.
func (s *SyncServiceImpl) persist(ctx context.Context, ent entity.Entity, system models.System, extID int64) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, repo entity.Repository) error {
		if ent.Type() == models.EntityCompany {
			if err := repo.LockCompany(ctx, ent.EntityID()); err != nil {
				return err
			}
		}
		fresh, err := repo.Get(ctx, ent.Type(), ent.EntityID())
		if errors.Is(err, entity.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		fresh.SetExternalID(system, extID)
		return repo.Upsert(ctx, fresh)
	})
}

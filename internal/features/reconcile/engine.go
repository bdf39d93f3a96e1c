package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/connectors"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/inbound"

	"go.uber.org/zap"
)

// Dispatcher schedules outbound sync for entities changed by an event.
type Dispatcher interface {
	Dispatch(ctx context.Context, origin models.System, items []models.SyncItem, targets []models.System) error
}

// Scheduler books calendar invites for callbooker meetings.
type Scheduler interface {
	Schedule(ctx context.Context, ev connectors.CalendarEvent) (string, error)
}

type Auditor interface {
	LogChange(ctx context.Context, action models.AuditAction, source models.System, module string, recordID string, changes map[string]models.Change) error
}

// Result reports what one intent did.
type Result struct {
	EntityType models.EntityType `json:"entity_type"`
	Operation  models.Operation  `json:"operation"`
	EntityID   int64             `json:"entity_id,omitempty"`
	Created    bool              `json:"created"`
	Deleted    bool              `json:"deleted,omitempty"`
	Dropped    bool              `json:"dropped,omitempty"`
	Reason     string            `json:"reason,omitempty"`

	Entity entity.Entity `json:"-"`
	Err    error         `json:"-"`
}

type Engine struct {
	cfg        *config.Config
	store      entity.Store
	matcher    entity.Matcher
	cache      entity.LookupCache
	dispatcher Dispatcher
	calendar   Scheduler
	audit      Auditor
	logger     *zap.Logger
}

// NewEngine builds the engine. calendar may be nil, in which case meetings are
// stored without an invite.
func NewEngine(cfg *config.Config, store entity.Store, matcher entity.Matcher, cache entity.LookupCache, dispatcher Dispatcher, calendar Scheduler, audit Auditor, logger *zap.Logger) *Engine {
	if cache == nil {
		cache = entity.NoopLookupCache{}
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		matcher:    matcher,
		cache:      cache,
		dispatcher: dispatcher,
		calendar:   calendar,
		audit:      audit,
		logger:     logger.Named("reconcile"),
	}
}

// event is the state shared by the intents of one inbound event.
type event struct {
	source models.System
	id     string
	// first holds the first entity of each type resolved in each intent
	// group; it is what FromEvent refs point at.
	first    map[groupKey]entity.Entity
	group    int
	changes  []change
	items    []models.SyncItem
	meetings []int64
	// invalidate lists cache entries to drop once committed.
	invalidate []cacheEntry
}

type change struct {
	action  models.AuditAction
	entity  models.EntityType
	id      int64
	changes map[string]models.Change
}

type groupKey struct {
	group int
	t     models.EntityType
}

type cacheEntry struct {
	t          models.EntityType
	system     models.System
	externalID int64
}

func (ev *event) remember(e entity.Entity) {
	key := groupKey{group: ev.group, t: e.Type()}
	if _, ok := ev.first[key]; !ok {
		ev.first[key] = e
	}
}

// firstOf returns the first entity of type t resolved in the current group.
func (ev *event) firstOf(t models.EntityType) (entity.Entity, bool) {
	found, ok := ev.first[groupKey{group: ev.group, t: t}]
	return found, ok
}

func (ev *event) sync(t models.EntityType, id int64) {
	switch t {
	case models.EntityCompany, models.EntityContact, models.EntityDeal, models.EntityMeeting:
	default:
		return
	}
	for _, it := range ev.items {
		if it.Entity == t && it.ID == id {
			return
		}
	}
	ev.items = append(ev.items, models.SyncItem{Entity: t, ID: id})
}

// Apply is the single-intent form of ApplyEvent. A dropped intent is
// reported through the returned error.
func (e *Engine) Apply(ctx context.Context, in inbound.Intent) (Result, error) {
	results, err := e.ApplyEvent(ctx, in.Source, []inbound.Intent{in})
	if err != nil {
		return Result{}, err
	}
	return results[0], results[0].Err
}

// ApplyEvent applies every intent of one inbound event in a single
// transaction, then writes the audit log, books calendar invites and hands the
// changed entities to the dispatcher.
//
// Intents whose parent cannot be resolved, or whose natural key is ambiguous,
// are dropped and the rest of the event still applies. Callbooker bookings are
// all or nothing: any such error aborts the whole event.
func (e *Engine) ApplyEvent(ctx context.Context, source models.System, intents []inbound.Intent) ([]Result, error) {
	eventID, _ := ctx.Value(models.EventIDKey).(string)
	var (
		ev      *event
		results []Result
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, repo entity.Repository) error {
		ev = &event{source: source, id: eventID, first: make(map[groupKey]entity.Entity)}
		results = results[:0]
		for _, in := range intents {
			ev.group = in.Group
			res, err := e.apply(ctx, repo, ev, in)
			if err != nil {
				if !droppable(err) || source == models.SystemCallbooker {
					return err
				}
				res = Result{EntityType: in.EntityType, Operation: in.Operation, Dropped: true, Reason: err.Error(), Err: err}
				e.logDrop(ev, in, err)
				ev.changes = append(ev.changes, change{action: models.AuditActionDrop, entity: in.EntityType, changes: map[string]models.Change{
					"reason": {New: err.Error()},
				}})
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range ev.invalidate {
		e.cache.Invalidate(ctx, c.t, c.system, c.externalID)
	}
	if err := e.bookMeetings(ctx, ev, results); err != nil {
		e.writeAudit(ctx, ev)
		e.dispatch(ctx, ev)
		return nil, err
	}
	e.writeAudit(ctx, ev)
	e.dispatch(ctx, ev)
	return results, nil
}

// droppable errors lose one intent but never the whole event.
func droppable(err error) bool {
	return errs.IsUnresolvedParent(err) || errs.IsDuplicateMatch(err)
}

func (e *Engine) logDrop(ev *event, in inbound.Intent, err error) {
	fields := []zap.Field{
		zap.String("source", string(ev.source)),
		zap.String("event_id", ev.id),
		zap.String("entity", string(in.EntityType)),
		zap.String("operation", string(in.Operation)),
		zap.Int64("external_id", in.ExternalID),
		zap.Error(err),
	}
	var dup *errs.DuplicateMatchError
	if errors.As(err, &dup) {
		fields = append(fields, zap.Int64s("candidates", dup.Candidates))
	}
	e.logger.Warn("Intent dropped", fields...)
}

func (e *Engine) apply(ctx context.Context, repo entity.Repository, ev *event, in inbound.Intent) (Result, error) {
	res := Result{EntityType: in.EntityType, Operation: in.Operation}

	switch in.Operation {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return res, fmt.Errorf("%s intent for %s cannot be applied", in.Operation, in.EntityType)
	}
	if entity.New(in.EntityType) == nil || in.EntityType == models.EntityAdmin {
		return res, errs.Malformed(ev.source, "%s intents are not supported", in.EntityType)
	}
	if (in.EntityType == models.EntityPipeline || in.EntityType == models.EntityStage) && ev.source != models.SystemCRM {
		return res, errs.Malformed(ev.source, "%s is owned by the CRM", in.EntityType)
	}
	if in.EntityType == models.EntityDeal && in.Operation == models.OpCreate && ev.source != models.SystemCRM {
		return e.openDeal(ctx, repo, ev, in)
	}

	var scope int64
	if in.EntityType == models.EntityContact {
		// contacts match inside their company when it is already known
		if id, err := e.refID(ctx, repo, ev, in.Refs[fieldNameCompany], models.EntityCompany); err == nil {
			scope = id
		}
	}

	target, how, err := e.resolve(ctx, repo, ev, in, scope)
	if err != nil {
		return res, err
	}

	if in.Operation == models.OpDelete {
		return e.delete(ctx, repo, ev, in, target)
	}

	created := target == nil
	if created {
		if in.MustExist {
			return res, fmt.Errorf("%s %d: %w", in.EntityType, in.LocalID, entity.ErrNotFound)
		}
		target = entity.New(in.EntityType)
		if err := entity.Merge(target, in.Defaults); err != nil {
			return res, errs.Malformed(ev.source, "%v", err)
		}
	}
	before := attributes(target)

	if err := entity.Merge(target, in.Patch); err != nil {
		return res, errs.Malformed(ev.source, "%v", err)
	}
	e.linkExternalID(target, in, how, created)

	if err := e.applyRefs(ctx, repo, ev, target, in.Refs); err != nil {
		return res, err
	}
	if created || how == byNaturalKey {
		if err := e.applyRefs(ctx, repo, ev, target, in.DefaultRefs); err != nil {
			return res, err
		}
	}
	if err := e.checkParents(target); err != nil {
		return res, err
	}

	if err := e.beforeSave(ctx, repo, ev, target, created); err != nil {
		return res, err
	}
	if err := repo.Upsert(ctx, target); err != nil {
		return res, err
	}
	if err := e.afterSave(ctx, repo, ev, target, created); err != nil {
		return res, err
	}

	action := models.AuditActionUpdate
	if created {
		action = models.AuditActionCreate
	}
	ev.changes = append(ev.changes, change{action: action, entity: target.Type(), id: target.EntityID(), changes: diff(before, attributes(target))})
	ev.remember(target)
	ev.sync(target.Type(), target.EntityID())

	e.logger.Info("Reconciled",
		zap.String("source", string(ev.source)),
		zap.String("entity", string(target.Type())),
		zap.Int64("entity_id", target.EntityID()),
		zap.Int64("external_id", in.ExternalID),
		zap.Bool("created", created),
		zap.String("matched_by", string(how)),
	)

	res.EntityID, res.Created, res.Entity = target.EntityID(), created, target
	return res, nil
}

// linkExternalID records the source's id on rows created by the event, found
// by a natural key, or named by our own id.
func (e *Engine) linkExternalID(target entity.Entity, in inbound.Intent, how matchedBy, created bool) {
	if in.ExternalID == 0 {
		return
	}
	current := target.ExternalID(in.Source)
	if current == in.ExternalID {
		return
	}
	if created || current == 0 || how == byLocalID {
		target.SetExternalID(in.Source, in.ExternalID)
	}
}

func (e *Engine) delete(ctx context.Context, repo entity.Repository, ev *event, in inbound.Intent, target entity.Entity) (Result, error) {
	res := Result{EntityType: in.EntityType, Operation: in.Operation}
	if target == nil {
		e.logger.Debug("Delete of unknown entity ignored",
			zap.String("entity", string(in.EntityType)),
			zap.Int64("external_id", in.ExternalID),
		)
		return res, nil
	}

	var pipelineID int64
	if s, ok := target.(*entity.Stage); ok {
		pipelineID = s.PipelineID
	}
	if err := repo.Delete(ctx, target); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return res, nil
		}
		return res, err
	}
	if pipelineID != 0 {
		if err := e.refreshDefaultStage(ctx, repo, pipelineID); err != nil {
			return res, err
		}
	}

	switch in.EntityType {
	case models.EntityPipeline, models.EntityStage:
		ev.invalidate = append(ev.invalidate, cacheEntry{in.EntityType, models.SystemCRM, target.ExternalID(models.SystemCRM)})
	}
	ev.changes = append(ev.changes, change{action: models.AuditActionDelete, entity: in.EntityType, id: target.EntityID()})
	e.logger.Info("Deleted",
		zap.String("source", string(ev.source)),
		zap.String("entity", string(in.EntityType)),
		zap.Int64("entity_id", target.EntityID()),
	)

	res.EntityID, res.Deleted, res.Entity = target.EntityID(), true, target
	return res, nil
}

// targets lists where changes from source are written: every sync target but
// the source itself. Callbooker events reach System A only when configured.
func (e *Engine) targets(source models.System) []models.System {
	var out []models.System
	for _, s := range models.SyncTargets {
		if s == source {
			continue
		}
		if source == models.SystemCallbooker && s == models.SystemA && !e.cfg.Sync.CallbookerSyncsSystemA {
			continue
		}
		out = append(out, s)
	}
	return out
}

var syncRank = map[models.EntityType]int{
	models.EntityCompany: 0,
	models.EntityContact: 1,
	models.EntityDeal:    2,
	models.EntityMeeting: 3,
}

func (e *Engine) dispatch(ctx context.Context, ev *event) {
	targets := e.targets(ev.source)
	if len(ev.items) == 0 || len(targets) == 0 || e.dispatcher == nil {
		return
	}
	items := append([]models.SyncItem(nil), ev.items...)
	sort.SliceStable(items, func(i, j int) bool { return syncRank[items[i].Entity] < syncRank[items[j].Entity] })

	if err := e.dispatcher.Dispatch(ctx, ev.source, items, targets); err != nil {
		e.logger.Error("Dispatch failed", zap.String("source", string(ev.source)), zap.Error(err))
	}
}

func (e *Engine) writeAudit(ctx context.Context, ev *event) {
	if e.audit == nil {
		return
	}
	for _, c := range ev.changes {
		recordID := ""
		if c.id != 0 {
			recordID = strconv.FormatInt(c.id, 10)
		}
		if err := e.audit.LogChange(ctx, c.action, ev.source, string(c.entity), recordID, c.changes); err != nil {
			e.logger.Warn("Audit write failed", zap.Error(err))
		}
	}
}

func attributes(e entity.Entity) map[string]any {
	if p, ok := e.(entity.Patchable); ok {
		return p.Attributes()
	}
	return nil
}

func diff(before, after map[string]any) map[string]models.Change {
	out := make(map[string]models.Change)
	for k, v := range after {
		old := before[k]
		if fmt.Sprint(deref(old)) != fmt.Sprint(deref(v)) {
			out[k] = models.Change{Old: deref(old), New: deref(v)}
		}
	}
	return out
}

func deref(v any) any {
	if t, ok := v.(*time.Time); ok {
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

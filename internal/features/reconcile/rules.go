package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/connectors"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/inbound"

	"go.uber.org/zap"
)

// meetingWindow is how close two meetings of one contact may be.
const meetingWindow = 2 * time.Hour

func (e *Engine) beforeSave(ctx context.Context, repo entity.Repository, ev *event, target entity.Entity, created bool) error {
	switch v := target.(type) {
	case *entity.Company:
		if created && v.Status == "" {
			v.Status = entity.CompanyStatusPendingEmailConf
		}
		if created && v.PricePlan == "" {
			v.PricePlan = entity.PricePlanPAYG
		}
		if created && v.SalesPersonID == 0 {
			id, err := e.nextSalesPerson(ctx, repo, v)
			if err != nil {
				return err
			}
			v.SalesPersonID = id
		}
	case *entity.Deal:
		if created && v.Status == "" {
			v.Status = entity.DealStatusOpen
		}
	case *entity.Meeting:
		if created {
			return e.checkMeeting(ctx, repo, v)
		}
	}
	return nil
}

func (e *Engine) afterSave(ctx context.Context, repo entity.Repository, ev *event, target entity.Entity, created bool) error {
	switch v := target.(type) {
	case *entity.Company:
		if v.Narc || v.Status == entity.CompanyStatusTerminated {
			return e.closeOpenDeals(ctx, repo, ev, v)
		}
	case *entity.Stage:
		return e.refreshDefaultStage(ctx, repo, v.PipelineID)
	case *entity.Meeting:
		if created {
			ev.meetings = append(ev.meetings, v.ID)
		}
	}
	return nil
}

// nextSalesPerson picks the round-robin sales admin for a new company. Zero
// means no admin sells the company's plan yet.
func (e *Engine) nextSalesPerson(ctx context.Context, repo entity.Repository, c *entity.Company) (int64, error) {
	// concurrent events must not both read the same newest company
	if err := repo.LockKey(ctx, "roundrobin:sales:"+string(c.PricePlan)); err != nil {
		return 0, err
	}
	admin, err := entity.ChooseSalesPerson(ctx, repo, c.PricePlan, c.Country)
	if errors.Is(err, entity.ErrNoAdmin) {
		e.logger.Warn("No sales admin for price plan", zap.String("price_plan", string(c.PricePlan)))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return admin.ID, nil
}

func (e *Engine) closeOpenDeals(ctx context.Context, repo entity.Repository, ev *event, c *entity.Company) error {
	deals, err := repo.ListDeals(ctx, c.ID, entity.DealStatusOpen)
	if err != nil {
		return err
	}
	for _, d := range deals {
		d.Status = entity.DealStatusLost
		if err := repo.Upsert(ctx, d); err != nil {
			return err
		}
		ev.changes = append(ev.changes, change{action: models.AuditActionUpdate, entity: models.EntityDeal, id: d.ID, changes: map[string]models.Change{
			entity.FieldStatus: {Old: entity.DealStatusOpen, New: entity.DealStatusLost},
		}})
		ev.sync(models.EntityDeal, d.ID)
		e.logger.Info("Closed open deal", zap.Int64("deal_id", d.ID), zap.Int64("company_id", c.ID), zap.Bool("narc", c.Narc))
	}
	return nil
}

func (e *Engine) pipelineFor(plan entity.PricePlan) int64 {
	switch plan {
	case entity.PricePlanStartup:
		return e.cfg.Sync.Pipelines.Startup
	case entity.PricePlanEnterprise:
		return e.cfg.Sync.Pipelines.Enterprise
	}
	return e.cfg.Sync.Pipelines.PAYG
}

// openDeal gets or creates the open deal of the event's company. A company
// has at most one open deal; a new one goes to the pipeline of its price plan.
func (e *Engine) openDeal(ctx context.Context, repo entity.Repository, ev *event, in inbound.Intent) (Result, error) {
	res := Result{EntityType: models.EntityDeal, Operation: in.Operation}

	found, _ := ev.firstOf(models.EntityCompany)
	company, ok := found.(*entity.Company)
	if !ok {
		return res, &errs.UnresolvedParentError{Entity: models.EntityDeal, Parent: models.EntityCompany, Reference: "from event"}
	}
	if company.Narc {
		res.Dropped, res.Reason = true, "company is marked narc"
		return res, nil
	}
	var contactID int64
	if c, ok := ev.firstOf(models.EntityContact); ok {
		contactID = c.EntityID()
	}

	open, err := repo.ListDeals(ctx, company.ID, entity.DealStatusOpen)
	if err != nil {
		return res, err
	}
	if len(open) > 0 {
		d := open[0]
		if d.ContactID == 0 && contactID != 0 {
			d.ContactID = contactID
			if err := repo.Upsert(ctx, d); err != nil {
				return res, err
			}
		}
		ev.remember(d)
		ev.sync(models.EntityDeal, d.ID)
		res.EntityID, res.Entity = d.ID, d
		return res, nil
	}

	pipelineID, err := entity.LookupID(ctx, repo, e.cache, models.EntityPipeline, models.SystemCRM, e.pipelineFor(company.PricePlan))
	if errors.Is(err, entity.ErrNotFound) {
		e.logger.Warn("No pipeline for price plan, deal not created",
			zap.Int64("company_id", company.ID),
			zap.String("price_plan", string(company.PricePlan)),
		)
		res.Dropped, res.Reason = true, fmt.Sprintf("no pipeline configured for price plan %q", company.PricePlan)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	pipeline, err := repo.GetPipeline(ctx, pipelineID)
	if err != nil {
		return res, err
	}
	if pipeline.DefaultStageID == 0 {
		e.logger.Warn("Pipeline has no stages, deal not created", zap.Int64("pipeline_id", pipeline.ID))
		res.Dropped, res.Reason = true, fmt.Sprintf("pipeline %d has no stages", pipeline.ID)
		return res, nil
	}

	d := &entity.Deal{
		CompanyID:  company.ID,
		ContactID:  contactID,
		AdminID:    company.SalesPersonID,
		PipelineID: pipeline.ID,
		StageID:    pipeline.DefaultStageID,
		Name:       company.Name,
		Status:     entity.DealStatusOpen,
	}
	if err := repo.Upsert(ctx, d); err != nil {
		return res, err
	}
	ev.changes = append(ev.changes, change{action: models.AuditActionCreate, entity: models.EntityDeal, id: d.ID, changes: diff(nil, d.Attributes())})
	ev.remember(d)
	ev.sync(models.EntityDeal, d.ID)
	e.logger.Info("Deal created", zap.Int64("deal_id", d.ID), zap.Int64("company_id", company.ID), zap.Int64("pipeline_id", pipeline.ID))

	res.EntityID, res.Created, res.Entity = d.ID, true, d
	return res, nil
}

func (e *Engine) checkMeeting(ctx context.Context, repo entity.Repository, m *entity.Meeting) error {
	if m.StartTime == nil {
		return &errs.BookingError{Reason: "Meeting time is required."}
	}
	contact, err := repo.GetContact(ctx, m.ContactID)
	if err != nil {
		return err
	}
	if contact.Email == "" {
		return &errs.BookingError{Reason: "Contact must have an email address to book a meeting."}
	}
	nearby, err := repo.ListMeetings(ctx, contact.ID, m.StartTime.Add(-meetingWindow), m.StartTime.Add(meetingWindow))
	if err != nil {
		return err
	}
	for _, other := range nearby {
		if other.Status != entity.MeetingStatusCanceled {
			return &errs.BookingError{Reason: "You already have a meeting booked around this time."}
		}
	}
	if m.AdminID == 0 {
		return &errs.BookingError{Reason: "Admin not found."}
	}
	end := m.StartTime.Add(e.cfg.Calendar.MeetingDuration)
	m.EndTime = &end
	if m.Status == "" {
		m.Status = entity.MeetingStatusPlanned
	}
	return nil
}

// bookMeetings sends a calendar invite for each meeting created by the event.
// A meeting the admin's calendar cannot take is removed again.
func (e *Engine) bookMeetings(ctx context.Context, ev *event, results []Result) error {
	if len(ev.meetings) == 0 {
		return nil
	}
	if e.calendar == nil {
		e.logger.Warn("Calendar not configured, meetings stored without invites", zap.Int("meetings", len(ev.meetings)))
		return nil
	}
	for _, id := range ev.meetings {
		m, err := e.store.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		contact, err := e.store.GetContact(ctx, m.ContactID)
		if err != nil {
			return err
		}
		admin, err := e.store.GetAdmin(ctx, m.AdminID)
		if err != nil {
			return e.cancelMeeting(ctx, ev, m, "Admin not found.")
		}

		eventID, err := e.calendar.Schedule(ctx, connectors.CalendarEvent{
			AdminEmail:   admin.Email,
			ContactEmail: contact.Email,
			ContactName:  contact.Name(),
			Summary:      entity.MeetingSubject(m, admin),
			Description:  fmt.Sprintf("%s with %s (%s)", entity.MeetingSubject(m, admin), contact.Name(), contact.Email),
			Start:        *m.StartTime,
			End:          *m.EndTime,
		})
		if errors.Is(err, connectors.ErrSchedulingConflict) {
			return e.cancelMeeting(ctx, ev, m, "Admin is not free at this time.")
		}
		if err != nil {
			e.logger.Error("Calendar event failed", zap.Int64("meeting_id", m.ID), zap.Error(err))
			return e.cancelMeeting(ctx, ev, m, "Failed to create calendar event")
		}

		m.CalendarEventID = eventID
		if err := e.store.Upsert(ctx, m); err != nil {
			return err
		}
		for i := range results {
			if results[i].EntityType == models.EntityMeeting && results[i].EntityID == m.ID {
				results[i].Entity = m
			}
		}
	}
	return nil
}

func (e *Engine) cancelMeeting(ctx context.Context, ev *event, m *entity.Meeting, reason string) error {
	if err := e.store.Delete(ctx, m); err != nil && !errors.Is(err, entity.ErrNotFound) {
		e.logger.Error("Could not remove unbooked meeting", zap.Int64("meeting_id", m.ID), zap.Error(err))
	}
	items := ev.items[:0]
	for _, it := range ev.items {
		if it.Entity != models.EntityMeeting || it.ID != m.ID {
			items = append(items, it)
		}
	}
	ev.items = items
	ev.changes = append(ev.changes, change{action: models.AuditActionDelete, entity: models.EntityMeeting, id: m.ID, changes: map[string]models.Change{
		"reason": {New: reason},
	}})
	return &errs.BookingError{Reason: reason}
}

// refreshDefaultStage points the pipeline at its lowest ordered stage.
func (e *Engine) refreshDefaultStage(ctx context.Context, repo entity.Repository, pipelineID int64) error {
	pipeline, err := repo.GetPipeline(ctx, pipelineID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	stages, err := repo.ListStages(ctx, pipelineID)
	if err != nil {
		return err
	}
	var first *entity.Stage
	for _, s := range stages {
		if first == nil || s.OrderIndex < first.OrderIndex || (s.OrderIndex == first.OrderIndex && s.ID < first.ID) {
			first = s
		}
	}
	var id int64
	if first != nil {
		id = first.ID
	}
	if pipeline.DefaultStageID == id {
		return nil
	}
	pipeline.DefaultStageID = id
	return repo.Upsert(ctx, pipeline)
}

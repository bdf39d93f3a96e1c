package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/connectors"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"
	"go-hermes/internal/features/inbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type dispatchCall struct {
	origin  models.System
	items   []models.SyncItem
	targets []models.System
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, origin models.System, items []models.SyncItem, targets []models.System) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{origin, items, targets})
	return nil
}

type fakeCalendar struct {
	err    error
	events []connectors.CalendarEvent
}

func (f *fakeCalendar) Schedule(_ context.Context, ev connectors.CalendarEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, ev)
	return fmt.Sprintf("evt-%d", len(f.events)), nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []models.AuditAction
}

func (f *fakeAuditor) LogChange(_ context.Context, action models.AuditAction, _ models.System, _ string, _ string, _ map[string]models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

type fixture struct {
	engine   *Engine
	store    *entity.MemoryStore
	dispatch *fakeDispatcher
	calendar *fakeCalendar
	audit    *fakeAuditor
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Calendar: config.CalendarConfig{MeetingDuration: 30 * time.Minute},
		Sync: config.SyncConfig{
			MatchStrict:    true,
			DealMaxAgeDays: 90,
			Pipelines:      config.PipelineConfig{PAYG: 1, Startup: 2, Enterprise: 3},
		},
	}
	logger := zaptest.NewLogger(t)
	f := &fixture{
		store:    entity.NewMemoryStore(),
		dispatch: &fakeDispatcher{},
		calendar: &fakeCalendar{},
		audit:    &fakeAuditor{},
		cfg:      cfg,
	}
	f.engine = NewEngine(cfg, f.store, entity.NewNaturalKeyMatcher(true, nil, logger), nil, f.dispatch, f.calendar, f.audit, logger)
	return f
}

func (f *fixture) seed(t *testing.T, e entity.Entity) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), e))
}

// seedPipeline creates a CRM pipeline with two stages through the engine.
func (f *fixture) seedPipeline(t *testing.T, crmID int64) *entity.Pipeline {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.ApplyEvent(ctx, models.SystemCRM, []inbound.Intent{
		{Source: models.SystemCRM, EntityType: models.EntityPipeline, Operation: models.OpCreate, ExternalID: crmID, Patch: entity.Patch{entity.FieldName: "Sales"}},
		{Source: models.SystemCRM, EntityType: models.EntityStage, Operation: models.OpCreate, ExternalID: crmID*10 + 2, Patch: entity.Patch{entity.FieldName: "Demo", entity.FieldOrderIndex: int64(2)},
			Refs: map[string]inbound.Ref{fieldmap.FieldPipeline: {System: models.SystemCRM, ExternalID: crmID}}},
		{Source: models.SystemCRM, EntityType: models.EntityStage, Operation: models.OpCreate, ExternalID: crmID*10 + 1, Patch: entity.Patch{entity.FieldName: "Lead", entity.FieldOrderIndex: int64(1)},
			Refs: map[string]inbound.Ref{fieldmap.FieldPipeline: {System: models.SystemCRM, ExternalID: crmID}}},
	})
	require.NoError(t, err)
	p, err := f.store.FindByExternalID(ctx, models.EntityPipeline, models.SystemCRM, crmID)
	require.NoError(t, err)
	f.dispatch.calls = nil
	return p.(*entity.Pipeline)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, &entity.Company{Name: "Acme", CRMOrgID: 555})

	del := inbound.Intent{Source: models.SystemCRM, EntityType: models.EntityCompany, Operation: models.OpDelete, ExternalID: 555}
	res, err := f.engine.Apply(ctx, del)
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	for i := 0; i < 2; i++ {
		res, err = f.engine.Apply(ctx, del)
		require.NoError(t, err)
		assert.False(t, res.Deleted)
	}

	never := inbound.Intent{Source: models.SystemCRM, EntityType: models.EntityDeal, Operation: models.OpDelete, ExternalID: 42}
	_, err = f.engine.Apply(ctx, never)
	require.NoError(t, err)
	assert.Empty(t, f.dispatch.calls)
}

func TestDealWithUnknownCompanyIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, inbound.Intent{
		Source:     models.SystemCRM,
		EntityType: models.EntityDeal,
		Operation:  models.OpCreate,
		ExternalID: 900,
		Patch:      entity.Patch{entity.FieldName: "Orphan"},
		Refs:       map[string]inbound.Ref{fieldmap.FieldCompany: {System: models.SystemCRM, ExternalID: 999}},
	})
	assert.True(t, errs.IsUnresolvedParent(err))

	_, err = f.store.FindByExternalID(ctx, models.EntityDeal, models.SystemCRM, 900)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.Empty(t, f.dispatch.calls)
	assert.Contains(t, f.audit.actions, models.AuditActionDrop)
}

func TestCRMOrganizationUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := &entity.Company{Name: "Acme", Country: "GB", CRMOrgID: 555}
	f.seed(t, company)

	res, err := f.engine.Apply(ctx, inbound.Intent{
		Source:     models.SystemCRM,
		EntityType: models.EntityCompany,
		Operation:  models.OpUpdate,
		ExternalID: 555,
		Patch:      entity.Patch{entity.FieldName: "Acme2"},
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, company.ID, res.EntityID)

	got, err := f.store.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme2", got.Name)
	assert.Equal(t, "GB", got.Country, "fields absent from the patch are kept")

	require.Len(t, f.dispatch.calls, 1)
	call := f.dispatch.calls[0]
	assert.Equal(t, models.SystemCRM, call.origin)
	assert.Equal(t, []models.System{models.SystemA}, call.targets)
	assert.NotContains(t, call.targets, models.SystemCRM)
}

func TestSameEmailInTwoCompaniesIsAmbiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := &entity.Company{Name: "A"}, &entity.Company{Name: "B"}
	f.seed(t, a)
	f.seed(t, b)
	f.seed(t, &entity.Contact{CompanyID: a.ID, Email: "dup@x.com"})
	f.seed(t, &entity.Contact{CompanyID: b.ID, Email: "dup@x.com"})

	_, err := f.engine.Apply(ctx, inbound.Intent{
		Source:     models.SystemCRM,
		EntityType: models.EntityContact,
		Operation:  models.OpUpdate,
		MatchHints: entity.NaturalKey{Email: "dup@x.com"},
		Patch:      entity.Patch{entity.FieldPhone: "+1"},
	})
	assert.True(t, errs.IsDuplicateMatch(err))
	assert.Empty(t, f.dispatch.calls)
}

func TestSystemAClientCreatesCompanyAndContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sales := &entity.Admin{FirstName: "Sam", SystemAAdminID: 9, IsSales: true}
	f.seed(t, sales)

	raw := `{"events": [{"action": "create", "verb": "created", "subject": {
	  "model": "Client", "id": 123,
	  "meta_agency": {"id": 1, "name": "Acme", "country": "United Kingdom (GB)", "status": "active",
	    "paid_invoice_count": 3, "created": "2020-01-01T00:00:00Z", "price_plan": "monthly-payg"},
	  "user": {"email": "a@acme.com", "first_name": "Ann", "last_name": "Able"},
	  "sales_person": {"id": 9},
	  "paid_recipients": [{"id": 501, "first_name": "Ann", "last_name": "Able", "email": "a@acme.com"}]
	}}]}`
	intents, err := inbound.NewSystemANormalizer(f.cfg, zaptest.NewLogger(t)).Normalize([]byte(raw))
	require.NoError(t, err)

	results, err := f.engine.ApplyEvent(ctx, models.SystemA, intents)
	require.NoError(t, err)
	require.Len(t, results, 2)

	company, err := f.store.FindByExternalID(ctx, models.EntityCompany, models.SystemA, 123)
	require.NoError(t, err)
	c := company.(*entity.Company)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, sales.ID, c.SalesPersonID)

	contacts, err := f.store.ListContacts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "a@acme.com", contacts[0].Email)
	assert.Equal(t, int64(501), contacts[0].SystemASRID)

	require.Len(t, f.dispatch.calls, 1)
	assert.Equal(t, []models.System{models.SystemCRM}, f.dispatch.calls[0].targets)
	assert.Equal(t, []models.SyncItem{
		{Entity: models.EntityCompany, ID: c.ID},
		{Entity: models.EntityContact, ID: contacts[0].ID},
	}, f.dispatch.calls[0].items)

	// the same event again changes nothing
	_, err = f.engine.ApplyEvent(ctx, models.SystemA, intents)
	require.NoError(t, err)
	contacts, _ = f.store.ListContacts(ctx, c.ID)
	assert.Len(t, contacts, 1)
}

func TestSystemAEnvelopeWithTwoClients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := `{"events": [
	  {"action": "create", "verb": "created", "subject": {
	    "model": "Client", "id": 1,
	    "meta_agency": {"id": 11, "name": "Acme", "status": "active", "paid_invoice_count": 2,
	      "created": "2020-01-01T00:00:00Z", "price_plan": "monthly-payg"},
	    "user": {"email": "ann@acme.com", "first_name": "Ann", "last_name": "Able"},
	    "paid_recipients": [{"id": 501, "first_name": "Ann", "last_name": "Able", "email": "ann@acme.com"}]
	  }},
	  {"action": "create", "verb": "created", "subject": {
	    "model": "Client", "id": 2,
	    "meta_agency": {"id": 12, "name": "Beta", "status": "active", "paid_invoice_count": 2,
	      "created": "2020-01-01T00:00:00Z", "price_plan": "monthly-payg"},
	    "user": {"email": "bob@beta.com", "first_name": "Bob", "last_name": "Baker"},
	    "paid_recipients": [{"id": 502, "first_name": "Bob", "last_name": "Baker", "email": "bob@beta.com"}]
	  }}
	]}`
	intents, err := inbound.NewSystemANormalizer(f.cfg, zaptest.NewLogger(t)).Normalize([]byte(raw))
	require.NoError(t, err)

	_, err = f.engine.ApplyEvent(ctx, models.SystemA, intents)
	require.NoError(t, err)

	for _, tc := range []struct {
		client, recipient int64
		name              string
	}{
		{1, 501, "Acme"},
		{2, 502, "Beta"},
	} {
		company, err := f.store.FindByExternalID(ctx, models.EntityCompany, models.SystemA, tc.client)
		require.NoError(t, err)
		assert.Equal(t, tc.name, company.(*entity.Company).Name)

		contact, err := f.store.FindByExternalID(ctx, models.EntityContact, models.SystemA, tc.recipient)
		require.NoError(t, err)
		assert.Equal(t, company.EntityID(), contact.(*entity.Contact).CompanyID, "recipient %d belongs to %s", tc.recipient, tc.name)
	}
}

func TestSystemAClientAttachesToBookedCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booked := &entity.Company{Name: "Acme"}
	f.seed(t, booked)
	f.seed(t, &entity.Contact{CompanyID: booked.ID, Email: "a@acme.com", LastName: "Able"})

	_, err := f.engine.ApplyEvent(ctx, models.SystemA, []inbound.Intent{{
		Source:     models.SystemA,
		EntityType: models.EntityCompany,
		Operation:  models.OpUpdate,
		ExternalID: 123,
		MatchHints: entity.NaturalKey{Email: "a@acme.com"},
		Patch:      entity.Patch{entity.FieldStatus: entity.CompanyStatusTrial},
		Defaults:   entity.Patch{entity.FieldName: "Acme Ltd"},
	}})
	require.NoError(t, err)

	got, err := f.store.GetCompany(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(123), got.SystemAID)
	assert.Equal(t, "Acme", got.Name, "defaults only apply on create")
	assert.Equal(t, entity.CompanyStatusTrial, got.Status)
}

func TestCallbookerSupportForUnseenEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := &entity.Admin{FirstName: "Ada", LastName: "Lovelace", Email: "ada@hermes.test", IsSupport: true}
	f.seed(t, admin)

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	raw := fmt.Sprintf(`{"type": "support", "admin_id": %d, "name": "new person", "email": "new@unseen.com", "meeting_dt": %q}`, admin.ID, start.Format(time.RFC3339))
	intents, err := inbound.NewCallbookerNormalizer().Normalize([]byte(raw))
	require.NoError(t, err)

	results, err := f.engine.ApplyEvent(ctx, models.SystemCallbooker, intents)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Created, r.EntityType)
		assert.NotEqual(t, models.EntityDeal, r.EntityType)
	}

	company := results[0].Entity.(*entity.Company)
	assert.True(t, company.HasBookedCall)
	deals, err := f.store.ListDeals(ctx, company.ID, "")
	require.NoError(t, err)
	assert.Empty(t, deals)

	meeting, err := f.store.GetMeeting(ctx, results[2].EntityID)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", meeting.CalendarEventID)
	assert.Equal(t, admin.ID, meeting.AdminID)
	assert.Equal(t, start.Add(30*time.Minute), *meeting.EndTime)

	require.Len(t, f.calendar.events, 1)
	assert.Equal(t, "Support meeting with Ada Lovelace", f.calendar.events[0].Summary)
	assert.Equal(t, "new@unseen.com", f.calendar.events[0].ContactEmail)

	require.Len(t, f.dispatch.calls, 1)
	call := f.dispatch.calls[0]
	assert.Equal(t, []models.System{models.SystemCRM}, call.targets)
	var kinds []models.EntityType
	for _, it := range call.items {
		kinds = append(kinds, it.Entity)
	}
	assert.Equal(t, []models.EntityType{models.EntityCompany, models.EntityContact, models.EntityMeeting}, kinds)
}

func salesBooking(adminID int64, email string, start time.Time) []byte {
	return []byte(fmt.Sprintf(`{"type": "sales", "admin_id": %d, "name": "Jane Doe", "email": %q, "country": "GB",
	  "company_name": "Doe Tutors", "estimated_income": "1000", "currency": "GBP", "price_plan": "startup",
	  "meeting_dt": %q}`, adminID, email, start.Format(time.RFC3339)))
}

func TestCallbookerSalesCreatesDealAtDefaultStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pipeline := f.seedPipeline(t, 2)
	admin := &entity.Admin{FirstName: "Ada", Email: "ada@hermes.test", IsSales: true}
	f.seed(t, admin)

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	intents, err := inbound.NewCallbookerNormalizer().Normalize(salesBooking(admin.ID, "jane@doe.com", start))
	require.NoError(t, err)

	results, err := f.engine.ApplyEvent(ctx, models.SystemCallbooker, intents)
	require.NoError(t, err)
	require.Len(t, results, 4)

	company := results[0].Entity.(*entity.Company)
	assert.Equal(t, admin.ID, company.SalesPersonID)

	deal := results[2].Entity.(*entity.Deal)
	lead, err := f.store.FindByExternalID(ctx, models.EntityStage, models.SystemCRM, 21)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ID, deal.PipelineID)
	assert.Equal(t, lead.EntityID(), deal.StageID, "new deals enter at the lowest ordered stage")
	assert.Equal(t, admin.ID, deal.AdminID)
	assert.Equal(t, "Doe Tutors", deal.Name)

	meeting, err := f.store.GetMeeting(ctx, results[3].EntityID)
	require.NoError(t, err)
	assert.Equal(t, deal.ID, meeting.DealID)
	assert.Equal(t, "Demo with Ada", f.calendar.events[0].Summary)

	// a second booking reuses the open deal
	intents, err = inbound.NewCallbookerNormalizer().Normalize(salesBooking(admin.ID, "jane@doe.com", start.Add(72*time.Hour)))
	require.NoError(t, err)
	results, err = f.engine.ApplyEvent(ctx, models.SystemCallbooker, intents)
	require.NoError(t, err)
	assert.Equal(t, deal.ID, results[2].EntityID)
	assert.False(t, results[2].Created)
}

func TestCallbookerRejectsMeetingsTooClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := &entity.Admin{FirstName: "Ada", Email: "ada@hermes.test", IsSales: true}
	f.seed(t, admin)

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	intents, err := inbound.NewCallbookerNormalizer().Normalize(salesBooking(admin.ID, "jane@doe.com", start))
	require.NoError(t, err)
	first, err := f.engine.ApplyEvent(ctx, models.SystemCallbooker, intents)
	require.NoError(t, err)
	companyID := first[0].EntityID

	intents, err = inbound.NewCallbookerNormalizer().Normalize(salesBooking(admin.ID, "jane@doe.com", start.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.engine.ApplyEvent(ctx, models.SystemCallbooker, intents)
	require.True(t, errs.IsBooking(err))
	assert.Contains(t, err.Error(), "You already have a meeting booked around this time.")

	contacts, _ := f.store.ListContacts(ctx, companyID)
	require.Len(t, contacts, 1)
	meetings, _ := f.store.ListMeetings(ctx, contacts[0].ID, start.Add(-24*time.Hour), start.Add(24*time.Hour))
	assert.Len(t, meetings, 1)
}

func TestCallbookerCalendarConflictRemovesMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.calendar.err = connectors.ErrSchedulingConflict
	admin := &entity.Admin{FirstName: "Ada", Email: "ada@hermes.test", IsSales: true}
	f.seed(t, admin)

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	intents, err := inbound.NewCallbookerNormalizer().Normalize(salesBooking(admin.ID, "jane@doe.com", start))
	require.NoError(t, err)

	_, err = f.engine.ApplyEvent(ctx, models.SystemCallbooker, intents)
	require.True(t, errs.IsBooking(err))
	assert.Contains(t, err.Error(), "Admin is not free at this time.")

	company, err := f.store.FindByNaturalKey(ctx, models.EntityCompany, entity.KeyEmail, "jane@doe.com", 0)
	require.NoError(t, err)
	require.Len(t, company, 1)
	contacts, _ := f.store.ListContacts(ctx, company[0].EntityID())
	meetings, _ := f.store.ListMeetings(ctx, contacts[0].ID, start.Add(-time.Hour), start.Add(time.Hour))
	assert.Empty(t, meetings)

	require.Len(t, f.dispatch.calls, 1)
	for _, it := range f.dispatch.calls[0].items {
		assert.NotEqual(t, models.EntityMeeting, it.Entity)
	}
}

func TestCallbookerUnknownAdmin(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	intents, err := inbound.NewCallbookerNormalizer().Normalize(salesBooking(77, "jane@doe.com", start))
	require.NoError(t, err)

	_, err = f.engine.ApplyEvent(context.Background(), models.SystemCallbooker, intents)
	require.True(t, errs.IsBooking(err))
	assert.Contains(t, err.Error(), "Admin not found.")
	assert.Empty(t, f.dispatch.calls)
}

func TestCRMDealWithUnknownStageIsLeftBlank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, &entity.Company{Name: "Acme", CRMOrgID: 555})
	pipeline := f.seedPipeline(t, 7)

	deal := func(pipelineID, stageID int64) inbound.Intent {
		return inbound.Intent{
			Source:     models.SystemCRM,
			EntityType: models.EntityDeal,
			Operation:  models.OpUpdate,
			ExternalID: 900,
			Patch:      entity.Patch{entity.FieldName: "Acme deal"},
			Refs: map[string]inbound.Ref{
				fieldmap.FieldCompany:  {System: models.SystemCRM, ExternalID: 555},
				fieldmap.FieldPipeline: {System: models.SystemCRM, ExternalID: pipelineID},
				fieldmap.FieldStage:    {System: models.SystemCRM, ExternalID: stageID},
			},
		}
	}

	res, err := f.engine.Apply(ctx, deal(7, 72))
	require.NoError(t, err)
	got, err := f.store.GetDeal(ctx, res.EntityID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ID, got.PipelineID)
	assert.NotZero(t, got.StageID)

	res, err = f.engine.Apply(ctx, deal(8, 81))
	require.NoError(t, err)
	got, err = f.store.GetDeal(ctx, res.EntityID)
	require.NoError(t, err)
	assert.Zero(t, got.PipelineID)
	assert.Zero(t, got.StageID)
	assert.Equal(t, "Acme deal", got.Name)
}

func TestConcurrentCreatesOfOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const senders = 8
	ids := make([]int64, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results, err := f.engine.ApplyEvent(ctx, models.SystemCRM, []inbound.Intent{{
				Source:     models.SystemCRM,
				EntityType: models.EntityCompany,
				Operation:  models.OpCreate,
				ExternalID: 777,
				Patch:      entity.Patch{entity.FieldName: "Acme"},
			}})
			if assert.NoError(t, err) && assert.Len(t, results, 1) {
				ids[i] = results[0].EntityID
			}
		}(i)
	}
	wg.Wait()

	companies, err := f.store.ListCompanies(ctx, entity.CompanyQuery{CRMOrgID: 777})
	require.NoError(t, err)
	require.Len(t, companies, 1)
	for _, id := range ids {
		assert.Equal(t, companies[0].ID, id)
	}
}

func TestNarcClosesOpenDeals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := &entity.Company{Name: "Acme", SystemAID: 5}
	f.seed(t, company)
	deal := &entity.Deal{CompanyID: company.ID, Name: "Acme", Status: entity.DealStatusOpen}
	f.seed(t, deal)

	_, err := f.engine.Apply(ctx, inbound.Intent{
		Source:     models.SystemA,
		EntityType: models.EntityCompany,
		Operation:  models.OpUpdate,
		ExternalID: 5,
		Patch:      entity.Patch{entity.FieldNarc: true},
	})
	require.NoError(t, err)

	got, err := f.store.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DealStatusLost, got.Status)
	assert.Contains(t, f.dispatch.calls[0].items, models.SyncItem{Entity: models.EntityDeal, ID: deal.ID})
}

func TestNewCompaniesAreSharedBetweenSalesAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := &entity.Admin{FirstName: "A", IsSales: true, SellsPAYG: true}
	b := &entity.Admin{FirstName: "B", IsSales: true, SellsPAYG: true}
	f.seed(t, a)
	f.seed(t, b)
	f.seed(t, &entity.Admin{FirstName: "Enterprise", IsSales: true, SellsEnterprise: true})
	f.seed(t, &entity.Admin{FirstName: "Support", IsSupport: true})

	var owners []int64
	for i := int64(1); i <= 3; i++ {
		res, err := f.engine.Apply(ctx, inbound.Intent{
			Source:     models.SystemCRM,
			EntityType: models.EntityCompany,
			Operation:  models.OpCreate,
			ExternalID: 100 + i,
			Patch:      entity.Patch{entity.FieldName: fmt.Sprintf("Co %d", i)},
		})
		require.NoError(t, err)
		owners = append(owners, res.Entity.(*entity.Company).SalesPersonID)
	}
	assert.Equal(t, []int64{a.ID, b.ID, a.ID}, owners)

	// a fresh engine continues the rotation from the store
	restarted := NewEngine(f.cfg, f.store, entity.NewNaturalKeyMatcher(true, nil, zaptest.NewLogger(t)), nil, f.dispatch, f.calendar, f.audit, zaptest.NewLogger(t))
	res, err := restarted.Apply(ctx, inbound.Intent{
		Source:     models.SystemCRM,
		EntityType: models.EntityCompany,
		Operation:  models.OpCreate,
		ExternalID: 200,
		Patch:      entity.Patch{entity.FieldName: "Co 4"},
	})
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.Entity.(*entity.Company).SalesPersonID)
}

func TestStageDeleteMovesDefaultStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pipeline := f.seedPipeline(t, 4)

	_, err := f.engine.Apply(ctx, inbound.Intent{Source: models.SystemCRM, EntityType: models.EntityStage, Operation: models.OpDelete, ExternalID: 41})
	require.NoError(t, err)

	demo, err := f.store.FindByExternalID(ctx, models.EntityStage, models.SystemCRM, 42)
	require.NoError(t, err)
	got, err := f.store.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, demo.EntityID(), got.DefaultStageID)
	assert.Empty(t, f.dispatch.calls, "pipelines and stages are never pushed out")
}

func TestPipelineIntentsOnlyFromCRM(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(context.Background(), inbound.Intent{Source: models.SystemA, EntityType: models.EntityPipeline, Operation: models.OpCreate, ExternalID: 1})
	assert.True(t, errs.IsMalformed(err))
}

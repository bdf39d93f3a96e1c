package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/inbound"
	"go-hermes/internal/features/reconcile"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubNormalizer struct {
	source  models.System
	intents []inbound.Intent
	err     error
	raw     []byte
}

func (n *stubNormalizer) Source() models.System { return n.source }

func (n *stubNormalizer) Normalize(raw []byte) ([]inbound.Intent, error) {
	n.raw = raw
	return n.intents, n.err
}

type fakeEngine struct {
	err     error
	eventID string
	intents []inbound.Intent
}

func (f *fakeEngine) ApplyEvent(ctx context.Context, _ models.System, intents []inbound.Intent) ([]reconcile.Result, error) {
	f.eventID, _ = ctx.Value(models.EventIDKey).(string)
	f.intents = intents
	if f.err != nil {
		return nil, f.err
	}
	results := make([]reconcile.Result, 0, len(intents))
	for i, in := range intents {
		res := reconcile.Result{EntityType: in.EntityType, Operation: in.Operation, EntityID: int64(i + 1)}
		if in.EntityType == models.EntityCompany {
			res.Entity = &entity.Company{ID: res.EntityID, SystemAID: in.ExternalID}
		}
		results = append(results, res)
	}
	return results, nil
}

type fakeClients struct {
	calls []int64
	err   error
}

func (f *fakeClients) Client(_ context.Context, id int64) (json.RawMessage, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)), nil
}

type clientNormalizer struct{}

func (clientNormalizer) NormalizeClient(raw []byte) ([]inbound.Intent, error) {
	var c struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errs.Malformed(models.SystemA, "decode client: %v", err)
	}
	return []inbound.Intent{
		{Source: models.SystemA, EntityType: models.EntityCompany, Operation: models.OpUpdate, ExternalID: c.ID},
		{Source: models.SystemA, EntityType: models.EntityContact, Operation: models.OpUpdate, ExternalID: c.ID * 10},
	}, nil
}

type memLogs struct {
	mu   sync.Mutex
	logs []WebhookLog
}

func (m *memLogs) Create(_ context.Context, log *WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memLogs) List(_ context.Context, filter LogFilter, limit int64) ([]WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WebhookLog
	for _, l := range m.logs {
		if filter.Source != "" && l.Source != filter.Source {
			continue
		}
		out = append(out, l)
	}
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixture struct {
	svc     *WebhookServiceImpl
	norm    *stubNormalizer
	booker  *stubNormalizer
	engine  *fakeEngine
	clients *fakeClients
	logs    *memLogs
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		norm:    &stubNormalizer{source: models.SystemA},
		booker:  &stubNormalizer{source: models.SystemCallbooker},
		engine:  &fakeEngine{},
		clients: &fakeClients{},
		logs:    &memLogs{},
	}
	registry := inbound.NewRegistry(f.norm, f.booker, &stubNormalizer{source: models.SystemCRM})
	f.svc = NewWebhookService(registry, f.clients, clientNormalizer{}, f.engine, f.logs, zaptest.NewLogger(t)).(*WebhookServiceImpl)
	return f
}

func TestHandleInboundEvent_AppliesIntents(t *testing.T) {
	f := newFixture(t)
	f.norm.intents = []inbound.Intent{
		{Source: models.SystemA, EntityType: models.EntityCompany, Operation: models.OpUpdate, ExternalID: 7},
	}

	ack, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, StatusOK, ack.Status)
	assert.NotEmpty(t, ack.EventID)
	assert.Equal(t, ack.EventID, f.engine.eventID)
	require.Len(t, ack.Results, 1)

	require.Len(t, f.logs.logs, 1)
	entry := f.logs.logs[0]
	assert.Equal(t, ack.EventID, entry.EventID)
	assert.Equal(t, StatusOK, entry.Status)
	assert.Equal(t, 1, entry.Intents)
	assert.Equal(t, `{}`, entry.Payload)
}

func TestHandleInboundEvent_EventIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)
	b, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestHandleInboundEvent_MalformedIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.norm.err = errs.Malformed(models.SystemA, "no events")

	ack, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, ack.Status)
	assert.Nil(t, f.engine.intents)

	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, StatusIgnored, f.logs.logs[0].Status)
	assert.Contains(t, f.logs.logs[0].Error, "no events")
}

func TestHandleInboundEvent_MalformedBookingIsReturned(t *testing.T) {
	f := newFixture(t)
	f.booker.err = errs.Malformed(models.SystemCallbooker, "admin_id and name are required")

	ack, err := f.svc.HandleInboundEvent(context.Background(), models.SystemCallbooker, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errs.IsMalformed(err))
	assert.Equal(t, StatusError, ack.Status)
}

func TestHandleInboundEvent_UnknownSourceIsIgnored(t *testing.T) {
	f := newFixture(t)
	ack, err := f.svc.HandleInboundEvent(context.Background(), models.System("fax"), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, ack.Status)
}

func TestHandleInboundEvent_RefreshFetchesClientOnce(t *testing.T) {
	f := newFixture(t)
	refresh := inbound.Intent{Source: models.SystemA, EntityType: models.EntityCompany, Operation: models.OpRefresh, ExternalID: 42}
	f.norm.intents = []inbound.Intent{refresh, refresh}

	_, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, f.clients.calls)
	require.Len(t, f.engine.intents, 2)
	assert.Equal(t, models.OpUpdate, f.engine.intents[0].Operation)
	assert.Equal(t, int64(42), f.engine.intents[0].ExternalID)
	assert.Equal(t, models.EntityContact, f.engine.intents[1].EntityType)
}

func TestHandleInboundEvent_RefreshOfMissingClientIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.clients.err = &errs.ExternalAPIError{System: models.SystemA, StatusCode: http.StatusNotFound, Op: "get client"}
	f.norm.intents = []inbound.Intent{
		{Source: models.SystemA, EntityType: models.EntityCompany, Operation: models.OpRefresh, ExternalID: 42},
	}

	ack, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, ack.Status)
	assert.Empty(t, f.engine.intents)
}

func TestHandleInboundEvent_RefreshFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	f.clients.err = &errs.ExternalAPIError{System: models.SystemA, StatusCode: http.StatusBadGateway, Op: "get client"}
	f.norm.intents = []inbound.Intent{
		{Source: models.SystemA, EntityType: models.EntityCompany, Operation: models.OpRefresh, ExternalID: 42},
	}

	ack, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, StatusError, ack.Status)
	assert.Equal(t, StatusError, f.logs.logs[0].Status)
}

func TestHandleInboundEvent_RefreshKeepsGroup(t *testing.T) {
	f := newFixture(t)
	f.norm.intents = []inbound.Intent{
		{Source: models.SystemA, EntityType: models.EntityCompany, Operation: models.OpRefresh, ExternalID: 42, Group: 3},
	}

	_, err := f.svc.HandleInboundEvent(context.Background(), models.SystemA, []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, f.engine.intents, 2)
	for _, in := range f.engine.intents {
		assert.Equal(t, 3, in.Group)
	}
}

func TestCreateCompany(t *testing.T) {
	f := newFixture(t)

	company, err := f.svc.CreateCompany(context.Background(), []byte(`{"id": 42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), company.SystemAID)
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, StatusOK, f.logs.logs[0].Status)
	assert.Equal(t, models.SystemA, f.logs.logs[0].Source)

	f.engine.err = &errs.DuplicateMatchError{Entity: models.EntityCompany, Key: "email"}
	_, err = f.svc.CreateCompany(context.Background(), []byte(`{"id": 43}`))
	assert.True(t, errs.IsDuplicateMatch(err))
	assert.Equal(t, StatusError, f.logs.logs[1].Status)
}

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	cfg := &config.Config{SkipAuth: true, SystemA: config.SystemAConfig{APIKey: "k"}}
	NewWebhookApi(NewWebhookController(f.svc), cfg).Setup(app)
	return app
}

func post(t *testing.T, app *fiber.App, path, auth, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestRoutes_SystemACallbackNeedsKey(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	code, _ := post(t, app, "/systema/callback", "", `{}`)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body := post(t, app, "/systema/callback", "token k", `{}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, StatusOK, body["status"])
}

func TestRoutes_MalformedWebhookIsOK(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	f.norm.err = errs.Malformed(models.SystemA, "bad")

	code, body := post(t, app, "/systema/callback", "Bearer k", `{}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, StatusIgnored, body["status"])
}

func TestRoutes_ConflictAsksForRetry(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	f.engine.err = &errs.ConcurrencyConflictError{Entity: models.EntityCompany, ID: "3"}

	code, body := post(t, app, "/crm/callback", "", `{}`)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Equal(t, StatusError, body["status"])
}

func TestRoutes_BookingInjectsCallType(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	code, _ := post(t, app, "/callbooker/support/book", "", `{"type":"sales","name":"Sam"}`)
	assert.Equal(t, fiber.StatusOK, code)

	var form map[string]any
	require.NoError(t, json.Unmarshal(f.booker.raw, &form))
	assert.Equal(t, inbound.CallTypeSupport, form["type"])
	assert.Equal(t, "Sam", form["name"])
}

func TestRoutes_BookingErrorsAreBadRequests(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	f.engine.err = &errs.BookingError{Reason: "slot taken"}

	code, body := post(t, app, "/callbooker/sales/book", "", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "slot taken", body["message"])

	code, _ = post(t, app, "/callbooker/sales/book", "", `not json`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestRoutes_UnexpectedErrorIsServerError(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	f.engine.err = fmt.Errorf("database gone")

	code, _ := post(t, app, "/crm/callback", "", `{}`)
	assert.Equal(t, fiber.StatusInternalServerError, code)
}

func TestRoutes_CreateCompany(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	code, _ := post(t, app, "/systema/companies/create", "", `{"id": 42}`)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body := post(t, app, "/systema/companies/create", "token k", `{"id": 42}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, StatusOK, body["status"])
	company := body["company"].(map[string]any)
	assert.EqualValues(t, 42, company["system_a_id"])

	code, _ = post(t, app, "/systema/companies/create", "token k", `not json`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
}

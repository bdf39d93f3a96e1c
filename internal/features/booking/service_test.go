package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/features/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClients struct {
	calls []int64
	err   error
}

func (f *fakeClients) Client(_ context.Context, id int64) (json.RawMessage, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(fmt.Sprintf(`{"id": %d, "name": "Fetched"}`, id)), nil
}

// storeCreator stands in for the webhook service: it saves the client as a
// company in the store.
type storeCreator struct {
	store *entity.MemoryStore
}

func (s storeCreator) CreateCompany(ctx context.Context, raw []byte) (*entity.Company, error) {
	var client struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &client); err != nil {
		return nil, err
	}
	c := &entity.Company{Name: client.Name, SystemAID: client.ID}
	return c, s.store.Upsert(ctx, c)
}

type fixture struct {
	svc     *BookingServiceImpl
	store   *entity.MemoryStore
	clients *fakeClients
	admin   *entity.Admin
	company *entity.Company
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{Booking: config.BookingConfig{
		CallBookerURL:  "https://book.test/call",
		SigningKey:     "sekrit",
		SupportLinkTTL: 96 * time.Hour,
	}}
	f := &fixture{
		store:   entity.NewMemoryStore(),
		clients: &fakeClients{},
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewBookingService(cfg, f.store, f.clients, storeCreator{f.store}, zaptest.NewLogger(t)).(*BookingServiceImpl)
	f.svc.now = func() time.Time { return f.now }

	f.admin = &entity.Admin{FirstName: "Ada", SystemAAdminID: 7, IsSupport: true}
	f.company = &entity.Company{Name: "Acme", SystemAID: 70}
	require.NoError(t, f.store.Upsert(context.Background(), f.admin))
	require.NoError(t, f.store.Upsert(context.Background(), f.company))
	return f
}

func TestSupportLinkRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.GenerateSupportLink(ctx, 7, 70)
	require.NoError(t, err)
	assert.Empty(t, f.clients.calls)
	assert.Equal(t, f.admin.ID, link.AdminID)
	assert.Equal(t, f.company.ID, link.CompanyID)
	assert.Equal(t, f.now.Add(96*time.Hour).Unix(), link.Expires)

	u, err := url.Parse(link.Link)
	require.NoError(t, err)
	assert.Equal(t, "/call/ada", u.Path)
	assert.Equal(t, link.Signature, u.Query().Get("s"))
	assert.Equal(t, fmt.Sprint(link.Expires), u.Query().Get("e"))

	company, err := f.svc.ValidateSupportLink(ctx, link.AdminID, link.CompanyID, link.Expires, link.Signature)
	require.NoError(t, err)
	assert.Equal(t, "Acme", company.Name)

	_, err = f.svc.ValidateSupportLink(ctx, link.AdminID, link.CompanyID, link.Expires+1, link.Signature)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	f.now = f.now.Add(97 * time.Hour)
	_, err = f.svc.ValidateSupportLink(ctx, link.AdminID, link.CompanyID, link.Expires, link.Signature)
	assert.ErrorIs(t, err, ErrLinkExpired)

	_, err = f.svc.ValidateSupportLink(ctx, 999, link.CompanyID, link.Expires, link.Signature)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestSupportLinkForUnknownClientFetchesIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.GenerateSupportLink(ctx, 7, 71)
	require.NoError(t, err)
	assert.Equal(t, []int64{71}, f.clients.calls)

	found, err := f.store.FindByExternalID(ctx, models.EntityCompany, models.SystemA, 71)
	require.NoError(t, err)
	assert.Equal(t, found.EntityID(), link.CompanyID)

	f.clients.err = &errs.ExternalAPIError{System: models.SystemA, StatusCode: http.StatusNotFound, Op: "get client"}
	_, err = f.svc.GenerateSupportLink(ctx, 7, 72)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = f.svc.GenerateSupportLink(ctx, 8, 70)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	cfg := &config.Config{SkipAuth: true, SystemA: config.SystemAConfig{APIKey: "k"}}
	NewBookingApi(NewBookingController(f.svc), cfg).Setup(app)
	return app
}

func get(t *testing.T, app *fiber.App, path, auth string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
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

func TestRoutes_SupportLinks(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	code, _ := get(t, app, "/callbooker/support-link/generate/systema?system_a_admin_id=7&system_a_client_id=70", "")
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body := get(t, app, "/callbooker/support-link/generate/systema?system_a_admin_id=7&system_a_client_id=70", "token k")
	require.Equal(t, fiber.StatusOK, code)
	link, err := url.Parse(body["link"].(string))
	require.NoError(t, err)

	code, body = get(t, app, "/callbooker/support-link/validate?"+link.RawQuery, "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "Acme", body["company_name"])

	tampered := strings.Replace(link.RawQuery, "s=", "s=0", 1)
	code, body = get(t, app, "/callbooker/support-link/validate?"+tampered, "")
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, "invalid signature", body["message"])

	code, _ = get(t, app, "/callbooker/support-link/validate?admin_id=1", "")
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
}

func TestRoutes_RoundRobin(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	sales := &entity.Admin{FirstName: "Sam", IsSales: true, SellsStartup: true, SellsUS: true}
	require.NoError(t, f.store.Upsert(context.Background(), sales))

	code, body := get(t, app, "/choose-roundrobin/sales?plan=startup&country_code=US", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, sales.ID, body["id"])

	code, _ = get(t, app, "/choose-roundrobin/sales?plan=payg", "")
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = get(t, app, "/choose-roundrobin/sales?plan=gold", "")
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)

	code, body = get(t, app, "/choose-roundrobin/support", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, f.admin.ID, body["id"])
}

func TestRoutes_FindCompanies(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	code, _ := get(t, app, "/api/companies", "")
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)

	code, body := get(t, app, "/api/companies?system_a_id=70", "")
	assert.Equal(t, fiber.StatusOK, code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "Acme", data[0].(map[string]any)["name"])
}

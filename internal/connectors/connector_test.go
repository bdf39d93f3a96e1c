package connectors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		SystemA: config.SystemAConfig{BaseURL: baseURL, APIKey: "secret"},
		CRM:     config.CRMConfig{BaseURL: baseURL, APIToken: "tok", RatePerSec: 100},
		Sync:    config.SyncConfig{ExternalTimeout: 5 * time.Second},
	}
}

func TestCRMCreateAndGet(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("api_token"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/organizations":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			io.WriteString(w, `{"success": true, "data": {"id": 555, "name": "Acme"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/organizations/555":
			io.WriteString(w, `{"success": true, "data": {"id": 555, "name": "Acme", "owner_id": {"id": 3, "value": 3}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCRMConnector(testConfig(srv.URL), zaptest.NewLogger(t))
	ctx := context.Background()

	id, err := c.Create(ctx, models.EntityCompany, Record{"name": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, int64(555), id)
	assert.Equal(t, "Acme", posted["name"])

	rec, err := c.Get(ctx, models.EntityCompany, 555)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec["name"])
	assert.Equal(t, int64(3), IDOf(rec["owner_id"]))
}

func TestCRMErrorsAreTyped(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, `{"success": false, "error": "nope"}`)
	}))
	defer srv.Close()

	c := NewCRMConnector(testConfig(srv.URL), zaptest.NewLogger(t))

	_, err := c.Get(context.Background(), models.EntityDeal, 1)
	apiErr, ok := errs.AsExternalAPI(err)
	require.True(t, ok)
	assert.True(t, apiErr.NotFound())
	assert.False(t, apiErr.Retryable())

	status = http.StatusServiceUnavailable
	err = c.Update(context.Background(), models.EntityDeal, 1, Record{"title": "x"})
	apiErr, ok = errs.AsExternalAPI(err)
	require.True(t, ok)
	assert.True(t, apiErr.Retryable())
}

func TestCRMSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/persons/search", r.URL.Path)
		assert.Equal(t, "a@acme.com", r.URL.Query().Get("term"))
		assert.Equal(t, "email", r.URL.Query().Get("fields"))
		io.WriteString(w, `{"success": true, "data": {"items": [{"item": {"id": 7, "organization": {"id": 555}}}]}}`)
	}))
	defer srv.Close()

	found, err := NewCRMConnector(testConfig(srv.URL), zaptest.NewLogger(t)).Search(context.Background(), models.EntityContact, "email", "a@acme.com")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(555), IDOf(found[0]["organization"]))
}

func TestCRMUnsupportedEntity(t *testing.T) {
	c := NewCRMConnector(testConfig("http://unused"), zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), models.EntityAdmin, 1)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSystemAUpdateMergesExtraAttrs(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/clients/123/":
			io.WriteString(w, `{"id": 123, "user": {"email": "o@acme.com"}, "extra_attrs": [{"machine_name": "utm_source", "value": "google"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/clients/":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			io.WriteString(w, `{"id": 123}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewSystemAConnector(testConfig(srv.URL), zaptest.NewLogger(t))
	ctx := context.Background()

	rec, err := c.Get(ctx, models.EntityCompany, 123)
	require.NoError(t, err)
	assert.Equal(t, "google", rec["extra_attrs.utm_source"])

	require.NoError(t, c.Update(ctx, models.EntityCompany, 123, Record{"extra_attrs.pipedrive_url": "https://crm/org/5"}))
	assert.Equal(t, float64(123), posted["id"])
	assert.Equal(t, map[string]any{"utm_source": "google", "pipedrive_url": "https://crm/org/5"}, posted["extra_attrs"])
	assert.Equal(t, map[string]any{"email": "o@acme.com"}, posted["user"])
}

func TestSystemAOnlyKnowsClients(t *testing.T) {
	c := NewSystemAConnector(testConfig("http://unused"), zaptest.NewLogger(t))
	_, err := c.Create(context.Background(), models.EntityCompany, Record{})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = c.Get(context.Background(), models.EntityContact, 1)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func newTestCalendar(t *testing.T, busy bool, inserted *map[string]any) *GoogleCalendar {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/freeBusy"):
			if busy {
				io.WriteString(w, `{"calendars": {"admin@hermes.test": {"busy": [{"start": "2026-03-02T14:00:00Z", "end": "2026-03-02T14:30:00Z"}]}}}`)
				return
			}
			io.WriteString(w, `{"calendars": {"admin@hermes.test": {"busy": []}}}`)
		case strings.HasSuffix(r.URL.Path, "/events"):
			require.NoError(t, json.NewDecoder(r.Body).Decode(inserted))
			io.WriteString(w, `{"id": "evt-1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return &GoogleCalendar{
		calendarID: "primary",
		opts:       []option.ClientOption{option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL + "/")},
		logger:     zaptest.NewLogger(t),
	}
}

func TestCalendarSchedule(t *testing.T) {
	var inserted map[string]any
	cal := newTestCalendar(t, false, &inserted)
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	id, err := cal.Schedule(context.Background(), CalendarEvent{
		AdminEmail:   "admin@hermes.test",
		ContactEmail: "jane@example.com",
		Summary:      "Demo with Ada",
		Start:        start,
		End:          start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	assert.Equal(t, "Demo with Ada", inserted["summary"])
	assert.Len(t, inserted["attendees"], 2)
}

func TestCalendarConflict(t *testing.T) {
	var inserted map[string]any
	cal := newTestCalendar(t, true, &inserted)
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	_, err := cal.Schedule(context.Background(), CalendarEvent{AdminEmail: "admin@hermes.test", Start: start, End: start.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrSchedulingConflict)
	assert.Nil(t, inserted)
}

func TestCalendarScheduleTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cal := &GoogleCalendar{
		calendarID: "primary",
		timeout:    50 * time.Millisecond,
		opts:       []option.ClientOption{option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL + "/")},
		logger:     zaptest.NewLogger(t),
	}
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	began := time.Now()
	_, err := cal.Schedule(context.Background(), CalendarEvent{AdminEmail: "admin@hermes.test", Start: start, End: start.Add(time.Hour)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), 5*time.Second)

	var apiErr *errs.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "freebusy", apiErr.Op)
}

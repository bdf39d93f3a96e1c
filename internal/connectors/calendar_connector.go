package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrSchedulingConflict means the admin's calendar is busy at the requested
// time.
var ErrSchedulingConflict = errors.New("admin is busy at the requested time")

// CalendarEvent is an invite on an admin's calendar.
type CalendarEvent struct {
	AdminEmail   string
	ContactEmail string
	ContactName  string
	Summary      string
	Description  string
	Start        time.Time
	End          time.Time
}

// GoogleCalendar books meetings on admins' Google calendars through a service
// account with domain-wide delegation.
type GoogleCalendar struct {
	calendarID string
	timeout    time.Duration
	jwt        *jwt.Config
	opts       []option.ClientOption
	logger     *zap.Logger
}

func NewGoogleCalendar(cfg *config.Config, logger *zap.Logger) (*GoogleCalendar, error) {
	raw, err := os.ReadFile(cfg.Calendar.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(raw, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	return &GoogleCalendar{
		calendarID: cfg.Calendar.CalendarID,
		timeout:    cfg.Sync.ExternalTimeout,
		jwt:        conf,
		logger:     logger.Named("calendar"),
	}, nil
}

// service acts as the admin so the event lands on their calendar.
func (g *GoogleCalendar) service(ctx context.Context, adminEmail string) (*calendar.Service, error) {
	opts := g.opts
	if g.jwt != nil {
		conf := *g.jwt
		conf.Subject = adminEmail
		opts = append([]option.ClientOption{option.WithHTTPClient(conf.Client(ctx))}, opts...)
	}
	return calendar.NewService(ctx, opts...)
}

// Schedule checks the admin is free for the whole slot and creates the event
// with a Meet link. It returns the calendar event id. Both calls together
// are bounded by the external timeout.
func (g *GoogleCalendar) Schedule(ctx context.Context, ev CalendarEvent) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	svc, err := g.service(ctx, ev.AdminEmail)
	if err != nil {
		return "", &errs.ExternalAPIError{System: models.SystemCalendar, Op: "connect", Err: err}
	}

	fb, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  ev.Start.UTC().Format(time.RFC3339),
		TimeMax:  ev.End.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
		Items:    []*calendar.FreeBusyRequestItem{{Id: ev.AdminEmail}},
	}).Context(ctx).Do()
	if err != nil {
		return "", calendarError("freebusy", err)
	}
	if busy, ok := fb.Calendars[ev.AdminEmail]; ok && len(busy.Busy) > 0 {
		g.logger.Info("Admin busy", zap.String("admin", ev.AdminEmail), zap.Time("start", ev.Start))
		return "", ErrSchedulingConflict
	}

	created, err := svc.Events.Insert(g.calendarID, &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		Attendees: []*calendar.EventAttendee{
			{Email: ev.AdminEmail},
			{Email: ev.ContactEmail, DisplayName: ev.ContactName},
		},
		Reminders: &calendar.EventReminders{UseDefault: true},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}).ConferenceDataVersion(1).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return "", calendarError("insert event", err)
	}

	g.logger.Info("Calendar event created", zap.String("admin", ev.AdminEmail), zap.String("event_id", created.Id))
	return created.Id, nil
}

func calendarError(op string, err error) error {
	apiErr := &errs.ExternalAPIError{System: models.SystemCalendar, Op: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr.StatusCode = gerr.Code
	}
	return apiErr
}

package inbound

import (
	"testing"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCallbookerNormalizer() *CallbookerNormalizer {
	n := NewCallbookerNormalizer()
	n.now = func() time.Time { return fixedNow }
	return n
}

func TestCallbookerSalesBooking(t *testing.T) {
	raw := `{
	  "type": "sales",
	  "admin_id": 3,
	  "bdr_person_id": 4,
	  "name": "  jane van doe ",
	  "email": "Jane@Example.com",
	  "phone": "+1 555",
	  "country": "US",
	  "company_name": "Example Tutors",
	  "website": "example.com",
	  "estimated_income": 2500,
	  "currency": "USD",
	  "price_plan": "startup",
	  "meeting_dt": "2026-03-02T15:00:00+01:00",
	  "utm_source": "google"
	}`

	intents, err := newCallbookerNormalizer().Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, intents, 4)

	company, contact, deal, meeting := intents[0], intents[1], intents[2], intents[3]

	assert.Equal(t, models.EntityCompany, company.EntityType)
	assert.Equal(t, entity.NaturalKey{Email: "jane@example.com", Phone: "+1 555", CompanyName: "Example Tutors"}, company.MatchHints)
	assert.Equal(t, entity.Patch{entity.FieldHasBookedCall: true}, company.Patch)
	assert.Equal(t, "2500", company.Defaults[entity.FieldEstimatedIncome])
	assert.Equal(t, "startup", company.Defaults[entity.FieldPricePlan])
	assert.Equal(t, Ref{LocalID: 3}, company.DefaultRefs[fieldmap.FieldOwner])
	assert.Equal(t, Ref{LocalID: 4}, company.DefaultRefs[fieldmap.FieldBDRPerson])
	assert.False(t, company.MustExist)

	assert.Equal(t, models.EntityContact, contact.EntityType)
	assert.Equal(t, "Jane", contact.Defaults[entity.FieldFirstName])
	assert.Equal(t, "Van Doe", contact.Defaults[entity.FieldLastName])
	assert.Equal(t, "Van Doe", contact.MatchHints.LastName)
	assert.True(t, contact.Refs[fieldmap.FieldCompany].FromEvent)

	assert.Equal(t, models.EntityDeal, deal.EntityType)
	assert.Equal(t, models.OpCreate, deal.Operation)

	assert.Equal(t, models.EntityMeeting, meeting.EntityType)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), meeting.Patch[entity.FieldStartTime])
	assert.Equal(t, entity.MeetingTypeSales, meeting.Patch[entity.FieldMeetingType])
	assert.Equal(t, Ref{LocalID: 3}, meeting.Refs[fieldmap.FieldAdmin])
	assert.True(t, meeting.Refs[fieldmap.FieldDeal].FromEvent)
}

func TestCallbookerSupportBooking(t *testing.T) {
	raw := `{"type": "support", "company_id": 12, "admin_id": 3, "name": "sam", "email": "SAM@x.com", "meeting_dt": "2026-03-05T09:30:00"}`

	intents, err := newCallbookerNormalizer().Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, intents, 3)

	assert.Equal(t, int64(12), intents[0].LocalID)
	assert.True(t, intents[0].MustExist)
	assert.Equal(t, "sam@x.com", intents[1].MatchHints.Email)
	assert.Equal(t, "Sam", intents[1].Defaults[entity.FieldLastName])
	assert.Equal(t, entity.MeetingTypeSupport, intents[2].Patch[entity.FieldMeetingType])
	assert.NotContains(t, intents[2].Refs, fieldmap.FieldDeal)
	for _, i := range intents {
		assert.NotEqual(t, models.EntityDeal, i.EntityType)
	}
}

func TestCallbookerSupportWithoutCompanyCreatesOne(t *testing.T) {
	raw := `{"type": "support", "admin_id": 3, "name": "New Person", "email": "new@unseen.com", "meeting_dt": "2026-03-05T09:30:00Z"}`

	intents, err := newCallbookerNormalizer().Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, intents, 3)
	assert.False(t, intents[0].MustExist)
	assert.Equal(t, "New Person", intents[0].Defaults[entity.FieldName])
}

func TestCallbookerRejects(t *testing.T) {
	tests := map[string]string{
		"past meeting":   `{"type": "support", "company_id": 1, "admin_id": 3, "name": "a", "meeting_dt": "2020-01-01T00:00:00Z"}`,
		"bad time":       `{"type": "support", "company_id": 1, "admin_id": 3, "name": "a", "meeting_dt": "tomorrow"}`,
		"no admin":       `{"type": "support", "company_id": 1, "name": "a", "meeting_dt": "2026-03-05T09:30:00Z"}`,
		"bad price plan": `{"type": "sales", "admin_id": 3, "name": "a", "email": "a@b.c", "country": "GB", "company_name": "c", "estimated_income": "1", "currency": "GBP", "price_plan": "gold", "meeting_dt": "2026-03-05T09:30:00Z"}`,
		"sales no email": `{"type": "sales", "admin_id": 3, "name": "a", "country": "GB", "company_name": "c", "estimated_income": "1", "currency": "GBP", "price_plan": "payg", "meeting_dt": "2026-03-05T09:30:00Z"}`,
		"unknown type":   `{"type": "demo", "admin_id": 3, "name": "a", "meeting_dt": "2026-03-05T09:30:00Z"}`,
	}
	n := newCallbookerNormalizer()
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize([]byte(raw))
			assert.True(t, errs.IsMalformed(err))
		})
	}
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Jane Doe", titleCase("JANE  doe"))
	assert.Equal(t, "", titleCase("   "))
}

package inbound

import (
	"testing"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSystemANormalizer(t *testing.T) *SystemANormalizer {
	n := NewSystemANormalizer(&config.Config{Sync: config.SyncConfig{DealMaxAgeDays: 90}}, zaptest.NewLogger(t))
	n.now = func() time.Time { return fixedNow }
	return n
}

const clientCreated = `{
  "_request_time": 1700000000,
  "events": [{
    "action": "create",
    "verb": "created",
    "subject": {
      "model": "Client",
      "id": 123,
      "status": "live",
      "meta_agency": {
        "id": 77,
        "name": "Acme",
        "country": "United Kingdom (GB)",
        "website": "https://acme.test",
        "status": "trial",
        "paid_invoice_count": 0,
        "created": "2026-02-20T10:00:00Z",
        "price_plan": "monthly-startup",
        "narc": false,
        "signup_questionnaire": {"how_did_you_hear": "search"}
      },
      "user": {"email": "Owner@Acme.com", "phone": "+4400", "first_name": "Olive", "last_name": "Owner"},
      "sales_person": {"id": 9},
      "associated_admin": {"id": 10},
      "bdr_person": null,
      "paid_recipients": [
        {"id": 501, "first_name": "Ann", "last_name": "Able", "email": "a@acme.com"},
        {"id": 502, "first_name": "Ben", "last_name": "Baker", "email": null}
      ],
      "extra_attrs": [
        {"machine_name": "utm_source", "value": " Google-Ads- "},
        {"machine_name": "estimated_monthly_income", "value": "-1000-"},
        {"machine_name": "utm_campaign", "value": "  "},
        {"machine_name": "unrelated", "value": "x"}
      ]
    }
  }]
}`

func TestSystemAClientProducesCompanyContactsAndDeal(t *testing.T) {
	intents, err := newSystemANormalizer(t).Normalize([]byte(clientCreated))
	require.NoError(t, err)
	require.Len(t, intents, 4)

	company := intents[0]
	assert.Equal(t, models.EntityCompany, company.EntityType)
	assert.Equal(t, models.OpUpdate, company.Operation)
	assert.Equal(t, int64(123), company.ExternalID)
	assert.Equal(t, "owner@acme.com", company.MatchHints.Email)
	assert.Equal(t, "startup", company.Patch[entity.FieldPricePlan])
	assert.Equal(t, "trial", company.Patch[entity.FieldStatus])
	assert.Equal(t, int64(77), company.Patch[entity.FieldSystemAAgencyID])
	assert.Equal(t, "google-ads", company.Patch[entity.FieldUTMSource])
	assert.Equal(t, "1000", company.Patch[entity.FieldEstimatedIncome])
	assert.NotContains(t, company.Patch, entity.FieldUTMCampaign)
	assert.JSONEq(t, `{"how_did_you_hear": "search"}`, company.Patch[entity.FieldSignupQuestionnaire].(string))
	assert.NotContains(t, company.Patch, entity.FieldName)
	assert.Equal(t, "Acme", company.Defaults[entity.FieldName])
	assert.Equal(t, "GB", company.Defaults[entity.FieldCountry])
	assert.Equal(t, Ref{System: models.SystemA, ExternalID: 9}, company.DefaultRefs[fieldmap.FieldOwner])
	assert.Equal(t, Ref{System: models.SystemA, ExternalID: 10}, company.DefaultRefs[fieldmap.FieldSupportPerson])
	assert.NotContains(t, company.DefaultRefs, fieldmap.FieldBDRPerson)

	first, second := intents[1], intents[2]
	assert.Equal(t, models.EntityContact, first.EntityType)
	assert.Equal(t, int64(501), first.ExternalID)
	assert.Empty(t, first.Patch)
	assert.Equal(t, "a@acme.com", first.Defaults[entity.FieldEmail])
	assert.Equal(t, "+4400", first.Defaults[entity.FieldPhone])
	assert.Equal(t, Ref{FromEvent: true}, first.Refs[fieldmap.FieldCompany])
	assert.Equal(t, "owner@acme.com", second.Defaults[entity.FieldEmail], "recipients without email use the user email")

	deal := intents[3]
	assert.Equal(t, models.EntityDeal, deal.EntityType)
	assert.Equal(t, models.OpCreate, deal.Operation)
	assert.True(t, deal.Refs[fieldmap.FieldCompany].FromEvent)
}

func TestSystemANoDealForOldOrPayingClients(t *testing.T) {
	n := newSystemANormalizer(t)
	n.now = func() time.Time { return fixedNow.AddDate(1, 0, 0) }

	intents, err := n.Normalize([]byte(clientCreated))
	require.NoError(t, err)
	for _, i := range intents {
		assert.NotEqual(t, models.EntityDeal, i.EntityType)
	}
}

func TestSystemAUnknownPricePlanFallsBackToPAYG(t *testing.T) {
	n := newSystemANormalizer(t)
	assert.Equal(t, entity.PricePlanPAYG, n.pricePlan("monthly-gold"))
	assert.Equal(t, entity.PricePlanEnterprise, n.pricePlan("enterprise"))
}

func TestSystemANarcClientSkipsContacts(t *testing.T) {
	raw := `{"events": [{"action": "x", "verb": "y", "subject": {
	  "model": "Client", "id": 5,
	  "meta_agency": {"id": 1, "name": "Narc Ltd", "country": "France (FR)", "status": "terminated",
	    "paid_invoice_count": 3, "created": "2020-01-01T00:00:00Z", "price_plan": "payg", "narc": true},
	  "user": {"email": "n@narc.com", "last_name": "N"},
	  "paid_recipients": [{"id": 9, "last_name": "N", "email": "n@narc.com"}]
	}}]}`

	intents, err := newSystemANormalizer(t).Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, true, intents[0].Patch[entity.FieldNarc])
}

func TestSystemADeletedClient(t *testing.T) {
	raw := `{"events": [{"action": "delete", "verb": "deleted", "subject": {"model": "Client", "id": 123, "first_name": "A", "last_name": "B"}}]}`

	intents, err := newSystemANormalizer(t).Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, models.OpDelete, intents[0].Operation)
	assert.Equal(t, int64(123), intents[0].ExternalID)
}

func TestSystemAInvoiceRelevance(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		refresh bool
	}{
		{"first paid invoice", `{"events": [{"action": "pay", "verb": "paid", "subject": {"model": "Invoice", "id": 1, "status": "paid", "client": {"id": 44, "paid_invoice_count": 1}}}]}`, true},
		{"paid without count", `{"events": [{"action": "pay", "verb": "paid", "subject": {"model": "Invoice", "id": 1, "status": "paid", "client": {"id": 44}}}]}`, true},
		{"later paid invoice", `{"events": [{"action": "pay", "verb": "paid", "subject": {"model": "Invoice", "id": 1, "status": "paid", "client": {"id": 44, "paid_invoice_count": 7}}}]}`, false},
		{"status change", `{"events": [{"action": "change_invoice_status", "verb": "changed", "subject": {"model": "Invoice", "id": 1, "status": "void", "client": {"id": 44, "paid_invoice_count": 7}}}]}`, true},
		{"edit", `{"events": [{"action": "edit", "verb": "edited", "subject": {"model": "Invoice", "id": 1, "status": "unpaid", "client": {"id": 44}}}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intents, err := newSystemANormalizer(t).Normalize([]byte(tt.raw))
			require.NoError(t, err)
			if !tt.refresh {
				assert.Empty(t, intents)
				return
			}
			require.Len(t, intents, 1)
			assert.Equal(t, models.OpRefresh, intents[0].Operation)
			assert.Equal(t, int64(44), intents[0].ExternalID)
		})
	}
}

func TestSystemAMalformed(t *testing.T) {
	n := newSystemANormalizer(t)
	for _, raw := range []string{
		`not json`,
		`{}`,
		`{"events": [{"subject": {"model": "Client"}}]}`,
		`{"events": [{"subject": {"model": "Client", "id": 3, "user": {"last_name": "x"}}}]}`,
		`{"events": [{"subject": {"model": "Invoice", "id": 3}}]}`,
	} {
		_, err := n.Normalize([]byte(raw))
		assert.True(t, errs.IsMalformed(err), raw)
	}
}

func TestSystemAOtherModelsAreIgnored(t *testing.T) {
	intents, err := newSystemANormalizer(t).Normalize([]byte(`{"events": [{"subject": {"model": "Lesson", "id": 3}}]}`))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCountryCode(t *testing.T) {
	assert.Equal(t, "GB", countryCode("United Kingdom (GB)"))
	assert.Equal(t, "FR", countryCode("FR"))
	assert.Equal(t, "", countryCode(""))
}

package inbound

import (
	"strings"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"
)

const (
	CallTypeSales   = "sales"
	CallTypeSupport = "support"
)

// callbookerRequest is the booking form. Type is set by the route the form
// was posted to.
type callbookerRequest struct {
	Type            string `json:"type"`
	AdminID         int64  `json:"admin_id"`
	BDRPersonID     int64  `json:"bdr_person_id"`
	CompanyID       int64  `json:"company_id"`
	CompanyName     string `json:"company_name"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Country         string `json:"country"`
	Website         string `json:"website"`
	EstimatedIncome any    `json:"estimated_income"`
	Currency        string `json:"currency"`
	PricePlan       string `json:"price_plan"`
	MeetingDt       string `json:"meeting_dt"`
	UTMSource       string `json:"utm_source"`
	UTMCampaign     string `json:"utm_campaign"`
}

// CallbookerNormalizer turns a booking into Company, Contact, Deal (sales
// calls only) and Meeting intents, linked to each other within the event.
type CallbookerNormalizer struct {
	now func() time.Time
}

func NewCallbookerNormalizer() *CallbookerNormalizer {
	return &CallbookerNormalizer{now: time.Now}
}

func (n *CallbookerNormalizer) Source() models.System { return models.SystemCallbooker }

func (n *CallbookerNormalizer) Normalize(raw []byte) ([]Intent, error) {
	var req callbookerRequest
	if err := decode(raw, &req); err != nil {
		return nil, errs.Malformed(models.SystemCallbooker, "decode booking: %v", err)
	}
	req.Name = titleCase(strings.TrimSpace(req.Name))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.Country = strings.TrimSpace(req.Country)
	req.Website = strings.TrimSpace(req.Website)
	req.Phone = strings.TrimSpace(req.Phone)

	start, err := n.meetingTime(req.MeetingDt)
	if err != nil {
		return nil, err
	}
	if req.AdminID == 0 || req.Name == "" {
		return nil, errs.Malformed(models.SystemCallbooker, "admin_id and name are required")
	}

	switch req.Type {
	case CallTypeSales:
		return n.sales(&req, start)
	case CallTypeSupport:
		return n.support(&req, start)
	}
	return nil, errs.Malformed(models.SystemCallbooker, "unknown call type %q", req.Type)
}

func (n *CallbookerNormalizer) sales(req *callbookerRequest, start time.Time) ([]Intent, error) {
	income := stringValue(req.EstimatedIncome)
	switch {
	case req.Email == "", req.Country == "", req.CompanyName == "", req.Currency == "", income == "":
		return nil, errs.Malformed(models.SystemCallbooker, "email, country, company_name, currency and estimated_income are required")
	}
	plan := entity.PricePlan(req.PricePlan)
	switch plan {
	case entity.PricePlanPAYG, entity.PricePlanStartup, entity.PricePlanEnterprise:
	default:
		return nil, errs.Malformed(models.SystemCallbooker, "price_plan must be one of payg, startup, enterprise")
	}

	company := Intent{
		Source:     models.SystemCallbooker,
		EntityType: models.EntityCompany,
		Operation:  models.OpUpdate,
		LocalID:    req.CompanyID,
		MatchHints: entity.NaturalKey{Email: req.Email, Phone: req.Phone, CompanyName: req.CompanyName},
		Patch:      entity.Patch{entity.FieldHasBookedCall: true},
		Defaults: entity.Patch{
			entity.FieldName:            truncate(req.CompanyName, 255),
			entity.FieldCountry:         req.Country,
			entity.FieldWebsite:         truncate(req.Website, 255),
			entity.FieldEstimatedIncome: income,
			entity.FieldCurrency:        req.Currency,
			entity.FieldPricePlan:       string(plan),
			entity.FieldUTMSource:       truncate(req.UTMSource, 255),
			entity.FieldUTMCampaign:     truncate(req.UTMCampaign, 255),
		},
	}
	company.setDefaultRef(fieldmap.FieldOwner, Ref{LocalID: req.AdminID})
	company.setDefaultRef(fieldmap.FieldBDRPerson, Ref{LocalID: req.BDRPersonID})

	return []Intent{
		company,
		n.contact(req, true),
		{
			Source:     models.SystemCallbooker,
			EntityType: models.EntityDeal,
			Operation:  models.OpCreate,
			Refs: map[string]Ref{
				fieldmap.FieldCompany: {FromEvent: true},
				fieldmap.FieldContact: {FromEvent: true},
			},
		},
		n.meeting(req, start, entity.MeetingTypeSales),
	}, nil
}

// support calls normally come from existing customers. A given company_id
// must exist; without one the company is matched or created like a sales
// booking.
func (n *CallbookerNormalizer) support(req *callbookerRequest, start time.Time) ([]Intent, error) {
	if req.CompanyID == 0 && req.Email == "" {
		return nil, errs.Malformed(models.SystemCallbooker, "company_id or email is required")
	}
	name := req.CompanyName
	if name == "" {
		name = req.Name
	}
	company := Intent{
		Source:     models.SystemCallbooker,
		EntityType: models.EntityCompany,
		Operation:  models.OpUpdate,
		LocalID:    req.CompanyID,
		MustExist:  req.CompanyID != 0,
		MatchHints: entity.NaturalKey{Email: req.Email, Phone: req.Phone, CompanyName: req.CompanyName},
		Patch:      entity.Patch{entity.FieldHasBookedCall: true},
		Defaults: entity.Patch{
			entity.FieldName:    truncate(name, 255),
			entity.FieldCountry: req.Country,
		},
	}
	return []Intent{
		company,
		n.contact(req, false),
		n.meeting(req, start, entity.MeetingTypeSupport),
	}, nil
}

func (n *CallbookerNormalizer) contact(req *callbookerRequest, sales bool) Intent {
	first, last := entity.SplitName(req.Name)
	defaults := entity.Patch{
		entity.FieldFirstName: truncate(first, 255),
		entity.FieldLastName:  truncate(last, 255),
		entity.FieldEmail:     truncate(req.Email, 255),
	}
	if sales {
		defaults[entity.FieldPhone] = truncate(req.Phone, 255)
		defaults[entity.FieldCountry] = req.Country
	}
	hints := entity.NaturalKey{Email: req.Email, LastName: last}
	if sales {
		hints.Phone = req.Phone
	}
	return Intent{
		Source:     models.SystemCallbooker,
		EntityType: models.EntityContact,
		Operation:  models.OpUpdate,
		MatchHints: hints,
		Defaults:   defaults,
		Refs:       map[string]Ref{fieldmap.FieldCompany: {FromEvent: true}},
	}
}

func (n *CallbookerNormalizer) meeting(req *callbookerRequest, start time.Time, meetingType string) Intent {
	refs := map[string]Ref{
		fieldmap.FieldContact: {FromEvent: true},
		fieldmap.FieldAdmin:   {LocalID: req.AdminID},
	}
	if meetingType == entity.MeetingTypeSales {
		refs[fieldmap.FieldDeal] = Ref{FromEvent: true}
	}
	return Intent{
		Source:     models.SystemCallbooker,
		EntityType: models.EntityMeeting,
		Operation:  models.OpCreate,
		Patch: entity.Patch{
			entity.FieldStartTime:   start,
			entity.FieldMeetingType: meetingType,
			entity.FieldStatus:      entity.MeetingStatusPlanned,
		},
		Refs: refs,
	}
}

// meetingTime parses meeting_dt as UTC. Times without a zone are taken to be
// UTC already. The meeting must be in the future.
func (n *CallbookerNormalizer) meetingTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errs.Malformed(models.SystemCallbooker, "meeting_dt is required")
	}
	var (
		t   time.Time
		err error
	)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err = time.Parse(layout, raw); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, errs.Malformed(models.SystemCallbooker, "meeting_dt %q is not a valid time", raw)
	}
	t = t.UTC()
	if !t.After(n.now()) {
		return time.Time{}, errs.Malformed(models.SystemCallbooker, "meeting_dt must be in the future")
	}
	return t, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

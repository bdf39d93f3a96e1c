package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-hermes/internal/common/models"
)

// Logical field names shared by normalizers, the field mapping table and the
// outbound payload builders.
const (
	FieldName                = "name"
	FieldStatus              = "status"
	FieldPricePlan           = "price_plan"
	FieldCountry             = "country"
	FieldWebsite             = "website"
	FieldPaidInvoiceCount    = "paid_invoice_count"
	FieldEstimatedIncome     = "estimated_income"
	FieldCurrency            = "currency"
	FieldHasBookedCall       = "has_booked_call"
	FieldNarc                = "narc"
	FieldUTMSource           = "utm_source"
	FieldUTMCampaign         = "utm_campaign"
	FieldGclid               = "gclid"
	FieldSignupQuestionnaire = "signup_questionnaire"
	FieldPay0At              = "pay0_dt"
	FieldPay1At              = "pay1_dt"
	FieldPay3At              = "pay3_dt"
	FieldCardSavedAt         = "card_saved_dt"
	FieldEmailConfirmedAt    = "email_confirmed_dt"
	FieldGclidExpiryAt       = "gclid_expiry_dt"
	FieldSystemAAgencyID     = "system_a_agency_id"

	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldEmail     = "email"
	FieldPhone     = "phone"

	FieldStartTime   = "start_time"
	FieldEndTime     = "end_time"
	FieldMeetingType = "meeting_type"

	FieldOrderIndex = "order_index"
)

// Patch maps logical field names to new values. Fields absent from a patch are
// never touched.
type Patch map[string]any

func (p Patch) Has(field string) bool {
	_, ok := p[field]
	return ok
}

// Patchable entities accept partial updates and expose their logical view.
type Patchable interface {
	Entity
	ApplyPatch(p Patch) error
	Attributes() map[string]any
}

// Merge applies p onto e if e supports patches.
func Merge(e Entity, p Patch) error {
	if len(p) == 0 {
		return nil
	}
	pe, ok := e.(Patchable)
	if !ok {
		return fmt.Errorf("%s does not accept attribute patches", e.Type())
	}
	return pe.ApplyPatch(p)
}

// Accepts reports whether entities of type t store the logical field.
func Accepts(t models.EntityType, field string) bool {
	e, ok := New(t).(Patchable)
	if !ok {
		return false
	}
	_, ok = e.Attributes()[field]
	return ok
}

func (c *Company) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case FieldName:
			c.Name, err = toString(v)
		case FieldStatus:
			c.Status, err = toString(v)
		case FieldPricePlan:
			var s string
			s, err = toString(v)
			c.PricePlan = PricePlan(strings.ToLower(s))
		case FieldCountry:
			c.Country, err = toString(v)
		case FieldWebsite:
			c.Website, err = toString(v)
		case FieldPaidInvoiceCount:
			c.PaidInvoiceCount, err = toInt(v)
		case FieldEstimatedIncome:
			c.EstimatedIncome, err = toString(v)
		case FieldCurrency:
			c.Currency, err = toString(v)
		case FieldHasBookedCall:
			c.HasBookedCall, err = toBool(v)
		case FieldNarc:
			c.Narc, err = toBool(v)
		case FieldUTMSource:
			c.UTMSource, err = toString(v)
		case FieldUTMCampaign:
			c.UTMCampaign, err = toString(v)
		case FieldGclid:
			c.Gclid, err = toString(v)
		case FieldSignupQuestionnaire:
			c.SignupQuestionnaire, err = toString(v)
		case FieldPay0At:
			c.Pay0At, err = toTime(v)
		case FieldPay1At:
			c.Pay1At, err = toTime(v)
		case FieldPay3At:
			c.Pay3At, err = toTime(v)
		case FieldCardSavedAt:
			c.CardSavedAt, err = toTime(v)
		case FieldEmailConfirmedAt:
			c.EmailConfirmedAt, err = toTime(v)
		case FieldGclidExpiryAt:
			c.GclidExpiryAt, err = toTime(v)
		case FieldSystemAAgencyID:
			var id int
			id, err = toInt(v)
			c.SystemAAgencyID = int64(id)
		default:
			return fmt.Errorf("company: unknown field %q", field)
		}
		if err != nil {
			return fmt.Errorf("company.%s: %w", field, err)
		}
	}
	return nil
}

func (c *Company) Attributes() map[string]any {
	return map[string]any{
		FieldName:                c.Name,
		FieldStatus:              c.Status,
		FieldPricePlan:           string(c.PricePlan),
		FieldCountry:             c.Country,
		FieldWebsite:             c.Website,
		FieldPaidInvoiceCount:    c.PaidInvoiceCount,
		FieldEstimatedIncome:     c.EstimatedIncome,
		FieldCurrency:            c.Currency,
		FieldHasBookedCall:       c.HasBookedCall,
		FieldNarc:                c.Narc,
		FieldUTMSource:           c.UTMSource,
		FieldUTMCampaign:         c.UTMCampaign,
		FieldGclid:               c.Gclid,
		FieldSignupQuestionnaire: c.SignupQuestionnaire,
		FieldPay0At:              c.Pay0At,
		FieldPay1At:              c.Pay1At,
		FieldPay3At:              c.Pay3At,
		FieldCardSavedAt:         c.CardSavedAt,
		FieldEmailConfirmedAt:    c.EmailConfirmedAt,
		FieldGclidExpiryAt:       c.GclidExpiryAt,
		FieldSystemAAgencyID:     c.SystemAAgencyID,
	}
}

func (c *Contact) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case FieldFirstName:
			c.FirstName, err = toString(v)
		case FieldLastName:
			c.LastName, err = toString(v)
		case FieldEmail:
			c.Email, err = toString(v)
		case FieldPhone:
			c.Phone, err = toString(v)
		case FieldCountry:
			c.Country, err = toString(v)
		case FieldName:
			// explicit first/last names in the same patch win
			var full string
			if full, err = toString(v); err == nil && !p.Has(FieldFirstName) && !p.Has(FieldLastName) {
				c.FirstName, c.LastName = SplitName(full)
			}
		default:
			return fmt.Errorf("contact: unknown field %q", field)
		}
		if err != nil {
			return fmt.Errorf("contact.%s: %w", field, err)
		}
	}
	return nil
}

func (c *Contact) Attributes() map[string]any {
	return map[string]any{
		FieldFirstName: c.FirstName,
		FieldLastName:  c.LastName,
		FieldName:      c.Name(),
		FieldEmail:     c.Email,
		FieldPhone:     c.Phone,
		FieldCountry:   c.Country,
	}
}

func (d *Deal) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case FieldName:
			d.Name, err = toString(v)
		case FieldStatus:
			d.Status, err = toString(v)
		default:
			return fmt.Errorf("deal: unknown field %q", field)
		}
		if err != nil {
			return fmt.Errorf("deal.%s: %w", field, err)
		}
	}
	return nil
}

func (d *Deal) Attributes() map[string]any {
	return map[string]any{
		FieldName:   d.Name,
		FieldStatus: d.Status,
	}
}

func (m *Meeting) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case FieldStartTime:
			m.StartTime, err = toTime(v)
		case FieldEndTime:
			m.EndTime, err = toTime(v)
		case FieldStatus:
			m.Status, err = toString(v)
		case FieldMeetingType:
			m.MeetingType, err = toString(v)
		default:
			return fmt.Errorf("meeting: unknown field %q", field)
		}
		if err != nil {
			return fmt.Errorf("meeting.%s: %w", field, err)
		}
	}
	return nil
}

func (m *Meeting) Attributes() map[string]any {
	return map[string]any{
		FieldStartTime:   m.StartTime,
		FieldEndTime:     m.EndTime,
		FieldStatus:      m.Status,
		FieldMeetingType: m.MeetingType,
	}
}

func (p *Pipeline) ApplyPatch(patch Patch) error {
	for field, v := range patch {
		var err error
		switch field {
		case FieldName:
			p.Name, err = toString(v)
		default:
			return fmt.Errorf("pipeline: unknown field %q", field)
		}
		if err != nil {
			return fmt.Errorf("pipeline.%s: %w", field, err)
		}
	}
	return nil
}

func (p *Pipeline) Attributes() map[string]any {
	return map[string]any{FieldName: p.Name}
}

func (s *Stage) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case FieldName:
			s.Name, err = toString(v)
		case FieldOrderIndex:
			s.OrderIndex, err = toInt(v)
		default:
			return fmt.Errorf("stage: unknown field %q", field)
		}
		if err != nil {
			return fmt.Errorf("stage.%s: %w", field, err)
		}
	}
	return nil
}

func (s *Stage) Attributes() map[string]any {
	return map[string]any{FieldName: s.Name, FieldOrderIndex: s.OrderIndex}
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("cannot use %T as string", v)
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case json.Number:
		i, err := t.Int64()
		return int(i), err
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.Atoi(t)
	}
	return 0, fmt.Errorf("cannot use %T as int", v)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(t) {
		case "", "no", "false", "0":
			return false, nil
		case "yes", "true", "1":
			return true, nil
		}
	}
	return false, fmt.Errorf("cannot use %v as bool", v)
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func toTime(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		return t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed, nil
			}
		}
		return nil, fmt.Errorf("unparseable time %q", t)
	}
	return nil, fmt.Errorf("cannot use %T as time", v)
}

package inbound

import (
	"encoding/json"
	"strings"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"

	"go.uber.org/zap"
)

type systemAWebhook struct {
	Events      []systemAEvent `json:"events"`
	RequestTime int64          `json:"_request_time"`
}

type systemAEvent struct {
	Action  string          `json:"action"`
	Verb    string          `json:"verb"`
	Subject json.RawMessage `json:"subject"`
}

type systemASubject struct {
	Model string `json:"model"`
	ID    int64  `json:"id"`
}

// adminID accepts an admin as a bare id or as a nested {"id": ...} object.
type adminID int64

func (a *adminID) UnmarshalJSON(b []byte) error {
	var v any
	if err := decode(b, &v); err != nil {
		return err
	}
	id, _ := intValue(v)
	*a = adminID(id)
	return nil
}

type systemAAgency struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Country             string          `json:"country"`
	Website             string          `json:"website"`
	Status              string          `json:"status"`
	PaidInvoiceCount    int             `json:"paid_invoice_count"`
	Created             time.Time       `json:"created"`
	PricePlan           string          `json:"price_plan"`
	Narc                bool            `json:"narc"`
	SignupQuestionnaire json.RawMessage `json:"signup_questionnaire"`
	Pay0At              *time.Time      `json:"pay0_dt"`
	Pay1At              *time.Time      `json:"pay1_dt"`
	Pay3At              *time.Time      `json:"pay3_dt"`
	CardSavedAt         *time.Time      `json:"card_saved_dt"`
	EmailConfirmedAt    *time.Time      `json:"email_confirmed_dt"`
	Gclid               string          `json:"gclid"`
	GclidExpiryAt       *time.Time      `json:"gclid_expiry_dt"`
}

type systemARecipient struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type systemAUser struct {
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type systemAExtraAttr struct {
	MachineName string `json:"machine_name"`
	Value       string `json:"value"`
}

type systemAClient struct {
	ID         int64          `json:"id"`
	MetaAgency *systemAAgency `json:"meta_agency"`
	User       *systemAUser   `json:"user"`
	Status     string         `json:"status"`
	LastName   string         `json:"last_name"`

	SalesPerson       adminID `json:"sales_person"`
	SalesPersonID     adminID `json:"sales_person_id"`
	AssociatedAdmin   adminID `json:"associated_admin"`
	AssociatedAdminID adminID `json:"associated_admin_id"`
	BDRPerson         adminID `json:"bdr_person"`
	BDRPersonID       adminID `json:"bdr_person_id"`

	PaidRecipients []systemARecipient `json:"paid_recipients"`
	ExtraAttrs     []systemAExtraAttr `json:"extra_attrs"`
}

type systemAInvoice struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Client *struct {
		ID               int64 `json:"id"`
		PaidInvoiceCount *int  `json:"paid_invoice_count"`
	} `json:"client"`
}

// extraAttrNames maps System A extra attribute machine names to logical
// company fields.
var extraAttrNames = map[string]string{
	"utm_source":               entity.FieldUTMSource,
	"utm_campaign":             entity.FieldUTMCampaign,
	"estimated_monthly_income": entity.FieldEstimatedIncome,
}

// SystemANormalizer reads System A webhook envelopes. Client subjects become a
// Company intent, one Contact intent per paid recipient and, for fresh
// sign-ups, a Deal intent.
type SystemANormalizer struct {
	maxDealAge time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func NewSystemANormalizer(cfg *config.Config, logger *zap.Logger) *SystemANormalizer {
	return &SystemANormalizer{
		maxDealAge: time.Duration(cfg.Sync.DealMaxAgeDays) * 24 * time.Hour,
		now:        time.Now,
		logger:     logger.Named("inbound.systemA"),
	}
}

func (n *SystemANormalizer) Source() models.System { return models.SystemA }

func (n *SystemANormalizer) Normalize(raw []byte) ([]Intent, error) {
	var hook systemAWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return nil, errs.Malformed(models.SystemA, "decode webhook: %v", err)
	}
	if hook.Events == nil {
		return nil, errs.Malformed(models.SystemA, "no events")
	}

	var intents []Intent
	for i, ev := range hook.Events {
		var subject systemASubject
		if err := json.Unmarshal(ev.Subject, &subject); err != nil || subject.ID == 0 {
			return nil, errs.Malformed(models.SystemA, "event %d: subject without id", i)
		}

		switch subject.Model {
		case "Client":
			out, err := n.NormalizeClient(ev.Subject)
			if err != nil {
				return nil, err
			}
			intents = append(intents, inGroup(out, i)...)
		case "Invoice":
			out, err := n.invoice(ev, ev.Subject)
			if err != nil {
				return nil, err
			}
			intents = append(intents, inGroup(out, i)...)
		default:
			n.logger.Info("Ignoring event", zap.String("model", subject.Model), zap.Int64("id", subject.ID))
		}
	}
	return intents, nil
}

// NormalizeClient turns one client record, from a webhook or fetched from the
// API, into intents.
func (n *SystemANormalizer) NormalizeClient(raw []byte) ([]Intent, error) {
	var c systemAClient
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errs.Malformed(models.SystemA, "decode client: %v", err)
	}
	if c.ID == 0 {
		return nil, errs.Malformed(models.SystemA, "client without id")
	}

	if c.MetaAgency == nil || c.User == nil {
		// deleted clients arrive as a bare role: id and names only
		if c.MetaAgency == nil && c.User == nil && c.LastName != "" {
			return []Intent{{
				Source:     models.SystemA,
				EntityType: models.EntityCompany,
				Operation:  models.OpDelete,
				ExternalID: c.ID,
			}}, nil
		}
		return nil, errs.Malformed(models.SystemA, "client %d: meta_agency and user are required", c.ID)
	}
	ag := c.MetaAgency
	if ag.Name == "" || ag.Status == "" {
		return nil, errs.Malformed(models.SystemA, "client %d: agency name and status are required", c.ID)
	}

	userEmail := strings.ToLower(strings.TrimSpace(c.User.Email))
	if userEmail == "" {
		for _, r := range c.PaidRecipients {
			if r.Email != "" {
				userEmail = strings.ToLower(strings.TrimSpace(r.Email))
				break
			}
		}
	}

	company := Intent{
		Source:     models.SystemA,
		EntityType: models.EntityCompany,
		Operation:  models.OpUpdate,
		ExternalID: c.ID,
		MatchHints: entity.NaturalKey{Email: userEmail},
		// existing companies only take the fields System A owns
		Patch: entity.Patch{
			entity.FieldStatus:              ag.Status,
			entity.FieldPricePlan:           string(n.pricePlan(ag.PricePlan)),
			entity.FieldPaidInvoiceCount:    ag.PaidInvoiceCount,
			entity.FieldNarc:                ag.Narc,
			entity.FieldGclid:               ag.Gclid,
			entity.FieldSignupQuestionnaire: questionnaire(ag.SignupQuestionnaire),
			entity.FieldPay0At:              ag.Pay0At,
			entity.FieldPay1At:              ag.Pay1At,
			entity.FieldPay3At:              ag.Pay3At,
			entity.FieldCardSavedAt:         ag.CardSavedAt,
			entity.FieldEmailConfirmedAt:    ag.EmailConfirmedAt,
			entity.FieldGclidExpiryAt:       ag.GclidExpiryAt,
			entity.FieldSystemAAgencyID:     ag.ID,
		},
		Defaults: entity.Patch{
			entity.FieldName:    truncate(ag.Name, 255),
			entity.FieldCountry: countryCode(ag.Country),
			entity.FieldWebsite: truncate(ag.Website, 255),
		},
	}
	for field, value := range c.extraAttrs() {
		company.Patch[field] = value
	}
	company.setDefaultRef(fieldmap.FieldOwner, Ref{System: models.SystemA, ExternalID: firstNonZero(c.SalesPerson, c.SalesPersonID)})
	company.setDefaultRef(fieldmap.FieldSupportPerson, Ref{System: models.SystemA, ExternalID: firstNonZero(c.AssociatedAdmin, c.AssociatedAdminID)})
	company.setDefaultRef(fieldmap.FieldBDRPerson, Ref{System: models.SystemA, ExternalID: firstNonZero(c.BDRPerson, c.BDRPersonID)})

	intents := []Intent{company}
	if ag.Narc {
		return intents, nil
	}

	country := countryCode(ag.Country)
	for _, r := range c.PaidRecipients {
		if r.ID == 0 {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email == "" {
			email = userEmail
		}
		intents = append(intents, Intent{
			Source:     models.SystemA,
			EntityType: models.EntityContact,
			Operation:  models.OpUpdate,
			ExternalID: r.ID,
			MatchHints: entity.NaturalKey{Email: email},
			// recipients never overwrite a contact that already exists
			Defaults: entity.Patch{
				entity.FieldFirstName: truncate(r.FirstName, 255),
				entity.FieldLastName:  truncate(r.LastName, 255),
				entity.FieldEmail:     truncate(email, 255),
				entity.FieldPhone:     truncate(c.User.Phone, 255),
				entity.FieldCountry:   country,
			},
			Refs: map[string]Ref{fieldmap.FieldCompany: {FromEvent: true}},
		})
	}

	if n.wantsDeal(&c) {
		intents = append(intents, Intent{
			Source:     models.SystemA,
			EntityType: models.EntityDeal,
			Operation:  models.OpCreate,
			Refs: map[string]Ref{
				fieldmap.FieldCompany: {FromEvent: true},
				fieldmap.FieldContact: {FromEvent: true},
			},
		})
	}
	return intents, nil
}

// wantsDeal holds for recent sign-ups that have not paid yet and have a sales
// person.
func (n *SystemANormalizer) wantsDeal(c *systemAClient) bool {
	ag := c.MetaAgency
	switch ag.Status {
	case entity.CompanyStatusPendingEmailConf, entity.CompanyStatusTrial:
	default:
		return false
	}
	return ag.Created.After(n.now().Add(-n.maxDealAge)) &&
		ag.PaidInvoiceCount == 0 &&
		firstNonZero(c.SalesPerson, c.SalesPersonID) != 0
}

// invoice asks for a refresh of the invoice's client when the invoice moves
// the client's sales state: the first paid invoice or a status change.
func (n *SystemANormalizer) invoice(ev systemAEvent, raw []byte) ([]Intent, error) {
	var inv systemAInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, errs.Malformed(models.SystemA, "decode invoice: %v", err)
	}
	if inv.Client == nil || inv.Client.ID == 0 {
		return nil, errs.Malformed(models.SystemA, "invoice %d without client", inv.ID)
	}

	firstPaid := inv.Status == "paid" && (inv.Client.PaidInvoiceCount == nil || *inv.Client.PaidInvoiceCount <= 1)
	statusChange := strings.Contains(ev.Action, "status") || strings.Contains(ev.Verb, "status")
	if !firstPaid && !statusChange {
		n.logger.Debug("Invoice not sales relevant", zap.Int64("invoice", inv.ID), zap.String("action", ev.Action))
		return nil, nil
	}
	return []Intent{{
		Source:     models.SystemA,
		EntityType: models.EntityCompany,
		Operation:  models.OpRefresh,
		ExternalID: inv.Client.ID,
	}}, nil
}

// pricePlan reads plans such as "monthly-payg"; anything unknown is PAYG.
func (n *SystemANormalizer) pricePlan(raw string) entity.PricePlan {
	plan := raw
	if i := strings.LastIndexByte(raw, '-'); i >= 0 {
		plan = raw[i+1:]
	}
	if p, ok := entity.ParsePricePlan(plan); ok {
		return p
	}
	n.logger.Warn("Invalid price plan", zap.String("price_plan", raw))
	return entity.PricePlanPAYG
}

func (c *systemAClient) extraAttrs() map[string]string {
	out := make(map[string]string)
	for _, a := range c.ExtraAttrs {
		field, ok := extraAttrNames[a.MachineName]
		if !ok {
			continue
		}
		v := strings.TrimSpace(a.Value)
		v = strings.Trim(strings.ToLower(v), "-")
		if v == "" {
			continue
		}
		out[field] = v
	}
	return out
}

// countryCode turns "United Kingdom (GB)" into "GB".
func countryCode(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[len(fields)-1], "()")
}

func questionnaire(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func firstNonZero(ids ...adminID) int64 {
	for _, id := range ids {
		if id != 0 {
			return int64(id)
		}
	}
	return 0
}

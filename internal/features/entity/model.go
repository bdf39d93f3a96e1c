package entity

import (
	"errors"
	"strings"
	"time"

	"go-hermes/internal/common/models"
)

var ErrNotFound = errors.New("entity not found")

// Entity is implemented by every locally stored record.
type Entity interface {
	EntityID() int64
	Type() models.EntityType
	// ExternalID returns the id of the record in system, 0 when unknown.
	ExternalID(system models.System) int64
	SetExternalID(system models.System, id int64)
}

type PricePlan string

const (
	PricePlanPAYG       PricePlan = "payg"
	PricePlanStartup    PricePlan = "startup"
	PricePlanEnterprise PricePlan = "enterprise"
)

const (
	CompanyStatusPendingEmailConf = "pending_email_conf"
	CompanyStatusTrial            = "trial"
	CompanyStatusPaying           = "active"
	CompanyStatusTerminated       = "terminated"

	DealStatusOpen    = "open"
	DealStatusWon     = "won"
	DealStatusLost    = "lost"
	DealStatusDeleted = "deleted"

	MeetingStatusPlanned  = "PLANNED"
	MeetingStatusCanceled = "CANCELED"

	MeetingTypeSales   = "sales"
	MeetingTypeSupport = "support"
)

// Company is a business. System A calls it a Cligency, the CRM an Organization.
type Company struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	SystemAID       int64 `json:"system_a_id,omitempty"`
	SystemAAgencyID int64 `json:"system_a_agency_id,omitempty"`
	CRMOrgID        int64 `json:"crm_org_id,omitempty"`

	Name      string    `json:"name"`
	Status    string    `json:"status"`
	PricePlan PricePlan `json:"price_plan"`
	Country   string    `json:"country,omitempty"`
	Website   string    `json:"website,omitempty"`

	SalesPersonID   int64 `json:"sales_person_id,omitempty"`
	SupportPersonID int64 `json:"support_person_id,omitempty"`
	BDRPersonID     int64 `json:"bdr_person_id,omitempty"`

	PaidInvoiceCount    int    `json:"paid_invoice_count"`
	EstimatedIncome     string `json:"estimated_income,omitempty"`
	Currency            string `json:"currency,omitempty"`
	HasBookedCall       bool   `json:"has_booked_call"`
	Narc                bool   `json:"narc"`
	UTMSource           string `json:"utm_source,omitempty"`
	UTMCampaign         string `json:"utm_campaign,omitempty"`
	Gclid               string `json:"gclid,omitempty"`
	SignupQuestionnaire string `json:"signup_questionnaire,omitempty"`

	Pay0At           *time.Time `json:"pay0_dt,omitempty"`
	Pay1At           *time.Time `json:"pay1_dt,omitempty"`
	Pay3At           *time.Time `json:"pay3_dt,omitempty"`
	CardSavedAt      *time.Time `json:"card_saved_dt,omitempty"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_dt,omitempty"`
	GclidExpiryAt    *time.Time `json:"gclid_expiry_dt,omitempty"`
}

func (c *Company) EntityID() int64         { return c.ID }
func (c *Company) Type() models.EntityType { return models.EntityCompany }

func (c *Company) ExternalID(system models.System) int64 {
	switch system {
	case models.SystemA:
		return c.SystemAID
	case models.SystemCRM:
		return c.CRMOrgID
	}
	return 0
}

func (c *Company) SetExternalID(system models.System, id int64) {
	switch system {
	case models.SystemA:
		c.SystemAID = id
	case models.SystemCRM:
		c.CRMOrgID = id
	}
}

// Contact is an individual at a Company. System A: SR, CRM: Person.
type Contact struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CompanyID int64     `json:"company_id"`

	SystemASRID int64 `json:"system_a_sr_id,omitempty"`
	CRMPersonID int64 `json:"crm_person_id,omitempty"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Country   string `json:"country,omitempty"`
}

func (c *Contact) EntityID() int64         { return c.ID }
func (c *Contact) Type() models.EntityType { return models.EntityContact }

func (c *Contact) ExternalID(system models.System) int64 {
	switch system {
	case models.SystemA:
		return c.SystemASRID
	case models.SystemCRM:
		return c.CRMPersonID
	}
	return 0
}

func (c *Contact) SetExternalID(system models.System, id int64) {
	switch system {
	case models.SystemA:
		c.SystemASRID = id
	case models.SystemCRM:
		c.CRMPersonID = id
	}
}

func (c *Contact) Name() string {
	if c.FirstName == "" {
		return c.LastName
	}
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// SplitName splits a full name on the first space. A single word is a last
// name.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i], strings.TrimSpace(full[i+1:])
	}
	return "", full
}

// Deal is a sales opportunity mirrored from the CRM.
type Deal struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CompanyID int64     `json:"company_id"`
	ContactID int64     `json:"contact_id,omitempty"`
	AdminID   int64     `json:"admin_id,omitempty"`

	PipelineID int64 `json:"pipeline_id,omitempty"`
	StageID    int64 `json:"stage_id,omitempty"`

	CRMDealID int64 `json:"crm_deal_id,omitempty"`

	Name   string `json:"name"`
	Status string `json:"status"`
}

func (d *Deal) EntityID() int64         { return d.ID }
func (d *Deal) Type() models.EntityType { return models.EntityDeal }

func (d *Deal) ExternalID(system models.System) int64 {
	if system == models.SystemCRM {
		return d.CRMDealID
	}
	return 0
}

func (d *Deal) SetExternalID(system models.System, id int64) {
	if system == models.SystemCRM {
		d.CRMDealID = id
	}
}

// Meeting is a booked call. The CRM stores it as an Activity.
type Meeting struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ContactID int64     `json:"contact_id"`
	AdminID   int64     `json:"admin_id,omitempty"`
	DealID    int64     `json:"deal_id,omitempty"`

	CRMActivityID   int64  `json:"crm_activity_id,omitempty"`
	CalendarEventID string `json:"calendar_event_id,omitempty"`

	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Status      string     `json:"status"`
	MeetingType string     `json:"meeting_type"`
}

func (m *Meeting) EntityID() int64         { return m.ID }
func (m *Meeting) Type() models.EntityType { return models.EntityMeeting }

func (m *Meeting) ExternalID(system models.System) int64 {
	if system == models.SystemCRM {
		return m.CRMActivityID
	}
	return 0
}

func (m *Meeting) SetExternalID(system models.System, id int64) {
	if system == models.SystemCRM {
		m.CRMActivityID = id
	}
}

// MeetingSubject is the title used for calendar invites and CRM activities.
func MeetingSubject(m *Meeting, admin *Admin) string {
	with := "our team"
	if admin != nil && admin.Name() != "" {
		with = admin.Name()
	}
	if m.MeetingType == MeetingTypeSupport {
		return "Support meeting with " + with
	}
	return "Demo with " + with
}

// Pipeline and Stage are owned by the CRM; local rows are a cache.
type Pipeline struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	CRMPipelineID  int64     `json:"crm_pipeline_id"`
	Name           string    `json:"name"`
	DefaultStageID int64     `json:"default_stage_id,omitempty"`
}

func (p *Pipeline) EntityID() int64         { return p.ID }
func (p *Pipeline) Type() models.EntityType { return models.EntityPipeline }

func (p *Pipeline) ExternalID(system models.System) int64 {
	if system == models.SystemCRM {
		return p.CRMPipelineID
	}
	return 0
}

func (p *Pipeline) SetExternalID(system models.System, id int64) {
	if system == models.SystemCRM {
		p.CRMPipelineID = id
	}
}

type Stage struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	PipelineID int64     `json:"pipeline_id"`
	CRMStageID int64     `json:"crm_stage_id"`
	Name       string    `json:"name"`
	OrderIndex int       `json:"order_index"`
}

func (s *Stage) EntityID() int64         { return s.ID }
func (s *Stage) Type() models.EntityType { return models.EntityStage }

func (s *Stage) ExternalID(system models.System) int64 {
	if system == models.SystemCRM {
		return s.CRMStageID
	}
	return 0
}

func (s *Stage) SetExternalID(system models.System, id int64) {
	if system == models.SystemCRM {
		s.CRMStageID = id
	}
}

// Admin is a member of the sales or support team.
type Admin struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	SystemAAdminID int64     `json:"system_a_admin_id,omitempty"`
	CRMOwnerID     int64     `json:"crm_owner_id,omitempty"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Timezone       string    `json:"timezone,omitempty"`
	IsSales        bool      `json:"is_sales"`
	IsSupport      bool      `json:"is_support"`
	IsBDR          bool      `json:"is_bdr"`

	SellsPAYG       bool `json:"sells_payg"`
	SellsStartup    bool `json:"sells_startup"`
	SellsEnterprise bool `json:"sells_enterprise"`

	SellsGB  bool `json:"sells_gb"`
	SellsUS  bool `json:"sells_us"`
	SellsAU  bool `json:"sells_au"`
	SellsCA  bool `json:"sells_ca"`
	SellsEU  bool `json:"sells_eu"`
	SellsROW bool `json:"sells_row"`
}

func (a *Admin) EntityID() int64         { return a.ID }
func (a *Admin) Type() models.EntityType { return models.EntityAdmin }

func (a *Admin) ExternalID(system models.System) int64 {
	switch system {
	case models.SystemA:
		return a.SystemAAdminID
	case models.SystemCRM:
		return a.CRMOwnerID
	}
	return 0
}

func (a *Admin) SetExternalID(system models.System, id int64) {
	switch system {
	case models.SystemA:
		a.SystemAAdminID = id
	case models.SystemCRM:
		a.CRMOwnerID = id
	}
}

func (a *Admin) Name() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// NaturalKey carries the non-id attributes used when an external id is absent.
type NaturalKey struct {
	Email       string
	Phone       string
	LastName    string
	CompanyName string
	// CompanyID scopes contact lookups to one company when set.
	CompanyID int64
}

func (k NaturalKey) IsZero() bool {
	return k.Email == "" && k.Phone == "" && k.LastName == "" && k.CompanyName == ""
}

// New returns an empty entity of type t, nil for unknown types.
func New(t models.EntityType) Entity {
	switch t {
	case models.EntityCompany:
		return &Company{}
	case models.EntityContact:
		return &Contact{}
	case models.EntityDeal:
		return &Deal{}
	case models.EntityMeeting:
		return &Meeting{}
	case models.EntityPipeline:
		return &Pipeline{}
	case models.EntityStage:
		return &Stage{}
	case models.EntityAdmin:
		return &Admin{}
	}
	return nil
}

package entity

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type tableDef struct {
	name string
	cols []string
	scan func(rowScanner) (Entity, error)
	args func(Entity) []any
}

func (t tableDef) selectSQL() string {
	return "SELECT id, created_at, " + strings.Join(t.cols, ", ") + " FROM " + t.name
}

func (t tableDef) insertSQL() string {
	ph := make([]string, len(t.cols))
	for i := range t.cols {
		ph[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id, created_at",
		t.name, strings.Join(t.cols, ", "), strings.Join(ph, ", "))
}

func (t tableDef) updateSQL() string {
	set := make([]string, len(t.cols))
	for i, c := range t.cols {
		set[i] = fmt.Sprintf("%s = $%d", c, i+2)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", t.name, strings.Join(set, ", "))
}

var tables = map[models.EntityType]tableDef{
	models.EntityCompany: {
		name: "companies",
		cols: []string{"system_a_id", "system_a_agency_id", "crm_org_id", "name", "status", "price_plan",
			"country", "website", "sales_person_id", "support_person_id", "bdr_person_id", "paid_invoice_count",
			"estimated_income", "currency", "has_booked_call", "narc", "utm_source", "utm_campaign", "gclid",
			"signup_questionnaire", "pay0_at", "pay1_at", "pay3_at", "card_saved_at", "email_confirmed_at",
			"gclid_expiry_at"},
		scan: scanCompany,
		args: func(e Entity) []any {
			c := e.(*Company)
			return []any{nullID(c.SystemAID), nullID(c.SystemAAgencyID), nullID(c.CRMOrgID), c.Name, c.Status,
				string(c.PricePlan), c.Country, c.Website, nullID(c.SalesPersonID), nullID(c.SupportPersonID),
				nullID(c.BDRPersonID), c.PaidInvoiceCount, c.EstimatedIncome, c.Currency, c.HasBookedCall, c.Narc,
				c.UTMSource, c.UTMCampaign, c.Gclid, c.SignupQuestionnaire, c.Pay0At, c.Pay1At, c.Pay3At,
				c.CardSavedAt, c.EmailConfirmedAt, c.GclidExpiryAt}
		},
	},
	models.EntityContact: {
		name: "contacts",
		cols: []string{"company_id", "system_a_sr_id", "crm_person_id", "first_name", "last_name", "email", "phone", "country"},
		scan: func(row rowScanner) (Entity, error) {
			var c Contact
			var sr, person sql.NullInt64
			if err := row.Scan(&c.ID, &c.CreatedAt, &c.CompanyID, &sr, &person, &c.FirstName, &c.LastName,
				&c.Email, &c.Phone, &c.Country); err != nil {
				return nil, err
			}
			c.SystemASRID, c.CRMPersonID = sr.Int64, person.Int64
			return &c, nil
		},
		args: func(e Entity) []any {
			c := e.(*Contact)
			return []any{c.CompanyID, nullID(c.SystemASRID), nullID(c.CRMPersonID), c.FirstName, c.LastName,
				c.Email, c.Phone, c.Country}
		},
	},
	models.EntityDeal: {
		name: "deals",
		cols: []string{"company_id", "contact_id", "admin_id", "pipeline_id", "stage_id", "crm_deal_id", "name", "status"},
		scan: func(row rowScanner) (Entity, error) {
			var d Deal
			var contact, admin, pipeline, stage, crm sql.NullInt64
			if err := row.Scan(&d.ID, &d.CreatedAt, &d.CompanyID, &contact, &admin, &pipeline, &stage, &crm,
				&d.Name, &d.Status); err != nil {
				return nil, err
			}
			d.ContactID, d.AdminID, d.PipelineID = contact.Int64, admin.Int64, pipeline.Int64
			d.StageID, d.CRMDealID = stage.Int64, crm.Int64
			return &d, nil
		},
		args: func(e Entity) []any {
			d := e.(*Deal)
			return []any{d.CompanyID, nullID(d.ContactID), nullID(d.AdminID), nullID(d.PipelineID),
				nullID(d.StageID), nullID(d.CRMDealID), d.Name, d.Status}
		},
	},
	models.EntityMeeting: {
		name: "meetings",
		cols: []string{"contact_id", "admin_id", "deal_id", "crm_activity_id", "calendar_event_id", "start_time",
			"end_time", "status", "meeting_type"},
		scan: func(row rowScanner) (Entity, error) {
			var m Meeting
			var admin, deal, activity sql.NullInt64
			var start, end sql.NullTime
			if err := row.Scan(&m.ID, &m.CreatedAt, &m.ContactID, &admin, &deal, &activity, &m.CalendarEventID,
				&start, &end, &m.Status, &m.MeetingType); err != nil {
				return nil, err
			}
			m.AdminID, m.DealID, m.CRMActivityID = admin.Int64, deal.Int64, activity.Int64
			m.StartTime, m.EndTime = timePtr(start), timePtr(end)
			return &m, nil
		},
		args: func(e Entity) []any {
			m := e.(*Meeting)
			return []any{m.ContactID, nullID(m.AdminID), nullID(m.DealID), nullID(m.CRMActivityID),
				m.CalendarEventID, m.StartTime, m.EndTime, m.Status, m.MeetingType}
		},
	},
	models.EntityPipeline: {
		name: "pipelines",
		cols: []string{"crm_pipeline_id", "name", "default_stage_id"},
		scan: func(row rowScanner) (Entity, error) {
			var p Pipeline
			var crm, stage sql.NullInt64
			if err := row.Scan(&p.ID, &p.CreatedAt, &crm, &p.Name, &stage); err != nil {
				return nil, err
			}
			p.CRMPipelineID, p.DefaultStageID = crm.Int64, stage.Int64
			return &p, nil
		},
		args: func(e Entity) []any {
			p := e.(*Pipeline)
			return []any{nullID(p.CRMPipelineID), p.Name, nullID(p.DefaultStageID)}
		},
	},
	models.EntityStage: {
		name: "stages",
		cols: []string{"pipeline_id", "crm_stage_id", "name", "order_index"},
		scan: func(row rowScanner) (Entity, error) {
			var s Stage
			var crm sql.NullInt64
			if err := row.Scan(&s.ID, &s.CreatedAt, &s.PipelineID, &crm, &s.Name, &s.OrderIndex); err != nil {
				return nil, err
			}
			s.CRMStageID = crm.Int64
			return &s, nil
		},
		args: func(e Entity) []any {
			s := e.(*Stage)
			return []any{s.PipelineID, nullID(s.CRMStageID), s.Name, s.OrderIndex}
		},
	},
	models.EntityAdmin: {
		name: "admins",
		cols: []string{"system_a_admin_id", "crm_owner_id", "first_name", "last_name", "email", "timezone",
			"is_sales", "is_support", "is_bdr", "sells_payg", "sells_startup", "sells_enterprise",
			"sells_gb", "sells_us", "sells_au", "sells_ca", "sells_eu", "sells_row"},
		scan: func(row rowScanner) (Entity, error) {
			var a Admin
			var sysA, crm sql.NullInt64
			if err := row.Scan(&a.ID, &a.CreatedAt, &sysA, &crm, &a.FirstName, &a.LastName, &a.Email,
				&a.Timezone, &a.IsSales, &a.IsSupport, &a.IsBDR, &a.SellsPAYG, &a.SellsStartup,
				&a.SellsEnterprise, &a.SellsGB, &a.SellsUS, &a.SellsAU, &a.SellsCA, &a.SellsEU,
				&a.SellsROW); err != nil {
				return nil, err
			}
			a.SystemAAdminID, a.CRMOwnerID = sysA.Int64, crm.Int64
			return &a, nil
		},
		args: func(e Entity) []any {
			a := e.(*Admin)
			return []any{nullID(a.SystemAAdminID), nullID(a.CRMOwnerID), a.FirstName, a.LastName, a.Email,
				a.Timezone, a.IsSales, a.IsSupport, a.IsBDR, a.SellsPAYG, a.SellsStartup, a.SellsEnterprise,
				a.SellsGB, a.SellsUS, a.SellsAU, a.SellsCA, a.SellsEU, a.SellsROW}
		},
	},
}

func scanCompany(row rowScanner) (Entity, error) {
	var c Company
	var sysA, agency, org, sales, support, bdr sql.NullInt64
	var pay0, pay1, pay3, card, confirmed, gclidExp sql.NullTime
	var plan string
	if err := row.Scan(&c.ID, &c.CreatedAt, &sysA, &agency, &org, &c.Name, &c.Status, &plan, &c.Country,
		&c.Website, &sales, &support, &bdr, &c.PaidInvoiceCount, &c.EstimatedIncome, &c.Currency,
		&c.HasBookedCall, &c.Narc, &c.UTMSource, &c.UTMCampaign, &c.Gclid, &c.SignupQuestionnaire,
		&pay0, &pay1, &pay3, &card, &confirmed, &gclidExp); err != nil {
		return nil, err
	}
	c.SystemAID, c.SystemAAgencyID, c.CRMOrgID = sysA.Int64, agency.Int64, org.Int64
	c.SalesPersonID, c.SupportPersonID, c.BDRPersonID = sales.Int64, support.Int64, bdr.Int64
	c.PricePlan = PricePlan(plan)
	c.Pay0At, c.Pay1At, c.Pay3At = timePtr(pay0), timePtr(pay1), timePtr(pay3)
	c.CardSavedAt, c.EmailConfirmedAt, c.GclidExpiryAt = timePtr(card), timePtr(confirmed), timePtr(gclidExp)
	return &c, nil
}

var externalColumns = map[models.EntityType]map[models.System]string{
	models.EntityCompany:  {models.SystemA: "system_a_id", models.SystemCRM: "crm_org_id"},
	models.EntityContact:  {models.SystemA: "system_a_sr_id", models.SystemCRM: "crm_person_id"},
	models.EntityDeal:     {models.SystemCRM: "crm_deal_id"},
	models.EntityMeeting:  {models.SystemCRM: "crm_activity_id"},
	models.EntityPipeline: {models.SystemCRM: "crm_pipeline_id"},
	models.EntityStage:    {models.SystemCRM: "crm_stage_id"},
	models.EntityAdmin:    {models.SystemA: "system_a_admin_id", models.SystemCRM: "crm_owner_id"},
}

var contactKeyClauses = map[KeyField]string{
	KeyEmail:    "email <> '' AND lower(email) = lower($1)",
	KeyPhone:    "phone <> '' AND phone = $1",
	KeyLastName: "last_name <> '' AND lower(last_name) = lower($1)",
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// PostgresStore is the lib/pq backed Entity Store.
type PostgresStore struct {
	*pgRepo
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pgRepo: &pgRepo{q: db}, db: db, lockTimeout: lockTimeout}
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.lockTimeout > 0 {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return err
		}
	}

	if err = fn(ctx, &pgRepo{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return translate(err, "", "commit")
	}
	return nil
}

type pgRepo struct {
	q querier
}

func (r *pgRepo) Get(ctx context.Context, t models.EntityType, id int64) (Entity, error) {
	def, ok := tables[t]
	if !ok {
		return nil, ErrNotFound
	}
	e, err := def.scan(r.q.QueryRowContext(ctx, def.selectSQL()+" WHERE id = $1", id))
	if err != nil {
		return nil, translate(err, t, strconv.FormatInt(id, 10))
	}
	return e, nil
}

func (r *pgRepo) GetCompany(ctx context.Context, id int64) (*Company, error) {
	e, err := r.Get(ctx, models.EntityCompany, id)
	if err != nil {
		return nil, err
	}
	return e.(*Company), nil
}

func (r *pgRepo) GetContact(ctx context.Context, id int64) (*Contact, error) {
	e, err := r.Get(ctx, models.EntityContact, id)
	if err != nil {
		return nil, err
	}
	return e.(*Contact), nil
}

func (r *pgRepo) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	e, err := r.Get(ctx, models.EntityDeal, id)
	if err != nil {
		return nil, err
	}
	return e.(*Deal), nil
}

func (r *pgRepo) GetMeeting(ctx context.Context, id int64) (*Meeting, error) {
	e, err := r.Get(ctx, models.EntityMeeting, id)
	if err != nil {
		return nil, err
	}
	return e.(*Meeting), nil
}

func (r *pgRepo) GetPipeline(ctx context.Context, id int64) (*Pipeline, error) {
	e, err := r.Get(ctx, models.EntityPipeline, id)
	if err != nil {
		return nil, err
	}
	return e.(*Pipeline), nil
}

func (r *pgRepo) GetStage(ctx context.Context, id int64) (*Stage, error) {
	e, err := r.Get(ctx, models.EntityStage, id)
	if err != nil {
		return nil, err
	}
	return e.(*Stage), nil
}

func (r *pgRepo) GetAdmin(ctx context.Context, id int64) (*Admin, error) {
	e, err := r.Get(ctx, models.EntityAdmin, id)
	if err != nil {
		return nil, err
	}
	return e.(*Admin), nil
}

func (r *pgRepo) FindByExternalID(ctx context.Context, t models.EntityType, system models.System, externalID int64) (Entity, error) {
	col, ok := externalColumns[t][system]
	if !ok || externalID == 0 {
		return nil, ErrNotFound
	}
	def := tables[t]
	e, err := def.scan(r.q.QueryRowContext(ctx, def.selectSQL()+" WHERE "+col+" = $1", externalID))
	if err != nil {
		return nil, translate(err, t, fmt.Sprintf("%s:%d", system, externalID))
	}
	return e, nil
}

func (r *pgRepo) FindByNaturalKey(ctx context.Context, t models.EntityType, field KeyField, value string, scope int64) ([]Entity, error) {
	if value == "" {
		return nil, nil
	}
	args := []any{value}
	var where string
	switch t {
	case models.EntityContact:
		clause, ok := contactKeyClauses[field]
		if !ok {
			return nil, fmt.Errorf("contacts cannot be matched on %s", field)
		}
		where = clause
		if scope != 0 {
			where += " AND company_id = $2"
			args = append(args, scope)
		}
	case models.EntityCompany:
		if field == KeyName {
			where = "lower(name) = lower($1)"
			break
		}
		clause, ok := contactKeyClauses[field]
		if !ok {
			return nil, fmt.Errorf("companies cannot be matched on %s", field)
		}
		where = "id IN (SELECT company_id FROM contacts WHERE " + clause + ")"
	default:
		return nil, fmt.Errorf("%s has no natural key", t)
	}
	return r.queryMany(ctx, t, " WHERE "+where+" ORDER BY id DESC", args...)
}

func (r *pgRepo) queryMany(ctx context.Context, t models.EntityType, tail string, args ...any) ([]Entity, error) {
	def := tables[t]
	rows, err := r.q.QueryContext(ctx, def.selectSQL()+tail, args...)
	if err != nil {
		return nil, translate(err, t, "")
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := def.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgRepo) ListContacts(ctx context.Context, companyID int64) ([]*Contact, error) {
	list, err := r.queryMany(ctx, models.EntityContact, " WHERE company_id = $1 ORDER BY id", companyID)
	if err != nil {
		return nil, err
	}
	out := make([]*Contact, len(list))
	for i, e := range list {
		out[i] = e.(*Contact)
	}
	return out, nil
}

func (r *pgRepo) ListDeals(ctx context.Context, companyID int64, status string) ([]*Deal, error) {
	tail, args := " WHERE company_id = $1", []any{companyID}
	if status != "" {
		tail += " AND status = $2"
		args = append(args, status)
	}
	list, err := r.queryMany(ctx, models.EntityDeal, tail+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	out := make([]*Deal, len(list))
	for i, e := range list {
		out[i] = e.(*Deal)
	}
	return out, nil
}

func (r *pgRepo) ListMeetings(ctx context.Context, contactID int64, from, to time.Time) ([]*Meeting, error) {
	list, err := r.queryMany(ctx, models.EntityMeeting,
		" WHERE contact_id = $1 AND start_time BETWEEN $2 AND $3 ORDER BY id", contactID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]*Meeting, len(list))
	for i, e := range list {
		out[i] = e.(*Meeting)
	}
	return out, nil
}

func (r *pgRepo) ListStages(ctx context.Context, pipelineID int64) ([]*Stage, error) {
	list, err := r.queryMany(ctx, models.EntityStage, " WHERE pipeline_id = $1 ORDER BY order_index, id", pipelineID)
	if err != nil {
		return nil, err
	}
	out := make([]*Stage, len(list))
	for i, e := range list {
		out[i] = e.(*Stage)
	}
	return out, nil
}

func (r *pgRepo) ListAdmins(ctx context.Context) ([]*Admin, error) {
	list, err := r.queryMany(ctx, models.EntityAdmin, " ORDER BY id")
	if err != nil {
		return nil, err
	}
	out := make([]*Admin, len(list))
	for i, e := range list {
		out[i] = e.(*Admin)
	}
	return out, nil
}

func (r *pgRepo) ListCompanies(ctx context.Context, q CompanyQuery) ([]*Company, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.Name != "" {
		add("lower(name) = lower($%d)", q.Name)
	}
	if q.Country != "" {
		add("country = $%d", q.Country)
	}
	if q.PricePlan != "" {
		add("price_plan = $%d", string(q.PricePlan))
	}
	if q.SystemAID != 0 {
		add("system_a_id = $%d", q.SystemAID)
	}
	if q.CRMOrgID != 0 {
		add("crm_org_id = $%d", q.CRMOrgID)
	}
	if q.HasSalesPerson {
		where = append(where, "sales_person_id IS NOT NULL")
	}
	if q.HasSupportPerson {
		where = append(where, "support_person_id IS NOT NULL")
	}

	tail := ""
	if len(where) > 0 {
		tail = " WHERE " + strings.Join(where, " AND ")
	}
	if q.Newest {
		tail += " ORDER BY created_at DESC, id DESC"
	} else {
		tail += " ORDER BY name, id"
	}
	if q.Limit > 0 {
		tail += " LIMIT " + strconv.Itoa(q.Limit)
	}

	list, err := r.queryMany(ctx, models.EntityCompany, tail, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*Company, len(list))
	for i, e := range list {
		out[i] = e.(*Company)
	}
	return out, nil
}

func (r *pgRepo) Upsert(ctx context.Context, e Entity) error {
	def, ok := tables[e.Type()]
	if !ok {
		return fmt.Errorf("no table for %s", e.Type())
	}
	args := def.args(e)

	if e.EntityID() == 0 {
		var id int64
		var created time.Time
		if err := r.q.QueryRowContext(ctx, def.insertSQL(), args...).Scan(&id, &created); err != nil {
			return translate(err, e.Type(), "new")
		}
		setIdentity(e, id, created)
		return nil
	}

	_, err := r.q.ExecContext(ctx, def.updateSQL(), append([]any{e.EntityID()}, args...)...)
	return translate(err, e.Type(), strconv.FormatInt(e.EntityID(), 10))
}

func setIdentity(e Entity, id int64, created time.Time) {
	switch v := e.(type) {
	case *Company:
		v.ID, v.CreatedAt = id, created
	case *Contact:
		v.ID, v.CreatedAt = id, created
	case *Deal:
		v.ID, v.CreatedAt = id, created
	case *Meeting:
		v.ID, v.CreatedAt = id, created
	case *Pipeline:
		v.ID, v.CreatedAt = id, created
	case *Stage:
		v.ID, v.CreatedAt = id, created
	case *Admin:
		v.ID, v.CreatedAt = id, created
	}
}

// Delete relies on the foreign keys in schema.sql for cascading.
func (r *pgRepo) Delete(ctx context.Context, e Entity) error {
	def, ok := tables[e.Type()]
	if !ok {
		return fmt.Errorf("no table for %s", e.Type())
	}
	ref := strconv.FormatInt(e.EntityID(), 10)
	if e.Type() == models.EntityStage {
		if _, err := r.q.ExecContext(ctx, "UPDATE pipelines SET default_stage_id = NULL WHERE default_stage_id = $1", e.EntityID()); err != nil {
			return translate(err, e.Type(), ref)
		}
	}
	_, err := r.q.ExecContext(ctx, "DELETE FROM "+def.name+" WHERE id = $1", e.EntityID())
	return translate(err, e.Type(), ref)
}

func (r *pgRepo) LockCompany(ctx context.Context, id int64) error {
	var locked int64
	err := r.q.QueryRowContext(ctx, "SELECT id FROM companies WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	return translate(err, models.EntityCompany, strconv.FormatInt(id, 10))
}

func (r *pgRepo) LockKey(ctx context.Context, key string) error {
	_, err := r.q.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key)
	return translate(err, "", key)
}

// translate maps driver errors onto the store's error vocabulary. A unique
// violation means another transaction created the same row first; the caller
// retries and then finds it.
func translate(err error, t models.EntityType, ref string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40P01", "40001", "23505":
			return &errs.ConcurrencyConflictError{Entity: t, ID: ref, Err: err}
		}
	}
	return err
}

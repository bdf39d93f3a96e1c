package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-hermes/internal/common/models"
	"go-hermes/internal/config"
	"go-hermes/internal/connectors"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"
)

// hermesOwned is everything Hermes writes to System A. The rest of a client
// belongs to System A.
var hermesOwned = map[models.EntityType][]string{
	models.EntityCompany: {fieldmap.FieldCRMURL, fieldmap.FieldHermesID},
	models.EntityDeal:    {fieldmap.FieldPipeline, fieldmap.FieldStage, fieldmap.FieldCRMURL},
}

// Deal fields the CRM keeps on the deal but Hermes keeps on the company.
var companyFieldsOnDeal = map[string]bool{
	entity.FieldPaidInvoiceCount:    true,
	entity.FieldWebsite:             true,
	entity.FieldPricePlan:           true,
	entity.FieldEstimatedIncome:     true,
	entity.FieldSignupQuestionnaire: true,
	entity.FieldUTMSource:           true,
	entity.FieldUTMCampaign:         true,
}

const dateLayout = "2006-01-02"

// payloadBuilder renders an entity as the record a target system should hold.
type payloadBuilder struct {
	cfg   *config.Config
	table *fieldmap.Table
	repo  entity.Repository
}

func allowed(system, origin models.System, t models.EntityType, logical string) bool {
	if system != models.SystemA {
		return true
	}
	owned := false
	for _, f := range hermesOwned[t] {
		if f == logical {
			owned = true
			break
		}
	}
	if !owned {
		return false
	}
	return origin != models.SystemCRM || fieldmap.Whitelisted(t, logical)
}

// build returns the payload keyed by the target's field keys. Unset local
// values are left out so they never blank a remote field.
func (b *payloadBuilder) build(ctx context.Context, system, origin models.System, ent entity.Entity) (connectors.Record, error) {
	out := connectors.Record{}
	for _, d := range b.table.Fields(system, ent.Type()) {
		if !allowed(system, origin, ent.Type(), d.Logical) {
			continue
		}
		v, ok, err := b.value(ctx, system, ent, d)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ent.Type(), d.Logical, err)
		}
		if ok {
			out[d.Key] = v
		}
	}
	return out, nil
}

func (b *payloadBuilder) value(ctx context.Context, system models.System, ent entity.Entity, d fieldmap.ExternalFieldDescriptor) (any, bool, error) {
	switch d.Kind {
	case fieldmap.KindID:
		return ent.EntityID(), true, nil
	case fieldmap.KindRef:
		localID, err := b.ref(ctx, ent, d.Logical)
		if err != nil || localID == 0 {
			return nil, false, err
		}
		ext, err := b.externalID(ctx, d.Target, localID, system)
		if err != nil || ext == 0 {
			return nil, false, err
		}
		return ext, true, nil
	}

	if p, ok := ent.(entity.Patchable); ok {
		if v, ok := p.Attributes()[d.Logical]; ok {
			return encode(d.Kind, v)
		}
	}
	v, err := b.derived(ctx, system, ent, d.Logical)
	if err != nil {
		return nil, false, err
	}
	return encode(d.Kind, v)
}

// ref returns the local id a reference field points at.
func (b *payloadBuilder) ref(ctx context.Context, ent entity.Entity, logical string) (int64, error) {
	switch v := ent.(type) {
	case *entity.Company:
		switch logical {
		case fieldmap.FieldOwner:
			return v.SalesPersonID, nil
		case fieldmap.FieldSupportPerson:
			return v.SupportPersonID, nil
		case fieldmap.FieldBDRPerson:
			return v.BDRPersonID, nil
		}
	case *entity.Contact:
		switch logical {
		case fieldmap.FieldCompany:
			return v.CompanyID, nil
		case fieldmap.FieldOwner:
			c, err := b.company(ctx, v.CompanyID)
			if err != nil || c == nil {
				return 0, err
			}
			return c.SalesPersonID, nil
		}
	case *entity.Deal:
		switch logical {
		case fieldmap.FieldOwner:
			return v.AdminID, nil
		case fieldmap.FieldCompany:
			return v.CompanyID, nil
		case fieldmap.FieldContact:
			return v.ContactID, nil
		case fieldmap.FieldPipeline:
			return v.PipelineID, nil
		case fieldmap.FieldStage:
			return v.StageID, nil
		case fieldmap.FieldSupportPerson, fieldmap.FieldBDRPerson:
			c, err := b.company(ctx, v.CompanyID)
			if err != nil || c == nil {
				return 0, err
			}
			if logical == fieldmap.FieldSupportPerson {
				return c.SupportPersonID, nil
			}
			return c.BDRPersonID, nil
		}
	case *entity.Meeting:
		switch logical {
		case fieldmap.FieldAdmin:
			return v.AdminID, nil
		case fieldmap.FieldDeal:
			return v.DealID, nil
		case fieldmap.FieldContact:
			return v.ContactID, nil
		case fieldmap.FieldCompany:
			ct, err := b.repo.GetContact(ctx, v.ContactID)
			if errors.Is(err, entity.ErrNotFound) {
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			return ct.CompanyID, nil
		}
	case *entity.Stage:
		if logical == fieldmap.FieldPipeline {
			return v.PipelineID, nil
		}
	}
	return 0, nil
}

func (b *payloadBuilder) externalID(ctx context.Context, t models.EntityType, id int64, system models.System) (int64, error) {
	e, err := b.repo.Get(ctx, t, id)
	if errors.Is(err, entity.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.ExternalID(system), nil
}

func (b *payloadBuilder) company(ctx context.Context, id int64) (*entity.Company, error) {
	if id == 0 {
		return nil, nil
	}
	c, err := b.repo.GetCompany(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// derived computes fields that are not plain attributes of the entity.
func (b *payloadBuilder) derived(ctx context.Context, system models.System, ent entity.Entity, logical string) (any, error) {
	switch v := ent.(type) {
	case *entity.Company:
		return b.companyLinks(v, logical), nil

	case *entity.Deal:
		switch logical {
		case fieldmap.FieldCRMURL:
			if v.CRMDealID == 0 {
				return nil, nil
			}
			return fmt.Sprintf("%s/deal/%d", strings.TrimRight(b.cfg.CRM.AppURL, "/"), v.CRMDealID), nil
		case fieldmap.FieldPipeline:
			// System A stores names, the CRM ids go through ref.
			if v.PipelineID == 0 {
				return nil, nil
			}
			p, err := b.repo.GetPipeline(ctx, v.PipelineID)
			if err != nil {
				return nil, ignoreNotFound(err)
			}
			return p.Name, nil
		case fieldmap.FieldStage:
			if v.StageID == 0 {
				return nil, nil
			}
			s, err := b.repo.GetStage(ctx, v.StageID)
			if err != nil {
				return nil, ignoreNotFound(err)
			}
			return s.Name, nil
		}
		c, err := b.company(ctx, v.CompanyID)
		if err != nil || c == nil {
			return nil, err
		}
		if companyFieldsOnDeal[logical] {
			return c.Attributes()[logical], nil
		}
		if logical == fieldmap.FieldCompanyStatus {
			return c.Status, nil
		}
		return b.companyLinks(c, logical), nil

	case *entity.Meeting:
		return b.meetingField(ctx, v, logical)
	}
	return nil, nil
}

func (b *payloadBuilder) companyLinks(c *entity.Company, logical string) any {
	switch logical {
	case fieldmap.FieldSystemAURL:
		if c.SystemAID != 0 {
			return fmt.Sprintf("%s/clients/%d/", strings.TrimRight(b.cfg.SystemA.AppURL, "/"), c.SystemAID)
		}
	case fieldmap.FieldCRMURL:
		if c.CRMOrgID != 0 {
			return fmt.Sprintf("%s/organization/%d", strings.TrimRight(b.cfg.CRM.AppURL, "/"), c.CRMOrgID)
		}
	}
	return nil
}

func (b *payloadBuilder) meetingField(ctx context.Context, m *entity.Meeting, logical string) (any, error) {
	switch logical {
	case fieldmap.FieldSubject:
		var admin *entity.Admin
		if m.AdminID != 0 {
			a, err := b.repo.GetAdmin(ctx, m.AdminID)
			if err != nil && !errors.Is(err, entity.ErrNotFound) {
				return nil, err
			}
			admin = a
		}
		return entity.MeetingSubject(m, admin), nil
	case fieldmap.FieldDueDate:
		if m.StartTime == nil {
			return nil, nil
		}
		return m.StartTime.UTC().Format(dateLayout), nil
	case fieldmap.FieldDueTime:
		if m.StartTime == nil {
			return nil, nil
		}
		return m.StartTime.UTC().Format("15:04"), nil
	case fieldmap.FieldDuration:
		if m.StartTime == nil || m.EndTime == nil {
			return nil, nil
		}
		d := m.EndTime.Sub(*m.StartTime).Round(time.Minute)
		return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60), nil
	}
	return nil, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, entity.ErrNotFound) {
		return nil
	}
	return err
}

// encode converts an attribute to the wire form for kind. The bool result is
// false for unset values.
func encode(kind fieldmap.Kind, v any) (any, bool, error) {
	switch t := v.(type) {
	case nil:
		return nil, false, nil
	case *time.Time:
		if t == nil {
			return nil, false, nil
		}
		v = *t
	case string:
		if t == "" {
			return nil, false, nil
		}
	}

	switch kind {
	case fieldmap.KindDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(dateLayout), true, nil
		}
		return v, true, nil
	case fieldmap.KindString:
		switch t := v.(type) {
		case string:
			return t, true, nil
		case time.Time:
			return t.UTC().Format(time.RFC3339), true, nil
		case int:
			return strconv.Itoa(t), true, nil
		case int64:
			return strconv.FormatInt(t, 10), true, nil
		}
		return fmt.Sprint(v), true, nil
	}
	return v, true, nil
}

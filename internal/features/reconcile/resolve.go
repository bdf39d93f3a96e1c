package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"
	"go-hermes/internal/features/inbound"

	"go.uber.org/zap"
)

type matchedBy string

const (
	byLocalID    matchedBy = "local_id"
	byExternalID matchedBy = "external_id"
	byNaturalKey matchedBy = "natural_key"
)

const fieldNameCompany = fieldmap.FieldCompany

// resolve finds the local entity an intent is about: by our own id, then by
// the source's external id, then by natural key. A nil entity means the intent
// creates a new row. The returned entity is locked for the transaction.
func (e *Engine) resolve(ctx context.Context, repo entity.Repository, ev *event, in inbound.Intent, scope int64) (entity.Entity, matchedBy, error) {
	if in.LocalID != 0 {
		found, err := repo.Get(ctx, in.EntityType, in.LocalID)
		switch {
		case err == nil:
			return e.lock(ctx, repo, found, byLocalID)
		case !errors.Is(err, entity.ErrNotFound):
			return nil, "", err
		case in.MustExist:
			return nil, "", nil
		}
		e.logger.Debug("Stale local id", zap.String("entity", string(in.EntityType)), zap.Int64("local_id", in.LocalID))
	}

	if in.ExternalID != 0 {
		found, err := repo.FindByExternalID(ctx, in.EntityType, in.Source, in.ExternalID)
		switch {
		case err == nil:
			return e.lock(ctx, repo, found, byExternalID)
		case !errors.Is(err, entity.ErrNotFound):
			return nil, "", err
		}
	}

	if in.Operation == models.OpDelete || !e.naturalKeyAllowed(in) {
		return nil, "", nil
	}

	key := in.MatchHints
	key.CompanyID = scope
	if err := repo.LockKey(ctx, lockKey(in.EntityType, key)); err != nil {
		return nil, "", err
	}
	found, err := e.matcher.Match(ctx, repo, in.EntityType, key)
	if err != nil || found == nil {
		return nil, "", err
	}
	// a row already linked to another record of the same source is a different
	// record that merely shares an email or phone
	if in.ExternalID != 0 {
		if linked := found.ExternalID(in.Source); linked != 0 && linked != in.ExternalID {
			e.logger.Info("Natural key match belongs to another record",
				zap.String("entity", string(in.EntityType)),
				zap.Int64("entity_id", found.EntityID()),
				zap.Int64("linked_id", linked),
				zap.Int64("external_id", in.ExternalID),
			)
			return nil, "", nil
		}
	}
	return e.lock(ctx, repo, found, byNaturalKey)
}

// naturalKeyAllowed reports whether the intent may fall back to natural keys.
// System A ids for companies and contacts are not known to the CRM, so their
// first sighting is matched against rows created by other sources.
func (e *Engine) naturalKeyAllowed(in inbound.Intent) bool {
	if in.MatchHints.IsZero() {
		return false
	}
	if _, ok := entity.DefaultPrecedence[in.EntityType]; !ok {
		return false
	}
	if in.ExternalID == 0 {
		return true
	}
	return in.Source == models.SystemA
}

func lockKey(t models.EntityType, key entity.NaturalKey) string {
	for _, v := range []string{key.Email, key.Phone, key.CompanyName, key.LastName} {
		if v != "" {
			return fmt.Sprintf("%s:%s", t, strings.ToLower(v))
		}
	}
	return string(t)
}

// lock takes the row lock of the company owning found and re-reads found so
// the rest of the transaction works on the locked version.
func (e *Engine) lock(ctx context.Context, repo entity.Repository, found entity.Entity, how matchedBy) (entity.Entity, matchedBy, error) {
	var companyID int64
	switch v := found.(type) {
	case *entity.Company:
		companyID = v.ID
	case *entity.Contact:
		companyID = v.CompanyID
	case *entity.Deal:
		companyID = v.CompanyID
	default:
		return found, how, nil
	}
	if err := repo.LockCompany(ctx, companyID); err != nil {
		return nil, "", err
	}
	fresh, err := repo.Get(ctx, found.Type(), found.EntityID())
	if err != nil {
		return nil, "", err
	}
	return fresh, how, nil
}

// refTarget is the entity type a reference field points at.
func refTarget(field string) models.EntityType {
	switch field {
	case fieldmap.FieldOwner, fieldmap.FieldSupportPerson, fieldmap.FieldBDRPerson, fieldmap.FieldAdmin:
		return models.EntityAdmin
	case fieldmap.FieldCompany:
		return models.EntityCompany
	case fieldmap.FieldContact:
		return models.EntityContact
	case fieldmap.FieldDeal:
		return models.EntityDeal
	case fieldmap.FieldPipeline:
		return models.EntityPipeline
	case fieldmap.FieldStage:
		return models.EntityStage
	}
	return ""
}

// isParentRef reports whether field points at the row that owns target.
func isParentRef(t models.EntityType, field string) bool {
	switch t {
	case models.EntityContact, models.EntityDeal:
		return field == fieldmap.FieldCompany
	case models.EntityMeeting:
		return field == fieldmap.FieldContact
	case models.EntityStage:
		return field == fieldmap.FieldPipeline
	}
	return false
}

// refID resolves a reference to a local id. It returns entity.ErrNotFound when
// the referenced row does not exist.
func (e *Engine) refID(ctx context.Context, repo entity.Repository, ev *event, ref inbound.Ref, t models.EntityType) (int64, error) {
	switch {
	case ref.IsZero():
		return 0, entity.ErrNotFound
	case ref.FromEvent:
		if found, ok := ev.firstOf(t); ok {
			return found.EntityID(), nil
		}
		return 0, entity.ErrNotFound
	case ref.LocalID != 0:
		if _, err := repo.Get(ctx, t, ref.LocalID); err != nil {
			return 0, err
		}
		return ref.LocalID, nil
	}
	switch t {
	case models.EntityAdmin, models.EntityPipeline, models.EntityStage:
		return entity.LookupID(ctx, repo, e.cache, t, ref.System, ref.ExternalID)
	}
	found, err := repo.FindByExternalID(ctx, t, ref.System, ref.ExternalID)
	if err != nil {
		return 0, err
	}
	return found.EntityID(), nil
}

func describeRef(ref inbound.Ref) string {
	switch {
	case ref.FromEvent:
		return "from event"
	case ref.LocalID != 0:
		return "id " + strconv.FormatInt(ref.LocalID, 10)
	}
	return fmt.Sprintf("%s id %d", ref.System, ref.ExternalID)
}

// applyRefs resolves refs and stores them on target. An unknown parent drops
// the intent, any other unknown reference is left as it was.
func (e *Engine) applyRefs(ctx context.Context, repo entity.Repository, ev *event, target entity.Entity, refs map[string]inbound.Ref) error {
	for field, ref := range refs {
		t := refTarget(field)
		if t == "" {
			continue
		}
		id, err := e.refID(ctx, repo, ev, ref, t)
		if errors.Is(err, entity.ErrNotFound) {
			if isParentRef(target.Type(), field) {
				return &errs.UnresolvedParentError{Entity: target.Type(), Parent: t, Reference: describeRef(ref)}
			}
			msg := "Reference not found, left unchanged"
			if blankOnMiss(target.Type(), field) {
				setRef(target, field, 0)
				msg = "Reference not found, left blank"
			}
			e.logger.Warn(msg,
				zap.String("entity", string(target.Type())),
				zap.String("field", field),
				zap.String("ref", describeRef(ref)),
			)
			continue
		}
		if err != nil {
			return err
		}
		setRef(target, field, id)
	}
	return nil
}

// blankOnMiss reports whether an unresolvable reference clears the field
// instead of keeping the stored value. A deal moved to a pipeline or stage we
// have not seen must not stay in the old one.
func blankOnMiss(t models.EntityType, field string) bool {
	return t == models.EntityDeal && (field == fieldmap.FieldPipeline || field == fieldmap.FieldStage)
}

func setRef(target entity.Entity, field string, id int64) {
	switch v := target.(type) {
	case *entity.Company:
		switch field {
		case fieldmap.FieldOwner:
			v.SalesPersonID = id
		case fieldmap.FieldSupportPerson:
			v.SupportPersonID = id
		case fieldmap.FieldBDRPerson:
			v.BDRPersonID = id
		}
	case *entity.Contact:
		if field == fieldmap.FieldCompany {
			v.CompanyID = id
		}
	case *entity.Deal:
		switch field {
		case fieldmap.FieldCompany:
			v.CompanyID = id
		case fieldmap.FieldContact:
			v.ContactID = id
		case fieldmap.FieldOwner, fieldmap.FieldAdmin:
			v.AdminID = id
		case fieldmap.FieldPipeline:
			v.PipelineID = id
		case fieldmap.FieldStage:
			v.StageID = id
		}
	case *entity.Meeting:
		switch field {
		case fieldmap.FieldContact:
			v.ContactID = id
		case fieldmap.FieldAdmin, fieldmap.FieldOwner:
			v.AdminID = id
		case fieldmap.FieldDeal:
			v.DealID = id
		}
	case *entity.Stage:
		if field == fieldmap.FieldPipeline {
			v.PipelineID = id
		}
	}
}

// checkParents rejects rows that would be stored without their owner.
func (e *Engine) checkParents(target entity.Entity) error {
	var parent models.EntityType
	switch v := target.(type) {
	case *entity.Contact:
		if v.CompanyID == 0 {
			parent = models.EntityCompany
		}
	case *entity.Deal:
		if v.CompanyID == 0 {
			parent = models.EntityCompany
		}
	case *entity.Meeting:
		if v.ContactID == 0 {
			parent = models.EntityContact
		}
	case *entity.Stage:
		if v.PipelineID == 0 {
			parent = models.EntityPipeline
		}
	}
	if parent == "" {
		return nil
	}
	return &errs.UnresolvedParentError{Entity: target.Type(), Parent: parent, Reference: "none given"}
}

package inbound

import (
	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"

	"go.uber.org/zap"
)

// crmEvent covers both webhook versions: v1 sends meta.object and current,
// v2 sends meta.entity and data.
type crmEvent struct {
	Meta *struct {
		Action   string `json:"action"`
		Object   string `json:"object"`
		Entity   string `json:"entity"`
		ID       any    `json:"id"`
		EntityID any    `json:"entity_id"`
	} `json:"meta"`
	Current  map[string]any `json:"current"`
	Data     map[string]any `json:"data"`
	Previous map[string]any `json:"previous"`
}

var crmObjects = map[string]models.EntityType{
	"organization": models.EntityCompany,
	"person":       models.EntityContact,
	"deal":         models.EntityDeal,
	"pipeline":     models.EntityPipeline,
	"stage":        models.EntityStage,
}

// CRMNormalizer reads CRM webhooks. Field keys, custom fields included, are
// resolved through the field mapping table.
type CRMNormalizer struct {
	table  *fieldmap.Table
	logger *zap.Logger
}

func NewCRMNormalizer(table *fieldmap.Table, logger *zap.Logger) *CRMNormalizer {
	return &CRMNormalizer{table: table, logger: logger.Named("inbound.crm")}
}

func (n *CRMNormalizer) Source() models.System { return models.SystemCRM }

func (n *CRMNormalizer) Normalize(raw []byte) ([]Intent, error) {
	var ev crmEvent
	if err := decode(raw, &ev); err != nil {
		return nil, errs.Malformed(models.SystemCRM, "decode webhook: %v", err)
	}
	if ev.Meta == nil {
		return nil, errs.Malformed(models.SystemCRM, "missing meta")
	}

	kind := ev.Meta.Object
	if kind == "" {
		kind = ev.Meta.Entity
	}
	t, ok := crmObjects[kind]
	if !ok {
		return nil, errs.Malformed(models.SystemCRM, "unknown object %q", kind)
	}

	current := ev.Current
	if current == nil {
		current = ev.Data
	}
	id := firstInt(ev.Meta.ID, ev.Meta.EntityID, current["id"], ev.Previous["id"])
	if id == 0 {
		return nil, errs.Malformed(models.SystemCRM, "%s event without id", kind)
	}

	intent := Intent{
		Source:     models.SystemCRM,
		EntityType: t,
		Operation:  crmOperation(ev.Meta.Action, current),
		ExternalID: id,
	}

	if intent.Operation == models.OpDelete {
		if d, ok := n.table.Lookup(models.SystemCRM, t, fieldmap.FieldHermesID); ok {
			intent.LocalID, _ = firstID(ev.Previous[d.Key])
		}
		return []Intent{intent}, nil
	}

	if t == models.EntityPipeline {
		if active, ok := current["active"].(bool); ok && !active {
			n.logger.Info("Ignoring inactive pipeline", zap.Int64("external_id", id))
			return nil, nil
		}
	}

	intent.Patch = entity.Patch{}
	for key, v := range current {
		if v == nil {
			continue
		}
		d, ok := n.table.Reverse(models.SystemCRM, t, key)
		if !ok {
			continue
		}
		switch d.Kind {
		case fieldmap.KindID:
			if local, ok := firstID(v); ok {
				intent.LocalID = local
			}
		case fieldmap.KindRef:
			ref, ok := intValue(v)
			if !ok || ref == 0 {
				continue
			}
			// custom admin fields hold our own admin ids
			if d.Custom {
				intent.setRef(d.Logical, Ref{LocalID: ref})
			} else {
				intent.setRef(d.Logical, Ref{System: models.SystemCRM, ExternalID: ref})
			}
		default:
			if !entity.Accepts(t, d.Logical) {
				continue
			}
			if value, ok := coerce(d.Kind, v); ok {
				intent.Patch[d.Logical] = value
			}
		}
	}
	return []Intent{intent}, nil
}

func crmOperation(action string, current map[string]any) models.Operation {
	switch action {
	case "deleted", "delete":
		return models.OpDelete
	case "added", "create":
		if current != nil {
			return models.OpCreate
		}
	}
	if current == nil {
		return models.OpDelete
	}
	return models.OpUpdate
}

// coerce converts a webhook value for a plain field. Empty values never
// overwrite what we already have.
func coerce(kind fieldmap.Kind, v any) (any, bool) {
	switch kind {
	case fieldmap.KindInt:
		i, ok := intValue(v)
		return i, ok
	case fieldmap.KindBool:
		if b, ok := v.(bool); ok {
			return b, true
		}
		s := stringValue(v)
		return s, s != ""
	}
	s := primary(v)
	return s, s != ""
}

func firstInt(values ...any) int64 {
	for _, v := range values {
		if id, ok := intValue(v); ok && id != 0 {
			return id
		}
	}
	return 0
}

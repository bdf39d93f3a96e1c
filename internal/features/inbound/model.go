package inbound

import (
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
)

// Ref points an intent at another entity. Exactly one way of resolving it is
// used, in this order: FromEvent, LocalID, then ExternalID in System.
type Ref struct {
	System     models.System `json:"system,omitempty"`
	ExternalID int64         `json:"external_id,omitempty"`
	LocalID    int64         `json:"local_id,omitempty"`
	// FromEvent refers to the entity of the ref's target type resolved
	// earlier in the same event and the same intent group.
	FromEvent bool `json:"from_event,omitempty"`
}

func (r Ref) IsZero() bool {
	return !r.FromEvent && r.LocalID == 0 && r.ExternalID == 0
}

// Intent is the canonical change one inbound payload asks for.
type Intent struct {
	Source     models.System     `json:"source"`
	EntityType models.EntityType `json:"entity_type"`
	Operation  models.Operation  `json:"operation"`
	// Group ties together the intents normalized from one subject of a
	// payload. FromEvent refs only see entities of their own group.
	Group int `json:"group,omitempty"`
	// ExternalID is the subject's id in Source.
	ExternalID int64 `json:"external_id,omitempty"`
	// LocalID is set when the payload already carries our own id.
	LocalID    int64             `json:"local_id,omitempty"`
	MatchHints entity.NaturalKey `json:"match_hints"`
	Patch      entity.Patch      `json:"patch,omitempty"`
	// Defaults are only written when the entity is created.
	Defaults entity.Patch `json:"defaults,omitempty"`
	// Refs are keyed by fieldmap logical names (owner, company, stage, ...).
	Refs map[string]Ref `json:"refs,omitempty"`
	// DefaultRefs are only set when the entity is created or first linked to
	// Source through a natural key match.
	DefaultRefs map[string]Ref `json:"default_refs,omitempty"`
	// MustExist refuses to create the entity when it cannot be resolved.
	MustExist bool `json:"must_exist,omitempty"`
}

func (i *Intent) setRef(field string, r Ref) {
	i.Refs = withRef(i.Refs, field, r)
}

func (i *Intent) setDefaultRef(field string, r Ref) {
	i.DefaultRefs = withRef(i.DefaultRefs, field, r)
}

// inGroup stamps group on every intent.
func inGroup(intents []Intent, group int) []Intent {
	for i := range intents {
		intents[i].Group = group
	}
	return intents
}

func withRef(refs map[string]Ref, field string, r Ref) map[string]Ref {
	if r.IsZero() {
		return refs
	}
	if refs == nil {
		refs = make(map[string]Ref)
	}
	refs[field] = r
	return refs
}

// Normalizer turns one raw payload from a source into intents, in the order
// they must be applied.
type Normalizer interface {
	Source() models.System
	Normalize(raw []byte) ([]Intent, error)
}

package fieldmap

import (
	"go-hermes/internal/common/models"
)

// Kind tells payload builders and normalizers how to encode a value.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindDate   Kind = "date"
	// KindRef values are ids of another entity in the target system.
	KindRef Kind = "ref"
	// KindID carries the local id so the remote record can point back at us.
	KindID Kind = "id"
)

// Logical names of reference and derived fields. Plain attributes use the
// entity.Field* names.
const (
	FieldHermesID      = "hermes_id"
	FieldOwner         = "owner"
	FieldSupportPerson = "support_person"
	FieldBDRPerson     = "bdr_person"
	FieldCompany       = "company"
	FieldContact       = "contact"
	FieldPipeline      = "pipeline"
	FieldStage         = "stage"
	FieldDeal          = "deal"
	FieldAdmin         = "admin"
	FieldCRMURL        = "crm_url"
	FieldSystemAURL    = "system_a_url"
	FieldCompanyStatus = "company_status"
	FieldSubject       = "subject"
	FieldDueDate       = "due_date"
	FieldDueTime       = "due_time"
	FieldDuration      = "duration"
	FieldActive        = "active"
)

// ExternalFieldDescriptor says where a logical field lives in one system.
type ExternalFieldDescriptor struct {
	System  models.System     `yaml:"system" json:"system"`
	Entity  models.EntityType `yaml:"entity" json:"entity"`
	Logical string            `yaml:"logical" json:"logical"`
	Key     string            `yaml:"key" json:"key"`
	Kind    Kind              `yaml:"kind" json:"kind"`
	Custom  bool              `yaml:"custom" json:"custom"`
	// Target is the referenced entity type for KindRef fields.
	Target models.EntityType `yaml:"target,omitempty" json:"target,omitempty"`
}

type overrideFile struct {
	Fields []ExternalFieldDescriptor `yaml:"fields"`
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ContextKey string

const (
	EventIDKey ContextKey = "event_id"
)

// System identifies one of the record systems Hermes talks to.
type System string

const (
	SystemA          System = "systemA"
	SystemCRM        System = "crm"
	SystemCallbooker System = "callbooker"
	SystemHermes     System = "hermes"
	SystemCalendar   System = "calendar"
)

// SyncTargets are the systems outbound sync can write to. The callbooker
// only ever sends events.
var SyncTargets = []System{SystemA, SystemCRM}

func (s System) Valid() bool {
	switch s {
	case SystemA, SystemCRM, SystemCallbooker:
		return true
	}
	return false
}

type EntityType string

const (
	EntityCompany  EntityType = "company"
	EntityContact  EntityType = "contact"
	EntityDeal     EntityType = "deal"
	EntityMeeting  EntityType = "meeting"
	EntityPipeline EntityType = "pipeline"
	EntityStage    EntityType = "stage"
	EntityAdmin    EntityType = "admin"
)

func ParseEntityType(s string) (EntityType, bool) {
	switch t := EntityType(s); t {
	case EntityCompany, EntityContact, EntityDeal, EntityMeeting, EntityPipeline, EntityStage, EntityAdmin:
		return t, true
	}
	return "", false
}

// SyncItem names one entity for the outbound dispatcher. Tasks carry ids only
// and re-read the entity when they run.
type SyncItem struct {
	Entity EntityType `json:"entity" bson:"entity"`
	ID     int64      `json:"id" bson:"id"`
}

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	// OpRefresh asks the caller to re-fetch the subject from its source before
	// reconciling it.
	OpRefresh Operation = "refresh"
)

type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
	AuditActionMatch  AuditAction = "MATCH"
	AuditActionDrop   AuditAction = "DROP"
	AuditActionSync   AuditAction = "SYNC"
	AuditActionCron   AuditAction = "CRON"
)

type Change struct {
	Old interface{} `bson:"old" json:"old"`
	New interface{} `bson:"new" json:"new"`
}

type AuditLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Action    AuditAction        `bson:"action" json:"action"`
	Module    string             `bson:"module" json:"module"`       // entity type
	RecordID  string             `bson:"record_id" json:"record_id"` // local id
	Source    System             `bson:"source" json:"source"`
	ActorID   string             `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	EventID   string             `bson:"event_id,omitempty" json:"event_id,omitempty"`
	Changes   map[string]Change  `bson:"changes,omitempty" json:"changes,omitempty"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

type Log struct {
	Message      string    `bson:"message" json:"message"`
	Logger       string    `bson:"logger,omitempty" json:"logger,omitempty"`
	Caller       string    `bson:"caller,omitempty" json:"caller,omitempty"`
	AppId        string    `bson:"app_id" json:"app_id"`
	LogLevelId   int       `bson:"log_level_id" json:"log_level_id"`
	Fields       any       `bson:"fields,omitempty" json:"fields,omitempty"`
	CreatedOnUtc time.Time `bson:"created_on_utc" json:"created_on_utc"`
}

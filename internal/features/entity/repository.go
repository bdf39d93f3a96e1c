package entity

import (
	"context"
	"time"

	"go-hermes/internal/common/models"
)

// KeyField names a natural key column.
type KeyField string

const (
	KeyEmail    KeyField = "email"
	KeyPhone    KeyField = "phone"
	KeyLastName KeyField = "last_name"
	KeyName     KeyField = "name"
)

// Repository is the typed CRUD surface of the Entity Store. Inside
// Store.WithinTx every call runs in the event's transaction.
type Repository interface {
	GetCompany(ctx context.Context, id int64) (*Company, error)
	GetContact(ctx context.Context, id int64) (*Contact, error)
	GetDeal(ctx context.Context, id int64) (*Deal, error)
	GetMeeting(ctx context.Context, id int64) (*Meeting, error)
	GetPipeline(ctx context.Context, id int64) (*Pipeline, error)
	GetStage(ctx context.Context, id int64) (*Stage, error)
	GetAdmin(ctx context.Context, id int64) (*Admin, error)
	Get(ctx context.Context, t models.EntityType, id int64) (Entity, error)

	// FindByExternalID returns ErrNotFound when no row carries the id.
	FindByExternalID(ctx context.Context, t models.EntityType, system models.System, externalID int64) (Entity, error)
	// FindByNaturalKey returns every candidate, newest first. For contacts a
	// non-zero scope restricts the search to one company.
	FindByNaturalKey(ctx context.Context, t models.EntityType, field KeyField, value string, scope int64) ([]Entity, error)

	ListContacts(ctx context.Context, companyID int64) ([]*Contact, error)
	// ListDeals lists a company's deals; an empty status lists all of them.
	ListDeals(ctx context.Context, companyID int64, status string) ([]*Deal, error)
	ListMeetings(ctx context.Context, contactID int64, from, to time.Time) ([]*Meeting, error)
	ListStages(ctx context.Context, pipelineID int64) ([]*Stage, error)
	ListAdmins(ctx context.Context) ([]*Admin, error)
	ListCompanies(ctx context.Context, q CompanyQuery) ([]*Company, error)

	// Upsert inserts entities with a zero id (assigning id and creation time)
	// and updates the rest.
	Upsert(ctx context.Context, e Entity) error
	// Delete removes e and everything it owns. See cascade rules in DESIGN.md.
	Delete(ctx context.Context, e Entity) error

	// LockCompany takes the row lock on a company for the rest of the
	// transaction.
	LockCompany(ctx context.Context, id int64) error
	// LockKey serialises creation for one natural key, e.g. "company:acme".
	LockKey(ctx context.Context, key string) error
}

// CompanyQuery filters ListCompanies. Zero fields match everything.
type CompanyQuery struct {
	Name             string
	Country          string
	PricePlan        PricePlan
	SystemAID        int64
	CRMOrgID         int64
	HasSalesPerson   bool
	HasSupportPerson bool
	// Newest orders by creation time, newest first. The default is by name.
	Newest bool
	Limit  int
}

type Store interface {
	Repository
	// WithinTx runs fn in one transaction, committed when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

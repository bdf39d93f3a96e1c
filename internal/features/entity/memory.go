package entity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go-hermes/internal/common/models"
)

// MemoryStore keeps every entity in process memory. Transactions are fully
// serialised and rolled back from a snapshot when fn fails.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	nextID    int64
	companies map[int64]Company
	contacts  map[int64]Contact
	deals     map[int64]Deal
	meetings  map[int64]Meeting
	pipelines map[int64]Pipeline
	stages    map[int64]Stage
	admins    map[int64]Admin
}

func newMemoryData() memoryData {
	return memoryData{
		companies: map[int64]Company{},
		contacts:  map[int64]Contact{},
		deals:     map[int64]Deal{},
		meetings:  map[int64]Meeting{},
		pipelines: map[int64]Pipeline{},
		stages:    map[int64]Stage{},
		admins:    map[int64]Admin{},
	}
}

func (d memoryData) clone() memoryData {
	c := newMemoryData()
	c.nextID = d.nextID
	for k, v := range d.companies {
		c.companies[k] = v
	}
	for k, v := range d.contacts {
		c.contacts[k] = v
	}
	for k, v := range d.deals {
		c.deals[k] = v
	}
	for k, v := range d.meetings {
		c.meetings[k] = v
	}
	for k, v := range d.pipelines {
		c.pipelines[k] = v
	}
	for k, v := range d.stages {
		c.stages[k] = v
	}
	for k, v := range d.admins {
		c.admins[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) GetCompany(ctx context.Context, id int64) (*Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.companies[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.contacts[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.deals[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetMeeting(ctx context.Context, id int64) (*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.meetings[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetPipeline(ctx context.Context, id int64) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.pipelines[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetStage(ctx context.Context, id int64) (*Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.stages[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetAdmin(ctx context.Context, id int64) (*Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data.admins[id]; ok {
		return &v, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Get(ctx context.Context, t models.EntityType, id int64) (Entity, error) {
	switch t {
	case models.EntityCompany:
		return s.GetCompany(ctx, id)
	case models.EntityContact:
		return s.GetContact(ctx, id)
	case models.EntityDeal:
		return s.GetDeal(ctx, id)
	case models.EntityMeeting:
		return s.GetMeeting(ctx, id)
	case models.EntityPipeline:
		return s.GetPipeline(ctx, id)
	case models.EntityStage:
		return s.GetStage(ctx, id)
	case models.EntityAdmin:
		return s.GetAdmin(ctx, id)
	}
	return nil, ErrNotFound
}

// all returns copies of every entity of type t.
func (s *MemoryStore) all(t models.EntityType) []Entity {
	var out []Entity
	switch t {
	case models.EntityCompany:
		for _, v := range s.data.companies {
			v := v
			out = append(out, &v)
		}
	case models.EntityContact:
		for _, v := range s.data.contacts {
			v := v
			out = append(out, &v)
		}
	case models.EntityDeal:
		for _, v := range s.data.deals {
			v := v
			out = append(out, &v)
		}
	case models.EntityMeeting:
		for _, v := range s.data.meetings {
			v := v
			out = append(out, &v)
		}
	case models.EntityPipeline:
		for _, v := range s.data.pipelines {
			v := v
			out = append(out, &v)
		}
	case models.EntityStage:
		for _, v := range s.data.stages {
			v := v
			out = append(out, &v)
		}
	case models.EntityAdmin:
		for _, v := range s.data.admins {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() > out[j].EntityID() })
	return out
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, t models.EntityType, system models.System, externalID int64) (Entity, error) {
	if externalID == 0 {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.all(t) {
		if e.ExternalID(system) == externalID {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByNaturalKey(ctx context.Context, t models.EntityType, field KeyField, value string, scope int64) ([]Entity, error) {
	if value == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	switch t {
	case models.EntityContact:
		for _, e := range s.all(t) {
			c := e.(*Contact)
			if scope != 0 && c.CompanyID != scope {
				continue
			}
			if contactMatches(c, field, value) {
				out = append(out, c)
			}
		}
	case models.EntityCompany:
		if field == KeyName {
			for _, e := range s.all(t) {
				if strings.EqualFold(e.(*Company).Name, value) {
					out = append(out, e)
				}
			}
			return out, nil
		}
		seen := map[int64]bool{}
		for _, e := range s.all(models.EntityContact) {
			c := e.(*Contact)
			if !contactMatches(c, field, value) || seen[c.CompanyID] {
				continue
			}
			if company, ok := s.data.companies[c.CompanyID]; ok {
				seen[c.CompanyID] = true
				out = append(out, &company)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].EntityID() > out[j].EntityID() })
	}
	return out, nil
}

func contactMatches(c *Contact, field KeyField, value string) bool {
	switch field {
	case KeyEmail:
		return c.Email != "" && strings.EqualFold(c.Email, value)
	case KeyPhone:
		return c.Phone != "" && c.Phone == value
	case KeyLastName:
		return c.LastName != "" && strings.EqualFold(c.LastName, value)
	}
	return false
}

func (s *MemoryStore) ListContacts(ctx context.Context, companyID int64) ([]*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Contact
	for _, v := range s.data.contacts {
		if v.CompanyID == companyID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListDeals(ctx context.Context, companyID int64, status string) ([]*Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Deal
	for _, v := range s.data.deals {
		if v.CompanyID == companyID && (status == "" || v.Status == status) {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListMeetings(ctx context.Context, contactID int64, from, to time.Time) ([]*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Meeting
	for _, v := range s.data.meetings {
		if v.ContactID != contactID || v.StartTime == nil {
			continue
		}
		if v.StartTime.Before(from) || v.StartTime.After(to) {
			continue
		}
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListStages(ctx context.Context, pipelineID int64) ([]*Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Stage
	for _, v := range s.data.stages {
		if v.PipelineID == pipelineID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (s *MemoryStore) ListAdmins(ctx context.Context) ([]*Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Admin
	for _, v := range s.data.admins {
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListCompanies(ctx context.Context, q CompanyQuery) ([]*Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Company
	for _, v := range s.data.companies {
		switch {
		case q.Name != "" && !strings.EqualFold(v.Name, q.Name),
			q.Country != "" && v.Country != q.Country,
			q.PricePlan != "" && v.PricePlan != q.PricePlan,
			q.SystemAID != 0 && v.SystemAID != q.SystemAID,
			q.CRMOrgID != 0 && v.CRMOrgID != q.CRMOrgID,
			q.HasSalesPerson && v.SalesPersonID == 0,
			q.HasSupportPerson && v.SupportPersonID == 0:
			continue
		}
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.Newest {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	assign := func(id *int64, created *time.Time) {
		if *id == 0 {
			s.data.nextID++
			*id = s.data.nextID
			if created.IsZero() {
				*created = now
			}
		}
	}

	switch v := e.(type) {
	case *Company:
		assign(&v.ID, &v.CreatedAt)
		s.data.companies[v.ID] = *v
	case *Contact:
		assign(&v.ID, &v.CreatedAt)
		s.data.contacts[v.ID] = *v
	case *Deal:
		assign(&v.ID, &v.CreatedAt)
		s.data.deals[v.ID] = *v
	case *Meeting:
		assign(&v.ID, &v.CreatedAt)
		s.data.meetings[v.ID] = *v
	case *Pipeline:
		assign(&v.ID, &v.CreatedAt)
		s.data.pipelines[v.ID] = *v
	case *Stage:
		assign(&v.ID, &v.CreatedAt)
		s.data.stages[v.ID] = *v
	case *Admin:
		assign(&v.ID, &v.CreatedAt)
		s.data.admins[v.ID] = *v
	default:
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := e.(type) {
	case *Company:
		for id, c := range s.data.contacts {
			if c.CompanyID == v.ID {
				s.deleteContact(id)
			}
		}
		for id, d := range s.data.deals {
			if d.CompanyID == v.ID {
				s.deleteDeal(id)
			}
		}
		delete(s.data.companies, v.ID)
	case *Contact:
		s.deleteContact(v.ID)
	case *Deal:
		s.deleteDeal(v.ID)
	case *Meeting:
		delete(s.data.meetings, v.ID)
	case *Pipeline:
		for id, st := range s.data.stages {
			if st.PipelineID == v.ID {
				s.deleteStage(id)
			}
		}
		for id, d := range s.data.deals {
			if d.PipelineID == v.ID {
				d.PipelineID = 0
				s.data.deals[id] = d
			}
		}
		delete(s.data.pipelines, v.ID)
	case *Stage:
		s.deleteStage(v.ID)
	case *Admin:
		delete(s.data.admins, v.ID)
	}
	return nil
}

func (s *MemoryStore) deleteContact(id int64) {
	for mid, m := range s.data.meetings {
		if m.ContactID == id {
			delete(s.data.meetings, mid)
		}
	}
	for did, d := range s.data.deals {
		if d.ContactID == id {
			d.ContactID = 0
			s.data.deals[did] = d
		}
	}
	delete(s.data.contacts, id)
}

func (s *MemoryStore) deleteDeal(id int64) {
	for mid, m := range s.data.meetings {
		if m.DealID == id {
			m.DealID = 0
			s.data.meetings[mid] = m
		}
	}
	delete(s.data.deals, id)
}

func (s *MemoryStore) deleteStage(id int64) {
	for did, d := range s.data.deals {
		if d.StageID == id {
			d.StageID = 0
			s.data.deals[did] = d
		}
	}
	for pid, p := range s.data.pipelines {
		if p.DefaultStageID == id {
			p.DefaultStageID = 0
			s.data.pipelines[pid] = p
		}
	}
	delete(s.data.stages, id)
}

// LockCompany is a no-op: memory transactions are already serialised.
func (s *MemoryStore) LockCompany(ctx context.Context, id int64) error { return nil }

func (s *MemoryStore) LockKey(ctx context.Context, key string) error { return nil }

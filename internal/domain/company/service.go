package company

import (
	"context"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/tax"
)

type StoreAPI interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, limit, offset int) ([]Company, error)
	Get(ctx context.Context, id string) (Company, error)
	Create(ctx context.Context, c Company) (string, error)
	Update(ctx context.Context, id string, c Company) error
	UpdateExemptions(ctx context.Context, id string, raw tax.RawExemptions) error
}

type Service struct {
	store StoreAPI
	audit audit.Recorder
}

func NewService(store StoreAPI, recorder audit.Recorder) *Service {
	return &Service{store: store, audit: recorder}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Company, int, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, id string) (Company, error) {
	return s.store.Get(ctx, id)
}

// Exemptions returns the resolved flags for a company; every tax applies
// when the company has not configured anything.
func (s *Service) Exemptions(ctx context.Context, id string) (tax.Exemptions, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return tax.Exemptions{}, err
	}
	return c.Exemptions, nil
}

func (s *Service) Create(ctx context.Context, actor audit.Actor, c Company, raw tax.RawExemptions) (Company, error) {
	c.Exemptions = tax.ResolveExemptions(raw)
	id, err := s.store.Create(ctx, c)
	if err != nil {
		return Company{}, err
	}
	c.ID = id
	s.record(ctx, id, actor, audit.ActionCreate, id, nil, c)
	return c, nil
}

func (s *Service) Update(ctx context.Context, actor audit.Actor, id string, c Company) (Company, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	if err := s.store.Update(ctx, id, c); err != nil {
		return Company{}, err
	}
	after, err := s.store.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	s.record(ctx, id, actor, audit.ActionUpdate, id, before, after)
	return after, nil
}

func (s *Service) UpdateExemptions(ctx context.Context, actor audit.Actor, id string, raw tax.RawExemptions) (tax.Exemptions, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return tax.Exemptions{}, err
	}
	if err := s.store.UpdateExemptions(ctx, id, raw); err != nil {
		return tax.Exemptions{}, err
	}
	after, err := s.store.Get(ctx, id)
	if err != nil {
		return tax.Exemptions{}, err
	}
	s.record(ctx, id, actor, audit.ActionUpdate, id, before.Exemptions, after.Exemptions)
	return after.Exemptions, nil
}

func (s *Service) record(ctx context.Context, companyID string, actor audit.Actor, action, entityID string, before, after any) {
	audit.Log(ctx, s.audit, companyID, actor, action, "company", entityID, before, after)
}

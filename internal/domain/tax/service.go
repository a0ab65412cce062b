package tax

import (
	"context"
	"time"

	"hrpay/internal/domain/audit"
)

type StoreAPI interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, limit, offset int) ([]Configuration, error)
	Get(ctx context.Context, id string) (Configuration, error)
	Create(ctx context.Context, cfg Configuration, actorID string) (string, error)
}

// Service manages configuration versions. Stored snapshots are never edited;
// a change is a new snapshot with a later effective date.
type Service struct {
	store    StoreAPI
	provider *Provider
	audit    audit.Recorder
	now      func() time.Time
}

func NewService(store StoreAPI, provider *Provider, recorder audit.Recorder) *Service {
	return &Service{store: store, provider: provider, audit: recorder, now: time.Now}
}

// Current is the configuration in force today, or the default snapshot.
func (s *Service) Current(ctx context.Context) Configuration {
	return s.provider.Current(ctx, s.now())
}

// At is the configuration in force on the given day.
func (s *Service) At(ctx context.Context, asOf time.Time) Configuration {
	return s.provider.Current(ctx, asOf)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Configuration, int, error) {
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

func (s *Service) Get(ctx context.Context, id string) (Configuration, error) {
	return s.store.Get(ctx, id)
}

// Create resolves and validates raw, stores it as a new version and drops the
// provider cache so the next lookup sees it.
func (s *Service) Create(ctx context.Context, actor audit.Actor, raw RawConfiguration) (Configuration, error) {
	raw.ID = ""
	cfg, err := ResolveConfiguration(raw)
	if err != nil {
		return Configuration{}, err
	}
	id, err := s.store.Create(ctx, cfg, actor.UserID)
	if err != nil {
		return Configuration{}, err
	}
	s.provider.Invalidate()

	cfg.ID = id
	cfg.CreatedBy = actor.UserID
	cfg.CreatedAt = s.now().UTC()
	audit.Log(ctx, s.audit, "", actor, audit.ActionCreate, "tax_configuration", id, nil, cfg)
	return cfg, nil
}

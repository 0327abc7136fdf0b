package categories

import (
	"context"
	"log/slog"

	mdshared "github.com/assetdesk/assetdesk/internal/masterdata/shared"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// ListCache is the read-through cache used for listings.
type ListCache interface {
	FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error
	Bump(ctx context.Context) error
}

type Service struct {
	repo   Repository
	cache  ListCache
	logger *slog.Logger
}

func NewService(repo Repository, cache ListCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) List(ctx context.Context, filters mdshared.ListFilters) ([]Category, error) {
	if s.cache == nil {
		return s.repo.List(ctx, filters)
	}
	var out []Category
	err := s.cache.FetchJSON(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.List(ctx, filters)
	}, "categories", filters.Key())
	return out, err
}

func (s *Service) Get(ctx context.Context, id int64) (Category, error) {
	if id <= 0 {
		return Category{}, shared.NewValidationError("id", "invalid category ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, in Input) (Category, error) {
	in, err := s.validate(in)
	if err != nil {
		return Category{}, err
	}
	created, err := s.repo.Create(ctx, Category{Code: in.Code, Name: in.Name, Description: in.Description})
	if err != nil {
		return Category{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (Category, error) {
	if id <= 0 {
		return Category{}, shared.NewValidationError("id", "invalid category ID")
	}
	in, err := s.validate(in)
	if err != nil {
		return Category{}, err
	}
	updated, err := s.repo.Update(ctx, id, Category{Code: in.Code, Name: in.Name, Description: in.Description})
	if err != nil {
		return Category{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a category. Categories still referenced by items are refused.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.NewValidationError("id", "invalid category ID")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump category cache", slog.Any("error", err))
	}
}

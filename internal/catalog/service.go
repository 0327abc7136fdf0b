package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)
	Delete(ctx context.Context, id int64) error
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	inventory.LedgerTx
	codegen.Store
	InsertItem(ctx context.Context, item Item) (Item, error)
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
}

// ListCache is the read-through cache used for listings.
type ListCache interface {
	FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error
	Bump(ctx context.Context) error
}

// Recorder receives ledger metrics for opening stock entries.
type Recorder interface {
	StockMovement(txType, referenceType string)
}

// Config holds catalog defaults.
type Config struct {
	DefaultMinStock int64
	DefaultMaxStock int64
	CodeRetries     int
	Policy          inventory.Policy
}

// Service manages the item catalog.
type Service struct {
	repo    RepositoryPort
	codes   *codegen.Generator
	cache   ListCache
	metrics Recorder
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService builds Service. cache and metrics may be nil.
func NewService(repo RepositoryPort, codes *codegen.Generator, cache ListCache, metrics Recorder, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if codes == nil {
		codes = codegen.NewGenerator(logger, nil)
	}
	if cfg.DefaultMinStock == 0 && cfg.DefaultMaxStock == 0 {
		cfg.DefaultMinStock, cfg.DefaultMaxStock = 5, 100
	}
	if cfg.CodeRetries < 1 {
		cfg.CodeRetries = 1
	}
	return &Service{
		repo:    repo,
		codes:   codes,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListItems returns items ordered by name with derived stock flags.
func (s *Service) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	load := func(ctx context.Context) (any, error) {
		items, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for i := range items {
			items[i] = withFlags(items[i])
		}
		return items, nil
	}
	if s.cache == nil {
		items, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return items.([]Item), nil
	}
	var items []Item
	if err := s.cache.FetchJSON(ctx, &items, load, "items", filter.key()); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem loads one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.NewValidationError("id", "invalid item ID")
	}
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return withFlags(item), nil
}

// CreateItem persists a new item. A missing code is generated from the
// category; generated codes are retried on a uniqueness conflict.
func (s *Service) CreateItem(ctx context.Context, in CreateInput) (Item, error) {
	in, err := s.normalizeCreate(in)
	if err != nil {
		return Item{}, err
	}
	explicit := in.Code != ""
	attempts := 1
	if !explicit {
		attempts = s.cfg.CodeRetries
	}

	for attempt := 1; ; attempt++ {
		item, err := s.createOnce(ctx, in, explicit)
		if err == nil {
			s.invalidate(ctx)
			return withFlags(item), nil
		}
		if explicit || !errors.Is(err, shared.ErrConflict) || attempt >= attempts {
			return Item{}, err
		}
		s.logger.Warn("generated item code collided, retrying",
			slog.Int64("category_id", in.CategoryID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
}

func (s *Service) createOnce(ctx context.Context, in CreateInput, explicit bool) (Item, error) {
	var created Item
	var opening *inventory.StockTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		categoryName, err := tx.CategoryName(ctx, in.CategoryID)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewValidationError("category_id", "unknown category")
		}
		if err != nil {
			return err
		}
		code := in.Code
		if !explicit {
			code = s.codes.ItemCode(ctx, tx, in.CategoryID)
		}
		now := s.now()
		item := Item{
			Code:        code,
			Name:        in.Name,
			CategoryID:  in.CategoryID,
			Unit:        in.Unit,
			UnitPrice:   in.UnitPrice,
			MinStock:    *in.MinStock,
			MaxStock:    *in.MaxStock,
			SupplierID:  in.SupplierID,
			Location:    in.Location,
			Description: in.Description,
			IsActive:    *in.IsActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err = tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		created.CategoryName = categoryName
		if in.Stock > 0 {
			entry, err := inventory.Apply(ctx, tx, s.cfg.Policy, inventory.ApplyInput{
				ItemID:        created.ID,
				Type:          inventory.TransactionTypeIn,
				Quantity:      in.Stock,
				ReferenceType: inventory.ReferenceOpening,
				Notes:         "Opening stock",
				CreatedBy:     in.CreatedBy,
			}, now)
			if err != nil {
				return err
			}
			created.Stock = entry.NewStock
			opening = &entry
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	if opening != nil && s.metrics != nil {
		s.metrics.StockMovement(string(opening.Type), string(opening.ReferenceType))
	}
	return created, nil
}

func (s *Service) normalizeCreate(in CreateInput) (CreateInput, error) {
	in.Code = codegen.NormalizeCode(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Unit = strings.TrimSpace(in.Unit)
	in.Location = strings.TrimSpace(in.Location)
	in.Description = strings.TrimSpace(in.Description)
	if in.MinStock == nil {
		v := s.cfg.DefaultMinStock
		in.MinStock = &v
	}
	if in.MaxStock == nil {
		v := s.cfg.DefaultMaxStock
		in.MaxStock = &v
	}
	if in.IsActive == nil {
		active := true
		in.IsActive = &active
	}

	var verr *shared.ValidationError
	if err := shared.ValidateStruct(in); err != nil {
		if !errors.As(err, &verr) {
			return CreateInput{}, err
		}
	}
	verr = verr.Merge(checkLevels(in.UnitPrice, *in.MinStock, *in.MaxStock))
	if err := verr.OrNil(); err != nil {
		return CreateInput{}, err
	}
	return in, nil
}

// UpdateItem applies a partial update. Stock cannot be edited directly.
func (s *Service) UpdateItem(ctx context.Context, id int64, patch UpdateInput) (Item, error) {
	if id <= 0 {
		return Item{}, shared.NewValidationError("id", "invalid item ID")
	}
	if patch.Stock != nil {
		return Item{}, shared.NewValidationError("stock", fmt.Sprintf("cannot be edited directly; record a stock adjustment for item %d", id))
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		verr := &shared.ValidationError{Fields: map[string]string{}}
		if patch.Name != nil {
			item.Name = strings.TrimSpace(*patch.Name)
			if item.Name == "" {
				verr.Fields["name"] = "is required"
			}
		}
		if patch.Unit != nil {
			item.Unit = strings.TrimSpace(*patch.Unit)
			if item.Unit == "" {
				verr.Fields["unit"] = "is required"
			}
		}
		if patch.CategoryID != nil && *patch.CategoryID != item.CategoryID {
			if _, err := tx.CategoryName(ctx, *patch.CategoryID); err != nil {
				if !errors.Is(err, shared.ErrNotFound) {
					return err
				}
				verr.Fields["category_id"] = "unknown category"
			}
			item.CategoryID = *patch.CategoryID
		}
		if patch.UnitPrice != nil {
			item.UnitPrice = *patch.UnitPrice
		}
		if patch.MinStock != nil {
			item.MinStock = *patch.MinStock
		}
		if patch.MaxStock != nil {
			item.MaxStock = *patch.MaxStock
		}
		if patch.SupplierID != nil {
			item.SupplierID = patch.SupplierID
		}
		if patch.Location != nil {
			item.Location = strings.TrimSpace(*patch.Location)
		}
		if patch.Description != nil {
			item.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.IsActive != nil {
			item.IsActive = *patch.IsActive
		}
		verr = verr.Merge(checkLevels(item.UnitPrice, item.MinStock, item.MaxStock))
		if err := verr.OrNil(); err != nil {
			return err
		}
		item.UpdatedAt = s.now()
		return tx.UpdateItem(ctx, item)
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return s.GetItem(ctx, id)
}

// DeleteItem hard-deletes an item that no ledger row or request line references.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.NewValidationError("id", "invalid item ID")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// LowStockReport lists active items at or below minimum stock with the
// quantity needed to reach maximum stock.
func (s *Service) LowStockReport(ctx context.Context) ([]LowStockEntry, error) {
	items, err := s.ListItems(ctx, ListFilter{LowStockOnly: true, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	out := make([]LowStockEntry, 0, len(items))
	for _, item := range items {
		reorder := item.MaxStock - item.Stock
		if reorder < 0 {
			reorder = 0
		}
		out = append(out, LowStockEntry{Item: item, ReorderQuantity: reorder})
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump item cache", slog.Any("error", err))
	}
}

func checkLevels(price decimal.Decimal, minStock, maxStock int64) *shared.ValidationError {
	verr := &shared.ValidationError{Fields: map[string]string{}}
	if price.IsNegative() {
		verr.Fields["unit_price"] = "must be at least 0"
	}
	if minStock < 0 {
		verr.Fields["min_stock"] = "must be at least 0"
	}
	if maxStock < minStock {
		verr.Fields["max_stock"] = "must be at least min_stock"
	}
	return verr
}

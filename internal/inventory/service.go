package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/assetdesk/assetdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]StockTransaction, error)
	FindDiscrepancies(ctx context.Context) ([]Discrepancy, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LedgerTx
}

// IdempotencyPort guards against replayed stock receipts.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached listings after stock changes.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Recorder receives ledger metrics.
type Recorder interface {
	StockMovement(txType, referenceType string)
	LedgerDiscrepancies(count int)
}

// Service coordinates stock movements.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	cache       Invalidator
	metrics     Recorder
	logger      *slog.Logger
	policy      Policy
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service. idem, cache and metrics may be nil.
func NewService(repo RepositoryPort, idem IdempotencyPort, cache Invalidator, metrics Recorder, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		idempotency: idem,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		policy:      Policy{AllowNegativeStock: cfg.AllowNegativeStock},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Policy exposes the movement policy so other modules apply the same rules.
func (s *Service) Policy() Policy {
	return s.policy
}

// ApplyTransaction applies one movement in its own database transaction.
func (s *Service) ApplyTransaction(ctx context.Context, input ApplyInput) (StockTransaction, error) {
	var entry StockTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = Apply(ctx, tx, s.policy, input, s.now())
		return err
	})
	if err != nil {
		return StockTransaction{}, err
	}
	s.committed(ctx, entry)
	return entry, nil
}

// StockIn receives goods. A non-empty idempotency key must be a UUID and can
// be used once.
func (s *Service) StockIn(ctx context.Context, input StockInInput) (StockTransaction, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return StockTransaction{}, err
	}
	if input.ReferenceType == "" {
		input.ReferenceType = ReferencePurchase
	}

	key := ""
	if input.IdempotencyKey != "" {
		parsed, err := uuid.Parse(input.IdempotencyKey)
		if err != nil {
			return StockTransaction{}, shared.NewValidationError("idempotency_key", "must be a UUID")
		}
		key = "stock-in:" + parsed.String()
	}
	insertedKey := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return StockTransaction{}, err
		}
		insertedKey = true
	}

	entry, err := s.ApplyTransaction(ctx, ApplyInput{
		ItemID:        input.ItemID,
		Type:          TransactionTypeIn,
		Quantity:      input.Quantity,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		CreatedBy:     input.CreatedBy,
	})
	if err != nil {
		if insertedKey {
			if derr := s.idempotency.Delete(ctx, key); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return StockTransaction{}, err
	}
	return entry, nil
}

// StockOut issues goods outside the request workflow.
func (s *Service) StockOut(ctx context.Context, input StockOutInput) (StockTransaction, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return StockTransaction{}, err
	}
	return s.ApplyTransaction(ctx, ApplyInput{
		ItemID:        input.ItemID,
		Type:          TransactionTypeOut,
		Quantity:      input.Quantity,
		ReferenceType: ReferenceManual,
		Notes:         input.Notes,
		CreatedBy:     input.CreatedBy,
	})
}

// Adjust records a stock opname. The difference between the counted and the
// recorded stock becomes an IN or OUT entry.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (StockTransaction, error) {
	if input.ItemID <= 0 {
		return StockTransaction{}, shared.NewValidationError("item_id", "is required")
	}
	if err := shared.ValidateStruct(input); err != nil {
		return StockTransaction{}, err
	}
	var entry StockTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockItem(ctx, input.ItemID)
		if err != nil {
			return err
		}
		diff := input.CountedStock - item.Stock
		if diff == 0 {
			return shared.NewValidationError("counted_stock", "matches recorded stock, nothing to adjust")
		}
		apply := ApplyInput{
			ItemID:        item.ID,
			Type:          TransactionTypeIn,
			Quantity:      diff,
			ReferenceType: ReferenceAdjustment,
			Notes:         input.Notes,
			CreatedBy:     input.CreatedBy,
		}
		if diff < 0 {
			apply.Type = TransactionTypeOut
			apply.Quantity = -diff
		}
		if apply.Notes == "" {
			apply.Notes = fmt.Sprintf("Stock opname: counted %d, recorded %d", input.CountedStock, item.Stock)
		}
		entry, err = Apply(ctx, tx, s.policy, apply, s.now())
		return err
	})
	if err != nil {
		return StockTransaction{}, err
	}
	s.committed(ctx, entry)
	return entry, nil
}

// ListTransactions returns ledger rows newest first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]StockTransaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.NewValidationError("type", "must be IN or OUT")
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	return s.repo.ListTransactions(ctx, filter)
}

// Reconcile lists items whose stock differs from their latest ledger snapshot.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	found, err := s.repo.FindDiscrepancies(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LedgerDiscrepancies(len(found))
	}
	for _, d := range found {
		s.logger.Warn("stock ledger discrepancy",
			slog.Int64("item_id", d.ItemID),
			slog.String("item_code", d.ItemCode),
			slog.Int64("stock", d.Stock),
			slog.Int64("ledger_stock", d.LedgerStock),
		)
	}
	return found, nil
}

func (s *Service) committed(ctx context.Context, entry StockTransaction) {
	if s.metrics != nil {
		s.metrics.StockMovement(string(entry.Type), string(entry.ReferenceType))
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("bump item cache", slog.Any("error", err))
		}
	}
}

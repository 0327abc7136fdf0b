package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/assetdesk/assetdesk/internal/shared"
)

// LedgerTx is the transactional surface Apply needs. Other modules embed it in
// their own transaction repositories so that stock moves commit together with
// their workflow changes.
type LedgerTx interface {
	// LockItem reads the item and holds its row lock until the transaction ends.
	LockItem(ctx context.Context, itemID int64) (ItemStock, error)
	SetItemStock(ctx context.Context, itemID, stock int64, at time.Time) error
	InsertTransaction(ctx context.Context, entry StockTransaction) (int64, error)
}

// Apply is the only code path that changes an item's stock. It must run inside
// the caller's database transaction: the stock update and the ledger row are
// written together or not at all.
func Apply(ctx context.Context, tx LedgerTx, policy Policy, input ApplyInput, now time.Time) (StockTransaction, error) {
	if !input.Type.Valid() {
		return StockTransaction{}, shared.NewValidationError("transaction_type", "must be IN or OUT")
	}
	if input.Quantity <= 0 {
		return StockTransaction{}, shared.NewValidationError("quantity", "must be greater than 0")
	}

	item, err := tx.LockItem(ctx, input.ItemID)
	if err != nil {
		return StockTransaction{}, err
	}

	next := item.Stock + input.Quantity
	if input.Type == TransactionTypeOut {
		next = item.Stock - input.Quantity
	}
	if next < 0 && !policy.AllowNegativeStock {
		return StockTransaction{}, &shared.InsufficientStockError{Shortages: []shared.Shortage{{
			ItemID:    item.ID,
			ItemCode:  item.Code,
			Requested: input.Quantity,
			Available: item.Stock,
		}}}
	}

	if err := tx.SetItemStock(ctx, item.ID, next, now); err != nil {
		return StockTransaction{}, fmt.Errorf("inventory: update stock: %w", err)
	}
	entry := StockTransaction{
		ItemID:        item.ID,
		ItemName:      item.Name,
		Type:          input.Type,
		Quantity:      input.Quantity,
		PreviousStock: item.Stock,
		NewStock:      next,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now,
	}
	id, err := tx.InsertTransaction(ctx, entry)
	if err != nil {
		return StockTransaction{}, fmt.Errorf("inventory: insert transaction: %w", err)
	}
	entry.ID = id
	return entry, nil
}

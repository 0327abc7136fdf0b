package inventory_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/assetdesk/assetdesk/internal/catalog"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/shared"
	"github.com/assetdesk/assetdesk/internal/testing/memstore"
)

type recorder struct {
	mu            sync.Mutex
	movements     []string
	discrepancies int
}

func (r *recorder) StockMovement(txType, referenceType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.movements = append(r.movements, txType+"/"+referenceType)
}

func (r *recorder) LedgerDiscrepancies(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discrepancies = count
}

type bumpCounter struct {
	mu    sync.Mutex
	bumps int
}

func (b *bumpCounter) Bump(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bumps++
	return nil
}

type fixture struct {
	store   *memstore.Store
	svc     *inventory.Service
	metrics *recorder
	cache   *bumpCounter
	itemID  int64
}

func newFixture(t *testing.T, cfg inventory.ServiceConfig, stock int64) fixture {
	t.Helper()
	store := memstore.New()
	cat := store.SeedCategory("PPR", "Paper & Printing")
	id := store.SeedItem(catalog.Item{Code: "PPR-001", Name: "Kertas A4", CategoryID: cat, Unit: "rim", Stock: stock, MinStock: 5, MaxStock: 100, IsActive: true})
	metrics := &recorder{}
	cache := &bumpCounter{}
	svc := inventory.NewService(store.Inventory(), store.Idempotency(), cache, metrics, nil, cfg)
	return fixture{store: store, svc: svc, metrics: metrics, cache: cache, itemID: id}
}

func TestStockOutDrivesItemLow(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)

	entry, err := f.svc.StockOut(context.Background(), inventory.StockOutInput{ItemID: f.itemID, Quantity: 8, CreatedBy: "gudang"})
	require.NoError(t, err)
	require.Equal(t, int64(10), entry.PreviousStock)
	require.Equal(t, int64(2), entry.NewStock)
	require.Equal(t, inventory.TransactionTypeOut, entry.Type)
	require.Equal(t, inventory.ReferenceManual, entry.ReferenceType)

	require.Equal(t, int64(2), f.store.ItemStock(f.itemID))
	require.True(t, catalog.IsLowStock(catalog.Item{Stock: 2, MinStock: 5}))
	require.Equal(t, []string{"OUT/MANUAL"}, f.metrics.movements)
	require.Equal(t, 1, f.cache.bumps)
}

func TestStockOutRefusesNegativeStock(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 3)

	_, err := f.svc.StockOut(context.Background(), inventory.StockOutInput{ItemID: f.itemID, Quantity: 4})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var short *shared.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Len(t, short.Shortages, 1)
	require.Equal(t, int64(4), short.Shortages[0].Requested)
	require.Equal(t, int64(3), short.Shortages[0].Available)

	require.Equal(t, int64(3), f.store.ItemStock(f.itemID))
	require.Len(t, f.store.Ledger(), 1)
	require.Empty(t, f.metrics.movements)
}

func TestStockOutAllowsNegativeWhenConfigured(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{AllowNegativeStock: true}, 3)

	entry, err := f.svc.StockOut(context.Background(), inventory.StockOutInput{ItemID: f.itemID, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, int64(-1), entry.NewStock)
	require.True(t, f.svc.Policy().AllowNegativeStock)
}

func TestStockInValidation(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 0)
	ctx := context.Background()

	_, err := f.svc.StockIn(ctx, inventory.StockInInput{ItemID: f.itemID, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.StockIn(ctx, inventory.StockInInput{ItemID: 999, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.StockIn(ctx, inventory.StockInInput{ItemID: f.itemID, Quantity: 1, IdempotencyKey: "not-a-uuid"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStockInIdempotencyKey(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 0)
	ctx := context.Background()
	key := uuid.NewString()

	entry, err := f.svc.StockIn(ctx, inventory.StockInInput{ItemID: f.itemID, Quantity: 20, IdempotencyKey: key})
	require.NoError(t, err)
	require.Equal(t, inventory.ReferencePurchase, entry.ReferenceType)
	require.Equal(t, int64(20), entry.NewStock)

	_, err = f.svc.StockIn(ctx, inventory.StockInInput{ItemID: f.itemID, Quantity: 20, IdempotencyKey: key})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(20), f.store.ItemStock(f.itemID))
}

func TestStockInReleasesKeyOnFailure(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 0)
	ctx := context.Background()
	key := uuid.NewString()

	_, err := f.svc.StockIn(ctx, inventory.StockInInput{ItemID: 999, Quantity: 5, IdempotencyKey: key})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.StockIn(ctx, inventory.StockInInput{ItemID: f.itemID, Quantity: 5, IdempotencyKey: key})
	require.NoError(t, err)
}

func TestLedgerChainsSnapshots(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)
	ctx := context.Background()

	_, err := f.svc.StockIn(ctx, inventory.StockInInput{ItemID: f.itemID, Quantity: 15})
	require.NoError(t, err)
	_, err = f.svc.StockOut(ctx, inventory.StockOutInput{ItemID: f.itemID, Quantity: 7})
	require.NoError(t, err)

	ledger := f.store.Ledger()
	require.Len(t, ledger, 3)
	for i := 1; i < len(ledger); i++ {
		assert.Equal(t, ledger[i-1].NewStock, ledger[i].PreviousStock)
	}
	require.Equal(t, ledger[len(ledger)-1].NewStock, f.store.ItemStock(f.itemID))

	rows, err := f.svc.ListTransactions(ctx, inventory.TransactionFilter{ItemID: f.itemID})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, ledger[2].ID, rows[0].ID)
	require.Equal(t, "Kertas A4", rows[0].ItemName)

	outs, err := f.svc.ListTransactions(ctx, inventory.TransactionFilter{Type: inventory.TransactionTypeOut})
	require.NoError(t, err)
	require.Len(t, outs, 1)

	_, err = f.svc.ListTransactions(ctx, inventory.TransactionFilter{Type: "SIDEWAYS"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentStockOutNeverOversells(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StockOut(ctx, inventory.StockOutInput{ItemID: f.itemID, Quantity: 3})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, shared.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	require.Equal(t, 3, success)
	require.Equal(t, int64(1), f.store.ItemStock(f.itemID))
}

func TestAdjustRecordsDifference(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)
	ctx := context.Background()

	entry, err := f.svc.Adjust(ctx, inventory.AdjustInput{ItemID: f.itemID, CountedStock: 7, CreatedBy: "auditor"})
	require.NoError(t, err)
	require.Equal(t, inventory.TransactionTypeOut, entry.Type)
	require.Equal(t, int64(3), entry.Quantity)
	require.Equal(t, inventory.ReferenceAdjustment, entry.ReferenceType)
	require.Contains(t, entry.Notes, "counted 7")

	entry, err = f.svc.Adjust(ctx, inventory.AdjustInput{ItemID: f.itemID, CountedStock: 12})
	require.NoError(t, err)
	require.Equal(t, inventory.TransactionTypeIn, entry.Type)
	require.Equal(t, int64(5), entry.Quantity)
	require.Equal(t, int64(12), f.store.ItemStock(f.itemID))

	_, err = f.svc.Adjust(ctx, inventory.AdjustInput{ItemID: f.itemID, CountedStock: 12})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Adjust(ctx, inventory.AdjustInput{ItemID: f.itemID, CountedStock: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)
	ctx := context.Background()

	found, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, found)

	f.store.SetItemStock(f.itemID, 13)
	found, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, inventory.Discrepancy{
		ItemID: f.itemID, ItemCode: "PPR-001", ItemName: "Kertas A4",
		Stock: 13, LedgerStock: 10, HasLedger: true,
	}, found[0])
	require.Equal(t, 1, f.metrics.discrepancies)
}

func TestApplyRejectsBadInput(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)

	_, err := f.svc.ApplyTransaction(context.Background(), inventory.ApplyInput{ItemID: f.itemID, Type: "MOVE", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ApplyTransaction(context.Background(), inventory.ApplyInput{ItemID: f.itemID, Type: inventory.TransactionTypeIn, Quantity: -2})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.store.Ledger(), 1)
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t, inventory.ServiceConfig{}, 10)
	ctx := context.Background()
	_, err := f.svc.StockOut(ctx, inventory.StockOutInput{ItemID: f.itemID, Quantity: 4, Notes: "rapat"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportXLSX(ctx, inventory.TransactionFilter{}, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	header, err := book.GetCellValue("Ledger", "A1")
	require.NoError(t, err)
	require.Equal(t, "Tanggal", header)

	typ, err := book.GetCellValue("Ledger", "D2")
	require.NoError(t, err)
	require.Equal(t, "OUT", typ)

	total, err := book.GetCellValue("Ledger", "A4")
	require.NoError(t, err)
	require.Equal(t, "Total", total)

	net, err := book.GetCellValue("Ledger", "E4")
	require.NoError(t, err)
	require.Equal(t, "6", net)
}

package requests_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assetdesk/assetdesk/internal/catalog"
	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/requests"
	"github.com/assetdesk/assetdesk/internal/shared"
	"github.com/assetdesk/assetdesk/internal/testing/memstore"
)

type transitions struct {
	mu     sync.Mutex
	states []string
	moves  int
}

func (r *transitions) StockMovement(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves++
}

func (r *transitions) RequestTransition(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, status)
}

type fixture struct {
	store   *memstore.Store
	svc     *requests.Service
	metrics *transitions
	itemA   int64
	itemB   int64
}

func newFixture(t *testing.T, policy inventory.Policy) fixture {
	t.Helper()
	store := memstore.New()
	cat := store.SeedCategory("PPR", "Paper & Printing")
	a := store.SeedItem(catalog.Item{Code: "PPR-001", Name: "Kertas A4", CategoryID: cat, Unit: "rim", Stock: 10, MinStock: 5, MaxStock: 50, IsActive: true})
	b := store.SeedItem(catalog.Item{Code: "PPR-002", Name: "Kertas F4", CategoryID: cat, Unit: "rim", Stock: 6, MinStock: 5, MaxStock: 50, IsActive: true})
	metrics := &transitions{}
	svc := requests.NewService(store.Requests(), codegen.NewGenerator(nil, nil), nil, metrics, nil, requests.Config{Policy: policy, CodeRetries: 3})
	return fixture{store: store, svc: svc, metrics: metrics, itemA: a, itemB: b}
}

func (f fixture) create(t *testing.T, qtyA, qtyB int64) requests.Request {
	t.Helper()
	req, err := f.svc.Create(context.Background(), requests.CreateInput{
		EmployeeName: "Budi Santoso",
		Department:   "Finance",
		Purpose:      "Laporan bulanan",
		Lines: []requests.LineInput{
			{ItemID: f.itemA, QuantityRequested: qtyA},
			{ItemID: f.itemB, QuantityRequested: qtyB},
		},
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t, inventory.Policy{})

	req := f.create(t, 3, 5)
	year := time.Now().UTC().Year()
	require.Equal(t, codegen.FormatRequestNumber(year, 1), req.Number)
	require.Equal(t, requests.StatusSubmitted, req.Status)
	require.Len(t, req.Lines, 2)
	for _, line := range req.Lines {
		require.Equal(t, requests.LinePending, line.Status)
		require.Zero(t, line.QuantityApproved)
	}
	require.Equal(t, "Kertas A4", req.Lines[0].ItemName)
	require.Equal(t, int64(10), req.Lines[0].AvailableStock)

	next := f.create(t, 1, 1)
	require.Equal(t, codegen.FormatRequestNumber(year, 2), next.Number)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, requests.CreateInput{EmployeeName: "Budi", Department: "Finance"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, requests.CreateInput{
		EmployeeName: "Budi", Department: "Finance",
		Lines: []requests.LineInput{{ItemID: f.itemA, QuantityRequested: 0}},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items[0].quantity_requested")

	_, err = f.svc.Create(ctx, requests.CreateInput{
		EmployeeName: "Budi", Department: "Finance",
		Lines: []requests.LineInput{{ItemID: 404, QuantityRequested: 1}},
	})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items[0].item_id")

	_, err = f.svc.Create(ctx, requests.CreateInput{
		EmployeeName: "Budi", Department: "Finance", RequestDate: "2026-03-10", NeededDate: "2026-03-01",
		Lines: []requests.LineInput{{ItemID: f.itemA, QuantityRequested: 1}},
	})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "needed_date")
}

func TestApproveMovesStock(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req := f.create(t, 3, 5)

	approved, err := f.svc.Approve(ctx, req.ID, "Manager GA")
	require.NoError(t, err)
	require.Equal(t, requests.StatusApproved, approved.Status)
	require.Equal(t, "Manager GA", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedDate)
	for _, line := range approved.Lines {
		require.Equal(t, requests.LineApproved, line.Status)
		require.Equal(t, line.QuantityRequested, line.QuantityApproved)
	}

	require.Equal(t, int64(7), f.store.ItemStock(f.itemA))
	require.Equal(t, int64(1), f.store.ItemStock(f.itemB))

	var moves []inventory.StockTransaction
	for _, entry := range f.store.Ledger() {
		if entry.ReferenceType == inventory.ReferenceRequest {
			moves = append(moves, entry)
		}
	}
	require.Len(t, moves, 2)
	for _, m := range moves {
		require.Equal(t, inventory.TransactionTypeOut, m.Type)
		require.NotNil(t, m.ReferenceID)
		require.Equal(t, req.ID, *m.ReferenceID)
		require.Equal(t, "Manager GA", m.CreatedBy)
	}
	require.Equal(t, 2, f.metrics.moves)
	require.Equal(t, []string{"Submitted", "Approved"}, f.metrics.states)
}

func TestRejectLeavesStockUntouched(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req := f.create(t, 3, 5)
	before := len(f.store.Ledger())

	rejected, err := f.svc.Reject(ctx, req.ID, "Manager GA", "Insufficient stock")
	require.NoError(t, err)
	require.Equal(t, requests.StatusRejected, rejected.Status)
	require.Equal(t, "Insufficient stock", rejected.RejectionReason)
	for _, line := range rejected.Lines {
		require.Equal(t, requests.LineRejected, line.Status)
	}
	require.Len(t, f.store.Ledger(), before)
	require.Equal(t, int64(10), f.store.ItemStock(f.itemA))
	require.Equal(t, int64(6), f.store.ItemStock(f.itemB))

	_, err = f.svc.Approve(ctx, req.ID, "Manager GA")
	require.ErrorIs(t, err, shared.ErrConflict)
}

var errReplay = errors.New("deadlock detected")

// replayingRepo runs every transaction body twice, discarding the first run,
// the way the database layer replays a transaction after a deadlock.
type replayingRepo struct {
	requests.RepositoryPort
}

func (r replayingRepo) WithTx(ctx context.Context, fn func(context.Context, requests.TxRepository) error) error {
	first := true
	err := r.RepositoryPort.WithTx(ctx, func(ctx context.Context, tx requests.TxRepository) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if first {
			first = false
			return errReplay
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		return r.RepositoryPort.WithTx(ctx, fn)
	}
	return err
}

func TestApproveReplayCountsMovementsOnce(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	req := f.create(t, 3, 5)
	svc := requests.NewService(replayingRepo{f.store.Requests()}, codegen.NewGenerator(nil, nil), nil, f.metrics, nil, requests.Config{CodeRetries: 3})

	_, err := svc.Approve(context.Background(), req.ID, "Manager GA")
	require.NoError(t, err)
	require.Equal(t, 2, f.metrics.moves)
	require.Equal(t, int64(7), f.store.ItemStock(f.itemA))
	require.Equal(t, int64(1), f.store.ItemStock(f.itemB))
}

func TestApproveShortageRollsBack(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req := f.create(t, 3, 9)
	before := len(f.store.Ledger())

	_, err := f.svc.Approve(ctx, req.ID, "Manager GA")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Len(t, short.Shortages, 1)
	require.Equal(t, f.itemB, short.Shortages[0].ItemID)
	require.Equal(t, int64(9), short.Shortages[0].Requested)
	require.Equal(t, int64(6), short.Shortages[0].Available)

	require.Equal(t, int64(10), f.store.ItemStock(f.itemA))
	require.Equal(t, int64(6), f.store.ItemStock(f.itemB))
	require.Len(t, f.store.Ledger(), before)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requests.StatusSubmitted, got.Status)
}

func TestApproveSumsDemandPerItem(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req, err := f.svc.Create(ctx, requests.CreateInput{
		EmployeeName: "Sari", Department: "HR",
		Lines: []requests.LineInput{
			{ItemID: f.itemB, QuantityRequested: 4},
			{ItemID: f.itemB, QuantityRequested: 4},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, "Manager GA")
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Len(t, short.Shortages, 2)
	require.Equal(t, int64(6), f.store.ItemStock(f.itemB))
}

func TestApproveWithNegativeStockPolicy(t *testing.T) {
	f := newFixture(t, inventory.Policy{AllowNegativeStock: true})
	req := f.create(t, 3, 9)

	_, err := f.svc.Approve(context.Background(), req.ID, "Manager GA")
	require.NoError(t, err)
	require.Equal(t, int64(-3), f.store.ItemStock(f.itemB))
}

func TestDoubleApproveRefused(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req := f.create(t, 1, 1)

	_, err := f.svc.Approve(ctx, req.ID, "Manager GA")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, req.ID, "Manager GA")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(9), f.store.ItemStock(f.itemA))
}

func TestConcurrentApprovalsMoveStockOnce(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req := f.create(t, 2, 2)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Approve(ctx, req.ID, "Manager GA"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok)
	require.Equal(t, int64(8), f.store.ItemStock(f.itemA))
}

func TestDraftSubmitCancel(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, requests.CreateInput{
		EmployeeName: "Sari", Department: "HR", Draft: true,
		Lines: []requests.LineInput{{ItemID: f.itemA, QuantityRequested: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, requests.StatusDraft, draft.Status)

	_, err = f.svc.Approve(ctx, draft.ID, "Manager GA")
	require.ErrorIs(t, err, shared.ErrConflict)

	submitted, err := f.svc.Submit(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, requests.StatusSubmitted, submitted.Status)

	cancelled, err := f.svc.Cancel(ctx, draft.ID, "Sari", "salah input")
	require.NoError(t, err)
	require.Equal(t, requests.StatusCancelled, cancelled.Status)
	require.Contains(t, cancelled.Notes, "salah input")
	require.Equal(t, requests.LineCancelled, cancelled.Lines[0].Status)

	_, err = f.svc.Submit(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestIssueCompletesApprovedRequest(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	req := f.create(t, 3, 5)

	_, err := f.svc.Issue(ctx, req.ID, "Gudang")
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Approve(ctx, req.ID, "Manager GA")
	require.NoError(t, err)
	ledger := len(f.store.Ledger())

	done, err := f.svc.Issue(ctx, req.ID, "Gudang")
	require.NoError(t, err)
	require.Equal(t, requests.StatusCompleted, done.Status)
	for _, line := range done.Lines {
		require.Equal(t, requests.LineIssued, line.Status)
		require.Equal(t, line.QuantityApproved, line.QuantityIssued)
	}
	require.Len(t, f.store.Ledger(), ledger)
	require.Equal(t, int64(7), f.store.ItemStock(f.itemA))
}

func TestDeleteRequest(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()

	pending := f.create(t, 1, 1)
	require.NoError(t, f.svc.Delete(ctx, pending.ID))
	_, err := f.svc.Get(ctx, pending.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	approved := f.create(t, 1, 1)
	_, err = f.svc.Approve(ctx, approved.ID, "Manager GA")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(ctx, approved.ID), shared.ErrConflict)

	require.ErrorIs(t, f.svc.Delete(ctx, 404), shared.ErrNotFound)
}

func TestListRequests(t *testing.T) {
	f := newFixture(t, inventory.Policy{})
	ctx := context.Background()
	first := f.create(t, 1, 1)
	second := f.create(t, 1, 1)
	_, err := f.svc.Reject(ctx, first.ID, "Manager GA", "")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, requests.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	submitted, err := f.svc.List(ctx, requests.ListFilter{Status: requests.StatusSubmitted})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	require.Equal(t, second.ID, submitted[0].ID)

	_, err = f.svc.List(ctx, requests.ListFilter{Status: "Lost"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to requests.Status
		ok       bool
	}{
		{requests.StatusDraft, requests.StatusSubmitted, true},
		{requests.StatusDraft, requests.StatusApproved, false},
		{requests.StatusSubmitted, requests.StatusApproved, true},
		{requests.StatusSubmitted, requests.StatusRejected, true},
		{requests.StatusApproved, requests.StatusCompleted, true},
		{requests.StatusApproved, requests.StatusCancelled, false},
		{requests.StatusRejected, requests.StatusSubmitted, false},
		{requests.StatusCompleted, requests.StatusApproved, false},
		{requests.StatusCancelled, requests.StatusSubmitted, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

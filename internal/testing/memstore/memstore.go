// Package memstore is an in-memory stand-in for the PostgreSQL repositories.
// One transaction runs at a time and its writes are discarded when the
// callback fails.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/assetdesk/assetdesk/internal/catalog"
	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/masterdata/categories"
	mdshared "github.com/assetdesk/assetdesk/internal/masterdata/shared"
	"github.com/assetdesk/assetdesk/internal/requests"
	"github.com/assetdesk/assetdesk/internal/shared"
)

type state struct {
	categories map[int64]categories.Category
	items      map[int64]catalog.Item
	ledger     []inventory.StockTransaction
	requests   map[int64]requests.Request
	sequences  map[string]int64
	ids        map[string]int64
}

func (s *state) clone() *state {
	out := &state{
		categories: make(map[int64]categories.Category, len(s.categories)),
		items:      make(map[int64]catalog.Item, len(s.items)),
		ledger:     append([]inventory.StockTransaction(nil), s.ledger...),
		requests:   make(map[int64]requests.Request, len(s.requests)),
		sequences:  make(map[string]int64, len(s.sequences)),
		ids:        make(map[string]int64, len(s.ids)),
	}
	for k, v := range s.categories {
		out.categories[k] = v
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.requests {
		v.Lines = append([]requests.Line(nil), v.Lines...)
		out.requests[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k, v := range s.ids {
		out.ids[k] = v
	}
	return out
}

func (s *state) nextID(table string) int64 {
	s.ids[table]++
	return s.ids[table]
}

// Store holds every table in memory.
type Store struct {
	mu    sync.Mutex
	st    *state
	keys  map[string]time.Time
	clock func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		st: &state{
			categories: map[int64]categories.Category{},
			items:      map[int64]catalog.Item{},
			requests:   map[int64]requests.Request{},
			sequences:  map[string]int64{},
			ids:        map[string]int64{},
		},
		keys:  map[string]time.Time{},
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// inTx runs fn against a copy of the state and publishes it only on success.
func (s *Store) inTx(ctx context.Context, fn func(*txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&txn{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// SetItemStock overwrites an item's stock without a ledger row. Tests use it
// to simulate drift between stock and ledger.
func (s *Store) SetItemStock(id, stock int64) {
	s.read(func(st *state) {
		item := st.items[id]
		item.Stock = stock
		st.items[id] = item
	})
}

// Ledger returns every ledger row in insertion order.
func (s *Store) Ledger() []inventory.StockTransaction {
	var out []inventory.StockTransaction
	s.read(func(st *state) { out = append(out, st.ledger...) })
	return out
}

// txn implements the transactional ports of every module.
type txn struct {
	st *state
}

func (t *txn) LockItem(_ context.Context, itemID int64) (inventory.ItemStock, error) {
	item, ok := t.st.items[itemID]
	if !ok {
		return inventory.ItemStock{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	return inventory.ItemStock{ID: item.ID, Code: item.Code, Name: item.Name, Stock: item.Stock}, nil
}

func (t *txn) SetItemStock(_ context.Context, itemID, stock int64, at time.Time) error {
	item, ok := t.st.items[itemID]
	if !ok {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	item.Stock = stock
	item.UpdatedAt = at
	t.st.items[itemID] = item
	return nil
}

func (t *txn) InsertTransaction(_ context.Context, entry inventory.StockTransaction) (int64, error) {
	if _, ok := t.st.items[entry.ItemID]; !ok {
		return 0, fmt.Errorf("%w: item %d", shared.ErrConflict, entry.ItemID)
	}
	entry.ID = t.st.nextID("stock_transactions")
	entry.ItemName = ""
	t.st.ledger = append(t.st.ledger, entry)
	return entry.ID, nil
}

func (t *txn) CategoryName(_ context.Context, categoryID int64) (string, error) {
	c, ok := t.st.categories[categoryID]
	if !ok {
		return "", fmt.Errorf("%w: category %d", shared.ErrNotFound, categoryID)
	}
	return c.Name, nil
}

func (t *txn) CountItemCodesWithPrefix(_ context.Context, prefix string) (int64, error) {
	var n int64
	for _, item := range t.st.items {
		if strings.HasPrefix(item.Code, prefix) {
			n++
		}
	}
	return n, nil
}

func (t *txn) ItemCodeExists(_ context.Context, code string) (bool, error) {
	for _, item := range t.st.items {
		if item.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *txn) CountRequestNumbersForYear(_ context.Context, year int) (int64, error) {
	prefix := codegen.RequestYearPrefix(year)
	var n int64
	for _, req := range t.st.requests {
		if strings.HasPrefix(req.Number, prefix) {
			n++
		}
	}
	return n, nil
}

func (t *txn) NextSequence(_ context.Context, scope string, floor int64) (int64, error) {
	next := max(t.st.sequences[scope], floor) + 1
	t.st.sequences[scope] = next
	return next, nil
}

func (t *txn) InsertItem(_ context.Context, item catalog.Item) (catalog.Item, error) {
	for _, existing := range t.st.items {
		if existing.Code == item.Code {
			return catalog.Item{}, fmt.Errorf("%w: item code %s already exists", shared.ErrConflict, item.Code)
		}
	}
	if _, ok := t.st.categories[item.CategoryID]; !ok {
		return catalog.Item{}, fmt.Errorf("%w: category %d", shared.ErrConflict, item.CategoryID)
	}
	item.ID = t.st.nextID("items")
	item.UpdatedAt = item.CreatedAt
	t.st.items[item.ID] = item
	return item, nil
}

func (t *txn) GetItemForUpdate(_ context.Context, id int64) (catalog.Item, error) {
	item, ok := t.st.items[id]
	if !ok {
		return catalog.Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return joinItem(t.st, item), nil
}

func (t *txn) UpdateItem(_ context.Context, item catalog.Item) error {
	current, ok := t.st.items[item.ID]
	if !ok {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, item.ID)
	}
	item.Code = current.Code
	item.Stock = current.Stock
	item.CreatedAt = current.CreatedAt
	item.CategoryName = ""
	t.st.items[item.ID] = item
	return nil
}

func (t *txn) MissingItems(_ context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	seen := map[int64]bool{}
	for _, id := range ids {
		if _, ok := t.st.items[id]; !ok && !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	return missing, nil
}

func (t *txn) InsertRequest(_ context.Context, req requests.Request) (int64, error) {
	for _, existing := range t.st.requests {
		if existing.Number == req.Number {
			return 0, fmt.Errorf("%w: request number %s already exists", shared.ErrConflict, req.Number)
		}
	}
	req.ID = t.st.nextID("requests")
	req.Lines = nil
	t.st.requests[req.ID] = req
	return req.ID, nil
}

func (t *txn) InsertLines(_ context.Context, requestID int64, lines []requests.Line) error {
	req, ok := t.st.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: request %d", shared.ErrConflict, requestID)
	}
	for _, l := range lines {
		l.ID = t.st.nextID("request_lines")
		l.RequestID = requestID
		req.Lines = append(req.Lines, l)
	}
	t.st.requests[requestID] = req
	return nil
}

func (t *txn) GetRequestForUpdate(_ context.Context, id int64) (requests.Request, error) {
	req, ok := t.st.requests[id]
	if !ok {
		return requests.Request{}, fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
	}
	return joinRequest(t.st, req), nil
}

func (t *txn) UpdateRequest(_ context.Context, req requests.Request) error {
	current, ok := t.st.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: request %d", shared.ErrNotFound, req.ID)
	}
	current.Status = req.Status
	current.ApprovedBy = req.ApprovedBy
	current.ApprovedDate = req.ApprovedDate
	current.RejectionReason = req.RejectionReason
	current.Notes = req.Notes
	current.UpdatedAt = req.UpdatedAt
	t.st.requests[req.ID] = current
	return nil
}

func (t *txn) UpdateLines(_ context.Context, lines []requests.Line) error {
	for _, l := range lines {
		req, ok := t.st.requests[l.RequestID]
		if !ok {
			return fmt.Errorf("%w: request %d", shared.ErrNotFound, l.RequestID)
		}
		for i := range req.Lines {
			if req.Lines[i].ID == l.ID {
				req.Lines[i].QuantityApproved = l.QuantityApproved
				req.Lines[i].QuantityIssued = l.QuantityIssued
				req.Lines[i].Status = l.Status
			}
		}
		t.st.requests[l.RequestID] = req
	}
	return nil
}

func (t *txn) DeleteRequest(_ context.Context, id int64) error {
	if _, ok := t.st.requests[id]; !ok {
		return fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
	}
	delete(t.st.requests, id)
	return nil
}

func joinItem(st *state, item catalog.Item) catalog.Item {
	item.CategoryName = st.categories[item.CategoryID].Name
	return item
}

func joinRequest(st *state, req requests.Request) requests.Request {
	lines := make([]requests.Line, len(req.Lines))
	for i, l := range req.Lines {
		item := st.items[l.ItemID]
		l.ItemName, l.ItemCode, l.Unit, l.AvailableStock = item.Name, item.Code, item.Unit, item.Stock
		lines[i] = l
	}
	req.Lines = lines
	return req
}

// Categories adapts the store to categories.Repository.
func (s *Store) Categories() categories.Repository { return categoryRepo{s} }

type categoryRepo struct{ s *Store }

func (r categoryRepo) List(_ context.Context, filters mdshared.ListFilters) ([]categories.Category, error) {
	filters = filters.Normalize()
	out := []categories.Category{}
	search := strings.ToLower(filters.Search)
	r.s.read(func(st *state) {
		for _, c := range st.categories {
			if search == "" || strings.Contains(strings.ToLower(c.Name), search) || strings.Contains(strings.ToLower(c.Code), search) {
				out = append(out, c)
			}
		}
	})
	key := func(c categories.Category) string { return c.Name }
	if filters.SortBy == string(mdshared.SortByCode) {
		key = func(c categories.Category) string { return c.Code }
	}
	sort.Slice(out, func(i, j int) bool {
		if filters.Descending() {
			return key(out[i]) > key(out[j])
		}
		return key(out[i]) < key(out[j])
	})
	return out, nil
}

func (r categoryRepo) Get(_ context.Context, id int64) (categories.Category, error) {
	var (
		c  categories.Category
		ok bool
	)
	r.s.read(func(st *state) { c, ok = st.categories[id] })
	if !ok {
		return categories.Category{}, fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
	}
	return c, nil
}

func (r categoryRepo) Create(ctx context.Context, c categories.Category) (categories.Category, error) {
	err := r.s.inTx(ctx, func(t *txn) error {
		for _, existing := range t.st.categories {
			if existing.Code == c.Code || existing.Name == c.Name {
				return fmt.Errorf("%w: category %s already exists", shared.ErrConflict, c.Code)
			}
		}
		now := r.s.clock()
		c.ID = t.st.nextID("categories")
		c.CreatedAt, c.UpdatedAt = now, now
		t.st.categories[c.ID] = c
		return nil
	})
	return c, err
}

func (r categoryRepo) Update(ctx context.Context, id int64, c categories.Category) (categories.Category, error) {
	err := r.s.inTx(ctx, func(t *txn) error {
		current, ok := t.st.categories[id]
		if !ok {
			return fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
		}
		for _, existing := range t.st.categories {
			if existing.ID != id && (existing.Code == c.Code || existing.Name == c.Name) {
				return fmt.Errorf("%w: category %s already exists", shared.ErrConflict, c.Code)
			}
		}
		c.ID, c.CreatedAt, c.UpdatedAt = id, current.CreatedAt, r.s.clock()
		t.st.categories[id] = c
		return nil
	})
	return c, err
}

func (r categoryRepo) Delete(ctx context.Context, id int64) error {
	return r.s.inTx(ctx, func(t *txn) error {
		if _, ok := t.st.categories[id]; !ok {
			return fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
		}
		for _, item := range t.st.items {
			if item.CategoryID == id {
				return fmt.Errorf("%w: category %d still has items", shared.ErrConflict, id)
			}
		}
		delete(t.st.categories, id)
		return nil
	})
}

// Catalog adapts the store to catalog.RepositoryPort.
func (s *Store) Catalog() catalog.RepositoryPort { return catalogRepo{s} }

type catalogRepo struct{ s *Store }

func (r catalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.s.inTx(ctx, func(t *txn) error { return fn(ctx, t) })
}

func (r catalogRepo) List(_ context.Context, filter catalog.ListFilter) ([]catalog.Item, error) {
	out := []catalog.Item{}
	search := strings.ToLower(filter.Search)
	r.s.read(func(st *state) {
		for _, item := range st.items {
			switch {
			case search != "" && !strings.Contains(strings.ToLower(item.Name), search) && !strings.Contains(strings.ToLower(item.Code), search):
				continue
			case filter.CategoryID > 0 && item.CategoryID != filter.CategoryID:
				continue
			case filter.LowStockOnly && item.Stock > item.MinStock:
				continue
			case filter.ActiveOnly && !item.IsActive:
				continue
			}
			out = append(out, joinItem(st, item))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r catalogRepo) Get(_ context.Context, id int64) (catalog.Item, error) {
	var (
		item catalog.Item
		ok   bool
	)
	r.s.read(func(st *state) {
		item, ok = st.items[id]
		item = joinItem(st, item)
	})
	if !ok {
		return catalog.Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return item, nil
}

func (r catalogRepo) Delete(ctx context.Context, id int64) error {
	return r.s.inTx(ctx, func(t *txn) error {
		if _, ok := t.st.items[id]; !ok {
			return fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
		}
		for _, entry := range t.st.ledger {
			if entry.ItemID == id {
				return fmt.Errorf("%w: item %d has stock transactions or request lines", shared.ErrConflict, id)
			}
		}
		for _, req := range t.st.requests {
			for _, l := range req.Lines {
				if l.ItemID == id {
					return fmt.Errorf("%w: item %d has stock transactions or request lines", shared.ErrConflict, id)
				}
			}
		}
		delete(t.st.items, id)
		return nil
	})
}

// Inventory adapts the store to inventory.RepositoryPort.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.inTx(ctx, func(t *txn) error { return fn(ctx, t) })
}

func (r inventoryRepo) ListTransactions(_ context.Context, filter inventory.TransactionFilter) ([]inventory.StockTransaction, error) {
	out := []inventory.StockTransaction{}
	r.s.read(func(st *state) {
		for _, entry := range st.ledger {
			switch {
			case filter.ItemID > 0 && entry.ItemID != filter.ItemID:
				continue
			case filter.Type != "" && entry.Type != filter.Type:
				continue
			case filter.ReferenceType != "" && entry.ReferenceType != filter.ReferenceType:
				continue
			case filter.ReferenceID > 0 && (entry.ReferenceID == nil || *entry.ReferenceID != filter.ReferenceID):
				continue
			case !filter.From.IsZero() && entry.CreatedAt.Before(filter.From):
				continue
			case !filter.To.IsZero() && entry.CreatedAt.After(filter.To):
				continue
			}
			entry.ItemName = st.items[entry.ItemID].Name
			out = append(out, entry)
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = inventory.DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r inventoryRepo) FindDiscrepancies(_ context.Context) ([]inventory.Discrepancy, error) {
	out := []inventory.Discrepancy{}
	r.s.read(func(st *state) {
		latest := map[int64]int64{}
		for _, entry := range st.ledger {
			latest[entry.ItemID] = entry.NewStock
		}
		for _, item := range st.items {
			ledger, has := latest[item.ID]
			if item.Stock == ledger {
				continue
			}
			out = append(out, inventory.Discrepancy{
				ItemID: item.ID, ItemCode: item.Code, ItemName: item.Name,
				Stock: item.Stock, LedgerStock: ledger, HasLedger: has,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// Requests adapts the store to requests.RepositoryPort.
func (s *Store) Requests() requests.RepositoryPort { return requestRepo{s} }

type requestRepo struct{ s *Store }

func (r requestRepo) WithTx(ctx context.Context, fn func(context.Context, requests.TxRepository) error) error {
	return r.s.inTx(ctx, func(t *txn) error { return fn(ctx, t) })
}

func (r requestRepo) List(_ context.Context, filter requests.ListFilter) ([]requests.Request, error) {
	out := []requests.Request{}
	search := strings.ToLower(filter.Search)
	r.s.read(func(st *state) {
		for _, req := range st.requests {
			switch {
			case filter.Status != "" && req.Status != filter.Status:
				continue
			case filter.Department != "" && req.Department != filter.Department:
				continue
			case search != "" && !strings.Contains(strings.ToLower(req.Number), search) && !strings.Contains(strings.ToLower(req.EmployeeName), search):
				continue
			}
			out = append(out, joinRequest(st, req))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r requestRepo) Get(_ context.Context, id int64) (requests.Request, error) {
	var (
		req requests.Request
		ok  bool
	)
	r.s.read(func(st *state) {
		req, ok = st.requests[id]
		req = joinRequest(st, req)
	})
	if !ok {
		return requests.Request{}, fmt.Errorf("%w: request %d", shared.ErrNotFound, id)
	}
	return req, nil
}

// Idempotency adapts the store to inventory.IdempotencyPort.
func (s *Store) Idempotency() *Idempotency { return &Idempotency{s: s} }

// Idempotency mirrors shared.IdempotencyStore outside of transactions.
type Idempotency struct{ s *Store }

func (i *Idempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if key == "" {
		return shared.NewValidationError("idempotency_key", "is required")
	}
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if _, ok := i.s.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.s.keys[key] = i.s.clock()
	return nil
}

func (i *Idempotency) Delete(_ context.Context, key string) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	delete(i.s.keys, key)
	return nil
}

// SeedCategory inserts a category and returns its ID.
func (s *Store) SeedCategory(code, name string) int64 {
	var id int64
	s.read(func(st *state) {
		id = st.nextID("categories")
		now := s.clock()
		st.categories[id] = categories.Category{ID: id, Code: code, Name: name, CreatedAt: now, UpdatedAt: now}
	})
	return id
}

// SeedItem inserts an item. Positive stock is backed by an opening ledger row
// so that the item reconciles.
func (s *Store) SeedItem(item catalog.Item) int64 {
	s.read(func(st *state) {
		item.ID = st.nextID("items")
		now := s.clock()
		item.CreatedAt, item.UpdatedAt = now, now
		st.items[item.ID] = item
		if item.Stock > 0 {
			st.ledger = append(st.ledger, inventory.StockTransaction{
				ID:            st.nextID("stock_transactions"),
				ItemID:        item.ID,
				Type:          inventory.TransactionTypeIn,
				Quantity:      item.Stock,
				NewStock:      item.Stock,
				ReferenceType: inventory.ReferenceOpening,
				CreatedAt:     now,
			})
		}
	})
	return item.ID
}

// ItemStock returns the stored stock of an item.
func (s *Store) ItemStock(id int64) int64 {
	var stock int64
	s.read(func(st *state) { stock = st.items[id].Stock })
	return stock
}

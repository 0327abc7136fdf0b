package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Request, error)
	Get(ctx context.Context, id int64) (Request, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	inventory.LedgerTx
	codegen.Store
	MissingItems(ctx context.Context, ids []int64) ([]int64, error)
	InsertRequest(ctx context.Context, req Request) (int64, error)
	InsertLines(ctx context.Context, requestID int64, lines []Line) error
	GetRequestForUpdate(ctx context.Context, id int64) (Request, error)
	UpdateRequest(ctx context.Context, req Request) error
	UpdateLines(ctx context.Context, lines []Line) error
	DeleteRequest(ctx context.Context, id int64) error
}

// Invalidator drops cached item listings after stock moves.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Recorder receives workflow metrics.
type Recorder interface {
	StockMovement(txType, referenceType string)
	RequestTransition(status string)
}

// Config holds workflow settings.
type Config struct {
	Policy      inventory.Policy
	CodeRetries int
}

// Service runs the request workflow.
type Service struct {
	repo    RepositoryPort
	codes   *codegen.Generator
	cache   Invalidator
	metrics Recorder
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService builds Service. cache and metrics may be nil.
func NewService(repo RepositoryPort, codes *codegen.Generator, cache Invalidator, metrics Recorder, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if codes == nil {
		codes = codegen.NewGenerator(logger, nil)
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

// List returns requests newest first with their lines.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.NewValidationError("status", "unknown status")
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.List(ctx, filter)
}

// Get loads one request with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	if id <= 0 {
		return Request{}, shared.NewValidationError("id", "invalid request ID")
	}
	return s.repo.Get(ctx, id)
}

// Create opens a request. It starts Submitted unless Draft is set.
func (s *Service) Create(ctx context.Context, in CreateInput) (Request, error) {
	in.EmployeeName = strings.TrimSpace(in.EmployeeName)
	in.Department = strings.TrimSpace(in.Department)
	if err := shared.ValidateStruct(in); err != nil {
		return Request{}, err
	}
	now := s.now()
	requestDate := truncateDay(now)
	if in.RequestDate != "" {
		requestDate, _ = time.Parse(time.DateOnly, in.RequestDate)
	}
	var neededDate *time.Time
	if in.NeededDate != "" {
		d, _ := time.Parse(time.DateOnly, in.NeededDate)
		if d.Before(requestDate) {
			return Request{}, shared.NewValidationError("needed_date", "must not be before request_date")
		}
		neededDate = &d
	}
	status := StatusSubmitted
	if in.Draft {
		status = StatusDraft
	}

	var id int64
	for attempt := 1; ; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			ids := make([]int64, 0, len(in.Lines))
			for _, l := range in.Lines {
				ids = append(ids, l.ItemID)
			}
			missing, err := tx.MissingItems(ctx, ids)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				verr := &shared.ValidationError{Fields: map[string]string{}}
				for i, l := range in.Lines {
					for _, m := range missing {
						if l.ItemID == m {
							verr.Fields[fmt.Sprintf("items[%d].item_id", i)] = fmt.Sprintf("unknown item %d", m)
						}
					}
				}
				return verr
			}

			number, err := s.codes.RequestNumber(ctx, tx, now)
			if err != nil {
				return err
			}
			req := Request{
				Number:       number,
				EmployeeID:   in.EmployeeID,
				EmployeeName: in.EmployeeName,
				Department:   in.Department,
				RequestDate:  requestDate,
				NeededDate:   neededDate,
				Purpose:      strings.TrimSpace(in.Purpose),
				Status:       status,
				Notes:        strings.TrimSpace(in.Notes),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			id, err = tx.InsertRequest(ctx, req)
			if err != nil {
				return err
			}
			lines := make([]Line, 0, len(in.Lines))
			for _, l := range in.Lines {
				lines = append(lines, Line{
					ItemID:            l.ItemID,
					QuantityRequested: l.QuantityRequested,
					Status:            LinePending,
					Notes:             strings.TrimSpace(l.Notes),
				})
			}
			return tx.InsertLines(ctx, id, lines)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConflict) || attempt >= s.cfg.CodeRetries {
			return Request{}, err
		}
		s.logger.Warn("request number collided, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	s.transitioned(status)
	return s.repo.Get(ctx, id)
}

// Submit moves a draft to Submitted.
func (s *Service) Submit(ctx context.Context, id int64) (Request, error) {
	return s.transition(ctx, id, StatusSubmitted, func(_ context.Context, _ TxRepository, req *Request) error {
		return nil
	})
}

// Approve approves every line and decrements stock, all in one transaction.
// When stock cannot cover the request, nothing changes and every short line
// is reported.
func (s *Service) Approve(ctx context.Context, id int64, approvedBy string) (Request, error) {
	approvedBy = strings.TrimSpace(approvedBy)
	if approvedBy == "" {
		return Request{}, shared.NewValidationError("approved_by", "is required")
	}
	var moved []inventory.StockTransaction
	req, err := s.transition(ctx, id, StatusApproved, func(ctx context.Context, tx TxRepository, req *Request) error {
		// the closure is replayed after a deadlock
		moved = moved[:0]
		if err := s.checkStock(ctx, tx, req.Lines); err != nil {
			return err
		}
		now := s.now()
		for i := range req.Lines {
			line := &req.Lines[i]
			entry, err := inventory.Apply(ctx, tx, s.cfg.Policy, inventory.ApplyInput{
				ItemID:        line.ItemID,
				Type:          inventory.TransactionTypeOut,
				Quantity:      line.QuantityRequested,
				ReferenceType: inventory.ReferenceRequest,
				ReferenceID:   &req.ID,
				Notes:         fmt.Sprintf("Request %s approved", req.Number),
				CreatedBy:     approvedBy,
			}, now)
			if err != nil {
				return err
			}
			moved = append(moved, entry)
			line.QuantityApproved = line.QuantityRequested
			line.Status = LineApproved
		}
		req.ApprovedBy = approvedBy
		req.ApprovedDate = &now
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	if s.metrics != nil {
		for _, m := range moved {
			s.metrics.StockMovement(string(m.Type), string(m.ReferenceType))
		}
	}
	s.invalidate(ctx)
	return req, nil
}

// checkStock locks every referenced item in id order and compares the summed
// demand per item with its stock.
func (s *Service) checkStock(ctx context.Context, tx TxRepository, lines []Line) error {
	demand := map[int64]int64{}
	for _, l := range lines {
		demand[l.ItemID] += l.QuantityRequested
	}
	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stock := make(map[int64]inventory.ItemStock, len(ids))
	for _, id := range ids {
		item, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		stock[id] = item
	}
	if s.cfg.Policy.AllowNegativeStock {
		return nil
	}
	var shortages []shared.Shortage
	for _, l := range lines {
		item := stock[l.ItemID]
		if demand[l.ItemID] > item.Stock {
			shortages = append(shortages, shared.Shortage{
				LineID:    l.ID,
				ItemID:    l.ItemID,
				ItemCode:  item.Code,
				Requested: l.QuantityRequested,
				Available: item.Stock,
			})
		}
	}
	if len(shortages) > 0 {
		return &shared.InsufficientStockError{Shortages: shortages}
	}
	return nil
}

// Reject closes a submitted request without touching stock.
func (s *Service) Reject(ctx context.Context, id int64, rejectedBy, reason string) (Request, error) {
	rejectedBy = strings.TrimSpace(rejectedBy)
	if rejectedBy == "" {
		return Request{}, shared.NewValidationError("rejected_by", "is required")
	}
	return s.transition(ctx, id, StatusRejected, func(_ context.Context, _ TxRepository, req *Request) error {
		now := s.now()
		req.ApprovedBy = rejectedBy
		req.ApprovedDate = &now
		req.RejectionReason = strings.TrimSpace(reason)
		for i := range req.Lines {
			req.Lines[i].Status = LineRejected
		}
		return nil
	})
}

// Cancel withdraws a draft or submitted request.
func (s *Service) Cancel(ctx context.Context, id int64, by, reason string) (Request, error) {
	return s.transition(ctx, id, StatusCancelled, func(_ context.Context, _ TxRepository, req *Request) error {
		note := "Cancelled"
		if by = strings.TrimSpace(by); by != "" {
			note += " by " + by
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			note += ": " + reason
		}
		if req.Notes != "" {
			req.Notes += "\n"
		}
		req.Notes += note
		for i := range req.Lines {
			req.Lines[i].Status = LineCancelled
		}
		return nil
	})
}

// Issue hands approved goods to the employee. Stock already left at approval.
func (s *Service) Issue(ctx context.Context, id int64, issuedBy string) (Request, error) {
	return s.transition(ctx, id, StatusCompleted, func(_ context.Context, _ TxRepository, req *Request) error {
		for i := range req.Lines {
			line := &req.Lines[i]
			if line.Status != LineApproved {
				continue
			}
			line.QuantityIssued = line.QuantityApproved
			line.Status = LineIssued
		}
		if by := strings.TrimSpace(issuedBy); by != "" {
			if req.Notes != "" {
				req.Notes += "\n"
			}
			req.Notes += "Issued by " + by
		}
		return nil
	})
}

// Delete removes a request and its lines. Requests that moved stock stay.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.NewValidationError("id", "invalid request ID")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status.StockMoved() {
			return fmt.Errorf("%w: request %s is %s and has moved stock", shared.ErrConflict, req.Number, req.Status)
		}
		return tx.DeleteRequest(ctx, id)
	})
}

type mutateFunc func(ctx context.Context, tx TxRepository, req *Request) error

// transition locks the request, checks the state machine, lets mutate adjust
// the request and its lines, then persists both.
func (s *Service) transition(ctx context.Context, id int64, to Status, mutate mutateFunc) (Request, error) {
	if id <= 0 {
		return Request{}, shared.NewValidationError("id", "invalid request ID")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !req.Status.CanTransition(to) {
			return invalidTransition(req, to)
		}
		if err := mutate(ctx, tx, &req); err != nil {
			return err
		}
		req.Status = to
		req.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		return tx.UpdateLines(ctx, req.Lines)
	})
	if err != nil {
		return Request{}, err
	}
	s.transitioned(to)
	return s.repo.Get(ctx, id)
}

func (s *Service) transitioned(to Status) {
	if s.metrics != nil {
		s.metrics.RequestTransition(string(to))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump item cache", slog.Any("error", err))
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

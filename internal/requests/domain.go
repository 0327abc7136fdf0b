package requests

import (
	"fmt"
	"time"

	"github.com/assetdesk/assetdesk/internal/shared"
)

// Status is the request lifecycle state.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
	StatusApproved  Status = "Approved"
	// StatusPartial is part of the data model; no operation moves a request there.
	StatusPartial   Status = "Partial"
	StatusRejected  Status = "Rejected"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusCompleted},
	StatusPartial:   {StatusCompleted},
}

// CanTransition reports whether to is reachable from s in one step.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusPartial, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// StockMoved reports whether the request already decremented stock.
func (s Status) StockMoved() bool {
	return s == StatusApproved || s == StatusPartial || s == StatusCompleted
}

func invalidTransition(req Request, to Status) error {
	return fmt.Errorf("%w: request %s is %s and cannot become %s", shared.ErrConflict, req.Number, req.Status, to)
}

// LineStatus is the per-line state.
type LineStatus string

const (
	LinePending   LineStatus = "Pending"
	LineApproved  LineStatus = "Approved"
	LineRejected  LineStatus = "Rejected"
	LineIssued    LineStatus = "Issued"
	LineCancelled LineStatus = "Cancelled"
)

// Request is an employee's ask for ATK items.
type Request struct {
	ID              int64      `json:"id"`
	Number          string     `json:"request_number"`
	EmployeeID      *string    `json:"employee_id,omitempty"`
	EmployeeName    string     `json:"employee_name"`
	Department      string     `json:"department"`
	RequestDate     time.Time  `json:"request_date"`
	NeededDate      *time.Time `json:"needed_date,omitempty"`
	Purpose         string     `json:"purpose"`
	Status          Status     `json:"status"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedDate    *time.Time `json:"approved_date,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Notes           string     `json:"notes"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Lines           []Line     `json:"items"`
}

// Line is one requested item. Display fields are joined at read time.
type Line struct {
	ID                int64      `json:"id"`
	RequestID         int64      `json:"request_id"`
	ItemID            int64      `json:"item_id"`
	QuantityRequested int64      `json:"quantity_requested"`
	QuantityApproved  int64      `json:"quantity_approved"`
	QuantityIssued    int64      `json:"quantity_issued"`
	Status            LineStatus `json:"status"`
	Notes             string     `json:"notes"`
	ItemName          string     `json:"item_name"`
	ItemCode          string     `json:"item_code"`
	Unit              string     `json:"unit"`
	AvailableStock    int64      `json:"available_stock"`
}

// CreateInput describes a new request.
type CreateInput struct {
	EmployeeID   *string     `json:"employee_id"`
	EmployeeName string      `json:"employee_name" validate:"required,max=150"`
	Department   string      `json:"department" validate:"required,max=100"`
	RequestDate  string      `json:"request_date" validate:"omitempty,datetime=2006-01-02"`
	NeededDate   string      `json:"needed_date" validate:"omitempty,datetime=2006-01-02"`
	Purpose      string      `json:"purpose"`
	Notes        string      `json:"notes"`
	Draft        bool        `json:"draft"`
	Lines        []LineInput `json:"items" validate:"required,min=1,dive"`
}

// LineInput is one requested item.
type LineInput struct {
	ItemID            int64  `json:"item_id" validate:"required"`
	QuantityRequested int64  `json:"quantity_requested" validate:"gt=0"`
	Notes             string `json:"notes"`
}

// ListFilter narrows request listings.
type ListFilter struct {
	Status     Status
	Department string
	Search     string
	Limit      int
}

// DefaultListLimit caps request listings when no limit is given.
const DefaultListLimit = 200

package inventory

import (
	"time"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeOut represents an outbound movement.
	TransactionTypeOut TransactionType = "OUT"
)

// Valid reports whether t is a known movement type.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeIn || t == TransactionTypeOut
}

// ReferenceType tags what caused a movement.
type ReferenceType string

const (
	ReferencePurchase   ReferenceType = "PURCHASE"
	ReferenceRequest    ReferenceType = "REQUEST"
	ReferenceManual     ReferenceType = "MANUAL"
	ReferenceAdjustment ReferenceType = "ADJUSTMENT"
	ReferenceOpening    ReferenceType = "OPENING"
)

// StockTransaction is one immutable ledger row.
type StockTransaction struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	ItemName      string          `json:"item_name,omitempty"`
	Type          TransactionType `json:"transaction_type"`
	Quantity      int64           `json:"quantity"`
	PreviousStock int64           `json:"previous_stock"`
	NewStock      int64           `json:"new_stock"`
	ReferenceType ReferenceType   `json:"reference_type,omitempty"`
	ReferenceID   *int64          `json:"reference_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ItemStock is the locked view of an item used while applying a movement.
type ItemStock struct {
	ID    int64
	Code  string
	Name  string
	Stock int64
}

// ApplyInput describes one movement.
type ApplyInput struct {
	ItemID        int64
	Type          TransactionType
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   *int64
	Notes         string
	CreatedBy     string
}

// Policy governs how movements are checked.
type Policy struct {
	AllowNegativeStock bool
}

// StockInInput receives goods.
type StockInInput struct {
	ItemID         int64         `json:"item_id" validate:"required"`
	Quantity       int64         `json:"quantity" validate:"gt=0"`
	ReferenceType  ReferenceType `json:"reference_type,omitempty"`
	ReferenceID    *int64        `json:"reference_id,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	CreatedBy      string        `json:"created_by,omitempty"`
	IdempotencyKey string        `json:"-"`
}

// StockOutInput issues goods outside the request workflow.
type StockOutInput struct {
	ItemID    int64  `json:"item_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	Notes     string `json:"notes,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// AdjustInput records a physical count (stock opname).
type AdjustInput struct {
	ItemID       int64  `json:"-"`
	CountedStock int64  `json:"counted_stock" validate:"gte=0"`
	Notes        string `json:"notes,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	ItemID        int64
	Type          TransactionType
	ReferenceType ReferenceType
	ReferenceID   int64
	From          time.Time
	To            time.Time
	Limit         int
}

// DefaultListLimit caps ledger listings when no limit is given.
const DefaultListLimit = 200

// Discrepancy reports an item whose stock disagrees with its ledger.
type Discrepancy struct {
	ItemID      int64  `json:"item_id"`
	ItemCode    string `json:"item_code"`
	ItemName    string `json:"item_name"`
	Stock       int64  `json:"stock"`
	LedgerStock int64  `json:"ledger_stock"`
	HasLedger   bool   `json:"has_ledger"`
}

package catalog

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Item is an ATK stock keeping unit.
type Item struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Stock        int64           `json:"stock"`
	MinStock     int64           `json:"min_stock"`
	MaxStock     int64           `json:"max_stock"`
	SupplierID   *int64          `json:"supplier_id,omitempty"`
	Location     string          `json:"location"`
	Description  string          `json:"description"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LowStock     bool            `json:"low_stock"`
	Overstock    bool            `json:"overstock"`
}

// IsLowStock reports stock at or below the minimum.
func IsLowStock(item Item) bool {
	return item.Stock <= item.MinStock
}

// IsOverstock reports stock at or above the maximum.
func IsOverstock(item Item) bool {
	return item.Stock >= item.MaxStock
}

// StockValue is stock times unit price.
func (i Item) StockValue() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Stock))
}

func withFlags(item Item) Item {
	item.LowStock = IsLowStock(item)
	item.Overstock = IsOverstock(item)
	return item
}

// CreateInput describes a new item. Zero Code asks for a generated one.
type CreateInput struct {
	Code        string          `json:"code" validate:"omitempty,printascii,max=50"`
	Name        string          `json:"name" validate:"required,max=200"`
	CategoryID  int64           `json:"category_id" validate:"required"`
	Unit        string          `json:"unit" validate:"required,max=30"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       int64           `json:"stock" validate:"gte=0"`
	MinStock    *int64          `json:"min_stock" validate:"omitempty,gte=0"`
	MaxStock    *int64          `json:"max_stock" validate:"omitempty,gte=0"`
	SupplierID  *int64          `json:"supplier_id"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
	IsActive    *bool           `json:"is_active"`
	CreatedBy   string          `json:"created_by"`
}

// UpdateInput is a partial update. Stock is accepted only to reject it.
type UpdateInput struct {
	Name        *string          `json:"name"`
	CategoryID  *int64           `json:"category_id"`
	Unit        *string          `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Stock       *int64           `json:"stock"`
	MinStock    *int64           `json:"min_stock"`
	MaxStock    *int64           `json:"max_stock"`
	SupplierID  *int64           `json:"supplier_id"`
	Location    *string          `json:"location"`
	Description *string          `json:"description"`
	IsActive    *bool            `json:"is_active"`
}

// ListFilter narrows item listings.
type ListFilter struct {
	Search       string
	CategoryID   int64
	LowStockOnly bool
	ActiveOnly   bool
}

func (f ListFilter) key() string {
	return strings.Join([]string{
		"q=" + f.Search,
		"cat=" + strconv.FormatInt(f.CategoryID, 10),
		"low=" + strconv.FormatBool(f.LowStockOnly),
		"active=" + strconv.FormatBool(f.ActiveOnly),
	}, "|")
}

// LowStockEntry is one row of the reorder report.
type LowStockEntry struct {
	Item
	ReorderQuantity int64 `json:"reorder_quantity"`
}

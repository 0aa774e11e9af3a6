package core

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder represents a purchase order header. FXRateUsed is locked when
// the order is created and never changes afterwards.
type PurchaseOrder struct {
	ID           int                 `json:"id"`
	PONumber     *string             `json:"po_number"`
	SupplierID   *int                `json:"supplier_id"`
	SupplierName *string             `json:"supplier_name"`
	OrderDate    string              `json:"order_date"` // YYYY-MM-DD
	Currency     Currency            `json:"currency"`
	FXRateUsed   decimal.Decimal     `json:"fx_rate_used"`
	TotalNative  decimal.Decimal     `json:"total_native"`
	TotalBWP     decimal.Decimal     `json:"total_bwp"`
	CreatedBy    *int                `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Lines        []PurchaseOrderLine `json:"lines"`
}

// PurchaseOrderLine represents a single line on a purchase order. Unit costs
// are per canonical unit of the ingredient.
type PurchaseOrderLine struct {
	ID              int             `json:"id"`
	PurchaseOrderID int             `json:"purchase_order_id"`
	IngredientID    int             `json:"ingredient_id"`
	IngredientName  string          `json:"ingredient_name"`
	Qty             decimal.Decimal `json:"qty"`
	UnitCostNative  decimal.Decimal `json:"unit_cost_native"`
	UnitCostBWP     decimal.Decimal `json:"unit_cost_bwp"`
	Note            *string         `json:"note"`
}

// PurchaseOrderInput holds the header fields and lines for a create or update.
// Currency and ManualFXRate are ignored on update.
type PurchaseOrderInput struct {
	PONumber     string
	SupplierName string
	OrderDate    string
	Currency     Currency
	ManualFXRate *decimal.Decimal
	Lines        []PurchaseOrderLineInput
}

// PurchaseOrderLineInput carries the line TOTAL in the order currency, which is
// what appears on a supplier invoice. The per-unit cost is derived from it.
type PurchaseOrderLineInput struct {
	IngredientID    int
	Qty             decimal.Decimal
	LineTotalNative decimal.Decimal
	Note            string
}

func (l PurchaseOrderLineInput) touched() bool {
	return l.IngredientID > 0 || !l.Qty.IsZero() || !l.LineTotalNative.IsZero() || strings.TrimSpace(l.Note) != ""
}

func (l PurchaseOrderLineInput) complete() bool {
	return l.IngredientID > 0 && l.Qty.IsPositive() && l.LineTotalNative.IsPositive()
}

// PurchaseOrderService provides purchase order entry. Every save writes the
// purchase ledger rows and recomputes WAC in the same transaction.
type PurchaseOrderService interface {
	// CreatePO resolves and locks the FX rate, inserts lines and their purchase
	// ledger rows, then recalculates WAC for the ordered ingredients.
	CreatePO(ctx context.Context, actor Actor, input PurchaseOrderInput) (*PurchaseOrder, error)

	// UpdatePO replaces header fields and lines under a row lock on the header.
	// Currency and FX stay as locked at creation. A touched but incomplete line
	// aborts the whole update with ErrIncompleteLines.
	UpdatePO(ctx context.Context, actor Actor, poID int, input PurchaseOrderInput) (*PurchaseOrder, error)

	// GetPO returns a purchase order by its internal ID, including all lines.
	GetPO(ctx context.Context, poID int) (*PurchaseOrder, error)

	// ListPOs returns order headers with totals, newest first.
	ListPOs(ctx context.Context) ([]PurchaseOrder, error)
}

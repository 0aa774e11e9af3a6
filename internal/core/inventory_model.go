package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockLevel is the ledger-derived position of one ingredient.
type StockLevel struct {
	IngredientID   int              `json:"ingredient_id"`
	IngredientName string           `json:"ingredient_name"`
	UnitKind       string           `json:"unit_kind"`
	OnHand         decimal.Decimal  `json:"on_hand"` // signed sum of every inventory_txns row
	WAC            *decimal.Decimal `json:"wac"`
	StockValueBWP  decimal.Decimal  `json:"stock_value_bwp"` // OnHand x WAC, zero without a WAC
	ReorderPoint   decimal.Decimal  `json:"reorder_point"`
	BelowReorder   bool             `json:"below_reorder"`
}

// InventoryTxn is one row of the append-only ingredient ledger.
type InventoryTxn struct {
	ID           int              `json:"id"`
	IngredientID int              `json:"ingredient_id"`
	TxnDate      string           `json:"txn_date"`
	TxnType      string           `json:"txn_type"`
	Qty          decimal.Decimal  `json:"qty"`
	UnitKind     string           `json:"unit_kind"`
	UnitCostBWP  *decimal.Decimal `json:"unit_cost_bwp"`
	SourceTable  *string          `json:"source_table"`
	SourceID     *int             `json:"source_id"`
	Note         *string          `json:"note"`
	CreatedBy    *int             `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
}

package app

import (
	"github.com/shopspring/decimal"

	"gelato-costing/internal/core"
)

// RecalcResult is returned by RecalculateWAC. A nil WAC means the ingredient
// has no purchase cost basis.
type RecalcResult struct {
	Recalculated int                      `json:"recalculated"`
	WAC          map[int]*decimal.Decimal `json:"wac"`
}

// WACResult is returned by GetCurrentWAC.
type WACResult struct {
	IngredientID int              `json:"ingredient_id"`
	WAC          *decimal.Decimal `json:"wac"`
	HasBasis     bool             `json:"has_basis"`
}

// NormalizationResult is returned by both the scan and the apply path.
type NormalizationResult struct {
	Candidates []core.NormalizationCandidate `json:"candidates"`
	Applied    int                           `json:"applied"`
}

type PurchaseOrderResult struct {
	Order *core.PurchaseOrder `json:"order"`
}

type PurchaseOrdersResult struct {
	Orders []core.PurchaseOrder `json:"orders"`
}

type BatchResult struct {
	Batch *core.Batch `json:"batch"`
}

type StockResult struct {
	Levels []core.StockLevel `json:"levels"`
}

// StocktakeResult reports the delta booked. Changed is false when the count
// already matched the ledger.
type StocktakeResult struct {
	IngredientID int             `json:"ingredient_id"`
	Delta        decimal.Decimal `json:"delta"`
	Changed      bool            `json:"changed"`
}

type HistoryResult struct {
	IngredientID int                 `json:"ingredient_id"`
	Txns         []core.InventoryTxn `json:"txns"`
}

type RecipeVersionResult struct {
	Version *core.RecipeVersion `json:"version"`
}

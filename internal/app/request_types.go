package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRequest asks for the rate converting From into To on Date.
// To defaults to BWP.
type QuoteRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	From string `json:"from" validate:"required"`
	To   string `json:"to"`
	Mode string `json:"mode" validate:"omitempty,oneof=auto exact prior"`
}

// SetRateRequest stores BWP per unit of Currency for Date.
type SetRateRequest struct {
	Date       string          `json:"date" validate:"required,datetime=2006-01-02"`
	Currency   string          `json:"currency" validate:"required"`
	RateToBase decimal.Decimal `json:"rate_to_base"`
}

// PurchaseOrderRequest is the input for creating or editing a purchase order.
// Currency and ManualFXRate are only read on create.
type PurchaseOrderRequest struct {
	PONumber     string                 `json:"po_number" validate:"max=64"`
	SupplierName string                 `json:"supplier_name" validate:"max=200"`
	OrderDate    string                 `json:"order_date" validate:"required,datetime=2006-01-02"`
	Currency     string                 `json:"currency"`
	ManualFXRate *decimal.Decimal       `json:"manual_fx_rate"`
	Lines        []PurchaseOrderLineReq `json:"lines" validate:"required,min=1,dive"`
}

// PurchaseOrderLineReq is one line. Blank lines are allowed and skipped;
// partially filled lines are rejected by the core.
type PurchaseOrderLineReq struct {
	IngredientID    int             `json:"ingredient_id" validate:"gte=0"`
	Qty             decimal.Decimal `json:"qty"`
	LineTotalNative decimal.Decimal `json:"line_total_native"`
	Note            string          `json:"note" validate:"max=500"`
}

// BatchRequest carries the batch header and the operator's item checklist.
// RecipeVersionID is ignored on update; the batch keeps its version.
type BatchRequest struct {
	RecipeVersionID  int              `json:"recipe_version_id" validate:"gte=0"`
	BatchDate        string           `json:"batch_date" validate:"required,datetime=2006-01-02"`
	TargetMixG       decimal.Decimal  `json:"target_mix_g"`
	BowlG            *decimal.Decimal `json:"bowl_g"`
	BowlWithMixG     *decimal.Decimal `json:"bowl_with_mix_g"`
	BowlWithResidueG *decimal.Decimal `json:"bowl_with_residue_g"`
	ChurnStartedAt   *time.Time       `json:"churn_started_at"`
	DeductInventory  *bool            `json:"deduct_inventory"`
	Notes            string           `json:"notes" validate:"max=2000"`
	Items            []BatchItemReq   `json:"items" validate:"dive"`
	AltPicks         map[int]int      `json:"alt_picks"`
	Packouts         map[int]int      `json:"packouts"`
}

type BatchItemReq struct {
	RecipeItemID int             `json:"recipe_item_id" validate:"required,gt=0"`
	Used         bool            `json:"used"`
	MeasuredQty  decimal.Decimal `json:"measured_qty"`
}

type UsageRequest struct {
	IngredientID int             `json:"ingredient_id" validate:"required,gt=0"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	Qty          decimal.Decimal `json:"qty"`
	Note         string          `json:"note" validate:"max=500"`
}

// StocktakeRequest sets on-hand to CountedQty by booking the difference.
type StocktakeRequest struct {
	IngredientID int             `json:"ingredient_id" validate:"required,gt=0"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	CountedQty   decimal.Decimal `json:"counted_qty"`
	Note         string          `json:"note" validate:"max=500"`
}

type RecipeRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type RecipeVersionRequest struct {
	DefaultYieldG decimal.Decimal `json:"default_yield_g"`
	Notes         string          `json:"notes" validate:"max=2000"`
	Items         []RecipeItemReq `json:"items" validate:"required,min=1,dive"`
}

type RecipeItemReq struct {
	IngredientID int             `json:"ingredient_id" validate:"required,gt=0"`
	Qty          decimal.Decimal `json:"qty"`
	UnitKind     string          `json:"unit_kind" validate:"omitempty,oneof=g ml"`
	ChoiceGroup  int             `json:"choice_group" validate:"gte=0"`
	IsPrimary    bool            `json:"is_primary"`
}

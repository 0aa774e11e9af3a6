package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChurnBowlTareG is the weight of the empty churn bowl, subtracted when
// computing residue left behind after churning.
var ChurnBowlTareG = decimal.NewFromInt(540)

// Batch is one production run of a recipe version. COGSBWP is a snapshot taken
// at save time and is not recomputed when WAC later moves.
type Batch struct {
	ID               int               `json:"id"`
	RecipeVersionID  int               `json:"recipe_version_id"`
	RecipeName       string            `json:"recipe_name"`
	VersionNo        int               `json:"version_no"`
	BatchDate        string            `json:"batch_date"`
	TargetMixG       decimal.Decimal   `json:"target_mix_g"`
	ActualMixG       *decimal.Decimal  `json:"actual_mix_g"`
	BowlG            *decimal.Decimal  `json:"bowl_g"`
	BowlWithMixG     *decimal.Decimal  `json:"bowl_with_mix_g"`
	BowlWithResidueG *decimal.Decimal  `json:"bowl_with_residue_g"`
	ResidueG         *decimal.Decimal  `json:"residue_g"`
	ChurnStartedAt   *time.Time        `json:"churn_started_at"`
	COGSBWP          decimal.Decimal   `json:"cogs_bwp"`
	DeductInventory  bool              `json:"deduct_inventory"`
	Notes            *string           `json:"notes"`
	CreatedBy        *int              `json:"created_by"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Resolutions      []BatchResolution `json:"resolutions"`
	Packouts         []BatchPackout    `json:"packouts"`
}

// BatchResolution records which ingredient a recipe item resolved to and how
// much was actually weighed out.
type BatchResolution struct {
	ID             int              `json:"id"`
	RecipeItemID   int              `json:"recipe_item_id"`
	IngredientID   int              `json:"ingredient_id"`
	IngredientName string           `json:"ingredient_name"`
	ScaledQty      decimal.Decimal  `json:"scaled_qty"`   // reference only
	MeasuredQty    decimal.Decimal  `json:"measured_qty"` // used for costing and the ledger
	UnitKind       string           `json:"unit_kind"`
	CurrentWAC     *decimal.Decimal `json:"current_wac"`
	CheckedBy      *int             `json:"checked_by"`
	CheckedAt      time.Time        `json:"checked_at"`
}

type BatchPackout struct {
	PackageTypeID int    `json:"package_type_id"`
	PackageName   string `json:"package_name"`
	Qty           int    `json:"qty"`
}

// BatchHeader carries the operator-entered header fields.
type BatchHeader struct {
	BatchDate        string
	TargetMixG       decimal.Decimal
	BowlG            *decimal.Decimal
	BowlWithMixG     *decimal.Decimal
	BowlWithResidueG *decimal.Decimal // ignored on create
	ChurnStartedAt   *time.Time
	DeductInventory  bool
	Notes            string
	Packouts         map[int]int // package_type_id -> count
}

// ItemSelections is what the operator ticked and weighed.
type ItemSelections struct {
	Measured map[int]decimal.Decimal // recipe_item_id -> measured qty
	Used     map[int]bool            // choice group 0 items ticked as used
	AltPick  map[int]int             // choice_group -> selected recipe_item_id
}

// ResolvedItem is one consumed recipe item after choice resolution.
type ResolvedItem struct {
	RecipeItemID int
	IngredientID int
	UnitKind     string
	ScaledQty    decimal.Decimal
	MeasuredQty  decimal.Decimal
}

// BatchService saves batches, reconciles their ledger consumption and snapshots COGS.
type BatchService interface {
	// SaveBatch creates a batch. Header, resolutions, ledger rows and COGS are
	// written atomically.
	SaveBatch(ctx context.Context, actor Actor, recipeVersionID int, header BatchHeader, sel ItemSelections) (int, error)

	// UpdateBatch locks the batch header and re-applies resolutions. Ledger
	// rows move only by the difference from what is already recorded, so
	// repeating an identical update writes nothing new.
	UpdateBatch(ctx context.Context, actor Actor, batchID int, header BatchHeader, sel ItemSelections) error

	GetBatch(ctx context.Context, batchID int) (*Batch, error)
}

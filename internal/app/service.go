package app

import (
	"context"
	"io"

	"gelato-costing/internal/core"
)

// ApplicationService is the single interface the CLI and web adapters call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// QuoteRate resolves a conversion rate. Mode "exact" and "prior" restrict
	// the lookup; the default tries exact then prior per currency leg.
	QuoteRate(ctx context.Context, req QuoteRequest) (*core.FXQuote, error)

	// SetRate stores one daily rate to BWP.
	SetRate(ctx context.Context, req SetRateRequest) error

	// ImportRates bulk-loads "date,currency,rate" CSV rows.
	ImportRates(ctx context.Context, r io.Reader) (*core.ImportResult, error)

	// ExportRates writes every stored rate as csv or xlsx and returns the content type.
	ExportRates(ctx context.Context, format string, w io.Writer) (string, error)

	// RecalculateWAC recomputes one ingredient, or every active ingredient when id is nil.
	RecalculateWAC(ctx context.Context, ingredientID *int) (*RecalcResult, error)

	GetCurrentWAC(ctx context.Context, ingredientID int) (*WACResult, error)

	// FindNormalizationCandidates lists PO lines whose stored unit cost looks like a line total.
	FindNormalizationCandidates(ctx context.Context, ingredientID *int) (*NormalizationResult, error)

	// ApplyNormalization repairs every current candidate and recalculates WAC.
	ApplyNormalization(ctx context.Context, ingredientID *int) (*NormalizationResult, error)

	CreatePurchaseOrder(ctx context.Context, actor core.Actor, req PurchaseOrderRequest) (*PurchaseOrderResult, error)
	UpdatePurchaseOrder(ctx context.Context, actor core.Actor, poID int, req PurchaseOrderRequest) (*PurchaseOrderResult, error)
	GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error)
	ListPurchaseOrders(ctx context.Context) (*PurchaseOrdersResult, error)

	// SaveBatch records a production batch, deducts inventory and snapshots COGS.
	SaveBatch(ctx context.Context, actor core.Actor, req BatchRequest) (*BatchResult, error)

	// UpdateBatch re-applies a batch; the ledger moves only by the difference.
	UpdateBatch(ctx context.Context, actor core.Actor, batchID int, req BatchRequest) (*BatchResult, error)
	GetBatch(ctx context.Context, batchID int) (*BatchResult, error)

	GetStockLevels(ctx context.Context) (*StockResult, error)
	RecordUsage(ctx context.Context, actor core.Actor, req UsageRequest) error
	Stocktake(ctx context.Context, actor core.Actor, req StocktakeRequest) (*StocktakeResult, error)
	GetInventoryHistory(ctx context.Context, ingredientID, limit int) (*HistoryResult, error)

	CreateRecipe(ctx context.Context, req RecipeRequest) (*core.Recipe, error)
	GetRecipeVersion(ctx context.Context, versionID int) (*RecipeVersionResult, error)
	CreateRecipeVersion(ctx context.Context, actor core.Actor, recipeID int, req RecipeVersionRequest) (*RecipeVersionResult, error)
}

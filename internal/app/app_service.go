package app

import (
	"context"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gelato-costing/internal/core"
)

type appService struct {
	fx         core.FXService
	wac        core.WACService
	normalizer core.NormalizerService
	orders     core.PurchaseOrderService
	batches    core.BatchService
	inventory  core.InventoryService
	recipes    core.RecipeService
	validate   *validator.Validate
	logger     *zap.Logger
}

// Services bundles the core services the application layer delegates to.
type Services struct {
	FX         core.FXService
	WAC        core.WACService
	Normalizer core.NormalizerService
	Orders     core.PurchaseOrderService
	Batches    core.BatchService
	Inventory  core.InventoryService
	Recipes    core.RecipeService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(svc Services, logger *zap.Logger) ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &appService{
		fx:         svc.FX,
		wac:        svc.WAC,
		normalizer: svc.Normalizer,
		orders:     svc.Orders,
		batches:    svc.Batches,
		inventory:  svc.Inventory,
		recipes:    svc.Recipes,
		validate:   newValidator(),
		logger:     logger,
	}
}

func actorFields(actor core.Actor) []zap.Field {
	return []zap.Field{zap.Int("user_id", actor.UserID), zap.String("request_id", actor.RequestID)}
}

// ── FX ────────────────────────────────────────────────────────────────────────

func (s *appService) QuoteRate(ctx context.Context, req QuoteRequest) (*core.FXQuote, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	from, err := core.ParseCurrency(req.From)
	if err != nil {
		return nil, err
	}
	to := core.BaseCurrency
	if req.To != "" {
		if to, err = core.ParseCurrency(req.To); err != nil {
			return nil, err
		}
	}
	switch req.Mode {
	case "exact":
		return s.fx.ExactRate(ctx, req.Date, from, to)
	case "prior":
		return s.fx.PriorRate(ctx, req.Date, from, to)
	default:
		return s.fx.ResolveRate(ctx, req.Date, from, to)
	}
}

func (s *appService) SetRate(ctx context.Context, req SetRateRequest) error {
	if err := validateRequest(s.validate, req); err != nil {
		return err
	}
	cur, err := core.ParseCurrency(req.Currency)
	if err != nil {
		return err
	}
	if err := s.fx.UpsertRate(ctx, req.Date, cur, req.RateToBase); err != nil {
		return err
	}
	s.logger.Info("fx rate stored",
		zap.String("date", req.Date), zap.String("currency", string(cur)), zap.String("rate_to_bwp", req.RateToBase.String()))
	return nil
}

func (s *appService) ImportRates(ctx context.Context, r io.Reader) (*core.ImportResult, error) {
	res, err := s.fx.ImportRatesCSV(ctx, r)
	if err != nil {
		return nil, err
	}
	s.logger.Info("fx rates imported", zap.Int("imported", res.Imported), zap.Int("rejected", res.Rejected))
	return res, nil
}

func (s *appService) ExportRates(ctx context.Context, format string, w io.Writer) (string, error) {
	f, err := exportFormat(format)
	if err != nil {
		return "", err
	}
	rates, err := s.fx.ListRates(ctx)
	if err != nil {
		return "", err
	}
	if f == "xlsx" {
		return ContentTypeXLSX, writeRatesXLSX(w, rates)
	}
	return ContentTypeCSV, writeRatesCSV(w, rates)
}

// ── WAC and normalization ─────────────────────────────────────────────────────

func (s *appService) RecalculateWAC(ctx context.Context, ingredientID *int) (*RecalcResult, error) {
	values, err := s.wac.Recalc(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("wac recalculated", zap.Int("ingredients", len(values)))
	return &RecalcResult{Recalculated: len(values), WAC: values}, nil
}

func (s *appService) GetCurrentWAC(ctx context.Context, ingredientID int) (*WACResult, error) {
	if ingredientID <= 0 {
		return nil, &core.ValidationError{Field: "ingredient_id", Message: "must be positive"}
	}
	w, err := s.wac.CurrentWAC(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	return &WACResult{IngredientID: ingredientID, WAC: w, HasBasis: w != nil}, nil
}

func (s *appService) FindNormalizationCandidates(ctx context.Context, ingredientID *int) (*NormalizationResult, error) {
	cands, err := s.normalizer.FindLinesNeedingNormalization(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	return &NormalizationResult{Candidates: cands}, nil
}

func (s *appService) ApplyNormalization(ctx context.Context, ingredientID *int) (*NormalizationResult, error) {
	cands, err := s.normalizer.FindLinesNeedingNormalization(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return &NormalizationResult{}, nil
	}
	applied, err := s.normalizer.ApplyNormalization(ctx, cands)
	if err != nil {
		return nil, err
	}
	s.logger.Info("po lines normalized", zap.Int("candidates", len(cands)), zap.Int("applied", applied))
	return &NormalizationResult{Candidates: cands, Applied: applied}, nil
}

// ── Purchase orders ───────────────────────────────────────────────────────────

func (s *appService) purchaseOrderInput(req PurchaseOrderRequest, create bool) (core.PurchaseOrderInput, error) {
	in := core.PurchaseOrderInput{
		PONumber:     req.PONumber,
		SupplierName: req.SupplierName,
		OrderDate:    req.OrderDate,
		ManualFXRate: req.ManualFXRate,
	}
	if create {
		cur := core.BaseCurrency
		if req.Currency != "" {
			var err error
			if cur, err = core.ParseCurrency(req.Currency); err != nil {
				return in, err
			}
		}
		in.Currency = cur
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, core.PurchaseOrderLineInput{
			IngredientID:    l.IngredientID,
			Qty:             l.Qty,
			LineTotalNative: l.LineTotalNative,
			Note:            l.Note,
		})
	}
	return in, nil
}

func (s *appService) CreatePurchaseOrder(ctx context.Context, actor core.Actor, req PurchaseOrderRequest) (*PurchaseOrderResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	in, err := s.purchaseOrderInput(req, true)
	if err != nil {
		return nil, err
	}
	po, err := s.orders.CreatePO(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("purchase order created", append(actorFields(actor),
		zap.Int("po_id", po.ID), zap.String("currency", string(po.Currency)), zap.String("fx_rate_used", po.FXRateUsed.String()))...)
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) UpdatePurchaseOrder(ctx context.Context, actor core.Actor, poID int, req PurchaseOrderRequest) (*PurchaseOrderResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	in, err := s.purchaseOrderInput(req, false)
	if err != nil {
		return nil, err
	}
	po, err := s.orders.UpdatePO(ctx, actor, poID, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("purchase order updated", append(actorFields(actor), zap.Int("po_id", poID), zap.Int("lines", len(po.Lines)))...)
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrderResult, error) {
	po, err := s.orders.GetPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po}, nil
}

func (s *appService) ListPurchaseOrders(ctx context.Context) (*PurchaseOrdersResult, error) {
	pos, err := s.orders.ListPOs(ctx)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrdersResult{Orders: pos}, nil
}

// ── Batches ───────────────────────────────────────────────────────────────────

// batchInput splits the request into the header and the item selections.
// Deduct defaults to on when the client omits it.
func batchInput(req BatchRequest) (core.BatchHeader, core.ItemSelections) {
	deduct := true
	if req.DeductInventory != nil {
		deduct = *req.DeductInventory
	}
	header := core.BatchHeader{
		BatchDate:        req.BatchDate,
		TargetMixG:       req.TargetMixG,
		BowlG:            req.BowlG,
		BowlWithMixG:     req.BowlWithMixG,
		BowlWithResidueG: req.BowlWithResidueG,
		ChurnStartedAt:   req.ChurnStartedAt,
		DeductInventory:  deduct,
		Notes:            req.Notes,
		Packouts:         req.Packouts,
	}
	sel := core.ItemSelections{
		Measured: make(map[int]decimal.Decimal, len(req.Items)),
		Used:     make(map[int]bool, len(req.Items)),
		AltPick:  req.AltPicks,
	}
	for _, it := range req.Items {
		sel.Measured[it.RecipeItemID] = it.MeasuredQty
		if it.Used {
			sel.Used[it.RecipeItemID] = true
		}
	}
	return header, sel
}

func (s *appService) SaveBatch(ctx context.Context, actor core.Actor, req BatchRequest) (*BatchResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	if req.RecipeVersionID <= 0 {
		return nil, &core.ValidationError{Field: "recipe_version_id", Message: "recipe version is required"}
	}
	header, sel := batchInput(req)
	id, err := s.batches.SaveBatch(ctx, actor, req.RecipeVersionID, header, sel)
	if err != nil {
		return nil, err
	}
	b, err := s.batches.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload batch %d: %w", id, err)
	}
	s.logger.Info("batch saved", append(actorFields(actor),
		zap.Int("batch_id", id), zap.String("cogs_bwp", b.COGSBWP.String()), zap.Bool("deduct_inventory", b.DeductInventory))...)
	return &BatchResult{Batch: b}, nil
}

func (s *appService) UpdateBatch(ctx context.Context, actor core.Actor, batchID int, req BatchRequest) (*BatchResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	header, sel := batchInput(req)
	if err := s.batches.UpdateBatch(ctx, actor, batchID, header, sel); err != nil {
		return nil, err
	}
	b, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("reload batch %d: %w", batchID, err)
	}
	s.logger.Info("batch updated", append(actorFields(actor),
		zap.Int("batch_id", batchID), zap.String("cogs_bwp", b.COGSBWP.String()))...)
	return &BatchResult{Batch: b}, nil
}

func (s *appService) GetBatch(ctx context.Context, batchID int) (*BatchResult, error) {
	b, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Batch: b}, nil
}

// ── Inventory ─────────────────────────────────────────────────────────────────

func (s *appService) GetStockLevels(ctx context.Context) (*StockResult, error) {
	levels, err := s.inventory.StockLevels(ctx)
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels}, nil
}

func (s *appService) RecordUsage(ctx context.Context, actor core.Actor, req UsageRequest) error {
	if err := validateRequest(s.validate, req); err != nil {
		return err
	}
	if err := s.inventory.RecordUsage(ctx, actor, req.IngredientID, req.Qty, req.Date, req.Note); err != nil {
		return err
	}
	s.logger.Info("manual usage recorded", append(actorFields(actor),
		zap.Int("ingredient_id", req.IngredientID), zap.String("qty", req.Qty.String()))...)
	return nil
}

func (s *appService) Stocktake(ctx context.Context, actor core.Actor, req StocktakeRequest) (*StocktakeResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	delta, err := s.inventory.SetOnHand(ctx, actor, req.IngredientID, req.CountedQty, req.Date, req.Note)
	if err != nil {
		return nil, err
	}
	changed := !delta.IsZero()
	if changed {
		s.logger.Info("stocktake booked", append(actorFields(actor),
			zap.Int("ingredient_id", req.IngredientID), zap.String("delta", delta.String()))...)
	}
	return &StocktakeResult{IngredientID: req.IngredientID, Delta: delta, Changed: changed}, nil
}

func (s *appService) GetInventoryHistory(ctx context.Context, ingredientID, limit int) (*HistoryResult, error) {
	txns, err := s.inventory.History(ctx, ingredientID, limit)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{IngredientID: ingredientID, Txns: txns}, nil
}

// ── Recipes ───────────────────────────────────────────────────────────────────

func (s *appService) CreateRecipe(ctx context.Context, req RecipeRequest) (*core.Recipe, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	return s.recipes.CreateRecipe(ctx, req.Name)
}

func (s *appService) GetRecipeVersion(ctx context.Context, versionID int) (*RecipeVersionResult, error) {
	v, err := s.recipes.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return &RecipeVersionResult{Version: v}, nil
}

func (s *appService) CreateRecipeVersion(ctx context.Context, actor core.Actor, recipeID int, req RecipeVersionRequest) (*RecipeVersionResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	in := core.RecipeVersionInput{DefaultYieldG: req.DefaultYieldG, Notes: req.Notes}
	for _, it := range req.Items {
		in.Items = append(in.Items, core.RecipeItemInput{
			IngredientID: it.IngredientID,
			Qty:          it.Qty,
			UnitKind:     it.UnitKind,
			ChoiceGroup:  it.ChoiceGroup,
			IsPrimary:    it.IsPrimary,
		})
	}
	v, err := s.recipes.CreateVersion(ctx, actor, recipeID, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("recipe version created", append(actorFields(actor),
		zap.Int("recipe_id", recipeID), zap.Int("version_no", v.VersionNo))...)
	return &RecipeVersionResult{Version: v}, nil
}

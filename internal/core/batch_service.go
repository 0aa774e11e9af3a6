package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// minYieldG guards the scale factor against a zero default yield.
var minYieldG = decimal.New(1, -9)

type batchService struct {
	pool *pgxpool.Pool
}

func NewBatchService(pool *pgxpool.Pool) BatchService {
	return &batchService{pool: pool}
}

// ── Pure resolution logic ─────────────────────────────────────────────────────

// ResolveConsumption decides which recipe items a batch consumed.
//
// Group 0 items count only when ticked as used and weighed above zero. For each
// alternate group only the picked item is eligible, and only with a positive
// measurement; weights entered against unpicked alternates are ignored.
func ResolveConsumption(items []RecipeItem, defaultYieldG, targetMixG decimal.Decimal, sel ItemSelections) ([]ResolvedItem, error) {
	byID := make(map[int]RecipeItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	for id, qty := range sel.Measured {
		if _, ok := byID[id]; !ok {
			return nil, invalidf("measured", "recipe item %d is not part of this recipe version", id)
		}
		if qty.IsNegative() {
			return nil, invalidf("measured", "measured quantity for item %d cannot be negative", id)
		}
	}
	for id, used := range sel.Used {
		it, ok := byID[id]
		if !ok {
			return nil, invalidf("used", "recipe item %d is not part of this recipe version", id)
		}
		if used && it.ChoiceGroup != 0 {
			return nil, invalidf("used", "recipe item %d is an alternate; pick it through its choice group", id)
		}
	}
	for group, id := range sel.AltPick {
		if id == 0 {
			continue
		}
		it, ok := byID[id]
		if !ok || it.ChoiceGroup != group || group == 0 {
			return nil, invalidf("alt_pick", "recipe item %d is not an alternate in choice group %d", id, group)
		}
	}

	yield := defaultYieldG
	if yield.LessThan(minYieldG) {
		yield = minYieldG
	}
	scale := targetMixG.Div(yield)

	var out []ResolvedItem
	for _, it := range items {
		measured, ok := sel.Measured[it.ID]
		if !ok || !measured.IsPositive() {
			continue
		}
		if it.ChoiceGroup == 0 {
			if !sel.Used[it.ID] {
				continue
			}
		} else if sel.AltPick[it.ChoiceGroup] != it.ID {
			continue
		}
		out = append(out, ResolvedItem{
			RecipeItemID: it.ID,
			IngredientID: it.IngredientID,
			UnitKind:     it.UnitKind,
			ScaledQty:    it.Qty.Mul(scale),
			MeasuredQty:  measured,
		})
	}
	return out, nil
}

// ConsumptionByIngredient totals measured quantities per ingredient.
func ConsumptionByIngredient(items []ResolvedItem) map[int]decimal.Decimal {
	totals := make(map[int]decimal.Decimal)
	for _, it := range items {
		totals[it.IngredientID] = totals[it.IngredientID].Add(it.MeasuredQty)
	}
	return totals
}

// LedgerDelta returns the adjustment that moves existing ledger quantity to
// desired, and whether it is large enough to record.
func LedgerDelta(desired, existing decimal.Decimal) (decimal.Decimal, bool) {
	delta := desired.Sub(existing)
	return delta, !delta.Abs().LessThan(ledgerEpsilon)
}

// ActualMix is bowl+mix minus the empty bowl, or nil when either is missing.
func ActualMix(bowl, bowlWithMix *decimal.Decimal) *decimal.Decimal {
	if bowl == nil || bowlWithMix == nil {
		return nil
	}
	v := bowlWithMix.Sub(*bowl)
	return &v
}

// Residue is what stayed in the churn bowl, floored at zero.
func Residue(bowlWithResidue *decimal.Decimal) *decimal.Decimal {
	if bowlWithResidue == nil {
		return nil
	}
	v := decimal.Max(bowlWithResidue.Sub(ChurnBowlTareG), decimal.Zero)
	return &v
}

func validateBatchHeader(h BatchHeader) error {
	if _, err := parseDate("batch_date", h.BatchDate); err != nil {
		return err
	}
	if !h.TargetMixG.IsPositive() {
		return invalidf("target_mix_g", "target mix must be positive, got %s", h.TargetMixG)
	}
	for _, w := range []*decimal.Decimal{h.BowlG, h.BowlWithMixG, h.BowlWithResidueG} {
		if w != nil && w.IsNegative() {
			return invalidf("weights", "bowl weights cannot be negative")
		}
	}
	return nil
}

// ── Standalone operations ─────────────────────────────────────────────────────

func (s *batchService) SaveBatch(ctx context.Context, actor Actor, recipeVersionID int, header BatchHeader, sel ItemSelections) (int, error) {
	if err := validateBatchHeader(header); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	version, err := loadRecipeVersion(ctx, tx, recipeVersionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, invalidf("recipe_version_id", "recipe version %d does not exist", recipeVersionID)
		}
		return 0, err
	}
	resolved, err := ResolveConsumption(version.Items, version.DefaultYieldG, header.TargetMixG, sel)
	if err != nil {
		return 0, err
	}

	// Residue is only known after churning, so it is recorded by UpdateBatch.
	var batchID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO batches (recipe_version_id, batch_date, target_mix_g, bowl_g, bowl_with_mix_g, actual_mix_g,
		                     churn_started_at, deduct_inventory, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		recipeVersionID, header.BatchDate, header.TargetMixG, header.BowlG, header.BowlWithMixG,
		ActualMix(header.BowlG, header.BowlWithMixG),
		header.ChurnStartedAt, header.DeductInventory, nullIfEmpty(header.Notes), actor.createdBy(),
	).Scan(&batchID); err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}

	if err := s.applyBatchTx(ctx, tx, actor, batchID, header, resolved, fmt.Sprintf("Batch #%d usage", batchID)); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return batchID, nil
}

func (s *batchService) UpdateBatch(ctx context.Context, actor Actor, batchID int, header BatchHeader, sel ItemSelections) error {
	if err := validateBatchHeader(header); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialises concurrent edits of the same batch before the delta is computed.
	var recipeVersionID int
	if err := tx.QueryRow(ctx,
		"SELECT recipe_version_id FROM batches WHERE id = $1 FOR UPDATE", batchID,
	).Scan(&recipeVersionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("batch %d", batchID)
		}
		return fmt.Errorf("lock batch %d: %w", batchID, err)
	}

	version, err := loadRecipeVersion(ctx, tx, recipeVersionID)
	if err != nil {
		return err
	}
	resolved, err := ResolveConsumption(version.Items, version.DefaultYieldG, header.TargetMixG, sel)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE batches
		SET batch_date = $1, target_mix_g = $2, bowl_g = $3, bowl_with_mix_g = $4, actual_mix_g = $5,
		    bowl_with_residue_g = $6, residue_g = $7, churn_started_at = $8, deduct_inventory = $9,
		    notes = $10, updated_at = NOW()
		WHERE id = $11`,
		header.BatchDate, header.TargetMixG, header.BowlG, header.BowlWithMixG,
		ActualMix(header.BowlG, header.BowlWithMixG), header.BowlWithResidueG, Residue(header.BowlWithResidueG),
		header.ChurnStartedAt, header.DeductInventory, nullIfEmpty(header.Notes), batchID,
	); err != nil {
		return fmt.Errorf("update batch %d: %w", batchID, err)
	}

	if err := s.applyBatchTx(ctx, tx, actor, batchID, header, resolved, fmt.Sprintf("Batch #%d usage (edit)", batchID)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch update: %w", err)
	}
	return nil
}

// applyBatchTx replaces resolutions, reconciles the ledger, upserts packouts
// and stores the COGS snapshot.
func (s *batchService) applyBatchTx(ctx context.Context, tx pgx.Tx, actor Actor, batchID int,
	header BatchHeader, resolved []ResolvedItem, usageNote string) error {

	if _, err := tx.Exec(ctx, "DELETE FROM batch_ingredient_resolutions WHERE batch_id = $1", batchID); err != nil {
		return fmt.Errorf("clear resolutions for batch %d: %w", batchID, err)
	}
	for _, r := range resolved {
		if _, err := tx.Exec(ctx, `
			INSERT INTO batch_ingredient_resolutions
			            (batch_id, recipe_item_id, resolved_ingredient_id, scaled_qty, measured_qty,
			             unit_kind, checked_flag, checked_at, checked_by)
			VALUES ($1, $2, $3, $4, $5, $6, true, NOW(), $7)`,
			batchID, r.RecipeItemID, r.IngredientID, r.ScaledQty, r.MeasuredQty, r.UnitKind, actor.createdBy(),
		); err != nil {
			return fmt.Errorf("insert resolution for recipe item %d: %w", r.RecipeItemID, err)
		}
	}

	desired := ConsumptionByIngredient(resolved)
	if !header.DeductInventory {
		desired = nil
	}
	if err := reconcileBatchLedgerTx(ctx, tx, actor, batchID, header.BatchDate, desired, usageNote); err != nil {
		return err
	}

	for pkgID, qty := range header.Packouts {
		if qty < 0 {
			qty = 0
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO batch_packouts (batch_id, package_type_id, qty)
			VALUES ($1, $2, $3)
			ON CONFLICT (batch_id, package_type_id) DO UPDATE SET qty = EXCLUDED.qty`,
			batchID, pkgID, qty,
		); err != nil {
			return fmt.Errorf("upsert packout %d for batch %d: %w", pkgID, batchID, err)
		}
	}

	var cogs decimal.Decimal
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(bir.measured_qty * COALESCE(w.wac_bwp, 0)), 0)
		FROM batch_ingredient_resolutions bir
		LEFT JOIN v_current_wac w ON w.ingredient_id = bir.resolved_ingredient_id
		WHERE bir.batch_id = $1`,
		batchID,
	).Scan(&cogs); err != nil {
		return fmt.Errorf("compute cogs for batch %d: %w", batchID, err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE batches SET cogs_bwp = $1 WHERE id = $2", cogs.Round(wacScale), batchID,
	); err != nil {
		return fmt.Errorf("store cogs for batch %d: %w", batchID, err)
	}
	return nil
}

// reconcileBatchLedgerTx moves the batch's usage rows to -desired per
// ingredient by inserting only the difference. Ingredients the batch no longer
// consumes lose their batch rows entirely.
func reconcileBatchLedgerTx(ctx context.Context, tx pgx.Tx, actor Actor, batchID int, txnDate string,
	desired map[int]decimal.Decimal, note string) error {

	rows, err := tx.Query(ctx, `
		SELECT ingredient_id, COALESCE(SUM(qty), 0)
		FROM inventory_txns
		WHERE source_table = 'batches' AND source_id = $1
		GROUP BY ingredient_id`,
		batchID,
	)
	if err != nil {
		return fmt.Errorf("query ledger rows for batch %d: %w", batchID, err)
	}
	existing := make(map[int]decimal.Decimal)
	for rows.Next() {
		var id int
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			rows.Close()
			return fmt.Errorf("scan ledger sum: %w", err)
		}
		existing[id] = qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate ledger sums: %w", err)
	}

	var stale []int
	for id := range existing {
		if total, ok := desired[id]; !ok || !total.IsPositive() {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM inventory_txns
			WHERE source_table = 'batches' AND source_id = $1 AND ingredient_id = ANY($2)`,
			batchID, stale,
		); err != nil {
			return fmt.Errorf("remove stale ledger rows for batch %d: %w", batchID, err)
		}
	}

	ids := make([]int, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		total := desired[id]
		if !total.IsPositive() {
			continue
		}
		delta, needed := LedgerDelta(total.Neg(), existing[id])
		if !needed {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory_txns
			            (ingredient_id, txn_date, txn_type, qty, unit_kind, unit_cost_bwp,
			             source_table, source_id, note, created_by)
			SELECT $1, $2, 'usage', $3, i.unit_kind, 0, 'batches', $4, $5, $6
			FROM ingredients i WHERE i.id = $1`,
			id, txnDate, delta, batchID, note, actor.createdBy(),
		); err != nil {
			return fmt.Errorf("insert usage for ingredient %d: %w", id, err)
		}
	}
	return nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *batchService) GetBatch(ctx context.Context, batchID int) (*Batch, error) {
	var b Batch
	err := s.pool.QueryRow(ctx, `
		SELECT b.id, b.recipe_version_id, r.name, rv.version_no, b.batch_date::text, b.target_mix_g,
		       b.actual_mix_g, b.bowl_g, b.bowl_with_mix_g, b.bowl_with_residue_g, b.residue_g,
		       b.churn_started_at, b.cogs_bwp, b.deduct_inventory, b.notes, b.created_by,
		       b.created_at, b.updated_at
		FROM batches b
		JOIN recipe_versions rv ON rv.id = b.recipe_version_id
		JOIN recipes r          ON r.id = rv.recipe_id
		WHERE b.id = $1`,
		batchID,
	).Scan(&b.ID, &b.RecipeVersionID, &b.RecipeName, &b.VersionNo, &b.BatchDate, &b.TargetMixG,
		&b.ActualMixG, &b.BowlG, &b.BowlWithMixG, &b.BowlWithResidueG, &b.ResidueG,
		&b.ChurnStartedAt, &b.COGSBWP, &b.DeductInventory, &b.Notes, &b.CreatedBy,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("batch %d", batchID)
		}
		return nil, fmt.Errorf("fetch batch %d: %w", batchID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT bir.id, bir.recipe_item_id, bir.resolved_ingredient_id, i.name,
		       bir.scaled_qty, bir.measured_qty, bir.unit_kind, w.wac_bwp,
		       bir.checked_by, bir.checked_at
		FROM batch_ingredient_resolutions bir
		JOIN ingredients i ON i.id = bir.resolved_ingredient_id
		LEFT JOIN v_current_wac w ON w.ingredient_id = bir.resolved_ingredient_id
		WHERE bir.batch_id = $1
		ORDER BY bir.id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query resolutions for batch %d: %w", batchID, err)
	}
	for rows.Next() {
		var r BatchResolution
		if err := rows.Scan(&r.ID, &r.RecipeItemID, &r.IngredientID, &r.IngredientName,
			&r.ScaledQty, &r.MeasuredQty, &r.UnitKind, &r.CurrentWAC,
			&r.CheckedBy, &r.CheckedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		b.Resolutions = append(b.Resolutions, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT bp.package_type_id, pt.name, bp.qty
		FROM batch_packouts bp
		JOIN package_types pt ON pt.id = bp.package_type_id
		WHERE bp.batch_id = $1
		ORDER BY pt.name`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query packouts for batch %d: %w", batchID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p BatchPackout
		if err := rows.Scan(&p.PackageTypeID, &p.PackageName, &p.Qty); err != nil {
			return nil, fmt.Errorf("scan packout: %w", err)
		}
		b.Packouts = append(b.Packouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packouts: %w", err)
	}
	return &b, nil
}

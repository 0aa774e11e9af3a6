package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"gelato-costing/internal/core"
)

type batchFixture struct {
	pool    *pgxpool.Pool
	batches core.BatchService
	version *core.RecipeVersion
	items   map[int]int // ingredient_id -> recipe_item_id
}

// newBatchFixture seeds a chocolate recipe with a cocoa/vanilla alternate
// group and purchase history giving sugar WAC 1.1 and cocoa WAC 0.5.
func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	pool := setupTestDB(t)
	ctx := context.Background()

	recipes := core.NewRecipeService(pool)
	recipe, err := recipes.CreateRecipe(ctx, "Dark Chocolate")
	if err != nil {
		t.Fatalf("CreateRecipe failed: %v", err)
	}
	version, err := recipes.CreateVersion(ctx, core.Actor{}, recipe.ID, core.RecipeVersionInput{
		DefaultYieldG: dec("1000"),
		Items: []core.RecipeItemInput{
			{IngredientID: sugarID, Qty: dec("200"), UnitKind: "g"},
			{IngredientID: milkID, Qty: dec("700"), UnitKind: "ml"},
			{IngredientID: cocoaID, Qty: dec("50"), UnitKind: "g", ChoiceGroup: 1, IsPrimary: true},
			{IngredientID: vanillaID, Qty: dec("10"), UnitKind: "g", ChoiceGroup: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}

	seedPurchase(t, pool, sugarID, "10", "1.00")
	seedPurchase(t, pool, sugarID, "5", "1.30")
	seedPurchase(t, pool, cocoaID, "100", "0.5")
	if _, err := core.NewWACService(pool).Recalc(ctx, nil); err != nil {
		t.Fatalf("Recalc failed: %v", err)
	}

	items := map[int]int{}
	for _, it := range version.Items {
		items[it.IngredientID] = it.ID
	}
	return &batchFixture{pool: pool, batches: core.NewBatchService(pool), version: version, items: items}
}

func (f *batchFixture) selections(sugar, cocoa string) core.ItemSelections {
	return core.ItemSelections{
		Measured: map[int]decimal.Decimal{f.items[sugarID]: dec(sugar), f.items[cocoaID]: dec(cocoa)},
		Used:     map[int]bool{f.items[sugarID]: true},
		AltPick:  map[int]int{1: f.items[cocoaID]},
	}
}

func header() core.BatchHeader {
	return core.BatchHeader{
		BatchDate:       "2024-03-01",
		TargetMixG:      dec("1000"),
		DeductInventory: true,
	}
}

func TestBatch_SaveComputesCOGSAndLedger(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	h := header()
	h.BowlG = decPtr("1200")
	h.BowlWithMixG = decPtr("2150")
	h.BowlWithResidueG = decPtr("600")
	h.Packouts = map[int]int{cupID: 6, tubID: -1}

	id, err := f.batches.SaveBatch(ctx, core.Actor{UserID: 3}, f.version.ID, h, f.selections("2", "4"))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	b, err := f.batches.GetBatch(ctx, id)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	// 2 * 1.1 + 4 * 0.5
	if !b.COGSBWP.Equal(dec("4.2")) {
		t.Errorf("expected COGS 4.2, got %s", b.COGSBWP)
	}
	if b.ActualMixG == nil || !b.ActualMixG.Equal(dec("950")) {
		t.Errorf("expected actual mix 950, got %v", b.ActualMixG)
	}
	if b.ResidueG != nil || b.BowlWithResidueG != nil {
		t.Errorf("residue should only be recorded on edit, got %v / %v", b.BowlWithResidueG, b.ResidueG)
	}
	if len(b.Resolutions) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(b.Resolutions))
	}
	if b.Resolutions[0].CheckedBy == nil || *b.Resolutions[0].CheckedBy != 3 {
		t.Errorf("expected resolutions checked by user 3, got %v", b.Resolutions[0].CheckedBy)
	}
	packouts := map[int]int{}
	for _, p := range b.Packouts {
		packouts[p.PackageTypeID] = p.Qty
	}
	if packouts[cupID] != 6 || packouts[tubID] != 0 {
		t.Errorf("unexpected packouts %v", packouts)
	}

	sum, n := ledgerSum(t, f.pool, core.SourceBatch, id, sugarID)
	if n != 1 || !sum.Equal(dec("-2")) {
		t.Errorf("expected one sugar usage row of -2, got %d rows totalling %s", n, sum)
	}
	sum, n = ledgerSum(t, f.pool, core.SourceBatch, id, cocoaID)
	if n != 1 || !sum.Equal(dec("-4")) {
		t.Errorf("expected one cocoa usage row of -4, got %d rows totalling %s", n, sum)
	}
	if _, n := ledgerSum(t, f.pool, core.SourceBatch, id, vanillaID); n != 0 {
		t.Errorf("unpicked alternate should not be consumed, got %d rows", n)
	}
}

func TestBatch_UpdateIsIdempotentAndWritesDeltas(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	id, err := f.batches.SaveBatch(ctx, core.Actor{}, f.version.ID, header(), f.selections("2", "4"))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	// Identical update writes nothing new.
	if err := f.batches.UpdateBatch(ctx, core.Actor{}, id, header(), f.selections("2", "4")); err != nil {
		t.Fatalf("UpdateBatch failed: %v", err)
	}
	if sum, n := ledgerSum(t, f.pool, core.SourceBatch, id, sugarID); n != 1 || !sum.Equal(dec("-2")) {
		t.Fatalf("identical update changed ledger: %d rows totalling %s", n, sum)
	}

	// Raising sugar adds exactly one row for the difference.
	h := header()
	h.BowlWithResidueG = decPtr("600")
	if err := f.batches.UpdateBatch(ctx, core.Actor{}, id, h, f.selections("3", "4")); err != nil {
		t.Fatalf("UpdateBatch failed: %v", err)
	}
	sum, n := ledgerSum(t, f.pool, core.SourceBatch, id, sugarID)
	if n != 2 || !sum.Equal(dec("-3")) {
		t.Errorf("expected 2 sugar rows totalling -3, got %d totalling %s", n, sum)
	}
	var last decimal.Decimal
	if err := f.pool.QueryRow(ctx, `
		SELECT qty FROM inventory_txns
		WHERE source_table = 'batches' AND source_id = $1 AND ingredient_id = $2
		ORDER BY id DESC LIMIT 1`, id, sugarID,
	).Scan(&last); err != nil {
		t.Fatalf("read delta row: %v", err)
	}
	if !last.Equal(dec("-1")) {
		t.Errorf("expected delta row -1, got %s", last)
	}

	b, err := f.batches.GetBatch(ctx, id)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	// 3 * 1.1 + 4 * 0.5
	if !b.COGSBWP.Equal(dec("5.3")) {
		t.Errorf("expected COGS 5.3, got %s", b.COGSBWP)
	}
	// 600 less the 540 g churn bowl.
	if b.ResidueG == nil || !b.ResidueG.Equal(dec("60")) {
		t.Errorf("expected residue 60, got %v", b.ResidueG)
	}
}

func TestBatch_SwitchingAlternateRemovesOldIngredient(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	id, err := f.batches.SaveBatch(ctx, core.Actor{}, f.version.ID, header(), f.selections("2", "4"))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	sel := core.ItemSelections{
		Measured: map[int]decimal.Decimal{f.items[sugarID]: dec("2"), f.items[vanillaID]: dec("1.5")},
		Used:     map[int]bool{f.items[sugarID]: true},
		AltPick:  map[int]int{1: f.items[vanillaID]},
	}
	if err := f.batches.UpdateBatch(ctx, core.Actor{}, id, header(), sel); err != nil {
		t.Fatalf("UpdateBatch failed: %v", err)
	}

	if _, n := ledgerSum(t, f.pool, core.SourceBatch, id, cocoaID); n != 0 {
		t.Errorf("expected cocoa rows removed, found %d", n)
	}
	if sum, n := ledgerSum(t, f.pool, core.SourceBatch, id, vanillaID); n != 1 || !sum.Equal(dec("-1.5")) {
		t.Errorf("expected one vanilla row of -1.5, got %d totalling %s", n, sum)
	}

	// Vanilla has no WAC yet, so it contributes nothing.
	b, err := f.batches.GetBatch(ctx, id)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if !b.COGSBWP.Equal(dec("2.2")) {
		t.Errorf("expected COGS 2.2, got %s", b.COGSBWP)
	}
}

func TestBatch_DeductOffClearsLedger(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	id, err := f.batches.SaveBatch(ctx, core.Actor{}, f.version.ID, header(), f.selections("2", "4"))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	h := header()
	h.DeductInventory = false
	if err := f.batches.UpdateBatch(ctx, core.Actor{}, id, h, f.selections("2", "4")); err != nil {
		t.Fatalf("UpdateBatch failed: %v", err)
	}
	for _, ing := range []int{sugarID, cocoaID} {
		if _, n := ledgerSum(t, f.pool, core.SourceBatch, id, ing); n != 0 {
			t.Errorf("ingredient %d still has %d batch rows", ing, n)
		}
	}

	b, err := f.batches.GetBatch(ctx, id)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if b.DeductInventory || !b.COGSBWP.Equal(dec("4.2")) {
		t.Errorf("expected deduct off with COGS still 4.2, got %v %s", b.DeductInventory, b.COGSBWP)
	}
}

func TestBatch_Rejects(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	var ve *core.ValidationError
	_, err := f.batches.SaveBatch(ctx, core.Actor{}, 999, header(), core.ItemSelections{})
	if !errors.As(err, &ve) || ve.Field != "recipe_version_id" {
		t.Errorf("expected recipe_version_id validation error, got %v", err)
	}

	h := header()
	h.TargetMixG = decimal.Zero
	if _, err := f.batches.SaveBatch(ctx, core.Actor{}, f.version.ID, h, core.ItemSelections{}); !errors.As(err, &ve) {
		t.Errorf("expected validation error for zero target, got %v", err)
	}

	if err := f.batches.UpdateBatch(ctx, core.Actor{}, 999, header(), core.ItemSelections{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.batches.GetBatch(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var count int
	if err := f.pool.QueryRow(ctx, "SELECT COUNT(*) FROM batches").Scan(&count); err != nil {
		t.Fatalf("count batches: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected saves left %d batches behind", count)
	}
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

// The unknown package type only fails at the packout insert, after the
// header, resolutions and usage rows are already written in the transaction.
func TestBatch_SaveFailingLateLeavesNothing(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	h := header()
	h.Packouts = map[int]int{999: 3}
	if _, err := f.batches.SaveBatch(ctx, core.Actor{}, f.version.ID, h, f.selections("2", "4")); err == nil {
		t.Fatal("expected SaveBatch to fail on unknown package type")
	}

	if n := countRows(t, f.pool, "SELECT COUNT(*) FROM batches"); n != 0 {
		t.Errorf("expected no batches, found %d", n)
	}
	if n := countRows(t, f.pool, "SELECT COUNT(*) FROM batch_ingredient_resolutions"); n != 0 {
		t.Errorf("expected no resolutions, found %d", n)
	}
	if n := countRows(t, f.pool, "SELECT COUNT(*) FROM inventory_txns WHERE source_table = 'batches'"); n != 0 {
		t.Errorf("expected no batch ledger rows, found %d", n)
	}
}

func TestBatch_UpdateFailingLateKeepsPriorState(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	h := header()
	h.Packouts = map[int]int{cupID: 6}
	id, err := f.batches.SaveBatch(ctx, core.Actor{}, f.version.ID, h, f.selections("2", "4"))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	bad := header()
	bad.TargetMixG = dec("1500")
	bad.Notes = "second churn"
	bad.Packouts = map[int]int{cupID: 9, 999: 1}
	if err := f.batches.UpdateBatch(ctx, core.Actor{}, id, bad, f.selections("3", "1")); err == nil {
		t.Fatal("expected UpdateBatch to fail on unknown package type")
	}

	b, err := f.batches.GetBatch(ctx, id)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if !b.COGSBWP.Equal(dec("4.2")) {
		t.Errorf("expected COGS to stay 4.2, got %s", b.COGSBWP)
	}
	if !b.TargetMixG.Equal(dec("1000")) || b.Notes != nil {
		t.Errorf("header changed: target %s notes %v", b.TargetMixG, b.Notes)
	}
	measured := map[int]decimal.Decimal{}
	for _, r := range b.Resolutions {
		measured[r.IngredientID] = r.MeasuredQty
	}
	if len(measured) != 2 || !measured[sugarID].Equal(dec("2")) || !measured[cocoaID].Equal(dec("4")) {
		t.Errorf("resolutions changed: %v", measured)
	}
	if len(b.Packouts) != 1 || b.Packouts[0].Qty != 6 {
		t.Errorf("packouts changed: %+v", b.Packouts)
	}

	if sum, n := ledgerSum(t, f.pool, core.SourceBatch, id, sugarID); n != 1 || !sum.Equal(dec("-2")) {
		t.Errorf("sugar ledger changed: %d rows totalling %s", n, sum)
	}
	if sum, n := ledgerSum(t, f.pool, core.SourceBatch, id, cocoaID); n != 1 || !sum.Equal(dec("-4")) {
		t.Errorf("cocoa ledger changed: %d rows totalling %s", n, sum)
	}
}

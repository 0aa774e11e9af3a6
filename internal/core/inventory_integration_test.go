package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gelato-costing/internal/core"
)

func TestInventory_StockLevels(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	inv := core.NewInventoryService(pool)

	seedPurchase(t, pool, sugarID, "10", "1.00")
	seedPurchase(t, pool, sugarID, "5", "1.30")
	if _, err := core.NewWACService(pool).Recalc(ctx, intPtr(sugarID)); err != nil {
		t.Fatalf("Recalc failed: %v", err)
	}
	if err := inv.RecordUsage(ctx, core.Actor{}, sugarID, dec("2"), "2024-01-05", ""); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	levels, err := inv.StockLevels(ctx)
	if err != nil {
		t.Fatalf("StockLevels failed: %v", err)
	}
	if len(levels) != 4 {
		t.Fatalf("expected 4 active ingredients, got %d", len(levels))
	}

	var sugar *core.StockLevel
	for i := range levels {
		if levels[i].IngredientID == sugarID {
			sugar = &levels[i]
		}
	}
	if sugar == nil {
		t.Fatal("sugar missing from stock levels")
	}
	if !sugar.OnHand.Equal(dec("13")) {
		t.Errorf("expected on-hand 13, got %s", sugar.OnHand)
	}
	if sugar.WAC == nil || !sugar.WAC.Equal(dec("1.1")) {
		t.Errorf("expected WAC 1.1, got %v", sugar.WAC)
	}
	if !sugar.StockValueBWP.Equal(dec("14.3")) {
		t.Errorf("expected stock value 14.3, got %s", sugar.StockValueBWP)
	}
	// Reorder point for sugar is 1000.
	if !sugar.BelowReorder {
		t.Error("expected sugar flagged below reorder point")
	}
}

func TestInventory_RecordUsage(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	inv := core.NewInventoryService(pool)

	// Usage is always recorded as consumption, whatever the sign passed in.
	for _, q := range []string{"5", "-3"} {
		if err := inv.RecordUsage(ctx, core.Actor{UserID: 2}, milkID, dec(q), "2024-01-05", "spill"); err != nil {
			t.Fatalf("RecordUsage(%s) failed: %v", q, err)
		}
	}
	onHand, err := inv.OnHand(ctx, milkID)
	if err != nil {
		t.Fatalf("OnHand failed: %v", err)
	}
	if !onHand.Equal(dec("-8")) {
		t.Errorf("expected on-hand -8, got %s", onHand)
	}

	var ve *core.ValidationError
	if err := inv.RecordUsage(ctx, core.Actor{}, milkID, dec("0"), "2024-01-05", ""); !errors.As(err, &ve) {
		t.Errorf("expected validation error for zero usage, got %v", err)
	}
	if err := inv.RecordUsage(ctx, core.Actor{}, 999, dec("1"), "2024-01-05", ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInventory_SetOnHand(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	inv := core.NewInventoryService(pool)

	seedPurchase(t, pool, cocoaID, "100", "0.5")

	delta, err := inv.SetOnHand(ctx, core.Actor{}, cocoaID, dec("92.5"), "2024-02-01", "")
	if err != nil {
		t.Fatalf("SetOnHand failed: %v", err)
	}
	if !delta.Equal(dec("-7.5")) {
		t.Errorf("expected delta -7.5, got %s", delta)
	}

	// Counting the same quantity again records nothing.
	delta, err = inv.SetOnHand(ctx, core.Actor{}, cocoaID, dec("92.5"), "2024-02-02", "")
	if err != nil {
		t.Fatalf("repeat SetOnHand failed: %v", err)
	}
	if !delta.IsZero() {
		t.Errorf("expected zero delta on repeat, got %s", delta)
	}

	history, err := inv.History(ctx, cocoaID, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected purchase and one stocktake, got %d rows", len(history))
	}
	latest := history[0]
	if latest.TxnType != core.TxnStocktake || latest.Note == nil || !strings.HasPrefix(*latest.Note, "Stocktake: set on-hand from 100") {
		t.Errorf("unexpected stocktake row: %+v", latest)
	}
	if latest.SourceTable == nil || *latest.SourceTable != core.SourceManualAdjust {
		t.Errorf("expected manual_adjust source, got %v", latest.SourceTable)
	}

	// Stocktakes never move the cost basis.
	w, err := core.NewWACService(pool).Recalc(ctx, intPtr(cocoaID))
	if err != nil {
		t.Fatalf("Recalc failed: %v", err)
	}
	if got := w[cocoaID]; got == nil || !got.Equal(dec("0.5")) {
		t.Errorf("expected WAC 0.5, got %v", got)
	}

	var ve *core.ValidationError
	if _, err := inv.SetOnHand(ctx, core.Actor{}, cocoaID, dec("-1"), "2024-02-02", ""); !errors.As(err, &ve) {
		t.Errorf("expected validation error for negative count, got %v", err)
	}
}

func TestInventory_HistoryLimit(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	inv := core.NewInventoryService(pool)

	for i := 0; i < 5; i++ {
		seedPurchase(t, pool, sugarID, "1", "1")
	}
	history, err := inv.History(ctx, sugarID, 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("expected 3 rows, got %d", len(history))
	}
	if _, err := inv.History(ctx, 999, 0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

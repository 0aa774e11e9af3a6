package core_test

import (
	"context"
	"testing"

	"gelato-costing/internal/core"
)

func TestWAC_RecalcFromPurchasesOnly(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	wac := core.NewWACService(pool)

	seedPurchase(t, pool, sugarID, "10", "1.00")
	seedPurchase(t, pool, sugarID, "5", "1.30")
	// Usage and stocktake rows move quantity only.
	if _, err := pool.Exec(ctx, `
		INSERT INTO inventory_txns (ingredient_id, txn_date, txn_type, qty, unit_cost_bwp) VALUES
		(1, '2024-01-02', 'usage', -2, 0),
		(1, '2024-01-03', 'stocktake', 4, 0)`); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	result, err := wac.Recalc(ctx, intPtr(sugarID))
	if err != nil {
		t.Fatalf("Recalc failed: %v", err)
	}
	got := result[sugarID]
	if got == nil || !got.Equal(dec("1.1")) {
		t.Fatalf("expected WAC 1.1, got %v", got)
	}

	current, err := wac.CurrentWAC(ctx, sugarID)
	if err != nil {
		t.Fatalf("CurrentWAC failed: %v", err)
	}
	if current == nil || !current.Equal(dec("1.1")) {
		t.Errorf("expected current WAC 1.1, got %v", current)
	}

	// Recalculating again keeps exactly one current row.
	if _, err := wac.Recalc(ctx, intPtr(sugarID)); err != nil {
		t.Fatalf("second Recalc failed: %v", err)
	}
	var n int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM ingredient_wac_history WHERE ingredient_id = $1 AND current_flag", sugarID,
	).Scan(&n); err != nil {
		t.Fatalf("count current rows: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 current WAC row, got %d", n)
	}
}

func TestWAC_NoCostBasisClearsCurrent(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	wac := core.NewWACService(pool)

	if _, err := pool.Exec(ctx,
		"INSERT INTO ingredient_wac_history (ingredient_id, wac_bwp, current_flag) VALUES ($1, 2.5, true)", cocoaID,
	); err != nil {
		t.Fatalf("seed stale wac: %v", err)
	}

	result, err := wac.Recalc(ctx, intPtr(cocoaID))
	if err != nil {
		t.Fatalf("Recalc failed: %v", err)
	}
	if v, ok := result[cocoaID]; !ok || v != nil {
		t.Fatalf("expected nil WAC entry for cocoa, got %v (present=%v)", v, ok)
	}

	current, err := wac.CurrentWAC(ctx, cocoaID)
	if err != nil {
		t.Fatalf("CurrentWAC failed: %v", err)
	}
	if current != nil {
		t.Errorf("expected no current WAC, got %s", current)
	}
}

func TestWAC_RecalcAllActive(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	wac := core.NewWACService(pool)

	seedPurchase(t, pool, sugarID, "4", "2")
	seedPurchase(t, pool, milkID, "1000", "0.015")
	if _, err := pool.Exec(ctx, "UPDATE ingredients SET is_active = false WHERE id = $1", vanillaID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	result, err := wac.Recalc(ctx, nil)
	if err != nil {
		t.Fatalf("Recalc failed: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 active ingredients recalculated, got %d", len(result))
	}
	if _, ok := result[vanillaID]; ok {
		t.Error("inactive ingredient should not be recalculated")
	}
	if w := result[milkID]; w == nil || !w.Equal(dec("0.015")) {
		t.Errorf("expected milk WAC 0.015, got %v", w)
	}
}

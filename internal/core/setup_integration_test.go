package core_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"gelato-costing/internal/db"
)

// Fixed ids seeded by setupTestDB.
const (
	sugarID   = 1
	milkID    = 2
	cocoaID   = 3
	vanillaID = 4

	cupID = 1
	tubID = 2
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database; these tests truncate every table.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if _, err := db.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE batch_packouts, batch_ingredient_resolutions, batches, package_types,
		               recipe_items, recipe_versions, recipes,
		               ingredient_wac_history, inventory_txns,
		               purchase_order_lines, purchase_orders, suppliers,
		               ingredients, exchange_rates
		RESTART IDENTITY CASCADE;

		INSERT INTO ingredients (id, name, unit_kind, reorder_point) VALUES
		(1, 'Sugar', 'g', 1000),
		(2, 'Whole Milk', 'ml', 0),
		(3, 'Cocoa', 'g', 0),
		(4, 'Vanilla Paste', 'g', 0);
		SELECT setval('ingredients_id_seq', 4);

		INSERT INTO package_types (id, name, size_ml) VALUES
		(1, 'Cup 120ml', 120),
		(2, 'Tub 500ml', 500);
		SELECT setval('package_types_id_seq', 2);
	`)
	if err != nil {
		pool.Close()
		t.Fatalf("Failed to seed test database: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(i int) *int {
	return &i
}

// seedPurchase writes a purchase ledger row directly, bypassing purchase orders.
func seedPurchase(t *testing.T, pool *pgxpool.Pool, ingredientID int, qty, unitCost string) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), `
		INSERT INTO inventory_txns (ingredient_id, txn_date, txn_type, qty, unit_cost_bwp)
		VALUES ($1, '2024-01-01', 'purchase', $2, $3)`,
		ingredientID, dec(qty), dec(unitCost),
	); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
}

func seedRate(t *testing.T, pool *pgxpool.Pool, date, currency, rate string) {
	t.Helper()
	if _, err := pool.Exec(context.Background(),
		"INSERT INTO exchange_rates (rate_date, currency, rate_to_bwp) VALUES ($1, $2, $3)",
		date, currency, dec(rate),
	); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
}

// ledgerSum totals ledger quantities for one source row.
func ledgerSum(t *testing.T, pool *pgxpool.Pool, sourceTable string, sourceID, ingredientID int) (decimal.Decimal, int) {
	t.Helper()
	var sum decimal.Decimal
	var n int
	if err := pool.QueryRow(context.Background(), `
		SELECT COALESCE(SUM(qty), 0), COUNT(*) FROM inventory_txns
		WHERE source_table = $1 AND source_id = $2 AND ingredient_id = $3`,
		sourceTable, sourceID, ingredientID,
	).Scan(&sum, &n); err != nil {
		t.Fatalf("ledger sum: %v", err)
	}
	return sum, n
}

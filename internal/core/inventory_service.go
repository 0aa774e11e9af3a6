package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// defaultHistoryLimit caps History when the caller passes zero.
const defaultHistoryLimit = 100

// InventoryService reads stock positions from the ingredient ledger and records
// manual usage and stocktake corrections.
type InventoryService interface {
	StockLevels(ctx context.Context) ([]StockLevel, error)
	OnHand(ctx context.Context, ingredientID int) (decimal.Decimal, error)

	// RecordUsage books a manual usage of qty (sign ignored) against the ingredient.
	RecordUsage(ctx context.Context, actor Actor, ingredientID int, qty decimal.Decimal, txnDate, note string) error

	// SetOnHand books a stocktake row moving on-hand to target. Returns the
	// delta written; zero means the ledger already matched.
	SetOnHand(ctx context.Context, actor Actor, ingredientID int, target decimal.Decimal, txnDate, note string) (decimal.Decimal, error)

	History(ctx context.Context, ingredientID, limit int) ([]InventoryTxn, error)
}

type inventoryService struct {
	pool *pgxpool.Pool
}

func NewInventoryService(pool *pgxpool.Pool) InventoryService {
	return &inventoryService{pool: pool}
}

func (s *inventoryService) StockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.name, i.unit_kind,
		       COALESCE(SUM(it.qty), 0) AS on_hand,
		       w.wac_bwp, i.reorder_point
		FROM ingredients i
		LEFT JOIN inventory_txns it ON it.ingredient_id = i.id
		LEFT JOIN v_current_wac w   ON w.ingredient_id = i.id
		WHERE i.is_active
		GROUP BY i.id, i.name, i.unit_kind, w.wac_bwp, i.reorder_point
		ORDER BY i.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.IngredientID, &sl.IngredientName, &sl.UnitKind,
			&sl.OnHand, &sl.WAC, &sl.ReorderPoint); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		if sl.WAC != nil {
			sl.StockValueBWP = sl.OnHand.Mul(*sl.WAC).Round(2)
		}
		sl.BelowReorder = sl.ReorderPoint.IsPositive() && sl.OnHand.LessThan(sl.ReorderPoint)
		levels = append(levels, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}
	return levels, nil
}

func (s *inventoryService) OnHand(ctx context.Context, ingredientID int) (decimal.Decimal, error) {
	if err := ingredientExists(ctx, s.pool, ingredientID); err != nil {
		return decimal.Zero, err
	}
	return onHand(ctx, s.pool, ingredientID)
}

func (s *inventoryService) RecordUsage(ctx context.Context, actor Actor, ingredientID int, qty decimal.Decimal, txnDate, note string) error {
	if _, err := parseDate("txn_date", txnDate); err != nil {
		return err
	}
	if qty.IsZero() {
		return invalidf("qty", "usage quantity must be non-zero")
	}
	if err := ingredientExists(ctx, s.pool, ingredientID); err != nil {
		return err
	}
	if strings.TrimSpace(note) == "" {
		note = "Manual usage"
	}
	return insertAdjustment(ctx, s.pool, actor, ingredientID, TxnUsage, qty.Abs().Neg(), txnDate, note)
}

func (s *inventoryService) SetOnHand(ctx context.Context, actor Actor, ingredientID int, target decimal.Decimal, txnDate, note string) (decimal.Decimal, error) {
	if _, err := parseDate("txn_date", txnDate); err != nil {
		return decimal.Zero, err
	}
	if target.IsNegative() {
		return decimal.Zero, invalidf("target", "counted quantity cannot be negative, got %s", target)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The ingredient row lock keeps two concurrent stocktakes from both
	// computing their delta against the same on-hand.
	var id int
	if err := tx.QueryRow(ctx, "SELECT id FROM ingredients WHERE id = $1 FOR UPDATE", ingredientID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, notFoundf("ingredient %d", ingredientID)
		}
		return decimal.Zero, fmt.Errorf("lock ingredient %d: %w", ingredientID, err)
	}

	current, err := onHand(ctx, tx, ingredientID)
	if err != nil {
		return decimal.Zero, err
	}
	delta, needed := LedgerDelta(target, current)
	if !needed {
		return decimal.Zero, nil
	}
	if strings.TrimSpace(note) == "" {
		note = fmt.Sprintf("Stocktake: set on-hand from %s to %s", current.String(), target.String())
	}
	if err := insertAdjustment(ctx, tx, actor, ingredientID, TxnStocktake, delta, txnDate, note); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit stocktake: %w", err)
	}
	return delta, nil
}

func (s *inventoryService) History(ctx context.Context, ingredientID, limit int) ([]InventoryTxn, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if err := ingredientExists(ctx, s.pool, ingredientID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ingredient_id, txn_date::text, txn_type, qty, unit_kind, unit_cost_bwp,
		       source_table, source_id, note, created_by, created_at
		FROM inventory_txns
		WHERE ingredient_id = $1
		ORDER BY txn_date DESC, id DESC
		LIMIT $2
	`, ingredientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for ingredient %d: %w", ingredientID, err)
	}
	defer rows.Close()

	var txns []InventoryTxn
	for rows.Next() {
		var t InventoryTxn
		if err := rows.Scan(&t.ID, &t.IngredientID, &t.TxnDate, &t.TxnType, &t.Qty, &t.UnitKind,
			&t.UnitCostBWP, &t.SourceTable, &t.SourceID, &t.Note, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory txn: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory txns: %w", err)
	}
	return txns, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func ingredientExists(ctx context.Context, q querier, ingredientID int) error {
	var id int
	if err := q.QueryRow(ctx, "SELECT id FROM ingredients WHERE id = $1", ingredientID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundf("ingredient %d", ingredientID)
		}
		return fmt.Errorf("resolve ingredient %d: %w", ingredientID, err)
	}
	return nil
}

func onHand(ctx context.Context, q querier, ingredientID int) (decimal.Decimal, error) {
	var qty decimal.Decimal
	if err := q.QueryRow(ctx,
		"SELECT COALESCE(SUM(qty), 0) FROM inventory_txns WHERE ingredient_id = $1", ingredientID,
	).Scan(&qty); err != nil {
		return decimal.Zero, fmt.Errorf("sum on-hand for ingredient %d: %w", ingredientID, err)
	}
	return qty, nil
}

func insertAdjustment(ctx context.Context, q querier, actor Actor, ingredientID int,
	txnType string, qty decimal.Decimal, txnDate, note string) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO inventory_txns
		            (ingredient_id, txn_date, txn_type, qty, unit_kind, unit_cost_bwp,
		             source_table, source_id, note, created_by)
		SELECT $1, $2, $3, $4, i.unit_kind, 0, $5, 0, $6, $7
		FROM ingredients i WHERE i.id = $1`,
		ingredientID, txnDate, txnType, qty, SourceManualAdjust, note, actor.createdBy(),
	); err != nil {
		return fmt.Errorf("insert %s for ingredient %d: %w", txnType, ingredientID, err)
	}
	return nil
}

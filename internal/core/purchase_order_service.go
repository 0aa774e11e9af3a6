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

type purchaseOrderService struct {
	pool *pgxpool.Pool
	fx   FXService
	wac  WACService
}

// NewPurchaseOrderService constructs a PurchaseOrderService backed by PostgreSQL.
func NewPurchaseOrderService(pool *pgxpool.Pool, fx FXService, wac WACService) PurchaseOrderService {
	return &purchaseOrderService{pool: pool, fx: fx, wac: wac}
}

// CreatePO creates a purchase order with its lines and purchase ledger rows.
func (s *purchaseOrderService) CreatePO(ctx context.Context, actor Actor, input PurchaseOrderInput) (*PurchaseOrder, error) {
	if _, err := parseDate("order_date", input.OrderDate); err != nil {
		return nil, err
	}
	currency, err := ParseCurrency(string(input.Currency))
	if err != nil {
		return nil, err
	}
	lines, err := completeLines(input.Lines)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, invalidf("lines", "purchase order must have at least one line")
	}
	if input.ManualFXRate != nil && input.ManualFXRate.IsNegative() {
		return nil, invalidf("fx_rate", "manual rate cannot be negative, got %s", input.ManualFXRate)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock in the FX rate: a positive manual rate wins, otherwise resolve.
	fx := decimal.NewFromInt(1)
	rateWritten := false
	if !currency.IsBase() {
		if input.ManualFXRate != nil && input.ManualFXRate.IsPositive() {
			fx = input.ManualFXRate.Round(rateScale)
		} else {
			quote, err := s.fx.ResolveRateTx(ctx, tx, input.OrderDate, currency, BaseCurrency)
			if err != nil {
				return nil, fmt.Errorf("resolve fx rate for %s on %s: %w", currency, input.OrderDate, err)
			}
			fx = quote.Rate
		}
		if err := s.fx.UpsertRateTx(ctx, tx, input.OrderDate, currency, fx); err != nil {
			return nil, fmt.Errorf("persist fx rate: %w", err)
		}
		rateWritten = true
	}

	supplierID, err := upsertSupplier(ctx, tx, input.SupplierName)
	if err != nil {
		return nil, err
	}

	var poID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (po_number, supplier_id, order_date, currency, fx_rate_used, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		nullIfEmpty(input.PONumber), supplierID, input.OrderDate, string(currency), fx, actor.createdBy(),
	).Scan(&poID); err != nil {
		return nil, fmt.Errorf("insert purchase order: %w", err)
	}

	ingredientIDs, err := insertPOLines(ctx, tx, actor, poID, input.OrderDate, fx, lines, fmt.Sprintf("PO #%d", poID))
	if err != nil {
		return nil, err
	}

	if _, err := s.wac.RecalcTx(ctx, tx, ingredientIDs...); err != nil {
		return nil, fmt.Errorf("recalculate wac: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order: %w", err)
	}
	if rateWritten {
		_ = s.fx.InvalidateQuotes(ctx)
	}

	return s.GetPO(ctx, poID)
}

// UpdatePO replaces the lines of an existing purchase order.
func (s *purchaseOrderService) UpdatePO(ctx context.Context, actor Actor, poID int, input PurchaseOrderInput) (*PurchaseOrder, error) {
	if _, err := parseDate("order_date", input.OrderDate); err != nil {
		return nil, err
	}
	lines, err := completeLines(input.Lines)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fx decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT fx_rate_used FROM purchase_orders WHERE id = $1 FOR UPDATE",
		poID,
	).Scan(&fx); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("purchase order %d", poID)
		}
		return nil, fmt.Errorf("lock purchase order %d: %w", poID, err)
	}

	supplierID, err := upsertSupplier(ctx, tx, input.SupplierName)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE purchase_orders
		SET po_number = $1, supplier_id = $2, order_date = $3, updated_at = NOW()
		WHERE id = $4`,
		nullIfEmpty(input.PONumber), supplierID, input.OrderDate, poID,
	); err != nil {
		return nil, fmt.Errorf("update purchase order %d: %w", poID, err)
	}

	rows, err := tx.Query(ctx,
		"SELECT DISTINCT ingredient_id FROM purchase_order_lines WHERE purchase_order_id = $1", poID)
	if err != nil {
		return nil, fmt.Errorf("query previous ingredients: %w", err)
	}
	oldIDs, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("collect previous ingredients: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM inventory_txns it
		USING purchase_order_lines pol
		WHERE it.source_table = 'purchase_order_lines'
		  AND it.source_id = pol.id
		  AND pol.purchase_order_id = $1`,
		poID,
	); err != nil {
		return nil, fmt.Errorf("delete previous ledger rows: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM purchase_order_lines WHERE purchase_order_id = $1", poID); err != nil {
		return nil, fmt.Errorf("delete previous lines: %w", err)
	}

	newIDs, err := insertPOLines(ctx, tx, actor, poID, input.OrderDate, fx, lines, fmt.Sprintf("PO #%d (edit)", poID))
	if err != nil {
		return nil, err
	}

	if _, err := s.wac.RecalcTx(ctx, tx, append(oldIDs, newIDs...)...); err != nil {
		return nil, fmt.Errorf("recalculate wac: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order update: %w", err)
	}

	return s.GetPO(ctx, poID)
}

// completeLines drops untouched rows and rejects touched but incomplete ones.
func completeLines(in []PurchaseOrderLineInput) ([]PurchaseOrderLineInput, error) {
	var out []PurchaseOrderLineInput
	for _, l := range in {
		if !l.touched() {
			continue
		}
		if !l.complete() {
			return nil, ErrIncompleteLines
		}
		out = append(out, l)
	}
	return out, nil
}

// insertPOLines writes each line and its purchase ledger row, returning the
// ingredient ids touched.
func insertPOLines(ctx context.Context, tx pgx.Tx, actor Actor, poID int, orderDate string,
	fx decimal.Decimal, lines []PurchaseOrderLineInput, note string) ([]int, error) {

	var ingredientIDs []int
	for i, l := range lines {
		var unitKind string
		if err := tx.QueryRow(ctx,
			"SELECT unit_kind FROM ingredients WHERE id = $1", l.IngredientID,
		).Scan(&unitKind); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, invalidf(fmt.Sprintf("lines[%d].ingredient_id", i), "ingredient %d not found", l.IngredientID)
			}
			return nil, fmt.Errorf("line %d: resolve ingredient: %w", i+1, err)
		}

		unitCostNative := l.LineTotalNative.Div(l.Qty)
		unitCostBWP := unitCostNative.Mul(fx)

		var lineID int
		if err := tx.QueryRow(ctx, `
			INSERT INTO purchase_order_lines
			            (purchase_order_id, ingredient_id, qty, unit_cost_native, unit_cost_bwp,
			             unit_cost_verified, line_note)
			VALUES ($1, $2, $3, $4, $5, true, $6)
			RETURNING id`,
			poID, l.IngredientID, l.Qty, unitCostNative, unitCostBWP, nullIfEmpty(l.Note),
		).Scan(&lineID); err != nil {
			return nil, fmt.Errorf("insert PO line %d: %w", i+1, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory_txns
			            (ingredient_id, txn_date, txn_type, qty, unit_kind, unit_cost_bwp,
			             source_table, source_id, note, created_by)
			VALUES ($1, $2, 'purchase', $3, $4, $5, 'purchase_order_lines', $6, $7, $8)`,
			l.IngredientID, orderDate, l.Qty, unitKind, unitCostBWP, lineID, note, actor.createdBy(),
		); err != nil {
			return nil, fmt.Errorf("insert ledger row for PO line %d: %w", i+1, err)
		}
		ingredientIDs = append(ingredientIDs, l.IngredientID)
	}
	return ingredientIDs, nil
}

// upsertSupplier returns nil for a blank name.
func upsertSupplier(ctx context.Context, tx pgx.Tx, name string) (*int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var id int
	if err := tx.QueryRow(ctx, `
		INSERT INTO suppliers (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		name,
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("upsert supplier %q: %w", name, err)
	}
	return &id, nil
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// GetPO returns a purchase order by its internal ID, including all lines.
func (s *purchaseOrderService) GetPO(ctx context.Context, poID int) (*PurchaseOrder, error) {
	var po PurchaseOrder
	var currency string
	err := s.pool.QueryRow(ctx, `
		SELECT po.id, po.po_number, po.supplier_id, s.name, po.order_date::text,
		       po.currency, po.fx_rate_used, po.created_by, po.created_at, po.updated_at
		FROM purchase_orders po
		LEFT JOIN suppliers s ON s.id = po.supplier_id
		WHERE po.id = $1`,
		poID,
	).Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.SupplierName, &po.OrderDate,
		&currency, &po.FXRateUsed, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("purchase order %d", poID)
		}
		return nil, fmt.Errorf("fetch purchase order %d: %w", poID, err)
	}
	po.Currency = Currency(currency)

	rows, err := s.pool.Query(ctx, `
		SELECT pol.id, pol.purchase_order_id, pol.ingredient_id, i.name,
		       pol.qty, pol.unit_cost_native, pol.unit_cost_bwp, pol.line_note
		FROM purchase_order_lines pol
		JOIN ingredients i ON i.id = pol.ingredient_id
		WHERE pol.purchase_order_id = $1
		ORDER BY pol.id`,
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lines for purchase order %d: %w", poID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.IngredientID, &l.IngredientName,
			&l.Qty, &l.UnitCostNative, &l.UnitCostBWP, &l.Note); err != nil {
			return nil, fmt.Errorf("scan purchase order line: %w", err)
		}
		po.TotalNative = po.TotalNative.Add(l.Qty.Mul(l.UnitCostNative))
		po.TotalBWP = po.TotalBWP.Add(l.Qty.Mul(l.UnitCostBWP))
		po.Lines = append(po.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase order lines: %w", err)
	}
	return &po, nil
}

// ListPOs returns order headers with totals, newest first.
func (s *purchaseOrderService) ListPOs(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT po.id, po.po_number, po.supplier_id, s.name, po.order_date::text,
		       po.currency, po.fx_rate_used, po.created_by, po.created_at, po.updated_at,
		       COALESCE(SUM(pol.qty * pol.unit_cost_native), 0),
		       COALESCE(SUM(pol.qty * pol.unit_cost_bwp), 0)
		FROM purchase_orders po
		LEFT JOIN suppliers s ON s.id = po.supplier_id
		LEFT JOIN purchase_order_lines pol ON pol.purchase_order_id = po.id
		GROUP BY po.id, s.name
		ORDER BY po.order_date DESC, po.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		var currency string
		if err := rows.Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.SupplierName, &po.OrderDate,
			&currency, &po.FXRateUsed, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt,
			&po.TotalNative, &po.TotalBWP); err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		po.Currency = Currency(currency)
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase orders: %w", err)
	}
	return orders, nil
}

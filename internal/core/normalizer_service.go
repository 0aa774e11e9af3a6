package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// normalizedNoteSuffix tags ledger rows whose unit cost was repaired.
const normalizedNoteSuffix = " [unitcost normalized]"

// NormalizationCandidate is a purchase order line whose ledger unit cost holds
// the line total instead of the per-unit cost.
type NormalizationCandidate struct {
	POLineID               int             `json:"pol_id"`
	PurchaseOrderID        int             `json:"purchase_order_id"`
	IngredientID           int             `json:"ingredient_id"`
	Qty                    decimal.Decimal `json:"qty"`
	FXRate                 decimal.Decimal `json:"fx"`
	UnitCostNative         decimal.Decimal `json:"current_unit_cost_native"`
	UnitCostBWP            decimal.Decimal `json:"current_unit_cost_bwp"`
	TxnID                  *int            `json:"itxn_id,omitempty"`
	TxnUnitCostBWP         decimal.Decimal `json:"itxn_unit_cost_bwp"`
	ExpectedUnitCostNative decimal.Decimal `json:"expected_per_unit_native"`
	ExpectedUnitCostBWP    decimal.Decimal `json:"expected_per_unit_bwp"`
}

// LineCheck is the outcome of comparing a line's ledger cost with its PO values.
type LineCheck struct {
	Skip                 bool
	LooksWrong           bool
	LooksRight           bool
	ExpectedLineTotalBWP decimal.Decimal
}

// NeedsRepair is true only when the ledger holds the total and not the per-unit
// cost. When qty is close to 1 both comparisons hold and nothing is repaired.
func (c LineCheck) NeedsRepair() bool {
	return !c.Skip && c.LooksWrong && !c.LooksRight
}

// ClassifyLine evaluates one line. ledgerUnitCostBWP is zero when the line has
// no ledger row.
func ClassifyLine(qty, fx, unitCostNative, ledgerUnitCostBWP decimal.Decimal) LineCheck {
	if !qty.IsPositive() || !fx.IsPositive() {
		return LineCheck{Skip: true}
	}
	expected := unitCostNative.Mul(fx)
	return LineCheck{
		LooksWrong:           withinEpsilon(ledgerUnitCostBWP, expected, normalizeEpsilon),
		LooksRight:           withinEpsilon(ledgerUnitCostBWP.Mul(qty), expected, normalizeEpsilon),
		ExpectedLineTotalBWP: expected,
	}
}

// NormalizerService finds and repairs purchase lines saved with line totals as unit costs.
type NormalizerService interface {
	// FindLinesNeedingNormalization only inspects lines not yet marked
	// unit_cost_verified. Lines saved through purchase order entry are verified
	// on insert.
	FindLinesNeedingNormalization(ctx context.Context, ingredientID *int) ([]NormalizationCandidate, error)
	// ApplyNormalization repairs the candidates in one transaction and returns
	// how many lines changed. Each line is re-checked under a row lock, so
	// stale or repeated candidates are skipped.
	ApplyNormalization(ctx context.Context, candidates []NormalizationCandidate) (int, error)
	ScanAndApply(ctx context.Context, ingredientID *int) (int, error)
}

type normalizerService struct {
	pool *pgxpool.Pool
	wac  WACService
}

func NewNormalizerService(pool *pgxpool.Pool, wac WACService) NormalizerService {
	return &normalizerService{pool: pool, wac: wac}
}

func (s *normalizerService) FindLinesNeedingNormalization(ctx context.Context, ingredientID *int) ([]NormalizationCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pol.id, pol.purchase_order_id, pol.ingredient_id, pol.qty, po.fx_rate_used,
		       pol.unit_cost_native, pol.unit_cost_bwp,
		       it.id, COALESCE(it.unit_cost_bwp, 0)
		FROM purchase_order_lines pol
		JOIN purchase_orders po ON po.id = pol.purchase_order_id
		LEFT JOIN inventory_txns it
		       ON it.source_table = 'purchase_order_lines'
		      AND it.source_id = pol.id
		      AND it.txn_type = 'purchase'
		WHERE NOT pol.unit_cost_verified
		  AND ($1::int IS NULL OR pol.ingredient_id = $1)
		ORDER BY pol.id`,
		ingredientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query purchase lines: %w", err)
	}
	defer rows.Close()

	var out []NormalizationCandidate
	for rows.Next() {
		var c NormalizationCandidate
		if err := rows.Scan(
			&c.POLineID, &c.PurchaseOrderID, &c.IngredientID, &c.Qty, &c.FXRate,
			&c.UnitCostNative, &c.UnitCostBWP,
			&c.TxnID, &c.TxnUnitCostBWP,
		); err != nil {
			return nil, fmt.Errorf("scan purchase line: %w", err)
		}

		check := ClassifyLine(c.Qty, c.FXRate, c.UnitCostNative, c.TxnUnitCostBWP)
		if !check.NeedsRepair() {
			continue
		}
		c.ExpectedUnitCostNative = c.UnitCostNative.Div(c.Qty)
		c.ExpectedUnitCostBWP = check.ExpectedLineTotalBWP.Div(c.Qty)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase lines: %w", err)
	}
	return out, nil
}

func (s *normalizerService) ApplyNormalization(ctx context.Context, candidates []NormalizationCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fixed int
	var touched []int
	for _, c := range candidates {
		var ingredientID int
		var qty, fx, native, ledgerCost decimal.Decimal
		var txnID *int
		var verified bool
		err := tx.QueryRow(ctx, `
			SELECT pol.ingredient_id, pol.qty, po.fx_rate_used, pol.unit_cost_native,
			       pol.unit_cost_verified, it.id, COALESCE(it.unit_cost_bwp, 0)
			FROM purchase_order_lines pol
			JOIN purchase_orders po ON po.id = pol.purchase_order_id
			LEFT JOIN inventory_txns it
			       ON it.source_table = 'purchase_order_lines'
			      AND it.source_id = pol.id
			      AND it.txn_type = 'purchase'
			WHERE pol.id = $1
			FOR UPDATE OF pol`,
			c.POLineID,
		).Scan(&ingredientID, &qty, &fx, &native, &verified, &txnID, &ledgerCost)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("lock purchase line %d: %w", c.POLineID, err)
		}
		if verified {
			continue
		}

		check := ClassifyLine(qty, fx, native, ledgerCost)
		if !check.NeedsRepair() {
			continue
		}

		perUnitNative := native.Div(qty)
		perUnitBWP := check.ExpectedLineTotalBWP.Div(qty)

		if _, err := tx.Exec(ctx,
			"UPDATE purchase_order_lines SET unit_cost_native = $1, unit_cost_bwp = $2, unit_cost_verified = true WHERE id = $3",
			perUnitNative, perUnitBWP, c.POLineID,
		); err != nil {
			return 0, fmt.Errorf("normalize purchase line %d: %w", c.POLineID, err)
		}
		if txnID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE inventory_txns
				SET unit_cost_bwp = $1, note = COALESCE(note, '') || $2
				WHERE id = $3`,
				perUnitBWP, normalizedNoteSuffix, *txnID,
			); err != nil {
				return 0, fmt.Errorf("normalize ledger row %d: %w", *txnID, err)
			}
		}

		fixed++
		touched = append(touched, ingredientID)
	}

	if len(touched) > 0 {
		if _, err := s.wac.RecalcTx(ctx, tx, touched...); err != nil {
			return 0, fmt.Errorf("recalculate wac after normalization: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit normalization: %w", err)
	}
	return fixed, nil
}

func (s *normalizerService) ScanAndApply(ctx context.Context, ingredientID *int) (int, error) {
	candidates, err := s.FindLinesNeedingNormalization(ctx, ingredientID)
	if err != nil {
		return 0, err
	}
	return s.ApplyNormalization(ctx, candidates)
}

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

// wacLockNamespace is the first key of the per-ingredient advisory lock.
const wacLockNamespace int32 = 0x574143 // "WAC"

// wacScale is the number of decimal places a stored WAC carries.
const wacScale = 6

// WACService recomputes weighted-average cost from the purchase ledger.
// Every call is a full recompute over purchase rows, never an incremental update.
type WACService interface {
	// Recalc recomputes one ingredient, or every active ingredient when
	// ingredientID is nil, in its own transaction. A nil map value means the
	// ingredient has no cost basis and no current WAC row remains.
	Recalc(ctx context.Context, ingredientID *int) (map[int]*decimal.Decimal, error)

	// RecalcTx recomputes the given ingredients inside the caller's transaction.
	RecalcTx(ctx context.Context, tx pgx.Tx, ingredientIDs ...int) (map[int]*decimal.Decimal, error)

	// CurrentWAC returns nil when the ingredient has no current WAC.
	CurrentWAC(ctx context.Context, ingredientID int) (*decimal.Decimal, error)
}

type wacService struct {
	pool *pgxpool.Pool
}

func NewWACService(pool *pgxpool.Pool) WACService {
	return &wacService{pool: pool}
}

// ComputeWAC returns totalCost/totalQty rounded to six places, or nil when
// either total is not positive.
func ComputeWAC(totalCost, totalQty decimal.Decimal) *decimal.Decimal {
	if !totalQty.IsPositive() || !totalCost.IsPositive() {
		return nil
	}
	wac := totalCost.Div(totalQty).Round(wacScale)
	return &wac
}

func (s *wacService) Recalc(ctx context.Context, ingredientID *int) (map[int]*decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ids []int
	if ingredientID != nil {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM ingredients WHERE id = $1)", *ingredientID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check ingredient %d: %w", *ingredientID, err)
		}
		if !exists {
			return nil, notFoundf("ingredient %d", *ingredientID)
		}
		ids = []int{*ingredientID}
	} else {
		ids, err = activeIngredientIDs(ctx, tx)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.RecalcTx(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit wac recalculation: %w", err)
	}
	return result, nil
}

func activeIngredientIDs(ctx context.Context, tx pgx.Tx) ([]int, error) {
	rows, err := tx.Query(ctx, "SELECT id FROM ingredients WHERE is_active = true ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query active ingredients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("collect active ingredients: %w", err)
	}
	return ids, nil
}

func (s *wacService) RecalcTx(ctx context.Context, tx pgx.Tx, ingredientIDs ...int) (map[int]*decimal.Decimal, error) {
	ids := distinctSorted(ingredientIDs)
	result := make(map[int]*decimal.Decimal, len(ids))

	for _, id := range ids {
		// Ascending lock order keeps concurrent multi-ingredient recalcs deadlock-free.
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)", wacLockNamespace, int32(id)); err != nil {
			return nil, fmt.Errorf("lock wac for ingredient %d: %w", id, err)
		}

		var totalCost, totalQty decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(qty * unit_cost_bwp), 0), COALESCE(SUM(qty), 0)
			FROM inventory_txns
			WHERE ingredient_id = $1
			  AND txn_type = 'purchase'
			  AND unit_cost_bwp IS NOT NULL`,
			id,
		).Scan(&totalCost, &totalQty); err != nil {
			return nil, fmt.Errorf("sum purchases for ingredient %d: %w", id, err)
		}

		wac := ComputeWAC(totalCost, totalQty)
		if wac == nil {
			if _, err := tx.Exec(ctx,
				"UPDATE ingredient_wac_history SET current_flag = false WHERE ingredient_id = $1 AND current_flag",
				id,
			); err != nil {
				return nil, fmt.Errorf("clear wac for ingredient %d: %w", id, err)
			}
			result[id] = nil
			continue
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM ingredient_wac_history WHERE ingredient_id = $1 AND current_flag",
			id,
		); err != nil {
			return nil, fmt.Errorf("replace wac for ingredient %d: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO ingredient_wac_history (ingredient_id, wac_bwp, current_flag) VALUES ($1, $2, true)",
			id, *wac,
		); err != nil {
			return nil, fmt.Errorf("insert wac for ingredient %d: %w", id, err)
		}
		result[id] = wac
	}
	return result, nil
}

func (s *wacService) CurrentWAC(ctx context.Context, ingredientID int) (*decimal.Decimal, error) {
	return currentWAC(ctx, s.pool, ingredientID)
}

func currentWAC(ctx context.Context, q querier, ingredientID int) (*decimal.Decimal, error) {
	var wac decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT wac_bwp FROM v_current_wac WHERE ingredient_id = $1", ingredientID,
	).Scan(&wac)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query current wac for ingredient %d: %w", ingredientID, err)
	}
	return &wac, nil
}

func distinctSorted(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

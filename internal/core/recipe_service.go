package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Recipe struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RecipeVersion is immutable once written. Edits append a new version.
type RecipeVersion struct {
	ID            int             `json:"id"`
	RecipeID      int             `json:"recipe_id"`
	RecipeName    string          `json:"recipe_name"`
	VersionNo     int             `json:"version_no"`
	DefaultYieldG decimal.Decimal `json:"default_yield_g"`
	Notes         *string         `json:"notes"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []RecipeItem    `json:"items"`
}

// RecipeItem is one ingredient line. ChoiceGroup 0 is mandatory; items sharing
// a group above 0 are alternates and exactly one of them is primary.
type RecipeItem struct {
	ID              int             `json:"id"`
	RecipeVersionID int             `json:"recipe_version_id"`
	IngredientID    int             `json:"ingredient_id"`
	IngredientName  string          `json:"ingredient_name"`
	Qty             decimal.Decimal `json:"qty"`
	UnitKind        string          `json:"unit_kind"`
	ChoiceGroup     int             `json:"choice_group"`
	IsPrimary       bool            `json:"is_primary"`
	SortOrder       int             `json:"sort_order"`
}

type RecipeVersionInput struct {
	DefaultYieldG decimal.Decimal
	Notes         string
	Items         []RecipeItemInput
}

type RecipeItemInput struct {
	IngredientID int
	Qty          decimal.Decimal
	UnitKind     string
	ChoiceGroup  int
	IsPrimary    bool
}

// RecipeService manages recipes and their immutable versions.
type RecipeService interface {
	CreateRecipe(ctx context.Context, name string) (*Recipe, error)
	GetVersion(ctx context.Context, versionID int) (*RecipeVersion, error)
	// CreateVersion appends version max+1 for the recipe.
	CreateVersion(ctx context.Context, actor Actor, recipeID int, input RecipeVersionInput) (*RecipeVersion, error)
}

type recipeService struct {
	pool *pgxpool.Pool
}

func NewRecipeService(pool *pgxpool.Pool) RecipeService {
	return &recipeService{pool: pool}
}

// ValidateRecipeVersion checks item quantities, units and choice-group primaries.
func ValidateRecipeVersion(input RecipeVersionInput) error {
	if !input.DefaultYieldG.IsPositive() {
		return invalidf("default_yield_g", "default yield must be positive")
	}
	if len(input.Items) == 0 {
		return invalidf("items", "recipe version needs at least one item")
	}
	primaries := map[int]int{}
	groups := map[int]bool{}
	for i, it := range input.Items {
		field := fmt.Sprintf("items[%d]", i)
		if it.IngredientID <= 0 {
			return invalidf(field+".ingredient_id", "ingredient is required")
		}
		if !it.Qty.IsPositive() {
			return invalidf(field+".qty", "quantity must be positive, got %s", it.Qty)
		}
		if it.UnitKind != "" && it.UnitKind != "g" && it.UnitKind != "ml" {
			return invalidf(field+".unit_kind", "unit must be g or ml, got %q", it.UnitKind)
		}
		if it.ChoiceGroup < 0 {
			return invalidf(field+".choice_group", "choice group cannot be negative")
		}
		if it.ChoiceGroup > 0 {
			groups[it.ChoiceGroup] = true
			if it.IsPrimary {
				primaries[it.ChoiceGroup]++
			}
		}
	}
	for g := range groups {
		if primaries[g] != 1 {
			return invalidf("items", "choice group %d must have exactly one primary item, has %d", g, primaries[g])
		}
	}
	return nil
}

func (s *recipeService) CreateRecipe(ctx context.Context, name string) (*Recipe, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("name", "recipe name is required")
	}
	var r Recipe
	if err := s.pool.QueryRow(ctx,
		"INSERT INTO recipes (name) VALUES ($1) RETURNING id, name, created_at", name,
	).Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert recipe %q: %w", name, err)
	}
	return &r, nil
}

func (s *recipeService) CreateVersion(ctx context.Context, actor Actor, recipeID int, input RecipeVersionInput) (*RecipeVersion, error) {
	if err := ValidateRecipeVersion(input); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialises version numbering per recipe.
	var lockedID int
	if err := tx.QueryRow(ctx, "SELECT id FROM recipes WHERE id = $1 FOR UPDATE", recipeID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("recipe %d", recipeID)
		}
		return nil, fmt.Errorf("lock recipe %d: %w", recipeID, err)
	}

	var versionID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO recipe_versions (recipe_id, version_no, default_yield_g, notes, created_by)
		SELECT $1, COALESCE(MAX(version_no), 0) + 1, $2, $3, $4
		FROM recipe_versions WHERE recipe_id = $1
		RETURNING id`,
		recipeID, input.DefaultYieldG, nullIfEmpty(input.Notes), actor.createdBy(),
	).Scan(&versionID); err != nil {
		return nil, fmt.Errorf("insert recipe version: %w", err)
	}

	for i, it := range input.Items {
		unit := it.UnitKind
		if unit == "" {
			unit = "g"
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO recipe_items
			            (recipe_version_id, ingredient_id, qty, unit_kind, choice_group, is_primary, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			versionID, it.IngredientID, it.Qty, unit, it.ChoiceGroup, it.IsPrimary, i,
		); err != nil {
			return nil, fmt.Errorf("insert recipe item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recipe version: %w", err)
	}
	return s.GetVersion(ctx, versionID)
}

func (s *recipeService) GetVersion(ctx context.Context, versionID int) (*RecipeVersion, error) {
	return loadRecipeVersion(ctx, s.pool, versionID)
}

func loadRecipeVersion(ctx context.Context, q querier, versionID int) (*RecipeVersion, error) {
	var v RecipeVersion
	err := q.QueryRow(ctx, `
		SELECT rv.id, rv.recipe_id, r.name, rv.version_no, rv.default_yield_g, rv.notes, rv.created_at
		FROM recipe_versions rv
		JOIN recipes r ON r.id = rv.recipe_id
		WHERE rv.id = $1`,
		versionID,
	).Scan(&v.ID, &v.RecipeID, &v.RecipeName, &v.VersionNo, &v.DefaultYieldG, &v.Notes, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("recipe version %d", versionID)
		}
		return nil, fmt.Errorf("fetch recipe version %d: %w", versionID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT ri.id, ri.recipe_version_id, ri.ingredient_id, i.name, ri.qty, ri.unit_kind,
		       ri.choice_group, ri.is_primary, ri.sort_order
		FROM recipe_items ri
		JOIN ingredients i ON i.id = ri.ingredient_id
		WHERE ri.recipe_version_id = $1
		ORDER BY ri.choice_group, ri.sort_order, ri.id`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recipe items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it RecipeItem
		if err := rows.Scan(&it.ID, &it.RecipeVersionID, &it.IngredientID, &it.IngredientName,
			&it.Qty, &it.UnitKind, &it.ChoiceGroup, &it.IsPrimary, &it.SortOrder); err != nil {
			return nil, fmt.Errorf("scan recipe item: %w", err)
		}
		v.Items = append(v.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe items: %w", err)
	}
	return &v, nil
}

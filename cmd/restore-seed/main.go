// restore-seed is a one-shot tool that restores reference data: the package
// types used for batch packouts and a starter ingredient list. Existing rows
// are left as they are.
//
// Usage: go run ./cmd/restore-seed
package main

import (
	"context"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gelato-costing/internal/config"
	"gelato-costing/internal/db"
	"gelato-costing/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	appLogger, err := logger.New(cfg)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer appLogger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		appLogger.Fatal("Failed to connect", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.ApplySchema(ctx, pool); err != nil {
		appLogger.Fatal("Failed to apply schema", zap.Error(err))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		appLogger.Fatal("Failed to begin transaction", zap.Error(err))
	}
	defer tx.Rollback(ctx)

	appLogger.Info("Restoring package types...")
	tag, err := tx.Exec(ctx, `
		INSERT INTO package_types (name, size_ml) VALUES
		    ('Cup 120ml',  120),
		    ('Cup 240ml',  240),
		    ('Pint 473ml', 473),
		    ('Tub 1L',     1000),
		    ('Tray 5L',    5000)
		ON CONFLICT (name) DO NOTHING;
	`)
	if err != nil {
		appLogger.Fatal("Failed to restore package types", zap.Error(err))
	}
	appLogger.Info("Package types restored", zap.Int64("inserted", tag.RowsAffected()))

	appLogger.Info("Restoring starter ingredients...")
	tag, err = tx.Exec(ctx, `
		INSERT INTO ingredients (name, unit_kind, reorder_point) VALUES
		    ('Sugar',              'g',  5000),
		    ('Dextrose',           'g',  2000),
		    ('Skim Milk Powder',   'g',  2000),
		    ('Whole Milk',         'ml', 10000),
		    ('Cream 35%',          'ml', 5000),
		    ('Stabiliser Blend',   'g',  200),
		    ('Cocoa Powder',       'g',  1000),
		    ('Vanilla Paste',      'g',  100)
		ON CONFLICT (name) DO NOTHING;
	`)
	if err != nil {
		appLogger.Fatal("Failed to restore ingredients", zap.Error(err))
	}
	appLogger.Info("Ingredients restored", zap.Int64("inserted", tag.RowsAffected()))

	if err := tx.Commit(ctx); err != nil {
		appLogger.Fatal("Failed to commit", zap.Error(err))
	}
	appLogger.Info("Seed data restored successfully.")
}

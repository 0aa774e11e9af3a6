package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gelato-costing/internal/adapters/cli"
	"gelato-costing/internal/adapters/repl"
	"gelato-costing/internal/app"
	"gelato-costing/internal/cache"
	"gelato-costing/internal/config"
	"gelato-costing/internal/core"
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
		appLogger.Fatal("Could not connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		applied, err := db.ApplySchema(ctx, pool)
		if err != nil {
			appLogger.Fatal("Schema apply failed", zap.Error(err))
		}
		if applied {
			fmt.Println("Schema applied.")
		} else {
			fmt.Println("Schema already up to date.")
		}
		return
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		appLogger.Warn("Redis unavailable, FX quote cache disabled", zap.Error(err))
	} else if rdb != nil {
		defer rdb.Close()
	}

	fxService := core.NewFXService(pool, cache.NewFXCache(rdb, cfg.Redis.FXTTL, appLogger))
	wacService := core.NewWACService(pool)
	svc := app.NewAppService(app.Services{
		FX:         fxService,
		WAC:        wacService,
		Normalizer: core.NewNormalizerService(pool, wacService),
		Orders:     core.NewPurchaseOrderService(pool, fxService, wacService),
		Batches:    core.NewBatchService(pool),
		Inventory:  core.NewInventoryService(pool),
		Recipes:    core.NewRecipeService(pool),
	}, appLogger)

	if len(os.Args) < 2 {
		repl.Run(ctx, svc, bufio.NewReader(os.Stdin), os.Stdout)
		return
	}

	if err := cli.Run(ctx, svc, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, cli.Usage)
			os.Exit(2)
		}
		appLogger.Fatal("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	webAdapter "gelato-costing/internal/adapters/web"
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
	appLogger.Info("Connected to Postgres", zap.Int("max_conns", cfg.Postgres.MaxConns))

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		// The quote cache is optional; resolve straight from Postgres.
		appLogger.Warn("Redis unavailable, FX quote cache disabled", zap.Error(err))
	} else if rdb != nil {
		defer rdb.Close()
		appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}
	fxCache := cache.NewFXCache(rdb, cfg.Redis.FXTTL, appLogger.Named("fxcache"))

	fxService := core.NewFXService(pool, fxCache)
	wacService := core.NewWACService(pool)
	svc := app.NewAppService(app.Services{
		FX:         fxService,
		WAC:        wacService,
		Normalizer: core.NewNormalizerService(pool, wacService),
		Orders:     core.NewPurchaseOrderService(pool, fxService, wacService),
		Batches:    core.NewBatchService(pool),
		Inventory:  core.NewInventoryService(pool),
		Recipes:    core.NewRecipeService(pool),
	}, appLogger.Named("app"))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           webAdapter.NewHandler(svc, cfg.Server, appLogger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Server starting", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	appLogger.Info("Server exited")
}

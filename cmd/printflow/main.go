package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/printflow-erp/printflow/internal/app"
	"github.com/printflow-erp/printflow/internal/orders"
	"github.com/printflow-erp/printflow/internal/platform/cache"
	"github.com/printflow-erp/printflow/internal/platform/db"
	"github.com/printflow-erp/printflow/internal/receiving"
	"github.com/printflow-erp/printflow/internal/shared"
	"github.com/printflow-erp/printflow/internal/workorder"
	"github.com/printflow-erp/printflow/jobs"
	"github.com/printflow-erp/printflow/report"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "api")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var locks receiving.LockerPort
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using in-process locks", slog.Any("error", err))
		redisClient = redis.NewClient(cache.Options(cfg.RedisAddr))
		locks = shared.NewKeyedMutex()
	} else {
		locks = shared.NewRedisLocker(redisClient)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	ordersRepo := orders.NewRepository(pool)

	receivingRepo := receiving.NewRepository(pool)
	worklistCache := receiving.NewOpenPOCache(redisClient)
	receivingService := receiving.NewService(receivingRepo, ordersRepo, locks, auditLogger, idempotencyStore, worklistCache)
	receivingHandler := receiving.NewHandler(logger, receivingService, cfg.PONumberPrefix)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	artwork := workorder.NewArtworkFetcher(logger)
	workorderService := workorder.NewService(logger, ordersRepo, pdfClient, artwork, cfg.WorkOrderChunkSize)
	workorderHandler := workorder.NewHandler(logger, workorderService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("build job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ReceivingHandler: receivingHandler,
		WorkOrderHandler: workorderHandler,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/label-engine/internal/config"
	"github.com/kursadbilgin/label-engine/internal/handler"
	"github.com/kursadbilgin/label-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/label-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/label-engine/internal/infra/redis"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/printing"
	"github.com/kursadbilgin/label-engine/internal/queue"
	"github.com/kursadbilgin/label-engine/internal/render"
	"github.com/kursadbilgin/label-engine/internal/repository"
	"github.com/kursadbilgin/label-engine/internal/service"
	"github.com/kursadbilgin/label-engine/internal/storage"
	"github.com/kursadbilgin/label-engine/internal/transport"
	"github.com/kursadbilgin/label-engine/internal/weight"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	submissionGuard, err := infraredis.NewRedisSubmissionGuard(rdb, cfg.SubmissionCooldown())
	if err != nil {
		logger.Fatal("submission guard initialization failed", zap.Error(err))
	}

	tares, err := config.LoadTareTable(cfg.TareConfigPath)
	if err != nil {
		logger.Fatal("tare table initialization failed", zap.Error(err))
	}

	renderer, err := render.NewHTTPRenderer(cfg.RenderServiceURL)
	if err != nil {
		logger.Fatal("renderer initialization failed", zap.Error(err))
	}

	printer, readiness, closePrinter, err := newPrinter(ctx, cfg)
	if err != nil {
		logger.Fatal("printer initialization failed", zap.Error(err))
	}
	defer closePrinter()

	labels := repository.NewGormLabelStore(db)

	allocator, err := service.NewIdentifierAllocator(labels, logger)
	if err != nil {
		logger.Fatal("allocator initialization failed", zap.Error(err))
	}
	allocator.SetMetrics(metrics)

	generator, err := service.NewArtifactGenerator(renderer, cfg.GenerationGroupSize, logger)
	if err != nil {
		logger.Fatal("generator initialization failed", zap.Error(err))
	}
	generator.SetMetrics(metrics)

	submitter, err := service.NewPrintSubmitter(printer, cfg.ResetDelay(), logger)
	if err != nil {
		logger.Fatal("submitter initialization failed", zap.Error(err))
	}
	submitter.SetMetrics(metrics)

	sessions, err := service.NewSessionRegistry(service.Pipeline{
		Resolver:  weight.NewResolver(tares),
		Allocator: allocator,
		Generator: generator,
		Submitter: submitter,
		Batches:   labels,
		Progress:  cfg.Progress(),
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.Fatal("session registry initialization failed", zap.Error(err))
	}
	defer sessions.CloseAll()

	printService, err := service.NewPrintService(sessions, submissionGuard, labels, logger)
	if err != nil {
		logger.Fatal("print service initialization failed", zap.Error(err))
	}
	printService.SetMetrics(metrics)

	scanner, err := service.NewAbandonedBatchScanner(labels, cfg.AbandonedScanEvery(), cfg.AbandonedGrace(), 0, logger)
	if err != nil {
		logger.Fatal("abandoned batch scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)
	scannerDone := make(chan struct{})
	go func() {
		defer close(scannerDone)
		if err := scanner.Start(ctx); err != nil {
			logger.Error("abandoned batch scanner stopped", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:               "label-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, readiness...)
	if err := handler.RegisterPrintRoutes(app, printService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("label-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.String("printMode", cfg.PrintMode),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("http server stopped", zap.Error(err))
		}
		stop()
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	<-scannerDone
}

// newPrinter builds the printer selected by PRINT_MODE. Queue mode stores
// payloads in the artifact bucket and leaves delivery to the print relay.
func newPrinter(ctx context.Context, cfg *config.Config) (printing.Printer, []handler.ReadinessCheck, func(), error) {
	if cfg.PrintMode != config.PrintModeQueue {
		spooler, err := printing.NewHTTPSpooler(cfg.PrintServiceURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return spooler, nil, func() {}, nil
	}

	artifacts, err := storage.OpenArtifactStore(ctx, cfg.ArtifactBucketURL, cfg.ArtifactPrefix)
	if err != nil {
		return nil, nil, nil, err
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		_ = artifacts.Close()
		return nil, nil, nil, err
	}

	publisher := queue.NewRabbitMQPublisher(broker)
	printer, err := printing.NewQueuePrinter(artifacts, publisher)
	if err != nil {
		_ = broker.Close()
		_ = artifacts.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		_ = publisher.Close()
		_ = broker.Close()
		_ = artifacts.Close()
	}
	return printer, []handler.ReadinessCheck{handler.ConnectedCheck("rabbitmq", broker.IsConnected)}, closeFn, nil
}

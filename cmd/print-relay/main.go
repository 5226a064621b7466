package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/label-engine/internal/config"
	"github.com/kursadbilgin/label-engine/internal/observability"
	"github.com/kursadbilgin/label-engine/internal/printing"
	"github.com/kursadbilgin/label-engine/internal/queue"
	"github.com/kursadbilgin/label-engine/internal/service"
	"github.com/kursadbilgin/label-engine/internal/storage"
	"go.uber.org/zap"
)

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

	if cfg.RabbitMQURL == "" {
		logger.Fatal("print relay requires RABBITMQ_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := storage.OpenArtifactStore(ctx, cfg.ArtifactBucketURL, cfg.ArtifactPrefix)
	if err != nil {
		logger.Fatal("artifact store initialization failed", zap.Error(err))
	}
	defer artifacts.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	spooler, err := printing.NewHTTPSpooler(cfg.PrintServiceURL)
	if err != nil {
		logger.Fatal("spooler initialization failed", zap.Error(err))
	}

	consumer := queue.NewRabbitMQConsumer(broker, cfg.RelayConcurrency, logger)
	relay, err := service.NewPrintRelay(consumer, artifacts, spooler, cfg.RelayConcurrency, cfg.RelayKeepArtifacts, logger)
	if err != nil {
		logger.Fatal("print relay initialization failed", zap.Error(err))
	}
	relay.SetMetrics(observability.NewMetrics())

	logger.Info("label-engine print relay started",
		zap.Int("concurrency", cfg.RelayConcurrency),
		zap.Bool("keepArtifacts", cfg.RelayKeepArtifacts),
	)

	if err := relay.Start(ctx); err != nil {
		logger.Error("print relay stopped with error", zap.Error(err))
		return
	}
	logger.Info("print relay stopped")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/config"
	kafkax "github.com/ariefcatur/shop-backoffice/internal/kafka"
	"github.com/ariefcatur/shop-backoffice/internal/observability"
	"github.com/ariefcatur/shop-backoffice/internal/points"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/redisx"
)

// pointsworker applies queued accrual requests to the ledger. It is only needed when the API
// runs with POINTS_ACCRUAL_MODE=queued.
func main() {
	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName+"-points"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc, err := points.NewService(points.ServiceDeps{Tx: &postgres.Pool{DB: db}, Store: &points.Repo{}, Logger: logger})
	if err != nil {
		logger.Fatal("points service", zap.Error(err))
	}
	worker := points.NewWorker(svc, redisx.NewDeduper(rdb, cfg.ServiceName+"-points"), logger)

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PointsGroup, points.TopicAccrual, cfg.PointsWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("points consumer started",
			zap.String("group", cfg.PointsGroup),
			zap.String("topic", points.TopicAccrual),
			zap.Int("workers", cfg.PointsWorkers))
		if err := cons.Start(ctx, worker.HandleAccrualRequested); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/auth"
	"github.com/ariefcatur/shop-backoffice/internal/catalog"
	"github.com/ariefcatur/shop-backoffice/internal/config"
	"github.com/ariefcatur/shop-backoffice/internal/counter"
	"github.com/ariefcatur/shop-backoffice/internal/httpx"
	kafkax "github.com/ariefcatur/shop-backoffice/internal/kafka"
	"github.com/ariefcatur/shop-backoffice/internal/observability"
	"github.com/ariefcatur/shop-backoffice/internal/orders"
	"github.com/ariefcatur/shop-backoffice/internal/points"
	"github.com/ariefcatur/shop-backoffice/internal/postgres"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
	"github.com/ariefcatur/shop-backoffice/internal/redisx"
	"github.com/ariefcatur/shop-backoffice/internal/users"
)

const (
	requestTimeout = 15 * time.Second
	// shutdownTimeout outlasts requestTimeout so in-flight handlers finish publishing before the
	// producers close.
	shutdownTimeout = requestTimeout + 5*time.Second
)

func main() {
	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	pool := &postgres.Pool{DB: db}
	if cfg.RunMigrations {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewJSONCache(rdb, logger)

	// Kafka producers, one per topic
	producers := map[string]*kafkax.Producer{}
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged, points.TopicAccrual} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, logger)
		p.Start(ctx)
		producers[topic] = p
	}
	bus := kafkax.NewBus(cfg.ServiceName, producers)

	// Pricing
	engine, err := pricing.NewEngine(pricing.EngineDeps{
		Roles:     &users.Repo{DB: db},
		Discounts: &catalog.DiscountRepo{DB: db},
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("pricing engine", zap.Error(err))
	}

	products := &catalog.Repo{}
	catalogSvc, err := catalog.NewService(catalog.ServiceDeps{
		Tx:        pool,
		Products:  products,
		Discounts: &catalog.DiscountRepo{DB: db},
		Pricer:    engine,
		Cache:     cache,
		CacheTTL:  cfg.CatalogCacheTTL,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("catalog service", zap.Error(err))
	}

	pointsSvc, err := points.NewService(points.ServiceDeps{Tx: pool, Store: &points.Repo{}, Logger: logger})
	if err != nil {
		logger.Fatal("points service", zap.Error(err))
	}
	var accruer orders.PointsAccruer = pointsSvc
	if cfg.PointsAccrualMode == config.AccrualQueued {
		accruer = points.NewQueuedAccruer(bus)
	}

	numbers, err := counter.NewAllocator(counter.AllocatorDeps{Counter: counter.PostgresCounter{}})
	if err != nil {
		logger.Fatal("order numbers", zap.Error(err))
	}

	ordersSvc, err := orders.NewService(orders.ServiceDeps{
		Tx:              pool,
		Orders:          &orders.Repo{},
		Products:        products,
		Pricer:          engine,
		Numbers:         numbers,
		Points:          accruer,
		Events:          bus,
		DefaultCurrency: cfg.DefaultCurrency,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("orders service", zap.Error(err))
	}

	// Auth
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("auth", zap.Error(err))
	}

	router := httpx.NewRouter(httpx.RouterDeps{
		Logger:  logger,
		Auth:    auth.NewMiddleware(verifier, httpx.WriteError),
		Orders:  ordersSvc,
		Catalog: catalogSvc,
		Points:  pointsSvc,
		Timeout: requestTimeout,
	})

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("points_accrual", cfg.PointsAccrualMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// A handler that outlives Shutdown gets ErrProducerClosed, which the services log and ignore.
	for _, p := range producers {
		p.Close()
	}
	for _, p := range producers {
		p.WaitClosed()
	}
	cancel()
}

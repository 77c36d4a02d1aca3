package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/bookd/internal/catalog"
	"github.com/kirinyoku/bookd/internal/config"
	"github.com/kirinyoku/bookd/internal/kafka"
	"github.com/kirinyoku/bookd/internal/notifier"
	"github.com/kirinyoku/bookd/internal/postgres"
	"github.com/kirinyoku/bookd/internal/reconcile"
	"github.com/kirinyoku/bookd/internal/redis"
	postgresrepo "github.com/kirinyoku/bookd/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/bookd/internal/repository/redis"
	"github.com/kirinyoku/bookd/internal/service"
	"github.com/kirinyoku/bookd/internal/service/admission"
	httpgin "github.com/kirinyoku/bookd/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	reconciler *reconcile.Reconciler
	producer   *kafka.Producer
	pubsub     *redisrepo.BookingsPubSub
	cache      *redisrepo.Cache
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	counter := redisrepo.NewCounter(rdb)
	cache := redisrepo.NewCache(rdb)
	pubsub := redisrepo.NewBookingsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize collaborator clients
	catalogClient := catalog.New(cache, catalog.Config{
		BaseURL: cfg.Catalog.BaseURL,
		Timeout: cfg.Catalog.Timeout,
	})
	dispatcher := notifier.New(logger, notifier.Config{BaseURL: cfg.Notifier.BaseURL})

	var producer *kafka.Producer
	var publisher admission.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		publisher = producer
	}

	// Initialize services
	services := service.NewServices(
		store,
		counter,
		pubsub,
		limiter,
		catalogClient,
		dispatcher,
		publisher,
		logger,
		service.Config{
			Admission: admission.Config{
				ProtocolTimeout:     cfg.Admission.ProtocolTimeout,
				CompensationRetries: cfg.Admission.CompensationRetries,
				EventsTopic:         cfg.Kafka.Topic,
			},
		},
	)

	reconciler := reconcile.New(
		store.Bookings(),
		counter,
		catalogClient,
		logger,
		cfg.Admission.ReconcileInterval,
	)

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		reconciler: reconciler,
		producer:   producer,
		pubsub:     pubsub,
		cache:      cache,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Drop cached event snapshots when another replica confirms or
	// cancels a booking for the event.
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, eventID string) {
			if err := a.cache.InvalidateEvent(ctx, eventID); err != nil {
				a.logger.Warn("snapshot invalidation failed", "event_id", eventID, "error", err)
			}
		})
		if err != nil && err != context.Canceled {
			return fmt.Errorf("bookings subscription stopped: %w", err)
		}
		return nil
	})

	// Counter reconciliation loop
	g.Go(func() error {
		if err := a.reconciler.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("reconciler stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if a.producer != nil {
			_ = a.producer.Close()
		}
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

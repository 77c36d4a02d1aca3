package service

import (
	"log/slog"

	"github.com/kirinyoku/bookd/internal/catalog"
	"github.com/kirinyoku/bookd/internal/notifier"
	postgres "github.com/kirinyoku/bookd/internal/repository/postgres"
	redis "github.com/kirinyoku/bookd/internal/repository/redis"
	"github.com/kirinyoku/bookd/internal/service/admission"
	"github.com/kirinyoku/bookd/internal/service/query"
)

type Services struct {
	Admission *admission.Service
	Query     *query.Service
}

type Config struct {
	Admission admission.Config
	Query     query.Config
}

func NewServices(
	store *postgres.Store,
	counter *redis.Counter,
	pubsub *redis.BookingsPubSub,
	limiter *redis.SlidingWindowLimiter,
	catalogClient *catalog.Client,
	dispatcher *notifier.Client,
	producer admission.Publisher,
	logger *slog.Logger,
	cfg Config,
) *Services {
	bookings := store.Bookings()

	return &Services{
		Admission: admission.New(
			bookings,
			counter,
			catalogClient,
			dispatcher,
			producer,
			pubsub,
			limiter,
			logger,
			cfg.Admission,
		),
		Query: query.New(bookings, catalogClient, counter, cfg.Query),
	}
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/attribution/config"
	"github.com/Domenick1991/attribution/internal/cache"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/notify"
	"github.com/Domenick1991/attribution/internal/repository"
	"github.com/Domenick1991/attribution/internal/repository/memory"
	"github.com/Domenick1991/attribution/internal/service/attribution"
	"github.com/Domenick1991/attribution/internal/service/broadcast"
	"github.com/Domenick1991/attribution/internal/service/eligibility"
	"github.com/Domenick1991/attribution/internal/service/escalation"
	"github.com/Domenick1991/attribution/internal/service/response"
	"github.com/Domenick1991/attribution/internal/token"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type repositories struct {
	attributions repository.AttributionRepository
	responses    repository.ResponseRepository
	offers       repository.OfferRepository
	candidates   repository.CandidateRepository
	bookings     repository.BookingRepository
}

// Components is the wired engine shared by the API and worker binaries.
type Components struct {
	Service   *attribution.AttributionService
	Manager   *broadcast.Manager
	Scheduler *escalation.Scheduler
	Producer  *kafka.Producer
	// Store is set only with the memory driver.
	Store  *memory.Store
	Checks map[string]HealthCheck

	closers []func()
}

// Build connects storage, cache and broker and wires the attribution services.
// Close must be called once the returned components are no longer used.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Checks: make(map[string]HealthCheck)}

	repos, err := c.openRepositories(ctx, cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	var (
		poolCache   eligibility.PoolCache
		locker      escalation.Locker
		schedulerOp []escalation.Option
	)
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.Attribution.CandidateCacheTTL())
		c.closers = append(c.closers, func() { _ = redisCache.Close() })
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, candidate cache will fall back to storage", zap.Error(err))
		}
		poolCache = redisCache
		c.Checks["redis"] = redisCache.Ping
		if cfg.Database.Driver == config.DriverPostgres {
			locker = redisCache
		}
	}
	if locker != nil {
		schedulerOp = append(schedulerOp, escalation.WithLocker(locker))
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	c.Producer = producer
	c.closers = append(c.closers, func() { _ = producer.Close() })
	if err := producer.CheckConnection(ctx); err != nil {
		logger.Warn("kafka unreachable, notifications will fail until it recovers", zap.Error(err))
	}
	c.Checks["kafka"] = producer.CheckConnection

	notifier := notify.NewKafkaNotifier(producer, cfg.Kafka.NotificationsTopic, cfg.Kafka.AttributionEventsTopic)

	tokens, err := token.NewIssuer(cfg.Attribution.TokenSecret, cfg.Attribution.TokenValidity())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	pool := eligibility.NewCachedPool(repos.candidates, poolCache, logger)
	resolver := eligibility.NewResolver(pool)

	c.Manager = broadcast.NewManager(
		repos.attributions,
		repos.offers,
		repos.candidates,
		resolver,
		tokens,
		notifier,
		notifier,
		cfg.HTTP.PublicBaseURL,
		logger.Named("broadcast"),
		broadcast.WithConcurrency(cfg.Attribution.NotifyConcurrency),
	)

	c.Scheduler = escalation.NewScheduler(
		repos.attributions,
		repos.offers,
		repos.responses,
		c.Manager,
		notifier,
		cfg.Attribution.MaxBroadcastRounds,
		cfg.Attribution.RoundTimeout(),
		logger.Named("escalation"),
		append(schedulerOp,
			escalation.WithInterval(cfg.Worker.EscalationInterval()),
			escalation.WithBatchSize(cfg.Worker.BatchSize),
		)...,
	)

	responses := response.NewResolver(
		repos.attributions,
		repos.responses,
		repos.offers,
		repos.candidates,
		tokens,
		c.Scheduler,
		notifier,
		logger.Named("response"),
	)

	c.Service = attribution.NewAttributionService(
		attribution.Repositories{
			Attributions: repos.attributions,
			Responses:    repos.responses,
			Offers:       repos.offers,
			Bookings:     repos.bookings,
		},
		c.Manager,
		responses,
		c.Scheduler,
		tokens,
		notifier,
		logger.Named("attribution"),
		attribution.WithDefaultMaxDistance(cfg.Attribution.DefaultMaxDistanceKm),
	)

	return c, nil
}

func (c *Components) openRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		c.Store = store
		return &repositories{
			attributions: store.Attributions(),
			responses:    store.Responses(),
			offers:       store.Offers(),
			candidates:   store.Candidates(),
			bookings:     store.Bookings(),
		}, nil
	case config.DriverPostgres:
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		if err := db.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if cfg.Database.Migrate {
			if err := repository.Migrate(ctx, db); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database schema up to date")
		}
		c.Checks["postgres"] = db.Ping
		return &repositories{
			attributions: repository.NewAttributionRepository(db),
			responses:    repository.NewResponseRepository(db),
			offers:       repository.NewOfferRepository(db),
			candidates:   repository.NewCandidateRepository(db),
			bookings:     repository.NewBookingRepository(db),
		}, nil
	default:
		return nil, errors.New("unknown database driver " + cfg.Database.Driver)
	}
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/dialer"
	"github.com/acme/lead-dialer/internal/infra/db"
	"github.com/acme/lead-dialer/internal/infra/redis"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/repository"
	pgrepo "github.com/acme/lead-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/lead-dialer/internal/repository/scylla"
	"github.com/acme/lead-dialer/internal/service/concurrency"
	telephonySvc "github.com/acme/lead-dialer/internal/telephony"
	telephonyMock "github.com/acme/lead-dialer/internal/telephony/mock"
	"github.com/acme/lead-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		dispatchers  *dispatchers
		providers    *providers
		limiters     *limiters
		registry     *dialer.Registry
	}
}

type repositories struct {
	Store   repository.LeadStore
	CallLog repository.CallLog
}

type dispatchers struct {
	Completions *queue.CompletionPublisher
	Events      *queue.EventPublisher
}

type providers struct {
	Telephony telephonySvc.Provider
}

type limiters struct {
	Slots *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Store:   pgrepo.NewStore(c.Postgres.DB()),
			CallLog: scyllarepo.NewCallLog(c.Scylla.Session()),
		}

		disp := &dispatchers{
			Completions: queue.NewCompletionPublisher(c.Kafka, c.Config.Kafka.CompletionTopic),
			Events:      queue.NewEventPublisher(c.Kafka, c.Config.Kafka.EventTopic),
		}

		prov := &providers{
			Telephony: telephonyMock.NewProvider(c.Config.Provider, disp.Completions),
		}

		lim := &limiters{
			Slots: concurrency.NewLimiter(c.Redis.Inner(), c.Config.Throttle.GlobalConcurrency, c.Config.Throttle.SlotTTL),
		}

		deps := dialer.Deps{
			Store:    repos.Store,
			Calls:    repos.CallLog,
			Provider: prov.Telephony,
			Slots:    lim.Slots,
			Events:   disp.Events,
			Logger:   c.Logger,
		}
		opts := dialer.Options{
			SweepInterval:   c.Config.Dialer.SweepInterval,
			QueueLowWater:   c.Config.Dialer.QueueLowWater,
			RefillBatchSize: c.Config.Dialer.RefillBatchSize,
		}

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.providers = prov
		c.components.limiters = lim
		c.components.registry = dialer.NewRegistry(deps, opts)
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Dispatchers exposes Kafka publishers.
func (c *Container) Dispatchers() *dispatchers {
	c.initComponents()
	return c.components.dispatchers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// Registry exposes the engine registry.
func (c *Container) Registry() *dialer.Registry {
	c.initComponents()
	return c.components.registry
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if d.Completions != nil {
			if err := d.Completions.Close(); err != nil {
				errs = append(errs, fmt.Errorf("completion publisher close: %w", err))
			}
		}
		if d.Events != nil {
			if err := d.Events.Close(); err != nil {
				errs = append(errs, fmt.Errorf("event publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	c.initComponents()

	topics := []string{c.Config.Kafka.CompletionTopic, c.Config.Kafka.EventTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/receptionist-dialer/internal/config"
	"github.com/acme/receptionist-dialer/internal/infra/db"
	"github.com/acme/receptionist-dialer/internal/infra/redis"
	"github.com/acme/receptionist-dialer/internal/queue"
	"github.com/acme/receptionist-dialer/internal/repository"
	pgrepo "github.com/acme/receptionist-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/receptionist-dialer/internal/repository/scylla"
	"github.com/acme/receptionist-dialer/internal/scheduler"
	campaignsvc "github.com/acme/receptionist-dialer/internal/service/campaign"
	"github.com/acme/receptionist-dialer/internal/service/compliance"
	"github.com/acme/receptionist-dialer/internal/service/dispatch"
	"github.com/acme/receptionist-dialer/internal/service/quota"
	"github.com/acme/receptionist-dialer/internal/service/reconcile"
	"github.com/acme/receptionist-dialer/internal/service/retry"
	"github.com/acme/receptionist-dialer/internal/voice"
	voicemock "github.com/acme/receptionist-dialer/internal/voice/mock"
	ledgerworker "github.com/acme/receptionist-dialer/internal/worker/ledger"
	"github.com/acme/receptionist-dialer/pkg/logger"
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
		repositories *Repos
		services     *ServiceSet
		publishers   *Publishers
	}
}

// Repos groups the persistence layer.
type Repos struct {
	Campaigns     repository.CampaignRepository
	Tenants       repository.TenantRepository
	Queue         repository.QueueRepository
	DNC           repository.DNCRepository
	WebhookLedger repository.WebhookLedger
	CallRecords   repository.CallRecordStore
}

// ServiceSet groups the engine's services.
type ServiceSet struct {
	Campaign   *campaignsvc.Service
	Gate       *compliance.Gate
	Retry      *retry.Controller
	Dispatcher *dispatch.Dispatcher
	Reconciler *reconcile.Reconciler
	Quota      *quota.DailyCounter
	Provider   voice.Provider
}

// Publishers groups Kafka producers.
type Publishers struct {
	Alerts *queue.AlertPublisher
	Events *queue.EventPublisher
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

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &Repos{
			Campaigns:     pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Tenants:       pgrepo.NewTenantRepository(c.Postgres.DB()),
			Queue:         pgrepo.NewQueueRepository(c.Postgres.DB()),
			DNC:           pgrepo.NewDNCRepository(c.Postgres.DB()),
			WebhookLedger: pgrepo.NewWebhookLedger(c.Postgres.DB()),
			CallRecords:   scyllarepo.NewCallRecordStore(c.Scylla.Session()),
		}

		publishers := &Publishers{
			Alerts: queue.NewAlertPublisher(c.Kafka, c.Config.Kafka.AlertTopic),
			Events: queue.NewEventPublisher(c.Kafka, c.Config.Kafka.EventTopic),
		}

		provider := c.buildProvider()
		gate := compliance.NewGate(repos.DNC)
		retrier := retry.NewController(c.Config.Backoff, nil)
		dailyQuota := quota.NewDailyCounter(
			c.Redis.Inner(),
			c.Config.Tenant.DefaultDailyCap,
			c.Config.Tenant.QuotaBoundary,
			nil,
		)

		dispatcher := dispatch.NewDispatcher(
			provider,
			repos.Queue,
			c.Config.CallBridge.AgentID,
			c.Config.CallBridge.RequestTimeout,
			c.Logger,
		)

		reconciler := reconcile.NewReconciler(
			repos.Queue,
			repos.DNC,
			repos.CallRecords,
			retrier,
			publishers.Alerts,
			publishers.Events,
			c.Logger,
			nil,
		)

		campaignService := campaignsvc.NewService(
			repos.Campaigns,
			repos.Queue,
			repos.Tenants,
			repos.CallRecords,
			c.Config.Tenant.DefaultMaxAttempts,
			c.Logger,
			nil,
		)

		c.components.repositories = repos
		c.components.publishers = publishers
		c.components.services = &ServiceSet{
			Campaign:   campaignService,
			Gate:       gate,
			Retry:      retrier,
			Dispatcher: dispatcher,
			Reconciler: reconciler,
			Quota:      dailyQuota,
			Provider:   provider,
		}
	})
}

// buildProvider selects the voice provider implementation. Only the mock is
// bundled; real integrations register here by name.
func (c *Container) buildProvider() voice.Provider {
	switch c.Config.CallBridge.ProviderName {
	default:
		return voicemock.NewProvider(c.Config.CallBridge)
	}
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *Repos {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *ServiceSet {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka producers.
func (c *Container) PublisherSet() *Publishers {
	c.initComponents()
	return c.components.publishers
}

// Scheduler builds the dial-loop scheduler.
func (c *Container) Scheduler() *scheduler.Scheduler {
	c.initComponents()
	services := c.components.services
	repos := c.components.repositories
	return scheduler.New(
		repos.Campaigns,
		repos.Tenants,
		repos.Queue,
		services.Gate,
		services.Dispatcher,
		services.Quota,
		c.Config.Scheduler,
		c.Config.Tenant,
		c.Logger,
		nil,
	)
}

// WebhookRetryWorker builds the failed-webhook replay worker.
func (c *Container) WebhookRetryWorker() *ledgerworker.Worker {
	c.initComponents()
	return ledgerworker.New(
		c.components.repositories.WebhookLedger,
		c.components.services.Reconciler,
		c.Config.WebhookRetry,
		c.Logger,
		nil,
	)
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.AlertTopic, c.Config.Kafka.EventTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if err := p.Alerts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("alert publisher close: %w", err))
		}
		if err := p.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
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

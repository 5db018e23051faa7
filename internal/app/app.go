// Package app wires the scheduling core from configuration. Every binary
// builds the same graph and differs only in what it drives.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/internal/db"
	"github.com/hackgods/scheduling-core/internal/events"
	"github.com/hackgods/scheduling-core/internal/notify"
	"github.com/hackgods/scheduling-core/internal/observability/metrics"
	"github.com/hackgods/scheduling-core/internal/recurrence"
	redisclient "github.com/hackgods/scheduling-core/internal/redis"
	"github.com/hackgods/scheduling-core/internal/risk"
	"github.com/hackgods/scheduling-core/internal/waitlist"
)

type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.SchedulingMetrics

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Bus   *events.Bus

	Appointments *appointment.Service
	Series       *recurrence.Engine
	Waitlist     *waitlist.Matcher
	Risk         *risk.Scorer

	closers []func()
}

// New connects the configured backing services and builds the domain
// services on top of them. Close releases everything New opened.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewSchedulingMetrics(a.Registry)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	var (
		apptRepo   appointment.Repository
		seriesRepo recurrence.Repository
		listRepo   waitlist.Repository
		riskStore  risk.Store
		locker     redisclient.Locker
	)

	lockOpts := redisclient.LockOptions{TTL: cfg.LockTTL, Attempts: cfg.LockAttempts, RetryDelay: cfg.LockRetryDelay}

	switch cfg.StorageDriver {
	case config.StorageMemory:
		a.Logger.Warn().Msg("using in-memory storage; data is lost on restart")
		apptRepo = appointment.NewMemoryRepository()
		seriesRepo = recurrence.NewMemoryRepository()
		listRepo = waitlist.NewMemoryRepository()
		riskStore = risk.NewMemoryStore()
		locker = redisclient.NewLocalLocker(lockOpts)
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		a.Logger.Info().Msg("connected to Postgres")

		apptRepo = appointment.NewPgRepository(pool)
		seriesRepo = recurrence.NewPgRepository(pool)
		listRepo = waitlist.NewPgRepository(pool)
		riskStore = risk.NewPgStore(pool)

		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				a.Logger.Error().Err(err).Msg("error closing redis")
			}
		})
		a.Logger.Info().Msg("connected to Redis")
		locker = redisclient.NewRedisResourceLocker(rdb, lockOpts)
	}

	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, func() {
			if err := kafkaPub.Close(); err != nil {
				a.Logger.Error().Err(err).Msg("error closing kafka writer")
			}
		})
	}

	a.Bus = events.NewBus(a.Logger, 0)
	a.closers = append(a.closers, a.Bus.Close)
	if kafkaPub != nil {
		a.Bus.Subscribe("kafka", kafkaPub.Publish)
		a.Logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("forwarding events to kafka")
	}

	a.Appointments = appointment.NewService(apptRepo, locker, a.Bus, cfg, a.Logger, a.Metrics)
	a.Series = recurrence.NewEngine(seriesRepo, a.Appointments, cfg.GenerationHorizon, a.Logger, a.Metrics)

	notifier, err := a.notifier(ctx)
	if err != nil {
		return err
	}
	opts, err := waitlist.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	a.Waitlist = waitlist.NewMatcher(listRepo, a.Appointments, notifier, opts, a.Logger, a.Metrics)

	a.Risk = risk.NewScorer(riskStore, a.Appointments, risk.Options{
		Thresholds:       risk.Thresholds(cfg.RiskThresholds),
		BaselineDays:     cfg.RiskBaselineDays,
		DecayConcurrency: cfg.RiskDecayConcurrency,
	}, a.Logger, a.Metrics)

	a.Bus.Subscribe("waitlist", a.Waitlist.HandleCancellation, events.TypeCancelled)
	a.Bus.Subscribe("risk", a.Risk.HandleEvent, events.TypeCompleted, events.TypeCancelled, events.TypeNoShow)
	return nil
}

// notifier always logs offers and adds SQS and SES delivery when configured.
func (a *App) notifier(ctx context.Context) (notify.Notifier, error) {
	cfg := a.Config
	out := notify.Fanout{notify.NewLogNotifier(a.Logger)}
	if cfg.OfferQueueURL == "" && cfg.SESFromEmail == "" {
		return out, nil
	}

	awsCfg, err := notify.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.OfferQueueURL != "" {
		out = append(out, notify.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.OfferQueueURL))
		a.Logger.Info().Str("queue_url", cfg.OfferQueueURL).Msg("waitlist offers go to sqs")
	}
	if cfg.SESFromEmail != "" && cfg.SESToEmail != "" {
		out = append(out, notify.NewSESNotifier(sesv2.NewFromConfig(awsCfg), cfg.SESFromEmail, cfg.SESToEmail, a.Logger))
		a.Logger.Info().Str("to", cfg.SESToEmail).Msg("waitlist offers are emailed via ses")
	}
	return out, nil
}

// Start runs the event bus subscribers.
func (a *App) Start(ctx context.Context) {
	a.Bus.Run(ctx)
}

// Close releases resources in reverse order of acquisition. The bus drains
// before the stores it writes to are closed.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/ashwalker/pairbot/internal/blob/s3"
	"github.com/ashwalker/pairbot/internal/cache/redis"
	"github.com/ashwalker/pairbot/internal/config"
	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/notify"
	"github.com/ashwalker/pairbot/internal/store/postgres"
	"github.com/ashwalker/pairbot/internal/telemetry"
)

// Dependencies bundles the infrastructure the run modes need. Nil fields mean
// the corresponding backend is disabled in configuration; the core degrades
// to local-only operation.
type Dependencies struct {
	// Stores (nil when Postgres is disabled).
	OrderStore       *postgres.OrderStore
	OpportunityStore *postgres.OpportunityStore

	// Live fan-out (nil when Redis is disabled).
	SignalBus  domain.SignalBus
	QuoteCache *redis.QuoteCache

	// Telemetry. CSV is always on; Sink is the fan-out the engine writes to.
	CSV  *telemetry.CSVWriter
	Sink domain.TelemetrySink

	// Archiver (nil when S3 is disabled).
	Archiver *s3blob.Archiver

	// Notify (nil when no alert channel is configured).
	Notify *notify.Sink
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (terminal orders and opportunity history) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	}

	// --- Redis (signal bus and quote mirror) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.QuoteCache = redis.NewQuoteCache(redisClient)
	}

	// --- Telemetry CSV sink ---
	csv, err := telemetry.NewCSVWriter(telemetry.CSVConfig{
		Dir:          cfg.Telemetry.Dir,
		FilePrefix:   "pairbot",
		MaxFileBytes: cfg.Telemetry.RotateSize,
		Logger:       logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: telemetry: %w", err)
	}
	closers = append(closers, func() { _ = csv.Close() })
	deps.CSV = csv

	sinks := []domain.TelemetrySink{csv}
	if deps.SignalBus != nil {
		sinks = append(sinks, telemetry.NewBusSink(deps.SignalBus, "pairbot:events", "pairbot:events:log"))
	}

	// --- Operator alerts (Telegram, Discord) ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if len(senders) > 0 {
		notifier := notify.New(senders, cfg.Notify.Events, logger)
		deps.Notify = notify.NewSink(notifier, logger)
		sinks = append(sinks, deps.Notify)
	}

	deps.Sink = telemetry.NewMultiSink(logger, sinks...)

	// --- S3 (telemetry archive and database retention) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		var orders s3blob.OrderArchiveStore
		var opps s3blob.OpportunityArchiveStore
		if deps.OrderStore != nil {
			orders = deps.OrderStore
		}
		if deps.OpportunityStore != nil {
			opps = deps.OpportunityStore
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
			Prefix:         cfg.S3.Prefix,
			Retention:      cfg.S3.Retention.Duration,
			DeleteUploaded: cfg.S3.DeleteUploaded,
			Logger:         logger,
		}, writer, orders, opps, csv)

		// Completed telemetry files flow straight into the upload queue.
		csv.SetOnRotate(deps.Archiver.EnqueueFile)
	}

	return deps, cleanup, nil
}

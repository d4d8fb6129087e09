package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/NFTCall-xyz/nftcall-core/internal/blob/s3"
	"github.com/NFTCall-xyz/nftcall-core/internal/cache/redis"
	"github.com/NFTCall-xyz/nftcall-core/internal/config"
	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/notify"
	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/handler"
	"github.com/NFTCall-xyz/nftcall-core/internal/store/memory"
	"github.com/NFTCall-xyz/nftcall-core/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Any
// backend that is not enabled falls back to an in-process implementation,
// or to nil where the consumer accepts nil.
type Dependencies struct {
	// Stores
	EventStore  domain.EventStore
	AuditStore  domain.AuditStore
	PayoutStore domain.PayoutStore
	CreditStore domain.CreditStore

	// Caches; nil without Redis.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// NonceStore remembers signed request digests; Redis-backed when
	// enabled so replicas share it.
	NonceStore domain.NonceStore

	OracleBackend oracle.Backend

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks ping every external backend.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL ---
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
		deps.EventStore = postgres.NewEventStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.PayoutStore = postgres.NewPayoutStore(pool)
		deps.CreditStore = postgres.NewCreditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "postgres disabled; events, audit log, payouts and credits are kept in memory")
		deps.EventStore = memory.NewEventStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.PayoutStore = memory.NewPayoutStore()
		deps.CreditStore = memory.NewCreditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.NonceStore = redis.NewNonceStore(redisClient)
		deps.OracleBackend = redis.NewOracleBackend(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled; oracle state is in memory and rate limiting is off")
		deps.OracleBackend = oracle.NewMemoryBackend()
		deps.NonceStore = memory.NewNonceStore()
	}

	// --- S3 blob storage ---
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
		objects := s3blob.NewObjects(s3Client)
		deps.BlobWriter = objects
		deps.BlobReader = objects
		deps.HealthChecks["s3"] = s3Client.Health
	} else {
		blobs := memory.NewBlobStore()
		deps.BlobWriter = blobs
		deps.BlobReader = blobs
	}
	deps.Archiver = s3blob.NewEventArchiver(
		deps.EventStore,
		deps.BlobWriter,
		deps.BlobReader,
		deps.AuditStore,
		cfg.Archive.Prune,
		logger,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

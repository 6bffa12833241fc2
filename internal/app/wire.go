package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/momentumrace/internal/blob/s3"
	"github.com/alanyoungcy/momentumrace/internal/cache/redis"
	"github.com/alanyoungcy/momentumrace/internal/config"
	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/metrics"
	"github.com/alanyoungcy/momentumrace/internal/notify"
	"github.com/alanyoungcy/momentumrace/internal/platform/raceapi"
	"github.com/alanyoungcy/momentumrace/internal/platform/racews"
	"github.com/alanyoungcy/momentumrace/internal/server/handler"
	"github.com/alanyoungcy/momentumrace/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional stores are nil interfaces when their backend is disabled.
type Dependencies struct {
	API      *raceapi.Client
	Realtime *racews.Client
	Metrics  *metrics.Metrics

	// Caches
	RaceCache   domain.RaceCache
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Stores (optional)
	RaceStore  domain.RaceStore
	BetStore   domain.BetStore
	AuditStore domain.AuditStore

	// Blob storage (optional)
	Archiver domain.RaceArchiver

	Notifier *notify.Notifier

	// Checks probes each external dependency for /api/health.
	Checks map[string]handler.Check
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

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(reg)

	// --- Backend clients ---
	baseURL, err := cfg.Backend.ResolveBaseURL()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: backend: %w", err)
	}
	wsURL, err := cfg.Backend.ResolveRealtimeURL()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: backend: %w", err)
	}
	deps.API = raceapi.NewClient(baseURL,
		raceapi.WithLogger(logger),
		raceapi.WithMetrics(deps.Metrics),
	)
	deps.Realtime = racews.NewClient(wsURL,
		racews.WithLogger(logger),
		racews.WithMetrics(deps.Metrics),
		racews.WithHandshakeTimeout(cfg.Realtime.HandshakeTimeout.Duration),
		racews.WithBackoff(cfg.Realtime.BaseDelay.Duration, cfg.Realtime.MaxDelay.Duration, cfg.Realtime.MaxAttempts),
		racews.WithSettleDelay(cfg.Realtime.SettleDelay.Duration),
	)
	closers = append(closers, deps.Realtime.Disconnect)
	logger.InfoContext(ctx, "backend resolved",
		slog.String("base_url", baseURL),
		slog.String("realtime_url", wsURL),
	)

	// --- PostgreSQL (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: 10 * time.Second,
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
		deps.RaceStore = postgres.NewRaceStore(pool)
		deps.BetStore = postgres.NewBetStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		TLSEnabled:  cfg.Redis.TLSEnabled,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	redisTTL := time.Duration(0)
	if cfg.Redis.CacheTTLMinutes > 0 {
		redisTTL = time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
	}
	deps.RaceCache = redis.NewRaceCache(redisClient, redisTTL)
	deps.PriceCache = redis.NewPriceCache(redisClient, redisTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewRaceArchiver(s3blob.NewWriter(s3Client))
		deps.Checks["s3"] = s3Client.Health
	}

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

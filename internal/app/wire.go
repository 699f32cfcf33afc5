package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/optiondesk/paperbot/internal/blob/s3"
	"github.com/optiondesk/paperbot/internal/cache/redis"
	"github.com/optiondesk/paperbot/internal/config"
	"github.com/optiondesk/paperbot/internal/crypto"
	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
	"github.com/optiondesk/paperbot/internal/feed"
	"github.com/optiondesk/paperbot/internal/metrics"
	"github.com/optiondesk/paperbot/internal/notify"
	"github.com/optiondesk/paperbot/internal/platform/kite"
	"github.com/optiondesk/paperbot/internal/service"
	"github.com/optiondesk/paperbot/internal/store/postgres"
	"github.com/optiondesk/paperbot/internal/strategy"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Core    *engine.Engine
	Feed    *feed.Feed
	Pump    *feed.Pump
	Session *kite.Client

	// Stores
	PGClient  *postgres.Client
	Positions domain.PositionStore
	Accounts  domain.AccountStore
	Audit     domain.AuditStore

	// Caches
	RedisClient *redis.Client
	Mirror      domain.ValuationMirror
	Bus         domain.EventBus
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Services
	Ledger    *service.LedgerService
	FeedSvc   *service.FeedService
	Publisher *service.Publisher

	// Observability and extras
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Registry *strategy.Registry
}

// needsS3 reports whether object storage must be wired for the mode. Serve
// mode wires it opportunistically when a bucket is configured so the archive
// endpoint works; archive mode cannot run without it.
func needsS3(cfg *config.Config) bool {
	if strings.ToLower(cfg.Mode) == "archive" {
		return true
	}
	return cfg.S3.Bucket != ""
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Kite session ---
	token, err := crypto.LoadToken(crypto.TokenSource{
		RawToken:  cfg.Kite.AccessToken,
		TokenFile: cfg.Kite.TokenFile,
		Password:  cfg.Kite.TokenPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: kite token: %w", err)
	}
	deps.Session = kite.NewClient(cfg.Kite.BaseURL, cfg.Kite.APIKey, token)

	// --- PostgreSQL ---
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
	deps.PGClient = pgClient
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Accounts = postgres.NewAccountStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	deps.RedisClient = redisClient
	deps.Mirror = redis.NewValuationMirror(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewDayArchiver(
			deps.BlobWriter,
			postgres.NewPositionStore(pool),
			deps.Audit,
			cfg.Archive.Prefix,
		)
	}

	// --- Observability ---
	deps.Metrics = metrics.New()

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

	// Ledger and feed events fan out to notifications and metrics from one
	// sink so emitters stay ignorant of the consumer list.
	events := func(ev domain.Event) {
		deps.Metrics.HandleEvent(ev)
		deps.Notifier.HandleEvent(ev)
	}

	// --- Valuation and ledger core ---
	core := engine.New(engine.Config{
		IndexTokens:    cfg.IndexTokenSet(),
		InitialCapital: cfg.Engine.InitialCapital,
		UserID:         cfg.Engine.UserID,
		Logger:         logger,
	})
	if err := seedEngine(ctx, core, cfg, deps, logger); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed ledger: %w", err)
	}
	deps.Core = core

	// --- Tick feed ---
	wsURL, apiKey := cfg.Kite.WsURL, cfg.Kite.APIKey
	deps.Feed = feed.New(feed.Config{
		NewTransport: func() feed.Transport {
			return kite.NewTicker(wsURL, apiKey, token)
		},
		Subscriptions: core.SubscriptionTokens,
		Authenticated: deps.Session.Authenticated,
		BatchBuffer:   cfg.Engine.BatchBuffer,
		Logger:        logger,
	})
	deps.Pump = feed.NewPump(deps.Feed.Batches(), core, deps.Mirror, logger)

	// --- Services ---
	risk := service.NewRiskService(service.RiskConfig{
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		MaxLotsPerOrder:      cfg.Risk.MaxLotsPerOrder,
		MaxMarginUtilization: cfg.Risk.MaxMarginUtilization,
	}, logger)

	deps.Ledger = service.NewLedgerService(service.LedgerConfig{
		Core:         core,
		Risk:         risk,
		Positions:    deps.Positions,
		Accounts:     deps.Accounts,
		Audit:        deps.Audit,
		Bus:          deps.Bus,
		Feed:         deps.Feed,
		Events:       events,
		TradeChannel: redis.ChannelTrades,
		Logger:       logger,
	})

	deps.FeedSvc = service.NewFeedService(service.FeedServiceConfig{
		Feed:        deps.Feed,
		Session:     deps.Session,
		Locks:       deps.Locks,
		Audit:       deps.Audit,
		Bus:         deps.Bus,
		Events:      events,
		FeedChannel: redis.ChannelFeed,
		Logger:      logger,
	})

	deps.Registry = strategy.DefaultRegistry()

	return deps, cleanup, nil
}

// seedEngine loads the working set and account from the durable stores. A
// missing account row means first boot: one is created and persisted so every
// later start finds it.
func seedEngine(ctx context.Context, core *engine.Engine, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	positions, err := deps.Positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active positions: %w", err)
	}
	maxID, err := deps.Positions.MaxID(ctx)
	if err != nil {
		return fmt.Errorf("max position id: %w", err)
	}

	acct, err := deps.Accounts.Get(ctx, cfg.Engine.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		acct = core.Account() // freshly funded from config
		logger.InfoContext(ctx, "no stored account, starting fresh",
			slog.String("user_id", cfg.Engine.UserID),
			slog.Float64("initial_capital", acct.InitialCapital),
		)
	} else if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	reconciled := core.Load(positions, acct, maxID)
	if err := deps.Accounts.Upsert(ctx, reconciled); err != nil {
		logger.WarnContext(ctx, "account persist failed on load",
			slog.String("error", err.Error()),
		)
	}

	logger.InfoContext(ctx, "ledger seeded",
		slog.Int("active_positions", len(positions)),
		slog.Int64("max_position_id", maxID),
		slog.Float64("available_margin", reconciled.AvailableMargin),
	)
	return nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/cache/redis"
	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/event"
	"github.com/alanyoungcy/arbengine/internal/exchange"
	"github.com/alanyoungcy/arbengine/internal/feed"
	"github.com/alanyoungcy/arbengine/internal/ledger"
	"github.com/alanyoungcy/arbengine/internal/netfee"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/operation"
	"github.com/alanyoungcy/arbengine/internal/scanner"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
	"github.com/alanyoungcy/arbengine/internal/store/postgres"
)

// Dependencies bundles every component the run modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	AnalysisStore  domain.AnalysisStore
	OperationStore domain.OperationStore
	BalanceStore   domain.BalanceStore
	AuditStore     domain.AuditStore
	QuoteStore     domain.QuoteStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Exchanges
	Market    *exchange.Registry
	Venues    *exchange.Registry
	Optimizer *netfee.Optimizer

	// Engine
	Ledger  *ledger.Ledger
	Machine *operation.Machine
	Scanner *scanner.Scanner
	Poller  *feed.QuotePoller

	// Cold storage, archive mode only
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
	Alerter  *notify.Alerter
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Durable stores ---
	switch cfg.Store {
	case "postgres":
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
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.AnalysisStore = postgres.NewAnalysisStore(pool)
		deps.OperationStore = postgres.NewOperationStore(pool)
		deps.BalanceStore = postgres.NewBalanceStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	default:
		deps.AnalysisStore = memory.NewAnalysisStore()
		deps.OperationStore = memory.NewOperationStore()
		deps.BalanceStore = memory.NewBalanceStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Quotes, locks and events ---
	deps.QuoteStore = memory.NewQuoteStore()
	deps.LockManager = memory.NewLockManager()
	if cfg.UsesRedis() {
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		if cfg.QuoteStore == "redis" {
			deps.QuoteStore = redis.NewQuoteStore(redisClient)
		}
		if cfg.Redis.Locks {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		if cfg.Redis.Events {
			deps.SignalBus = redis.NewSignalBus(redisClient)
		}
	}

	// --- S3 archive (archive mode only) ---
	if cfg.Mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.OperationStore,
			deps.AnalysisStore,
			deps.AuditStore,
		)
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
	deps.Alerter = notify.NewAlerter(deps.Notifier, notify.AlertConfig{
		MinSpreadPercent: cfg.Notify.MinSpreadPercent,
		Cooldown:         cfg.Notify.Cooldown.Duration,
	}, logger)

	// --- Exchanges and transfer routing ---
	v := buildVenues(cfg, deps.QuoteStore, logger)
	deps.Market = v.market
	deps.Venues = v.exec
	deps.Optimizer = netfee.New(v.exec, cfg.Scanner.NetworkAliases, logger)

	// --- Ledger and operations ---
	deps.Ledger = ledger.New(deps.BalanceStore, deps.AuditStore, logger)

	observers := []operation.Observer{deps.Alerter}
	publishers := []scanner.Publisher{deps.Alerter}
	if deps.SignalBus != nil {
		pub := event.NewPublisher(deps.SignalBus, logger)
		observers = append(observers, pub)
		publishers = append(publishers, pub)
	}

	mode := domain.Mode(cfg.Operation.Mode)
	var executor operation.LegExecutor
	switch mode {
	case domain.ModeSandbox:
		executor = operation.NewSandboxExecutor(v.exec, deps.Optimizer, addressBook(cfg), logger)
	case domain.ModeReal:
		executor = operation.NewLiveExecutor(v.exec, deps.Optimizer, addressBook(cfg), cfg.Operation.AllowLive, logger)
	default:
		executor = operation.NewLocalExecutor(v.exec, deps.Optimizer, logger)
	}
	deps.Machine = operation.NewMachine(operation.Deps{
		Operations: deps.OperationStore,
		Ledger:     deps.Ledger,
		Executors:  map[domain.Mode]operation.LegExecutor{mode: executor},
		Observers:  observers,
		Audit:      deps.AuditStore,
	}, operation.Config{LegTimeout: cfg.Operation.LegTimeout.Duration}, logger)

	// --- Scanner and quote feed ---
	deps.Scanner = scanner.New(scanner.Deps{
		Quotes:     deps.QuoteStore,
		Analyses:   deps.AnalysisStore,
		Fees:       v.exec,
		Routes:     deps.Optimizer,
		Locks:      deps.LockManager,
		Publishers: publishers,
	}, scanner.Config{
		QuoteMaxAge: cfg.Scanner.QuoteMaxAge.Duration,
		Concurrency: cfg.Scanner.Concurrency,
		LockTTL:     cfg.Scanner.LockTTL.Duration,
	}, logger)
	deps.Poller = feed.NewQuotePoller(v.market, deps.QuoteStore, feed.PollerConfig{
		Interval:    cfg.Scanner.PollInterval.Duration,
		Concurrency: cfg.Scanner.Concurrency,
		Symbols:     cfg.Scanner.Symbols,
		Live:        v.live,
		Static:      v.static,
	}, logger)

	return deps, cleanup, nil
}

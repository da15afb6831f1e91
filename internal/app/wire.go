package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	s3blob "github.com/solsticefi/bonddepot/internal/blob/s3"
	"github.com/solsticefi/bonddepot/internal/cache/redis"
	"github.com/solsticefi/bonddepot/internal/config"
	"github.com/solsticefi/bonddepot/internal/crypto"
	"github.com/solsticefi/bonddepot/internal/depository"
	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/notify"
	"github.com/solsticefi/bonddepot/internal/service"
	"github.com/solsticefi/bonddepot/internal/store/postgres"
	"github.com/solsticefi/bonddepot/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Engine and orchestration
	Engine  *depository.Depository
	Service *service.DepositoryService
	Admin   common.Address
	APIKey  string

	// Stores
	MarketStore domain.MarketStore
	NoteStore   domain.NoteStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter
	Archiver    domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that journal to the database.
func needsPostgres(mode string) bool {
	switch mode {
	case "server", "monitor", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that run the cold-storage archive sweep.
func needsS3(mode string) bool {
	switch mode {
	case "monitor", "full":
		return true
	default:
		return false
	}
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

	// --- In-process token ledger and depository engine ---
	engine, admin, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = engine
	deps.Admin = admin

	// --- Admin API key (raw value or encrypted key file) ---
	if cfg.Server.APIKey != "" || cfg.Depository.AdminKeyPath != "" {
		key, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Server.APIKey,
			EncryptedPath: cfg.Depository.AdminKeyPath,
			Password:      cfg.Depository.AdminKeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: admin api key: %w", err)
		}
		deps.APIKey = key
	}

	// --- PostgreSQL journal (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
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
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.NoteStore = postgres.NewNoteStore(pool)
	}

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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that run the archive sweep) ---
	if needsS3(cfg.Mode) && cfg.Archive.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader

		// The archive sweep needs the journal stores to list and prune.
		if marketStore, ok := deps.MarketStore.(*postgres.MarketStore); ok {
			if noteStore, ok := deps.NoteStore.(*postgres.NoteStore); ok {
				deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, marketStore, noteStore)
			}
		}
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

	// --- Orchestration service ---
	deps.Service = service.NewDepositoryService(
		deps.Engine,
		deps.MarketStore,
		deps.NoteStore,
		deps.PriceCache,
		deps.SignalBus,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}

// buildEngine constructs the in-process token ledger from the configured
// tokens and creates the depository engine on top of it.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*depository.Depository, common.Address, error) {
	registry := token.NewRegistry()

	var base domain.TokenAsset
	for _, tc := range cfg.Tokens {
		if !common.IsHexAddress(tc.Address) {
			return nil, common.Address{}, fmt.Errorf("token %q: invalid address %q", tc.Symbol, tc.Address)
		}
		addr := common.HexToAddress(tc.Address)

		supply := uint256.NewInt(0)
		if tc.Supply != "" {
			parsed, err := uint256.FromDecimal(tc.Supply)
			if err != nil {
				return nil, common.Address{}, fmt.Errorf("token %q: invalid supply: %w", tc.Symbol, err)
			}
			supply = parsed
		}

		reserve := common.Address{}
		if tc.Reserve != "" {
			if !common.IsHexAddress(tc.Reserve) {
				return nil, common.Address{}, fmt.Errorf("token %q: invalid reserve address", tc.Symbol)
			}
			reserve = common.HexToAddress(tc.Reserve)
		}

		tok := token.New(addr, tc.Symbol, uint8(tc.Decimals), supply, reserve)
		registry.Register(tok)

		if common.HexToAddress(cfg.Depository.BaseToken) == addr {
			base = tok
		}
	}
	if base == nil {
		return nil, common.Address{}, fmt.Errorf("base token %q not declared", cfg.Depository.BaseToken)
	}

	admin := common.HexToAddress(cfg.Depository.Administrator)
	feeRecipient := common.Address{}
	if cfg.Depository.FeeRecipient != "" {
		feeRecipient = common.HexToAddress(cfg.Depository.FeeRecipient)
	}

	engine, err := depository.New(ctx, depository.Config{
		BaseToken:    base,
		Tokens:       registry,
		Treasury:     common.HexToAddress(cfg.Depository.Treasury),
		FeeRecipient: feeRecipient,
		FeeBps:       uint64(cfg.Depository.FeeBps),
		Admin:        domain.SingleAdministrator(admin),
		Logger:       logger,
	})
	if err != nil {
		return nil, common.Address{}, err
	}

	return engine, admin, nil
}

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
)

// runtimeDependencies: хранилища витрины, выбранные по конфигурации.
type runtimeDependencies struct {
	catalog         domain.ProductCatalog
	ledger          domain.StockLedger
	orderStore      domain.OrderStore
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	// seedCatalog загружает товары в каталог; сигнатура Upsert у драйверов разная.
	seedCatalog func(ctx context.Context, products []domain.Product) error

	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker
	closeFn            func() error
}

// initRuntimeDependencies поднимает хранилище и, если задан Redis, отдельный store ключей идемпотентности.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps = memoryDependencies()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		deps, err = postgresDependencies(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr == "" {
		return deps, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	repo := redisstore.NewIdempotencyRepository(client)
	if err := repo.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, errors.Join(fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err), deps.close())
	}

	deps.idempotencyRepo = repo
	deps.idempotencyChecker = healthcheck.NewPingChecker("redis", repo.Ping)
	storageClose := deps.closeFn
	deps.closeFn = func() error {
		var closeErr error
		if storageClose != nil {
			closeErr = storageClose()
		}
		return errors.Join(closeErr, client.Close())
	}
	logger.WithField("addr", cfg.RedisAddr).Info("idempotency keys stored in redis")

	return deps, nil
}

func memoryDependencies() *runtimeDependencies {
	catalog := memory.NewCatalog()
	return &runtimeDependencies{
		catalog:         catalog,
		ledger:          catalog,
		orderStore:      memory.NewOrderStore(catalog),
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		seedCatalog: func(_ context.Context, products []domain.Product) error {
			for _, product := range products {
				if err := catalog.Upsert(product); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func postgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("%s is required for %s storage driver", envPostgresDSN, StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	}
	logger.Info("using postgres storage")

	catalog := postgres.NewCatalog(store)
	return &runtimeDependencies{
		catalog:         catalog,
		ledger:          catalog,
		orderStore:      postgres.NewOrderStore(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		seedCatalog: func(ctx context.Context, products []domain.Product) error {
			// Остатки в базе переживают рестарт: демо-товары загружаются только в пустой каталог.
			existing, err := catalog.Products(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return nil
			}
			for _, product := range products {
				if err := catalog.Upsert(ctx, product); err != nil {
					return err
				}
			}
			return nil
		},
		storageChecker: healthcheck.NewPingChecker("postgres", store.Ping),
		closeFn:        store.Close,
	}, nil
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

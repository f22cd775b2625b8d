package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/circuit"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/demo"
)

// services: прикладной слой витрины поверх хранилищ.
type services struct {
	storefront *grpcsvc.StorefrontService
	checkout   *checkout.Orchestrator
	orders     *orders.Manager
	breakers   []*circuit.Breaker
}

// buildServices оборачивает склад и хранилище заказов breaker'ами и собирает оформление,
// жизненный цикл заказов и gRPC-сервис.
func buildServices(cfg Config, deps *runtimeDependencies, registerer prometheus.Registerer, logger *log.Entry) *services {
	resilience := metrics.NewResilienceMetrics(registerer)
	breakerCfg := circuit.DefaultConfig()
	if cfg.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = uint32(cfg.BreakerMaxFailures)
	}
	if cfg.BreakerOpenTimeout > 0 {
		breakerCfg.OpenTimeout = cfg.BreakerOpenTimeout
	}

	ledgerBreaker := circuit.NewBreaker(circuit.BackendStockLedger, breakerCfg,
		circuit.WithLogger(logger.WithField("backend", circuit.BackendStockLedger)),
		circuit.WithMetrics(resilience),
	)
	storeBreaker := circuit.NewBreaker(circuit.BackendOrderStore, breakerCfg,
		circuit.WithLogger(logger.WithField("backend", circuit.BackendOrderStore)),
		circuit.WithMetrics(resilience),
	)
	ledger := circuit.NewStockLedger(deps.ledger, ledgerBreaker)
	store := circuit.NewOrderStore(deps.orderStore, storeBreaker)

	checkoutMetrics := metrics.NewCheckoutMetricsWithRegisterer(registerer)
	orchestrator := checkout.NewOrchestrator(ledger, store,
		checkout.WithLogger(logger.WithField("layer", "checkout")),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithOutbox(deps.outboxRepo),
		checkout.WithTimeline(deps.timelineRepo),
	)
	manager := orders.NewManager(store, orders.WithLogger(logger.WithField("layer", "orders")))

	storefront := grpcsvc.NewStorefrontService(deps.catalog, orchestrator, manager,
		grpcsvc.WithLogger(logger.WithField("layer", "grpc")),
		grpcsvc.WithTimeline(deps.timelineRepo),
		grpcsvc.WithOutbox(deps.outboxRepo),
		grpcsvc.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		grpcsvc.WithMetrics(checkoutMetrics),
	)

	return &services{
		storefront: storefront,
		checkout:   orchestrator,
		orders:     manager,
		breakers:   []*circuit.Breaker{ledgerBreaker, storeBreaker},
	}
}

// registerCheckers добавляет в health-обработчик хранилища и состояние breaker'ов.
func registerCheckers(handler *healthcheck.Handler, deps *runtimeDependencies, svc *services) {
	if deps.storageChecker != nil {
		handler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.idempotencyChecker != nil {
		handler.RegisterChecker("idempotency", deps.idempotencyChecker)
	}
	for _, breaker := range svc.breakers {
		breaker := breaker
		handler.RegisterChecker("breaker_"+breaker.Name(), healthcheck.NewStateChecker(breaker.Name(), func() (bool, string) {
			if breaker.Open() {
				return true, fmt.Sprintf("circuit %s", breaker.State())
			}
			return false, ""
		}))
	}
}

// seedDemoCatalog наполняет каталог демонстрационными товарами.
func seedDemoCatalog(ctx context.Context, deps *runtimeDependencies, logger *log.Entry) error {
	products := demo.Products()
	if err := deps.seedCatalog(ctx, products); err != nil {
		return fmt.Errorf("seed demo catalog: %w", err)
	}
	logger.WithField("products", len(products)).Info("demo catalog seeded")
	return nil
}

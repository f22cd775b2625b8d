package app

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/demo"
)

type downLedger struct{}

func (downLedger) CheckAvailability(context.Context, []domain.ItemRequest) (domain.AvailabilityResult, error) {
	return domain.AvailabilityResult{}, errors.New("connection refused")
}

func (downLedger) DeductBatch(context.Context, []domain.ItemRequest) (domain.DeductionResult, error) {
	return domain.DeductionResult{}, errors.New("connection refused")
}

func seededServices(t *testing.T, cfg Config) (*runtimeDependencies, *services, *prometheus.Registry) {
	t.Helper()

	logger := log.WithField("test", t.Name())
	deps := memoryDependencies()
	if err := seedDemoCatalog(context.Background(), deps, logger); err != nil {
		t.Fatalf("seed: %v", err)
	}
	registry := prometheus.NewRegistry()
	return deps, buildServices(cfg, deps, registry, logger), registry
}

func demoCart(t *testing.T) (*cart.Cart, domain.Product) {
	t.Helper()

	product := demo.Products()[0]
	c := cart.New()
	if err := c.AddItem(product, 2); err != nil {
		t.Fatalf("add item: %v", err)
	}
	return c, product
}

var testCustomer = domain.CustomerInfo{Name: "Ivan", Phone: "+79990001122", Address: "Lenina 1"}

func TestBuildServices_CheckoutDeductsStock(t *testing.T) {
	deps, svc, registry := seededServices(t, DefaultConfig())
	c, product := demoCart(t)

	receipt, err := svc.checkout.Checkout(context.Background(), c, testCustomer)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if receipt.OrderID == "" || receipt.TotalMinor != 2*product.PriceMinor {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	got, err := deps.catalog.Product(context.Background(), product.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stock != product.Stock-2 {
		t.Errorf("expected stock %d, got %d", product.Stock-2, got.Stock)
	}

	if err := svc.orders.LoadOrders(context.Background()); err != nil {
		t.Fatalf("load orders: %v", err)
	}
	if orders := svc.orders.Orders(); len(orders) != 1 || orders[0].ID != receipt.OrderID {
		t.Fatalf("expected placed order in manager, got %+v", orders)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{"storefront_checkout_completed_total", "storefront_circuit_breaker_state"} {
		if !names[want] {
			t.Errorf("metric %s is not registered", want)
		}
	}
}

func TestRegisterCheckers_OpenBreakerDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerMaxFailures = 1

	deps := memoryDependencies()
	deps.ledger = downLedger{}
	svc := buildServices(cfg, deps, prometheus.NewRegistry(), log.WithField("test", "breaker"))

	handler := healthcheck.NewHandler("test")
	registerCheckers(handler, deps, svc)

	if got := handler.Evaluate(context.Background()); got.Status != healthcheck.StatusHealthy || len(got.Checks) != 2 {
		t.Fatalf("expected two healthy breaker checks, got %+v", got)
	}

	c, _ := demoCart(t)
	if _, err := svc.checkout.Checkout(context.Background(), c, testCustomer); err == nil {
		t.Fatal("expected checkout to fail on unavailable ledger")
	}

	_, err := svc.checkout.Checkout(context.Background(), c, testCustomer)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected open breaker to reject with ErrBackendUnavailable, got %v", err)
	}

	got := handler.Evaluate(context.Background())
	if got.Status != healthcheck.StatusDegraded {
		t.Fatalf("expected degraded status with open breaker, got %+v", got)
	}
	if check := got.Checks["breaker_stock_ledger"]; check.Status != healthcheck.StatusDegraded {
		t.Errorf("expected stock ledger breaker degraded, got %+v", check)
	}
	if check := got.Checks["breaker_order_store"]; check.Status != healthcheck.StatusHealthy {
		t.Errorf("order store breaker should stay closed, got %+v", check)
	}
}

package circuit

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// StockLedger пропускает вызовы склада через breaker.
type StockLedger struct {
	next    domain.StockLedger
	breaker *Breaker
}

// NewStockLedger оборачивает склад breaker'ом.
func NewStockLedger(next domain.StockLedger, breaker *Breaker) *StockLedger {
	return &StockLedger{next: next, breaker: breaker}
}

func (s *StockLedger) CheckAvailability(ctx context.Context, items []domain.ItemRequest) (domain.AvailabilityResult, error) {
	return execute(s.breaker, func() (domain.AvailabilityResult, error) {
		return s.next.CheckAvailability(ctx, items)
	})
}

func (s *StockLedger) DeductBatch(ctx context.Context, items []domain.ItemRequest) (domain.DeductionResult, error) {
	return execute(s.breaker, func() (domain.DeductionResult, error) {
		return s.next.DeductBatch(ctx, items)
	})
}

// OrderStore пропускает вызовы хранилища заказов через breaker.
type OrderStore struct {
	next    domain.OrderStore
	breaker *Breaker
}

// NewOrderStore оборачивает хранилище заказов breaker'ом.
func NewOrderStore(next domain.OrderStore, breaker *Breaker) *OrderStore {
	return &OrderStore{next: next, breaker: breaker}
}

func (s *OrderStore) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResult, error) {
	return execute(s.breaker, func() (domain.CreateOrderResult, error) {
		return s.next.Create(ctx, req)
	})
}

func (s *OrderStore) List(ctx context.Context) (domain.ListOrdersResult, error) {
	return execute(s.breaker, func() (domain.ListOrdersResult, error) {
		return s.next.List(ctx)
	})
}

func (s *OrderStore) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.UpdateStatusResult, error) {
	return execute(s.breaker, func() (domain.UpdateStatusResult, error) {
		return s.next.UpdateStatus(ctx, orderID, status)
	})
}

var (
	_ domain.StockLedger = (*StockLedger)(nil)
	_ domain.OrderStore  = (*OrderStore)(nil)
)

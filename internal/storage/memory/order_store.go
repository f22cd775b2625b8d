package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRecord struct {
	order domain.Order
	seq   int64
}

// OrderStore — in-memory хранилище заказов для локальной разработки и тестов.
// Название и цена позиции берутся из каталога в момент создания заказа.
type OrderStore struct {
	catalog domain.ProductCatalog
	now     func() time.Time

	mu     sync.RWMutex
	orders map[string]orderRecord
	seq    int64
}

// NewOrderStore создаёт хранилище заказов поверх каталога.
func NewOrderStore(catalog domain.ProductCatalog) *OrderStore {
	return &OrderStore{
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		orders:  make(map[string]orderRecord),
	}
}

// Create сохраняет заказ со статусом pending и оплатой при получении.
func (s *OrderStore) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResult, error) {
	customer := req.Customer.Normalize()
	if errs := customer.Validate(); len(errs) > 0 {
		return rejectCreate(errors.Join(errs...), domain.CodeInvalidCustomer), nil
	}
	if len(req.Items) == 0 {
		return rejectCreate(domain.ErrItemsRequired, domain.CodeInvalidQuantity), nil
	}

	requests := domain.MergeRequests(req.Items)
	items := make([]domain.OrderItem, 0, len(requests))
	var total int64
	for _, item := range requests {
		if err := item.Validate(); err != nil {
			return rejectCreate(err, domain.CodeInvalidQuantity), nil
		}
		product, err := s.catalog.Product(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return rejectCreate(err, domain.CodeProductNotFound), nil
		}
		if err != nil {
			return domain.CreateOrderResult{}, err
		}

		subtotal := product.PriceMinor * int64(item.Quantity)
		items = append(items, domain.OrderItem{
			ID:                uuid.NewString(),
			ProductID:         product.ID,
			ProductName:       product.Name,
			ProductPriceMinor: product.PriceMinor,
			ProductImage:      product.Image,
			Quantity:          item.Quantity,
			SubtotalMinor:     subtotal,
		})
		total += subtotal
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	order := domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     domain.FormatOrderNumber(now, s.seq),
		CustomerName:    customer.Name,
		CustomerPhone:   customer.Phone,
		CustomerAddress: customer.Address,
		TotalMinor:      total,
		Status:          domain.OrderStatusPending,
		PaymentMethod:   domain.PaymentMethodCOD,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           items,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return rejectCreate(errors.Join(errs...), domain.CodeStoreError), nil
	}

	s.orders[order.ID] = orderRecord{order: order, seq: s.seq}
	return domain.CreateOrderResult{
		Success:     true,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalMinor:  order.TotalMinor,
	}, nil
}

// List возвращает заказы от новых к старым.
func (s *OrderStore) List(_ context.Context) (domain.ListOrdersResult, error) {
	s.mu.RLock()
	records := make([]orderRecord, 0, len(s.orders))
	for _, rec := range s.orders {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].order.CreatedAt.Equal(records[j].order.CreatedAt) {
			return records[i].order.CreatedAt.After(records[j].order.CreatedAt)
		}
		return records[i].seq > records[j].seq
	})

	orders := make([]domain.Order, 0, len(records))
	for _, rec := range records {
		orders = append(orders, rec.order.Clone())
	}
	return domain.ListOrdersResult{Success: true, Orders: orders}, nil
}

// Get возвращает заказ по идентификатору.
func (s *OrderStore) Get(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return rec.order.Clone(), nil
}

// UpdateStatus переводит заказ на один шаг вперёд.
func (s *OrderStore) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus) (domain.UpdateStatusResult, error) {
	orderID = strings.TrimSpace(orderID)
	if !status.Valid() {
		return rejectUpdate(orderID, domain.ErrStatusInvalid, domain.CodeInvalidStatusTransition), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[orderID]
	if !ok {
		return rejectUpdate(orderID, domain.ErrOrderNotFound, domain.CodeOrderNotFound), nil
	}
	if !rec.order.Status.CanTransitionTo(status) {
		return rejectUpdate(orderID, domain.ErrStatusTransition, domain.CodeInvalidStatusTransition), nil
	}

	rec.order.Status = status
	rec.order.UpdatedAt = s.now()
	s.orders[orderID] = rec

	return domain.UpdateStatusResult{
		Success:     true,
		OrderID:     rec.order.ID,
		OrderNumber: rec.order.OrderNumber,
		Status:      rec.order.Status,
		UpdatedAt:   rec.order.UpdatedAt,
	}, nil
}

func rejectCreate(err error, code string) domain.CreateOrderResult {
	return domain.CreateOrderResult{Success: false, Error: err.Error(), Code: code}
}

func rejectUpdate(orderID string, err error, code string) domain.UpdateStatusResult {
	return domain.UpdateStatusResult{Success: false, OrderID: orderID, Error: err.Error(), Code: code}
}

var _ domain.OrderStore = (*OrderStore)(nil)

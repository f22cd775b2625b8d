// Package grpcsvc отдаёт оформление заказа и управление заказами витрины по gRPC.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const defaultIdempotencyTTL = 24 * time.Hour

// StorefrontService реализует StorefrontServer поверх оркестратора оформления
// и менеджера заказов.
type StorefrontService struct {
	catalog  domain.ProductCatalog
	checkout *checkout.Orchestrator
	orders   *orders.Manager
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	idemRepo domain.IdempotencyRepository
	idemTTL  time.Duration
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает StorefrontService.
type Option func(*StorefrontService)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *StorefrontService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeline включает запись смены статусов в timeline и GetOrderTimeline.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *StorefrontService) {
		s.timeline = timeline
	}
}

// WithOutbox включает событие OrderStatusChanged в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *StorefrontService) {
		s.outbox = outbox
	}
}

// WithIdempotency делает PlaceOrder идемпотентным по metadata idempotency-key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *StorefrontService) {
		s.idemRepo = repo
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

// WithMetrics учитывает события timeline и outbox, записанные сервисом.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *StorefrontService) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *StorefrontService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStorefrontService конструирует сервис с зависимостями.
func NewStorefrontService(
	catalog domain.ProductCatalog,
	orchestrator *checkout.Orchestrator,
	manager *orders.Manager,
	opts ...Option,
) *StorefrontService {
	s := &StorefrontService{
		catalog:  catalog,
		checkout: orchestrator,
		orders:   manager,
		idemTTL:  defaultIdempotencyTTL,
		logger:   log.New().WithField("component", "storefront-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder собирает корзину из запроса и оформляет заказ.
func (s *StorefrontService) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return s.withIdempotency(ctx, MethodPlaceOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		return s.placeOrderInternal(ctx, req)
	})
}

func (s *StorefrontService) placeOrderInternal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	parsed, err := decodePlaceOrderRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	c, err := s.buildCart(ctx, parsed.Items)
	if err != nil {
		return nil, err
	}

	receipt, err := s.checkout.Checkout(ctx, c, parsed.Customer)
	if err != nil {
		return nil, checkoutStatus(err)
	}

	return encodePlacedOrder(PlacedOrder{
		OrderID:     receipt.OrderID,
		OrderNumber: receipt.OrderNumber,
		TotalMinor:  receipt.TotalMinor,
	}), nil
}

// buildCart кладёт позиции в корзину в порядке запроса. Неизвестный товар попадает
// в корзину только по идентификатору: отказ по нему вернёт склад.
func (s *StorefrontService) buildCart(ctx context.Context, items []domain.ItemRequest) (*cart.Cart, error) {
	c := cart.New()
	for idx, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d].product_id is required", idx)
		}

		product, err := s.catalog.Product(ctx, productID)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			product = domain.Product{ID: productID}
		case err != nil:
			s.logger.WithError(err).WithField("product_id", productID).Warn("failed to load product")
			return nil, backendStatus(err, "failed to load product")
		}

		if err := c.AddItem(product, item.Quantity); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d]: %v", idx, err)
		}
	}
	return c, nil
}

// ListOrders перечитывает список заказов, новые первыми.
func (s *StorefrontService) ListOrders(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.orders.LoadOrders(ctx); err != nil {
		return nil, backendStatus(err, "failed to list orders")
	}
	return encodeOrders(s.orders.Orders()), nil
}

// UpdateOrderStatus двигает заказ на следующий статус и пишет событие в timeline и outbox.
func (s *StorefrontService) UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := strings.TrimSpace(stringField(req, fieldOrderID))
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	newStatus, err := domain.ParseOrderStatus(stringField(req, fieldStatus))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.orders.UpdateOrderStatus(ctx, orderID, newStatus)
	if err != nil {
		var updateErr *orders.UpdateError
		if errors.As(err, &updateErr) {
			return nil, status.Error(rejectionCode(updateErr.Code), updateErr.Message)
		}
		return nil, backendStatus(err, "failed to update order status")
	}

	if result.OrderID == "" {
		result.OrderID = orderID
	}
	if result.Status == "" {
		result.Status = newStatus
	}
	if result.UpdatedAt.IsZero() {
		result.UpdatedAt = s.now()
	}
	s.recordStatusChange(result)

	return encodeStatusResult(result), nil
}

// GetOrderTimeline возвращает события заказа в хронологическом порядке.
func (s *StorefrontService) GetOrderTimeline(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := strings.TrimSpace(stringField(req, fieldOrderID))
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if s.timeline == nil {
		return encodeTimeline(nil), nil
	}

	events, err := s.timeline.List(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil, status.Error(codes.Internal, "failed to list timeline events")
	}
	return encodeTimeline(events), nil
}

func (s *StorefrontService) recordStatusChange(result domain.UpdateStatusResult) {
	logger := s.logger.WithFields(log.Fields{
		"order_id": result.OrderID,
		"status":   result.Status,
	})

	if s.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  result.OrderID,
			Type:     domain.TimelineOrderStatusChanged,
			Reason:   string(result.Status),
			Occurred: result.UpdatedAt,
		}
		if err := s.timeline.Append(event); err != nil {
			logger.WithError(err).Warn("failed to append status timeline")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"order_id":     result.OrderID,
		"order_number": result.OrderNumber,
		"status":       result.Status,
		"ts":           result.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.WithError(err).Error("marshal status event failed")
		return
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   result.OrderID,
		EventType:     domain.EventOrderStatusChanged,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).Error("enqueue status event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}
